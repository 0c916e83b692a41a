// Package packager turns a downloaded Nexus archive into a Thunderstore
// package: extracted mod tree plus manifest, README, changelog and icon,
// zipped next to the package directory.
package packager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vortex-thunder/internal/helpers"
	"vortex-thunder/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Packager builds packages under PackagesDir.
type Packager struct {
	Fs          afero.Fs
	PackagesDir string
	IconColor   string
	// AllowPending drops unresolved dependencies instead of failing the build.
	AllowPending bool
	Now          func() time.Time
}

// New returns a Packager on the OS filesystem.
func New(packagesDir string, cfg models.Config) *Packager {
	return &Packager{
		Fs:           afero.NewOsFs(),
		PackagesDir:  packagesDir,
		IconColor:    cfg.IconColor,
		AllowPending: cfg.AllowPendingDependencies,
		Now:          time.Now,
	}
}

// Input is everything Build needs for one mod.
type Input struct {
	Entry       models.ModEntry
	All         []models.ModEntry
	Info        models.ModInfo
	ArchivePath string
	WebsiteURL  string
	// FallbackAuthor namespaces dependencies whose entry names no author;
	// normally the team this tool uploads under.
	FallbackAuthor string
}

// Result describes a finished package.
type Result struct {
	Name        string
	Version     string
	Dir         string
	ArchivePath string
	Manifest    models.PackageManifest
	Pending     []PendingDependency
}

// PackageBaseName is the shared stem of a package's directory and zip.
func PackageBaseName(name, version string) string {
	return fmt.Sprintf("%s_%s", helpers.PackageName(name), version)
}

// PackageSourceName is the name a package is published under: the entry's
// name, or the fetched name for an entry that has none.
func PackageSourceName(entry models.ModEntry, info models.ModInfo) string {
	if entry.Name != "" {
		return entry.Name
	}
	return info.Name
}

// ArchivePathFor returns where the zip for name/version lives under packagesDir.
func ArchivePathFor(packagesDir, name, version string) string {
	return filepath.Join(packagesDir, PackageBaseName(name, version)+".zip")
}

// Build assembles and zips one package. On any error nothing new is left
// under PackagesDir. The package is named after the mods document entry, so
// ArchivePathFor and dependency identifiers agree with it.
func (p *Packager) Build(in Input) (Result, error) {
	name := PackageSourceName(in.Entry, in.Info)
	version := in.Info.Version
	if version == "" {
		return Result{}, errors.New("mod info carries no version")
	}
	pkgName := helpers.PackageName(name)
	logger := log.WithFields(log.Fields{"mod": in.Entry.ModID, "package": pkgName, "version": version})

	deps, pending := ResolveDependencies(in.Entry, in.All, in.FallbackAuthor)
	if len(pending) > 0 {
		if !p.AllowPending {
			return Result{}, &UnresolvedDependencyError{Mod: in.Entry.Label(), Pending: pending}
		}
		for _, pd := range pending {
			logger.Warnf("Dependency %s left out of manifest", pd)
		}
	}

	if err := p.Fs.MkdirAll(p.PackagesDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating packages dir: %w", err)
	}

	staging, err := afero.TempDir(p.Fs, p.PackagesDir, ".staging-"+pkgName+"-")
	if err != nil {
		return Result{}, fmt.Errorf("creating staging dir: %w", err)
	}
	keepStaging := false
	defer func() {
		if !keepStaging {
			if rmErr := p.Fs.RemoveAll(staging); rmErr != nil {
				logger.WithError(rmErr).Warnf("Failed to remove staging dir %s", staging)
			}
		}
	}()

	if err := Extract(p.Fs, in.ArchivePath, staging); err != nil {
		return Result{}, fmt.Errorf("extracting %s: %w", filepath.Base(in.ArchivePath), err)
	}
	logger.Infof("Extracted %s", in.ArchivePath)

	manifest := models.PackageManifest{
		Name:          pkgName,
		VersionNumber: version,
		WebsiteURL:    in.WebsiteURL,
		Description:   ManifestDescription(in.Info),
		Dependencies:  deps,
	}
	if err := p.writeAssets(staging, pkgName, version, manifest, in.Info); err != nil {
		return Result{}, err
	}

	base := PackageBaseName(name, version)
	finalDir := filepath.Join(p.PackagesDir, base)
	zipPath := filepath.Join(p.PackagesDir, base+".zip")

	if err := Archive(p.Fs, staging, zipPath); err != nil {
		return Result{}, err
	}

	if err := p.Fs.RemoveAll(finalDir); err != nil {
		_ = p.Fs.Remove(zipPath)
		return Result{}, fmt.Errorf("clearing old package dir %s: %w", finalDir, err)
	}
	if err := p.Fs.Rename(staging, finalDir); err != nil {
		_ = p.Fs.Remove(zipPath)
		return Result{}, fmt.Errorf("moving staging dir into %s: %w", finalDir, err)
	}
	keepStaging = true

	logger.Infof("Created package %s", zipPath)
	return Result{
		Name:        pkgName,
		Version:     version,
		Dir:         finalDir,
		ArchivePath: zipPath,
		Manifest:    manifest,
		Pending:     pending,
	}, nil
}

func (p *Packager) writeAssets(dir, pkgName, version string, manifest models.PackageManifest, info models.ModInfo) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	if err := WriteManifest(p.Fs, dir, manifest); err != nil {
		return err
	}
	if err := WriteReadme(p.Fs, dir, info); err != nil {
		return err
	}
	if err := WriteChangelog(p.Fs, dir, version, now()); err != nil {
		return err
	}

	if _, err := p.Fs.Stat(filepath.Join(dir, IconFile)); err == nil {
		log.Debugf("Keeping icon shipped with %s", pkgName)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking for icon: %w", err)
	}
	fill, err := IconColor(p.IconColor, pkgName)
	if err != nil {
		return err
	}
	return WriteIcon(p.Fs, dir, fill)
}
