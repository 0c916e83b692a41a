// Package pipeline drives each configured mod through fetch, download,
// package and upload, one mod at a time, and records what happened.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"time"

	"vortex-thunder/internal/database"
	"vortex-thunder/internal/helpers"
	"vortex-thunder/internal/models"
	"vortex-thunder/internal/modstore"
	"vortex-thunder/internal/packager"
	"vortex-thunder/internal/paths"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Source is the mod host the pipeline pulls from.
type Source interface {
	GetModInfo(ctx context.Context, modID int) (models.ModInfo, error)
	GetLatestFile(ctx context.Context, modID int) (*models.FileInfo, error)
	ResolveDownloadURLs(ctx context.Context, modID, fileID int) ([]string, error)
	ModURL(modID int) string
}

// Fetcher downloads the first working candidate URL.
type Fetcher interface {
	DownloadFirst(ctx context.Context, candidates iter.Seq[string], destPath string) (string, error)
}

// Builder assembles a package from a downloaded archive.
type Builder interface {
	Build(in packager.Input) (packager.Result, error)
}

// Publisher uploads a finished package.
type Publisher interface {
	Upload(ctx context.Context, archivePath, team string, categories []string) (models.UploadResponse, error)
}

// DocumentStore persists the mods document.
type DocumentStore interface {
	Save(doc *models.ModsDocument) error
}

// History receives one record per mod per run. Optional.
type History interface {
	Record(ctx context.Context, r database.RunRecord) error
}

// Catalog receives every fetched ModInfo. Optional.
type Catalog interface {
	Upsert(info models.ModInfo) error
}

// Options narrow or change a run.
type Options struct {
	// ModIDs restricts the run to these mods when non-empty.
	ModIDs        []int
	Force         bool
	DryRun        bool
	KeepDownloads bool
}

// Pipeline holds the collaborators of a run. Source, Fetcher, Builder and
// Store are required; Publisher is required for Run and Upload.
type Pipeline struct {
	Source    Source
	Fetcher   Fetcher
	Builder   Builder
	Publisher Publisher
	Store     DocumentStore
	History   History
	Catalog   Catalog

	DownloadDir string
	// DownloadPattern lays out DownloadDir; see paths.GeneratePath.
	DownloadPattern string
	PackagesDir     string
	// DefaultTeam is used when the mods document names no team.
	DefaultTeam string
	// DefaultCategory is used for entries without categories.
	DefaultCategory string

	Options Options
	Now     func() time.Time
}

type mode int

const (
	modeRun mode = iota
	modeDownload
)

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run downloads, packages and uploads every selected mod.
func (p *Pipeline) Run(ctx context.Context, doc *models.ModsDocument) *Report {
	return p.process(ctx, doc, modeRun)
}

// Download fetches and packages every selected mod without uploading. The
// processed version is still recorded so a later Upload can find the zip.
func (p *Pipeline) Download(ctx context.Context, doc *models.ModsDocument) *Report {
	return p.process(ctx, doc, modeDownload)
}

func (p *Pipeline) process(ctx context.Context, doc *models.ModsDocument, m mode) *Report {
	report := NewReport(p.now())
	log.WithField("run", report.RunID).Infof("Processing %d configured mods", len(doc.Mods))

	for i := range doc.Mods {
		entry := doc.Mods[i]
		if !p.selected(entry.ModID) {
			continue
		}
		if ctx.Err() != nil {
			report.Add(ModStatus{ModID: entry.ModID, Name: entry.Name, State: models.StateSkipped, Note: "run cancelled"})
			continue
		}

		status := p.processMod(ctx, doc, entry, m)
		report.Add(status)
		p.record(ctx, report.RunID, status)
	}

	if !p.Options.DryRun {
		if err := p.Store.Save(doc); err != nil {
			log.WithError(err).Error("Failed to save mods document at end of run")
		}
	}
	report.Finished = p.now()
	return report
}

func (p *Pipeline) processMod(ctx context.Context, doc *models.ModsDocument, entry models.ModEntry, m mode) ModStatus {
	logger := log.WithFields(log.Fields{"mod": entry.ModID, "name": entry.Name})
	status := ModStatus{ModID: entry.ModID, Name: entry.Name, PreviousVersion: entry.ProcessedVersion(), State: models.StateFetching}

	fail := func(state models.ModState, err error) ModStatus {
		status.State = state
		status.Err = err
		logger.WithError(err).Errorf("%s", state)
		return status
	}

	logger.Info("Fetching mod info")
	info, err := p.Source.GetModInfo(ctx, entry.ModID)
	if err != nil {
		return fail(models.StateFetchFailed, err)
	}
	status.Version = info.Version
	if info.Name != "" {
		status.Name = info.Name
	}
	if p.Catalog != nil {
		if err := p.Catalog.Upsert(info); err != nil {
			logger.WithError(err).Warn("Failed to update search index")
		}
	}

	if !p.Options.Force && entry.HasProcessedVersion() && entry.ProcessedVersion() == info.Version {
		logger.Infof("Already at version %s", info.Version)
		status.State = models.StateUpToDate
		return status
	}

	file, err := p.Source.GetLatestFile(ctx, entry.ModID)
	if err != nil {
		return fail(models.StateFetchFailed, err)
	}
	if file == nil {
		logger.Warn("No files to download")
		status.State = models.StateNoFiles
		return status
	}

	status.State = models.StateDownloading
	rel, err := paths.GeneratePath(p.DownloadPattern, paths.DownloadData(info, *file))
	if err != nil {
		return fail(models.StateDownloadFailed, err)
	}
	modDir := filepath.Join(p.DownloadDir, rel)
	if !p.Options.KeepDownloads {
		defer func() {
			if err := os.RemoveAll(modDir); err != nil {
				logger.WithError(err).Warnf("Failed to remove download dir %s", modDir)
			}
		}()
	}
	urls, err := p.Source.ResolveDownloadURLs(ctx, entry.ModID, file.FileID)
	if err != nil {
		return fail(models.StateDownloadFailed, err)
	}
	archivePath, err := p.Fetcher.DownloadFirst(ctx, slices.Values(urls), filepath.Join(modDir, downloadName(*file)))
	if err != nil {
		return fail(models.StateDownloadFailed, err)
	}
	logger.Infof("Downloaded %s", archivePath)

	status.State = models.StatePackaging
	res, err := p.Builder.Build(packager.Input{
		Entry:          entry,
		All:            doc.Mods,
		Info:           info,
		ArchivePath:    archivePath,
		WebsiteURL:     p.Source.ModURL(entry.ModID),
		FallbackAuthor: modstore.Team(doc, p.DefaultTeam),
	})
	if err != nil {
		var unresolved *packager.UnresolvedDependencyError
		if errors.As(err, &unresolved) {
			status.Pending = unresolved.Pending
		}
		return fail(models.StatePackagingFailed, err)
	}
	status.Pending = res.Pending
	status.Archive = res.ArchivePath
	if digest, err := helpers.FileBlake3(res.ArchivePath); err == nil {
		status.Digest = digest
	} else {
		logger.WithError(err).Warn("Could not hash package")
	}

	if p.Options.DryRun {
		status.State = models.StateSkipped
		status.Note = "dry run: not uploaded"
		logger.Infof("Dry run, leaving %s unpublished", res.ArchivePath)
		return status
	}

	if m == modeRun {
		status.State = models.StateUploading
		if _, err := p.Publisher.Upload(ctx, res.ArchivePath, modstore.Team(doc, p.DefaultTeam), p.categories(entry)); err != nil {
			return fail(models.StateUploadFailed, err)
		}
	}

	status.State = models.StateDone
	if err := modstore.SetProcessed(doc, entry.ModID, info.Version); err != nil {
		logger.WithError(err).Error("Could not record processed version")
	} else if err := p.Store.Save(doc); err != nil {
		logger.WithError(err).Error("Failed to save mods document")
	}
	logger.Infof("Processed version %s", info.Version)
	return status
}

// Upload publishes the already-built package of each selected entry's last
// processed version. Entries without a version or without a zip are skipped.
func (p *Pipeline) Upload(ctx context.Context, doc *models.ModsDocument) *Report {
	report := NewReport(p.now())
	team := modstore.Team(doc, p.DefaultTeam)

	for _, entry := range doc.Mods {
		if !p.selected(entry.ModID) {
			continue
		}
		status := ModStatus{ModID: entry.ModID, Name: entry.Name, Version: entry.ProcessedVersion(), PreviousVersion: entry.ProcessedVersion()}
		switch {
		case ctx.Err() != nil:
			status.State = models.StateSkipped
			status.Note = "run cancelled"
		case !entry.HasProcessedVersion():
			status.State = models.StateSkipped
			status.Note = "never processed"
			log.Warnf("Skipping upload for %s: no processed version", entry.Label())
		default:
			status = p.uploadExisting(ctx, entry, team, status)
		}
		report.Add(status)
		p.record(ctx, report.RunID, status)
	}
	report.Finished = p.now()
	return report
}

func (p *Pipeline) uploadExisting(ctx context.Context, entry models.ModEntry, team string, status ModStatus) ModStatus {
	archive := packager.ArchivePathFor(p.PackagesDir, packager.PackageSourceName(entry, models.ModInfo{}), entry.ProcessedVersion())
	if _, err := os.Stat(archive); err != nil {
		status.State = models.StateSkipped
		status.Note = "package zip not found"
		log.Warnf("Package file %s does not exist. Skipping upload.", archive)
		return status
	}
	status.Archive = archive

	if p.Options.DryRun {
		status.State = models.StateSkipped
		status.Note = "dry run: not uploaded"
		return status
	}

	status.State = models.StateUploading
	if _, err := p.Publisher.Upload(ctx, archive, team, p.categories(entry)); err != nil {
		status.State = models.StateUploadFailed
		status.Err = err
		log.WithError(err).Errorf("Upload failed for %s", entry.Label())
		return status
	}
	status.State = models.StateDone
	return status
}

func (p *Pipeline) selected(modID int) bool {
	return len(p.Options.ModIDs) == 0 || slices.Contains(p.Options.ModIDs, modID)
}

func (p *Pipeline) categories(entry models.ModEntry) []string {
	if len(entry.Categories) > 0 {
		return entry.Categories
	}
	if p.DefaultCategory != "" {
		return []string{p.DefaultCategory}
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, runID uuid.UUID, s ModStatus) {
	if p.History == nil {
		return
	}
	rec := database.RunRecord{
		RunID:     runID,
		ModID:     s.ModID,
		ModName:   s.Name,
		Version:   s.Version,
		State:     s.State,
		Digest:    s.Digest,
		Timestamp: p.now(),
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	// history must survive a cancelled run
	if err := p.History.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.WithError(err).Warn("Failed to record run history")
	}
}

// downloadName picks the local file name for a Nexus file.
func downloadName(f models.FileInfo) string {
	if name := helpers.SanitizePath(filepath.Base(f.FileName)); name != "." && name != "" {
		return name
	}
	slug := helpers.ConvertToSlug(f.Name)
	if slug == "" {
		slug = fmt.Sprintf("file_%d", f.FileID)
	}
	return slug
}
