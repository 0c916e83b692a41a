// Package modstore reads and writes the mods.json document that lists the
// mods to mirror and remembers the last version processed for each.
package modstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vortex-thunder/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	ErrModsFileNotFound = errors.New("mods file not found")
	ErrInvalidModsFile  = errors.New("mods file is not valid JSON")
	ErrMissingDomains   = errors.New("mods file is missing game domain configuration")
	ErrModNotFound      = errors.New("mod not configured")
)

// Store owns one mods document on disk.
type Store struct {
	Fs   afero.Fs
	Path string
}

// New returns a Store for path on the OS filesystem.
func New(path string) *Store {
	return &Store{Fs: afero.NewOsFs(), Path: path}
}

// Load reads and decodes the document.
func (s *Store) Load() (*models.ModsDocument, error) {
	data, err := afero.ReadFile(s.Fs, s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModsFileNotFound, s.Path)
		}
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}

	var doc models.ModsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidModsFile, s.Path, err)
	}
	log.Infof("Loaded %d mods from %s.", len(doc.Mods), s.Path)
	return &doc, nil
}

// Save writes the document with 4-space indentation through a temporary
// file in the same directory, so a crash never leaves a truncated file.
func (s *Store) Save(doc *models.ModsDocument) error {
	for i := range doc.Mods {
		normalize(&doc.Mods[i])
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding mods document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.Path)
	if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.Fs, dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary mods file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.Fs.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.Fs.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := s.Fs.Rename(tmpName, s.Path); err != nil {
		_ = s.Fs.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", s.Path, err)
	}
	log.Debugf("Saved mods document to %s.", s.Path)
	return nil
}

// normalize keeps list fields as JSON arrays rather than null.
func normalize(m *models.ModEntry) {
	if m.Dependencies == nil {
		m.Dependencies = models.StringOrStringSlice{}
	}
	if m.Categories == nil {
		m.Categories = models.StringOrStringSlice{}
	}
}

// ValidateDomains checks the fields every run needs before touching the network.
func ValidateDomains(doc *models.ModsDocument) error {
	var missing []string
	if doc.NexusGameDomain == "" {
		missing = append(missing, "nexus_game_domain")
	}
	if doc.ThunderstoreGameDomain == "" {
		missing = append(missing, "thunderstore_game_domain")
	}
	if doc.GameID == 0 {
		missing = append(missing, "game_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingDomains, missing)
	}
	return nil
}

// FindByID returns the index of the entry with modID, or -1.
func FindByID(doc *models.ModsDocument, modID int) int {
	for i, m := range doc.Mods {
		if m.ModID == modID {
			return i
		}
	}
	return -1
}

// SetProcessed records a finished version for modID. The entry's author is
// only ever set by hand; packages are published under the upload team.
func SetProcessed(doc *models.ModsDocument, modID int, version string) error {
	i := FindByID(doc, modID)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrModNotFound, modID)
	}
	doc.Mods[i].LastProcessedVersion = models.StringPtr(version)
	return nil
}

// Team returns the Thunderstore team uploads go to.
func Team(doc *models.ModsDocument, fallback string) string {
	if doc.TeamName != "" {
		return doc.TeamName
	}
	return fallback
}
