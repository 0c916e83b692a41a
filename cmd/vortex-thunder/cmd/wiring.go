package cmd

import (
	"io"
	"net/http"
	"os"
	"time"

	"vortex-thunder/internal/api"
	"vortex-thunder/internal/config"
	"vortex-thunder/internal/database"
	"vortex-thunder/internal/downloader"
	"vortex-thunder/internal/index"
	"vortex-thunder/internal/models"
	"vortex-thunder/internal/modstore"
	"vortex-thunder/internal/packager"
	"vortex-thunder/internal/pipeline"
	"vortex-thunder/internal/uploader"

	log "github.com/sirupsen/logrus"
)

// loadMods reads the mods document and checks that the three game domains are set.
func (a *app) loadMods() (*models.ModsDocument, *modstore.Store, error) {
	store := modstore.New(a.cfg.ModsFile)
	doc, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := modstore.ValidateDomains(doc); err != nil {
		return nil, nil, err
	}
	return doc, store, nil
}

// httpClient carries the API timeout and serves the Nexus metadata calls.
func (a *app) httpClient() *http.Client {
	return &http.Client{
		Transport: a.transport,
		Timeout:   time.Duration(a.cfg.APIClientTimeoutSec) * time.Second,
	}
}

// transferClient shares the transport but has no overall timeout; archive
// downloads and uploads are bounded by the run context instead.
func (a *app) transferClient() *http.Client {
	return &http.Client{Transport: a.transport}
}

// nexusClient builds the mod-host client for the document's game.
func (a *app) nexusClient(doc *models.ModsDocument) *api.Client {
	return api.NewClient(a.cfg.NexusApiKey, a.httpClient(), a.cfg, api.Game{Domain: doc.NexusGameDomain, ID: doc.GameID})
}

// stores holds the optional side stores of a run.
type stores struct {
	history *database.DB
	catalog *index.Index
}

func (s *stores) Close() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.WithError(err).Warn("Failed to close history database")
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			log.WithError(err).Warn("Failed to close search index")
		}
	}
}

// openStores opens the history ledger and search index under DataDir. Either
// may fail without stopping the run.
func (a *app) openStores() *stores {
	s := &stores{}
	if err := config.EnsureDataDir(a.cfg); err != nil {
		log.WithError(err).Warn("History and search index disabled")
		return s
	}
	if db, err := database.Open(config.HistoryDBPath(a.cfg)); err != nil {
		log.WithError(err).Warn("History database unavailable, run will not be recorded")
	} else {
		s.history = db
	}
	if idx, err := index.OpenOrCreateIndex(config.IndexPath(a.cfg)); err != nil {
		log.WithError(err).Warn("Search index unavailable, catalogue will not be updated")
	} else {
		s.catalog = idx
	}
	return s
}

// buildPipeline wires the real collaborators for a run over doc.
func (a *app) buildPipeline(doc *models.ModsDocument, store *modstore.Store, st *stores, opts pipeline.Options) *pipeline.Pipeline {
	game := api.Game{Domain: doc.NexusGameDomain, ID: doc.GameID}
	transfer := a.transferClient()

	dl := downloader.NewDownloader(transfer, api.UserAgent)
	if isTerminal(os.Stderr) {
		dl.Progress = os.Stderr
	}

	p := &pipeline.Pipeline{
		Source:          api.NewClient(a.cfg.NexusApiKey, a.httpClient(), a.cfg, game),
		Fetcher:         dl,
		Builder:         packager.New(a.cfg.PackagesDir, a.cfg),
		Publisher:       uploader.NewClient(a.cfg.ThunderstoreApiKey, transfer, a.cfg),
		Store:           store,
		DownloadDir:     a.cfg.DownloadDir,
		DownloadPattern: a.cfg.DownloadPathPattern,
		PackagesDir:     a.cfg.PackagesDir,
		DefaultTeam:     uploader.DefaultTeam,
		DefaultCategory: a.cfg.DefaultCategory,
		Options:         opts,
	}
	// Assigned only when open so the interfaces stay nil otherwise.
	if st.history != nil {
		p.History = st.history
	}
	if st.catalog != nil {
		p.Catalog = st.catalog
	}
	return p
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
