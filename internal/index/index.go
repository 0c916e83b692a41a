// Package index keeps a full-text catalogue of every mod the pipeline has
// fetched metadata for, so the CLI can search it offline.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"vortex-thunder/internal/models"
	"vortex-thunder/internal/packager"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	log "github.com/sirupsen/logrus"
)

const docType = "mod"

// Item is the document stored per mod.
type Item struct {
	Type        string `json:"type"`
	ModID       int    `json:"mod_id"`
	Name        string `json:"name"`
	Author      string `json:"author"`
	Version     string `json:"version"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
}

// Hit is one search result.
type Hit struct {
	ModID   int
	Name    string
	Author  string
	Version string
	Summary string
	Score   float64
}

// Index wraps a bleve index of Items.
type Index struct {
	bleve bleve.Index
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.TypeField = "type"
	// Unfielded queries hit _all, whose terms were produced by "en".
	m.DefaultAnalyzer = "en"

	text := bleve.NewTextFieldMapping()
	text.Analyzer = "en"
	keyword := bleve.NewKeywordFieldMapping()
	num := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("author", text)
	doc.AddFieldMappingsAt("summary", text)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("version", keyword)
	doc.AddFieldMappingsAt("domain", keyword)
	doc.AddFieldMappingsAt("mod_id", num)
	m.AddDocumentMapping(docType, doc)
	return m
}

// OpenOrCreateIndex opens the index at path, creating it when missing.
func OpenOrCreateIndex(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("creating index directory: %w", mkErr)
		}
		log.Infof("Creating new search index at %s", path)
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index %s: %w", path, err)
	}
	return &Index{bleve: idx}, nil
}

// NewMemIndex returns an index that lives only in memory.
func NewMemIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx}, nil
}

// Upsert (re)indexes the metadata of one mod.
func (i *Index) Upsert(info models.ModInfo) error {
	if info.ModID == 0 {
		return errors.New("cannot index mod without id")
	}
	item := Item{
		Type:        docType,
		ModID:       info.ModID,
		Name:        info.Name,
		Author:      info.Author,
		Version:     info.Version,
		Summary:     packager.SanitizeDescription(info.Summary),
		Description: packager.SanitizeDescription(info.Description),
		Domain:      info.DomainName,
	}
	if err := i.bleve.Index(strconv.Itoa(info.ModID), item); err != nil {
		return fmt.Errorf("indexing mod %d: %w", info.ModID, err)
	}
	return nil
}

// Search runs a query-string query and returns at most limit hits.
func (i *Index) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Fields = []string{"name", "author", "version", "summary"}

	res, err := i.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.Atoi(h.ID)
		if err != nil {
			log.Warnf("Skipping index document with unexpected id %q", h.ID)
			continue
		}
		hits = append(hits, Hit{
			ModID:   id,
			Name:    field(h.Fields, "name"),
			Author:  field(h.Fields, "author"),
			Version: field(h.Fields, "version"),
			Summary: field(h.Fields, "summary"),
			Score:   h.Score,
		})
	}
	return hits, nil
}

// Count returns the number of indexed mods.
func (i *Index) Count() (uint64, error) {
	return i.bleve.DocCount()
}

func (i *Index) Close() error {
	return i.bleve.Close()
}

func field(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}
