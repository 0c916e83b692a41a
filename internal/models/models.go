package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StringOrStringSlice is a custom type that can unmarshal from either
// a JSON string or a JSON array of strings. Hand-edited mods documents
// sometimes carry a single category or dependency as a bare string.
type StringOrStringSlice []string

// UnmarshalJSON implements json.Unmarshaler for StringOrStringSlice
func (s *StringOrStringSlice) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			*s = StringOrStringSlice{}
			return nil
		}
		*s = []string{str}
		return nil
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	*s = arr
	return nil
}

// Download link modes understood by the Nexus client.
const (
	DownloadLinkModeAPI     = "api"
	DownloadLinkModeSession = "session"
)

type (
	// Config holds the application's configuration settings.
	Config struct {
		ModsFile    string `toml:"ModsFile" json:"ModsFile"`
		DownloadDir string `toml:"DownloadDir" json:"DownloadDir"`
		PackagesDir string `toml:"PackagesDir" json:"PackagesDir"`
		DataDir     string `toml:"DataDir" json:"DataDir"`
		LogLevel    string `toml:"LogLevel" json:"LogLevel"`
		LogFormat   string `toml:"LogFormat" json:"LogFormat"`
		LogFile     string `toml:"LogFile" json:"LogFile"`

		// DownloadPathPattern lays out DownloadDir, e.g. "{modId}" or "{modId}/{version}".
		DownloadPathPattern string `toml:"DownloadPathPattern" json:"DownloadPathPattern"`

		NexusApiKey        string `toml:"NexusApiKey" json:"NexusApiKey"`
		ThunderstoreApiKey string `toml:"ThunderstoreApiKey" json:"ThunderstoreApiKey"`
		SessionCookie      string `toml:"SessionCookie" json:"SessionCookie"` // nexusmods_session value for the website download manager
		DownloadLinkMode   string `toml:"DownloadLinkMode" json:"DownloadLinkMode"`

		NexusBaseURL        string `toml:"NexusBaseURL" json:"NexusBaseURL"`
		NexusWebURL         string `toml:"NexusWebURL" json:"NexusWebURL"`
		ThunderstoreBaseURL string `toml:"ThunderstoreBaseURL" json:"ThunderstoreBaseURL"`

		DefaultCategory string `toml:"DefaultCategory" json:"DefaultCategory"`
		IconColor       string `toml:"IconColor" json:"IconColor"`

		APIClientTimeoutSec int `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		MaxRetries          int `toml:"MaxRetries" json:"MaxRetries"`
		RetryDelaySec       int `toml:"RetryDelaySec" json:"RetryDelaySec"`

		AllowPendingDependencies bool `toml:"AllowPendingDependencies" json:"AllowPendingDependencies"`
		KeepDownloads            bool `toml:"KeepDownloads" json:"KeepDownloads"`
		DryRun                   bool `toml:"DryRun" json:"DryRun"`
		LogApiRequests           bool `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// ModsDocument is the persisted mods.json file.
	ModsDocument struct {
		NexusGameDomain        string     `json:"nexus_game_domain"`
		ThunderstoreGameDomain string     `json:"thunderstore_game_domain"`
		GameID                 int        `json:"game_id"`
		TeamName               string     `json:"team_name,omitempty"`
		Mods                   []ModEntry `json:"mods"`
	}

	// ModEntry is one configured mod. ModID is the identity key.
	ModEntry struct {
		ModID                int                 `json:"mod_id"`
		Name                 string              `json:"name"`
		Author               string              `json:"author,omitempty"`
		Dependencies         StringOrStringSlice `json:"dependencies"`
		LastProcessedVersion *string             `json:"last_processed_version"`
		Categories           StringOrStringSlice `json:"categories"`
	}

	// ModInfo is the Nexus mod metadata fetched once per run.
	ModInfo struct {
		ModID       int    `json:"mod_id"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Author      string `json:"author"`
		UploadedBy  string `json:"uploaded_by"`
		PictureURL  string `json:"picture_url"`
		DomainName  string `json:"domain_name"`
	}

	// FileInfo describes one downloadable file of a mod.
	FileInfo struct {
		FileID            int    `json:"file_id"`
		Name              string `json:"name"`
		FileName          string `json:"file_name"`
		Version           string `json:"version"`
		CategoryName      string `json:"category_name"`
		UploadedTimestamp int64  `json:"uploaded_timestamp"`
		SizeKB            int64  `json:"size_kb"`
	}

	// FilesResponse is the body of the Nexus files.json endpoint.
	FilesResponse struct {
		Files []FileInfo `json:"files"`
	}

	// DownloadMirror is one entry of the download_link.json response.
	DownloadMirror struct {
		Name      string `json:"name"`
		ShortName string `json:"short_name"`
		URI       string `json:"URI"`
	}

	// PackageManifest is written as manifest.json into every package.
	PackageManifest struct {
		Name          string   `json:"name"`
		VersionNumber string   `json:"version_number"`
		WebsiteURL    string   `json:"website_url"`
		Description   string   `json:"description"`
		Dependencies  []string `json:"dependencies"`
	}

	// UploadResponse is the subset of the Thunderstore upload reply we keep.
	UploadResponse struct {
		Namespace     string `json:"namespace"`
		Name          string `json:"name"`
		VersionNumber string `json:"version_number"`
		DownloadURL   string `json:"download_url"`
	}
)

// HasProcessedVersion reports whether the entry has been packaged before.
func (m ModEntry) HasProcessedVersion() bool {
	return m.LastProcessedVersion != nil && *m.LastProcessedVersion != ""
}

// ProcessedVersion returns the last processed version or "".
func (m ModEntry) ProcessedVersion() string {
	if m.LastProcessedVersion == nil {
		return ""
	}
	return *m.LastProcessedVersion
}

// ResolvedAuthor returns the best author name known for the entry.
func (m ModEntry) ResolvedAuthor(fallback string) string {
	if a := strings.TrimSpace(m.Author); a != "" {
		return a
	}
	return fallback
}

// Label is used in log lines and reports.
func (m ModEntry) Label() string {
	if m.Name == "" {
		return fmt.Sprintf("mod %d", m.ModID)
	}
	return fmt.Sprintf("%s (%d)", m.Name, m.ModID)
}

// StringPtr is a small helper for optional JSON strings.
func StringPtr(s string) *string {
	return &s
}

// ModState is the position of a mod in the per-run pipeline.
type ModState string

const (
	StateFetching        ModState = "Fetching"
	StateFetchFailed     ModState = "FetchFailed"
	StateUpToDate        ModState = "UpToDate"
	StateNoFiles         ModState = "NoFiles"
	StateDownloading     ModState = "Downloading"
	StateDownloadFailed  ModState = "DownloadFailed"
	StatePackaging       ModState = "Packaging"
	StatePackagingFailed ModState = "PackagingFailed"
	StateUploading       ModState = "Uploading"
	StateUploadFailed    ModState = "UploadFailed"
	StateSkipped         ModState = "Skipped"
	StateDone            ModState = "Done"
)

// Terminal reports whether no further transition follows s.
func (s ModState) Terminal() bool {
	switch s {
	case StateFetching, StateDownloading, StatePackaging, StateUploading:
		return false
	}
	return true
}

// Failed reports whether s is one of the failure states.
func (s ModState) Failed() bool {
	switch s {
	case StateFetchFailed, StateDownloadFailed, StatePackagingFailed, StateUploadFailed:
		return true
	}
	return false
}
