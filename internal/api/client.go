package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vortex-thunder/internal/models"
	"vortex-thunder/internal/retry"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited     = errors.New("API rate limit exceeded")
	ErrUnauthorized    = errors.New("API request unauthorized (check API key)")
	ErrForbidden       = errors.New("API request forbidden (check API key and session cookie)")
	ErrNotFound        = errors.New("API resource not found")
	ErrServerError     = errors.New("API server error")
	ErrNoDownloadLinks = errors.New("no download links returned")
	ErrSessionRequired = errors.New("session download mode requires a session cookie")
	ErrUnknownLinkMode = errors.New("unknown download link mode")
)

const (
	NexusApiBaseUrl = "https://api.nexusmods.com/v1"
	NexusWebBaseUrl = "https://www.nexusmods.com"
	UserAgent       = "vortex-thunder/1.0"

	// DefaultRetryAfter is used when a 429 response carries no usable Retry-After header.
	DefaultRetryAfter = 60 * time.Second

	sessionCookieName = "nexusmods_session"
)

// Game identifies the Nexus game a client talks about.
type Game struct {
	Domain string
	ID     int
}

// Client struct for interacting with the Nexus Mods API
type Client struct {
	ApiKey        string
	SessionCookie string
	LinkMode      string
	Game          Game
	BaseURL       string
	WebURL        string
	Retry         retry.Policy
	HttpClient    *http.Client // Use a shared client
}

// NewClient creates a new API client for one game.
func NewClient(apiKey string, httpClient *http.Client, cfg models.Config, game Game) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		ApiKey:        apiKey,
		SessionCookie: cfg.SessionCookie,
		LinkMode:      cfg.DownloadLinkMode,
		Game:          game,
		BaseURL:       strings.TrimRight(cfg.NexusBaseURL, "/"),
		WebURL:        strings.TrimRight(cfg.NexusWebURL, "/"),
		HttpClient:    httpClient,
		Retry:         PolicyFromConfig(cfg, "nexus"),
	}
	if c.BaseURL == "" {
		c.BaseURL = NexusApiBaseUrl
	}
	if c.WebURL == "" {
		c.WebURL = NexusWebBaseUrl
	}
	if c.LinkMode == "" {
		c.LinkMode = models.DownloadLinkModeAPI
	}
	log.Debugf("NewClient: nexus client for %s (link mode %s)", game.Domain, c.LinkMode)
	return c
}

// PolicyFromConfig builds the retry policy shared by every API client.
func PolicyFromConfig(cfg models.Config, name string) retry.Policy {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	return retry.Policy{
		MaxAttempts:   attempts,
		Delay:         time.Duration(cfg.RetryDelaySec) * time.Second,
		UseServerHint: true,
		Name:          name,
	}
}

// ModURL is the public page of a mod; it doubles as the package website_url.
func (c *Client) ModURL(modID int) string {
	return fmt.Sprintf("%s/%s/mods/%d", c.WebURL, c.Game.Domain, modID)
}

// GetModInfo fetches metadata for a single mod.
func (c *Client) GetModInfo(ctx context.Context, modID int) (models.ModInfo, error) {
	reqURL := fmt.Sprintf("%s/games/%s/mods/%d.json", c.BaseURL, url.PathEscape(c.Game.Domain), modID)

	var info models.ModInfo
	if err := c.getJSON(ctx, reqURL, &info); err != nil {
		return models.ModInfo{}, fmt.Errorf("mod info for %d: %w", modID, err)
	}
	if info.ModID == 0 {
		info.ModID = modID
	}
	return info, nil
}

// ListFiles returns every file attached to a mod.
func (c *Client) ListFiles(ctx context.Context, modID int) ([]models.FileInfo, error) {
	reqURL := fmt.Sprintf("%s/games/%s/mods/%d/files.json", c.BaseURL, url.PathEscape(c.Game.Domain), modID)

	var resp models.FilesResponse
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, fmt.Errorf("file list for %d: %w", modID, err)
	}
	return resp.Files, nil
}

// GetLatestFile returns the most recently uploaded file, or nil when the mod has none.
func (c *Client) GetLatestFile(ctx context.Context, modID int) (*models.FileInfo, error) {
	files, err := c.ListFiles(ctx, modID)
	if err != nil {
		return nil, err
	}
	latest := LatestFile(files)
	if latest == nil {
		log.Warnf("No files found for mod ID %d.", modID)
	}
	return latest, nil
}

// LatestFile picks the file with the highest upload timestamp. Ties keep the first seen.
func LatestFile(files []models.FileInfo) *models.FileInfo {
	if len(files) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(files); i++ {
		if files[i].UploadedTimestamp > files[best].UploadedTimestamp {
			best = i
		}
	}
	f := files[best]
	return &f
}

// ResolveDownloadURLs returns the candidate URLs for a file, in preference order.
// Which endpoint is used depends only on the configured link mode.
func (c *Client) ResolveDownloadURLs(ctx context.Context, modID, fileID int) ([]string, error) {
	switch c.LinkMode {
	case models.DownloadLinkModeAPI:
		return c.apiDownloadLinks(ctx, modID, fileID)
	case models.DownloadLinkModeSession:
		return c.sessionDownloadLink(ctx, modID, fileID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLinkMode, c.LinkMode)
	}
}

func (c *Client) apiDownloadLinks(ctx context.Context, modID, fileID int) ([]string, error) {
	reqURL := fmt.Sprintf("%s/games/%s/mods/%d/files/%d/download_link.json", c.BaseURL, url.PathEscape(c.Game.Domain), modID, fileID)

	var mirrors []models.DownloadMirror
	if err := c.getJSON(ctx, reqURL, &mirrors); err != nil {
		return nil, fmt.Errorf("download links for mod %d file %d: %w", modID, fileID, err)
	}

	urls := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		if m.URI == "" {
			continue
		}
		urls = append(urls, m.URI)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w for mod %d file %d", ErrNoDownloadLinks, modID, fileID)
	}
	log.Debugf("Resolved %d download mirrors for mod %d file %d", len(urls), modID, fileID)
	return urls, nil
}

func (c *Client) sessionDownloadLink(ctx context.Context, modID, fileID int) ([]string, error) {
	if c.SessionCookie == "" {
		return nil, ErrSessionRequired
	}

	reqURL := c.WebURL + "/Core/Libs/Common/Managers/Downloads?GenerateDownloadUrl"
	form := url.Values{}
	form.Set("fid", strconv.Itoa(fileID))
	form.Set("game_id", strconv.Itoa(c.Game.ID))
	encoded := form.Encode()

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("Referer", fmt.Sprintf("%s/%s/mods/%d?tab=files&file_id=%d", c.WebURL, c.Game.Domain, modID, fileID))
		req.Header.Set("Origin", c.WebURL)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.SessionCookie})
		return req, nil
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, build, &payload); err != nil {
		return nil, fmt.Errorf("generating download url for mod %d file %d: %w", modID, fileID, err)
	}
	if payload.URL == "" {
		return nil, fmt.Errorf("%w for mod %d file %d", ErrNoDownloadLinks, modID, fileID)
	}
	return []string{payload.URL}, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	build := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	}
	return c.doJSON(ctx, build, out)
}

// doJSON performs the request built by build under the client's retry policy
// and decodes a 200 response into out.
func (c *Client) doJSON(ctx context.Context, build func(context.Context) (*http.Request, error), out any) error {
	var body []byte
	err := retry.Do(ctx, c.Retry, func() error {
		req, err := build(ctx)
		if err != nil {
			log.WithError(err).Error("Error creating request")
			return retry.Permanent(fmt.Errorf("error creating request: %w", err))
		}
		c.decorate(req)

		resp, err := c.HttpClient.Do(req) // Transport will log if enabled
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		if statusErr := CheckStatus(resp); statusErr != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return statusErr
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("error reading response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		log.WithError(err).Errorf("Error unmarshalling response JSON")
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if c.ApiKey != "" {
		req.Header.Set("apikey", c.ApiKey)
	}
}

// CheckStatus maps an HTTP status to the package's error values, wrapping
// the ones that must not be retried with retry.Permanent.
func CheckStatus(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		wait, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if !ok {
			wait = DefaultRetryAfter
		}
		return &retry.RetryAfterError{Err: ErrRateLimited, After: wait}
	case code == http.StatusUnauthorized:
		return retry.Permanent(ErrUnauthorized)
	case code == http.StatusForbidden:
		return retry.Permanent(ErrForbidden)
	case code == http.StatusNotFound:
		return retry.Permanent(ErrNotFound)
	case code >= 500:
		return fmt.Errorf("%w (status code %d)", ErrServerError, code)
	default:
		return retry.Permanent(fmt.Errorf("API request failed with status %d", code))
	}
}
