// Package uploader publishes finished packages to Thunderstore.
package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vortex-thunder/internal/api"
	"vortex-thunder/internal/helpers"
	"vortex-thunder/internal/models"
	"vortex-thunder/internal/retry"

	log "github.com/sirupsen/logrus"
)

var (
	ErrForbidden    = errors.New("thunderstore rejected the upload (check API key and team membership)")
	ErrUnauthorized = errors.New("thunderstore upload unauthorized")
	ErrRateLimited  = errors.New("thunderstore rate limit exceeded")
	ErrRejected     = errors.New("thunderstore rejected the package")
	ErrServerError  = errors.New("thunderstore server error")
)

const (
	ThunderstoreBaseUrl = "https://thunderstore.io"
	uploadPath          = "/api/v1/package/upload/"

	DefaultCategory = "Misc"
	DefaultTeam     = "community"
)

// Client uploads package archives for one API token.
type Client struct {
	ApiKey     string
	BaseURL    string
	Retry      retry.Policy
	HttpClient *http.Client
}

// NewClient builds a Thunderstore client that shares httpClient with the Nexus client.
func NewClient(apiKey string, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	base := strings.TrimRight(cfg.ThunderstoreBaseURL, "/")
	if base == "" {
		base = ThunderstoreBaseUrl
	}
	return &Client{
		ApiKey:     apiKey,
		BaseURL:    base,
		Retry:      api.PolicyFromConfig(cfg, "thunderstore"),
		HttpClient: httpClient,
	}
}

// Categories returns the category list sent with an upload: deduplicated,
// blanks dropped, and fallback (or Misc) when nothing is left.
func Categories(in []string, fallback string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || helpers.StringSliceContains(out, c) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		if fallback == "" {
			fallback = DefaultCategory
		}
		out = append(out, fallback)
	}
	return out
}

// Upload posts archivePath as a multipart form with the team and
// comma-joined categories. 403 is never retried; 429 and 5xx are.
func (c *Client) Upload(ctx context.Context, archivePath, team string, categories []string) (models.UploadResponse, error) {
	if team == "" {
		team = DefaultTeam
	}
	categories = Categories(categories, "")

	if _, err := os.Stat(archivePath); err != nil {
		return models.UploadResponse{}, fmt.Errorf("package archive %s: %w", archivePath, err)
	}

	logger := log.WithFields(log.Fields{"archive": filepath.Base(archivePath), "team": team})
	logger.Infof("Uploading to Thunderstore with categories %s", strings.Join(categories, ","))

	var body []byte
	err := retry.Do(ctx, c.Retry, func() error {
		req, err := c.newUploadRequest(ctx, archivePath, team, categories)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return fmt.Errorf("upload request failed: %w", err)
		}
		defer resp.Body.Close()

		if statusErr := checkStatus(resp); statusErr != nil {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(detail) > 0 {
				logger.Debugf("Thunderstore response: %s", string(detail))
			}
			return statusErr
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading upload response: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			logger.Errorf("403 Forbidden when uploading %s. Check your API key.", archivePath)
		}
		return models.UploadResponse{}, fmt.Errorf("uploading %s: %w", filepath.Base(archivePath), err)
	}

	var out models.UploadResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			logger.WithError(err).Warn("Upload succeeded but the response could not be decoded")
		}
	}
	logger.Infof("Uploaded %s to Thunderstore successfully.", archivePath)
	return out, nil
}

// newUploadRequest streams the archive through a pipe so large packages
// never sit in memory. A fresh request is built for every attempt.
func (c *Client) newUploadRequest(ctx context.Context, archivePath, team string, categories []string) (*http.Request, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", archivePath, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		err := writeForm(mw, f, filepath.Base(archivePath), team, categories)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+uploadPath, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("error creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", api.UserAgent)
	req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	return req, nil
}

func writeForm(mw *multipart.Writer, file io.Reader, fileName, team string, categories []string) error {
	if err := mw.WriteField("team", team); err != nil {
		return err
	}
	if err := mw.WriteField("categories", strings.Join(categories, ",")); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

func checkStatus(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		wait, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if !ok {
			wait = api.DefaultRetryAfter
		}
		return &retry.RetryAfterError{Err: ErrRateLimited, After: wait}
	case code == http.StatusUnauthorized:
		return retry.Permanent(ErrUnauthorized)
	case code == http.StatusForbidden:
		return retry.Permanent(ErrForbidden)
	case code >= 500:
		return fmt.Errorf("%w (status code %d)", ErrServerError, code)
	default:
		return retry.Permanent(fmt.Errorf("%w (status code %d)", ErrRejected, code))
	}
}
