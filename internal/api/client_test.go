package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vortex-thunder/internal/models"
	"vortex-thunder/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(serverURL string) models.Config {
	return models.Config{
		NexusBaseURL:     serverURL + "/v1",
		NexusWebURL:      serverURL,
		MaxRetries:       3,
		DownloadLinkMode: models.DownloadLinkModeAPI,
	}
}

func newTestClient(t *testing.T, serverURL string, mutate func(*models.Config)) (*Client, *retry.RecordingTimer) {
	t.Helper()
	cfg := testConfig(serverURL)
	if mutate != nil {
		mutate(&cfg)
	}
	client := NewClient("test-key", &http.Client{Timeout: 5 * time.Second}, cfg, Game{Domain: "valheim", ID: 3667})
	timer := retry.NewRecordingTimer()
	client.Retry.Timer = timer
	return client, timer
}

// TestNewClient tests the API client creation
func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key", nil, models.Config{}, Game{Domain: "valheim"})

	assert.Equal(t, "test-api-key", client.ApiKey)
	require.NotNil(t, client.HttpClient)
	assert.Equal(t, 30*time.Second, client.HttpClient.Timeout)
	assert.Equal(t, NexusApiBaseUrl, client.BaseURL)
	assert.Equal(t, NexusWebBaseUrl, client.WebURL)
	assert.Equal(t, models.DownloadLinkModeAPI, client.LinkMode)
	assert.Equal(t, 1, client.Retry.MaxAttempts)
	assert.Equal(t, "https://www.nexusmods.com/valheim/mods/42", client.ModURL(42))
}

func TestGetModInfo_SendsHeadersAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/games/valheim/mods/42.json", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("apikey"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"mod_id":42,"name":"Better Maps","version":"2.0","summary":"Maps.","description":"<b>Maps</b>","author":"Ada"}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)
	info, err := client.GetModInfo(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Better Maps", info.Name)
	assert.Equal(t, "2.0", info.Version)
	assert.Equal(t, "Ada", info.Author)
}

func TestGetModInfo_ForbiddenIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL, nil)
	_, err := client.GetModInfo(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, timer.Waits())
}

func TestGetModInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)
	_, err := client.GetModInfo(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRateLimit_HonoursRetryAfterThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"files":[]}`)
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL, nil)
	file, err := client.GetLatestFile(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, file)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, timer.Waits())
}

func TestRateLimit_GivesUpAfterBoundedAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL, nil)
	_, err := client.GetLatestFile(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	for _, w := range timer.Waits() {
		assert.Equal(t, DefaultRetryAfter, w, "missing Retry-After falls back to the default")
	}
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"mod_id":9,"name":"X","version":"1"}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)
	info, err := client.GetModInfo(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "1", info.Version)
}

func TestLatestFile(t *testing.T) {
	assert.Nil(t, LatestFile(nil))

	files := []models.FileInfo{
		{FileID: 1, UploadedTimestamp: 100},
		{FileID: 2, UploadedTimestamp: 300},
		{FileID: 3, UploadedTimestamp: 200},
	}
	latest := LatestFile(files)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.FileID)
}

func TestResolveDownloadURLs_APIMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/games/valheim/mods/42/files/7/download_link.json", r.URL.Path)
		_, _ = io.WriteString(w, `[{"name":"Paris","short_name":"par","URI":"https://cdn1/file.zip"},{"name":"Empty","URI":""},{"name":"Amsterdam","URI":"https://cdn2/file.zip"}]`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)
	urls, err := client.ResolveDownloadURLs(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn1/file.zip", "https://cdn2/file.zip"}, urls)
}

func TestResolveDownloadURLs_APIModeEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)
	_, err := client.ResolveDownloadURLs(context.Background(), 42, 7)
	assert.ErrorIs(t, err, ErrNoDownloadLinks)
}

func TestResolveDownloadURLs_SessionMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Core/Libs/Common/Managers/Downloads", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "GenerateDownloadUrl")
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.True(t, strings.HasSuffix(r.Header.Get("Referer"), "/valheim/mods/42?tab=files&file_id=7"))

		cookie, err := r.Cookie("nexusmods_session")
		if assert.NoError(t, err) {
			assert.Equal(t, "sess", cookie.Value)
		}

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "7", r.PostForm.Get("fid"))
		assert.Equal(t, "3667", r.PostForm.Get("game_id"))
		_, _ = io.WriteString(w, `{"url":"https://cdn/signed.zip"}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, func(c *models.Config) {
		c.DownloadLinkMode = models.DownloadLinkModeSession
		c.SessionCookie = "sess"
	})
	urls, err := client.ResolveDownloadURLs(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/signed.zip"}, urls)
}

func TestResolveDownloadURLs_SessionModeNeedsCookie(t *testing.T) {
	client := NewClient("k", nil, models.Config{DownloadLinkMode: models.DownloadLinkModeSession}, Game{Domain: "valheim"})
	_, err := client.ResolveDownloadURLs(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrSessionRequired)
}

func TestResolveDownloadURLs_UnknownMode(t *testing.T) {
	client := NewClient("k", nil, models.Config{DownloadLinkMode: "guess"}, Game{Domain: "valheim"})
	_, err := client.ResolveDownloadURLs(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrUnknownLinkMode)
}

func TestLoggingTransportMasksSecrets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("apikey"), "the real request keeps its credentials")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"mod_id":1,"name":"Logged","version":"1"}`)
	}))
	defer server.Close()

	logPath := filepath.Join(t.TempDir(), "api.log")
	transport, err := NewLoggingTransport(http.DefaultTransport, logPath)
	require.NoError(t, err)

	client, _ := newTestClient(t, server.URL, nil)
	client.HttpClient = &http.Client{Transport: transport}

	info, err := client.GetModInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Logged", info.Name)

	CloseAllLoggingTransports()

	logged, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "--- Request")
	assert.Contains(t, string(logged), `"name":"Logged"`)
	assert.NotContains(t, string(logged), "test-key")
}
