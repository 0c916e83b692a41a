package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vortex-thunder/internal/helpers"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHttpStatus        = errors.New("unexpected HTTP status code")
	ErrFileSystem        = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest       = errors.New("HTTP request creation/execution error")
	ErrNoCandidates      = errors.New("no download candidates")
	ErrAllMirrorsFailed  = errors.New("all download mirrors failed")
	knownArchiveSuffixes = []string{".zip", ".tar.gz", ".tgz", ".tar"}
)

// Downloader streams remote files to disk.
type Downloader struct {
	client    *http.Client
	userAgent string
	// Progress, when set, receives a live-updating byte counter.
	Progress io.Writer
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client *http.Client, userAgent string) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Minute,
		}
	}
	return &Downloader{
		client:    client,
		userAgent: userAgent,
	}
}

// DownloadFirst tries each candidate URL in order and stops at the first
// success. Candidates are pulled one at a time, so later mirrors are never
// touched once an earlier one worked.
func (d *Downloader) DownloadFirst(ctx context.Context, candidates iter.Seq[string], destPath string) (string, error) {
	var errs []error
	tried := 0
	for u := range candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		tried++
		finalPath, err := d.StreamToFile(ctx, u, destPath)
		if err == nil {
			if tried > 1 {
				log.Infof("Mirror %d succeeded after %d failures", tried, tried-1)
			}
			return finalPath, nil
		}
		log.WithError(err).Warnf("Download candidate %d failed", tried)
		errs = append(errs, err)
	}
	if tried == 0 {
		return "", ErrNoCandidates
	}
	return "", fmt.Errorf("%w (%d tried): %w", ErrAllMirrorsFailed, tried, errors.Join(errs...))
}

// StreamToFile downloads url into destPath via a temporary file in the same
// directory. The temporary file is removed on any failure, so destPath either
// holds a complete download or is untouched. When destPath carries no archive
// extension one is added from the sniffed content type; the final path is returned.
func (d *Downloader) StreamToFile(ctx context.Context, url string, destPath string) (string, error) {
	targetDir := filepath.Dir(destPath)
	if !helpers.CheckAndMakeDir(targetDir) {
		return "", fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, targetDir)
	}

	tempFile, err := os.CreateTemp(targetDir, filepath.Base(destPath)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, destPath, err)
	}

	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			_ = tempFile.Close()
			log.Debugf("Cleaning up temporary file via defer: %s", tempFile.Name())
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s during defer cleanup", tempFile.Name())
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, url, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	log.Infof("Downloading from %s", url)
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Errorf("Error downloading file: Received status code %d from %s", resp.StatusCode, url)
		return "", fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	if err := d.copyBody(resp, tempFile, destPath); err != nil {
		return "", err
	}

	finalPath := destPath
	if !hasArchiveSuffix(destPath) {
		finalPath = withSniffedExtension(tempFile.Name(), destPath)
	}

	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return "", fmt.Errorf("%w: renaming temporary file %s to %s: %w", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	shouldCleanupTemp = false

	log.Infof("Successfully downloaded %s", finalPath)
	return finalPath, nil
}

// copyBody writes the response body to tempFile, driving the live progress line.
func (d *Downloader) copyBody(resp *http.Response, tempFile *os.File, targetPath string) error {
	size, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)

	counter := &helpers.CounterWriter{Writer: tempFile}

	var live *uilive.Writer
	if d.Progress != nil {
		live = uilive.New()
		live.Out = d.Progress
		live.Start()
		name := filepath.Base(targetPath)
		var lastPrinted uint64
		counter.OnWrite = func(total uint64) {
			// Repaint at most every 256KiB.
			if total-lastPrinted < 256*1024 && total != size {
				return
			}
			lastPrinted = total
			if size > 0 {
				fmt.Fprintf(live, "Downloading %s: %s / %s\n", name, helpers.BytesToSize(total), helpers.BytesToSize(size))
			} else {
				fmt.Fprintf(live, "Downloading %s: %s\n", name, helpers.BytesToSize(total))
			}
		}
	}

	log.Debugf("Writing to %s (Target: %s, Size: %s)", tempFile.Name(), targetPath, helpers.BytesToSize(size))
	_, err := io.Copy(counter, resp.Body)
	if live != nil {
		fmt.Fprintf(live, "Downloaded %s (%s)\n", filepath.Base(targetPath), helpers.BytesToSize(counter.Total))
		live.Stop()
	}
	if err != nil {
		return fmt.Errorf("writing to temporary file %s: %w", tempFile.Name(), err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	return nil
}

func hasArchiveSuffix(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range knownArchiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// withSniffedExtension appends an archive extension based on the file's first bytes.
func withSniffedExtension(tempPath, destPath string) string {
	f, err := os.Open(tempPath)
	if err != nil {
		log.WithError(err).Warnf("Failed to re-open %s for content sniffing", tempPath)
		return destPath
	}
	defer f.Close()

	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && err != io.EOF {
		log.WithError(err).Warnf("Failed to read %s for content sniffing", tempPath)
		return destPath
	}

	mimeType := http.DetectContentType(buffer[:n])
	ext, ok := helpers.GetExtensionFromMimeType(mimeType)
	if !ok {
		log.Debugf("No archive extension for sniffed type %s; keeping %s", mimeType, destPath)
		return destPath
	}
	return destPath + ext
}
