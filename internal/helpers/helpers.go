package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

var (
	slugDisallowed   = regexp.MustCompile(`[^a-z0-9._-]+`)
	slugUnderscores  = regexp.MustCompile(`_+`)
	slugMixedDashes  = regexp.MustCompile(`(_-|-_)+`)
	whitespaceRegexp = regexp.MustCompile(`\s+`)
)

// ConvertToSlug lowercases s and reduces it to a filesystem friendly form.
// Whitespace becomes '_', ':' becomes '-', anything else outside [a-z0-9._-] is dropped.
func ConvertToSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceRegexp.ReplaceAllString(s, "_")
	s = strings.ReplaceAll(s, ":", "-")
	s = slugDisallowed.ReplaceAllString(s, "")
	s = slugMixedDashes.ReplaceAllString(s, "-")
	s = slugUnderscores.ReplaceAllString(s, "_")
	return strings.Trim(s, "_-")
}

// PackageName turns a mod display name into a Thunderstore package name.
func PackageName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

// BytesToSize renders a byte count with binary units.
func BytesToSize(bytes uint64) string {
	if bytes == 0 {
		return "0B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	value := float64(bytes)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.2f%s", value, units[i])
}

// SanitizePath cleans p and strips any leading separators or parent references
// so the result stays relative.
func SanitizePath(p string) string {
	cleaned := filepath.Clean("/" + filepath.ToSlash(p))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "."
	}
	return filepath.FromSlash(cleaned)
}

// CheckAndMakeDir ensures dir exists, creating parents as needed.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).Errorf("Failed to create directory %s", dir)
		return false
	}
	return true
}

// CounterWriter tracks the number of bytes written through it.
type CounterWriter struct {
	Writer io.Writer
	Total  uint64
	// OnWrite is called after every successful write with the running total.
	OnWrite func(total uint64)
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	if cw.OnWrite != nil && n > 0 {
		cw.OnWrite(cw.Total)
	}
	return n, err
}

// FileBlake3 returns the hex encoded BLAKE3 digest of the file at path.
func FileBlake3(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// mimeExtensions maps sniffed archive content types to file extensions.
var mimeExtensions = map[string]string{
	"application/zip":    ".zip",
	"application/x-gzip": ".tar.gz",
	"application/gzip":   ".tar.gz",
	"application/x-tar":  ".tar",
}

// GetExtensionFromMimeType returns the archive extension for a sniffed content type.
func GetExtensionFromMimeType(mimeType string) (string, bool) {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	ext, ok := mimeExtensions[strings.ToLower(base)]
	return ext, ok
}

// StringSliceContains reports whether item is in slice, ignoring case.
func StringSliceContains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
