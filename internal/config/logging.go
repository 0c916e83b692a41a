package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"vortex-thunder/internal/models"

	log "github.com/sirupsen/logrus"
)

// SetupLogging applies the level and format from cfg to the standard logrus
// logger and tees output to cfg.LogFile when one is set. The returned closer
// releases the log file.
func SetupLogging(cfg models.Config, stderr io.Writer) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}

	if cfg.LogFile == "" {
		log.SetOutput(stderr)
		return io.NopCloser(nil), nil
	}
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", cfg.LogFile, err)
	}
	log.SetOutput(io.MultiWriter(stderr, f))
	return f, nil
}
