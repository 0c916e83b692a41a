package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"vortex-thunder/internal/models"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

var ErrConfigExists = errors.New("config file already exists")

const configHeader = `# vortex-thunder settings.
#
# Secrets are better kept out of this file: set NEXUS_API_KEY,
# THUNDERSTORE_API_KEY and NEXUS_SESSION_COOKIE in the environment or .env.
# Any key can also be overridden with VTHUNDER_<KEY>, e.g. VTHUNDER_LOGLEVEL=debug.
#
# DownloadPathPattern tags: {modId} {modName} {fileId} {version} {author}
# DownloadLinkMode: "api" (premium key) or "session" (website cookie)
# IconColor: "#rrggbb" or "auto" for a colour derived from the package name

`

// Defaults returns the configuration produced by defaults alone.
func Defaults() models.Config {
	v := viper.New()
	setViperDefaults(v)
	var cfg models.Config
	// Only scalar defaults are set, so decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// RenderDefaultConfig encodes the default settings as TOML with a comment header.
func RenderDefaultConfig() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	if err := toml.NewEncoder(&buf).Encode(Defaults()); err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefaultConfig writes the default settings file to path. An existing
// file is only replaced when overwrite is set.
func WriteDefaultConfig(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	data, err := RenderDefaultConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
