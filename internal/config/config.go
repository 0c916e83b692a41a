package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"vortex-thunder/internal/api"
	"vortex-thunder/internal/helpers"
	"vortex-thunder/internal/models"
	"vortex-thunder/internal/packager"
	"vortex-thunder/internal/paths"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultConfigFilePath      = "vortex-thunder.toml"
	DefaultEnvFile             = ".env"
	DefaultModsFile            = "mods.json"
	DefaultDownloadDir         = "downloads"
	DefaultPackagesDir         = "packages"
	DefaultDataDir             = "data"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultLogFile             = "vortex-thunder.log"
	DefaultAPIClientTimeoutSec = 120
	DefaultMaxRetries          = 3
	DefaultRetryDelaySec       = 5
	DefaultIconColor           = packager.DefaultIconColor

	EnvPrefix = "VTHUNDER"

	apiLogFile = "api.log"
)

var (
	ErrMissingNexusKey        = errors.New("missing Nexus API key (set NEXUS_API_KEY or NexusApiKey)")
	ErrMissingThunderstoreKey = errors.New("missing Thunderstore API key (set THUNDERSTORE_API_KEY or ThunderstoreApiKey)")
	ErrMissingSessionCookie   = errors.New("session download mode needs a session cookie (set NEXUS_SESSION_COOKIE or SessionCookie)")
	ErrInvalidConfig          = errors.New("invalid configuration")
)

// secretEnv lists the unprefixed variables each secret is also read from.
var secretEnv = map[string]string{
	"nexusapikey":        "NEXUS_API_KEY",
	"thunderstoreapikey": "THUNDERSTORE_API_KEY",
	"sessioncookie":      "NEXUS_SESSION_COOKIE",
}

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("modsfile", DefaultModsFile)
	v.SetDefault("downloaddir", DefaultDownloadDir)
	v.SetDefault("packagesdir", DefaultPackagesDir)
	v.SetDefault("datadir", DefaultDataDir)
	v.SetDefault("downloadpathpattern", paths.DefaultDownloadPattern)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("logfile", DefaultLogFile)
	v.SetDefault("logapirequests", false)

	v.SetDefault("nexusapikey", "")
	v.SetDefault("thunderstoreapikey", "")
	v.SetDefault("sessioncookie", "")
	v.SetDefault("downloadlinkmode", models.DownloadLinkModeAPI)

	v.SetDefault("nexusbaseurl", api.NexusApiBaseUrl)
	v.SetDefault("nexusweburl", api.NexusWebBaseUrl)
	v.SetDefault("thunderstorebaseurl", "https://thunderstore.io")

	v.SetDefault("defaultcategory", "Misc")
	v.SetDefault("iconcolor", DefaultIconColor)

	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("maxretries", DefaultMaxRetries)
	v.SetDefault("retrydelaysec", DefaultRetryDelaySec)

	v.SetDefault("allowpendingdependencies", false)
	v.SetDefault("keepdownloads", false)
	v.SetDefault("dryrun", false)
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	ConfigFilePath *string // --config
	EnvFile        *string // --env-file
	ModsFile       *string // --mods
	LogLevel       *string // --log-level
	LogFormat      *string // --log-format
	LogFile        *string // --log-file
	LogApiRequests *bool   // --log-api

	DownloadDir *string // --download-dir
	PackagesDir *string // --packages-dir
	DataDir     *string // --data-dir
	MaxRetries  *int    // --max-retries

	DryRun                   *bool // run --dry-run
	KeepDownloads            *bool // --keep-downloads
	AllowPendingDependencies *bool // --allow-pending
}

// Initialize loads configuration based on defaults, config file, environment and flags.
// Precedence: Flags > Environment > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	envFile := DefaultEnvFile
	if flags.EnvFile != nil {
		envFile = *flags.EnvFile
	}
	if err := LoadEnvFile(envFile); err != nil {
		return models.Config{}, nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setViperDefaults(v)
	for key, env := range secretEnv {
		// The prefixed name is listed first so it wins over the bare one.
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env)
	}

	configPath := DefaultConfigFilePath
	explicit := flags.ConfigFilePath != nil && *flags.ConfigFilePath != ""
	if explicit {
		configPath = *flags.ConfigFilePath
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", configPath)
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case (errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) && !explicit:
			log.Debugf("[Initialize] Config file '%s' not found. Using defaults, environment and CLI flags only.", configPath)
		case errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist):
			return models.Config{}, nil, fmt.Errorf("config file %s: %w", configPath, fs.ErrNotExist)
		default:
			return models.Config{}, nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	} else {
		log.Infof("[Initialize] Using config file: %s", v.ConfigFileUsed())
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	applyFlags(&cfg, flags)

	if err := Validate(cfg); err != nil {
		return models.Config{}, nil, err
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return models.Config{}, nil, err
	}

	log.Debug("Configuration initialized successfully.")
	return cfg, transport, nil
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables that are already set are left alone; a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	log.Debugf("Loaded environment from %s", path)
	return nil
}

func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.ModsFile != nil {
		log.Debugf("[Initialize] Overriding ModsFile from flag: '%s'", *flags.ModsFile)
		cfg.ModsFile = *flags.ModsFile
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.LogFile != nil {
		cfg.LogFile = *flags.LogFile
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.DownloadDir != nil {
		log.Debugf("[Initialize] Overriding DownloadDir from flag: '%s'", *flags.DownloadDir)
		cfg.DownloadDir = *flags.DownloadDir
	}
	if flags.PackagesDir != nil {
		log.Debugf("[Initialize] Overriding PackagesDir from flag: '%s'", *flags.PackagesDir)
		cfg.PackagesDir = *flags.PackagesDir
	}
	if flags.DataDir != nil {
		cfg.DataDir = *flags.DataDir
	}
	if flags.MaxRetries != nil {
		log.Debugf("[Initialize] Overriding MaxRetries from flag: %d", *flags.MaxRetries)
		cfg.MaxRetries = *flags.MaxRetries
	}
	if flags.DryRun != nil {
		cfg.DryRun = *flags.DryRun
	}
	if flags.KeepDownloads != nil {
		cfg.KeepDownloads = *flags.KeepDownloads
	}
	if flags.AllowPendingDependencies != nil {
		cfg.AllowPendingDependencies = *flags.AllowPendingDependencies
	}
}

// Validate checks the settings that do not depend on the command being run.
func Validate(cfg models.Config) error {
	var problems []string
	if cfg.ModsFile == "" {
		problems = append(problems, "ModsFile cannot be empty")
	}
	if cfg.DownloadDir == "" {
		problems = append(problems, "DownloadDir cannot be empty")
	}
	if cfg.PackagesDir == "" {
		problems = append(problems, "PackagesDir cannot be empty")
	}
	switch cfg.DownloadLinkMode {
	case models.DownloadLinkModeAPI, models.DownloadLinkModeSession:
	default:
		problems = append(problems, fmt.Sprintf("DownloadLinkMode must be %q or %q, got %q",
			models.DownloadLinkModeAPI, models.DownloadLinkModeSession, cfg.DownloadLinkMode))
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("LogFormat must be text or json, got %q", cfg.LogFormat))
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if bad := paths.ValidatePattern(cfg.DownloadPathPattern); len(bad) > 0 {
		problems = append(problems, fmt.Sprintf("DownloadPathPattern contains unknown tags %v", bad))
	}
	if _, err := packager.IconColor(cfg.IconColor, "icon-check"); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.MaxRetries < 1 {
		problems = append(problems, "MaxRetries must be at least 1")
	}
	if cfg.APIClientTimeoutSec < 0 || cfg.RetryDelaySec < 0 {
		problems = append(problems, "timeouts and delays cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateCredentials checks the secrets a command needs. Uploading commands
// need the Thunderstore key; every command that talks to Nexus needs its key.
func ValidateCredentials(cfg models.Config, needNexus, needUpload bool) error {
	var errs []error
	if needNexus {
		if cfg.NexusApiKey == "" {
			errs = append(errs, ErrMissingNexusKey)
		}
		if cfg.DownloadLinkMode == models.DownloadLinkModeSession && cfg.SessionCookie == "" {
			errs = append(errs, ErrMissingSessionCookie)
		}
	}
	if needUpload && cfg.ThunderstoreApiKey == "" {
		errs = append(errs, ErrMissingThunderstoreKey)
	}
	return errors.Join(errs...)
}

func newTransport(cfg models.Config) (http.RoundTripper, error) {
	var transport http.RoundTripper = http.DefaultTransport
	if !cfg.LogApiRequests {
		return transport, nil
	}

	logFilePath := apiLogFile
	if cfg.DataDir != "" && helpers.CheckAndMakeDir(cfg.DataDir) {
		logFilePath = filepath.Join(cfg.DataDir, apiLogFile)
	} else {
		log.Warnf("DataDir '%s' unavailable, saving %s to current directory.", cfg.DataDir, apiLogFile)
	}
	log.Infof("API logging to file: %s", logFilePath)

	loggingTransport, err := api.NewLoggingTransport(transport, logFilePath)
	if err != nil {
		log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		return transport, nil
	}
	return loggingTransport, nil
}

// Masked returns a copy of cfg safe to print.
func Masked(cfg models.Config) models.Config {
	cfg.NexusApiKey = mask(cfg.NexusApiKey)
	cfg.ThunderstoreApiKey = mask(cfg.ThunderstoreApiKey)
	cfg.SessionCookie = mask(cfg.SessionCookie)
	return cfg
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// HistoryDBPath is the sqlite run ledger under DataDir.
func HistoryDBPath(cfg models.Config) string { return filepath.Join(cfg.DataDir, "history.db") }

// IndexPath is the bleve catalogue under DataDir.
func IndexPath(cfg models.Config) string { return filepath.Join(cfg.DataDir, "catalog.bleve") }

func EnsureDataDir(cfg models.Config) error {
	if cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}
	return nil
}
