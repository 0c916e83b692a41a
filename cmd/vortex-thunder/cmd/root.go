package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vortex-thunder/internal/api"
	"vortex-thunder/internal/config"
	"vortex-thunder/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries the loaded configuration from PersistentPreRunE to the commands.
type app struct {
	flags     config.CliFlags
	cfg       models.Config
	transport http.RoundTripper
	logCloser io.Closer

	// stderr receives log output; tests swap it out.
	stderr io.Writer

	// persistent flag values
	cfgFile    string
	envFile    string
	modsFile   string
	logLevel   string
	logFormat  string
	logFile    string
	logApiFlag bool
}

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{stderr: os.Stderr})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vortex-thunder",
		Short: "Repackage Nexus Mods releases for Thunderstore",
		Long: `vortex-thunder watches a list of Nexus Mods entries, downloads new releases,
repackages them in the Thunderstore layout and uploads them.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadGlobalConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { a.close() },
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "Settings file path (default ./"+config.DefaultConfigFilePath+")")
	pf.StringVar(&a.envFile, "env-file", config.DefaultEnvFile, "File of KEY=value secrets loaded into the environment")
	pf.StringVar(&a.modsFile, "mods", "", "Mods document path (overrides config)")
	pf.StringVar(&a.logLevel, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&a.logFormat, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	pf.StringVar(&a.logFile, "log-file", config.DefaultLogFile, "Append logs to this file as well as stderr (empty disables)")
	pf.BoolVar(&a.logApiFlag, "log-api", false, "Log API requests/responses to api.log under the data dir (overrides config)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newDownloadCmd(a),
		newUploadCmd(a),
		newMenuCmd(a),
		newHistoryCmd(a),
		newSearchCmd(a),
		newPreviewCmd(a),
		newConfigCmd(a),
		newDebugCmd(a),
	)
	return rootCmd
}

// Execute runs the CLI and exits 1 on error. Ctrl-C cancels the current run;
// mods not yet started are reported as skipped.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	// PersistentPostRun is skipped when a command fails.
	api.CloseAllLoggingTransports()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadGlobalConfig loads settings, applies flags that were explicitly set,
// and configures logging before any command runs.
func (a *app) loadGlobalConfig(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("config") {
		a.flags.ConfigFilePath = &a.cfgFile
	}
	if flags.Changed("env-file") {
		a.flags.EnvFile = &a.envFile
	}
	if flags.Changed("mods") {
		a.flags.ModsFile = &a.modsFile
	}
	if flags.Changed("log-level") {
		a.flags.LogLevel = &a.logLevel
	}
	if flags.Changed("log-format") {
		a.flags.LogFormat = &a.logFormat
	}
	if flags.Changed("log-file") {
		a.flags.LogFile = &a.logFile
	}
	if flags.Changed("log-api") {
		a.flags.LogApiRequests = &a.logApiFlag
	}
	bindCommandFlags(cmd, &a.flags)

	cfg, transport, err := config.Initialize(a.flags)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.transport = transport

	closer, err := config.SetupLogging(cfg, a.stderr)
	if err != nil {
		return err
	}
	a.logCloser = closer
	log.Debugf("Loaded configuration (mods file %s)", cfg.ModsFile)
	return nil
}

// bindCommandFlags copies command-local flags that mirror settings.
func bindCommandFlags(cmd *cobra.Command, flags *config.CliFlags) {
	f := cmd.Flags()
	if f.Lookup("dry-run") != nil && f.Changed("dry-run") {
		v, _ := f.GetBool("dry-run")
		flags.DryRun = &v
	}
	if f.Lookup("keep-downloads") != nil && f.Changed("keep-downloads") {
		v, _ := f.GetBool("keep-downloads")
		flags.KeepDownloads = &v
	}
	if f.Lookup("allow-pending") != nil && f.Changed("allow-pending") {
		v, _ := f.GetBool("allow-pending")
		flags.AllowPendingDependencies = &v
	}
	if f.Lookup("max-retries") != nil && f.Changed("max-retries") {
		v, _ := f.GetInt("max-retries")
		flags.MaxRetries = &v
	}
}

func (a *app) close() {
	api.CloseAllLoggingTransports()
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
		}
		a.logCloser = nil
		log.SetOutput(os.Stderr)
	}
}
