package cmd

import (
	"context"
	"fmt"
	"io"

	"vortex-thunder/internal/config"
	"vortex-thunder/internal/models"
	"vortex-thunder/internal/modstore"
	"vortex-thunder/internal/pipeline"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// action is one of the three things the tool can do with the mods document.
type action string

const (
	actionRun      action = "run"
	actionDownload action = "download"
	actionUpload   action = "upload"
)

// actionFlags are the per-command options shared by run, download and upload.
type actionFlags struct {
	modIDs []int
	force  bool
}

func newRunCmd(a *app) *cobra.Command {
	var f actionFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download, package and upload every mod with a new version",
		Long: `For each configured mod, fetch its metadata from Nexus Mods and, when the
version differs from the last processed one, download the latest file,
repackage it for Thunderstore and upload it. Failures are reported per mod
and never stop the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd.Context(), cmd.OutOrStdout(), actionRun, f)
		},
	}
	addActionFlags(cmd, &f, true)
	cmd.Flags().Bool("dry-run", false, "Package but do not upload or record versions")
	cmd.Flags().Bool("keep-downloads", false, "Keep downloaded archives after packaging")
	cmd.Flags().Bool("allow-pending", false, "Package mods whose dependencies are not processed yet, dropping those dependencies")
	cmd.Flags().Int("max-retries", config.DefaultMaxRetries, "Attempts per HTTP request before giving up")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var f actionFlags
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and package new versions without uploading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd.Context(), cmd.OutOrStdout(), actionDownload, f)
		},
	}
	addActionFlags(cmd, &f, true)
	cmd.Flags().Bool("keep-downloads", false, "Keep downloaded archives after packaging")
	cmd.Flags().Bool("allow-pending", false, "Package mods whose dependencies are not processed yet, dropping those dependencies")
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	var f actionFlags
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload the packages already built for each mod's last processed version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd.Context(), cmd.OutOrStdout(), actionUpload, f)
		},
	}
	addActionFlags(cmd, &f, false)
	cmd.Flags().Bool("dry-run", false, "List what would be uploaded without uploading")
	return cmd
}

func addActionFlags(cmd *cobra.Command, f *actionFlags, withForce bool) {
	cmd.Flags().IntSliceVar(&f.modIDs, "mod", nil, "Only process these Nexus mod ids (repeatable or comma separated)")
	if withForce {
		cmd.Flags().BoolVar(&f.force, "force", false, "Reprocess mods even when their version is unchanged")
	}
}

// runAction performs one action over the mods document and prints the report.
// Setup problems are returned as errors; per-mod failures are only reported.
func (a *app) runAction(ctx context.Context, out io.Writer, act action, f actionFlags) error {
	doc, store, err := a.loadMods()
	if err != nil {
		return err
	}

	needNexus := act != actionUpload
	needUpload := act != actionDownload && !a.cfg.DryRun
	if err := config.ValidateCredentials(a.cfg, needNexus, needUpload); err != nil {
		return err
	}
	if missing := unknownModIDs(doc, f.modIDs); len(missing) > 0 {
		return fmt.Errorf("--mod: ids %v are not in %s", missing, a.cfg.ModsFile)
	}

	st := a.openStores()
	defer st.Close()

	p := a.buildPipeline(doc, store, st, pipeline.Options{
		ModIDs:        f.modIDs,
		Force:         f.force,
		DryRun:        a.cfg.DryRun,
		KeepDownloads: a.cfg.KeepDownloads,
	})

	var report *pipeline.Report
	switch act {
	case actionRun:
		report = p.Run(ctx, doc)
	case actionDownload:
		report = p.Download(ctx, doc)
	case actionUpload:
		report = p.Upload(ctx, doc)
	default:
		return fmt.Errorf("unknown action %q", act)
	}

	if n := len(report.Failures()); n > 0 {
		log.Warnf("%d of %d mods failed", n, len(report.Statuses))
	}
	return report.Render(out, isTerminal(out))
}

func unknownModIDs(doc *models.ModsDocument, ids []int) []int {
	var missing []int
	for _, id := range ids {
		if modstore.FindByID(doc, id) < 0 {
			missing = append(missing, id)
		}
	}
	return missing
}
