package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"vortex-thunder/internal/config"
	"vortex-thunder/internal/database"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		modID int
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded pipeline outcomes",
		Long:  `Lists the per-mod outcomes recorded by previous runs, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(config.HistoryDBPath(a.cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			var records []database.RunRecord
			if modID > 0 {
				records, err = db.ForMod(cmd.Context(), modID)
				if len(records) > limit && limit > 0 {
					records = records[:limit]
				}
			} else {
				records, err = db.Latest(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if err := printHistory(cmd.OutOrStdout(), records); err != nil {
				return err
			}
			if modID > 0 {
				last, err := db.LastDone(cmd.Context(), modID)
				if err != nil {
					return err
				}
				if last != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "\nLast completed: %s at %s\n",
						last.Version, last.Timestamp.Local().Format(time.DateTime))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&modID, "mod", 0, "Only show this Nexus mod id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show")
	return cmd
}

func printHistory(w io.Writer, records []database.RunRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No history recorded yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMOD\tNAME\tVERSION\tSTATE\tRUN\tDETAIL")
	for _, r := range records {
		detail := r.Error
		if detail == "" && r.Digest != "" {
			detail = "blake3:" + shortDigest(r.Digest)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.ModID, r.ModName, r.Version, r.State,
			r.RunID.String()[:8], detail)
	}
	return tw.Flush()
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}
