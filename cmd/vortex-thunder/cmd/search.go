package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"vortex-thunder/internal/config"
	"vortex-thunder/internal/index"

	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the catalogue of mods seen by previous runs",
		Long: `Full-text search over name, author, version and summary of every mod whose
metadata has been fetched. Accepts bleve query-string syntax, e.g. author:ada.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.EnsureDataDir(a.cfg); err != nil {
				return err
			}
			idx, err := index.OpenOrCreateIndex(config.IndexPath(a.cfg))
			if err != nil {
				return err
			}
			defer idx.Close()

			hits, err := idx.Search(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No matching mods.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MOD\tNAME\tAUTHOR\tVERSION\tSUMMARY")
			for _, h := range hits {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", h.ModID, h.Name, h.Author, h.Version, truncate(h.Summary, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
