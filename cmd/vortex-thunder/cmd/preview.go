package cmd

import (
	"fmt"
	"strconv"

	"vortex-thunder/internal/config"
	"vortex-thunder/internal/packager"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func newPreviewCmd(a *app) *cobra.Command {
	var (
		raw   bool
		width int
	)
	cmd := &cobra.Command{
		Use:   "preview MOD_ID",
		Short: "Render the README a mod's package would ship with",
		Long: `Fetches the mod's metadata from Nexus Mods and renders the README.md that
packaging would generate, without downloading anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modID, err := strconv.Atoi(args[0])
			if err != nil || modID <= 0 {
				return fmt.Errorf("invalid mod id %q", args[0])
			}
			doc, _, err := a.loadMods()
			if err != nil {
				return err
			}
			if err := config.ValidateCredentials(a.cfg, true, false); err != nil {
				return err
			}

			info, err := a.nexusClient(doc).GetModInfo(cmd.Context(), modID)
			if err != nil {
				return err
			}
			readme := packager.RenderReadme(info)
			out := cmd.OutOrStdout()
			if raw || !isTerminal(out) {
				_, err = fmt.Fprint(out, readme)
				return err
			}

			rendered, err := renderMarkdown(readme, width)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(out, rendered)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the markdown source instead of rendering it")
	cmd.Flags().IntVar(&width, "width", 100, "Word wrap width")
	return cmd
}

// renderMarkdown renders markdown for the terminal using glamour.
func renderMarkdown(md string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
