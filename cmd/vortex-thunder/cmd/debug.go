package cmd

import (
	"encoding/json"
	"fmt"

	"vortex-thunder/internal/config"

	"github.com/spf13/cobra"
)

func newDebugCmd(a *app) *cobra.Command {
	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Debugging utilities (not for general use)",
		Long:  `Contains helper commands for debugging application behavior, like inspecting configuration.`,
	}

	debugCmd.AddCommand(&cobra.Command{
		Use:   "show-config",
		Short: "Print the fully loaded configuration object as JSON",
		Long: `Loads configuration via flags, environment and config file (respecting precedence)
and prints the final resulting configuration struct to stdout as JSON, with secrets masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonBytes, err := json.MarshalIndent(config.Masked(a.cfg), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal config to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
			return nil
		},
	})
	return debugCmd
}
