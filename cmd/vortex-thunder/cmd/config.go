package cmd

import (
	"fmt"

	"vortex-thunder/internal/config"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a default settings file",
		Args:  cobra.MaximumNArgs(1),
		// The file being created may not exist yet, so settings are not loaded.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigFilePath
			if a.cfgFile != "" {
				path = a.cfgFile
			}
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefaultConfig(path, force); err != nil {
				return err
			}
			log.Infof("Wrote default settings to %s", path)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}
