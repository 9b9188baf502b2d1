package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"partstore/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "partstore",
		Short: "Partstore is a local encrypted attachment store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newStoreCmd(cfg, &jsonOutput),
		newCatCmd(cfg),
		newLsCmd(cfg, &jsonOutput),
		newShowCmd(cfg, &jsonOutput),
		newRmCmd(cfg),
		newRmMessageCmd(cfg),
		newAssignCmd(cfg),
		newTransferCmd(cfg, &jsonOutput),
		newCaptionCmd(cfg),
		newGCCmd(cfg, &jsonOutput),
		newExportCmd(cfg),
		newConfigCmd(cfg),
		newMigrateCmd(cfg),
	)

	return cmd
}
