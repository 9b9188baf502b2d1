package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"partstore/internal/config"
)

func newConfigCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and edit configuration"}
	cmd.AddCommand(
		newConfigGetCmd(cfg),
		newConfigSetCmd(),
		newConfigListCmd(cfg),
	)
	return cmd
}

func newConfigGetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one config value",
		Args:  requireExactlyArgs(1, "config key is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			return writePlain("%s\n", value)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value in the global config file",
		Args:  requireExactlyArgs(2, "config key and value are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GlobalPath()
			if err != nil {
				return err
			}
			if err := config.SetKey(path, args[0], args[1]); err != nil {
				return err
			}
			return writePlain("%s = %s (%s)\n", args[0], args[1], path)
		},
	}
}

func newConfigListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all config values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range config.AllowedKeys() {
				value, err := cfg.Get(key)
				if err != nil {
					return fmt.Errorf("get %s: %w", key, err)
				}
				if err := writePlain("%s = %s\n", key, value); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
