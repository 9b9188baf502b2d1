package main

import (
	"context"

	"github.com/spf13/cobra"

	"partstore/internal/attach"
	"partstore/internal/config"
	"partstore/internal/store"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	var plan bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if plan {
				status, err := store.PlanMigrations(cfg.DBPath)
				if err != nil {
					return err
				}
				return writeJSON(status)
			}

			// Opening the store applies pending migrations.
			return withService(cfg, func(ctx context.Context, _ *attach.Service, meta *store.Store) error {
				status, err := store.MigrationPlan(meta.DB())
				if err != nil {
					return err
				}
				return writePlain("schema at version %d of %d\n", status.CurrentVersion, status.AvailableVersion)
			})
		},
	}

	cmd.Flags().BoolVar(&plan, "plan", false, "print migration status as JSON without applying")
	return cmd
}
