package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"partstore/internal/attach"
	"partstore/internal/config"
	"partstore/internal/store"
)

func newGCCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool
	var reapPreuploads bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Sweep abandoned part files from the parts directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				if shouldReapPreuploads(reapPreuploads, cfg) && !dryRun {
					if err := svc.DeleteAbandonedPreuploads(ctx); err != nil {
						return err
					}
					slog.Info("reaped abandoned preuploads")
				}

				result, err := svc.DeleteAbandonedFiles(ctx, dryRun)
				if err != nil {
					return err
				}
				slog.Info("gc finished",
					"candidates", result.CandidateCount,
					"deleted", result.DeletedCount,
					"failed", result.FailedCount,
					"reclaimed_bytes", result.ReclaimedBytes,
					"dry_run", result.DryRun,
				)

				if *jsonOutput {
					return writeJSON(result)
				}
				return writePlain("candidates=%d deleted=%d failed=%d reclaimed=%d dry_run=%t\n",
					result.CandidateCount, result.DeletedCount, result.FailedCount, result.ReclaimedBytes, result.DryRun)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report candidates without deleting")
	cmd.Flags().BoolVar(&reapPreuploads, "reap-preuploads", false, "also delete records parked on the preupload sentinel")
	return cmd
}

// shouldReapPreuploads combines the flag with the gc.trim_on_collect config
// knob.
func shouldReapPreuploads(flag bool, cfg *config.Config) bool {
	return flag || cfg.GC.TrimOnCollect
}
