package main

import (
	"time"

	"github.com/spf13/cobra"

	"chunkstore/internal/config"
	"chunkstore/internal/deferred"
	"chunkstore/internal/filestore"
)

type gcResult struct {
	Blobs        filestore.BlobGCResult `json:"blobs" yaml:"blobs"`
	Deletions    *deferred.RunResult    `json:"deletions,omitempty" yaml:"deletions,omitempty"`
	ExpiredLocks int64                  `json:"expired_locks" yaml:"expired_locks"`
}

func newGCCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		apply     bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Garbage-collect unreferenced blobs and run due deletions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize <= 0 {
				batchSize = cfg.Blobs.GCBatchSize
			}

			return withApp(cfg, func(a *app) error {
				ctx := cmd.Context()
				var result gcResult
				blobs, err := a.files.GCBlobs(ctx, batchSize, apply)
				if err != nil {
					return err
				}
				result.Blobs = blobs

				if apply {
					runResult, err := a.runner().RunDue(ctx)
					if err != nil {
						return err
					}
					result.Deletions = &runResult
					purged, err := a.store.PurgeExpiredLocks(ctx, time.Now())
					if err != nil {
						return err
					}
					result.ExpiredLocks = purged
				}

				if out.structured() {
					return out.write(result)
				}
				mode := "dry run"
				if apply {
					mode = "applied"
				}
				if err := writePlain("%s: candidates=%d deleted=%d failed=%d reclaimed=%s\n",
					mode, blobs.CandidateCount, blobs.DeletedCount, blobs.FailedCount, humanBytes(blobs.ReclaimedBytes)); err != nil {
					return err
				}
				if result.Deletions != nil {
					return writePlain("deletions: deleted=%d skipped=%d failed=%d expired_locks=%d\n",
						result.Deletions.Deleted, result.Deletions.Skipped, result.Deletions.Failed, result.ExpiredLocks)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "delete unreferenced blobs (default is a dry run)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "apply-mode batch size (default: blobs.gc_batch_size)")
	return cmd
}

func newWorkerCmd(cfg *config.Config) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run deferred blob deletions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = cfg.Deletion.PollInterval
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return withApp(cfg, func(a *app) error {
				a.logger.Info("deletion worker started", "interval", interval)
				err := a.runner().Run(ctx, interval)
				a.logger.Info("deletion worker stopped")
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default: deletion.poll_interval)")
	return cmd
}
