package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chunkstore/internal/config"
	"chunkstore/internal/server"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "srv",
		Short: "Run the chunkstore API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return withApp(cfg, func(a *app) error {
				logger := a.logger.With("component", "server")
				srv := server.New(addr, a.store, a.files, cfg.Storage.Backend, logger)

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return srv.ListenAndServe(gctx)
				})
				if !noWorker {
					g.Go(func() error {
						return a.runner().Run(gctx, cfg.Deletion.PollInterval)
					})
				}
				return g.Wait()
			})
		},
	}

	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run deferred deletions in this process")
	return cmd
}
