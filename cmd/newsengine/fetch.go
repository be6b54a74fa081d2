package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/config"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var sweep bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Poll every active source once, cluster the new articles and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			results, pollErr := a.ingestion.PollAll(ctx)

			// Closing drains the clustering consumers before the sweep reads cluster state.
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Seconds(cfg.HTTP.ShutdownSec))
			defer cancel()
			if err := a.bus.Close(); err != nil {
				logger.Error("Failed to drain events", zap.Error(err))
			}
			if sweep {
				res, err := a.clustering.Sweep(closeCtx)
				if err != nil {
					logger.Error("Cluster sweep failed", zap.Error(err))
				} else {
					logger.Info("Cluster sweep done",
						zap.Int("checked", res.Checked), zap.Int("transitioned", res.Transitioned))
				}
			}
			if err := a.ranking.Close(closeCtx); err != nil {
				logger.Error("Failed to drain feedback", zap.Error(err))
			}
			a.store.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
			return pollErr
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", false, "run a cluster lifecycle sweep after polling")
	return cmd
}
