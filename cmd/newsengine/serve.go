package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newsiq/newsengine/internal/config"
	"github.com/newsiq/newsengine/internal/schedule"
	chitransport "github.com/newsiq/newsengine/internal/transport/chi"
	"github.com/newsiq/newsengine/internal/version"
)

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting newsengine",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", opts.env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("sources", len(cfg.Ingestion.Sources)),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Error("Error during cleanup", zap.Error(err))
		}
	}()

	if len(cfg.Auth.AdminAPIKeys) == 0 {
		logger.Warn("No admin API keys configured, admin endpoints are unprotected")
	}

	sched := schedule.New(logger)
	if err := registerJobs(sched, a); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	server := chitransport.NewServer(chitransport.Deps{
		Feed:      a.ranking,
		Articles:  a.articles,
		Research:  a.research,
		Stories:   a.clustering,
		Ingestion: a.ingestion,
		Health:    a.health,
	}, chitransport.AuthConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		AdminKeys: cfg.Auth.AdminAPIKeys,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  config.Seconds(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Seconds(cfg.HTTP.WriteTimeoutSec),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ingestion.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func registerJobs(sched *schedule.Scheduler, a *app) error {
	sweep := schedule.JobFunc{JobName: "cluster_sweep", Fn: func(ctx context.Context) error {
		res, err := a.clustering.Sweep(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("Cluster sweep done",
			zap.Int("checked", res.Checked), zap.Int("transitioned", res.Transitioned))
		return nil
	}}
	cleanup := schedule.JobFunc{JobName: "research_cleanup", Fn: func(ctx context.Context) error {
		n, err := a.research.Cleanup(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("Research cache cleaned", zap.Int("removed", n))
		return nil
	}}

	if err := sched.Add(sweep, a.cfg.Jobs.ClusterSweep); err != nil {
		return err
	}
	return sched.Add(cleanup, a.cfg.Jobs.ResearchCleanup)
}
