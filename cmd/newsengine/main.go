// Package main is the entry point for the news intelligence engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/config"
	logpkg "github.com/newsiq/newsengine/internal/logger"
)

type rootOptions struct {
	env        string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "newsengine",
		Short:         "News intelligence engine",
		Long:          "newsengine ingests RSS feeds, clusters articles into stories, ranks personalized feeds and serves deep research analyses.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.env, "env", config.GetEnv(), "environment: local, dev, docker or prod")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: config/<env>.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, feed pollers and scheduled jobs",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), opts)
			},
		},
		newFetchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// bootstrap loads configuration and builds the process logger.
func bootstrap(opts *rootOptions) (config.Config, *zap.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(opts.env)
	}
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	logOpts := logpkg.Options{Level: cfg.Logging.Level}
	if f := cfg.Logging.File; f.Path != "" {
		logOpts.File = &logpkg.FileOptions{
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		}
	}
	logger, err := logpkg.NewLogger(opts.env, logOpts)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "newsengine:", err)
		os.Exit(1)
	}
}
