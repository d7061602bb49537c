package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/trending"
	"goflare.io/trending/internal/config"
	"goflare.io/trending/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	configPath string
	redisURL   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "trending",
		Short:         "Trending video fetcher with a tiered cache",
		Long:          "trending fetches trending videos from the upstream API, caches them for 24h and serves them over HTTP, falling back to stale data when the upstream is down.",
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.redisURL, "redis", "", "redis URL, overrides REDIS_URL")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides LOG_LEVEL")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newRefreshCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trending %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the config file and environment, then builds the logger
// the config asks for.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	overrides := []config.Option{config.WithLogger(zap.NewNop())}
	if o.redisURL != "" {
		overrides = append(overrides, config.WithRedisURL(o.redisURL))
	}
	cfg, err := config.Load(o.configPath, overrides...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogConfig.Level = o.logLevel
	}

	log, err := logger.New(cfg.LogConfig.Level, cfg.LogConfig.Env)
	if err != nil {
		return nil, err
	}
	cfg.Logger = log
	return cfg, nil
}

// open loads the config and builds the pipeline. The caller closes it and
// syncs the logger.
func (o *rootOptions) open(ctx context.Context) (*trending.Trending, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	tr, err := trending.NewFromConfig(ctx, cfg, nil)
	if err != nil {
		logger.Sync(cfg.Logger)
		return nil, nil, fmt.Errorf("initializing pipeline: %w", err)
	}
	return tr, cfg, nil
}
