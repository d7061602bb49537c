package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/trending/internal/api"
	"goflare.io/trending/internal/logger"
	"goflare.io/trending/internal/scheduler"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the refresh scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tr, cfg, err := opts.open(ctx)
			if err != nil {
				return err
			}
			log := cfg.Logger
			defer logger.Sync(log)
			defer func() {
				if err := tr.Close(); err != nil {
					log.Error("Failed to close pipeline", zap.Error(err))
				}
			}()

			var sched *scheduler.Scheduler
			if sc := cfg.SchedulerConfig; sc.Enabled {
				scfg := scheduler.Config{
					Spec:       sc.Spec,
					Region:     cfg.Region,
					Categories: cfg.DefaultCategories,
					Limit:      cfg.DefaultLimit,
					JobTimeout: cfg.UpstreamConfig.FetchTimeout * scheduleWidth(cfg.DefaultCategories),
					SweepSpec:  sc.SweepSpec,
					Sweeper:    tr,
				}
				if tr.PrefetchEnabled() {
					scfg.PrefetchSpec = sc.PrefetchSpec
					scfg.Prefetcher = tr
				}
				sched, err = scheduler.New(tr, scfg, log)
				if err != nil {
					return err
				}
				sched.Start()
				if sc.Warmup {
					go sched.RunOnce(ctx)
				}
			}

			if addr == "" {
				addr = cfg.HTTPConfig.Addr
			}
			srv := api.NewServer(tr, api.Config{
				Addr:          addr,
				DefaultRegion: cfg.Region,
				Version:       version,
				ReadTimeout:   cfg.HTTPConfig.ReadTimeout,
				WriteTimeout:  cfg.HTTPConfig.WriteTimeout,
			}, log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				log.Info("Shutting down")
			}

			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTPConfig.ShutdownTimeout)
			defer cancel()
			shutdownErr := srv.Shutdown(sctx)
			if sched != nil {
				shutdownErr = errors.Join(shutdownErr, sched.Stop(sctx))
			}
			return errors.Join(err, shutdownErr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config")
	return cmd
}

func scheduleWidth(categories []string) time.Duration {
	if len(categories) == 0 {
		return 1
	}
	return time.Duration(len(categories))
}
