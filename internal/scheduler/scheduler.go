package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"goflare.io/trending/internal/fetcher"
	"goflare.io/trending/internal/models"
)

// DefaultSpec refreshes once a day at midnight.
const DefaultSpec = "0 0 * * *"

// Refresher 是排程呼叫的刷新介面
type Refresher interface {
	Refresh(ctx context.Context, req models.FetchRequest) (fetcher.Result, error)
}

// Sweeper drops expired local entries.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Prefetcher refreshes hot entries before they expire.
type Prefetcher interface {
	Prefetch(ctx context.Context) int
}

// Config 排程配置
type Config struct {
	Spec       string
	Region     string
	Categories []string
	Limit      int
	// JobTimeout bounds one full refresh run; zero means no bound.
	JobTimeout time.Duration
	// SweepSpec schedules Sweeper.Sweep when a Sweeper is set.
	SweepSpec string
	Sweeper   Sweeper
	// PrefetchSpec schedules Prefetcher.Prefetch when a Prefetcher is set.
	PrefetchSpec string
	Prefetcher   Prefetcher
}

// Report summarizes one refresh run.
type Report struct {
	Refreshed []string
	Stale     []string
	Failed    map[string]error
}

// Scheduler 週期性刷新預設分類
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	cfg       Config
	logger    *zap.Logger
	refreshID cron.EntryID
}

// New validates the cron specs and registers the jobs. Nothing runs until Start.
func New(r Refresher, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("scheduler: refresher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Limit == 0 {
		cfg.Limit = models.DefaultLimit
	}

	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		refresher: r,
		cfg:       cfg,
		logger:    logger,
	}

	id, err := s.cron.AddFunc(cfg.Spec, s.runJob)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Spec, err)
	}
	s.refreshID = id
	if cfg.Sweeper != nil && cfg.SweepSpec != "" {
		if _, err := s.cron.AddFunc(cfg.SweepSpec, s.sweep); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSpec, err)
		}
	}
	if cfg.Prefetcher != nil && cfg.PrefetchSpec != "" {
		if _, err := s.cron.AddFunc(cfg.PrefetchSpec, s.prefetch); err != nil {
			return nil, fmt.Errorf("invalid prefetch schedule %q: %w", cfg.PrefetchSpec, err)
		}
	}
	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("Scheduler started",
		zap.String("spec", s.cfg.Spec),
		zap.Strings("categories", s.cfg.Categories),
		zap.String("region", s.cfg.Region))
	s.cron.Start()
}

// Stop stops the loop and waits for a running job, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next planned run of the refresh job.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.refreshID).Next
}

// RunOnce refreshes every configured category synchronously. A failing
// category is logged and reported; the rest still run.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	report := Report{Failed: make(map[string]error)}
	for _, category := range s.requests() {
		req := models.FetchRequest{Region: s.cfg.Region, Category: category, Limit: s.cfg.Limit}
		res, err := s.refresher.Refresh(ctx, req)
		switch {
		case err != nil:
			s.logger.Error("Scheduled refresh failed",
				zap.String("category", category), zap.Error(err))
			report.Failed[category] = err
		case res.Outcome == fetcher.OutcomeStale:
			s.logger.Warn("Scheduled refresh served stale data",
				zap.String("category", category), zap.String("key", res.Key))
			report.Stale = append(report.Stale, category)
		default:
			s.logger.Info("Scheduled refresh done",
				zap.String("category", category), zap.Int("items", len(res.Items)))
			report.Refreshed = append(report.Refreshed, category)
		}
	}
	return report
}

// requests returns the categories to refresh; none configured means the
// unfiltered chart.
func (s *Scheduler) requests() []string {
	if len(s.cfg.Categories) == 0 {
		return []string{""}
	}
	return s.cfg.Categories
}

func (s *Scheduler) runJob() {
	start := time.Now()
	report := s.RunOnce(context.Background())
	s.logger.Info("Scheduled job finished",
		zap.Int("refreshed", len(report.Refreshed)),
		zap.Int("stale", len(report.Stale)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Scheduler) sweep() {
	n := s.cfg.Sweeper.Sweep(context.Background())
	s.logger.Debug("Swept expired local entries", zap.Int("removed", n))
}

func (s *Scheduler) prefetch() {
	ctx := context.Background()
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}
	s.cfg.Prefetcher.Prefetch(ctx)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
