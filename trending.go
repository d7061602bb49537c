// Package trending wires the trending fetch-cache-serve pipeline: an upstream
// client, a tiered cache and the orchestrator that chooses between them.
package trending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/trending/internal/cache"
	"goflare.io/trending/internal/cache/limited"
	"goflare.io/trending/internal/cache/multi"
	"goflare.io/trending/internal/cache/remote"
	"goflare.io/trending/internal/config"
	"goflare.io/trending/internal/fetcher"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/retrier"
	"goflare.io/trending/internal/upstream"
	"goflare.io/trending/internal/utils"
	"goflare.io/trending/pkg/serialization"
)

// redisPingTimeout bounds the connectivity check done at startup.
const redisPingTimeout = 5 * time.Second

type (
	Request = models.FetchRequest
	Item    = models.Item
	Result  = fetcher.Result
	Stats   = models.FetchStats
)

// Option 定義初始化 Trending 的選項
type Option func(*config.Config) error

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return Option(config.WithLogger(logger))
}

// WithAPIKey 設置上游 API key
func WithAPIKey(key string) Option {
	return Option(config.WithAPIKey(key))
}

// WithUpstreamBaseURL 設置上游位址
func WithUpstreamBaseURL(u string) Option {
	return Option(config.WithUpstreamBaseURL(u))
}

// WithRedisURL 啟用 redis 緩存層
func WithRedisURL(u string) Option {
	return Option(config.WithRedisURL(u))
}

// WithCacheTTL 設置緩存過期時間
func WithCacheTTL(ttl time.Duration) Option {
	return Option(config.WithCacheTTL(ttl))
}

// WithSerialization 設置序列化方式
func WithSerialization(name string) Option {
	return Option(config.WithSerialization(name))
}

// WithRetryDelays 設置上游重試
func WithRetryDelays(attempts int, base, max time.Duration) Option {
	return Option(config.WithRetryDelays(attempts, base, max))
}

// Trending 定義服務的主要結構體
type Trending struct {
	cfg        *config.Config
	fetcher    *fetcher.Fetcher
	prefetcher *fetcher.Prefetcher
	store      cache.Store
	local      *limited.Store
	logger     *zap.Logger
}

// New 初始化 Trending，接受多個配置選項
func New(ctx context.Context, opts ...Option) (*Trending, error) {
	copts := make([]config.Option, len(opts))
	for i, opt := range opts {
		copts[i] = config.Option(opt)
	}
	cfg, err := config.NewConfig(copts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	return NewFromConfig(ctx, cfg, nil)
}

// NewFromConfig builds the pipeline from a loaded Config. A nil clock means
// wall time.
func NewFromConfig(ctx context.Context, cfg *config.Config, clock utils.Clock) (*Trending, error) {
	clock = utils.OrSystem(clock)
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Trending{cfg: cfg, logger: logger}

	store, err := t.buildStore(ctx, clock)
	if err != nil {
		return nil, err
	}
	t.store = store

	up, err := t.buildUpstream()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	t.fetcher = fetcher.New(store, up, models.NewRecorder(clock.Now()),
		fetcher.WithTTL(cfg.CacheConfig.TTL),
		fetcher.WithFetchTimeout(cfg.UpstreamConfig.FetchTimeout),
		fetcher.WithClock(clock),
		fetcher.WithLogger(logger),
	)
	if pc := cfg.CacheConfig.Prefetch; pc.Enabled {
		t.prefetcher = fetcher.NewPrefetcher(t.fetcher, fetcher.PrefetchConfig{
			Threshold: pc.Threshold,
			MaxKeys:   pc.MaxKeys,
			Lead:      pc.Lead,
		})
	}

	logger.Info("Trending pipeline initialized",
		zap.String("region", cfg.Region),
		zap.Bool("localCache", t.local != nil),
		zap.Bool("redis", cfg.RedisEnabled()))
	return t, nil
}

// buildStore picks the cache tiers. A redis that cannot be reached at startup
// is dropped and the service runs on the in-process tier alone.
func (t *Trending) buildStore(ctx context.Context, clock utils.Clock) (cache.Store, error) {
	cfg := t.cfg
	cc := cfg.CacheConfig

	var rs *remote.Store
	if cfg.RedisEnabled() {
		var err error
		rs, err = t.buildRemote(ctx, clock)
		if err != nil {
			t.logger.Warn("Redis unavailable, caching in process only", zap.Error(err))
			rs = nil
		}
	}

	if cc.EnableLocalCache || rs == nil {
		ls, err := limited.New(cc.MaxLocalEntries, t.logger,
			limited.WithClock(clock),
			limited.WithStaleRetention(cc.StaleRetention))
		if err != nil {
			if rs != nil {
				_ = rs.Close()
			}
			return nil, fmt.Errorf("failed to create local cache: %w", err)
		}
		t.local = ls
	}

	switch {
	case rs != nil && t.local != nil:
		return multi.New(t.local, rs, clock, t.logger), nil
	case rs != nil:
		return rs, nil
	default:
		return t.local, nil
	}
}

func (t *Trending) buildRemote(ctx context.Context, clock utils.Clock) (*remote.Store, error) {
	cfg := t.cfg
	opts, err := redis.ParseURL(cfg.RedisConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	codec, err := serialization.ByName(cfg.CacheConfig.Serialization)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	rc := cfg.ResilienceConfig
	r, err := remote.NewRetrier(rc.MaxAttempts, rc.InitialInterval, rc.MaxInterval)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	bf := cfg.CacheConfig.BloomFilter
	rs, err := remote.New(ctx, client, remote.Config{
		StaleRetention: cfg.CacheConfig.StaleRetention,
		Codec:          codec,
		Breaker:        rc.CircuitBreaker,
		Bloom: remote.BloomConfig{
			Enabled:           bf.Enabled,
			ExpectedItems:     bf.ExpectedItems,
			FalsePositiveRate: bf.FalsePositiveRate,
			RebuildInterval:   bf.RebuildInterval,
		},
		Retrier: r,
		Clock:   clock,
		Logger:  t.logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	t.logger.Info("Redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return rs, nil
}

func (t *Trending) buildUpstream() (*upstream.Client, error) {
	uc := t.cfg.UpstreamConfig
	r, err := retrier.NewRetrier(uc.MaxAttempts, uc.BaseDelay, uc.MaxDelay, 2, 0, retrier.ExponentialBackoff)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream retrier: %w", err)
	}
	c, err := upstream.New(upstream.Config{
		BaseURL:  uc.BaseURL,
		APIKey:   uc.APIKey,
		Timeout:  uc.Timeout,
		PageSize: uc.PageSize,
		MaxPages: uc.MaxPages,
	}, r, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	return c, nil
}

// Resolve 取得 trending 項目
func (t *Trending) Resolve(ctx context.Context, req Request) (Result, error) {
	return t.fetcher.Resolve(ctx, req)
}

// Refresh 強制從上游刷新
func (t *Trending) Refresh(ctx context.Context, req Request) (Result, error) {
	return t.fetcher.Refresh(ctx, req)
}

// Invalidate 刪除快取項目
func (t *Trending) Invalidate(ctx context.Context, req Request) error {
	return t.fetcher.Invalidate(ctx, req)
}

// Stats returns a snapshot of the pipeline counters.
func (t *Trending) Stats() Stats {
	return t.fetcher.Stats()
}

// Ping checks the cache backend.
func (t *Trending) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// Prefetch refreshes hot entries that are about to expire. It is a no-op when
// prefetching is disabled.
func (t *Trending) Prefetch(ctx context.Context) int {
	if t.prefetcher == nil {
		return 0
	}
	return t.prefetcher.Prefetch(ctx)
}

// PrefetchEnabled reports whether hot key prefetching is configured.
func (t *Trending) PrefetchEnabled() bool {
	return t.prefetcher != nil
}

// Sweep drops expired entries from the in-process tier and returns how many
// were removed.
func (t *Trending) Sweep(ctx context.Context) int {
	if t.local == nil {
		return 0
	}
	return t.local.Sweep(ctx)
}

// Config returns the configuration the pipeline was built with.
func (t *Trending) Config() *config.Config {
	return t.cfg
}

// Close 關閉 Trending，釋放資源
func (t *Trending) Close() error {
	err := t.store.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
