package fetcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/trending/internal/models"
)

// PrefetchConfig 預取配置
type PrefetchConfig struct {
	// Threshold is the number of lookups since the last round that makes a
	// request hot.
	Threshold int64
	// MaxKeys caps how many hot requests one round refreshes.
	MaxKeys int
	// Lead refreshes an entry once it expires within this window.
	Lead time.Duration
	// Parallelism bounds concurrent refreshes.
	Parallelism int
	// MaxTracked caps the distinct requests counted per round; new requests
	// past the cap are not counted until the next round.
	MaxTracked int64
}

// DefaultPrefetchConfig returns the settings used for zero fields.
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Threshold:   3,
		MaxKeys:     20,
		Lead:        time.Hour,
		Parallelism: 4,
		MaxTracked:  10000,
	}
}

type hotEntry struct {
	req   models.FetchRequest
	count atomic.Int64
}

// hotKeys counts lookups per cache key between prefetch rounds. The zero
// value counts nothing until enable is called.
type hotKeys struct {
	m     sync.Map // key → *hotEntry
	limit atomic.Int64
	size  atomic.Int64
}

func (h *hotKeys) enable(limit int64) {
	h.limit.Store(limit)
}

func (h *hotKeys) touch(key string, req models.FetchRequest) {
	limit := h.limit.Load()
	if limit <= 0 {
		return
	}
	if v, ok := h.m.Load(key); ok {
		v.(*hotEntry).count.Inc()
		return
	}
	if h.size.Load() >= limit {
		return
	}
	v, loaded := h.m.LoadOrStore(key, &hotEntry{req: req})
	if !loaded {
		h.size.Inc()
	}
	v.(*hotEntry).count.Inc()
}

func (h *hotKeys) tracked() int64 {
	return h.size.Load()
}

type hotRequest struct {
	key   string
	req   models.FetchRequest
	count int64
}

// drain returns the requests at or above threshold, hottest first, and starts
// a new counting round. Keys idle for a whole round are forgotten.
func (h *hotKeys) drain(threshold int64) []hotRequest {
	var out []hotRequest
	h.m.Range(func(k, v any) bool {
		e := v.(*hotEntry)
		n := e.count.Swap(0)
		if n == 0 {
			if _, ok := h.m.LoadAndDelete(k); ok {
				h.size.Dec()
			}
			return true
		}
		if n >= threshold {
			out = append(out, hotRequest{key: k.(string), req: e.req, count: n})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].count > out[j].count })
	return out
}

// Prefetcher 在熱門條目過期前刷新它們
type Prefetcher struct {
	f      *Fetcher
	cfg    PrefetchConfig
	logger *zap.Logger
}

// NewPrefetcher creates a Prefetcher over the lookups seen by f. Lookups are
// only counted once a Prefetcher exists.
func NewPrefetcher(f *Fetcher, cfg PrefetchConfig) *Prefetcher {
	def := DefaultPrefetchConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = def.MaxKeys
	}
	if cfg.Lead <= 0 {
		cfg.Lead = def.Lead
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = def.MaxTracked
	}
	f.hot.enable(cfg.MaxTracked)
	return &Prefetcher{f: f, cfg: cfg, logger: f.logger}
}

// Prefetch refreshes hot requests whose entries are missing or about to
// expire and returns how many were refreshed successfully.
func (p *Prefetcher) Prefetch(ctx context.Context) int {
	hot := p.f.hot.drain(p.cfg.Threshold)
	if len(hot) > p.cfg.MaxKeys {
		hot = hot[:p.cfg.MaxKeys]
	}

	deadline := p.f.clock.Now().Add(p.cfg.Lead)
	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)

	for _, h := range hot {
		if entry, ok := p.f.store.GetStale(ctx, h.key); ok && entry.ExpiresAt().After(deadline) {
			continue
		}
		g.Go(func() error {
			if _, err := p.f.Refresh(gctx, h.req); err != nil {
				p.logger.Warn("Failed to prefetch key", zap.String("key", h.key), zap.Error(err))
				return nil
			}
			refreshed.Inc()
			return nil
		})
	}
	_ = g.Wait()

	if n := refreshed.Load(); n > 0 {
		p.logger.Info("Prefetched hot keys", zap.Int64("refreshed", n), zap.Int("hot", len(hot)))
	}
	return int(refreshed.Load())
}
