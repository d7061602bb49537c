package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"goflare.io/trending/internal/cache"
)

// BloomConfig 布隆過濾器配置
type BloomConfig struct {
	Enabled           bool
	ExpectedItems     uint
	FalsePositiveRate float64
	RebuildInterval   time.Duration
}

// keyFilter remembers which keys were ever written so reads of unknown keys
// skip the round trip. Until a rebuild from SCAN succeeds every key passes.
type keyFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	ready  bool
	cfg    BloomConfig
	logger *zap.Logger
}

func newKeyFilter(cfg BloomConfig, logger *zap.Logger) *keyFilter {
	return &keyFilter{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		cfg:    cfg,
		logger: logger,
	}
}

// Add adds a key to the bloom filter.
func (kf *keyFilter) Add(key string) {
	kf.mu.Lock()
	kf.filter.AddString(key)
	kf.mu.Unlock()
}

// Test reports whether key may have been written.
func (kf *keyFilter) Test(key string) bool {
	kf.mu.RLock()
	defer kf.mu.RUnlock()
	if !kf.ready {
		return true
	}
	return kf.filter.TestString(key)
}

// Rebuild reconstructs the filter from every trending key in redis.
func (kf *keyFilter) Rebuild(ctx context.Context, s *Store) error {
	fresh := bloom.NewWithEstimates(kf.cfg.ExpectedItems, kf.cfg.FalsePositiveRate)

	var cursor uint64
	count := 0
	for {
		var keys []string
		err := s.exec(ctx, func() error {
			var err error
			keys, cursor, err = s.client.Scan(ctx, cursor, cache.KeyPrefix+"*", 1000).Result()
			return err
		})
		if err != nil {
			kf.mu.Lock()
			kf.ready = false
			kf.mu.Unlock()
			return fmt.Errorf("failed to scan keys from remote cache: %w", err)
		}

		for _, key := range keys {
			fresh.AddString(key)
		}
		count += len(keys)

		if cursor == 0 {
			break
		}
	}

	kf.mu.Lock()
	kf.filter = fresh
	kf.ready = true
	kf.mu.Unlock()

	kf.logger.Debug("Rebuilt bloom filter", zap.Int("keys", count))
	return nil
}

// PeriodicRebuild periodically rebuilds the bloom filter until ctx is done.
func (kf *keyFilter) PeriodicRebuild(ctx context.Context, s *Store) {
	ticker := time.NewTicker(kf.cfg.RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := kf.Rebuild(ctx, s); err != nil {
				kf.logger.Error("Failed to rebuild bloom filter", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
