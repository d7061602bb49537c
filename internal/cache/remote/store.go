// Package remote is the redis cache tier.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/trending/internal/cache"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/retrier"
	"goflare.io/trending/internal/utils"
	"goflare.io/trending/pkg/serialization"
)

var _ cache.EntryStore = (*Store)(nil)

// Config 用於 redis 緩存層的配置
type Config struct {
	// StaleRetention extends the redis key TTL beyond the entry TTL so that
	// GetStale keeps working after logical expiry.
	StaleRetention time.Duration
	Codec          serialization.Codec
	Breaker        gobreaker.Settings
	Bloom          BloomConfig
	Retrier        *retrier.Retrier
	Clock          utils.Clock
	Logger         *zap.Logger
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		StaleRetention: cache.DefaultStaleRetention,
		Codec:          serialization.JSON{},
		Breaker:        DefaultBreakerSettings(),
		Bloom: BloomConfig{
			Enabled:           true,
			ExpectedItems:     100_000,
			FalsePositiveRate: 0.01,
			RebuildInterval:   time.Hour,
		},
	}
}

// Store keeps serialized CacheEntry envelopes in redis.
type Store struct {
	client  redis.Cmdable
	cfg     Config
	codec   serialization.Codec
	cb      *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	filter  *keyFilter
	clock   utils.Clock
	logger  *zap.Logger
	tracer  trace.Tracer

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Store. When the bloom filter is enabled it is built from the
// keys already in redis and refreshed in the background until Close.
func New(ctx context.Context, client redis.Cmdable, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	def := DefaultConfig()
	if cfg.StaleRetention < 0 {
		cfg.StaleRetention = 0
	}
	if cfg.Codec == nil {
		cfg.Codec = def.Codec
	}
	if cfg.Breaker.ReadyToTrip == nil {
		name := cfg.Breaker.Name
		cfg.Breaker = def.Breaker
		if name != "" {
			cfg.Breaker.Name = name
		}
	}
	cfg.Breaker.IsSuccessful = isSuccessful
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retrier == nil {
		r, err := DefaultRetrier()
		if err != nil {
			return nil, fmt.Errorf("failed to create retrier: %w", err)
		}
		cfg.Retrier = r
	}

	s := &Store{
		client:  client,
		cfg:     cfg,
		codec:   cfg.Codec,
		cb:      gobreaker.NewCircuitBreaker(cfg.Breaker),
		retrier: cfg.Retrier,
		clock:   utils.OrSystem(cfg.Clock),
		logger:  cfg.Logger,
		tracer:  otel.Tracer("goflare.io/trending/cache/remote"),
		cancel:  func() {},
	}

	if cfg.Bloom.Enabled {
		if cfg.Bloom.ExpectedItems == 0 {
			cfg.Bloom.ExpectedItems = def.Bloom.ExpectedItems
		}
		if cfg.Bloom.FalsePositiveRate <= 0 || cfg.Bloom.FalsePositiveRate >= 1 {
			cfg.Bloom.FalsePositiveRate = def.Bloom.FalsePositiveRate
		}
		s.filter = newKeyFilter(cfg.Bloom, s.logger)
		if err := s.filter.Rebuild(ctx, s); err != nil {
			s.logger.Warn("Bloom filter unavailable, reads go to redis", zap.Error(err))
		}
		if cfg.Bloom.RebuildInterval > 0 {
			bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
			s.cancel = cancel
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.filter.PeriodicRebuild(bg, s)
			}()
		}
	}

	return s, nil
}

// Set stores items under key, timestamped now.
func (s *Store) Set(ctx context.Context, key string, items []models.Item, ttl time.Duration) error {
	return s.Put(ctx, key, models.NewEntry(items, s.clock.Now(), ttl))
}

// Put writes entry with a redis TTL of entry TTL plus stale retention.
func (s *Store) Put(ctx context.Context, key string, entry *models.CacheEntry) error {
	ctx, span := cache.StartSpan(ctx, s.tracer, "remote.Put", key)
	defer span.End()

	stored := *entry
	stored.Stale = false
	data, err := s.codec.Marshal(&stored)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	expiration := entry.TTL + s.cfg.StaleRetention
	if expiration <= 0 {
		expiration = cache.DefaultTTL + s.cfg.StaleRetention
	}

	err = s.exec(ctx, func() error {
		return s.client.Set(ctx, key, data, expiration).Err()
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	if s.filter != nil {
		s.filter.Add(key)
	}
	return nil
}

// Get returns a fresh entry. Redis failures read as absent.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	ctx, span := cache.StartSpan(ctx, s.tracer, "remote.Get", key)
	defer span.End()

	entry, ok := s.read(ctx, key, span, true)
	if !ok || entry.IsExpired(s.clock.Now()) {
		return nil, false
	}
	return entry, true
}

// GetStale returns the entry regardless of its TTL. It always asks redis: the
// bloom filter may not yet know keys written by another replica.
func (s *Store) GetStale(ctx context.Context, key string) (*models.CacheEntry, bool) {
	ctx, span := cache.StartSpan(ctx, s.tracer, "remote.GetStale", key)
	defer span.End()

	entry, ok := s.read(ctx, key, span, false)
	if !ok {
		return nil, false
	}
	entry.Stale = entry.IsExpired(s.clock.Now())
	return entry, true
}

// Exists reports whether a fresh entry is present.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := cache.StartSpan(ctx, s.tracer, "remote.Delete", key)
	defer span.End()

	err := s.exec(ctx, func() error {
		return s.client.Del(ctx, key).Err()
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Ping checks redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.exec(ctx, func() error {
		return s.client.Ping(ctx).Err()
	})
}

// Close stops the background rebuild and closes the client when it owns a
// connection pool.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if closer, ok := s.client.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				err = fmt.Errorf("failed to close remote cache connection: %w", cerr)
			}
		}
	})
	return err
}

// RebuildFilter rebuilds the bloom filter now.
func (s *Store) RebuildFilter(ctx context.Context) error {
	if s.filter == nil {
		return nil
	}
	return s.filter.Rebuild(ctx, s)
}

func (s *Store) read(ctx context.Context, key string, span trace.Span, useFilter bool) (*models.CacheEntry, bool) {
	if useFilter && s.filter != nil && !s.filter.Test(key) {
		span.AddEvent("bloom filter negative")
		return nil, false
	}

	data, err := s.getBytes(ctx, key)
	if err != nil {
		if !errors.Is(err, models.ErrKeyNotFound) {
			span.SetStatus(codes.Error, err.Error())
			s.logger.Warn("Remote cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry models.CacheEntry
	if err := s.codec.Unmarshal(data, &entry); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Failed to unmarshal value from remote cache", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &entry, true
}

// getBytes reads the raw envelope; a missing key is ErrKeyNotFound.
func (s *Store) getBytes(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.exec(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}
