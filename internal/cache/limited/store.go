// Package limited is the bounded in-process cache tier built on ristretto.
package limited

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/trending/internal/cache"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/utils"
)

// DefaultMaxEntries bounds the number of cached batches.
const DefaultMaxEntries = 10_000

// ErrRejected is returned when ristretto drops a write.
var ErrRejected = errors.New("local cache rejected entry")

var _ cache.EntryStore = (*Store)(nil)

// Store keeps entries without a ristretto TTL so that GetStale can still see
// them after they expire; expiry is evaluated lazily against the clock.
// Ristretto evicts only under size pressure.
type Store struct {
	cache          *ristretto.Cache
	tracker        *Tracker
	clock          utils.Clock
	staleRetention time.Duration
	logger         *zap.Logger
	tracer         trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for expiry checks.
func WithClock(c utils.Clock) Option {
	return func(s *Store) { s.clock = utils.OrSystem(c) }
}

// WithStaleRetention sets how long Sweep keeps expired entries.
func WithStaleRetention(d time.Duration) Option {
	return func(s *Store) { s.staleRetention = d }
}

// New creates a Store holding at most maxEntries batches.
func New(maxEntries int64, logger *zap.Logger, opts ...Option) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	s := &Store{
		cache:          c,
		tracker:        NewTracker(logger),
		clock:          utils.SystemClock{},
		staleRetention: cache.DefaultStaleRetention,
		logger:         logger,
		tracer:         otel.Tracer("goflare.io/trending/cache/limited"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Set stores items under key, timestamped now.
func (s *Store) Set(ctx context.Context, key string, items []models.Item, ttl time.Duration) error {
	return s.Put(ctx, key, models.NewEntry(items, s.clock.Now(), ttl))
}

// Put stores a copy of entry under key.
func (s *Store) Put(ctx context.Context, key string, entry *models.CacheEntry) error {
	ctx, span := cache.StartSpan(ctx, s.tracer, "limited.Put", key)
	defer span.End()

	// ctx 到期也照常寫入
	stored := entry.Clone()
	stored.Stale = false
	if !s.cache.Set(key, stored, 1) {
		s.logger.Warn("Ristretto Set dropped", zap.String("key", key))
		return ErrRejected
	}
	// make the write visible to the next Get
	s.cache.Wait()
	s.tracker.Add(ctx, key)
	return nil
}

// Get returns a fresh entry.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	_, span := cache.StartSpan(ctx, s.tracer, "limited.Get", key)
	defer span.End()

	entry, ok := s.load(key)
	if !ok || entry.IsExpired(s.clock.Now()) {
		return nil, false
	}
	return entry.Clone(), true
}

// GetStale returns the entry regardless of its TTL.
func (s *Store) GetStale(ctx context.Context, key string) (*models.CacheEntry, bool) {
	_, span := cache.StartSpan(ctx, s.tracer, "limited.GetStale", key)
	defer span.End()

	entry, ok := s.load(key)
	if !ok {
		return nil, false
	}
	out := entry.Clone()
	out.Stale = entry.IsExpired(s.clock.Now())
	return out, true
}

// Exists reports whether a fresh entry is present.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := cache.StartSpan(ctx, s.tracer, "limited.Delete", key)
	defer span.End()

	s.cache.Del(key)
	s.cache.Wait()
	s.tracker.Remove(ctx, key)
	return nil
}

// Ping always succeeds for the in-process tier.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	return s.tracker.Len()
}

// Sweep deletes entries that expired more than the stale retention ago and
// forgets keys ristretto has evicted. It returns the number of removed keys.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.clock.Now()
	var dead []string

	s.tracker.Range(ctx, func(key string) bool {
		entry, ok := s.load(key)
		if !ok || now.After(entry.ExpiresAt().Add(s.staleRetention)) {
			dead = append(dead, key)
		}
		return true
	})

	for _, key := range dead {
		s.cache.Del(key)
		s.tracker.Remove(ctx, key)
	}
	s.cache.Wait()

	if len(dead) > 0 {
		s.logger.Debug("Swept local cache", zap.Int("removed", len(dead)))
	}
	return len(dead)
}

// Close closes the cache.
func (s *Store) Close() error {
	s.cache.Close()
	return nil
}

func (s *Store) load(key string) (*models.CacheEntry, bool) {
	value, found := s.cache.Get(key)
	if !found {
		return nil, false
	}
	entry, ok := value.(*models.CacheEntry)
	if !ok {
		s.logger.Error("Invalid cache entry type", zap.String("key", key))
		return nil, false
	}
	return entry, true
}
