// Package multi implements a multi-level cache with a local and a remote tier.
package multi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/trending/internal/cache"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/utils"
)

var _ cache.Store = (*Store)(nil)

// Store reads the local tier first and backfills it from the remote tier.
// Writes go to both tiers with the same entry; the local write happens even
// when the remote write fails, so stale reads survive a remote outage.
type Store struct {
	local  cache.EntryStore
	remote cache.EntryStore
	clock  utils.Clock
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a tiered store.
func New(local, remote cache.EntryStore, clock utils.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		local:  local,
		remote: remote,
		clock:  utils.OrSystem(clock),
		logger: logger,
		tracer: otel.Tracer("goflare.io/trending/cache/multi"),
	}
}

// Get returns a fresh entry from the local tier, else from the remote tier.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	ctx, span := cache.StartSpan(ctx, s.tracer, "multi.Get", key)
	defer span.End()

	if entry, ok := s.local.Get(ctx, key); ok {
		span.AddEvent("local hit")
		return entry, true
	}

	entry, ok := s.remote.Get(ctx, key)
	if !ok {
		return nil, false
	}
	span.AddEvent("remote hit")
	s.backfill(ctx, key, entry)
	return entry, true
}

// GetStale returns the newer of the two tiers' entries, ignoring TTL. When
// the remote tier is down the local copy is served.
func (s *Store) GetStale(ctx context.Context, key string) (*models.CacheEntry, bool) {
	ctx, span := cache.StartSpan(ctx, s.tracer, "multi.GetStale", key)
	defer span.End()

	remote, rok := s.remote.GetStale(ctx, key)
	local, lok := s.local.GetStale(ctx, key)

	switch {
	case rok && lok:
		if local.FetchedAt.After(remote.FetchedAt) {
			return local, true
		}
		return remote, true
	case rok:
		return remote, true
	case lok:
		span.AddEvent("served from local tier")
		return local, true
	default:
		return nil, false
	}
}

// Set writes the same entry to the remote and the local tier.
func (s *Store) Set(ctx context.Context, key string, items []models.Item, ttl time.Duration) error {
	ctx, span := cache.StartSpan(ctx, s.tracer, "multi.Set", key)
	defer span.End()

	entry := models.NewEntry(items, s.clock.Now(), ttl)

	remoteErr := s.remote.Put(ctx, key, entry)
	if remoteErr != nil {
		s.logger.Warn("Failed to set remote cache", zap.String("key", key), zap.Error(remoteErr))
	}

	if err := s.local.Put(ctx, key, entry); err != nil {
		s.logger.Warn("Failed to set local cache", zap.String("key", key), zap.Error(err))
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// Exists reports whether either tier has a fresh entry.
func (s *Store) Exists(ctx context.Context, key string) bool {
	return s.local.Exists(ctx, key) || s.remote.Exists(ctx, key)
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := cache.StartSpan(ctx, s.tracer, "multi.Delete", key)
	defer span.End()

	return errors.Join(s.local.Delete(ctx, key), s.remote.Delete(ctx, key))
}

// Ping reports the remote tier's health; the local tier is always up.
func (s *Store) Ping(ctx context.Context) error {
	return s.remote.Ping(ctx)
}

// Close closes both tiers.
func (s *Store) Close() error {
	s.logger.Info("Closing multi-level cache")

	var errs []error
	if err := s.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close local cache: %w", err))
	}
	if err := s.remote.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close remote cache: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Store) backfill(ctx context.Context, key string, entry *models.CacheEntry) {
	if err := s.local.Put(ctx, key, entry); err != nil {
		s.logger.Warn("Failed to backfill local cache", zap.String("key", key), zap.Error(err))
	}
}
