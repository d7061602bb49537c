// Package cache defines the cache store contract shared by the in-process,
// redis and tiered backends.
package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"goflare.io/trending/internal/models"
)

// DefaultTTL applies to every trending entry.
const DefaultTTL = 24 * time.Hour

// DefaultStaleRetention is how long an entry stays readable through GetStale
// after its TTL has passed.
const DefaultStaleRetention = 7 * 24 * time.Hour

// Store is a key/value store with per-key TTL and lazy expiry. An unreachable
// backend behaves as absent on reads.
type Store interface {
	// Get returns the entry unless it was never set or has expired.
	Get(ctx context.Context, key string) (*models.CacheEntry, bool)
	// GetStale returns the entry regardless of TTL; Stale is set when expired.
	GetStale(ctx context.Context, key string) (*models.CacheEntry, bool)
	// Set overwrites the entry, timestamped at write time.
	Set(ctx context.Context, key string, items []models.Item, ttl time.Duration) error
	// Exists reports whether a non-expired entry is present.
	Exists(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// EntryStore is a Store that also accepts a prebuilt entry, keeping its
// FetchedAt. Tiers of a multi-level store implement it.
type EntryStore interface {
	Store
	Put(ctx context.Context, key string, entry *models.CacheEntry) error
}

// StartSpan opens a span for a store operation on key.
func StartSpan(ctx context.Context, tracer trace.Tracer, op, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, op, trace.WithAttributes(attribute.String("cache.key", key)))
}
