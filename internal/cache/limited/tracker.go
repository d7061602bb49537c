package limited

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Tracker tracks all keys in the cache. Ristretto cannot enumerate its keys,
// so Sweep walks this set instead.
type Tracker struct {
	trackedKeys sync.Map
	count       atomic.Int64
	logger      *zap.Logger
}

// NewTracker creates a new Tracker instance.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger,
	}
}

// Add adds a key to the tracker.
func (t *Tracker) Add(_ context.Context, key string) {
	if _, loaded := t.trackedKeys.LoadOrStore(key, struct{}{}); !loaded {
		t.count.Inc()
	}
}

// Remove removes a key from the tracker.
func (t *Tracker) Remove(_ context.Context, key string) {
	if _, loaded := t.trackedKeys.LoadAndDelete(key); loaded {
		t.count.Dec()
	}
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	return int(t.count.Load())
}

// Range iterates over all tracked keys.
func (t *Tracker) Range(ctx context.Context, f func(key string) bool) {
	t.trackedKeys.Range(func(k, v any) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			if strKey, ok := k.(string); ok {
				return f(strKey)
			}
			t.logger.Warn("Invalid key type in Tracker", zap.Any("key", k))
			return true
		}
	})
}
