// Package fetcher decides between cache hit, upstream fetch and stale
// fallback for trending requests.
package fetcher

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/trending/internal/cache"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/normalize"
	"goflare.io/trending/internal/upstream"
	"goflare.io/trending/internal/utils"
)

// DefaultFetchTimeout bounds a shared upstream fetch, independently of the
// callers waiting on it.
const DefaultFetchTimeout = 30 * time.Second

// storeTimeout bounds cache writes and stale reads that run after the flight
// context may already have expired.
const storeTimeout = 5 * time.Second

// Upstream returns raw records for a normalized request.
type Upstream interface {
	Fetch(ctx context.Context, req models.FetchRequest) ([]models.RawRecord, error)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTTL sets the TTL of written entries.
func WithTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds each shared upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.fetchTimeout = d
		}
	}
}

// WithClock sets the time source for recorded timestamps.
func WithClock(c utils.Clock) Option {
	return func(f *Fetcher) { f.clock = utils.OrSystem(c) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// Fetcher is safe for concurrent use. At most one upstream fetch per cache
// key is in flight; concurrent misses on the key share its result.
type Fetcher struct {
	store    cache.Store
	upstream Upstream
	recorder *models.Recorder

	ttl          time.Duration
	fetchTimeout time.Duration
	clock        utils.Clock
	logger       *zap.Logger
	tracer       trace.Tracer

	flights singleflight.Group
	hot     hotKeys
}

// New creates a Fetcher. A nil recorder gets a fresh one.
func New(store cache.Store, up Upstream, recorder *models.Recorder, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:        store,
		upstream:     up,
		recorder:     recorder,
		ttl:          cache.DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		clock:        utils.SystemClock{},
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("goflare.io/trending/fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.recorder == nil {
		f.recorder = models.NewRecorder(f.clock.Now())
	}
	return f
}

// Recorder returns the metrics recorder owned by the fetcher.
func (f *Fetcher) Recorder() *models.Recorder {
	return f.recorder
}

// Stats returns a snapshot of the fetch statistics.
func (f *Fetcher) Stats() models.FetchStats {
	return f.recorder.Snapshot()
}

// Resolve serves req from the cache, the upstream or a stale entry, in that
// order. Every error it returns matches ErrFetchFailed.
func (f *Fetcher) Resolve(ctx context.Context, req models.FetchRequest) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "Fetcher.Resolve")
	defer span.End()

	f.recorder.RecordRequest()

	norm, err := req.Normalize()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return failed("", err)
	}
	key := cache.Key(norm)
	span.SetAttributes(attribute.String("cache.key", key))
	f.hot.touch(key, norm)

	if entry, ok := f.store.Get(ctx, key); ok {
		f.recorder.RecordHit()
		span.SetAttributes(attribute.String("outcome", OutcomeCached.String()))
		return Result{Outcome: OutcomeCached, Items: entry.Items, FetchedAt: entry.FetchedAt, Key: key}, nil
	}
	f.recorder.RecordMiss()

	res, err := f.join(ctx, norm, key, true)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	return res, err
}

// Refresh fetches req from the upstream without reading the cache first. It
// still coalesces with in-flight fetches and falls back to a stale entry.
// Request, hit and miss counters are left alone.
func (f *Fetcher) Refresh(ctx context.Context, req models.FetchRequest) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "Fetcher.Refresh")
	defer span.End()

	norm, err := req.Normalize()
	if err != nil {
		return failed("", err)
	}
	key := cache.Key(norm)
	span.SetAttributes(attribute.String("cache.key", key))

	res, err := f.join(ctx, norm, key, false)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// Invalidate deletes the cache entry of req.
func (f *Fetcher) Invalidate(ctx context.Context, req models.FetchRequest) error {
	norm, err := req.Normalize()
	if err != nil {
		return err
	}
	return f.store.Delete(ctx, cache.Key(norm))
}

// join waits for the key's flight, starting one if needed. The flight runs on
// a context detached from ctx so that a caller giving up does not abort it.
func (f *Fetcher) join(ctx context.Context, req models.FetchRequest, key string, recheck bool) (Result, error) {
	ch := f.flights.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.fetchTimeout)
		defer cancel()
		return f.load(fctx, req, key, recheck)
	})

	select {
	case <-ctx.Done():
		f.logger.Debug("Caller left before fetch finished", zap.String("key", key), zap.Error(ctx.Err()))
		return failed(key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return Result{Outcome: OutcomeFailed, Key: key}, r.Err
		}
		res := r.Val.(Result)
		if r.Shared {
			res.Items = models.CloneItems(res.Items)
		}
		return res, nil
	}
}

// load is the body of a flight.
func (f *Fetcher) load(ctx context.Context, req models.FetchRequest, key string, recheck bool) (Result, error) {
	// a flight that finished just before this one started has filled the cache
	if recheck {
		if entry, ok := f.store.Get(ctx, key); ok {
			return Result{Outcome: OutcomeCached, Items: entry.Items, FetchedAt: entry.FetchedAt, Key: key}, nil
		}
	}

	f.recorder.RecordUpstreamFetch()
	records, err := f.upstream.Fetch(ctx, req)
	now := f.clock.Now()

	if err == nil {
		items := normalize.Normalize(records, req.Limit)
		sctx, cancel := f.storeContext(ctx)
		serr := f.store.Set(sctx, key, items, f.ttl)
		cancel()
		if serr != nil {
			f.logger.Warn("Failed to write cache entry", zap.String("key", key), zap.Error(serr))
		}
		f.recorder.RecordFetchSuccess(now)
		f.logger.Info("Fetched trending items",
			zap.String("key", key),
			zap.Int("records", len(records)),
			zap.Int("items", len(items)))
		return Result{Outcome: OutcomeFresh, Items: items, FetchedAt: now, Key: key}, nil
	}

	f.recorder.RecordFetchFailure(now, err.Error())

	if errors.Is(err, upstream.ErrUnavailable) {
		sctx, cancel := f.storeContext(ctx)
		entry, ok := f.store.GetStale(sctx, key)
		cancel()
		if ok {
			f.recorder.RecordStale()
			f.logger.Warn("Upstream unavailable, serving stale entry",
				zap.String("key", key),
				zap.Time("fetchedAt", entry.FetchedAt),
				zap.Error(err))
			return Result{Outcome: OutcomeStale, Items: entry.Items, FetchedAt: entry.FetchedAt, Key: key}, nil
		}
	}

	f.logger.Error("Fetch failed", zap.String("key", key), zap.Error(err))
	return Result{}, &FetchFailedError{Key: key, Reason: err}
}

// storeContext 脫離 flight 的 deadline，上游逾時後仍能寫入或讀取快取
func (f *Fetcher) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}
