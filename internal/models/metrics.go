package models

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// FetchStats is a point-in-time copy of the pipeline counters.
type FetchStats struct {
	TotalRequests     int64
	CacheHits         int64
	CacheMisses       int64
	StaleServed       int64
	UpstreamFetches   int64
	LastSuccessAt     time.Time
	LastFailureAt     time.Time
	LastFailureReason string
	StartedAt         time.Time
}

// HitRate is hits / (hits + misses), or 0 before any lookup.
func (s FetchStats) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Uptime returns the time elapsed since the recorder was created.
func (s FetchStats) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// Recorder 定義指標統計
type Recorder struct {
	requests  atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	stale     atomic.Int64
	upstream  atomic.Int64
	lastOK    atomic.Time
	startedAt time.Time

	// failure time and reason are written together
	failMu     sync.RWMutex
	lastFail   time.Time
	failReason string
}

// NewRecorder creates a Recorder whose uptime starts at startedAt.
func NewRecorder(startedAt time.Time) *Recorder {
	return &Recorder{startedAt: startedAt}
}

func (r *Recorder) RecordRequest()       { r.requests.Inc() }
func (r *Recorder) RecordHit()           { r.hits.Inc() }
func (r *Recorder) RecordMiss()          { r.misses.Inc() }
func (r *Recorder) RecordStale()         { r.stale.Inc() }
func (r *Recorder) RecordUpstreamFetch() { r.upstream.Inc() }

// RecordFetchSuccess stores the time of the latest successful upstream fetch.
func (r *Recorder) RecordFetchSuccess(at time.Time) {
	r.lastOK.Store(at)
}

// RecordFetchFailure stores the time and reason of the latest failed fetch.
func (r *Recorder) RecordFetchFailure(at time.Time, reason string) {
	r.failMu.Lock()
	r.lastFail = at
	r.failReason = reason
	r.failMu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() FetchStats {
	r.failMu.RLock()
	lastFail, reason := r.lastFail, r.failReason
	r.failMu.RUnlock()

	return FetchStats{
		TotalRequests:     r.requests.Load(),
		CacheHits:         r.hits.Load(),
		CacheMisses:       r.misses.Load(),
		StaleServed:       r.stale.Load(),
		UpstreamFetches:   r.upstream.Load(),
		LastSuccessAt:     r.lastOK.Load(),
		LastFailureAt:     lastFail,
		LastFailureReason: reason,
		StartedAt:         r.startedAt,
	}
}
