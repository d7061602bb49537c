package fetcher

import (
	"errors"
	"fmt"
	"time"

	"goflare.io/trending/internal/models"
)

// ErrFetchFailed is matched by every error Resolve returns.
var ErrFetchFailed = errors.New("fetch failed")

// Outcome tags how a Result was produced.
type Outcome int

const (
	// OutcomeFailed is the zero value so an unset Result never looks successful.
	OutcomeFailed Outcome = iota
	// OutcomeFresh means the items were fetched from upstream by this call or its flight.
	OutcomeFresh
	// OutcomeCached means a non-expired cache entry was served.
	OutcomeCached
	// OutcomeStale means the upstream was unavailable and an expired entry was served.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeCached:
		return "cached"
	case OutcomeStale:
		return "stale"
	default:
		return "failed"
	}
}

// Result is the answer to a Resolve call.
type Result struct {
	Outcome   Outcome
	Items     []models.Item
	FetchedAt time.Time
	Key       string
}

// ServedFromCache reports whether the items came from the cache.
func (r Result) ServedFromCache() bool {
	return r.Outcome == OutcomeCached || r.Outcome == OutcomeStale
}

// FetchFailedError carries the reason a request could not be served.
type FetchFailedError struct {
	Key    string
	Reason error
}

func (e *FetchFailedError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v: %v", ErrFetchFailed, e.Reason)
	}
	return fmt.Sprintf("%v for %s: %v", ErrFetchFailed, e.Key, e.Reason)
}

func (e *FetchFailedError) Unwrap() error { return e.Reason }

func (e *FetchFailedError) Is(target error) bool { return target == ErrFetchFailed }

func failed(key string, reason error) (Result, error) {
	return Result{Outcome: OutcomeFailed, Key: key}, &FetchFailedError{Key: key, Reason: reason}
}
