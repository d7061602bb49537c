// Package retrier runs an operation with retries, modelled as an explicit
// state machine {Attempting, Backoff, Succeeded, Failed}.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	minMaxAttempts = 1
	minBaseDelay   = time.Millisecond
	minFactor      = 1.0
	maxJitter      = 1.0
)

// ExponentialBackoff represents a backoff strategy where intervals exponentially increase.
// LinearBackoff represents a backoff strategy where intervals increase linearly.
// FibonacciBackoff represents a backoff strategy where intervals increase based on the Fibonacci sequence.
const (
	ExponentialBackoff BackoffStrategy = iota
	LinearBackoff
	FibonacciBackoff
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
	// ErrInvalidFactor is returned when the factor parameter is invalid.
	ErrInvalidFactor = errors.New("factor must be at least 1.0")
	// ErrInvalidJitter is returned when the jitter parameter is invalid.
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

// BackoffStrategy defines the strategy used for calculating backoff intervals in retry mechanisms.
type BackoffStrategy int

// State is a step of a retry run.
type State int

const (
	StateAttempting State = iota
	StateBackoff
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition describes entering a State. Attempt is 1-based; Delay is set for
// StateBackoff; Err is the error of the attempt that led here.
type Transition struct {
	State   State
	Attempt int
	Delay   time.Duration
	Err     error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ExhaustedError is returned when every attempt failed with a temporary error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts reached (%d): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Option configures a Retrier.
type Option func(*Retrier)

// WithSleeper replaces the timer based sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(Transition)) Option {
	return func(r *Retrier) {
		r.observe = fn
	}
}

// WithTempErrorFunc overrides how errors are classified as retryable.
func WithTempErrorFunc(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.TempErrorFunc = fn
	}
}

// Retrier provides functionality to execute a function with retry logic based on different backoff strategies.
type Retrier struct {
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	factor        float64
	jitter        float64
	strategy      BackoffStrategy
	sleep         Sleeper
	observe       func(Transition)
	TempErrorFunc func(error) bool // Custom temporary error function
}

// NewRetrier creates a new Retrier instance with specified parameters for handling retry logic.
// Parameters:
// - maxAttempts: total number of attempts, the first one included.
// - baseDelay: delay before the first retry.
// - maxDelay: maximum allowed delay duration between retries.
// - factor: multiplier for exponential backoff calculation.
// - jitter: randomness factor to avoid retry storms.
// - strategy: backoff strategy to use (e.g., ExponentialBackoff, LinearBackoff, FibonacciBackoff).
func NewRetrier(maxAttempts int, baseDelay, maxDelay time.Duration, factor, jitter float64, strategy BackoffStrategy, opts ...Option) (*Retrier, error) {
	if maxAttempts < minMaxAttempts {
		return nil, ErrInvalidMaxAttempts
	}
	if baseDelay < minBaseDelay {
		return nil, ErrInvalidBaseDelay
	}
	if factor < minFactor {
		return nil, ErrInvalidFactor
	}
	if jitter < 0 || jitter > maxJitter {
		return nil, ErrInvalidJitter
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	r := &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		factor:      factor,
		jitter:      jitter,
		strategy:    strategy,
		sleep:       sleepTimer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MaxAttempts returns the total number of attempts Run makes.
func (r *Retrier) MaxAttempts() int {
	return r.maxAttempts
}

// Run executes fn until it succeeds, fails with a non-temporary error, or the
// attempts run out.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		r.emit(Transition{State: StateAttempting, Attempt: attempt})

		err = fn()
		if err == nil {
			r.emit(Transition{State: StateSucceeded, Attempt: attempt})
			return nil
		}

		// 只有 Run 自己的 ctx 結束才停止，單次呼叫的逾時仍可重試
		if ctx.Err() != nil {
			r.emit(Transition{State: StateFailed, Attempt: attempt, Err: err})
			return err
		}

		if !r.isTemporary(err) {
			r.emit(Transition{State: StateFailed, Attempt: attempt, Err: err})
			return err
		}

		if attempt == r.maxAttempts {
			break
		}

		delay := r.nextDelay(attempt, err)
		r.emit(Transition{State: StateBackoff, Attempt: attempt, Delay: delay, Err: err})

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			r.emit(Transition{State: StateFailed, Attempt: attempt, Err: sleepErr})
			return sleepErr
		}
	}

	r.emit(Transition{State: StateFailed, Attempt: r.maxAttempts, Err: err})
	return &ExhaustedError{Attempts: r.maxAttempts, Err: err}
}

// Delay returns the backoff after the given failed attempt (1-based), before
// jitter. With base 1s and factor 2 the schedule is 1s, 2s, 4s, ...
func (r *Retrier) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	n := attempt - 1

	var delay float64
	switch r.strategy {
	case LinearBackoff:
		delay = float64(r.baseDelay) * float64(n+1)
	case FibonacciBackoff:
		delay = float64(r.baseDelay) * float64(fibonacci(n+1))
	default:
		delay = float64(r.baseDelay) * math.Pow(r.factor, float64(n))
	}

	if delay > float64(r.maxDelay) || math.IsInf(delay, 1) {
		delay = float64(r.maxDelay)
	}
	return time.Duration(delay)
}

func (r *Retrier) nextDelay(attempt int, err error) time.Duration {
	if hint, ok := RetryAfter(err); ok {
		if hint > r.maxDelay {
			return r.maxDelay
		}
		return hint
	}

	delay := r.Delay(attempt)
	if r.jitter > 0 {
		delay += time.Duration(rand.Float64() * r.jitter * float64(delay))
	}
	return delay
}

func (r *Retrier) isTemporary(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if r.TempErrorFunc != nil {
		return r.TempErrorFunc(err)
	}
	return IsTemporary(err)
}

func (r *Retrier) emit(t Transition) {
	if r.observe != nil {
		r.observe(t)
	}
}

// fibonacci returns the n-th Fibonacci number with fib(1) = fib(2) = 1.
func fibonacci(n int) int64 {
	a, b := int64(0), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
		if a < 0 {
			return math.MaxInt64
		}
	}
	return a
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
