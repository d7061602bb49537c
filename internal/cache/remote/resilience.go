package remote

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"goflare.io/trending/internal/retrier"
)

// DefaultBreakerSettings trips after five consecutive redis failures.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "RedisCircuitBreaker",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
}

// DefaultRetrier retries redis calls after 100ms and 200ms.
func DefaultRetrier() (*retrier.Retrier, error) {
	return NewRetrier(3, 100*time.Millisecond, time.Second)
}

// NewRetrier builds a retrier that retries every redis error except a miss.
func NewRetrier(attempts int, base, max time.Duration, opts ...retrier.Option) (*retrier.Retrier, error) {
	opts = append([]retrier.Option{retrier.WithTempErrorFunc(isRetryable)}, opts...)
	return retrier.NewRetrier(attempts, base, max, 2, 0.1, retrier.ExponentialBackoff, opts...)
}

func isRetryable(err error) bool {
	return !errors.Is(err, redis.Nil)
}

// a miss is a healthy answer and must not count against the breaker
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, redis.Nil)
}

// exec runs fn through the circuit breaker with retries inside it.
func (s *Store) exec(ctx context.Context, fn func() error) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.retrier.Run(ctx, fn)
	})
	return err
}
