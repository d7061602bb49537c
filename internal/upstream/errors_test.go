package upstream

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	quota := []byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`)
	forbidden := []byte(`{"error":{"code":403,"message":"no","errors":[{"reason":"forbidden"}]}}`)

	tests := []struct {
		name   string
		status int
		body   []byte
		want   Kind
	}{
		{"too many requests", http.StatusTooManyRequests, nil, KindRateLimited},
		{"quota exceeded", http.StatusForbidden, quota, KindRateLimited},
		{"forbidden", http.StatusForbidden, forbidden, KindFatal},
		{"unauthorized", http.StatusUnauthorized, nil, KindFatal},
		{"server error", http.StatusInternalServerError, nil, KindTransient},
		{"unavailable", http.StatusServiceUnavailable, nil, KindTransient},
		{"bad request", http.StatusBadRequest, nil, KindInvalid},
		{"not found", http.StatusNotFound, nil, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.status, http.Header{}, tt.body)
			assert.Equal(t, tt.want, e.Kind)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, tt.want == KindTransient || tt.want == KindRateLimited, e.Temporary())
		})
	}
}

func TestClassifyRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	e := Classify(http.StatusTooManyRequests, h, nil)

	d, ok := e.RetryAfter()
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	e = Classify(http.StatusServiceUnavailable, h, nil)
	_, ok = e.RetryAfter()
	assert.False(t, ok)
}

func TestParseRetryAfterDate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := now.Add(5 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 5*time.Second, parseRetryAfter(v, now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter("-1", now))
}

func TestUnavailableErrorMatching(t *testing.T) {
	cause := &Error{Kind: KindTransient, StatusCode: 503}
	err := error(&UnavailableError{Attempts: 4, Err: cause})

	assert.True(t, errors.Is(err, ErrUnavailable))
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindTransient, kind)
	assert.Contains(t, err.Error(), "after 4 attempts")
}
