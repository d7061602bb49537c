package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable 表示重試用盡後上游仍無法使用
var ErrUnavailable = errors.New("upstream unavailable")

// Kind classifies an upstream failure.
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindInvalid
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalid:
		return "invalid"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified failure of a single upstream call.
type Error struct {
	Kind       Kind
	StatusCode int
	Reason     string
	Message    string
	Retry      time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %s error", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d", e.StatusCode)
		if e.Reason != "" {
			fmt.Fprintf(&b, ", %s", e.Reason)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the call may succeed when retried.
func (e *Error) Temporary() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// RetryAfter returns the server supplied wait for rate limited calls.
func (e *Error) RetryAfter() (time.Duration, bool) {
	if e.Kind != KindRateLimited || e.Retry <= 0 {
		return 0, false
	}
	return e.Retry, true
}

// UnavailableError wraps the last failure after retries ran out.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrUnavailable, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// KindOf extracts the Kind of a classified error.
func KindOf(err error) (Kind, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}

// rate limit reasons reported with status 403
var rateLimitReasons = map[string]bool{
	"quotaExceeded":         true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
			Domain string `json:"domain"`
		} `json:"errors"`
	} `json:"error"`
}

// Classify maps a non-2xx response to an *Error.
func Classify(status int, header http.Header, body []byte) *Error {
	e := &Error{StatusCode: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		e.Message = eb.Error.Message
		if len(eb.Error.Errors) > 0 {
			e.Reason = eb.Error.Errors[0].Reason
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusForbidden && rateLimitReasons[e.Reason]:
		e.Kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindFatal
	case status >= 500:
		e.Kind = KindTransient
	case status >= 400:
		e.Kind = KindInvalid
	default:
		e.Kind = KindTransient
	}

	if e.Kind == KindRateLimited {
		e.Retry = parseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
