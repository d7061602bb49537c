package retrier

import (
	"errors"
	"time"
)

// Temporary indicates if an error condition is temporary and may succeed if retried.
type Temporary interface {
	Temporary() bool
}

// RetryHinter is implemented by errors that carry a server supplied wait.
type RetryHinter interface {
	RetryAfter() (time.Duration, bool)
}

// IsTemporary checks if the provided error implements the Temporary interface and returns true if it does.
func IsTemporary(err error) bool {
	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

// RetryAfter extracts a retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var h RetryHinter
	if errors.As(err, &h) {
		return h.RetryAfter()
	}
	return 0, false
}
