package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLimit is applied when a request does not set a limit.
	DefaultLimit = 10
	// MinLimit and MaxLimit bound FetchRequest.Limit.
	MinLimit = 1
	MaxLimit = 50
)

// FetchRequest is the query shape accepted by the pipeline.
type FetchRequest struct {
	Region       string
	Category     string
	Keyword      string
	CollectionID string
	// Date is a calendar date filter; the zero value means no filter.
	Date  time.Time
	Limit int
}

// Normalize returns the canonical form of the request. Equivalent requests
// normalize to equal values.
func (r FetchRequest) Normalize() (FetchRequest, error) {
	out := FetchRequest{
		Region:       strings.ToUpper(strings.TrimSpace(r.Region)),
		Category:     normalizeCategory(r.Category),
		Keyword:      strings.ToLower(strings.Join(strings.Fields(r.Keyword), " ")),
		CollectionID: strings.TrimSpace(r.CollectionID),
		Limit:        r.Limit,
	}

	if !isRegionCode(out.Region) {
		return FetchRequest{}, fmt.Errorf("%w: region %q is not a 2-letter code", ErrInvalidRequest, r.Region)
	}

	if out.Limit == 0 {
		out.Limit = DefaultLimit
	}
	if out.Limit < MinLimit || out.Limit > MaxLimit {
		return FetchRequest{}, fmt.Errorf("%w: limit %d outside %d..%d", ErrInvalidRequest, r.Limit, MinLimit, MaxLimit)
	}

	if !r.Date.IsZero() {
		d := r.Date.UTC()
		out.Date = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}

	return out, nil
}

// HasDate reports whether the request carries a date filter.
func (r FetchRequest) HasDate() bool {
	return !r.Date.IsZero()
}

// DateString formats the date filter as YYYY-MM-DD, or "" when unset.
func (r FetchRequest) DateString() string {
	if r.Date.IsZero() {
		return ""
	}
	return r.Date.Format(time.DateOnly)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrInvalidRequest, s, err)
	}
	return t, nil
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" || isNumeric(c) {
		return c
	}
	if id, ok := CategoryIDByName(c); ok {
		return id
	}
	return c
}

func isRegionCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, ch := range s {
		if ch < 'A' || ch > 'Z' {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return s != ""
}
