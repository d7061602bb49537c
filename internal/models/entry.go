package models

import (
	"time"
)

// CacheEntry wraps a cached batch of items with its write metadata.
// Entries are never mutated after creation; stores hand out clones.
type CacheEntry struct {
	Items     []Item        `json:"items"`
	FetchedAt time.Time     `json:"fetchedAt"`
	TTL       time.Duration `json:"ttl"`
	// Stale marks an entry returned past its TTL.
	Stale bool `json:"-"`
}

// NewEntry creates a new CacheEntry holding a private copy of items.
func NewEntry(items []Item, fetchedAt time.Time, ttl time.Duration) *CacheEntry {
	return &CacheEntry{
		Items:     CloneItems(items),
		FetchedAt: fetchedAt,
		TTL:       ttl,
	}
}

// ExpiresAt returns the instant after which the entry is expired.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// IsExpired checks if the entry has expired at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Clone returns a deep copy of the entry.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Items = CloneItems(e.Items)
	return &out
}
