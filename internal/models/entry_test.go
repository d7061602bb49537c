package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheEntry_IsExpired(t *testing.T) {
	written := time.Date(2025, 11, 12, 0, 0, 0, 0, time.UTC)
	e := NewEntry(nil, written, 24*time.Hour)

	assert.False(t, e.IsExpired(written.Add(23*time.Hour+59*time.Minute)))
	assert.False(t, e.IsExpired(written.Add(24*time.Hour)))
	assert.True(t, e.IsExpired(written.Add(24*time.Hour+time.Second)))
}

func TestNewEntry_CopiesItems(t *testing.T) {
	items := []Item{{ID: "a", Tags: []string{"x"}}}
	e := NewEntry(items, time.Now(), time.Hour)

	items[0].Title = "changed"
	items[0].Tags[0] = "changed"

	assert.Empty(t, e.Items[0].Title)
	assert.Equal(t, "x", e.Items[0].Tags[0])

	c := e.Clone()
	c.Items[0].Tags[0] = "y"
	assert.Equal(t, "x", e.Items[0].Tags[0])
}
