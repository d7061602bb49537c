package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestOrSystem(t *testing.T) {
	assert.IsType(t, SystemClock{}, OrSystem(nil))

	c := NewManualClock(time.Now())
	assert.Same(t, c, OrSystem(c))
}
