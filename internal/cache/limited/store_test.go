package limited

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/trending/internal/cache"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/utils"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(t0)
	s, err := New(100, nil, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func items(ids ...string) []models.Item {
	out := make([]models.Item, len(ids))
	for i, id := range ids {
		out[i] = models.Item{ID: id, Tags: []string{"t"}}
	}
	return out
}

func TestSetGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, ok := s.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", items("a", "b"), cache.DefaultTTL))
	e, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Len(t, e.Items, 2)
	assert.Equal(t, t0, e.FetchedAt)
	assert.False(t, e.Stale)
	assert.True(t, s.Exists(ctx, "k"))
	assert.Equal(t, 1, s.Len())
}

func TestLazyExpiryKeepsStaleCopy(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", items("a"), cache.DefaultTTL))

	clock.Advance(23*time.Hour + 59*time.Minute)
	_, ok := s.Get(ctx, "k")
	assert.True(t, ok)

	clock.Set(t0.Add(24*time.Hour + time.Second))
	_, ok = s.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, s.Exists(ctx, "k"))

	e, ok := s.GetStale(ctx, "k")
	require.True(t, ok)
	assert.True(t, e.Stale)
	assert.Equal(t, "a", e.Items[0].ID)
}

func TestSetOverwrites(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", items("a"), time.Hour))
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.Set(ctx, "k", items("b"), time.Hour))

	e, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "b", e.Items[0].ID)
	assert.Equal(t, t0.Add(2*time.Hour), e.FetchedAt)
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	src := items("a")
	require.NoError(t, s.Set(ctx, "k", src, time.Hour))
	src[0].Tags[0] = "mutated"

	e, _ := s.Get(ctx, "k")
	e.Items[0].ID = "changed"

	again, _ := s.Get(ctx, "k")
	assert.Equal(t, "a", again.Items[0].ID)
	assert.Equal(t, "t", again.Items[0].Tags[0])
}

func TestPutKeepsFetchedAt(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	entry := models.NewEntry(items("a"), t0.Add(-time.Hour), time.Hour*2)
	require.NoError(t, s.Put(ctx, "k", entry))

	e, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, t0.Add(-time.Hour), e.FetchedAt)
}

func TestDeleteAndSweep(t *testing.T) {
	clock := utils.NewManualClock(t0)
	s, err := New(100, nil, WithClock(clock), WithStaleRetention(time.Hour))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "old", items("a"), time.Hour))
	require.NoError(t, s.Set(ctx, "gone", items("b"), time.Hour))
	require.NoError(t, s.Delete(ctx, "gone"))
	_, ok := s.GetStale(ctx, "gone")
	assert.False(t, ok)

	clock.Advance(90 * time.Minute)
	require.NoError(t, s.Set(ctx, "new", items("c"), time.Hour))
	assert.Equal(t, 0, s.Sweep(ctx))

	clock.Advance(time.Hour)
	assert.Equal(t, 1, s.Sweep(ctx))
	_, ok = s.GetStale(ctx, "old")
	assert.False(t, ok)
	_, ok = s.GetStale(ctx, "new")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestPutAfterDeadlineStillCaches(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	require.NoError(t, s.Set(ctx, "k", items("a"), cache.DefaultTTL))
	e, ok := s.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Len(t, e.Items, 1)
	assert.Equal(t, 1, s.Len())
}
