package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/trending/internal/models"
)

func mustNormalize(t *testing.T, r models.FetchRequest) models.FetchRequest {
	t.Helper()
	n, err := r.Normalize()
	require.NoError(t, err)
	return n
}

func TestKeyFormat(t *testing.T) {
	req := mustNormalize(t, models.FetchRequest{
		Region:   "id",
		Category: "Music",
		Keyword:  "lo fi",
		Date:     time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "trending:v1:ID:2024-05-01:cat=10:kw=lo+fi:col=:n=10", Key(req))

	undated := mustNormalize(t, models.FetchRequest{Region: "US", Limit: 5})
	assert.Equal(t, "trending:v1:US:-:cat=:kw=:col=:n=5", Key(undated))
}

func TestKeyDeterministicForEquivalentRequests(t *testing.T) {
	a := mustNormalize(t, models.FetchRequest{Region: " us ", Category: "music", Keyword: "  Lo   FI "})
	b := mustNormalize(t, models.FetchRequest{Region: "US", Category: "10", Keyword: "lo fi", Limit: 10})
	assert.Equal(t, Key(a), Key(b))
	assert.Equal(t, Key(a), Key(a))
}

func TestKeyDistinguishesRequests(t *testing.T) {
	base := models.FetchRequest{Region: "US"}
	variants := []models.FetchRequest{
		base,
		{Region: "ID"},
		{Region: "US", Category: "10"},
		{Region: "US", Keyword: "news"},
		{Region: "US", CollectionID: "UCabc"},
		{Region: "US", Limit: 20},
		{Region: "US", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		// separator injection must not collide with a collection filter
		{Region: "US", Keyword: "x:col=UCabc"},
	}

	seen := make(map[string]int)
	for i, v := range variants {
		k := Key(mustNormalize(t, v))
		if j, dup := seen[k]; dup {
			t.Fatalf("variants %d and %d share key %q", j, i, k)
		}
		seen[k] = i
	}
}
