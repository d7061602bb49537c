package normalize

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/trending/internal/models"
)

func record(id, title string) models.RawRecord {
	return models.RawRecord{
		ID: id,
		Snippet: models.RawSnippet{
			Title:       title,
			PublishedAt: "2024-05-01T10:00:00Z",
			ChannelID:   "UC1",
			Thumbnails:  map[string]models.RawThumbnail{"default": {URL: "d.jpg"}},
		},
		Statistics: models.RawStatistics{ViewCount: "42"},
	}
}

func TestToItemFieldMapping(t *testing.T) {
	rec := record("abc", "Title")
	rec.Snippet.Description = strings.Repeat("é", 600)
	rec.Snippet.ChannelTitle = "Chan"
	rec.Snippet.CategoryID = "10"
	rec.Snippet.Thumbnails["high"] = models.RawThumbnail{URL: "h.jpg"}
	for i := 0; i < 15; i++ {
		rec.Snippet.Tags = append(rec.Snippet.Tags, fmt.Sprintf("t%d", i))
	}

	item, ok := ToItem(rec)
	require.True(t, ok)
	assert.Equal(t, "abc", item.ID)
	assert.Equal(t, int64(42), item.Views)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), item.PublishedAt)
	assert.Equal(t, "UC1", item.CollectionID)
	assert.Equal(t, "Chan", item.CollectionTitle)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", item.Link)
	assert.Equal(t, "h.jpg", item.ThumbnailURL)
	assert.Equal(t, "10", item.CategoryID)
	assert.Len(t, item.Tags, MaxTags)
	assert.Equal(t, MaxDescriptionRunes, len([]rune(item.Description)))
}

func TestToItemDefaults(t *testing.T) {
	item, ok := ToItem(models.RawRecord{ID: "x", Statistics: models.RawStatistics{ViewCount: "n/a"}})
	require.True(t, ok)
	assert.Zero(t, item.Views)
	assert.True(t, item.PublishedAt.IsZero())
	assert.Empty(t, item.ThumbnailURL)
	assert.NotNil(t, item.Tags)
	assert.Empty(t, item.Tags)

	_, ok = ToItem(models.RawRecord{ID: "  "})
	assert.False(t, ok)
}

func TestNormalizeDedupFirstWins(t *testing.T) {
	recs := []models.RawRecord{record("a", "first a"), record("b", "b"), record("a", "second a"), record("", "no id"), record("c", "c")}

	items := Normalize(recs, 0)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(items))
	assert.Equal(t, "first a", items[0].Title)
}

func TestNormalizeIsIdempotentOnDedup(t *testing.T) {
	recs := []models.RawRecord{record("a", "1"), record("a", "2"), record("b", "3")}
	once := Normalize(recs, 0)
	twice := Dedup(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeTruncatesAfterDedup(t *testing.T) {
	// 15 records with 2 duplicates -> 13 distinct -> 10 after truncation
	var recs []models.RawRecord
	for i := 0; i < 13; i++ {
		recs = append(recs, record(fmt.Sprintf("v%02d", i), "t"))
	}
	recs = append(recs[:3], append([]models.RawRecord{record("v00", "dup"), record("v01", "dup")}, recs[3:]...)...)
	require.Len(t, recs, 15)

	all := Normalize(recs, 0)
	assert.Len(t, all, 13)

	items := Normalize(recs, 10)
	require.Len(t, items, 10)
	assert.Equal(t, "v00", items[0].ID)
	assert.Equal(t, "v09", items[9].ID)
	assert.Equal(t, "t", items[0].Title)
}

func TestFilterByKeyword(t *testing.T) {
	items := []models.Item{
		{ID: "1", Title: "Lo-Fi Beats"},
		{ID: "2", Description: "chill BEATS to study"},
		{ID: "3", Tags: []string{"Beats"}},
		{ID: "4", Title: "news"},
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids(FilterByKeyword(items, "beats")))
	assert.Len(t, FilterByKeyword(items, " "), 4)

	rec := record("r", "Live Concert")
	assert.True(t, RecordMatches(rec, "concert"))
	assert.False(t, RecordMatches(rec, "podcast"))
}

func ids(items []models.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
