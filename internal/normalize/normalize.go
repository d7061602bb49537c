// Package normalize turns upstream records into canonical items.
package normalize

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"goflare.io/trending/internal/models"
)

const (
	// MaxDescriptionRunes caps Item.Description.
	MaxDescriptionRunes = 500
	// MaxTags caps Item.Tags.
	MaxTags = 10

	watchURL = "https://www.youtube.com/watch?v="
)

// thumbnail renditions in order of preference
var thumbnailOrder = []string{"high", "medium", "default"}

// Normalize maps records to items, drops duplicate ids (first occurrence wins)
// and truncates the result to limit. A limit <= 0 keeps everything.
func Normalize(records []models.RawRecord, limit int) []models.Item {
	items := make([]models.Item, 0, len(records))
	for _, rec := range records {
		item, ok := ToItem(rec)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return Truncate(Dedup(items), limit)
}

// ToItem maps one record. Records without an id are rejected.
func ToItem(rec models.RawRecord) (models.Item, bool) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return models.Item{}, false
	}

	s := rec.Snippet
	return models.Item{
		ID:              id,
		Title:           s.Title,
		Description:     truncateRunes(s.Description, MaxDescriptionRunes),
		Views:           parseViews(rec.Statistics.ViewCount),
		PublishedAt:     parseTime(s.PublishedAt),
		CollectionID:    s.ChannelID,
		CollectionTitle: s.ChannelTitle,
		Link:            watchURL + id,
		ThumbnailURL:    pickThumbnail(s.Thumbnails),
		CategoryID:      s.CategoryID,
		Tags:            capTags(s.Tags),
	}, true
}

// Dedup keeps the first item for every id and preserves relative order.
func Dedup(items []models.Item) []models.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Truncate returns at most limit items.
func Truncate(items []models.Item, limit int) []models.Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func parseViews(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func pickThumbnail(thumbs map[string]models.RawThumbnail) string {
	for _, name := range thumbnailOrder {
		if t, ok := thumbs[name]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

func capTags(tags []string) []string {
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
