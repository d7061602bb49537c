package normalize

import (
	"strings"

	"goflare.io/trending/internal/models"
)

// FilterByKeyword keeps items whose title, description or any tag contains
// keyword, case-insensitively. An empty keyword keeps everything.
func FilterByKeyword(items []models.Item, keyword string) []models.Item {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return items
	}
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if matches(kw, it.Title, it.Description, it.Tags) {
			out = append(out, it)
		}
	}
	return out
}

// RecordMatches applies the FilterByKeyword rule to a raw record.
func RecordMatches(rec models.RawRecord, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return true
	}
	return matches(kw, rec.Snippet.Title, rec.Snippet.Description, rec.Snippet.Tags)
}

func matches(kw, title, description string, tags []string) bool {
	if strings.Contains(strings.ToLower(title), kw) || strings.Contains(strings.ToLower(description), kw) {
		return true
	}
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), kw) {
			return true
		}
	}
	return false
}
