package cache

import (
	"net/url"
	"strconv"
	"strings"

	"goflare.io/trending/internal/models"
)

// KeyPrefix starts every trending cache key.
const KeyPrefix = "trending:v1:"

// Key builds the cache key of a normalized request. Free-text fields are
// query-escaped so they cannot contain the ':' separator.
func Key(req models.FetchRequest) string {
	date := req.DateString()
	if date == "" {
		date = "-"
	}

	var b strings.Builder
	b.Grow(64)
	b.WriteString(KeyPrefix)
	b.WriteString(req.Region)
	b.WriteByte(':')
	b.WriteString(date)
	b.WriteString(":cat=")
	b.WriteString(url.QueryEscape(req.Category))
	b.WriteString(":kw=")
	b.WriteString(url.QueryEscape(req.Keyword))
	b.WriteString(":col=")
	b.WriteString(url.QueryEscape(req.CollectionID))
	b.WriteString(":n=")
	b.WriteString(strconv.Itoa(req.Limit))
	return b.String()
}
