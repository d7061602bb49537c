package models

import (
	"slices"
	"time"
)

// Item is the canonical trending record served to callers.
type Item struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Views           int64     `json:"views"`
	PublishedAt     time.Time `json:"publishedAt"`
	CollectionID    string    `json:"collectionId"`
	CollectionTitle string    `json:"collectionTitle"`
	Link            string    `json:"link"`
	ThumbnailURL    string    `json:"thumbnailUrl"`
	CategoryID      string    `json:"categoryId"`
	Tags            []string  `json:"tags"`
}

// Clone returns a copy of the item that shares no slices with the receiver.
func (i Item) Clone() Item {
	out := i
	if i.Tags != nil {
		out.Tags = slices.Clone(i.Tags)
	}
	return out
}

// CloneItems copies a batch of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// RawRecord is a video resource as returned by the upstream /videos endpoint.
type RawRecord struct {
	ID         string        `json:"id"`
	Snippet    RawSnippet    `json:"snippet"`
	Statistics RawStatistics `json:"statistics"`
}

// RawSnippet is the snippet part of a RawRecord.
type RawSnippet struct {
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	PublishedAt  string                  `json:"publishedAt"`
	ChannelID    string                  `json:"channelId"`
	ChannelTitle string                  `json:"channelTitle"`
	CategoryID   string                  `json:"categoryId"`
	Tags         []string                `json:"tags"`
	Thumbnails   map[string]RawThumbnail `json:"thumbnails"`
}

// RawThumbnail is one thumbnail rendition.
type RawThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RawStatistics carries counters; upstream encodes them as strings.
type RawStatistics struct {
	ViewCount string `json:"viewCount"`
}
