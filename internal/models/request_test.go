package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRequest_Normalize(t *testing.T) {
	req := FetchRequest{
		Region:       " id ",
		Category:     "Music",
		Keyword:      "  Lofi   Beats ",
		CollectionID: " UCabc ",
		Date:         time.Date(2025, 11, 12, 18, 30, 0, 0, time.FixedZone("WIB", 7*3600)),
	}

	got, err := req.Normalize()
	require.NoError(t, err)

	assert.Equal(t, "ID", got.Region)
	assert.Equal(t, "10", got.Category)
	assert.Equal(t, "lofi beats", got.Keyword)
	assert.Equal(t, "UCabc", got.CollectionID)
	assert.Equal(t, DefaultLimit, got.Limit)
	assert.Equal(t, "2025-11-12", got.DateString())
}

func TestFetchRequest_Normalize_CategoryForms(t *testing.T) {
	byName, err := FetchRequest{Region: "us", Category: "music"}.Normalize()
	require.NoError(t, err)
	byID, err := FetchRequest{Region: "US", Category: "10"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, byID, byName)

	unknown, err := FetchRequest{Region: "US", Category: "Polka"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "polka", unknown.Category)
}

func TestFetchRequest_Normalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  FetchRequest
	}{
		{name: "empty region", req: FetchRequest{}},
		{name: "three letters", req: FetchRequest{Region: "IDN"}},
		{name: "digits", req: FetchRequest{Region: "1D"}},
		{name: "limit too large", req: FetchRequest{Region: "ID", Limit: 51}},
		{name: "negative limit", req: FetchRequest{Region: "ID", Limit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Normalize()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-01-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseDate("31/01/2025")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCategoryIDByName(t *testing.T) {
	tests := map[string]string{
		"music":         "10",
		"NEWS":          "25",
		"tech":          "28",
		"gaming":        "20",
		"entertainment": "24",
	}
	for name, want := range tests {
		got, ok := CategoryIDByName(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := CategoryIDByName("")
	assert.False(t, ok)
	_, ok = CategoryIDByName("polka")
	assert.False(t, ok)
}
