package trending

import (
	"goflare.io/trending/internal/fetcher"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/upstream"
)

var (
	ErrFetchFailed    = fetcher.ErrFetchFailed
	ErrInvalidRequest = models.ErrInvalidRequest
	ErrUnavailable    = upstream.ErrUnavailable
)
