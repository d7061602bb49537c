// Package upstream is the client of the YouTube Data API v3 compatible
// content API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/normalize"
	"goflare.io/trending/internal/retrier"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com/youtube/v3"
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 50
	DefaultMaxPages = 5

	// API limit for maxResults and for ids per /videos call
	maxPageSize = 50

	videoParts   = "snippet,statistics"
	maxBodyBytes = 8 << 20
)

// Config holds the upstream client settings.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	PageSize int
	MaxPages int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		Timeout:  DefaultTimeout,
		PageSize: DefaultPageSize,
		MaxPages: DefaultMaxPages,
	}
}

// DefaultRetrier returns the 4-attempt schedule with delays of 1s, 2s and 4s.
func DefaultRetrier(opts ...retrier.Option) (*retrier.Retrier, error) {
	return retrier.NewRetrier(4, time.Second, time.Minute, 2, 0, retrier.ExponentialBackoff, opts...)
}

// Client fetches raw records. It keeps no state between calls.
type Client struct {
	cfg     Config
	http    *retryablehttp.Client
	retrier *retrier.Retrier
	logger  *zap.Logger
}

type listResponse struct {
	Items         []models.RawRecord `json:"items"`
	NextPageToken string             `json:"nextPageToken"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// New creates a Client. A nil retrier selects DefaultRetrier.
func New(cfg Config, r *retrier.Retrier, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("upstream API key is required")
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = maxPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil {
		var err error
		if r, err = DefaultRetrier(); err != nil {
			return nil, err
		}
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 0
	hc.CheckRetry = func(context.Context, *http.Response, error) (bool, error) { return false, nil }
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = zapLeveled{s: logger.Named("http").Sugar()}

	return &Client{
		cfg:     cfg,
		http:    hc,
		retrier: r,
		logger:  logger,
	}, nil
}

// Fetch returns the raw records for a normalized request. Strategy:
// collection id, then keyword search (plus the keyword-filtered category
// chart when a category is set), then the mostPopular chart.
func (c *Client) Fetch(ctx context.Context, req models.FetchRequest) ([]models.RawRecord, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}

	switch {
	case req.CollectionID != "":
		params := url.Values{
			"part":      {"snippet"},
			"type":      {"video"},
			"order":     {"date"},
			"channelId": {req.CollectionID},
		}
		applyDate(params, req)
		return c.searchVideos(ctx, params, limit)

	case req.Keyword != "":
		params := url.Values{
			"part":       {"snippet"},
			"type":       {"video"},
			"order":      {"viewCount"},
			"q":          {req.Keyword},
			"regionCode": {req.Region},
		}
		if req.Category != "" {
			params.Set("videoCategoryId", req.Category)
		}
		applyDate(params, req)

		records, err := c.searchVideos(ctx, params, limit)
		if err != nil {
			return nil, err
		}
		if req.Category == "" {
			return records, nil
		}

		chart, err := c.chart(ctx, req, limit)
		if err != nil {
			return nil, err
		}
		for _, rec := range chart {
			if normalize.RecordMatches(rec, req.Keyword) {
				records = append(records, rec)
			}
		}
		return records, nil

	default:
		return c.chart(ctx, req, limit)
	}
}

func (c *Client) chart(ctx context.Context, req models.FetchRequest, limit int) ([]models.RawRecord, error) {
	params := url.Values{
		"part":       {videoParts},
		"chart":      {"mostPopular"},
		"regionCode": {req.Region},
		"maxResults": {strconv.Itoa(c.cfg.PageSize)},
	}
	if req.Category != "" {
		params.Set("videoCategoryId", req.Category)
	}

	var records []models.RawRecord
	seen := make(map[string]struct{})
	err := c.paginate(ctx, "videos", func(token string) (string, error) {
		var resp listResponse
		if err := c.get(ctx, "videos", withPageToken(params, token), &resp); err != nil {
			return "", err
		}
		for _, rec := range resp.Items {
			records = append(records, rec)
			if rec.ID != "" {
				seen[rec.ID] = struct{}{}
			}
		}
		if len(seen) >= limit {
			return "", nil
		}
		return resp.NextPageToken, nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// searchVideos pages through /search collecting distinct video ids and then
// loads their details from /videos in one call.
func (c *Client) searchVideos(ctx context.Context, params url.Values, limit int) ([]models.RawRecord, error) {
	params.Set("maxResults", strconv.Itoa(c.cfg.PageSize))

	var ids []string
	seen := make(map[string]struct{})
	err := c.paginate(ctx, "search", func(token string) (string, error) {
		var resp searchResponse
		if err := c.get(ctx, "search", withPageToken(params, token), &resp); err != nil {
			return "", err
		}
		for _, it := range resp.Items {
			id := it.ID.VideoID
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) >= limit {
			return "", nil
		}
		return resp.NextPageToken, nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.RawRecord{}, nil
	}
	if len(ids) > maxPageSize {
		ids = ids[:maxPageSize]
	}

	var resp listResponse
	details := url.Values{
		"part":       {videoParts},
		"id":         {strings.Join(ids, ",")},
		"maxResults": {strconv.Itoa(maxPageSize)},
	}
	if err := c.get(ctx, "videos", details, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// paginate calls page with the current token until it returns an empty next
// token or MaxPages pages were read.
func (c *Client) paginate(ctx context.Context, endpoint string, page func(token string) (string, error)) error {
	token := ""
	for n := 0; n < c.cfg.MaxPages; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := page(token)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		token = next
	}
	c.logger.Warn("Upstream page cap reached",
		zap.String("endpoint", endpoint),
		zap.Int("maxPages", c.cfg.MaxPages))
	return nil
}

// get runs one API call under the retrier and decodes the body into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	q := cloneValues(params)
	q.Set("key", c.cfg.APIKey)
	u := c.cfg.BaseURL + "/" + endpoint + "?" + q.Encode()

	attempt := 0
	var last error
	err := c.retrier.Run(ctx, func() error {
		attempt++
		err := c.do(ctx, u, out)
		if err != nil {
			last = err
			c.logger.Warn("Upstream call failed",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
	if err == nil {
		return nil
	}

	var exhausted *retrier.ExhaustedError
	if errors.As(err, &exhausted) {
		return &UnavailableError{Attempts: exhausted.Attempts, Err: exhausted.Err}
	}
	// 重試途中 deadline 到期，且之前的失敗都可重試：視為上游不可用
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && retrier.IsTemporary(last) {
		return &UnavailableError{Attempts: attempt, Err: last}
	}
	return err
}

func (c *Client) do(ctx context.Context, u string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &Error{Kind: KindInvalid, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Classify(resp.StatusCode, resp.Header, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	return nil
}

func applyDate(params url.Values, req models.FetchRequest) {
	if !req.HasDate() {
		return
	}
	params.Set("publishedAfter", req.Date.Format(time.RFC3339))
	params.Set("publishedBefore", req.Date.Add(24*time.Hour).Format(time.RFC3339))
}

func withPageToken(params url.Values, token string) url.Values {
	if token == "" {
		return params
	}
	q := cloneValues(params)
	q.Set("pageToken", token)
	return q
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
