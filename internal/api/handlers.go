package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"goflare.io/trending/internal/fetcher"
	"goflare.io/trending/internal/models"
)

const fetchFailedMessage = "failed to fetch trending items"

// Meta describes a trending response page.
type Meta struct {
	Total     int       `json:"total"`
	Limit     int       `json:"limit"`
	Page      int       `json:"page"`
	FetchedAt time.Time `json:"fetchedAt"`
	FromCache bool      `json:"fromCache"`
	Stale     bool      `json:"stale"`
}

// TrendingResponse is the body of GET /trending.
type TrendingResponse struct {
	Meta Meta          `json:"meta"`
	Data []models.Item `json:"data"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string     `json:"status"`
	Timestamp      time.Time  `json:"timestamp"`
	CacheConnected bool       `json:"cacheConnected"`
	LastFetch      *time.Time `json:"lastFetch"`
	UpstreamStatus string     `json:"upstreamStatus"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	TotalRequests      int64      `json:"totalRequests"`
	CacheHits          int64      `json:"cacheHits"`
	CacheMisses        int64      `json:"cacheMisses"`
	CacheHitRate       float64    `json:"cacheHitRate"`
	StaleServed        int64      `json:"staleServed"`
	LastFetchTimestamp *time.Time `json:"lastFetchTimestamp"`
	LastFailure        *Failure   `json:"lastFailure,omitempty"`
	UptimeSeconds      float64    `json:"uptimeSeconds"`
}

// Failure is the most recent failed fetch.
type Failure struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseTrendingQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.svc.Resolve(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidRequest):
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: invalidMessage(err)})
		case errors.Is(err, context.Canceled):
			// client went away, nobody reads the body
			s.logger.Debug("Trending request canceled",
				zap.String("request_id", RequestID(r.Context())))
		default:
			s.logger.Error("Failed to fetch trending items",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("key", res.Key),
				zap.Error(err))
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fetchFailedMessage})
		}
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = models.DefaultLimit
	}
	data := res.Items
	if data == nil {
		data = []models.Item{}
	}
	s.writeJSON(w, http.StatusOK, TrendingResponse{
		Meta: Meta{
			Total:     len(data),
			Limit:     limit,
			Page:      1,
			FetchedAt: res.FetchedAt.UTC(),
			FromCache: res.ServedFromCache(),
			Stale:     res.Outcome == fetcher.OutcomeStale,
		},
		Data: data,
	})
}

func (s *Server) parseTrendingQuery(r *http.Request) (models.FetchRequest, error) {
	q := r.URL.Query()
	req := models.FetchRequest{
		Region:       strings.ToUpper(strings.TrimSpace(q.Get("country"))),
		Category:     q.Get("category"),
		Keyword:      q.Get("keyword"),
		CollectionID: q.Get("channelId"),
	}
	if req.Region == "" {
		req.Region = s.cfg.DefaultRegion
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("limit must be an integer, got %q", v)
		}
		if n < models.MinLimit || n > models.MaxLimit {
			return req, fmt.Errorf("limit must be between %d and %d", models.MinLimit, models.MaxLimit)
		}
		req.Limit = n
	}

	if v := q.Get("date"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			return req, fmt.Errorf("date must be YYYY-MM-DD, got %q", v)
		}
		req.Date = d
	}
	return req, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PingTimeout)
	defer cancel()

	connected := true
	if err := s.svc.Ping(ctx); err != nil {
		connected = false
		s.logger.Warn("Cache ping failed", zap.Error(err))
	}

	stats := s.svc.Stats()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Timestamp:      s.clock.Now().UTC(),
		CacheConnected: connected,
		LastFetch:      timePtr(stats.LastSuccessAt),
		UpstreamStatus: upstreamStatus(stats),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := s.svc.Stats()
	resp := MetricsResponse{
		TotalRequests:      stats.TotalRequests,
		CacheHits:          stats.CacheHits,
		CacheMisses:        stats.CacheMisses,
		CacheHitRate:       stats.HitRate(),
		StaleServed:        stats.StaleServed,
		LastFetchTimestamp: timePtr(stats.LastSuccessAt),
		UptimeSeconds:      stats.Uptime(s.clock.Now()).Seconds(),
	}
	if !stats.LastFailureAt.IsZero() {
		resp.LastFailure = &Failure{At: stats.LastFailureAt.UTC(), Reason: stats.LastFailureReason}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "trending",
		"version": s.cfg.Version,
		"endpoints": map[string]string{
			"trending":   "/trending",
			"health":     "/health",
			"metrics":    "/metrics",
			"prometheus": "/metrics/prometheus",
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

// upstreamStatus is "ok" when the latest fetch event succeeded, "degraded"
// when it failed and "unknown" before any fetch.
func upstreamStatus(stats models.FetchStats) string {
	switch {
	case stats.LastSuccessAt.IsZero() && stats.LastFailureAt.IsZero():
		return "unknown"
	case stats.LastFailureAt.After(stats.LastSuccessAt):
		return "degraded"
	default:
		return "ok"
	}
}

// invalidMessage strips the wrapping fetch failure so callers only see the
// validation detail.
func invalidMessage(err error) string {
	var ff *fetcher.FetchFailedError
	if errors.As(err, &ff) && ff.Reason != nil {
		return ff.Reason.Error()
	}
	return err.Error()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
