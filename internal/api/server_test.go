package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/trending/internal/fetcher"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/utils"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeService struct {
	mu      sync.Mutex
	got     []models.FetchRequest
	result  fetcher.Result
	err     error
	stats   models.FetchStats
	pingErr error
}

func (f *fakeService) Resolve(_ context.Context, req models.FetchRequest) (fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	return f.result, f.err
}

func (f *fakeService) Stats() models.FetchStats { return f.stats }

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

func newTestServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	s := NewServer(svc, Config{DefaultRegion: "ID", Version: "test"}, zap.NewNop(),
		WithClock(utils.NewManualClock(now)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestTrendingParsesQuery(t *testing.T) {
	svc := &fakeService{result: fetcher.Result{
		Outcome:   fetcher.OutcomeCached,
		Items:     []models.Item{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}},
		FetchedAt: now.Add(-time.Hour),
	}}
	ts := newTestServer(t, svc)

	var body TrendingResponse
	resp := getJSON(t, ts.URL+"/trending?country=us&category=music&keyword=Live&channelId=UC1&limit=5&date=2024-04-30", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, svc.got, 1)
	got := svc.got[0]
	assert.Equal(t, "US", got.Region)
	assert.Equal(t, "music", got.Category)
	assert.Equal(t, "Live", got.Keyword)
	assert.Equal(t, "UC1", got.CollectionID)
	assert.Equal(t, 5, got.Limit)
	assert.Equal(t, "2024-04-30", got.DateString())

	assert.Equal(t, 2, body.Meta.Total)
	assert.Equal(t, 5, body.Meta.Limit)
	assert.Equal(t, 1, body.Meta.Page)
	assert.True(t, body.Meta.FromCache)
	assert.False(t, body.Meta.Stale)
	assert.True(t, now.Add(-time.Hour).Equal(body.Meta.FetchedAt))
	assert.Equal(t, "a", body.Data[0].ID)
}

func TestTrendingDefaults(t *testing.T) {
	svc := &fakeService{result: fetcher.Result{Outcome: fetcher.OutcomeFresh}}
	ts := newTestServer(t, svc)

	var raw map[string]json.RawMessage
	resp := getJSON(t, ts.URL+"/trending", &raw)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ID", svc.got[0].Region)
	assert.Equal(t, 0, svc.got[0].Limit)
	assert.JSONEq(t, `[]`, string(raw["data"]))

	var meta Meta
	require.NoError(t, json.Unmarshal(raw["meta"], &meta))
	assert.Equal(t, models.DefaultLimit, meta.Limit)
	assert.False(t, meta.FromCache)
}

func TestTrendingStaleIsFlagged(t *testing.T) {
	svc := &fakeService{result: fetcher.Result{Outcome: fetcher.OutcomeStale, Items: []models.Item{{ID: "old"}}}}
	ts := newTestServer(t, svc)

	var body TrendingResponse
	getJSON(t, ts.URL+"/trending", &body)

	assert.True(t, body.Meta.FromCache)
	assert.True(t, body.Meta.Stale)
}

func TestTrendingBadParameters(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	for _, q := range []string{"limit=abc", "limit=0", "limit=51", "date=01-05-2024"} {
		var body errorResponse
		resp := getJSON(t, ts.URL+"/trending?"+q, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.NotEmpty(t, body.Error, q)
	}
}

func TestTrendingInvalidRequestFromPipeline(t *testing.T) {
	svc := &fakeService{err: &fetcher.FetchFailedError{
		Reason: errors.Join(models.ErrInvalidRequest, errors.New("region \"USA\" is not a 2-letter code")),
	}}
	ts := newTestServer(t, svc)

	var body errorResponse
	resp := getJSON(t, ts.URL+"/trending?country=USA", &body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Error, "2-letter")
}

func TestTrendingFetchFailedHidesReason(t *testing.T) {
	svc := &fakeService{err: &fetcher.FetchFailedError{Key: "k", Reason: errors.New("quota exceeded for key=secret")}}
	ts := newTestServer(t, svc)

	resp, err := http.Get(ts.URL + "/trending")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"failed to fetch trending items"}`, string(raw))
	assert.NotContains(t, string(raw), "secret")
}

func TestHealth(t *testing.T) {
	svc := &fakeService{stats: models.FetchStats{LastSuccessAt: now.Add(-time.Minute)}}
	ts := newTestServer(t, svc)

	var body HealthResponse
	resp := getJSON(t, ts.URL+"/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.CacheConnected)
	require.NotNil(t, body.LastFetch)
	assert.True(t, now.Add(-time.Minute).Equal(*body.LastFetch))
	assert.Equal(t, "ok", body.UpstreamStatus)
	assert.True(t, now.Equal(body.Timestamp))
}

func TestHealthDegraded(t *testing.T) {
	svc := &fakeService{
		stats: models.FetchStats{
			LastSuccessAt: now.Add(-time.Hour),
			LastFailureAt: now.Add(-time.Minute),
		},
		pingErr: errors.New("redis down"),
	}
	ts := newTestServer(t, svc)

	var body HealthResponse
	getJSON(t, ts.URL+"/health", &body)

	assert.False(t, body.CacheConnected)
	assert.Equal(t, "degraded", body.UpstreamStatus)
}

func TestUpstreamStatus(t *testing.T) {
	assert.Equal(t, "unknown", upstreamStatus(models.FetchStats{}))
	assert.Equal(t, "degraded", upstreamStatus(models.FetchStats{LastFailureAt: now}))
	assert.Equal(t, "ok", upstreamStatus(models.FetchStats{LastSuccessAt: now, LastFailureAt: now.Add(-time.Second)}))
}

func TestMetricsJSON(t *testing.T) {
	svc := &fakeService{stats: models.FetchStats{
		TotalRequests:     10,
		CacheHits:         3,
		CacheMisses:       1,
		StaleServed:       1,
		LastFailureAt:     now.Add(-time.Second),
		LastFailureReason: "upstream unavailable",
		StartedAt:         now.Add(-90 * time.Second),
	}}
	ts := newTestServer(t, svc)

	var body MetricsResponse
	getJSON(t, ts.URL+"/metrics", &body)

	assert.EqualValues(t, 10, body.TotalRequests)
	assert.InDelta(t, 0.75, body.CacheHitRate, 1e-9)
	assert.EqualValues(t, 1, body.StaleServed)
	assert.Nil(t, body.LastFetchTimestamp)
	require.NotNil(t, body.LastFailure)
	assert.Equal(t, "upstream unavailable", body.LastFailure.Reason)
	assert.InDelta(t, 90, body.UptimeSeconds, 1e-9)
}

func TestPrometheusExposition(t *testing.T) {
	svc := &fakeService{stats: models.FetchStats{TotalRequests: 7, CacheHits: 2}}
	ts := newTestServer(t, svc)

	// one routed request so the latency histogram has a sample
	getJSON(t, ts.URL+"/health", nil)

	scrape := func() string {
		resp, err := http.Get(ts.URL + "/metrics/prometheus")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(raw)
	}

	text := scrape()
	assert.Contains(t, text, "trending_requests_total 7")
	assert.Contains(t, text, "trending_cache_hits_total 2")
	// the histogram is observed after the response is written
	assert.Eventually(t, func() bool {
		return strings.Contains(scrape(), `trending_http_request_duration_seconds_count{route="GET /health",status="200"} 1`)
	}, time.Second, 10*time.Millisecond)
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	resp := getJSON(t, ts.URL+"/", nil)
	_, err := uuid.Parse(resp.Header.Get(RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, id)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get(RequestIDHeader))
}

func TestRootAndUnknownRoutes(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	var body map[string]any
	resp := getJSON(t, ts.URL+"/", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", body["version"])

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/trending", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestShutdownBeforeServe(t *testing.T) {
	s := NewServer(&fakeService{}, Config{Addr: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, s.Shutdown(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, s.Serve(ln))

	// Serve closed the listener
	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err)
}

func TestShutdownWhileServing(t *testing.T) {
	s := NewServer(&fakeService{}, Config{}, zap.NewNop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
