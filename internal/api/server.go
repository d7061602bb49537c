package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"goflare.io/trending/internal/fetcher"
	"goflare.io/trending/internal/models"
	"goflare.io/trending/internal/utils"
)

// Service is what the HTTP layer needs from the pipeline.
type Service interface {
	Resolve(ctx context.Context, req models.FetchRequest) (fetcher.Result, error)
	Stats() models.FetchStats
	Ping(ctx context.Context) error
}

// Config HTTP 服務配置
type Config struct {
	Addr          string
	DefaultRegion string
	Version       string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	// PingTimeout bounds the cache check done by /health.
	PingTimeout time.Duration
}

// Option 配置 Server
type Option func(*Server)

// WithClock overrides the clock used for response timestamps.
func WithClock(c utils.Clock) Option {
	return func(s *Server) { s.clock = utils.OrSystem(c) }
}

// WithRegistry exports metrics through an existing prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// Server 提供 trending HTTP API
type Server struct {
	svc      Service
	cfg      Config
	logger   *zap.Logger
	clock    utils.Clock
	mux      *http.ServeMux
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	server   *http.Server
}

// NewServer registers the routes and the prometheus collectors.
func NewServer(svc Service, cfg Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "ID"
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}

	s := &Server{
		svc:      svc,
		cfg:      cfg,
		logger:   logger,
		clock:    utils.SystemClock{},
		mux:      http.NewServeMux(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerMetrics()
	s.registerRoutes()
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /trending", s.handleTrending)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.Handle("GET /metrics/prometheus", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler with the request middleware applied.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withCommonHeaders(s.mux))
}

// Start listens on cfg.Addr and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. After Shutdown it closes ln
// and returns nil at once.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests. It may run before Serve.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerMetrics() {
	factory := promauto.With(s.registry)
	stats := s.svc.Stats

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "trending_requests_total",
		Help: "Total number of trending lookups",
	}, func() float64 { return float64(stats().TotalRequests) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "trending_cache_hits_total",
		Help: "Total number of fresh cache hits",
	}, func() float64 { return float64(stats().CacheHits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "trending_cache_misses_total",
		Help: "Total number of cache misses",
	}, func() float64 { return float64(stats().CacheMisses) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "trending_stale_served_total",
		Help: "Total number of stale fallbacks served",
	}, func() float64 { return float64(stats().StaleServed) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "trending_upstream_fetches_total",
		Help: "Total number of upstream fetch attempts",
	}, func() float64 { return float64(stats().UpstreamFetches) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trending_cache_hit_ratio",
		Help: "Cache hits divided by lookups",
	}, func() float64 { return stats().HitRate() })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trending_last_fetch_timestamp_seconds",
		Help: "Unix time of the last successful upstream fetch",
	}, func() float64 {
		t := stats().LastSuccessAt
		if t.IsZero() {
			return 0
		}
		return float64(t.Unix())
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "trending_uptime_seconds",
		Help: "Seconds since the service started",
	}, func() float64 { return stats().Uptime(s.clock.Now()).Seconds() })

	s.duration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trending_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
}
