package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/trending/internal/models"
	"goflare.io/trending/pkg/serialization"
)

// Config 服務的完整配置
type Config struct {
	Region            string
	DefaultCategories []string
	DefaultLimit      int

	CacheConfig      CacheConfig
	UpstreamConfig   UpstreamConfig
	RedisConfig      RedisConfig
	ResilienceConfig ResilienceConfig
	SchedulerConfig  SchedulerConfig
	HTTPConfig       HTTPConfig
	LogConfig        LogConfig

	Logger *zap.Logger
}

// CacheConfig 緩存相關配置
type CacheConfig struct {
	TTL              time.Duration
	StaleRetention   time.Duration
	EnableLocalCache bool
	MaxLocalEntries  int64
	Serialization    string
	BloomFilter      BloomFilterConfig
	Prefetch         PrefetchConfig
}

// PrefetchConfig 熱門鍵預取配置
type PrefetchConfig struct {
	Enabled   bool
	Threshold int64
	MaxKeys   int
	Lead      time.Duration
}

// BloomFilterConfig 用於布隆過濾器的配置
type BloomFilterConfig struct {
	Enabled           bool
	ExpectedItems     uint
	FalsePositiveRate float64
	RebuildInterval   time.Duration
}

// UpstreamConfig 上游 API 配置
type UpstreamConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	FetchTimeout time.Duration
	PageSize     int
	MaxPages     int
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// RedisConfig redis 連線配置; an empty URL or Enabled=false keeps the cache in process.
type RedisConfig struct {
	Enabled bool
	URL     string
}

// ResilienceConfig 用於設置重試和熔斷器
type ResilienceConfig struct {
	CircuitBreaker  gobreaker.Settings
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// SchedulerConfig 排程配置
type SchedulerConfig struct {
	Enabled      bool
	Spec         string
	Warmup       bool
	SweepSpec    string
	PrefetchSpec string
}

// HTTPConfig HTTP 服務配置
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig 日誌配置
type LogConfig struct {
	Level string
	Env   string
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrMissingAPIKey = errors.New("upstream API key is required")
	ErrInvalidRegion = errors.New("region must be a 2-letter code")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := defaults()

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Region:            "ID",
		DefaultCategories: []string{"music", "news", "tech", "entertainment", "gaming"},
		DefaultLimit:      models.DefaultLimit,
		CacheConfig: CacheConfig{
			TTL:              24 * time.Hour,
			StaleRetention:   7 * 24 * time.Hour,
			EnableLocalCache: true,
			MaxLocalEntries:  10_000,
			Serialization:    serialization.JSONType,
			BloomFilter: BloomFilterConfig{
				Enabled:           true,
				ExpectedItems:     100_000,
				FalsePositiveRate: 0.01,
				RebuildInterval:   1 * time.Hour,
			},
			Prefetch: PrefetchConfig{
				Enabled:   true,
				Threshold: 3,
				MaxKeys:   20,
				Lead:      1 * time.Hour,
			},
		},
		UpstreamConfig: UpstreamConfig{
			BaseURL:      "https://www.googleapis.com/youtube/v3",
			Timeout:      30 * time.Second,
			FetchTimeout: 30 * time.Second,
			PageSize:     50,
			MaxPages:     5,
			MaxAttempts:  4,
			BaseDelay:    1 * time.Second,
			MaxDelay:     60 * time.Second,
		},
		RedisConfig: RedisConfig{
			Enabled: true,
		},
		ResilienceConfig: ResilienceConfig{
			CircuitBreaker: gobreaker.Settings{
				Name:        "RedisCircuitBreaker",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     1 * time.Second,
		},
		SchedulerConfig: SchedulerConfig{
			Enabled:   true,
			Spec:         "0 0 * * *",
			SweepSpec:    "@every 1h",
			PrefetchSpec: "@every 5m",
		},
		HTTPConfig: HTTPConfig{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		LogConfig: LogConfig{
			Level: "info",
			Env:   "production",
		},
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UpstreamConfig.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if _, err := (models.FetchRequest{Region: c.Region}).Normalize(); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRegion, c.Region)
	}
	if c.DefaultLimit < models.MinLimit || c.DefaultLimit > models.MaxLimit {
		return fmt.Errorf("default limit %d outside %d..%d", c.DefaultLimit, models.MinLimit, models.MaxLimit)
	}
	if c.CacheConfig.TTL <= 0 {
		return errors.New("cache TTL must be positive")
	}
	if _, err := serialization.ByName(c.CacheConfig.Serialization); err != nil {
		return err
	}
	if c.SchedulerConfig.Enabled {
		if _, err := cron.ParseStandard(c.SchedulerConfig.Spec); err != nil {
			return fmt.Errorf("invalid scheduler spec %q: %w", c.SchedulerConfig.Spec, err)
		}
	}
	return nil
}

// RedisEnabled reports whether a remote cache tier should be used.
func (c *Config) RedisEnabled() bool {
	return c.RedisConfig.Enabled && strings.TrimSpace(c.RedisConfig.URL) != ""
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithAPIKey 設置上游 API key
func WithAPIKey(key string) Option {
	return func(c *Config) error {
		c.UpstreamConfig.APIKey = key
		return nil
	}
}

// WithUpstreamBaseURL 設置上游 API 位址
func WithUpstreamBaseURL(u string) Option {
	return func(c *Config) error {
		if u == "" {
			return errors.New("upstream base URL must not be empty")
		}
		c.UpstreamConfig.BaseURL = u
		return nil
	}
}

// WithRedisURL 設置 redis 連線 URL
func WithRedisURL(u string) Option {
	return func(c *Config) error {
		c.RedisConfig.URL = u
		c.RedisConfig.Enabled = u != ""
		return nil
	}
}

// WithRegion 設置預設地區
func WithRegion(region string) Option {
	return func(c *Config) error {
		c.Region = strings.ToUpper(strings.TrimSpace(region))
		return nil
	}
}

// WithDefaultCategories 設置排程刷新的分類
func WithDefaultCategories(categories ...string) Option {
	return func(c *Config) error {
		c.DefaultCategories = categories
		return nil
	}
}

// WithCacheTTL 設置緩存 TTL
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return errors.New("cache TTL must be positive")
		}
		c.CacheConfig.TTL = ttl
		return nil
	}
}

// WithMaxLocalEntries 設置本地快取的最大項目數
func WithMaxLocalEntries(n int64) Option {
	return func(c *Config) error {
		if n <= 0 {
			return errors.New("max local entries must be greater than 0")
		}
		c.CacheConfig.MaxLocalEntries = n
		return nil
	}
}

// WithSerialization 設置序列化類型
func WithSerialization(name string) Option {
	return func(c *Config) error {
		if _, err := serialization.ByName(name); err != nil {
			return err
		}
		c.CacheConfig.Serialization = name
		return nil
	}
}

// WithRetryDelays 設置上游重試的次數與延遲
func WithRetryDelays(attempts int, base, max time.Duration) Option {
	return func(c *Config) error {
		if attempts < 1 {
			return errors.New("retry attempts must be at least 1")
		}
		c.UpstreamConfig.MaxAttempts = attempts
		c.UpstreamConfig.BaseDelay = base
		c.UpstreamConfig.MaxDelay = max
		return nil
	}
}

// WithScheduler 設置排程
func WithScheduler(enabled bool, spec string) Option {
	return func(c *Config) error {
		c.SchedulerConfig.Enabled = enabled
		if spec != "" {
			c.SchedulerConfig.Spec = spec
		}
		return nil
	}
}
