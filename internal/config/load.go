package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout. Zero values leave defaults in place.
type fileConfig struct {
	Region     string   `yaml:"region"`
	Categories []string `yaml:"categories"`
	Limit      int      `yaml:"limit"`

	Cache struct {
		TTL             time.Duration `yaml:"ttl"`
		StaleRetention  time.Duration `yaml:"stale_retention"`
		Local           *bool         `yaml:"local"`
		MaxLocalEntries int64         `yaml:"max_local_entries"`
		Serialization   string        `yaml:"serialization"`
		Bloom           struct {
			Enabled           *bool         `yaml:"enabled"`
			ExpectedItems     uint          `yaml:"expected_items"`
			FalsePositiveRate float64       `yaml:"false_positive_rate"`
			RebuildInterval   time.Duration `yaml:"rebuild_interval"`
		} `yaml:"bloom"`
		Prefetch struct {
			Enabled   *bool         `yaml:"enabled"`
			Threshold int64         `yaml:"threshold"`
			MaxKeys   int           `yaml:"max_keys"`
			Lead      time.Duration `yaml:"lead"`
		} `yaml:"prefetch"`
	} `yaml:"cache"`

	Upstream struct {
		BaseURL      string        `yaml:"base_url"`
		APIKey       string        `yaml:"api_key"`
		Timeout      time.Duration `yaml:"timeout"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
		PageSize     int           `yaml:"page_size"`
		MaxPages     int           `yaml:"max_pages"`
		MaxAttempts  int           `yaml:"max_attempts"`
		BaseDelay    time.Duration `yaml:"base_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"upstream"`

	Redis struct {
		Enabled *bool  `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"redis"`

	Scheduler struct {
		Enabled      *bool  `yaml:"enabled"`
		Spec         string `yaml:"spec"`
		Warmup       *bool  `yaml:"warmup"`
		SweepSpec    string `yaml:"sweep_spec"`
		PrefetchSpec string `yaml:"prefetch_spec"`
	} `yaml:"scheduler"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level string `yaml:"level"`
		Env   string `yaml:"env"`
	} `yaml:"log"`
}

// Load builds a Config from defaults, the YAML file at path (optional), the
// environment and finally options, in that order of precedence.
func Load(path string, options ...Option) (*Config, error) {
	return load(path, os.LookupEnv, options...)
}

func load(path string, lookup func(string) (string, bool), options ...Option) (*Config, error) {
	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	opts := []Option{fc.apply, fromEnv(lookup)}
	return NewConfig(append(opts, options...)...)
}

func (fc *fileConfig) apply(c *Config) error {
	setString(&c.Region, strings.ToUpper(fc.Region))
	if len(fc.Categories) > 0 {
		c.DefaultCategories = fc.Categories
	}
	setInt(&c.DefaultLimit, fc.Limit)

	cc := &c.CacheConfig
	setDuration(&cc.TTL, fc.Cache.TTL)
	setDuration(&cc.StaleRetention, fc.Cache.StaleRetention)
	setBool(&cc.EnableLocalCache, fc.Cache.Local)
	if fc.Cache.MaxLocalEntries > 0 {
		cc.MaxLocalEntries = fc.Cache.MaxLocalEntries
	}
	setString(&cc.Serialization, fc.Cache.Serialization)
	setBool(&cc.BloomFilter.Enabled, fc.Cache.Bloom.Enabled)
	if fc.Cache.Bloom.ExpectedItems > 0 {
		cc.BloomFilter.ExpectedItems = fc.Cache.Bloom.ExpectedItems
	}
	if fc.Cache.Bloom.FalsePositiveRate > 0 {
		cc.BloomFilter.FalsePositiveRate = fc.Cache.Bloom.FalsePositiveRate
	}
	setDuration(&cc.BloomFilter.RebuildInterval, fc.Cache.Bloom.RebuildInterval)
	setBool(&cc.Prefetch.Enabled, fc.Cache.Prefetch.Enabled)
	if fc.Cache.Prefetch.Threshold > 0 {
		cc.Prefetch.Threshold = fc.Cache.Prefetch.Threshold
	}
	setInt(&cc.Prefetch.MaxKeys, fc.Cache.Prefetch.MaxKeys)
	setDuration(&cc.Prefetch.Lead, fc.Cache.Prefetch.Lead)

	uc := &c.UpstreamConfig
	setString(&uc.BaseURL, fc.Upstream.BaseURL)
	setString(&uc.APIKey, fc.Upstream.APIKey)
	setDuration(&uc.Timeout, fc.Upstream.Timeout)
	setDuration(&uc.FetchTimeout, fc.Upstream.FetchTimeout)
	setInt(&uc.PageSize, fc.Upstream.PageSize)
	setInt(&uc.MaxPages, fc.Upstream.MaxPages)
	setInt(&uc.MaxAttempts, fc.Upstream.MaxAttempts)
	setDuration(&uc.BaseDelay, fc.Upstream.BaseDelay)
	setDuration(&uc.MaxDelay, fc.Upstream.MaxDelay)

	setBool(&c.RedisConfig.Enabled, fc.Redis.Enabled)
	setString(&c.RedisConfig.URL, fc.Redis.URL)

	sc := &c.SchedulerConfig
	setBool(&sc.Enabled, fc.Scheduler.Enabled)
	setString(&sc.Spec, fc.Scheduler.Spec)
	setBool(&sc.Warmup, fc.Scheduler.Warmup)
	setString(&sc.SweepSpec, fc.Scheduler.SweepSpec)
	setString(&sc.PrefetchSpec, fc.Scheduler.PrefetchSpec)

	setString(&c.HTTPConfig.Addr, fc.HTTP.Addr)
	setString(&c.LogConfig.Level, fc.Log.Level)
	setString(&c.LogConfig.Env, fc.Log.Env)
	return nil
}

// fromEnv applies the process environment. Names follow the deployment
// variables of the service (YOUTUBE_API_KEY, REDIS_URL, ...).
func fromEnv(lookup func(string) (string, bool)) Option {
	return func(c *Config) error {
		get := func(name string) (string, bool) {
			v, ok := lookup(name)
			v = strings.TrimSpace(v)
			return v, ok && v != ""
		}

		var errs []error
		if v, ok := get("YOUTUBE_API_KEY"); ok {
			c.UpstreamConfig.APIKey = v
		}
		if v, ok := get("YOUTUBE_API_BASE_URL"); ok {
			c.UpstreamConfig.BaseURL = v
		}
		if v, ok := get("DEFAULT_COUNTRY"); ok {
			c.Region = strings.ToUpper(v)
		}
		if v, ok := get("DEFAULT_CATEGORIES"); ok {
			c.DefaultCategories = splitList(v)
		}
		if v, ok := get("TREND_LIMIT"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("TREND_LIMIT: %w", err))
			} else {
				c.DefaultLimit = n
			}
		}
		if v, ok := get("CACHE_TTL"); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("CACHE_TTL: %w", err))
			} else {
				c.CacheConfig.TTL = d
			}
		}
		if v, ok := get("CACHE_SERIALIZATION"); ok {
			c.CacheConfig.Serialization = v
		}
		if v, ok := get("REDIS_URL"); ok {
			c.RedisConfig.URL = v
		}
		if v, ok := get("REDIS_ENABLED"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("REDIS_ENABLED: %w", err))
			} else {
				c.RedisConfig.Enabled = b
			}
		}
		if v, ok := get("SCHEDULER_CRON"); ok {
			c.SchedulerConfig.Spec = v
		}
		if v, ok := get("SCHEDULER_ENABLED"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("SCHEDULER_ENABLED: %w", err))
			} else {
				c.SchedulerConfig.Enabled = b
			}
		}
		if v, ok := get("API_ADDR"); ok {
			c.HTTPConfig.Addr = v
		}
		if v, ok := get("LOG_LEVEL"); ok {
			c.LogConfig.Level = strings.ToLower(v)
		}
		if v, ok := get("APP_ENV"); ok {
			c.LogConfig.Env = strings.ToLower(v)
		}
		return errors.Join(errs...)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
