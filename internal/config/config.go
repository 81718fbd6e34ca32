// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig governs what is harvested and how detail pages are fetched.
type CrawlConfig struct {
	Kinds               []string `mapstructure:"kinds"`
	Limit               int      `mapstructure:"limit"`
	PageSize            int      `mapstructure:"page_size"`
	DetailConcurrency   int      `mapstructure:"detail_concurrency"`
	DetailFailurePolicy string   `mapstructure:"detail_failure_policy"`
	SearchEndpoint      string   `mapstructure:"search_endpoint"`
	QueryHash           string   `mapstructure:"query_hash"`
	DetailBaseURL       string   `mapstructure:"detail_base_url"`
	UserAgent           string   `mapstructure:"user_agent"`
	Locale              string   `mapstructure:"locale"`
	RespectRobots       bool     `mapstructure:"respect_robots"`
	Workers             int      `mapstructure:"workers"`
	QueueDepth          int      `mapstructure:"queue_depth"`

	// RequestsPerSecond paces fetches per site; zero leaves them unpaced.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`

	// CacheSize bounds the read-through record cache; zero disables it.
	CacheSize int `mapstructure:"cache_size"`
}

// PubSubConfig holds metadata for record notifications. An empty project
// keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk and environment. Variables use the IMDB
// prefix with dots replaced by underscores, e.g. IMDB_CRAWL_LIMIT.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.kinds", []string{"movie"})
	v.SetDefault("crawl.limit", 100)
	v.SetDefault("crawl.page_size", crawler.DefaultPageSize)
	v.SetDefault("crawl.detail_concurrency", 8)
	v.SetDefault("crawl.detail_failure_policy", "store")
	v.SetDefault("crawl.search_endpoint", crawler.DefaultSearchEndpoint)
	v.SetDefault("crawl.query_hash", crawler.AdvancedTitleSearchHash)
	v.SetDefault("crawl.detail_base_url", crawler.DefaultDetailBaseURL)
	v.SetDefault("crawl.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("crawl.locale", crawler.DefaultLocale)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.workers", 1)
	v.SetDefault("crawl.queue_depth", 16)
	v.SetDefault("crawl.requests_per_second", 0)
	v.SetDefault("crawl.burst", 1)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.table", "artworks")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.cache_size", 1024)
	v.SetDefault("pubsub.topic_name", "imdb-records")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawl.Kinds) == 0 {
		return fmt.Errorf("crawl.kinds must name at least one kind")
	}
	for _, kind := range c.Crawl.Kinds {
		if !crawler.ValidKind(kind) {
			return fmt.Errorf("crawl.kinds: unsupported kind %q", kind)
		}
	}
	if c.Crawl.Limit <= 0 {
		return fmt.Errorf("crawl.limit must be > 0")
	}
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0")
	}
	if c.Crawl.DetailConcurrency <= 0 {
		return fmt.Errorf("crawl.detail_concurrency must be > 0")
	}
	switch c.Crawl.DetailFailurePolicy {
	case "store", "drop":
	default:
		return fmt.Errorf("crawl.detail_failure_policy must be store or drop, got %q", c.Crawl.DetailFailurePolicy)
	}
	if c.Crawl.RequestsPerSecond < 0 {
		return fmt.Errorf("crawl.requests_per_second must be >= 0")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory or postgres, got %q", c.Store.Driver)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("store.cache_size must be >= 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// HTTPTimeout returns the per-request fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
