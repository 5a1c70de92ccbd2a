// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wikicrawl/internal/policy/namespace"
)

// Storage backends understood by StorageConfig.Backend.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Index    IndexConfig    `mapstructure:"index"`
}

// CrawlerConfig governs the fetch side of the pipeline.
type CrawlerConfig struct {
	BaseURL             string          `mapstructure:"base_url"`
	Seeds               []string        `mapstructure:"seeds"`
	FetchWorkers        int             `mapstructure:"fetch_workers"`
	StrictCompletion    bool            `mapstructure:"strict_completion"`
	UserAgent           string          `mapstructure:"user_agent"`
	Timeout             time.Duration   `mapstructure:"timeout"`
	MaxIdleConnsPerHost int             `mapstructure:"max_idle_conns_per_host"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig paces requests per host. Disabled by default.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// FrontierConfig sizes the URL frontier.
type FrontierConfig struct {
	HighWater    int           `mapstructure:"high_water"`
	LowWater     int           `mapstructure:"low_water"`
	TakeTimeout  time.Duration `mapstructure:"take_timeout"`
	HashWidth    int           `mapstructure:"hash_width"`
	Filters      []string      `mapstructure:"filters"`
	OverflowFile string        `mapstructure:"overflow_file"`
}

// ParserConfig sizes the parser pool and its backpressure valve.
type ParserConfig struct {
	Workers               int           `mapstructure:"workers"`
	QueueCapacity         int           `mapstructure:"queue_capacity"`
	BackpressureThreshold int           `mapstructure:"backpressure_threshold"`
	BackpressurePause     time.Duration `mapstructure:"backpressure_pause"`
}

// OutputConfig names the run's output directory and operator logs. Relative
// file names are resolved inside Dir.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	OverviewFile string `mapstructure:"overview_file"`
	ProcessedLog string `mapstructure:"processed_log"`
	NetworkLog   string `mapstructure:"network_log"`
	BacklogLog   string `mapstructure:"backlog_log"`
	LogMaxSizeMB int    `mapstructure:"log_max_size_mb"`
	LogBackups   int    `mapstructure:"log_backups"`
}

// StorageConfig selects where excerpt blobs are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// CatalogConfig controls the optional Postgres excerpt catalog.
type CatalogConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for excerpt notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// IndexConfig locates the inverted index built from excerpts.
type IndexConfig struct {
	Dir     string `mapstructure:"dir"`
	Results int    `mapstructure:"results"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIKICRAWL")
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
	v.SetDefault("crawler.base_url", "https://en.wikipedia.org")
	v.SetDefault("crawler.seeds", []string{
		"/wiki/New_York",
		"/wiki/Hillary_Clinton",
		"/wiki/Water",
		"/wiki/Main_Page",
		"/wiki/Technology",
	})
	v.SetDefault("crawler.fetch_workers", 10)
	v.SetDefault("crawler.strict_completion", false)
	v.SetDefault("crawler.user_agent", "wikicrawl/0.1")
	v.SetDefault("crawler.timeout", 15*time.Second)
	v.SetDefault("crawler.max_idle_conns_per_host", 16)
	v.SetDefault("crawler.rate_limit.enabled", false)
	v.SetDefault("crawler.rate_limit.requests_per_second", 10.0)
	v.SetDefault("crawler.rate_limit.burst", 10)
	v.SetDefault("frontier.high_water", 100000)
	v.SetDefault("frontier.low_water", 50000)
	v.SetDefault("frontier.take_timeout", 5*time.Second)
	v.SetDefault("frontier.hash_width", 16)
	v.SetDefault("frontier.filters", namespace.DefaultPatterns)
	v.SetDefault("frontier.overflow_file", "temp_urls.txt")
	v.SetDefault("parser.workers", 10)
	v.SetDefault("parser.queue_capacity", 1024)
	v.SetDefault("parser.backpressure_threshold", 300)
	v.SetDefault("parser.backpressure_pause", 100*time.Millisecond)
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.overview_file", "0_overview.log")
	v.SetDefault("output.processed_log", "0_processed_urls.log")
	v.SetDefault("output.network_log", "0_network_log.log")
	v.SetDefault("output.backlog_log", "0_backqueue_size.log")
	v.SetDefault("output.log_max_size_mb", 100)
	v.SetDefault("output.log_backups", 3)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("catalog.table", "excerpts")
	v.SetDefault("catalog.max_conns", 4)
	v.SetDefault("catalog.ensure_schema", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("index.dir", "index")
	v.SetDefault("index.results", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Crawler.BaseURL); err != nil {
		return fmt.Errorf("crawler.base_url is invalid: %w", err)
	}
	if c.Crawler.FetchWorkers <= 0 {
		return fmt.Errorf("crawler.fetch_workers must be > 0")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.RateLimit.Enabled && c.Crawler.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("crawler.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
	}
	if c.Frontier.LowWater < 0 || c.Frontier.HighWater < 0 {
		return fmt.Errorf("frontier water marks must be >= 0")
	}
	if c.Frontier.HighWater > 0 && c.Frontier.HighWater <= c.Frontier.LowWater {
		return fmt.Errorf("frontier.high_water must be > frontier.low_water")
	}
	if c.Frontier.TakeTimeout <= 0 {
		return fmt.Errorf("frontier.take_timeout must be > 0")
	}
	if c.Frontier.HashWidth <= 0 || c.Frontier.HashWidth > 64 {
		return fmt.Errorf("frontier.hash_width must be between 1 and 64")
	}
	if c.Parser.Workers <= 0 {
		return fmt.Errorf("parser.workers must be > 0")
	}
	if c.Parser.QueueCapacity <= 0 {
		return fmt.Errorf("parser.queue_capacity must be > 0")
	}
	if c.Parser.BackpressureThreshold < 0 || c.Parser.BackpressurePause < 0 {
		return fmt.Errorf("parser backpressure settings must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, memory, gcs", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// OutputPath resolves name inside the output directory unless it is absolute.
func (c Config) OutputPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Output.Dir, name)
}
