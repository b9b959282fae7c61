// Package config loads and validates worker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Worker    WorkerConfig    `mapstructure:"worker"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DB        DBConfig        `mapstructure:"db"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Validate  ValidateConfig  `mapstructure:"validate"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WorkerConfig governs the worker pool.
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	IDPrefix    string `mapstructure:"id_prefix"`
}

// RedisConfig controls the shared Redis instance holding queues, rate
// state and dedup entries.
type RedisConfig struct {
	URL            string `mapstructure:"url"`
	CrawlQueue     string `mapstructure:"crawl_queue"`
	ResultQueue    string `mapstructure:"result_queue"`
	DeadLetter     string `mapstructure:"dead_letter_queue"`
	PopTimeoutSecs int    `mapstructure:"pop_timeout_seconds"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	PriceTable   string `mapstructure:"price_table"`
	StockTable   string `mapstructure:"stock_table"`
	LogTable     string `mapstructure:"log_table"`
	LifetimeSecs int    `mapstructure:"conn_lifetime_seconds"`
}

// ExtractConfig bounds the extraction capability call.
type ExtractConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ValidateConfig holds the persistence gate.
type ValidateConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// BatchConfig controls batched persistence.
type BatchConfig struct {
	MaxItems         int `mapstructure:"max_items"`
	FlushIntervalSec int `mapstructure:"flush_interval_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	RetryDelayMs     int `mapstructure:"retry_delay_ms"`
}

// RetryConfig controls the retry and dead-letter manager.
type RetryConfig struct {
	MaxRetries        int `mapstructure:"max_retries"`
	BackoffBaseSecs   int `mapstructure:"backoff_base_seconds"`
	BackoffMaxSecs    int `mapstructure:"backoff_max_seconds"`
	BlockedMultiplier int `mapstructure:"blocked_multiplier"`
}

// RateLimitConfig sets per-platform request spacing in seconds. Platforms
// absent from the map fall back to DefaultDelaySecs.
type RateLimitConfig struct {
	DefaultDelaySecs int            `mapstructure:"default_delay_seconds"`
	PlatformDelays   map[string]int `mapstructure:"platform_delays"`
}

// DedupConfig sets the trailing suppression window.
type DedupConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
}

// PubSubConfig optionally mirrors result events to Cloud Pub/Sub.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the ops HTTP server.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig selects the zap mode and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.id_prefix", "worker")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.crawl_queue", "pricesense:crawl:queue")
	v.SetDefault("redis.result_queue", "pricesense:result:queue")
	v.SetDefault("redis.dead_letter_queue", "pricesense:dead:queue")
	v.SetDefault("redis.pop_timeout_seconds", 2)
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.price_table", "price_history")
	v.SetDefault("db.stock_table", "stock_history")
	v.SetDefault("db.log_table", "product_scrape_logs")
	v.SetDefault("db.conn_lifetime_seconds", 3600)
	v.SetDefault("extract.timeout_seconds", 30)
	v.SetDefault("extract.user_agent", "pricesense-crawler/1.0")
	v.SetDefault("validate.min_confidence", 0.70)
	v.SetDefault("batch.max_items", 100)
	v.SetDefault("batch.flush_interval_seconds", 5)
	v.SetDefault("batch.max_attempts", 3)
	v.SetDefault("batch.retry_delay_ms", 500)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_base_seconds", 60)
	v.SetDefault("retry.backoff_max_seconds", 900)
	v.SetDefault("retry.blocked_multiplier", 3)
	v.SetDefault("rate_limit.default_delay_seconds", 2)
	v.SetDefault("dedup.window_seconds", 600)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("ops.port", 9090)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// validate enforces required values and reasonable limits.
func (c Config) validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.Extract.TimeoutSeconds <= 0 {
		return fmt.Errorf("extract.timeout_seconds must be > 0")
	}
	if c.Validate.MinConfidence < 0 || c.Validate.MinConfidence > 1 {
		return fmt.Errorf("validate.min_confidence must be within [0,1]")
	}
	if c.Batch.MaxItems <= 0 {
		return fmt.Errorf("batch.max_items must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.RateLimit.DefaultDelaySecs < 1 {
		return fmt.Errorf("rate_limit.default_delay_seconds must be >= 1")
	}
	if c.Dedup.WindowSeconds <= 0 {
		return fmt.Errorf("dedup.window_seconds must be > 0")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// ExtractTimeout returns the hard deadline imposed on extraction calls.
func (c Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Extract.TimeoutSeconds) * time.Second
}

// DedupWindow returns the trailing suppression window.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowSeconds) * time.Second
}

// PlatformDelay returns the configured spacing for a platform.
func (c Config) PlatformDelay(platform string) time.Duration {
	if secs, ok := c.RateLimit.PlatformDelays[platform]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.RateLimit.DefaultDelaySecs) * time.Second
}
