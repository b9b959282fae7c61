package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Worker.Concurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Extract.TimeoutSeconds != 30 {
		t.Fatalf("expected default extract timeout 30s, got %d", cfg.Extract.TimeoutSeconds)
	}
	if cfg.Validate.MinConfidence != 0.70 {
		t.Fatalf("expected default confidence gate 0.70, got %v", cfg.Validate.MinConfidence)
	}
	if cfg.Batch.MaxItems != 100 {
		t.Fatalf("expected default batch size 100, got %d", cfg.Batch.MaxItems)
	}
	if cfg.DedupWindow() != 10*time.Minute {
		t.Fatalf("expected default dedup window 10m, got %v", cfg.DedupWindow())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
worker:
  concurrency: 8
redis:
  url: redis://redis.internal:6379/1
  crawl_queue: crawl:queue
extract:
  timeout_seconds: 20
  user_agent: custom-agent
validate:
  min_confidence: 0.8
retry:
  max_retries: 5
  backoff_base_seconds: 30
rate_limit:
  default_delay_seconds: 3
  platform_delays:
    coupang: 5
dedup:
  window_seconds: 120
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Redis.URL != "redis://redis.internal:6379/1" {
		t.Fatalf("expected redis url override, got %q", cfg.Redis.URL)
	}
	if cfg.ExtractTimeout() != 20*time.Second {
		t.Fatalf("expected extract timeout 20s, got %v", cfg.ExtractTimeout())
	}
	if cfg.Validate.MinConfidence != 0.8 {
		t.Fatalf("expected confidence gate 0.8, got %v", cfg.Validate.MinConfidence)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Fatalf("expected max retries 5, got %d", cfg.Retry.MaxRetries)
	}
	if got := cfg.PlatformDelay("coupang"); got != 5*time.Second {
		t.Fatalf("expected coupang delay 5s, got %v", got)
	}
	if got := cfg.PlatformDelay("gmarket"); got != 3*time.Second {
		t.Fatalf("expected fallback delay 3s, got %v", got)
	}
	if cfg.DedupWindow() != 2*time.Minute {
		t.Fatalf("expected dedup window 2m, got %v", cfg.DedupWindow())
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected log level warn, got %q", cfg.Logging.Level)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Worker.Concurrency = 0
				return c
			}(),
			want: "worker.concurrency",
		},
		{
			name: "missing redis url",
			cfg: func() Config {
				c := base
				c.Redis.URL = ""
				return c
			}(),
			want: "redis.url",
		},
		{
			name: "invalid confidence gate",
			cfg: func() Config {
				c := base
				c.Validate.MinConfidence = 1.5
				return c
			}(),
			want: "validate.min_confidence",
		},
		{
			name: "sub-second rate limit",
			cfg: func() Config {
				c := base
				c.RateLimit.DefaultDelaySecs = 0
				return c
			}(),
			want: "rate_limit.default_delay_seconds",
		},
		{
			name: "pubsub enabled without project",
			cfg: func() Config {
				c := base
				c.PubSub.Enabled = true
				c.PubSub.TopicName = "results"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
