package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
feed:
  url: https://blog.example.com/feed
  keyword: "צ'אפטר"
  user_agent: test-agent
watch:
  interval_minutes: 15
  max_age_hours: 48
output:
  dir: /srv/pdf
  series: Berserk
scratch:
  dir: /tmp/cw
ledger:
  backend: postgres
  dsn: postgres://cw@localhost/cw
  table: seen_links
resolver:
  mode: headless
  provider_domain: files.example.org
http:
  timeout_seconds: 10
fetch:
  recovery_delay_seconds: 2
  direct_links: true
extract:
  backend: unrar
  unrar_path: /usr/local/bin/unrar
mirror:
  gcs_bucket: chapters
notify:
  project_id: proj
  topic: chapters-ready
server:
  addr: ":9090"
logging:
  development: true
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Feed.Keyword != "צ'אפטר" || cfg.Feed.UserAgent != "test-agent" {
		t.Fatalf("feed overrides not applied: %+v", cfg.Feed)
	}
	if cfg.Interval() != 15*time.Minute || cfg.MaxAge() != 48*time.Hour {
		t.Fatalf("unexpected durations: %s %s", cfg.Interval(), cfg.MaxAge())
	}
	if cfg.Output.Series != "Berserk" || cfg.Scratch.Dir != "/tmp/cw" {
		t.Fatalf("output/scratch overrides not applied: %+v %+v", cfg.Output, cfg.Scratch)
	}
	if cfg.Ledger.Backend != "postgres" || cfg.Ledger.Table != "seen_links" {
		t.Fatalf("ledger overrides not applied: %+v", cfg.Ledger)
	}
	if cfg.Resolver.Mode != "headless" || cfg.Resolver.ProviderDomain != "files.example.org" {
		t.Fatalf("resolver overrides not applied: %+v", cfg.Resolver)
	}
	if cfg.RecoveryDelay() != 2*time.Second || !cfg.Fetch.DirectLinks {
		t.Fatalf("fetch overrides not applied: %+v", cfg.Fetch)
	}
	if cfg.Extract.Backend != "unrar" || cfg.Mirror.GCSBucket != "chapters" || cfg.Notify.Topic != "chapters-ready" {
		t.Fatalf("extract/mirror/notify overrides not applied: %+v", cfg)
	}
	if cfg.Server.Addr != ":9090" || !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("server/logging overrides not applied: %+v %+v", cfg.Server, cfg.Logging)
	}
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("CHAPTERWATCH_FEED_URL", "https://blog.example.com/rss")
	t.Setenv("CHAPTERWATCH_WATCH_INTERVAL_MINUTES", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Feed.URL != "https://blog.example.com/rss" {
		t.Fatalf("expected env feed url, got %q", cfg.Feed.URL)
	}
	if cfg.Interval() != 5*time.Minute {
		t.Fatalf("expected env interval, got %s", cfg.Interval())
	}
	if cfg.Feed.Keyword != "Chapter" || cfg.MaxAge() != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg.Feed)
	}
	if cfg.Ledger.Backend != "file" || cfg.Ledger.Path != "processed_chapters.txt" {
		t.Fatalf("unexpected ledger defaults: %+v", cfg.Ledger)
	}
	if cfg.Output.Dir != "output" || cfg.Scratch.Dir != "temp_downloads" {
		t.Fatalf("unexpected path defaults: %+v %+v", cfg.Output, cfg.Scratch)
	}
	if cfg.Resolver.ProviderDomain != "mega.nz" || cfg.Extract.Backend != "native" {
		t.Fatalf("unexpected resolver/extract defaults: %+v %+v", cfg.Resolver, cfg.Extract)
	}
	if cfg.HTTPTimeout() != 30*time.Second || cfg.RecoveryDelay() != 5*time.Second {
		t.Fatalf("unexpected timing defaults: %s %s", cfg.HTTPTimeout(), cfg.RecoveryDelay())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Feed:     FeedConfig{URL: "https://x/feed"},
			Watch:    WatchConfig{IntervalMinutes: 60, MaxAgeHours: 24},
			Output:   OutputConfig{Dir: "out", Series: "One Piece"},
			Scratch:  ScratchConfig{Dir: "tmp"},
			Ledger:   LedgerConfig{Backend: "file", Path: "ledger.txt"},
			Resolver: ResolverConfig{Mode: "static", ProviderDomain: "mega.nz"},
			HTTP:     HTTPConfig{TimeoutSeconds: 30},
			Extract:  ExtractConfig{Backend: "native"},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing feed", func(c *Config) { c.Feed.URL = " " }, "feed.url"},
		{"zero interval", func(c *Config) { c.Watch.IntervalMinutes = 0 }, "interval_minutes"},
		{"negative age", func(c *Config) { c.Watch.MaxAgeHours = -1 }, "max_age_hours"},
		{"unknown ledger", func(c *Config) { c.Ledger.Backend = "redis" }, "ledger.backend"},
		{"postgres without dsn", func(c *Config) { c.Ledger.Backend = "postgres" }, "ledger.dsn"},
		{"unknown resolver", func(c *Config) { c.Resolver.Mode = "magic" }, "resolver.mode"},
		{"unknown extractor", func(c *Config) { c.Extract.Backend = "7z" }, "extract.backend"},
		{"topic without project", func(c *Config) { c.Notify.Topic = "t" }, "notify.project_id"},
		{"missing series", func(c *Config) { c.Output.Series = "" }, "output.series"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
