// Package config loads and validates chapterwatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Output   OutputConfig   `mapstructure:"output"`
	Scratch  ScratchConfig  `mapstructure:"scratch"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FeedConfig names the announcement feed and how entries are matched.
type FeedConfig struct {
	URL       string `mapstructure:"url"`
	Keyword   string `mapstructure:"keyword"`
	UserAgent string `mapstructure:"user_agent"`
}

// WatchConfig sets the polling cadence.
type WatchConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	MaxAgeHours     int `mapstructure:"max_age_hours"`
}

// OutputConfig controls where documents land and how they are named.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Series string `mapstructure:"series"`
}

// ScratchConfig locates the transient download/extraction area.
type ScratchConfig struct {
	Dir string `mapstructure:"dir"`
}

// LedgerConfig selects the processed-link store.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// ResolverConfig controls landing-page link discovery.
type ResolverConfig struct {
	Mode           string `mapstructure:"mode"`
	ProviderDomain string `mapstructure:"provider_domain"`
	SettleMillis   int    `mapstructure:"settle_ms"`
}

// HTTPConfig bounds feed and page requests.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// FetchConfig tunes archive retrieval.
type FetchConfig struct {
	RecoveryDelaySeconds   int  `mapstructure:"recovery_delay_seconds"`
	DownloadTimeoutMinutes int  `mapstructure:"download_timeout_minutes"`
	MinIntervalSeconds     int  `mapstructure:"min_interval_seconds"`
	DirectLinks            bool `mapstructure:"direct_links"`
}

// ExtractConfig selects the archive extraction backend.
type ExtractConfig struct {
	Backend   string `mapstructure:"backend"`
	UnrarPath string `mapstructure:"unrar_path"`
}

// MirrorConfig enables copying documents to GCS.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig enables Pub/Sub chapter notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. Environment variables use the
// CHAPTERWATCH_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAPTERWATCH")
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

// setDefaults registers every key, including empty ones, so AutomaticEnv
// overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.keyword", "Chapter")
	v.SetDefault("feed.user_agent", "chapterwatch/0.1")
	v.SetDefault("watch.interval_minutes", 60)
	v.SetDefault("watch.max_age_hours", 24)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.series", "One Piece")
	v.SetDefault("scratch.dir", "temp_downloads")
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "processed_chapters.txt")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "processed_links")
	v.SetDefault("resolver.mode", "static")
	v.SetDefault("resolver.provider_domain", "mega.nz")
	v.SetDefault("resolver.settle_ms", 1500)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("fetch.recovery_delay_seconds", 5)
	v.SetDefault("fetch.download_timeout_minutes", 15)
	v.SetDefault("fetch.min_interval_seconds", 0)
	v.SetDefault("fetch.direct_links", false)
	v.SetDefault("extract.backend", "native")
	v.SetDefault("extract.unrar_path", "unrar")
	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Feed.URL) == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if c.Watch.IntervalMinutes <= 0 {
		errs = append(errs, errors.New("watch.interval_minutes must be > 0"))
	}
	if c.Watch.MaxAgeHours <= 0 {
		errs = append(errs, errors.New("watch.max_age_hours must be > 0"))
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if strings.TrimSpace(c.Output.Series) == "" {
		errs = append(errs, errors.New("output.series is required"))
	}
	if strings.TrimSpace(c.Scratch.Dir) == "" {
		errs = append(errs, errors.New("scratch.dir is required"))
	}
	switch c.Ledger.Backend {
	case "file":
		if strings.TrimSpace(c.Ledger.Path) == "" {
			errs = append(errs, errors.New("ledger.path is required for the file backend"))
		}
	case "postgres":
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			errs = append(errs, errors.New("ledger.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend %q must be file or postgres", c.Ledger.Backend))
	}
	switch c.Resolver.Mode {
	case "static", "headless", "auto":
	default:
		errs = append(errs, fmt.Errorf("resolver.mode %q must be static, headless or auto", c.Resolver.Mode))
	}
	if strings.TrimSpace(c.Resolver.ProviderDomain) == "" {
		errs = append(errs, errors.New("resolver.provider_domain is required"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Fetch.RecoveryDelaySeconds < 0 {
		errs = append(errs, errors.New("fetch.recovery_delay_seconds must be >= 0"))
	}
	if c.Fetch.MinIntervalSeconds < 0 {
		errs = append(errs, errors.New("fetch.min_interval_seconds must be >= 0"))
	}
	if c.Extract.Backend != "native" && c.Extract.Backend != "unrar" {
		errs = append(errs, fmt.Errorf("extract.backend %q must be native or unrar", c.Extract.Backend))
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		errs = append(errs, errors.New("notify.project_id must be set when notify.topic is set"))
	}
	return errors.Join(errs...)
}

// Interval returns the feed poll interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Watch.IntervalMinutes) * time.Minute
}

// MaxAge returns the oldest entry age still considered.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.Watch.MaxAgeHours) * time.Hour
}

// HTTPTimeout bounds feed and landing-page requests.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RecoveryDelay is the pause before rescanning the download directory.
func (c Config) RecoveryDelay() time.Duration {
	return time.Duration(c.Fetch.RecoveryDelaySeconds) * time.Second
}

// SettleDelay is how long the headless resolver waits for late links.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Resolver.SettleMillis) * time.Millisecond
}

// MinFetchInterval is the minimum gap between retrievals from one host.
func (c Config) MinFetchInterval() time.Duration {
	return time.Duration(c.Fetch.MinIntervalSeconds) * time.Second
}

// DownloadTimeout bounds a single archive transfer.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Fetch.DownloadTimeoutMinutes) * time.Minute
}
