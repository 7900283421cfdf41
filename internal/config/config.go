// Package config loads and validates tracker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// PRICETRACKER_DISPATCHER_WORKERS=8.
const EnvPrefix = "PRICETRACKER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Retrain    RetrainConfig    `mapstructure:"retrain"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Events     EventsConfig     `mapstructure:"events"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Auth            AuthConfig    `mapstructure:"auth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level is a zap level name; empty keeps the mode's default.
	Level string `mapstructure:"level"`
}

// SchedulerConfig places the sweep and retrain slots on the wall clock.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepOffset     time.Duration `mapstructure:"sweep_offset"`
	RetrainInterval time.Duration `mapstructure:"retrain_interval"`
	RetrainOffset   time.Duration `mapstructure:"retrain_offset"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	// Lock is "local" or "redis".
	Lock string `mapstructure:"lock"`
}

// DispatcherConfig governs the worker pool and retry policy.
type DispatcherConfig struct {
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	SoftTimeout       time.Duration `mapstructure:"soft_timeout"`
	HardTimeout       time.Duration `mapstructure:"hard_timeout"`
	ReleaseGrace      time.Duration `mapstructure:"release_grace"`
}

// HostLimit overrides the request rate for one host suffix.
type HostLimit struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ScraperConfig sets the outbound request profile.
type ScraperConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	AcceptLanguage   string        `mapstructure:"accept_language"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	Proxy            string        `mapstructure:"proxy"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes"`
	PerHostRPS       float64       `mapstructure:"per_host_rps"`
	PerHostBurst     int           `mapstructure:"per_host_burst"`
	PerHostOverrides []HostLimit   `mapstructure:"per_host_overrides"`
}

// HeadlessConfig configures the headless rendering path.
type HeadlessConfig struct {
	// Mode is "off", "auto" or "always".
	Mode               string        `mapstructure:"mode"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// AnalysisConfig tunes the drift analyzer.
type AnalysisConfig struct {
	Window         time.Duration `mapstructure:"window"`
	DriftThreshold float64       `mapstructure:"drift_threshold"`
	RetrainTimeout time.Duration `mapstructure:"retrain_timeout"`
}

// StorageConfig selects the product store.
type StorageConfig struct {
	// Backend is "memory", "postgres" or "sqlite".
	Backend  string         `mapstructure:"backend"`
	Migrate  bool           `mapstructure:"migrate"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig selects where unextractable pages are kept.
type ArchiveConfig struct {
	// Backend is "none", "local" or "gcs".
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// AnalyticsConfig configures the optional analytics mirror.
type AnalyticsConfig struct {
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
}

// ClickHouseConfig is disabled while DSN is empty.
type ClickHouseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// NotifyConfig holds per-channel delivery settings. A channel with no
// endpoint or host configured is not registered.
type NotifyConfig struct {
	Email EmailConfig `mapstructure:"email"`
	SMS   SMSConfig   `mapstructure:"sms"`
	Push  PushConfig  `mapstructure:"push"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Sender   string        `mapstructure:"sender"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig points at the SMS gateway.
type SMSConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PushConfig selects the push backend.
type PushConfig struct {
	// Backend is "webhook" or "telegram".
	Backend       string        `mapstructure:"backend"`
	Endpoint      string        `mapstructure:"endpoint"`
	Token         string        `mapstructure:"token"`
	TelegramToken string        `mapstructure:"telegram_token"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RetrainConfig selects the retraining collaborator.
type RetrainConfig struct {
	// Backend is "log", "pubsub" or "kafka".
	Backend   string        `mapstructure:"backend"`
	ProjectID string        `mapstructure:"project_id"`
	Topic     string        `mapstructure:"topic"`
	Brokers   []string      `mapstructure:"brokers"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RedisConfig is used by the redis scheduler lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EventsConfig tunes the progress hub.
type EventsConfig struct {
	Buffer         int           `mapstructure:"buffer"`
	Batch          int           `mapstructure:"batch"`
	BatchWait      time.Duration `mapstructure:"batch_wait"`
	WebSocket      bool          `mapstructure:"websocket"`
	StreamBuffer   int           `mapstructure:"stream_buffer"`
	StreamWriteTTL time.Duration `mapstructure:"stream_write_timeout"`
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from a .env file, disk and the environment, in
// increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_interval", 6*time.Hour)
	v.SetDefault("scheduler.sweep_offset", time.Duration(0))
	v.SetDefault("scheduler.retrain_interval", 7*24*time.Hour)
	v.SetDefault("scheduler.retrain_offset", 75*time.Hour)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.lock", "local")

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 256)
	v.SetDefault("dispatcher.max_attempts", 3)
	v.SetDefault("dispatcher.retry_backoff", time.Minute)
	v.SetDefault("dispatcher.backoff_multiplier", 1.0)
	v.SetDefault("dispatcher.max_backoff", 10*time.Minute)
	v.SetDefault("dispatcher.soft_timeout", 240*time.Second)
	v.SetDefault("dispatcher.hard_timeout", 300*time.Second)
	v.SetDefault("dispatcher.release_grace", 10*time.Second)

	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("scraper.accept_language", "en-US,en;q=0.9")
	v.SetDefault("scraper.request_timeout", 10*time.Second)
	v.SetDefault("scraper.max_body_bytes", 8*1024*1024)
	v.SetDefault("scraper.per_host_rps", 0.5)
	v.SetDefault("scraper.per_host_burst", 1)

	v.SetDefault("headless.mode", "auto")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", 45*time.Second)
	v.SetDefault("headless.settle_delay", 2*time.Second)
	v.SetDefault("headless.promotion_threshold", 60)

	v.SetDefault("analysis.window", 7*24*time.Hour)
	v.SetDefault("analysis.drift_threshold", 0.15)
	v.SetDefault("analysis.retrain_timeout", 10*time.Second)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("storage.sqlite.path", "price-tracker.db")

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.dir", "data/archive")
	v.SetDefault("archive.prefix", "pages")

	v.SetDefault("analytics.clickhouse.table", "price_checks")

	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.timeout", 10*time.Second)
	v.SetDefault("notify.sms.from", "PriceTracker")
	v.SetDefault("notify.sms.timeout", 10*time.Second)
	v.SetDefault("notify.push.backend", "webhook")
	v.SetDefault("notify.push.timeout", 10*time.Second)

	v.SetDefault("retrain.backend", "log")
	v.SetDefault("retrain.topic", "price-retrain")
	v.SetDefault("retrain.timeout", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("events.buffer", 1024)
	v.SetDefault("events.batch", 256)
	v.SetDefault("events.batch_wait", 250*time.Millisecond)
	v.SetDefault("events.websocket", true)
	v.SetDefault("events.stream_buffer", 64)
	v.SetDefault("events.stream_write_timeout", 5*time.Second)

	v.SetDefault("telemetry.service_name", "price-tracker")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Auth.Enabled && c.Server.Auth.APIKey == "" {
		return fmt.Errorf("server.auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.SweepInterval <= 0 || c.Scheduler.RetrainInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be > 0")
	}
	if !oneOf(c.Scheduler.Lock, "local", "redis") {
		return fmt.Errorf("scheduler.lock must be local or redis, got %q", c.Scheduler.Lock)
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher.workers must be > 0")
	}
	if c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher.queue_size must be > 0")
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		return fmt.Errorf("dispatcher.max_attempts must be > 0")
	}
	if c.Dispatcher.SoftTimeout <= 0 || c.Dispatcher.HardTimeout < c.Dispatcher.SoftTimeout {
		return fmt.Errorf("dispatcher.hard_timeout (%s) must be >= soft_timeout (%s) > 0",
			c.Dispatcher.HardTimeout, c.Dispatcher.SoftTimeout)
	}
	if c.Scraper.RequestTimeout <= 0 {
		return fmt.Errorf("scraper.request_timeout must be > 0")
	}
	if !oneOf(c.Headless.Mode, "off", "auto", "always") {
		return fmt.Errorf("headless.mode must be off, auto or always, got %q", c.Headless.Mode)
	}
	if c.Headless.Mode != "off" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, postgres or sqlite, got %q", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case "none", "local":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be none, local or gcs, got %q", c.Archive.Backend)
	}
	if !oneOf(c.Notify.Push.Backend, "webhook", "telegram") {
		return fmt.Errorf("notify.push.backend must be webhook or telegram, got %q", c.Notify.Push.Backend)
	}
	switch c.Retrain.Backend {
	case "log":
	case "pubsub":
		if c.Retrain.ProjectID == "" || c.Retrain.Topic == "" {
			return fmt.Errorf("retrain.project_id and retrain.topic must be set for the pubsub backend")
		}
	case "kafka":
		if len(c.Retrain.Brokers) == 0 || c.Retrain.Topic == "" {
			return fmt.Errorf("retrain.brokers and retrain.topic must be set for the kafka backend")
		}
	default:
		return fmt.Errorf("retrain.backend must be log, pubsub or kafka, got %q", c.Retrain.Backend)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
