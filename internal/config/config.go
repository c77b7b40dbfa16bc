// Package config defines the top-level configuration for depthbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/depthbot/internal/actor"
	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
	"github.com/alanyoungcy/depthbot/internal/platform/bitbank"
	"github.com/alanyoungcy/depthbot/internal/platform/bybit"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEPTHBOT_* environment variables.
type Config struct {
	Mode       string   `toml:"mode"`
	LogLevel   string   `toml:"log_level"`
	Symbols    []string `toml:"symbols"`
	Strategies []string `toml:"strategies"`

	Runtime  RuntimeConfig  `toml:"runtime"`
	Bitbank  BitbankConfig  `toml:"bitbank"`
	Bybit    BybitConfig    `toml:"bybit"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Capture  CaptureConfig  `toml:"capture"`
	Strategy StrategyConfig `toml:"strategy"`
}

// RuntimeConfig shapes the mailboxes and the aggregator.
type RuntimeConfig struct {
	// Topology is "shared" (one mailbox) or "split" (one per venue).
	Topology        string `toml:"topology"`
	MailboxCapacity int    `toml:"mailbox_capacity"`
	// WarnPercent and DropBelow form the lossy enqueue policy.
	WarnPercent      int      `toml:"warn_percent"`
	DropBelow        int      `toml:"drop_below"`
	FailurePolicy    string   `toml:"failure_policy"`
	DeltaPolicy      string   `toml:"delta_policy"`
	MaxBufferedDiffs int      `toml:"max_buffered_diffs"`
	ShutdownTimeout  duration `toml:"shutdown_timeout"`
}

// BitbankConfig holds the bitbank socket.io stream settings.
type BitbankConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// BybitConfig holds the bybit v5 public stream settings.
type BybitConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Depth   int    `toml:"depth"`
}

// RedisConfig holds Redis connection parameters and the features built on it.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	BookTTL    duration `toml:"book_ttl"`
	// RelayPublish forwards every raw venue frame to RelayChannel.
	RelayPublish bool `toml:"relay_publish"`
	// RelaySubscribe feeds frames from RelayChannel into the aggregator
	// instead of connecting to the venues.
	RelaySubscribe bool   `toml:"relay_subscribe"`
	RelayChannel   string `toml:"relay_channel"`
	// RecorderLock keeps two recorders from capturing the same symbols.
	RecorderLock    bool     `toml:"recorder_lock"`
	RecorderLockTTL duration `toml:"recorder_lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ServerConfig controls the read-only HTTP and WebSocket API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects every route but /api/health when set.
	APIKey     string  `toml:"api_key"`
	RatePerSec float64 `toml:"rate_per_sec"`
	RateBurst  int     `toml:"rate_burst"`
}

// NotifyConfig holds the alert senders used by the alerts strategy.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	TelegramAPI       string `toml:"telegram_api"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Events limits which alert types are sent. Empty sends all.
	Events   []string `toml:"events"`
	Cooldown duration `toml:"cooldown"`
}

// HasSender reports whether any alert sender is configured.
func (n NotifyConfig) HasSender() bool {
	return (n.TelegramToken != "" && n.TelegramChatID != "") || n.DiscordWebhookURL != ""
}

// CaptureConfig controls recording and replay of raw venue frames.
type CaptureConfig struct {
	Dir string `toml:"dir"`
	// Upload archives the capture file (and the session's trades) to S3 when
	// a record run ends.
	Upload bool `toml:"upload"`
	// ReplayPath is a local file or an s3:// key.
	ReplayPath  string  `toml:"replay_path"`
	ReplaySpeed float64 `toml:"replay_speed"`
}

// StrategyConfig holds the parameters of the built-in strategies.
type StrategyConfig struct {
	BoardLevels      int      `toml:"board_levels"`
	BoardInterval    duration `toml:"board_interval"`
	MirrorLevels     int      `toml:"mirror_levels"`
	MirrorInterval   duration `toml:"mirror_interval"`
	MidWindow        duration `toml:"mid_window"`
	MidDropThreshold float64  `toml:"mid_drop_threshold"`
	RecorderTimeout  duration `toml:"recorder_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:       "view",
		LogLevel:   "info",
		Symbols:    []string{"btc_jpy"},
		Strategies: []string{"board"},
		Runtime: RuntimeConfig{
			Topology:         "shared",
			MailboxCapacity:  512,
			WarnPercent:      30,
			DropBelow:        10,
			FailurePolicy:    string(actor.FailStop),
			DeltaPolicy:      string(orderbook.DeltaIgnore),
			MaxBufferedDiffs: orderbook.DefaultMaxBufferedDiffs,
			ShutdownTimeout:  duration{10 * time.Second},
		},
		Bitbank: BitbankConfig{
			Enabled: true,
			URL:     bitbank.DefaultStreamURL,
		},
		Bybit: BybitConfig{
			Enabled: true,
			URL:     bybit.DefaultStreamURL,
			Depth:   50,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			KeyPrefix:       "depthbot",
			BookTTL:         duration{time.Minute},
			RelayChannel:    "frames",
			RecorderLockTTL: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "depthbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "depthbot-data",
			ForcePathStyle: true,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Server: ServerConfig{
			Addr:       ":8080",
			RatePerSec: 20,
			RateBurst:  40,
		},
		Notify: NotifyConfig{
			Cooldown: duration{5 * time.Minute},
		},
		Capture: CaptureConfig{
			Dir:         "captures",
			ReplaySpeed: 500,
		},
		Strategy: StrategyConfig{
			BoardLevels:      5,
			BoardInterval:    duration{time.Second},
			MirrorLevels:     20,
			MirrorInterval:   duration{100 * time.Millisecond},
			MidWindow:        duration{5 * time.Minute},
			MidDropThreshold: 0.01,
			RecorderTimeout:  duration{5 * time.Second},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"view":   true,
	"record": true,
	"replay": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStrategies enumerates the strategies the app knows how to build.
var validStrategies = map[string]bool{
	"board":       true,
	"mid_tracker": true,
	"mirror":      true,
	"recorder":    true,
	"alerts":      true,
}

// Venues returns the enabled venues in a fixed order.
func (c *Config) Venues() []domain.Venue {
	var out []domain.Venue
	if c.Bitbank.Enabled {
		out = append(out, domain.VenueBitbank)
	}
	if c.Bybit.Enabled {
		out = append(out, domain.VenueBybit)
	}
	return out
}

// CanonicalSymbols returns the configured symbols as domain symbols.
func (c *Config) CanonicalSymbols() []domain.Symbol {
	out := make([]domain.Symbol, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, domain.Symbol(strings.ToLower(s)))
		}
	}
	return out
}

// HasStrategy reports whether name is listed in Strategies.
func (c *Config) HasStrategy(name string) bool {
	for _, s := range c.Strategies {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: view, record, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	symbols := c.CanonicalSymbols()
	if len(symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol is required")
	}
	for _, sym := range symbols {
		if !sym.IsCanonical() {
			errs = append(errs, fmt.Sprintf("symbols: %q is not in base_quote form (e.g. btc_jpy)", sym))
		}
	}
	if len(c.Strategies) == 0 {
		errs = append(errs, "strategies: at least one strategy is required")
	}
	for _, s := range c.Strategies {
		if !validStrategies[strings.ToLower(s)] {
			errs = append(errs, fmt.Sprintf("strategies: unknown strategy %q (valid: board, mid_tracker, mirror, recorder, alerts)", s))
		}
	}

	// Runtime
	if c.Runtime.Topology != "shared" && c.Runtime.Topology != "split" {
		errs = append(errs, fmt.Sprintf("runtime: topology must be shared or split, got %q", c.Runtime.Topology))
	}
	if c.Runtime.MailboxCapacity <= 0 {
		errs = append(errs, "runtime: mailbox_capacity must be positive")
	}
	if c.Runtime.WarnPercent < 0 || c.Runtime.WarnPercent > 100 {
		errs = append(errs, "runtime: warn_percent must be between 0 and 100")
	}
	if c.Runtime.DropBelow < 0 {
		errs = append(errs, "runtime: drop_below must not be negative")
	}
	if _, err := actor.ParseFailurePolicy(c.Runtime.FailurePolicy); err != nil {
		errs = append(errs, "runtime: "+err.Error())
	}
	if _, err := orderbook.ParseDeltaPolicy(c.Runtime.DeltaPolicy); err != nil {
		errs = append(errs, "runtime: "+err.Error())
	}
	if c.Runtime.MaxBufferedDiffs < 0 {
		errs = append(errs, "runtime: max_buffered_diffs must not be negative")
	}
	if c.Runtime.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "runtime: shutdown_timeout must be positive")
	}

	// Venues. Replay reads recorded frames and needs no live stream.
	if c.Mode != "replay" {
		if len(c.Venues()) == 0 {
			errs = append(errs, "venues: enable at least one of bitbank, bybit")
		}
		if c.Bitbank.Enabled && c.Bitbank.URL == "" {
			errs = append(errs, "bitbank: url must not be empty")
		}
		if c.Bybit.Enabled && c.Bybit.URL == "" {
			errs = append(errs, "bybit: url must not be empty")
		}
	}
	if c.Bybit.Enabled && c.Bybit.Depth <= 0 {
		errs = append(errs, "bybit: depth must be positive")
	}

	// Redis
	needsRedis := c.Redis.RelayPublish || c.Redis.RelaySubscribe || c.Redis.RecorderLock
	if needsRedis && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled for the relay or the recorder lock")
	}
	if c.HasStrategy("mirror") && !c.Redis.Enabled && !c.Server.Enabled {
		errs = append(errs, "redis: must be enabled for the mirror strategy (or enable server)")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize <= 0 {
			errs = append(errs, "redis: pool_size must be positive")
		}
		if (c.Redis.RelayPublish || c.Redis.RelaySubscribe) && c.Redis.RelayChannel == "" {
			errs = append(errs, "redis: relay_channel must not be empty")
		}
		if c.Redis.RecorderLock && c.Redis.RecorderLockTTL.Duration < time.Second {
			errs = append(errs, "redis: recorder_lock_ttl must be at least 1s")
		}
	}

	// Postgres
	if c.HasStrategy("recorder") && !c.Postgres.Enabled {
		errs = append(errs, "postgres: must be enabled for the recorder strategy")
	}
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port %d is out of range", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns <= 0 {
			errs = append(errs, "postgres: pool_max_conns must be positive")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.Capture.Upload && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for capture.upload")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			errs = append(errs, "server: addr must not be empty")
		}
		if c.Metrics.Enabled && c.Server.Addr == c.Metrics.Addr {
			errs = append(errs, "server: addr must differ from metrics.addr")
		}
		if c.Server.RatePerSec < 0 || c.Server.RateBurst < 0 {
			errs = append(errs, "server: rate_per_sec and rate_burst must not be negative")
		}
	}

	// Notify
	if c.HasStrategy("alerts") && !c.Notify.HasSender() {
		errs = append(errs, "notify: the alerts strategy needs telegram_token and telegram_chat_id or discord_webhook_url")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.Cooldown.Duration < 0 {
		errs = append(errs, "notify: cooldown must not be negative")
	}

	// Capture
	switch c.Mode {
	case "record":
		if c.Capture.Dir == "" {
			errs = append(errs, "capture: dir must not be empty in record mode")
		}
	case "replay":
		if c.Capture.ReplayPath == "" {
			errs = append(errs, "capture: replay_path is required in replay mode")
		}
		if strings.HasPrefix(c.Capture.ReplayPath, "s3://") && !c.S3.Enabled {
			errs = append(errs, "s3: must be enabled to replay from "+c.Capture.ReplayPath)
		}
		if c.Capture.ReplaySpeed < 0 {
			errs = append(errs, "capture: replay_speed must not be negative")
		}
	}

	// Strategy parameters
	if c.Strategy.BoardLevels <= 0 {
		errs = append(errs, "strategy: board_levels must be positive")
	}
	if c.Strategy.MidDropThreshold < 0 {
		errs = append(errs, "strategy: mid_drop_threshold must not be negative")
	}
	if (c.HasStrategy("mid_tracker") || c.HasStrategy("alerts")) && c.Strategy.MidWindow.Duration <= 0 {
		errs = append(errs, "strategy: mid_window must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
