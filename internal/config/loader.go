package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEPTHBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides reads well-known DEPTHBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "DEPTHBOT_MODE")
	setStr(&cfg.LogLevel, "DEPTHBOT_LOG_LEVEL")
	setStringSlice(&cfg.Symbols, "DEPTHBOT_SYMBOLS")
	setStringSlice(&cfg.Strategies, "DEPTHBOT_STRATEGIES")

	// ── Runtime ──
	setStr(&cfg.Runtime.Topology, "DEPTHBOT_RUNTIME_TOPOLOGY")
	setInt(&cfg.Runtime.MailboxCapacity, "DEPTHBOT_RUNTIME_MAILBOX_CAPACITY")
	setInt(&cfg.Runtime.WarnPercent, "DEPTHBOT_RUNTIME_WARN_PERCENT")
	setInt(&cfg.Runtime.DropBelow, "DEPTHBOT_RUNTIME_DROP_BELOW")
	setStr(&cfg.Runtime.FailurePolicy, "DEPTHBOT_RUNTIME_FAILURE_POLICY")
	setStr(&cfg.Runtime.DeltaPolicy, "DEPTHBOT_RUNTIME_DELTA_POLICY")
	setInt(&cfg.Runtime.MaxBufferedDiffs, "DEPTHBOT_RUNTIME_MAX_BUFFERED_DIFFS")
	setDuration(&cfg.Runtime.ShutdownTimeout, "DEPTHBOT_RUNTIME_SHUTDOWN_TIMEOUT")

	// ── Venues ──
	setBool(&cfg.Bitbank.Enabled, "DEPTHBOT_BITBANK_ENABLED")
	setStr(&cfg.Bitbank.URL, "DEPTHBOT_BITBANK_URL")
	setBool(&cfg.Bybit.Enabled, "DEPTHBOT_BYBIT_ENABLED")
	setStr(&cfg.Bybit.URL, "DEPTHBOT_BYBIT_URL")
	setInt(&cfg.Bybit.Depth, "DEPTHBOT_BYBIT_DEPTH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEPTHBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEPTHBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEPTHBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEPTHBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEPTHBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEPTHBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEPTHBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "DEPTHBOT_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.BookTTL, "DEPTHBOT_REDIS_BOOK_TTL")
	setBool(&cfg.Redis.RelayPublish, "DEPTHBOT_REDIS_RELAY_PUBLISH")
	setBool(&cfg.Redis.RelaySubscribe, "DEPTHBOT_REDIS_RELAY_SUBSCRIBE")
	setStr(&cfg.Redis.RelayChannel, "DEPTHBOT_REDIS_RELAY_CHANNEL")
	setBool(&cfg.Redis.RecorderLock, "DEPTHBOT_REDIS_RECORDER_LOCK")
	setDuration(&cfg.Redis.RecorderLockTTL, "DEPTHBOT_REDIS_RECORDER_LOCK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DEPTHBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DEPTHBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DEPTHBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEPTHBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEPTHBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEPTHBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEPTHBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEPTHBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEPTHBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEPTHBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEPTHBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEPTHBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEPTHBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEPTHBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEPTHBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEPTHBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEPTHBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEPTHBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEPTHBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DEPTHBOT_S3_PREFIX")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "DEPTHBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "DEPTHBOT_METRICS_ADDR")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEPTHBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "DEPTHBOT_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "DEPTHBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEPTHBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RatePerSec, "DEPTHBOT_SERVER_RATE_PER_SEC")
	setInt(&cfg.Server.RateBurst, "DEPTHBOT_SERVER_RATE_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEPTHBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEPTHBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPI, "DEPTHBOT_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEPTHBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEPTHBOT_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "DEPTHBOT_NOTIFY_COOLDOWN")

	// ── Capture ──
	setStr(&cfg.Capture.Dir, "DEPTHBOT_CAPTURE_DIR")
	setBool(&cfg.Capture.Upload, "DEPTHBOT_CAPTURE_UPLOAD")
	setStr(&cfg.Capture.ReplayPath, "DEPTHBOT_CAPTURE_REPLAY_PATH")
	setFloat64(&cfg.Capture.ReplaySpeed, "DEPTHBOT_CAPTURE_REPLAY_SPEED")

	// ── Strategy ──
	setInt(&cfg.Strategy.BoardLevels, "DEPTHBOT_STRATEGY_BOARD_LEVELS")
	setDuration(&cfg.Strategy.BoardInterval, "DEPTHBOT_STRATEGY_BOARD_INTERVAL")
	setInt(&cfg.Strategy.MirrorLevels, "DEPTHBOT_STRATEGY_MIRROR_LEVELS")
	setDuration(&cfg.Strategy.MirrorInterval, "DEPTHBOT_STRATEGY_MIRROR_INTERVAL")
	setDuration(&cfg.Strategy.MidWindow, "DEPTHBOT_STRATEGY_MID_WINDOW")
	setFloat64(&cfg.Strategy.MidDropThreshold, "DEPTHBOT_STRATEGY_MID_DROP_THRESHOLD")
	setDuration(&cfg.Strategy.RecorderTimeout, "DEPTHBOT_STRATEGY_RECORDER_TIMEOUT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
