package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/depthbot/internal/blob/s3"
	"github.com/alanyoungcy/depthbot/internal/cache/memory"
	"github.com/alanyoungcy/depthbot/internal/cache/redis"
	"github.com/alanyoungcy/depthbot/internal/config"
	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/metrics"
	"github.com/alanyoungcy/depthbot/internal/notify"
	"github.com/alanyoungcy/depthbot/internal/server/ws"
	"github.com/alanyoungcy/depthbot/internal/store/postgres"
)

// Dependencies bundles the optional backends the modes build on. A nil field
// means the backend is disabled in the configuration.
type Dependencies struct {
	Metrics *metrics.Metrics

	// Redis
	BookCache   domain.OrderbookCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager

	// Postgres
	TradeStore domain.TradeStore

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// API server
	Hub *ws.Hub

	// Alerts
	Notifier *notify.Notifier
}

// publisher fans mirror messages out to every wired publisher. It returns
// nil when there is none.
func (d *Dependencies) publisher() domain.Publisher {
	var ps domain.Publishers
	if d.SignalBus != nil {
		ps = append(ps, d.SignalBus)
	}
	if d.Hub != nil {
		ps = append(ps, d.Hub)
	}
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	default:
		return ps
	}
}

// Wire constructs the enabled backends from the given configuration and
// returns them together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewOrderbookCache(redisClient, cfg.Redis.BookTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.Warn("s3 bucket not reachable yet",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}

		store := s3blob.NewStore(s3Client)
		deps.BlobWriter = store
		deps.BlobReader = store
		deps.Archiver = s3blob.NewArchiver(store, cfg.S3.Prefix, logger)
	}

	// --- API server ---
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(ws.Config{Mode: cfg.Mode, Strategies: cfg.Strategies}, logger)
		if deps.BookCache == nil {
			deps.BookCache = memory.NewOrderbookCache()
		}
	}

	// --- Alert senders ---
	if cfg.Notify.HasSender() {
		var senders []notify.Sender
		if cfg.Notify.TelegramToken != "" {
			senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramAPI, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
