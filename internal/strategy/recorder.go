package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

// Recorder persists every trade batch to a TradeStore. Depth updates are not
// stored.
type Recorder struct {
	store   domain.TradeStore
	origins []domain.Origin
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder creates a recorder. Each insert is bounded by timeout. origins
// are only used to report where each stream left off at startup.
func NewRecorder(store domain.TradeStore, origins []domain.Origin, timeout time.Duration, logger *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{
		store:   store,
		origins: origins,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "trade_recorder")),
	}
}

func (r *Recorder) Name() string { return "recorder" }

// Init logs where each configured origin left off, if anywhere.
func (r *Recorder) Init(ctx context.Context) error {
	for _, o := range r.origins {
		last, err := r.store.GetLastTimestamp(ctx, o)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.logger.Info("no trades recorded yet",
				slog.String("venue", o.Venue.String()),
				slog.String("symbol", o.Symbol.String()),
			)
		case err != nil:
			return fmt.Errorf("recorder: last timestamp for %s/%s: %w", o.Venue, o.Symbol, err)
		default:
			r.logger.Info("resuming trade recording",
				slog.String("venue", o.Venue.String()),
				slog.String("symbol", o.Symbol.String()),
				slog.Time("last_trade", last),
			)
		}
	}
	return nil
}

func (r *Recorder) OnTrades(ctx context.Context, origin domain.Origin, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.InsertBatch(ctx, origin, trades); err != nil {
		return fmt.Errorf("recorder: insert %d trades for %s/%s: %w",
			len(trades), origin.Venue, origin.Symbol, err)
	}
	r.logger.Debug("trades recorded",
		slog.String("venue", origin.Venue.String()),
		slog.String("symbol", origin.Symbol.String()),
		slog.Int("count", len(trades)),
	)
	return nil
}

func (r *Recorder) OnDepth(context.Context, orderbook.View) error { return nil }
