package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

// BoardViewer logs the rendered top of book after each depth update and a
// line per trade batch. Rendering is throttled per origin by MinInterval.
type BoardViewer struct {
	levels      int
	minInterval time.Duration
	logger      *slog.Logger
	now         func() time.Time
	lastShown   map[domain.Origin]time.Time
}

// NewBoardViewer creates a viewer rendering levels per side. A zero
// minInterval renders every update.
func NewBoardViewer(levels int, minInterval time.Duration, logger *slog.Logger) *BoardViewer {
	if levels <= 0 {
		levels = orderbook.DefaultFormatLevels
	}
	return &BoardViewer{
		levels:      levels,
		minInterval: minInterval,
		logger:      logger.With(slog.String("component", "board_viewer")),
		now:         time.Now,
		lastShown:   make(map[domain.Origin]time.Time),
	}
}

func (b *BoardViewer) Name() string { return "board" }

func (b *BoardViewer) OnTrades(_ context.Context, origin domain.Origin, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	last := trades[len(trades)-1]
	b.logger.Info("trades",
		slog.String("venue", origin.Venue.String()),
		slog.String("symbol", origin.Symbol.String()),
		slog.Int("count", len(trades)),
		slog.String("last_price", last.Price.String()),
		slog.String("last_side", string(last.Side)),
	)
	return nil
}

func (b *BoardViewer) OnDepth(_ context.Context, book orderbook.View) error {
	origin := book.Origin()
	now := b.now()
	if last, ok := b.lastShown[origin]; ok && b.minInterval > 0 && now.Sub(last) < b.minInterval {
		return nil
	}
	b.lastShown[origin] = now

	bids, asks := book.Len()
	b.logger.Info("board",
		slog.String("venue", origin.Venue.String()),
		slog.String("symbol", origin.Symbol.String()),
		slog.Int("bid_levels", bids),
		slog.Int("ask_levels", asks),
		slog.String("book", orderbook.Format(book, b.levels)),
	)
	return nil
}

func (b *BoardViewer) OnCircuitBreak(_ context.Context, cb domain.CircuitBreak) error {
	b.logger.Warn("circuit break state",
		slog.String("venue", cb.From.Venue.String()),
		slog.String("symbol", cb.From.Symbol.String()),
		slog.String("mode", cb.Mode),
	)
	return nil
}
