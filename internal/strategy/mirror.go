package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

// Channels the mirror publishes on.
const (
	ChannelBBO    = "bbo"
	ChannelTrades = "trades"
)

// BBOMessage is published on ChannelBBO after a book is mirrored.
type BBOMessage struct {
	Venue     domain.Venue     `json:"venue"`
	Symbol    domain.Symbol    `json:"symbol"`
	Bid       *decimal.Decimal `json:"bid"`
	Ask       *decimal.Decimal `json:"ask"`
	Mid       *decimal.Decimal `json:"mid"`
	Timestamp time.Time        `json:"ts"`
}

// TradesMessage is published on ChannelTrades for every trade batch.
type TradesMessage struct {
	Venue  domain.Venue   `json:"venue"`
	Symbol domain.Symbol  `json:"symbol"`
	Trades []domain.Trade `json:"trades"`
}

// Mirror copies completed books into an OrderbookCache and publishes best
// prices and trades. Failures are logged and never stop the
// aggregator.
type Mirror struct {
	cache       domain.OrderbookCache
	bus         domain.Publisher
	levels      int
	minInterval time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
	lastSync    map[domain.Origin]time.Time
}

// NewMirror creates a Mirror keeping the top levels of each side. Either
// cache or bus may be nil.
func NewMirror(cache domain.OrderbookCache, bus domain.Publisher, levels int, minInterval time.Duration, logger *slog.Logger) *Mirror {
	return &Mirror{
		cache:       cache,
		bus:         bus,
		levels:      levels,
		minInterval: minInterval,
		timeout:     2 * time.Second,
		logger:      logger.With(slog.String("component", "book_mirror")),
		now:         time.Now,
		lastSync:    make(map[domain.Origin]time.Time),
	}
}

func (m *Mirror) Name() string { return "mirror" }

func (m *Mirror) OnTrades(ctx context.Context, origin domain.Origin, trades []domain.Trade) error {
	if m.bus == nil || len(trades) == 0 {
		return nil
	}
	m.publish(ctx, ChannelTrades, TradesMessage{Venue: origin.Venue, Symbol: origin.Symbol, Trades: trades})
	return nil
}

func (m *Mirror) OnDepth(ctx context.Context, book orderbook.View) error {
	origin := book.Origin()
	now := m.now()
	if last, ok := m.lastSync[origin]; ok && m.minInterval > 0 && now.Sub(last) < m.minInterval {
		return nil
	}
	m.lastSync[origin] = now

	snap := book.Snapshot()
	if m.levels > 0 {
		snap.Bids = snap.Bids[:min(len(snap.Bids), m.levels)]
		snap.Asks = snap.Asks[:min(len(snap.Asks), m.levels)]
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = now
	}

	if m.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.cache.SetSnapshot(cctx, snap)
		cancel()
		if err != nil {
			m.logger.Warn("mirror book failed",
				slog.String("venue", origin.Venue.String()),
				slog.String("symbol", origin.Symbol.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.bus != nil {
		m.publish(ctx, ChannelBBO, bboMessage(snap))
	}
	return nil
}

func bboMessage(snap domain.BookSnapshot) BBOMessage {
	msg := BBOMessage{Venue: snap.Venue, Symbol: snap.Symbol, Timestamp: snap.Timestamp}
	bid, hasBid := snap.BestBid()
	ask, hasAsk := snap.BestAsk()
	if hasBid {
		msg.Bid = &bid.Price
	}
	if hasAsk {
		msg.Ask = &ask.Price
	}
	if hasBid && hasAsk {
		mid := bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
		msg.Mid = &mid
	}
	return msg
}

func (m *Mirror) publish(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("encode mirror message", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.bus.Publish(ctx, channel, payload); err != nil {
		m.logger.Warn("publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}
