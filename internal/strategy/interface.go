package strategy

import (
	"context"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

// Strategy is the caller-supplied consumer of aggregated market data. All
// callbacks run on the aggregator goroutine, one at a time and in arrival
// order; a slow callback delays every symbol. A returned error stops the
// aggregator unless it runs with the continue failure policy.
type Strategy interface {
	Name() string
	OnTrades(ctx context.Context, origin domain.Origin, trades []domain.Trade) error
	// OnDepth receives a read-only view that is only valid during the call.
	OnDepth(ctx context.Context, book orderbook.View) error
}

// TickerHandler is implemented by strategies that want ticker updates.
type TickerHandler interface {
	OnTicker(ctx context.Context, t domain.Ticker) error
}

// CircuitBreakHandler is implemented by strategies that want trading-halt
// updates.
type CircuitBreakHandler interface {
	OnCircuitBreak(ctx context.Context, cb domain.CircuitBreak) error
}

// Initializer is called once before the first event.
type Initializer interface {
	Init(ctx context.Context) error
}

// Closer is called once after the last event.
type Closer interface {
	Close() error
}
