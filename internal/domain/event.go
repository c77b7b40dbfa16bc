package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind tags the concrete type carried by an Event.
type EventKind string

const (
	KindTrades       EventKind = "trades"
	KindDepthDiff    EventKind = "depth_diff"
	KindDepthWhole   EventKind = "depth_whole"
	KindDepthDelta   EventKind = "depth_delta"
	KindTicker       EventKind = "ticker"
	KindCircuitBreak EventKind = "circuit_break"
)

// Origin records which venue and venue-native symbol produced an event.
type Origin struct {
	Venue  Venue
	Symbol Symbol
}

// Event is one normalised unit of market information. Events are produced by
// a stream adapter, moved into a mailbox and consumed exactly once by the
// aggregator.
type Event interface {
	Origin() Origin
	Kind() EventKind
}

// Side is the aggressor side of a trade print.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single fill reported by a venue.
type Trade struct {
	ID         string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Side       Side
	ExecutedAt time.Time
	BlockTrade bool
}

// TradeBatch is an ordered sequence of fills for one symbol.
type TradeBatch struct {
	From   Origin
	Trades []Trade
}

func (e TradeBatch) Origin() Origin  { return e.From }
func (e TradeBatch) Kind() EventKind { return KindTrades }

// DepthDiff is an incremental update for a diff-based venue. Sequence is
// increasing but not necessarily consecutive.
type DepthDiff struct {
	From      Origin
	Asks      []PriceLevel
	Bids      []PriceLevel
	Sequence  int64
	Timestamp time.Time
}

func (e DepthDiff) Origin() Origin  { return e.From }
func (e DepthDiff) Kind() EventKind { return KindDepthDiff }

// DepthWhole is a full snapshot for a diff-based venue.
type DepthWhole struct {
	From      Origin
	Asks      []PriceLevel
	Bids      []PriceLevel
	Sequence  int64
	Timestamp time.Time
}

func (e DepthWhole) Origin() Origin  { return e.From }
func (e DepthWhole) Kind() EventKind { return KindDepthWhole }

// UpdateKind distinguishes snapshot and delta messages on a snapshot+delta
// venue.
type UpdateKind string

const (
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateDelta    UpdateKind = "delta"
)

// DepthDelta is a snapshot-replace or in-place delta for a snapshot+delta
// venue. Type carries the raw wire tag so unknown kinds can be rejected by
// the book rather than silently coerced.
type DepthDelta struct {
	From      Origin
	Type      UpdateKind
	Asks      []PriceLevel
	Bids      []PriceLevel
	UpdateID  int64
	CrossSeq  int64
	Timestamp time.Time
}

func (e DepthDelta) Origin() Origin  { return e.From }
func (e DepthDelta) Kind() EventKind { return KindDepthDelta }

// Ticker is a 24h summary published by the venue. Sell and Buy are zero when
// the venue reports no resting orders on that side.
type Ticker struct {
	From      Origin
	Sell      decimal.Decimal
	Buy       decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Open      decimal.Decimal
	Last      decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

func (e Ticker) Origin() Origin  { return e.From }
func (e Ticker) Kind() EventKind { return KindTicker }

// CircuitBreak reports the venue's trading-halt state for a pair.
type CircuitBreak struct {
	From                   Origin
	Mode                   string
	EstimatedItayosePrice  *decimal.Decimal
	EstimatedItayoseAmount *decimal.Decimal
	UpperTriggerPrice      *decimal.Decimal
	LowerTriggerPrice      *decimal.Decimal
	FeeType                string
	ReopenAt               *time.Time
	Timestamp              time.Time
}

func (e CircuitBreak) Origin() Origin  { return e.From }
func (e CircuitBreak) Kind() EventKind { return KindCircuitBreak }
