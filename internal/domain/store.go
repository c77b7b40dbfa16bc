package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeRecord is a persisted trade print with its origin.
type TradeRecord struct {
	Origin
	Trade
}

// TradeStore persists trade prints observed on the stream.
type TradeStore interface {
	InsertBatch(ctx context.Context, origin Origin, trades []Trade) error
	GetLastTimestamp(ctx context.Context, origin Origin) (time.Time, error)
	ListBySymbol(ctx context.Context, origin Origin, opts ListOpts) ([]TradeRecord, error)
}
