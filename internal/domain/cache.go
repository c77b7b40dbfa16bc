package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// BookSnapshot is a detached copy of a completed book, suitable for
// publishing outside the aggregator.
type BookSnapshot struct {
	Origin
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, if any.
func (s BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// OrderbookCache stores the latest completed book per origin.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, origin Origin) (BookSnapshot, error)
	GetBBO(ctx context.Context, origin Origin) (bestBid, bestAsk decimal.Decimal, err error)
}

// Publisher delivers a payload on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Publishers fans a message out to every publisher; one failure does not
// stop delivery to the rest.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, channel string, payload []byte) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, channel, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalBus provides ephemeral pub/sub messaging.
type SignalBus interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease by its original TTL. It fails with
	// ErrLockHeld once another holder owns the key.
	Refresh(ctx context.Context) error
	Release()
}

// LockManager hands out exclusive leases.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
