// Package memory provides in-process implementations of the cache interfaces
// for single-instance deployments without Redis.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache with a guarded map. It is
// safe for concurrent use: the mirror writes from the aggregator goroutine
// while HTTP handlers read.
type OrderbookCache struct {
	mu    sync.RWMutex
	books map[domain.Origin]domain.BookSnapshot
}

// NewOrderbookCache creates an empty cache.
func NewOrderbookCache() *OrderbookCache {
	return &OrderbookCache{books: make(map[domain.Origin]domain.BookSnapshot)}
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)

// SetSnapshot replaces the stored book. The level slices are copied so the
// caller may reuse them.
func (c *OrderbookCache) SetSnapshot(_ context.Context, snap domain.BookSnapshot) error {
	snap.Bids = slices.Clone(snap.Bids)
	snap.Asks = slices.Clone(snap.Asks)
	c.mu.Lock()
	c.books[snap.Origin] = snap
	c.mu.Unlock()
	return nil
}

// GetSnapshot returns a copy of the stored book or domain.ErrNotFound.
func (c *OrderbookCache) GetSnapshot(_ context.Context, origin domain.Origin) (domain.BookSnapshot, error) {
	c.mu.RLock()
	snap, ok := c.books[origin]
	c.mu.RUnlock()
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	snap.Bids = slices.Clone(snap.Bids)
	snap.Asks = slices.Clone(snap.Asks)
	return snap, nil
}

// GetBBO returns the best prices. A missing side is zero.
func (c *OrderbookCache) GetBBO(_ context.Context, origin domain.Origin) (bestBid, bestAsk decimal.Decimal, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.books[origin]
	if !ok {
		return decimal.Zero, decimal.Zero, domain.ErrNotFound
	}
	if bid, ok := snap.BestBid(); ok {
		bestBid = bid.Price
	}
	if ask, ok := snap.BestAsk(); ok {
		bestAsk = ask.Price
	}
	return bestBid, bestAsk, nil
}
