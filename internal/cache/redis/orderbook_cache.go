package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache with sorted sets and
// hashes per book.
//
// Key schema, under the client prefix:
//
//	book:{venue}:{symbol}:bids      sorted set of bid prices (score = price)
//	book:{venue}:{symbol}:asks      sorted set of ask prices (score = price)
//	book:{venue}:{symbol}:bid:size  hash price -> size
//	book:{venue}:{symbol}:ask:size  hash price -> size
//	book:{venue}:{symbol}:bbo       hash with "bid" and "ask"
//	book:{venue}:{symbol}:meta      hash with "ts" (unix nanos)
//
// Members are the decimal strings, so prices round-trip exactly; the score
// only orders them.
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates a cache whose keys expire after ttl; zero keeps
// them forever.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{c: c, ttl: ttl}
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)

type bookKeys struct {
	bids, asks, bidSize, askSize, bbo, meta string
}

func (oc *OrderbookCache) keys(o domain.Origin) bookKeys {
	base := oc.c.key("book", o.Venue.String(), o.Symbol.String())
	return bookKeys{
		bids:    base + ":bids",
		asks:    base + ":asks",
		bidSize: base + ":bid:size",
		askSize: base + ":ask:size",
		bbo:     base + ":bbo",
		meta:    base + ":meta",
	}
}

func (k bookKeys) all() []string {
	return []string{k.bids, k.asks, k.bidSize, k.askSize, k.bbo, k.meta}
}

// SetSnapshot atomically replaces the stored book.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	k := oc.keys(snap.Origin)
	pipe := oc.c.rdb.TxPipeline()
	pipe.Del(ctx, k.all()...)

	addSide(ctx, pipe, k.bids, k.bidSize, snap.Bids)
	addSide(ctx, pipe, k.asks, k.askSize, snap.Asks)
	if bid, ok := snap.BestBid(); ok {
		pipe.HSet(ctx, k.bbo, "bid", bid.Price.String())
	}
	if ask, ok := snap.BestAsk(); ok {
		pipe.HSet(ctx, k.bbo, "ask", ask.Price.String())
	}
	pipe.HSet(ctx, k.meta, "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))
	if oc.ttl > 0 {
		for _, key := range k.all() {
			pipe.Expire(ctx, key, oc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s/%s: %w", snap.Venue, snap.Symbol, err)
	}
	return nil
}

func addSide(ctx context.Context, pipe redis.Pipeliner, setKey, sizeKey string, levels []domain.PriceLevel) {
	if len(levels) == 0 {
		return
	}
	members := make([]redis.Z, 0, len(levels))
	sizes := make(map[string]any, len(levels))
	for _, lvl := range levels {
		p := lvl.Price.String()
		members = append(members, redis.Z{Score: lvl.Price.InexactFloat64(), Member: p})
		sizes[p] = lvl.Size.String()
	}
	pipe.ZAdd(ctx, setKey, members...)
	pipe.HSet(ctx, sizeKey, sizes)
}

// GetSnapshot reads a stored book back, bids descending and asks ascending.
// It returns domain.ErrNotFound when nothing is stored for origin.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, origin domain.Origin) (domain.BookSnapshot, error) {
	k := oc.keys(origin)
	pipe := oc.c.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, k.bids, 0, -1)
	asksCmd := pipe.ZRange(ctx, k.asks, 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, k.bidSize)
	askSizeCmd := pipe.HGetAll(ctx, k.askSize)
	metaCmd := pipe.HGetAll(ctx, k.meta)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s/%s: %w", origin.Venue, origin.Symbol, err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	snap := domain.BookSnapshot{Origin: origin}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		snap.Timestamp = time.Unix(0, ns)
	}

	var err error
	if snap.Bids, err = levelsFrom(bidsCmd.Val(), bidSizeCmd.Val()); err != nil {
		return domain.BookSnapshot{}, err
	}
	if snap.Asks, err = levelsFrom(asksCmd.Val(), askSizeCmd.Val()); err != nil {
		return domain.BookSnapshot{}, err
	}
	return snap, nil
}

func levelsFrom(prices []string, sizes map[string]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(prices))
	for _, p := range prices {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("redis: stored price %q: %w", p, err)
		}
		size, err := decimal.NewFromString(sizes[p])
		if err != nil {
			return nil, fmt.Errorf("redis: stored size for %q: %w", p, err)
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// GetBBO reads the best prices. A missing side is zero.
func (oc *OrderbookCache) GetBBO(ctx context.Context, origin domain.Origin) (bestBid, bestAsk decimal.Decimal, err error) {
	vals, err := oc.c.rdb.HGetAll(ctx, oc.keys(origin).bbo).Result()
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("redis: get bbo %s/%s: %w", origin.Venue, origin.Symbol, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, decimal.Zero, domain.ErrNotFound
	}
	if s, ok := vals["bid"]; ok {
		bestBid, _ = decimal.NewFromString(s)
	}
	if s, ok := vals["ask"]; ok {
		bestAsk, _ = decimal.NewFromString(s)
	}
	return bestBid, bestAsk, nil
}
