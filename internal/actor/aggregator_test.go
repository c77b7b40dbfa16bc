package actor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

var (
	btcJPY  = domain.Origin{Venue: domain.VenueBitbank, Symbol: "btc_jpy"}
	btcUSDT = domain.Origin{Venue: domain.VenueBybit, Symbol: "BTCUSDT"}
	ethJPY  = domain.Origin{Venue: domain.VenueBitbank, Symbol: "eth_jpy"}
)

type call struct {
	op     string
	origin domain.Origin
	trades int
	snap   domain.BookSnapshot
}

type recorder struct {
	mu       sync.Mutex
	calls    []call
	failWith error
	panicMsg string
	tickers  int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnTrades(_ context.Context, origin domain.Origin, trades []domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: "trades", origin: origin, trades: len(trades)})
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	return r.failWith
}

func (r *recorder) OnDepth(_ context.Context, book orderbook.View) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: "depth", origin: book.Origin(), snap: book.Snapshot()})
	return nil
}

func (r *recorder) OnTicker(context.Context, domain.Ticker) error {
	r.tickers++
	return nil
}

func (r *recorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.op + ":" + c.origin.Symbol.String()
	}
	return out
}

func lv(price, size float64) domain.PriceLevel { return domain.Level(price, size) }

func newAggregator(t *testing.T, strat *recorder, opts ...Option) *Aggregator {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	a, err := New(strat, []domain.Origin{btcJPY, btcUSDT}, opts...)
	require.NoError(t, err)
	return a
}

func runAll(t *testing.T, a *Aggregator, events ...domain.Event) error {
	t.Helper()
	ch := make(chan domain.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return a.Run(context.Background(), ch)
}

func TestDiffBookGatesDepthUntilSnapshot(t *testing.T) {
	strat := &recorder{}
	a := newAggregator(t, strat)

	err := runAll(t, a,
		domain.DepthDiff{From: btcJPY, Bids: []domain.PriceLevel{lv(99, 1)}, Sequence: 1},
		domain.DepthDiff{From: btcJPY, Bids: []domain.PriceLevel{lv(98, 1)}, Sequence: 2},
		domain.DepthWhole{From: btcJPY, Bids: []domain.PriceLevel{lv(100, 1)}, Asks: []domain.PriceLevel{lv(101, 2)}, Sequence: 1},
	)
	require.NoError(t, err)

	require.Equal(t, []string{"depth:btc_jpy"}, strat.ops())
	snap := strat.calls[0].snap
	require.Len(t, snap.Bids, 2, "diff 2 is newer than the snapshot and replayed")
	assert.True(t, snap.Bids[0].Price.Equal(lv(100, 0).Price))
	assert.True(t, snap.Bids[1].Price.Equal(lv(98, 0).Price))
}

func TestSnapshotThenDiffEndToEnd(t *testing.T) {
	strat := &recorder{}
	a := newAggregator(t, strat)

	err := runAll(t, a,
		domain.DepthWhole{From: btcJPY, Bids: []domain.PriceLevel{lv(100, 1)}, Asks: []domain.PriceLevel{lv(101, 2)}},
		domain.DepthDiff{From: btcJPY, Bids: []domain.PriceLevel{lv(100, 0), lv(99, 3)}},
	)
	require.NoError(t, err)
	require.Len(t, strat.calls, 2)

	first, ok := strat.calls[0].snap.BestBid()
	require.True(t, ok)
	assert.True(t, first.Price.Equal(lv(100, 0).Price))

	second := strat.calls[1].snap
	require.Len(t, second.Bids, 1)
	assert.True(t, second.Bids[0].Price.Equal(lv(99, 0).Price))
	assert.True(t, second.Bids[0].Size.Equal(lv(0, 3).Size))
	ask, ok := second.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(lv(101, 0).Price))
}

func TestDeltaVenueFlow(t *testing.T) {
	strat := &recorder{}
	a := newAggregator(t, strat)

	err := runAll(t, a,
		domain.DepthDelta{From: btcUSDT, Type: domain.UpdateDelta, Bids: []domain.PriceLevel{lv(1, 1)}},
		domain.DepthDelta{From: btcUSDT, Type: domain.UpdateSnapshot, Bids: []domain.PriceLevel{lv(50000, 1)}},
		domain.DepthDelta{From: btcUSDT, Type: "bogus", Bids: []domain.PriceLevel{lv(50000, 0)}},
		domain.DepthDelta{From: btcUSDT, Type: domain.UpdateDelta, Asks: []domain.PriceLevel{lv(50001, 2)}},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"depth:BTCUSDT", "depth:BTCUSDT"}, strat.ops())
	last := strat.calls[1].snap
	require.Len(t, last.Bids, 1, "unknown kind left the book untouched")
	require.Len(t, last.Asks, 1)
}

func TestUnregisteredSymbolIsDropped(t *testing.T) {
	strat := &recorder{}
	a := newAggregator(t, strat)

	err := runAll(t, a,
		domain.DepthWhole{From: ethJPY, Bids: []domain.PriceLevel{lv(1, 1)}},
		domain.DepthDelta{From: domain.Origin{Venue: domain.VenueBybit, Symbol: "ETHUSDT"}, Type: domain.UpdateSnapshot},
	)
	require.NoError(t, err)
	assert.Empty(t, strat.ops())
	_, ok := a.Book(ethJPY)
	assert.False(t, ok)
}

func TestEventsAreDeliveredInArrivalOrder(t *testing.T) {
	strat := &recorder{}
	a := newAggregator(t, strat)

	var events []domain.Event
	for i := 1; i <= 50; i++ {
		events = append(events, domain.TradeBatch{From: btcJPY, Trades: make([]domain.Trade, i)})
	}
	require.NoError(t, runAll(t, a, events...))

	require.Len(t, strat.calls, 50)
	for i, c := range strat.calls {
		assert.Equal(t, i+1, c.trades)
	}
}

func TestStrategyErrorIsFatalByDefault(t *testing.T) {
	strat := &recorder{failWith: errors.New("disk full")}
	a := newAggregator(t, strat)

	err := runAll(t, a,
		domain.TradeBatch{From: btcJPY},
		domain.TradeBatch{From: btcJPY},
	)
	require.ErrorIs(t, err, ErrStrategyFailed)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, strat.calls, 1, "run stops at the first failure")
}

func TestStrategyPanicIsRecovered(t *testing.T) {
	strat := &recorder{panicMsg: "nil map"}
	a := newAggregator(t, strat)

	err := runAll(t, a, domain.TradeBatch{From: btcJPY})
	require.ErrorIs(t, err, ErrStrategyFailed)
	assert.Contains(t, err.Error(), "panic: nil map")
}

func TestContinuePolicyKeepsConsuming(t *testing.T) {
	strat := &recorder{failWith: errors.New("transient")}
	a := newAggregator(t, strat, WithFailurePolicy(FailContinue))

	err := runAll(t, a,
		domain.TradeBatch{From: btcJPY},
		domain.TradeBatch{From: btcJPY},
	)
	require.NoError(t, err)
	assert.Len(t, strat.calls, 2)
}

func TestOptionalHandlers(t *testing.T) {
	strat := &recorder{}
	a := newAggregator(t, strat)

	require.NoError(t, runAll(t, a,
		domain.Ticker{From: btcJPY},
		domain.CircuitBreak{From: btcJPY, Mode: "NONE"},
	))
	assert.Equal(t, 1, strat.tickers)
	assert.Empty(t, strat.ops())
}

func TestRunSplitTerminatesWhenAllClosed(t *testing.T) {
	strat := &recorder{}
	a := newAggregator(t, strat)

	bitbank := make(chan domain.Event, 4)
	bybit := make(chan domain.Event, 4)
	for i := 1; i <= 3; i++ {
		bitbank <- domain.TradeBatch{From: btcJPY, Trades: make([]domain.Trade, i)}
		bybit <- domain.TradeBatch{From: btcUSDT, Trades: make([]domain.Trade, i)}
	}
	close(bitbank)

	done := make(chan error, 1)
	go func() { done <- a.RunSplit(context.Background(), bitbank, bybit) }()

	select {
	case <-done:
		t.Fatal("RunSplit returned while a channel was still open")
	case <-time.After(50 * time.Millisecond):
	}
	close(bybit)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunSplit did not return after both channels closed")
	}

	// Order holds within each venue.
	var perVenue = map[domain.Venue][]int{}
	for _, c := range strat.calls {
		perVenue[c.origin.Venue] = append(perVenue[c.origin.Venue], c.trades)
	}
	assert.Equal(t, []int{1, 2, 3}, perVenue[domain.VenueBitbank])
	assert.Equal(t, []int{1, 2, 3}, perVenue[domain.VenueBybit])
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a := newAggregator(t, &recorder{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, make(chan domain.Event)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not observe cancellation")
	}
}

func TestNewRejectsUnknownVenue(t *testing.T) {
	_, err := New(&recorder{}, []domain.Origin{{Venue: "kraken", Symbol: "XBTUSD"}})
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
}
