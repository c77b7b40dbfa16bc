package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/actor"
	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

type collector struct {
	mu     sync.Mutex
	depths []domain.Origin
	trades []domain.Origin
	fail   error
	seen   chan struct{}
}

func newCollector() *collector { return &collector{seen: make(chan struct{}, 64)} }

func (c *collector) Name() string { return "collector" }

func (c *collector) OnTrades(_ context.Context, origin domain.Origin, _ []domain.Trade) error {
	c.mu.Lock()
	c.trades = append(c.trades, origin)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return c.fail
}

func (c *collector) OnDepth(_ context.Context, book orderbook.View) error {
	c.mu.Lock()
	c.depths = append(c.depths, book.Origin())
	c.mu.Unlock()
	c.seen <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for callback %d of %d", i+1, n)
		}
	}
}

// scriptAdapter offers a fixed list of events and then idles until cancelled.
type scriptAdapter struct {
	venue   domain.Venue
	symbols []domain.Symbol
	events  []domain.Event
	stopped chan struct{}
}

func (s *scriptAdapter) Venue() domain.Venue { return s.venue }

func (s *scriptAdapter) Run(ctx context.Context, out *mailbox.Sender) error {
	defer close(s.stopped)
	for _, ev := range s.events {
		if err := out.Send(ctx, ev); err != nil {
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func quietConfig() Config {
	return Config{
		Logger:     slog.New(slog.DiscardHandler),
		Aggregator: []actor.Option{actor.WithLogger(slog.New(slog.DiscardHandler))},
	}
}

func TestSpawnBuildsMappedBooksAndRunsAdapters(t *testing.T) {
	strat := newCollector()
	adapters := map[domain.Venue]*scriptAdapter{}
	cfg := quietConfig()
	cfg.NewAdapter = func(v domain.Venue, symbols []domain.Symbol) (Adapter, error) {
		a := &scriptAdapter{venue: v, symbols: symbols, stopped: make(chan struct{})}
		origin := domain.Origin{Venue: v, Symbol: symbols[0]}
		if v == domain.VenueBitbank {
			a.events = []domain.Event{domain.DepthWhole{From: origin, Bids: []domain.PriceLevel{domain.Level(100, 1)}}}
		} else {
			a.events = []domain.Event{domain.DepthDelta{From: origin, Type: domain.UpdateSnapshot, Asks: []domain.PriceLevel{domain.Level(101, 1)}}}
		}
		adapters[v] = a
		return a, nil
	}

	h, err := Spawn(context.Background(), strat, []domain.Symbol{"btc_jpy"}, cfg)
	require.NoError(t, err)
	strat.wait(t, 2)

	assert.Equal(t, []domain.Symbol{"BTCUSDT"}, adapters[domain.VenueBybit].symbols)
	assert.Equal(t, []domain.Symbol{"btc_jpy"}, adapters[domain.VenueBitbank].symbols)
	strat.mu.Lock()
	assert.ElementsMatch(t, []domain.Origin{
		{Venue: domain.VenueBitbank, Symbol: "btc_jpy"},
		{Venue: domain.VenueBybit, Symbol: "BTCUSDT"},
	}, strat.depths)
	strat.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	for _, a := range adapters {
		<-a.stopped
	}
}

func TestSenderSeamDrivesAggregatorWithoutAdapters(t *testing.T) {
	strat := newCollector()
	h, err := Spawn(context.Background(), strat, []domain.Symbol{"btc_jpy"}, quietConfig())
	require.NoError(t, err)

	s := h.Sender()
	origin := domain.Origin{Venue: domain.VenueBitbank, Symbol: "btc_jpy"}
	require.NoError(t, s.Send(context.Background(), domain.TradeBatch{From: origin}))
	require.NoError(t, s.Send(context.Background(), domain.TradeBatch{From: origin}))
	s.Close()

	// Closing the only sender closes the mailbox; the aggregator drains and exits.
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop after the last sender closed")
	}
	require.NoError(t, h.Wait())
	assert.Len(t, strat.trades, 2)
}

func TestStrategyFailureSurfacesFromWait(t *testing.T) {
	strat := newCollector()
	strat.fail = errors.New("bad fill")
	stopped := make(chan struct{})
	cfg := quietConfig()
	cfg.Venues = []domain.Venue{domain.VenueBitbank}
	cfg.NewAdapter = func(v domain.Venue, symbols []domain.Symbol) (Adapter, error) {
		return &scriptAdapter{
			venue:   v,
			events:  []domain.Event{domain.TradeBatch{From: domain.Origin{Venue: v, Symbol: symbols[0]}}},
			stopped: stopped,
		}, nil
	}

	h, err := Spawn(context.Background(), strat, []domain.Symbol{"btc_jpy"}, cfg)
	require.NoError(t, err)

	err = h.Wait()
	require.ErrorIs(t, err, actor.ErrStrategyFailed)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("adapter was not cancelled after the aggregator failed")
	}
}

func TestCloneAndCloseRefcount(t *testing.T) {
	h, err := Spawn(context.Background(), newCollector(), []domain.Symbol{"btc_jpy"}, quietConfig())
	require.NoError(t, err)

	clone := h.Clone()
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	select {
	case <-h.Done():
		t.Fatal("runtime stopped while a clone was still open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, clone.Close())
	select {
	case <-clone.Done():
	case <-time.After(time.Second):
		t.Fatal("last Close did not shut the runtime down")
	}
}

func TestSpawnSplitUsesOneMailboxPerVenue(t *testing.T) {
	strat := newCollector()
	h, err := SpawnSplit(context.Background(), strat, []domain.Symbol{"btc_jpy"}, quietConfig())
	require.NoError(t, err)

	bitbank, err := h.SenderFor(domain.VenueBitbank)
	require.NoError(t, err)
	bybit, err := h.SenderFor(domain.VenueBybit)
	require.NoError(t, err)
	assert.NotSame(t, bitbank.Mailbox(), bybit.Mailbox())

	require.NoError(t, bitbank.Send(context.Background(), domain.TradeBatch{From: domain.Origin{Venue: domain.VenueBitbank, Symbol: "btc_jpy"}}))
	require.NoError(t, bybit.Send(context.Background(), domain.TradeBatch{From: domain.Origin{Venue: domain.VenueBybit, Symbol: "BTCUSDT"}}))
	bitbank.Close()
	bybit.Close()

	require.NoError(t, h.Wait())
	assert.Len(t, strat.trades, 2)
}

func TestShutdownHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	cfg := quietConfig()
	cfg.Venues = []domain.Venue{domain.VenueBitbank}
	cfg.NewAdapter = func(v domain.Venue, _ []domain.Symbol) (Adapter, error) {
		return stubbornAdapter{venue: v, block: block}, nil
	}
	h, err := Spawn(context.Background(), newCollector(), []domain.Symbol{"btc_jpy"}, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Shutdown(ctx), context.DeadlineExceeded)
}

type stubbornAdapter struct {
	venue domain.Venue
	block chan struct{}
}

func (s stubbornAdapter) Venue() domain.Venue { return s.venue }

func (s stubbornAdapter) Run(context.Context, *mailbox.Sender) error {
	<-s.block
	return nil
}
