package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/metrics"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

func frame(venue domain.Venue, key, data string) platform.Frame {
	return platform.Frame{Venue: venue, Key: key, Data: []byte(data), ReceivedAt: time.UnixMilli(1)}
}

func TestDecodeBitbank(t *testing.T) {
	tests := []struct {
		name string
		key  string
		data string
		kind domain.EventKind
	}{
		{"diff", "depth_diff_btc_jpy", `{"a":[["101","2"]],"b":[["99","0"]],"t":1,"s":"5"}`, domain.KindDepthDiff},
		{"whole", "depth_whole_btc_jpy", `{"asks":[["101","1"]],"bids":[["99","1"]],"timestamp":1,"sequenceId":"6"}`, domain.KindDepthWhole},
		{"transactions", "transactions_btc_jpy", `{"transactions":[{"transaction_id":1,"side":"buy","price":"100","amount":"0.1","executed_at":1}]}`, domain.KindTrades},
		{"ticker", "ticker_btc_jpy", `{"sell":"101","buy":null,"high":"110","low":"90","open":"95","last":"100","vol":"12","timestamp":1}`, domain.KindTicker},
		{"circuit break", "circuit_break_info_btc_jpy", `{"mode":"NONE","fee_type":"NORMAL","timestamp":1}`, domain.KindCircuitBreak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeBitbank(frame(domain.VenueBitbank, tt.key, tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind())
			assert.Equal(t, domain.Origin{Venue: domain.VenueBitbank, Symbol: "btc_jpy"}, ev.Origin())
		})
	}
}

func TestDecodeBitbankErrors(t *testing.T) {
	_, err := DecodeBitbank(frame(domain.VenueBitbank, "orders_btc_jpy", `{}`))
	assert.ErrorIs(t, err, domain.ErrUnroutable)

	_, err = DecodeBitbank(frame(domain.VenueBitbank, "depth_diff_btc_jpy", `[`))
	assert.ErrorIs(t, err, domain.ErrMalformed)

	ev, err := DecodeBitbank(frame(domain.VenueBitbank, "depth_diff_btc_jpy", `{"a":[],"b":[],"t":1,"s":"nope"}`))
	assert.ErrorIs(t, err, domain.ErrMalformed)
	assert.Nil(t, ev)
}

func TestDecodeBybit(t *testing.T) {
	ev, err := DecodeBybit(frame(domain.VenueBybit, "orderbook.50.BTCUSDT",
		`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":5,"data":{"s":"BTCUSDT","b":[["1","1"]],"a":[["2","1"]],"u":7,"seq":9}}`))
	require.NoError(t, err)
	delta, ok := ev.(domain.DepthDelta)
	require.True(t, ok)
	assert.Equal(t, domain.UpdateSnapshot, delta.Type)
	assert.Equal(t, domain.Symbol("BTCUSDT"), delta.From.Symbol)

	ev, err = DecodeBybit(frame(domain.VenueBybit, "publicTrade.BTCUSDT",
		`{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":5,"data":[{"T":5,"s":"BTCUSDT","S":"Sell","v":"1","p":"2","i":"x"}]}`))
	require.NoError(t, err)
	assert.Equal(t, domain.KindTrades, ev.Kind())

	_, err = DecodeBybit(frame(domain.VenueBybit, "tickers.BTCUSDT", `{}`))
	assert.ErrorIs(t, err, domain.ErrUnroutable)
	_, err = DecodeBybit(frame(domain.VenueBybit, "tickers", `{}`))
	assert.ErrorIs(t, err, domain.ErrUnroutable)
}

func TestDecoderFor(t *testing.T) {
	_, err := DecoderFor("kraken")
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)

	ev, err := Decode(frame(domain.VenueBitbank, "depth_diff_btc_jpy", `{"a":[],"b":[],"t":1,"s":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.KindDepthDiff, ev.Kind())
}

// fakeTransport stands in for a venue client.
type fakeTransport struct {
	mu         sync.Mutex
	handler    platform.FrameHandler
	connectErr error
	disc       chan error
	closed     atomic.Bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{disc: make(chan error, 1)} }

func (t *fakeTransport) OnFrame(h platform.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *fakeTransport) emit(f platform.Frame) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	h(f)
}

func (t *fakeTransport) Connect(context.Context) error { return t.connectErr }
func (t *fakeTransport) Disconnected() <-chan error    { return t.disc }
func (t *fakeTransport) Close() error                  { t.closed.Store(true); return nil }

func newTestFeed(t *testing.T, transports []*fakeTransport, onSubscribe func(*fakeTransport), opts ...Option) *venueFeed {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	f := newVenueFeed(domain.VenueBitbank, []domain.Symbol{"btc_jpy"}, DecodeBitbank, opts)
	f.initialBackoff = time.Millisecond
	f.maxBackoff = 4 * time.Millisecond

	var n atomic.Int32
	f.dial = func() transport {
		i := int(n.Add(1)) - 1
		if i < len(transports) {
			return transports[i]
		}
		ft := newFakeTransport()
		ft.connectErr = errors.New("no more transports")
		return ft
	}
	f.subscribe = func(tr transport) error {
		if onSubscribe != nil {
			onSubscribe(tr.(*fakeTransport))
		}
		return nil
	}
	return f
}

const diffFrame = `{"a":[["101","2"]],"b":[],"t":1,"s":"5"}`

func receive(t *testing.T, mb *mailbox.Mailbox) domain.Event {
	t.Helper()
	select {
	case ev := <-mb.Receive():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestVenueFeedReconnectsAndForwards(t *testing.T) {
	failing := newFakeTransport()
	failing.connectErr = errors.New("dial refused")
	first, second := newFakeTransport(), newFakeTransport()

	var tapped atomic.Int32
	m := metrics.New()
	f := newTestFeed(t, []*fakeTransport{failing, first, second},
		func(ft *fakeTransport) { ft.emit(frame(domain.VenueBitbank, "depth_diff_btc_jpy", diffFrame)) },
		WithMetrics(m),
		WithTap(func(platform.Frame) { tapped.Add(1) }),
	)

	mb := mailbox.New("test", 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, mb.Sender()) }()

	ev := receive(t, mb)
	assert.Equal(t, domain.KindDepthDiff, ev.Kind())

	first.disc <- errors.New("connection reset")
	ev = receive(t, mb)
	assert.Equal(t, domain.KindDepthDiff, ev.Kind())
	assert.True(t, first.closed.Load(), "dropped transport is closed")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Reconnects.WithLabelValues("bitbank")))
	assert.Equal(t, int32(2), tapped.Load())
}

func TestVenueFeedCountsDecodeErrors(t *testing.T) {
	m := metrics.New()
	tr := newFakeTransport()
	f := newTestFeed(t, []*fakeTransport{tr}, func(ft *fakeTransport) {
		ft.emit(frame(domain.VenueBitbank, "orders_btc_jpy", `{}`))
		ft.emit(frame(domain.VenueBitbank, "depth_diff_btc_jpy", diffFrame))
	}, WithMetrics(m))

	mb := mailbox.New("test", 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx, mb.Sender()) }()

	ev := receive(t, mb)
	assert.Equal(t, domain.KindDepthDiff, ev.Kind(), "unroutable frame is skipped")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FrameErrors.WithLabelValues("bitbank")))
}

func TestVenueFeedStopsWhenMailboxCloses(t *testing.T) {
	tr := newFakeTransport()
	f := newTestFeed(t, []*fakeTransport{tr}, func(ft *fakeTransport) {
		go ft.emit(frame(domain.VenueBitbank, "depth_diff_btc_jpy", diffFrame))
	})

	mb := mailbox.New("test", 64)
	sender := mb.Sender()
	mb.Close()

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), sender) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed kept running after the mailbox closed")
	}
}

func TestVenueFeedWithoutSymbols(t *testing.T) {
	f := newVenueFeed(domain.VenueBybit, nil, DecodeBybit, []Option{WithLogger(slog.New(slog.DiscardHandler))})
	assert.Equal(t, domain.VenueBybit, f.Venue())
	assert.NoError(t, f.Run(context.Background(), mailbox.New("x", 4).Sender()))
}

// memBus is an in-process SignalBus.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newMemBus() *memBus { return &memBus{subs: make(map[string][]chan []byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func TestRelayToRedisFeed(t *testing.T) {
	bus := newMemBus()
	logger := slog.New(slog.DiscardHandler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mb := mailbox.New("relay", 16)
	consumer := NewRedisFeed(bus, "", nil, logger)
	// Subscribe before anything is published.
	sub, err := bus.Subscribe(ctx, DefaultRelayChannel)
	require.NoError(t, err)
	go func() { _ = consumer.Run(ctx, mb.Sender()) }()

	relay := NewRelay(bus, "", 4, logger)
	go func() { _ = relay.Run(ctx) }()

	// Wait for the consumer's subscription too.
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs[DefaultRelayChannel]) == 2
	}, 2*time.Second, 5*time.Millisecond)

	relay.Tap(frame(domain.VenueBitbank, "depth_diff_btc_jpy", diffFrame))

	select {
	case raw := <-sub:
		fr, err := platform.DecodeFrame(raw)
		require.NoError(t, err)
		assert.Equal(t, "depth_diff_btc_jpy", fr.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}

	ev := receive(t, mb)
	diff, ok := ev.(domain.DepthDiff)
	require.True(t, ok)
	assert.Equal(t, int64(5), diff.Sequence)
}

// levelRecorder keeps the level and message of every record logged.
type levelRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *levelRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *levelRecorder) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *levelRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *levelRecorder) WithGroup(string) slog.Handler      { return h }

func (h *levelRecorder) errors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level == slog.LevelError {
			out = append(out, r.Message)
		}
	}
	return out
}

func TestRedisFeedLogsBadFramesAsErrors(t *testing.T) {
	bus := newMemBus()
	rec := &levelRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mb := mailbox.New("relay", 16)
	consumer := NewRedisFeed(bus, "", nil, slog.New(rec))
	go func() { _ = consumer.Run(ctx, mb.Sender()) }()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs[DefaultRelayChannel]) == 1
	}, 2*time.Second, 5*time.Millisecond)

	unroutable, err := platform.EncodeFrame(frame(domain.VenueBitbank, "orders_btc_jpy", `{}`))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, DefaultRelayChannel, []byte("not json")))
	require.NoError(t, bus.Publish(ctx, DefaultRelayChannel, unroutable))

	require.Eventually(t, func() bool { return len(rec.errors()) == 2 }, 2*time.Second, 5*time.Millisecond)
	for _, msg := range rec.errors() {
		assert.Equal(t, "failed to decode relayed frame", msg)
	}
}
