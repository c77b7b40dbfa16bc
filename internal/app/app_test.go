package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/cache/memory"
	"github.com/alanyoungcy/depthbot/internal/capture"
	"github.com/alanyoungcy/depthbot/internal/config"
	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/metrics"
	"github.com/alanyoungcy/depthbot/internal/notify"
	"github.com/alanyoungcy/depthbot/internal/platform"
	"github.com/alanyoungcy/depthbot/internal/server/ws"
)

var bitbankFrames = []platform.Frame{
	{Venue: domain.VenueBitbank, Key: "depth_whole_btc_jpy", Data: []byte(`{"asks":[["101","1"]],"bids":[["99","1"]],"timestamp":1,"sequenceId":"6"}`)},
	{Venue: domain.VenueBitbank, Key: "depth_diff_btc_jpy", Data: []byte(`{"a":[["102","2"]],"b":[],"t":2,"s":"7"}`)},
	{Venue: domain.VenueBitbank, Key: "transactions_btc_jpy", Data: []byte(`{"transactions":[{"transaction_id":1,"side":"buy","price":"100","amount":"0.1","executed_at":3}]}`)},
	{Venue: domain.VenueBitbank, Key: "orders_btc_jpy", Data: []byte(`{}`)},
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Bybit.Enabled = false
	cfg.Strategies = []string{"board", "mid_tracker"}
	cfg.Runtime.ShutdownTimeout.Duration = time.Second
	return &cfg
}

func testApp(cfg *config.Config) *App {
	return New(cfg, slog.New(slog.DiscardHandler))
}

func TestReplayMode(t *testing.T) {
	w, err := capture.NewWriter(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	base := time.Unix(1_700_000_000, 0)
	for i, f := range bitbankFrames {
		f.ReceivedAt = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, w.Write(f))
	}
	require.NoError(t, w.Close())

	cfg := testConfig(t)
	cfg.Mode = "replay"
	cfg.Capture.ReplayPath = w.Path()
	cfg.Capture.ReplaySpeed = 0
	require.NoError(t, cfg.Validate())

	deps := &Dependencies{Metrics: metrics.New()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, testApp(cfg).ReplayMode(ctx, deps))

	events := deps.Metrics.EventsHandled
	assert.Equal(t, 1.0, testutil.ToFloat64(events.WithLabelValues("bitbank", string(domain.KindDepthWhole))))
	assert.Equal(t, 1.0, testutil.ToFloat64(events.WithLabelValues("bitbank", string(domain.KindDepthDiff))))
	assert.Equal(t, 1.0, testutil.ToFloat64(events.WithLabelValues("bitbank", string(domain.KindTrades))))
}

func TestReplayModeMissingCapture(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "replay"
	cfg.Capture.ReplayPath = t.TempDir() + "/missing.jsonl"
	err := testApp(cfg).ReplayMode(context.Background(), &Dependencies{Metrics: metrics.New()})
	assert.Error(t, err)
}

// scriptedBus replays fixed payloads to the first subscriber, then ends the
// subscription.
type scriptedBus struct {
	payloads [][]byte
}

func (b *scriptedBus) Publish(context.Context, string, []byte) error { return nil }

func (b *scriptedBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte, len(b.payloads))
	for _, p := range b.payloads {
		ch <- p
	}
	close(ch)
	return ch, nil
}

func TestLiveModeRelaySubscriber(t *testing.T) {
	bus := &scriptedBus{}
	for _, f := range bitbankFrames[:3] {
		f.ReceivedAt = time.Unix(1, 0)
		data, err := platform.EncodeFrame(f)
		require.NoError(t, err)
		bus.payloads = append(bus.payloads, data)
	}

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.RelaySubscribe = true
	cfg.Runtime.Topology = "split"
	require.NoError(t, cfg.Validate())

	deps := &Dependencies{Metrics: metrics.New(), SignalBus: bus}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The feed ends with the subscription, which closes the only sender and
	// lets the runtime finish.
	require.NoError(t, testApp(cfg).LiveMode(ctx, deps, false))

	events := deps.Metrics.EventsHandled
	assert.Equal(t, 1.0, testutil.ToFloat64(events.WithLabelValues("bitbank", string(domain.KindTrades))))
	assert.Equal(t, 1.0, testutil.ToFloat64(events.WithLabelValues("bitbank", string(domain.KindDepthWhole))))
}

func TestBuildStrategy(t *testing.T) {
	cfg := testConfig(t)
	a := testApp(cfg)

	s, err := a.buildStrategy(&Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "board,mid_tracker", s.Name())

	cfg.Strategies = []string{"mirror"}
	_, err = a.buildStrategy(&Dependencies{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuildStrategyWithServerAndAlerts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategies = []string{"mirror", "alerts"}
	a := testApp(cfg)
	logger := slog.New(slog.DiscardHandler)

	deps := &Dependencies{
		BookCache: memory.NewOrderbookCache(),
		Hub:       ws.NewHub(ws.Config{}, logger),
		Notifier:  notify.NewNotifier(nil, nil, logger),
	}
	s, err := a.buildStrategy(deps)
	require.NoError(t, err)
	assert.Equal(t, "mirror,alerts", s.Name())
}

func TestPublisherFanOut(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	assert.Nil(t, (&Dependencies{}).publisher())

	hub := ws.NewHub(ws.Config{}, logger)
	assert.Equal(t, domain.Publisher(hub), (&Dependencies{Hub: hub}).publisher())

	both := (&Dependencies{Hub: hub, SignalBus: &scriptedBus{}}).publisher()
	require.IsType(t, domain.Publishers{}, both)
	assert.Len(t, both.(domain.Publishers), 2)
}

func TestWireServerWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = true
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/webhook"

	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &memory.OrderbookCache{}, deps.BookCache)
	assert.NotNil(t, deps.Hub)
	assert.NotNil(t, deps.Notifier)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.TradeStore)
}

func TestAdapterFactory(t *testing.T) {
	a := testApp(testConfig(t))
	factory := a.adapterFactory(nil)

	ad, err := factory(domain.VenueBitbank, []domain.Symbol{"btc_jpy"})
	require.NoError(t, err)
	assert.Equal(t, domain.VenueBitbank, ad.Venue())

	ad, err = factory(domain.VenueBybit, []domain.Symbol{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, domain.VenueBybit, ad.Venue())

	_, err = factory("kraken", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
}

func TestOriginsAndLockKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Symbols = []string{"btc_jpy", "eth_jpy"}
	a := testApp(&cfg)

	origins := a.origins()
	require.Len(t, origins, 4)
	assert.Equal(t, domain.Origin{Venue: domain.VenueBybit, Symbol: "ETHUSDT"}, origins[3])
	assert.Equal(t,
		"recorder:bitbank/btc_jpy,bitbank/eth_jpy,bybit/BTCUSDT,bybit/ETHUSDT",
		recorderLockKey(origins),
	)

	cfg.Mode = "replay"
	cfg.Bitbank.Enabled = false
	cfg.Bybit.Enabled = false
	assert.Equal(t, domain.Venues, a.venues())
}

type fakeLease struct {
	refreshErr error
	refreshed  int
}

func (l *fakeLease) Refresh(context.Context) error {
	l.refreshed++
	return l.refreshErr
}

func (l *fakeLease) Release() {}

func TestKeepLease(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.RecorderLockTTL.Duration = 30 * time.Millisecond
	a := testApp(cfg)

	lease := &fakeLease{refreshErr: domain.ErrLockHeld}
	err := a.keepLease(context.Background(), lease)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, 1, lease.refreshed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.keepLease(ctx, &fakeLease{}))
}
