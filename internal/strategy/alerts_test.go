package strategy

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/notify"
)

type fakePoster struct {
	alerts []notify.Alert
	full   bool
}

func (f *fakePoster) Post(a notify.Alert) bool {
	if f.full {
		return false
	}
	f.alerts = append(f.alerts, a)
	return true
}

func (f *fakePoster) events() []string {
	out := make([]string, len(f.alerts))
	for i, a := range f.alerts {
		out[i] = a.Event
	}
	return out
}

func newTestAlerter(p *fakePoster) (*Alerter, *time.Time) {
	a := NewAlerter(p, time.Minute, 0.05, time.Minute, slog.New(slog.DiscardHandler))
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }
	return a, &now
}

func TestAlerterMidDropWithCooldown(t *testing.T) {
	p := &fakePoster{}
	a, now := newTestAlerter(p)
	ctx := context.Background()

	require.NoError(t, a.OnDepth(ctx, book(t, 99, 101)))
	*now = now.Add(time.Second)
	require.NoError(t, a.OnDepth(ctx, book(t, 99, 101)))
	assert.Empty(t, p.alerts)

	// 100 -> 90 is a 10% drop.
	*now = now.Add(time.Second)
	require.NoError(t, a.OnDepth(ctx, book(t, 89, 91)))
	require.Equal(t, []string{notify.EventMidDrop}, p.events())
	assert.Contains(t, p.alerts[0].Title, "bybit BTCUSDT")

	*now = now.Add(time.Second)
	require.NoError(t, a.OnDepth(ctx, book(t, 84, 86)))
	assert.Len(t, p.alerts, 1, "cooldown suppresses a repeat")

	*now = now.Add(2 * time.Minute)
	require.NoError(t, a.OnDepth(ctx, book(t, 99, 101)))
	require.NoError(t, a.OnDepth(ctx, book(t, 79, 81)))
	assert.Len(t, p.alerts, 2)
}

func TestAlerterRetriesWhenQueueFull(t *testing.T) {
	p := &fakePoster{full: true}
	a, _ := newTestAlerter(p)
	trade := domain.Trade{ID: "1", Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(50), Side: domain.SideBuy, BlockTrade: true}

	require.NoError(t, a.OnTrades(context.Background(), btcUSDT, []domain.Trade{trade}))
	assert.Empty(t, p.alerts)

	// A rejected post does not start the cooldown.
	p.full = false
	require.NoError(t, a.OnTrades(context.Background(), btcUSDT, []domain.Trade{trade}))
	require.Equal(t, []string{notify.EventBlockTrade}, p.events())
	assert.Equal(t, "buy 50 @ 100 (id 1)", p.alerts[0].Message)
}

func TestAlerterIgnoresOrdinaryTrades(t *testing.T) {
	p := &fakePoster{}
	a, _ := newTestAlerter(p)
	trades := []domain.Trade{{ID: "1", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)}}
	require.NoError(t, a.OnTrades(context.Background(), btcUSDT, trades))
	assert.Empty(t, p.alerts)
}

func TestAlerterCircuitBreakModeChanges(t *testing.T) {
	p := &fakePoster{}
	a, _ := newTestAlerter(p)
	ctx := context.Background()
	origin := domain.Origin{Venue: domain.VenueBitbank, Symbol: "btc_jpy"}
	cb := func(mode string) domain.CircuitBreak { return domain.CircuitBreak{From: origin, Mode: mode} }

	require.NoError(t, a.OnCircuitBreak(ctx, cb("NONE")))
	require.NoError(t, a.OnCircuitBreak(ctx, cb("NONE")))
	assert.Empty(t, p.alerts)

	require.NoError(t, a.OnCircuitBreak(ctx, cb("CIRCUIT_BREAK")))
	require.NoError(t, a.OnCircuitBreak(ctx, cb("CIRCUIT_BREAK")))
	require.NoError(t, a.OnCircuitBreak(ctx, cb("NONE")))
	require.Len(t, p.alerts, 2)
	assert.Equal(t, "mode NONE -> CIRCUIT_BREAK", p.alerts[0].Message)
	assert.Equal(t, "mode CIRCUIT_BREAK -> NONE", p.alerts[1].Message)

	other := domain.Origin{Venue: domain.VenueBitbank, Symbol: "eth_jpy"}
	require.NoError(t, a.OnCircuitBreak(ctx, domain.CircuitBreak{From: other, Mode: "FULL_RANGE_CIRCUIT_BREAK"}))
	require.Len(t, p.alerts, 3)
	assert.Equal(t, "mode FULL_RANGE_CIRCUIT_BREAK", p.alerts[2].Message)
}
