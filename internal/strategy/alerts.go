package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/notify"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

// AlertPoster queues an alert without blocking. *notify.Notifier satisfies it.
type AlertPoster interface {
	Post(a notify.Alert) bool
}

// circuitBreakNone is the mode bitbank reports while trading normally.
const circuitBreakNone = "NONE"

// Alerter raises operator alerts on circuit-break mode changes, mid-price
// drops and block trades. Alerts of one event type for one origin are
// suppressed for cooldown after firing.
type Alerter struct {
	poster        AlertPoster
	mids          *MidTracker
	dropThreshold float64
	cooldown      time.Duration
	now           func() time.Time
	logger        *slog.Logger

	modes     map[domain.Origin]string
	lastFired map[alertKey]time.Time
}

type alertKey struct {
	event  string
	origin domain.Origin
}

// NewAlerter creates an Alerter. window and dropThreshold configure mid-drop
// detection as for MidTracker; a zero dropThreshold disables it.
func NewAlerter(poster AlertPoster, window time.Duration, dropThreshold float64, cooldown time.Duration, logger *slog.Logger) *Alerter {
	return &Alerter{
		poster:        poster,
		mids:          NewMidTracker(window, 0, logger),
		dropThreshold: dropThreshold,
		cooldown:      cooldown,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "alerter")),
		modes:         make(map[domain.Origin]string),
		lastFired:     make(map[alertKey]time.Time),
	}
}

func (a *Alerter) Name() string { return "alerts" }

func (a *Alerter) OnTrades(_ context.Context, origin domain.Origin, trades []domain.Trade) error {
	for _, t := range trades {
		if !t.BlockTrade {
			continue
		}
		a.fire(notify.EventBlockTrade, origin,
			fmt.Sprintf("Block trade %s %s", origin.Venue, origin.Symbol),
			fmt.Sprintf("%s %s @ %s (id %s)", t.Side, t.Amount, t.Price, t.ID),
		)
	}
	return nil
}

func (a *Alerter) OnDepth(_ context.Context, book orderbook.View) error {
	if a.dropThreshold <= 0 {
		return nil
	}
	mid, ok := orderbook.Mid(book)
	if !ok {
		return nil
	}
	origin := book.Origin()
	a.mids.Track(origin, mid.InexactFloat64(), a.now())
	if !a.mids.DetectDrop(origin, a.dropThreshold) {
		return nil
	}
	a.fire(notify.EventMidDrop, origin,
		fmt.Sprintf("Mid drop %s %s", origin.Venue, origin.Symbol),
		fmt.Sprintf("mid %s is %.2f%% or more below the %s average %.8g",
			mid, a.dropThreshold*100, a.mids.window, a.mids.Average(origin)),
	)
	return nil
}

// OnCircuitBreak alerts when the halt mode of a pair changes. A first
// observation alerts only when the pair is already halted.
func (a *Alerter) OnCircuitBreak(_ context.Context, cb domain.CircuitBreak) error {
	prev, seen := a.modes[cb.From]
	a.modes[cb.From] = cb.Mode
	if seen && prev == cb.Mode {
		return nil
	}
	if !seen && cb.Mode == circuitBreakNone {
		return nil
	}
	msg := fmt.Sprintf("mode %s", cb.Mode)
	if seen {
		msg = fmt.Sprintf("mode %s -> %s", prev, cb.Mode)
	}
	if cb.ReopenAt != nil {
		msg += fmt.Sprintf(", reopens %s", cb.ReopenAt.UTC().Format(time.RFC3339))
	}
	// Mode changes bypass the cooldown.
	a.post(notify.EventCircuitBreak, cb.From,
		fmt.Sprintf("Circuit break %s %s", cb.From.Venue, cb.From.Symbol), msg)
	return nil
}

func (a *Alerter) fire(event string, origin domain.Origin, title, message string) {
	key := alertKey{event: event, origin: origin}
	now := a.now()
	if last, ok := a.lastFired[key]; ok && now.Sub(last) < a.cooldown {
		return
	}
	if a.post(event, origin, title, message) {
		a.lastFired[key] = now
	}
}

func (a *Alerter) post(event string, origin domain.Origin, title, message string) bool {
	ok := a.poster.Post(notify.Alert{Event: event, Title: title, Message: message})
	a.logger.Info("alert",
		slog.String("event", event),
		slog.String("venue", origin.Venue.String()),
		slog.String("symbol", origin.Symbol.String()),
		slog.String("message", message),
		slog.Bool("queued", ok),
	)
	return ok
}
