// Package notify delivers operator alerts to chat services. Alerts are
// filtered by event type so operators receive only the ones they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Event types raised by the runtime.
const (
	EventCircuitBreak = "circuit_break"
	EventMidDrop      = "mid_drop"
	EventBlockTrade   = "block_trade"
	EventRuntime      = "runtime"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Alert is one queued notification.
type Alert struct {
	Event   string
	Title   string
	Message string
}

// Notifier dispatches alerts to one or more Senders. Post queues without
// blocking so it can be called from the aggregator goroutine; Run delivers
// the queue in the background.
type Notifier struct {
	senders     []Sender
	events      map[string]bool // allowed event types
	queue       chan Alert
	sendTimeout time.Duration
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice are forwarded. If events is
// empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		queue:       make(chan Alert, 64),
		sendTimeout: 15 * time.Second,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event passes the filter and any sender is set.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Post queues an alert for Run. It reports false when the alert was filtered
// out or the queue is full.
func (n *Notifier) Post(a Alert) bool {
	if !n.Enabled(a.Event) {
		return false
	}
	select {
	case n.queue <- a:
		return true
	default:
		if d := n.dropped.Add(1); d == 1 || d%100 == 0 {
			n.logger.Warn("alert queue full, dropping",
				slog.String("event", a.Event),
				slog.Int64("dropped_total", d),
			)
		}
		return false
	}
}

// Dropped returns how many alerts Post discarded because the queue was full.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Run delivers queued alerts until ctx is cancelled. Alerts still queued at
// cancellation are discarded.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
			_ = n.dispatch(sendCtx, a.Title, a.Message)
			cancel()
		}
	}
}

// Notify sends an alert synchronously when its event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
