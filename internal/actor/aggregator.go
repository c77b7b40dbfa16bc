// Package actor contains the aggregator: the single goroutine that owns every
// order book, applies venue updates in arrival order and drives the strategy.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/metrics"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
	"github.com/alanyoungcy/depthbot/internal/strategy"
)

// ErrStrategyFailed wraps any error or panic raised by a strategy callback.
var ErrStrategyFailed = errors.New("strategy callback failed")

// FailurePolicy decides what the aggregator does when a callback fails.
type FailurePolicy string

const (
	// FailStop ends Run with the callback's error.
	FailStop FailurePolicy = "stop"
	// FailContinue logs the error and keeps consuming.
	FailContinue FailurePolicy = "continue"
)

// ParseFailurePolicy converts a configuration string. The empty string
// selects FailStop.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case "":
		return FailStop, nil
	case FailStop, FailContinue:
		return p, nil
	default:
		return "", fmt.Errorf("actor: unknown failure policy %q", s)
	}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithFailurePolicy overrides FailStop.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(a *Aggregator) { a.failure = p }
}

// WithDeltaPolicy sets the pre-snapshot policy of snapshot+delta books.
func WithDeltaPolicy(p orderbook.DeltaPolicy) Option {
	return func(a *Aggregator) { a.deltaPolicy = p }
}

// WithMaxBufferedDiffs bounds the replay buffer of diff-based books.
func WithMaxBufferedDiffs(n int) Option {
	return func(a *Aggregator) { a.maxBuffered = n }
}

// WithMetrics enables event and book-size metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// Aggregator owns one book per registered origin. It is not safe for
// concurrent use: only the goroutine running Run may touch it.
type Aggregator struct {
	strategy    strategy.Strategy
	failure     FailurePolicy
	deltaPolicy orderbook.DeltaPolicy
	maxBuffered int
	metrics     *metrics.Metrics
	logger      *slog.Logger

	diffBooks  map[domain.Origin]*orderbook.DiffBook
	deltaBooks map[domain.Origin]*orderbook.DeltaBook
}

// New creates an aggregator with an empty book for every origin. Origins on
// an unknown venue are rejected.
func New(strat strategy.Strategy, origins []domain.Origin, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{
		strategy:    strat,
		failure:     FailStop,
		deltaPolicy: orderbook.DeltaIgnore,
		logger:      slog.Default(),
		diffBooks:   make(map[domain.Origin]*orderbook.DiffBook),
		deltaBooks:  make(map[domain.Origin]*orderbook.DeltaBook),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "aggregator"))

	for _, o := range origins {
		switch o.Venue {
		case domain.VenueBitbank:
			a.diffBooks[o] = orderbook.NewDiffBook(o, a.maxBuffered)
		case domain.VenueBybit:
			a.deltaBooks[o] = orderbook.NewDeltaBook(o, a.deltaPolicy, a.logger)
		default:
			return nil, fmt.Errorf("actor: register %s: %w", o.Symbol, domain.ErrUnknownVenue)
		}
	}
	return a, nil
}

// Book returns the view of a registered book.
func (a *Aggregator) Book(origin domain.Origin) (orderbook.View, bool) {
	if b, ok := a.diffBooks[origin]; ok {
		return b.View(), true
	}
	if b, ok := a.deltaBooks[origin]; ok {
		return b.View(), true
	}
	return nil, false
}

// Run consumes inbox until it is closed or ctx is done. It returns nil on
// either, or an error wrapping ErrStrategyFailed under FailStop.
func (a *Aggregator) Run(ctx context.Context, inbox <-chan domain.Event) error {
	return a.RunSplit(ctx, inbox)
}

// RunSplit consumes several mailboxes, one per venue family, until all of
// them are closed or ctx is done. Order is preserved within each mailbox;
// when several are ready the pick between them is random.
func (a *Aggregator) RunSplit(ctx context.Context, inboxes ...<-chan domain.Event) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.stop()

	switch len(inboxes) {
	case 0:
		return nil
	case 1:
		return a.drainOne(ctx, inboxes[0])
	case 2:
		return a.drainTwo(ctx, inboxes[0], inboxes[1])
	default:
		return fmt.Errorf("actor: %d inboxes, at most 2 supported", len(inboxes))
	}
}

func (a *Aggregator) drainOne(ctx context.Context, in <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := a.Handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (a *Aggregator) drainTwo(ctx context.Context, first, second <-chan domain.Event) error {
	for first != nil || second != nil {
		var (
			ev domain.Event
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil
		case ev, ok = <-first:
			if !ok {
				first = nil
				continue
			}
		case ev, ok = <-second:
			if !ok {
				second = nil
				continue
			}
		}
		if err := a.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) start(ctx context.Context) error {
	if in, ok := a.strategy.(strategy.Initializer); ok {
		if err := in.Init(ctx); err != nil {
			return fmt.Errorf("actor: init %s: %w: %w", a.strategy.Name(), ErrStrategyFailed, err)
		}
	}
	a.logger.Info("aggregator started",
		slog.String("strategy", a.strategy.Name()),
		slog.Int("books", len(a.diffBooks)+len(a.deltaBooks)),
	)
	return nil
}

func (a *Aggregator) stop() {
	if c, ok := a.strategy.(strategy.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Error("strategy close failed", slog.String("error", err.Error()))
		}
	}
	a.logger.Info("aggregator stopped")
}

// Handle applies one event. Run calls it for each message; it is exported
// for synchronous drivers such as tests and replays that bypass the mailbox.
func (a *Aggregator) Handle(ctx context.Context, ev domain.Event) error {
	a.metrics.ObserveEvent(ev)

	switch e := ev.(type) {
	case domain.TradeBatch:
		return a.invoke("OnTrades", e.From, func() error {
			return a.strategy.OnTrades(ctx, e.From, e.Trades)
		})

	case domain.DepthDiff:
		b, ok := a.diffBooks[e.From]
		if !ok {
			return nil
		}
		b.ApplyDiff(e)
		return a.depth(ctx, b)

	case domain.DepthWhole:
		b, ok := a.diffBooks[e.From]
		if !ok {
			return nil
		}
		b.ApplySnapshot(e)
		return a.depth(ctx, b)

	case domain.DepthDelta:
		b, ok := a.deltaBooks[e.From]
		if !ok {
			return nil
		}
		applied, err := b.Apply(e)
		if err != nil || !applied {
			// The book already logged the rejection.
			return nil
		}
		return a.depth(ctx, b)

	case domain.Ticker:
		h, ok := a.strategy.(strategy.TickerHandler)
		if !ok {
			return nil
		}
		return a.invoke("OnTicker", e.From, func() error { return h.OnTicker(ctx, e) })

	case domain.CircuitBreak:
		h, ok := a.strategy.(strategy.CircuitBreakHandler)
		if !ok {
			return nil
		}
		return a.invoke("OnCircuitBreak", e.From, func() error { return h.OnCircuitBreak(ctx, e) })

	default:
		a.logger.Warn("ignoring unsupported event", slog.String("kind", string(ev.Kind())))
		return nil
	}
}

type book interface {
	orderbook.View
	View() orderbook.View
}

func (a *Aggregator) depth(ctx context.Context, b book) error {
	if !b.IsComplete() {
		return nil
	}
	bids, asks := b.Len()
	a.metrics.ObserveBook(b.Origin(), bids, asks)
	return a.invoke("OnDepth", b.Origin(), func() error {
		return a.strategy.OnDepth(ctx, b.View())
	})
}

func (a *Aggregator) invoke(op string, origin domain.Origin, fn func() error) error {
	err := safeCall(fn)
	if err == nil {
		return nil
	}
	if a.failure == FailContinue {
		a.logger.Error("strategy callback failed",
			slog.String("callback", op),
			slog.String("venue", origin.Venue.String()),
			slog.String("symbol", origin.Symbol.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return fmt.Errorf("actor: %s %s/%s: %w: %w", op, origin.Venue, origin.Symbol, ErrStrategyFailed, err)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
