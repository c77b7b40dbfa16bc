// Package runtime wires mailboxes, the aggregator and one stream adapter per
// venue under a single supervisor and hands back a Handle to control them.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthbot/internal/actor"
	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/strategy"
)

// Adapter turns a venue's stream into events. Run must return when ctx is
// done and should treat mailbox.ErrClosed from the sender as a normal stop.
type Adapter interface {
	Venue() domain.Venue
	Run(ctx context.Context, out *mailbox.Sender) error
}

// AdapterFactory builds the adapter for venue subscribed to the given
// venue-native symbols.
type AdapterFactory func(venue domain.Venue, symbols []domain.Symbol) (Adapter, error)

// Config controls Spawn and SpawnSplit.
type Config struct {
	// Venues to build books and adapters for. Empty means every known venue.
	Venues []domain.Venue
	// MailboxCapacity <= 0 selects mailbox.DefaultCapacity.
	MailboxCapacity int
	Policy          mailbox.Policy
	Sink            mailbox.Sink
	// NewAdapter may be nil, in which case nothing feeds the mailboxes except
	// Senders taken from the Handle.
	NewAdapter AdapterFactory
	Aggregator []actor.Option
	Logger     *slog.Logger
}

func (c Config) venues() []domain.Venue {
	if len(c.Venues) == 0 {
		return domain.Venues
	}
	return c.Venues
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c Config) policy() mailbox.Policy {
	if c.Policy == (mailbox.Policy{}) {
		return mailbox.DefaultPolicy()
	}
	return c.Policy
}

// Spawn starts the shared topology: every adapter feeds one mailbox drained
// by one aggregator. symbols are canonical spellings and are mapped per
// venue.
func Spawn(ctx context.Context, strat strategy.Strategy, symbols []domain.Symbol, cfg Config) (*Handle, error) {
	mb := mailbox.New("main", cfg.MailboxCapacity, mailbox.WithPolicy(cfg.policy()), mailbox.WithSink(cfg.Sink))
	route := func(domain.Venue) *mailbox.Mailbox { return mb }
	return spawn(ctx, strat, symbols, cfg, []*mailbox.Mailbox{mb}, route)
}

// SpawnSplit starts the split topology: one mailbox per venue family, drained
// together by one aggregator.
func SpawnSplit(ctx context.Context, strat strategy.Strategy, symbols []domain.Symbol, cfg Config) (*Handle, error) {
	venues := cfg.venues()
	if len(venues) > 2 {
		return nil, fmt.Errorf("runtime: split topology supports at most 2 venues, got %d", len(venues))
	}
	byVenue := make(map[domain.Venue]*mailbox.Mailbox, len(venues))
	mbs := make([]*mailbox.Mailbox, 0, len(venues))
	for _, v := range venues {
		mb := mailbox.New(v.String(), cfg.MailboxCapacity, mailbox.WithPolicy(cfg.policy()), mailbox.WithSink(cfg.Sink))
		byVenue[v] = mb
		mbs = append(mbs, mb)
	}
	route := func(v domain.Venue) *mailbox.Mailbox { return byVenue[v] }
	return spawn(ctx, strat, symbols, cfg, mbs, route)
}

func spawn(
	parent context.Context,
	strat strategy.Strategy,
	symbols []domain.Symbol,
	cfg Config,
	mbs []*mailbox.Mailbox,
	route func(domain.Venue) *mailbox.Mailbox,
) (*Handle, error) {
	logger := cfg.logger().With(slog.String("component", "runtime"))

	native := make(map[domain.Venue][]domain.Symbol)
	var origins []domain.Origin
	for _, v := range cfg.venues() {
		native[v] = domain.MapSymbols(v, symbols)
		for _, s := range native[v] {
			origins = append(origins, domain.Origin{Venue: v, Symbol: s})
		}
	}

	aggOpts := append([]actor.Option{actor.WithLogger(cfg.logger())}, cfg.Aggregator...)
	agg, err := actor.New(strat, origins, aggOpts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	var adapters []Adapter
	if cfg.NewAdapter != nil {
		for _, v := range cfg.venues() {
			a, err := cfg.NewAdapter(v, native[v])
			if err != nil {
				return nil, fmt.Errorf("runtime: adapter %s: %w", v, err)
			}
			adapters = append(adapters, a)
		}
	}

	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	inboxes := make([]<-chan domain.Event, len(mbs))
	for i, mb := range mbs {
		inboxes[i] = mb.Receive()
	}
	g.Go(func() error {
		return agg.RunSplit(gctx, inboxes...)
	})

	for _, a := range adapters {
		out := route(a.Venue()).Sender()
		g.Go(func() error {
			defer out.Close()
			if err := a.Run(gctx, out); err != nil {
				return fmt.Errorf("runtime: adapter %s: %w", a.Venue(), err)
			}
			return nil
		})
	}

	s := &supervisor{
		cancel:    cancel,
		mailboxes: mbs,
		route:     route,
		done:      make(chan struct{}),
	}
	s.refs.Store(1)
	go func() {
		s.err = g.Wait()
		cancel()
		close(s.done)
	}()

	logger.Info("runtime spawned",
		slog.Int("books", len(origins)),
		slog.Int("adapters", len(adapters)),
		slog.Int("mailboxes", len(mbs)),
	)
	return &Handle{s: s}, nil
}

type supervisor struct {
	cancel    context.CancelFunc
	mailboxes []*mailbox.Mailbox
	route     func(domain.Venue) *mailbox.Mailbox
	refs      atomic.Int32
	done      chan struct{}
	err       error
}

// Handle controls a running runtime. Clones share the same tasks; the last
// Close shuts them down.
type Handle struct {
	s    *supervisor
	once sync.Once
}

// Sender returns a new producer handle on the first mailbox. It is the seam
// for replays and back-tests; the caller must Close it.
func (h *Handle) Sender() *mailbox.Sender { return h.s.mailboxes[0].Sender() }

// SenderFor returns a producer handle on the mailbox that serves venue. In
// the shared topology every venue maps to the same mailbox.
func (h *Handle) SenderFor(v domain.Venue) (*mailbox.Sender, error) {
	mb := h.s.route(v)
	if mb == nil {
		return nil, fmt.Errorf("runtime: sender for %s: %w", v, domain.ErrUnknownVenue)
	}
	return mb.Sender(), nil
}

// Clone returns another handle on the same runtime.
func (h *Handle) Clone() *Handle {
	h.s.refs.Add(1)
	return &Handle{s: h.s}
}

// Close releases this handle; releasing the last one shuts the runtime down
// and returns its result. Closing a handle twice is a no-op.
func (h *Handle) Close() error {
	var err error
	h.once.Do(func() {
		if h.s.refs.Add(-1) == 0 {
			err = h.Shutdown(context.Background())
		}
	})
	return err
}

// Shutdown cancels every task and waits for them until ctx is done.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.s.cancel()
	select {
	case <-h.s.done:
		return h.s.err
	case <-ctx.Done():
		return fmt.Errorf("runtime: shutdown: %w", ctx.Err())
	}
}

// Wait blocks until every task has finished and returns the first error.
func (h *Handle) Wait() error {
	<-h.s.done
	return h.s.err
}

// Done is closed once every task has finished.
func (h *Handle) Done() <-chan struct{} { return h.s.done }
