// Package mailbox is the bounded multi-producer, single-consumer queue between
// the stream adapters and the aggregator. Producers hold reference-counted
// Senders; when the last one is closed the receive channel is closed and the
// consumer drains what is left and stops.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

var (
	ErrFull   = errors.New("mailbox full")
	ErrClosed = errors.New("mailbox closed")
)

// DefaultCapacity is the buffer size used when none is configured.
const DefaultCapacity = 512

// Policy is the lossy enqueue rule applied by Offer.
type Policy struct {
	// WarnPercent: a warning is reported when free capacity drops below this
	// share of the total.
	WarnPercent int
	// DropBelow: the event is dropped when fewer than this many slots are
	// free. It is ignored for mailboxes no larger than DropBelow, which then
	// only drop when actually full.
	DropBelow int
}

// DefaultPolicy warns under 30% free and drops with fewer than 10 free slots.
func DefaultPolicy() Policy {
	return Policy{WarnPercent: 30, DropBelow: 10}
}

// Mailbox owns the buffered channel. The zero value is not usable; call New.
type Mailbox struct {
	name   string
	ch     chan domain.Event
	policy Policy
	sink   Sink

	mu     sync.RWMutex
	closed bool
	refs   int
	done   chan struct{}
	once   sync.Once
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(m *Mailbox) { m.policy = p }
}

// WithSink sets where pressure warnings and drops are reported.
func WithSink(s Sink) Option {
	return func(m *Mailbox) {
		if s != nil {
			m.sink = s
		}
	}
}

// New creates a mailbox. capacity <= 0 selects DefaultCapacity.
func New(name string, capacity int, opts ...Option) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := &Mailbox{
		name:   name,
		ch:     make(chan domain.Event, capacity),
		policy: DefaultPolicy(),
		sink:   NopSink{},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name identifies the mailbox in logs and metrics.
func (m *Mailbox) Name() string { return m.name }

// Receive returns the consumer side. It is closed after the last Sender is
// closed or Close is called.
func (m *Mailbox) Receive() <-chan domain.Event { return m.ch }

// Cap returns the buffer capacity.
func (m *Mailbox) Cap() int { return cap(m.ch) }

// Len returns the number of queued events.
func (m *Mailbox) Len() int { return len(m.ch) }

// Free returns the number of empty slots.
func (m *Mailbox) Free() int { return cap(m.ch) - len(m.ch) }

// Sender returns a new producer handle. Senders obtained after the mailbox
// closed fail every send with ErrClosed.
func (m *Mailbox) Sender() *Sender {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.refs++
	}
	return &Sender{m: m}
}

// Close closes the mailbox regardless of outstanding Senders. Blocked Send
// calls return ErrClosed.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// closeLocked closes the channel once. The caller must hold m.mu.
func (m *Mailbox) closeLocked() {
	if m.closed {
		return
	}
	m.once.Do(func() { close(m.done) })
	m.closed = true
	close(m.ch)
}

// Closed reports whether the mailbox no longer accepts events.
func (m *Mailbox) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// release drops one reference and closes the mailbox when it was the last, in
// the same critical section so that no Sender can be handed out in between.
func (m *Mailbox) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.refs--
	if m.refs <= 0 {
		m.closeLocked()
	}
}

func (m *Mailbox) dropBelow() int {
	if m.policy.DropBelow >= cap(m.ch) {
		return 0
	}
	return m.policy.DropBelow
}

// Sender is one producer's handle onto a Mailbox. It is safe for concurrent
// use, but each producer should own its own handle so that closing it
// releases exactly one reference.
type Sender struct {
	m    *Mailbox
	once sync.Once
}

// Clone returns an independent handle on the same mailbox.
func (s *Sender) Clone() *Sender { return s.m.Sender() }

// Mailbox returns the mailbox this handle feeds.
func (s *Sender) Mailbox() *Mailbox { return s.m }

// Close releases this handle. Closing twice is a no-op.
func (s *Sender) Close() {
	s.once.Do(s.m.release)
}

// Send enqueues ev, waiting for space until ctx is done.
func (s *Sender) Send(ctx context.Context, ev domain.Event) error {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	if s.m.closed {
		return ErrClosed
	}
	select {
	case s.m.ch <- ev:
		return nil
	case <-s.m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues ev without blocking and fails with ErrFull when there is no
// space.
func (s *Sender) TrySend(ev domain.Event) error {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	if s.m.closed {
		return ErrClosed
	}
	select {
	case s.m.ch <- ev:
		return nil
	default:
		return ErrFull
	}
}

// Offer is the adapter enqueue path. It never blocks: under pressure it
// reports a warning to the sink, and when the free space falls under the
// drop threshold the event is discarded and ErrFull returned.
func (s *Sender) Offer(ev domain.Event) error {
	m := s.m
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	p := Pressure{Mailbox: m.name, Free: m.Free(), Capacity: cap(m.ch)}
	if p.Free < m.dropBelow() {
		m.sink.Drop(p, ev)
		return ErrFull
	}
	if p.Free*100 < p.Capacity*m.policy.WarnPercent {
		m.sink.Warn(p, ev)
	}

	select {
	case m.ch <- ev:
		return nil
	default:
		p.Free = 0
		m.sink.Drop(p, ev)
		return ErrFull
	}
}
