package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/metrics"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

const (
	// connectTimeout bounds the dial and handshake of one connection attempt.
	connectTimeout = 15 * time.Second

	initialBackoff = 2 * time.Second
	maxBackoff     = 60 * time.Second
)

// transport is one connection to a venue stream.
type transport interface {
	OnFrame(platform.FrameHandler)
	Connect(ctx context.Context) error
	Disconnected() <-chan error
	Close() error
}

// Option configures a venue feed.
type Option func(*venueFeed)

// WithTap calls fn with every raw frame before it is decoded.
func WithTap(fn platform.FrameHandler) Option {
	return func(f *venueFeed) { f.taps = append(f.taps, fn) }
}

// WithMetrics counts reconnects and undecodable frames.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *venueFeed) { f.metrics = m }
}

// WithLogger sets the feed's logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *venueFeed) { f.logger = l }
}

// venueFeed keeps one venue connection alive and pushes every decoded event
// into the runtime through a mailbox sender. Each connection is a fresh
// transport; after a drop the feed dials again with exponential backoff.
type venueFeed struct {
	venue     domain.Venue
	symbols   []domain.Symbol
	dial      func() transport
	subscribe func(transport) error
	decode    Decoder
	taps      []platform.FrameHandler
	metrics   *metrics.Metrics
	logger    *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newVenueFeed(venue domain.Venue, symbols []domain.Symbol, decode Decoder, opts []Option) *venueFeed {
	f := &venueFeed{
		venue:          venue,
		symbols:        symbols,
		decode:         decode,
		logger:         slog.Default(),
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("component", "feed"), slog.String("venue", venue.String()))
	return f
}

// Venue reports the venue this feed serves.
func (f *venueFeed) Venue() domain.Venue { return f.venue }

// Run connects, subscribes and forwards events into out until ctx is
// cancelled or the mailbox is closed. Connection errors are never returned:
// the feed reconnects instead.
func (f *venueFeed) Run(ctx context.Context, out *mailbox.Sender) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := f.initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			f.metrics.Reconnect(f.venue)
		}
		established, err := f.runConnection(ctx, out)
		if ctx.Err() != nil || errors.Is(err, mailbox.ErrClosed) {
			return nil
		}
		if established {
			delay = f.initialBackoff
		}
		f.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, f.maxBackoff)
	}
}

// runConnection owns one transport from dial to drop. established reports
// whether the subscription went through, which resets the backoff.
func (f *venueFeed) runConnection(ctx context.Context, out *mailbox.Sender) (established bool, err error) {
	client := f.dial()
	defer client.Close()

	receiverGone := make(chan struct{})
	var goneOnce sync.Once
	client.OnFrame(func(fr platform.Frame) {
		if f.handleFrame(fr, out) {
			goneOnce.Do(func() { close(receiverGone) })
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = client.Connect(connCtx)
	cancel()
	if err != nil {
		return false, err
	}
	if err := f.subscribe(client); err != nil {
		return false, err
	}
	f.logger.Info("stream subscribed", slog.Int("symbols", len(f.symbols)))

	select {
	case <-ctx.Done():
		return true, nil
	case <-receiverGone:
		return true, mailbox.ErrClosed
	case err := <-client.Disconnected():
		return true, err
	}
}

// handleFrame taps, decodes and offers one frame. It reports true once the
// mailbox is closed.
func (f *venueFeed) handleFrame(fr platform.Frame, out *mailbox.Sender) bool {
	for _, tap := range f.taps {
		tap(fr)
	}
	ev, err := f.decode(fr)
	if err != nil {
		f.metrics.FrameError(f.venue)
		f.logger.Error("failed to decode frame",
			slog.String("key", fr.Key),
			slog.String("error", err.Error()),
		)
		return false
	}
	// A full mailbox has already been reported to the sink by Offer.
	return errors.Is(out.Offer(ev), mailbox.ErrClosed)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
