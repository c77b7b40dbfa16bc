package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/metrics"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

// DefaultRelayChannel is the pub/sub channel raw frames are relayed on.
const DefaultRelayChannel = "depthbot:frames"

// RedisFeed subscribes to a channel of relayed frames and injects the decoded
// events into the runtime. It lets one process own the venue connections
// while others consume the same stream.
type RedisFeed struct {
	bus     domain.SignalBus
	channel string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRedisFeed creates a RedisFeed. m may be nil.
func NewRedisFeed(bus domain.SignalBus, channel string, m *metrics.Metrics, logger *slog.Logger) *RedisFeed {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisFeed{
		bus:     bus,
		channel: channel,
		metrics: m,
		logger:  logger.With(slog.String("component", "redis_feed")),
	}
}

// Run forwards every message until ctx is cancelled, the subscription ends or
// the mailbox closes.
func (f *RedisFeed) Run(ctx context.Context, out *mailbox.Sender) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("redis feed started", slog.String("channel", f.channel))
	defer f.logger.Info("redis feed stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(data, out); errors.Is(err, mailbox.ErrClosed) {
				return nil
			} else if err != nil && !errors.Is(err, mailbox.ErrFull) {
				f.logger.Error("failed to decode relayed frame",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *RedisFeed) handleMessage(data []byte, out *mailbox.Sender) error {
	fr, err := platform.DecodeFrame(data)
	if err != nil {
		return err
	}
	ev, err := Decode(fr)
	if err != nil {
		f.metrics.FrameError(fr.Venue)
		return err
	}
	return out.Offer(ev)
}

// Relay publishes raw frames to a SignalBus. Tap is safe to install on a
// transport: it never blocks, dropping frames when the publisher falls
// behind.
type Relay struct {
	bus     domain.SignalBus
	channel string
	frames  chan platform.Frame
	logger  *slog.Logger
}

// NewRelay creates a Relay buffering up to buffer frames.
func NewRelay(bus domain.SignalBus, channel string, buffer int, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if buffer <= 0 {
		buffer = mailbox.DefaultCapacity
	}
	return &Relay{
		bus:     bus,
		channel: channel,
		frames:  make(chan platform.Frame, buffer),
		logger:  logger.With(slog.String("component", "frame_relay")),
	}
}

// Tap queues a frame for publishing.
func (r *Relay) Tap(fr platform.Frame) {
	select {
	case r.frames <- fr:
	default:
		r.logger.Warn("relay buffer full, dropping frame", slog.String("key", fr.Key))
	}
}

// Run publishes queued frames until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fr := <-r.frames:
			data, err := platform.EncodeFrame(fr)
			if err != nil {
				r.logger.Error("encode frame", slog.String("error", err.Error()))
				continue
			}
			if err := r.bus.Publish(ctx, r.channel, data); err != nil && ctx.Err() == nil {
				r.logger.Warn("publish frame", slog.String("error", err.Error()))
			}
		}
	}
}
