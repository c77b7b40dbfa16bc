package mailbox

import (
	"log/slog"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// Pressure describes the mailbox state at the moment an event was offered.
type Pressure struct {
	Mailbox  string
	Free     int
	Capacity int
}

// Sink receives backpressure reports from Offer. Implementations must not
// block: they run on the network read path.
type Sink interface {
	Warn(p Pressure, ev domain.Event)
	Drop(p Pressure, ev domain.Event)
}

// NopSink discards every report.
type NopSink struct{}

func (NopSink) Warn(Pressure, domain.Event) {}
func (NopSink) Drop(Pressure, domain.Event) {}

// LogSink reports through slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging under the "mailbox" component.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "mailbox"))}
}

func (s *LogSink) Warn(p Pressure, ev domain.Event) {
	s.logger.Warn("mailbox nearly full",
		slog.String("mailbox", p.Mailbox),
		slog.Int("free", p.Free),
		slog.Int("capacity", p.Capacity),
		slog.String("venue", ev.Origin().Venue.String()),
	)
}

func (s *LogSink) Drop(p Pressure, ev domain.Event) {
	s.logger.Warn("mailbox full, dropping event",
		slog.String("mailbox", p.Mailbox),
		slog.Int("free", p.Free),
		slog.Int("capacity", p.Capacity),
		slog.String("venue", ev.Origin().Venue.String()),
		slog.String("symbol", ev.Origin().Symbol.String()),
		slog.String("kind", string(ev.Kind())),
	)
}

// MultiSink fans every report out to each sink in order.
type MultiSink []Sink

func (ms MultiSink) Warn(p Pressure, ev domain.Event) {
	for _, s := range ms {
		s.Warn(p, ev)
	}
}

func (ms MultiSink) Drop(p Pressure, ev domain.Event) {
	for _, s := range ms {
		s.Drop(p, ev)
	}
}
