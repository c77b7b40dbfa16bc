// Package metrics exposes runtime counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
)

const namespace = "depthbot"

// Metrics is the collector set shared by every component.
type Metrics struct {
	registry *prometheus.Registry

	MailboxWarnings *prometheus.CounterVec
	MailboxDrops    *prometheus.CounterVec
	MailboxFree     *prometheus.GaugeVec
	EventsHandled   *prometheus.CounterVec
	BookLevels      *prometheus.GaugeVec
	FrameErrors     *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MailboxWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "pressure_warnings_total",
			Help:      "Offers made while the mailbox was under 30% free.",
		}, []string{"mailbox", "venue"}),
		MailboxDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "dropped_events_total",
			Help:      "Events discarded by the adapter drop policy.",
		}, []string{"mailbox", "venue", "kind"}),
		MailboxFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "free_slots",
			Help:      "Free slots observed at the last pressure report.",
		}, []string{"mailbox"}),
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "events_total",
			Help:      "Events consumed by the aggregator.",
		}, []string{"venue", "kind"}),
		BookLevels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "book_levels",
			Help:      "Resting levels per book side.",
		}, []string{"venue", "symbol", "side"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "frame_errors_total",
			Help:      "Frames that could not be decoded or routed.",
		}, []string{"venue"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "WebSocket connection attempts after the first.",
		}, []string{"venue"}),
	}
	m.registry.MustRegister(
		m.MailboxWarnings,
		m.MailboxDrops,
		m.MailboxFree,
		m.EventsHandled,
		m.BookLevels,
		m.FrameErrors,
		m.Reconnects,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one consumed event. A nil receiver is a no-op so
// callers need not guard optional metrics.
func (m *Metrics) ObserveEvent(ev domain.Event) {
	if m == nil {
		return
	}
	m.EventsHandled.WithLabelValues(ev.Origin().Venue.String(), string(ev.Kind())).Inc()
}

// ObserveBook records the level counts of a book after an update.
func (m *Metrics) ObserveBook(origin domain.Origin, bids, asks int) {
	if m == nil {
		return
	}
	m.BookLevels.WithLabelValues(origin.Venue.String(), origin.Symbol.String(), "bid").Set(float64(bids))
	m.BookLevels.WithLabelValues(origin.Venue.String(), origin.Symbol.String(), "ask").Set(float64(asks))
}

// FrameError counts an undecodable frame.
func (m *Metrics) FrameError(v domain.Venue) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(v.String()).Inc()
}

// Reconnect counts a reconnection attempt.
func (m *Metrics) Reconnect(v domain.Venue) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(v.String()).Inc()
}

// Sink adapts Metrics to mailbox.Sink.
type Sink struct {
	m *Metrics
}

// MailboxSink returns a mailbox.Sink that counts warnings and drops.
func (m *Metrics) MailboxSink() *Sink { return &Sink{m: m} }

var _ mailbox.Sink = (*Sink)(nil)

func (s *Sink) Warn(p mailbox.Pressure, ev domain.Event) {
	s.m.MailboxWarnings.WithLabelValues(p.Mailbox, ev.Origin().Venue.String()).Inc()
	s.m.MailboxFree.WithLabelValues(p.Mailbox).Set(float64(p.Free))
}

func (s *Sink) Drop(p mailbox.Pressure, ev domain.Event) {
	s.m.MailboxDrops.WithLabelValues(p.Mailbox, ev.Origin().Venue.String(), string(ev.Kind())).Inc()
	s.m.MailboxFree.WithLabelValues(p.Mailbox).Set(float64(p.Free))
}

// Serve runs an HTTP server exposing /metrics until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("metrics: serve: %w", err)
	}
}
