package strategy

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

// MaxMidPoints caps the history kept per origin, whatever the window.
const MaxMidPoints = 4096

// MidPoint records a single mid-price observation at a point in time.
type MidPoint struct {
	Mid  float64
	Time time.Time
}

// MidTracker keeps a sliding window of book mid prices per origin and warns
// when the latest mid falls more than dropThreshold below the window average.
// Its query methods are safe to call from other goroutines.
type MidTracker struct {
	window        time.Duration
	dropThreshold float64
	now           func() time.Time
	logger        *slog.Logger

	mu      sync.RWMutex
	history map[domain.Origin][]MidPoint
}

// NewMidTracker creates a tracker. dropThreshold is a fraction, e.g. 0.02
// for 2%; zero disables drop warnings.
func NewMidTracker(window time.Duration, dropThreshold float64, logger *slog.Logger) *MidTracker {
	return &MidTracker{
		window:        window,
		dropThreshold: dropThreshold,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "mid_tracker")),
		history:       make(map[domain.Origin][]MidPoint),
	}
}

func (mt *MidTracker) Name() string { return "mid_tracker" }

func (mt *MidTracker) OnTrades(context.Context, domain.Origin, []domain.Trade) error { return nil }

func (mt *MidTracker) OnDepth(_ context.Context, book orderbook.View) error {
	mid, ok := orderbook.Mid(book)
	if !ok {
		return nil
	}
	origin := book.Origin()
	mt.Track(origin, mid.InexactFloat64(), mt.now())
	if mt.dropThreshold > 0 && mt.DetectDrop(origin, mt.dropThreshold) {
		mt.logger.Warn("mid price dropped below window average",
			slog.String("venue", origin.Venue.String()),
			slog.String("symbol", origin.Symbol.String()),
			slog.Float64("mid", mid.InexactFloat64()),
			slog.Float64("average", mt.Average(origin)),
		)
	}
	return nil
}

// Track records a new mid and trims points outside the window.
func (mt *MidTracker) Track(origin domain.Origin, mid float64, ts time.Time) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.history[origin] = append(mt.history[origin], MidPoint{Mid: mid, Time: ts})
	mt.trim(origin, ts)
	if pts := mt.history[origin]; len(pts) > MaxMidPoints {
		mt.history[origin] = append([]MidPoint(nil), pts[len(pts)-MaxMidPoints:]...)
	}
}

// History returns a copy of the window for origin.
func (mt *MidTracker) History(origin domain.Origin) []MidPoint {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	src := mt.history[origin]
	if len(src) == 0 {
		return nil
	}
	out := make([]MidPoint, len(src))
	copy(out, src)
	return out
}

// Average returns the mean mid in the window, or 0 with no points.
func (mt *MidTracker) Average(origin domain.Origin) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[origin]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Mid
	}
	return sum / float64(len(pts))
}

// Volatility returns the population standard deviation of the window, or 0
// with fewer than two points.
func (mt *MidTracker) Volatility(origin domain.Origin) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[origin]
	if len(pts) < 2 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Mid
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Mid - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// DetectDrop reports whether the latest mid is at least threshold below the
// average of the earlier points in the window.
func (mt *MidTracker) DetectDrop(origin domain.Origin, threshold float64) bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[origin]
	if len(pts) < 2 {
		return false
	}
	var sum float64
	n := len(pts) - 1
	for i := 0; i < n; i++ {
		sum += pts[i].Mid
	}
	avg := sum / float64(n)
	if avg == 0 {
		return false
	}
	return (avg-pts[n].Mid)/avg >= threshold
}

// trim drops points older than the window; a non-positive window keeps
// everything up to MaxMidPoints. The caller must hold mt.mu.
func (mt *MidTracker) trim(origin domain.Origin, now time.Time) {
	if mt.window <= 0 {
		return
	}
	cutoff := now.Add(-mt.window)
	pts := mt.history[origin]
	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		mt.history[origin] = pts[i:]
	}
}
