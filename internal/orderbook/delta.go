package orderbook

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// DeltaPolicy decides what a snapshot+delta book does with a delta that
// arrives before its first snapshot.
type DeltaPolicy string

const (
	// DeltaIgnore drops pre-snapshot deltas; the book stays incomplete.
	DeltaIgnore DeltaPolicy = "ignore"
	// DeltaBestEffort applies pre-snapshot deltas to the empty book and
	// treats the partial result as complete.
	DeltaBestEffort DeltaPolicy = "best_effort"
)

// ParseDeltaPolicy converts a configuration string into a DeltaPolicy. The
// empty string selects DeltaIgnore.
func ParseDeltaPolicy(s string) (DeltaPolicy, error) {
	switch p := DeltaPolicy(s); p {
	case "":
		return DeltaIgnore, nil
	case DeltaIgnore, DeltaBestEffort:
		return p, nil
	default:
		return "", fmt.Errorf("orderbook: unknown delta policy %q", s)
	}
}

// DeltaBook is the book for a snapshot+delta venue. A snapshot replaces the
// whole book; a delta mutates individual levels in place.
type DeltaBook struct {
	book

	policy       DeltaPolicy
	hasSnapshot  bool
	complete     bool
	lastUpdateID int64
	lastTS       time.Time
	logger       *slog.Logger
}

// NewDeltaBook creates an empty book. A nil logger discards warnings.
func NewDeltaBook(origin domain.Origin, policy DeltaPolicy, logger *slog.Logger) *DeltaBook {
	if policy == "" {
		policy = DeltaIgnore
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DeltaBook{
		book:   newBook(origin),
		policy: policy,
		logger: logger,
	}
}

// Apply merges update according to its Type. It reports whether the book was
// mutated. Unknown kinds are rejected with domain.ErrUnknownUpdateKind and a
// warning, leaving the book untouched.
func (b *DeltaBook) Apply(update domain.DepthDelta) (bool, error) {
	switch update.Type {
	case domain.UpdateSnapshot:
		// Absence from a snapshot means the level does not exist.
		b.asks.replace(update.Asks)
		b.bids.replace(update.Bids)
		b.hasSnapshot = true
		b.complete = true
	case domain.UpdateDelta:
		if !b.hasSnapshot && b.policy == DeltaIgnore {
			return false, nil
		}
		b.asks.applyAll(update.Asks)
		b.bids.applyAll(update.Bids)
		b.complete = true
	default:
		b.logger.Warn("rejecting depth update with unknown kind",
			slog.String("symbol", b.origin.Symbol.String()),
			slog.String("kind", string(update.Type)),
		)
		return false, fmt.Errorf("orderbook: %w: %q", domain.ErrUnknownUpdateKind, update.Type)
	}
	b.lastUpdateID = update.UpdateID
	if update.Timestamp.After(b.lastTS) {
		b.lastTS = update.Timestamp
	}
	return true, nil
}

// IsComplete reports whether the book may be shown to a strategy: after the
// first snapshot, or after any applied delta under DeltaBestEffort.
func (b *DeltaBook) IsComplete() bool { return b.complete }

// Policy returns the pre-snapshot delta policy.
func (b *DeltaBook) Policy() DeltaPolicy { return b.policy }

// LastUpdateID is the venue update id of the last applied message.
func (b *DeltaBook) LastUpdateID() int64 { return b.lastUpdateID }

// Reset discards all state.
func (b *DeltaBook) Reset() {
	b.clear()
	b.hasSnapshot = false
	b.complete = false
	b.lastUpdateID = 0
	b.lastTS = time.Time{}
}

// Snapshot returns a detached copy of the current levels.
func (b *DeltaBook) Snapshot() domain.BookSnapshot { return b.snapshot(b.lastTS) }

// View returns a read-only view of the book.
func (b *DeltaBook) View() View { return readOnly{b} }

func (b *DeltaBook) String() string { return Format(b, DefaultFormatLevels) }
