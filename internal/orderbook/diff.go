package orderbook

import (
	"sort"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// DefaultMaxBufferedDiffs bounds the diff buffer kept for replay after the
// next snapshot.
const DefaultMaxBufferedDiffs = 1024

// DiffBook is the book for a diff-based venue. Diffs are applied as they
// arrive and also buffered by sequence id; a whole snapshot replaces every
// level and then replays the buffered diffs that are newer than it. The book
// is safe to hand to a strategy only once IsComplete reports true.
type DiffBook struct {
	book

	pending     []domain.DepthDiff // sorted by Sequence
	maxPending  int
	complete    bool
	snapshotSeq int64
	lastTS      time.Time
}

// NewDiffBook creates an empty, incomplete book. maxBuffered <= 0 selects
// DefaultMaxBufferedDiffs.
func NewDiffBook(origin domain.Origin, maxBuffered int) *DiffBook {
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBufferedDiffs
	}
	return &DiffBook{
		book:       newBook(origin),
		maxPending: maxBuffered,
	}
}

// ApplyDiff merges an incremental update. A zero size removes the level; any
// other size inserts or overwrites it. It never fails and keeps buffering
// while the book is incomplete. Once complete, a sequenced diff that is not
// newer than the last snapshot is stale and ignored.
func (b *DiffBook) ApplyDiff(diff domain.DepthDiff) {
	if b.complete && diff.Sequence != 0 && diff.Sequence <= b.snapshotSeq {
		return
	}
	b.asks.applyAll(diff.Asks)
	b.bids.applyAll(diff.Bids)
	if diff.Timestamp.After(b.lastTS) {
		b.lastTS = diff.Timestamp
	}
	b.buffer(diff)
}

// ApplySnapshot replaces all levels with the snapshot's, replays buffered
// diffs whose sequence is newer than the snapshot, and marks the book
// complete. Zero-size snapshot entries are skipped.
func (b *DiffBook) ApplySnapshot(whole domain.DepthWhole) {
	keep := b.pending[:0]
	for _, d := range b.pending {
		if d.Sequence > whole.Sequence {
			keep = append(keep, d)
		}
	}
	clear(b.pending[len(keep):])
	b.pending = keep

	b.asks.replace(whole.Asks)
	b.bids.replace(whole.Bids)
	for _, d := range b.pending {
		b.asks.applyAll(d.Asks)
		b.bids.applyAll(d.Bids)
	}

	if whole.Timestamp.After(b.lastTS) {
		b.lastTS = whole.Timestamp
	}
	b.snapshotSeq = whole.Sequence
	b.complete = true
}

// IsComplete reports whether at least one snapshot has been applied since
// construction or the last Reset.
func (b *DiffBook) IsComplete() bool { return b.complete }

// LastTimestamp is the newest venue timestamp seen on a diff or snapshot.
func (b *DiffBook) LastTimestamp() time.Time { return b.lastTS }

// Buffered returns the number of diffs held for replay.
func (b *DiffBook) Buffered() int { return len(b.pending) }

// Reset discards all state; the book is incomplete until the next snapshot.
func (b *DiffBook) Reset() {
	b.clear()
	b.pending = nil
	b.complete = false
	b.snapshotSeq = 0
	b.lastTS = time.Time{}
}

// Snapshot returns a detached copy of the current levels.
func (b *DiffBook) Snapshot() domain.BookSnapshot { return b.snapshot(b.lastTS) }

// View returns a read-only view of the book.
func (b *DiffBook) View() View { return readOnly{b} }

func (b *DiffBook) String() string { return Format(b, DefaultFormatLevels) }

func (b *DiffBook) buffer(diff domain.DepthDiff) {
	i := sort.Search(len(b.pending), func(i int) bool {
		return b.pending[i].Sequence >= diff.Sequence
	})
	switch {
	case i < len(b.pending) && b.pending[i].Sequence == diff.Sequence:
		b.pending[i] = diff
	case i == len(b.pending):
		b.pending = append(b.pending, diff)
	default:
		b.pending = append(b.pending, domain.DepthDiff{})
		copy(b.pending[i+1:], b.pending[i:])
		b.pending[i] = diff
	}
	if over := len(b.pending) - b.maxPending; over > 0 {
		clear(b.pending[:over])
		b.pending = b.pending[over:]
	}
}
