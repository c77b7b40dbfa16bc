// Package orderbook holds the per-symbol book state for each venue family and
// the merge rules used to keep it consistent with the venue's stream. Books
// are plain data with no I/O and no locking: the aggregator is their only
// writer.
package orderbook

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// View is the read-only accessor handed to strategies. A View is only valid
// for the duration of the callback it was passed to; use Snapshot to keep a
// copy.
type View interface {
	Origin() domain.Origin
	IsComplete() bool
	BestBid() (domain.PriceLevel, bool)
	BestAsk() (domain.PriceLevel, bool)
	KthBestBid(k int) (domain.PriceLevel, bool)
	KthBestAsk(k int) (domain.PriceLevel, bool)
	// Bids returns every bid level, highest price first.
	Bids() []domain.PriceLevel
	// Asks returns every ask level, lowest price first.
	Asks() []domain.PriceLevel
	Len() (bids, asks int)
	Snapshot() domain.BookSnapshot
}

func comparePrice(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// side is one ordered side of a book. Zero-size levels are never stored.
type side struct {
	levels *treemap.Map
	desc   bool
}

func newSide(desc bool) *side {
	return &side{levels: treemap.NewWith(comparePrice), desc: desc}
}

func (s *side) apply(lvl domain.PriceLevel) {
	if lvl.Size.Sign() <= 0 {
		s.levels.Remove(lvl.Price)
		return
	}
	s.levels.Put(lvl.Price, lvl.Size)
}

func (s *side) applyAll(levels []domain.PriceLevel) {
	for _, lvl := range levels {
		s.apply(lvl)
	}
}

func (s *side) replace(levels []domain.PriceLevel) {
	s.levels.Clear()
	s.applyAll(levels)
}

func (s *side) size() int { return s.levels.Size() }

// kth returns the k-th best level (0 is best).
func (s *side) kth(k int) (domain.PriceLevel, bool) {
	if k < 0 || k >= s.levels.Size() {
		return domain.PriceLevel{}, false
	}
	var out domain.PriceLevel
	found := false
	s.walk(func(i int, lvl domain.PriceLevel) bool {
		if i == k {
			out, found = lvl, true
			return false
		}
		return true
	})
	return out, found
}

// walk visits levels best-first until fn returns false.
func (s *side) walk(fn func(i int, lvl domain.PriceLevel) bool) {
	it := s.levels.Iterator()
	next := it.Next
	if s.desc {
		it.End()
		next = it.Prev
	}
	for i := 0; next(); i++ {
		lvl := domain.PriceLevel{
			Price: it.Key().(decimal.Decimal),
			Size:  it.Value().(decimal.Decimal),
		}
		if !fn(i, lvl) {
			return
		}
	}
}

func (s *side) list() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, s.levels.Size())
	s.walk(func(_ int, lvl domain.PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}

// book is the state shared by both venue variants.
type book struct {
	origin domain.Origin
	bids   *side
	asks   *side
}

func newBook(origin domain.Origin) book {
	return book{
		origin: origin,
		bids:   newSide(true),
		asks:   newSide(false),
	}
}

func (b *book) Origin() domain.Origin { return b.origin }

func (b *book) BestBid() (domain.PriceLevel, bool) { return b.bids.kth(0) }
func (b *book) BestAsk() (domain.PriceLevel, bool) { return b.asks.kth(0) }

func (b *book) KthBestBid(k int) (domain.PriceLevel, bool) { return b.bids.kth(k) }
func (b *book) KthBestAsk(k int) (domain.PriceLevel, bool) { return b.asks.kth(k) }

func (b *book) Bids() []domain.PriceLevel { return b.bids.list() }
func (b *book) Asks() []domain.PriceLevel { return b.asks.list() }

func (b *book) Len() (bids, asks int) { return b.bids.size(), b.asks.size() }

func (b *book) clear() {
	b.bids.replace(nil)
	b.asks.replace(nil)
}

// readOnly hides the mutating methods of a book behind View.
type readOnly struct {
	View
}

func (r readOnly) String() string { return Format(r.View, DefaultFormatLevels) }
