package orderbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// DefaultFormatLevels is the number of levels per side rendered by String.
const DefaultFormatLevels = 20

func (b *book) snapshot(ts time.Time) domain.BookSnapshot {
	return domain.BookSnapshot{
		Origin:    b.origin,
		Bids:      b.bids.list(),
		Asks:      b.asks.list(),
		Timestamp: ts,
	}
}

// Spread returns best ask minus best bid.
func Spread(v View) (decimal.Decimal, bool) {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Mid returns the midpoint of the best bid and ask.
func Mid(v View) (decimal.Decimal, bool) {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Imbalance returns best bid size minus best ask size.
func Imbalance(v View) (decimal.Decimal, bool) {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Size.Sub(ask.Size), true
}

// RDepthAskPrice is the lowest ask price p such that the cumulative size from
// the best ask up to p reaches r: the worst price a market buy of size r
// would fill at.
func RDepthAskPrice(v View, r decimal.Decimal) (decimal.Decimal, bool) {
	return cumulative(v.Asks(), r, sizeWeight)
}

// RDepthBidPrice is the highest bid price p such that the cumulative size
// from the best bid down to p reaches r.
func RDepthBidPrice(v View, r decimal.Decimal) (decimal.Decimal, bool) {
	return cumulative(v.Bids(), r, sizeWeight)
}

// SDepthAskPrice is like RDepthAskPrice with depth measured in quote notional
// (price * size) instead of base size.
func SDepthAskPrice(v View, s decimal.Decimal) (decimal.Decimal, bool) {
	return cumulative(v.Asks(), s, notionalWeight)
}

// SDepthBidPrice is like RDepthBidPrice with depth measured in quote notional.
func SDepthBidPrice(v View, s decimal.Decimal) (decimal.Decimal, bool) {
	return cumulative(v.Bids(), s, notionalWeight)
}

func sizeWeight(l domain.PriceLevel) decimal.Decimal     { return l.Size }
func notionalWeight(l domain.PriceLevel) decimal.Decimal { return l.Price.Mul(l.Size) }

func cumulative(levels []domain.PriceLevel, target decimal.Decimal, weight func(domain.PriceLevel) decimal.Decimal) (decimal.Decimal, bool) {
	sum := decimal.Zero
	for _, lvl := range levels {
		sum = sum.Add(weight(lvl))
		if sum.GreaterThanOrEqual(target) {
			return lvl.Price, true
		}
	}
	return decimal.Zero, false
}

// Format renders the top k levels of each side as a board: asks from worst
// to best, the spread line, then bids from best to worst.
func Format(v View, k int) string {
	if k <= 0 {
		k = DefaultFormatLevels
	}
	var sb strings.Builder
	sb.WriteByte('\n')

	asks := v.Asks()
	if len(asks) > k {
		asks = asks[:k]
	}
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%s\t%s\n", asks[i].Price, asks[i].Size.StringFixed(4))
	}
	sb.WriteString("asks\nmid ")
	if spread, ok := Spread(v); ok {
		fmt.Fprintf(&sb, "spread: %s", spread.StringFixed(4))
	}
	ask2, okAsk := v.KthBestAsk(1)
	bid2, okBid := v.KthBestBid(1)
	if okAsk && okBid {
		fmt.Fprintf(&sb, ", second-best spread: %s", ask2.Price.Sub(bid2.Price).StringFixed(4))
	}
	sb.WriteString("\nbids\n")

	bids := v.Bids()
	if len(bids) > k {
		bids = bids[:k]
	}
	for _, lvl := range bids {
		fmt.Fprintf(&sb, "%s\t%s\n", lvl.Price, lvl.Size.StringFixed(4))
	}
	return sb.String()
}
