package feed

import (
	"fmt"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/platform/bybit"
)

// BybitFeed streams the order book and trades of the configured symbols.
type BybitFeed struct {
	*venueFeed
}

// NewBybitFeed creates a feed for symbols at the given book depth; an empty
// url selects the spot public stream.
func NewBybitFeed(url string, depth int, symbols []domain.Symbol, opts ...Option) *BybitFeed {
	f := &BybitFeed{venueFeed: newVenueFeed(domain.VenueBybit, symbols, DecodeBybit, opts)}
	f.dial = func() transport { return bybit.NewWSClient(url, f.logger) }
	f.subscribe = func(t transport) error {
		client, ok := t.(*bybit.WSClient)
		if !ok {
			return fmt.Errorf("feed: unexpected bybit transport %T", t)
		}
		topics := make([]string, 0, 2*len(symbols))
		for _, s := range symbols {
			topics = append(topics, bybit.Topics(s, depth)...)
		}
		return client.Subscribe(topics)
	}
	return f
}
