package feed

import (
	"fmt"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/platform/bitbank"
)

// BitbankFeed streams every public room of the configured pairs.
type BitbankFeed struct {
	*venueFeed
}

// NewBitbankFeed creates a feed for pairs; an empty url selects the public
// stream.
func NewBitbankFeed(url string, pairs []domain.Symbol, opts ...Option) *BitbankFeed {
	f := &BitbankFeed{venueFeed: newVenueFeed(domain.VenueBitbank, pairs, DecodeBitbank, opts)}
	f.dial = func() transport { return bitbank.NewWSClient(url, f.logger) }
	f.subscribe = func(t transport) error {
		client, ok := t.(*bitbank.WSClient)
		if !ok {
			return fmt.Errorf("feed: unexpected bitbank transport %T", t)
		}
		for _, pair := range pairs {
			if err := client.JoinRooms(bitbank.Rooms(pair)); err != nil {
				return err
			}
		}
		return nil
	}
	return f
}
