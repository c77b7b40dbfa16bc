package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "book:bitbank:btc_jpy", joinKey("", "book", "bitbank", "btc_jpy"))
	assert.Equal(t, "prod:lock:recorder", joinKey("prod", "lock", "recorder"))
	assert.Equal(t, "prod", joinKey("prod"))
}

func TestBookKeys(t *testing.T) {
	oc := NewOrderbookCache(&Client{prefix: "depthbot"}, time.Minute)
	k := oc.keys(domain.Origin{Venue: domain.VenueBybit, Symbol: "BTCUSDT"})
	assert.Equal(t, "depthbot:book:bybit:BTCUSDT:bids", k.bids)
	assert.Equal(t, "depthbot:book:bybit:BTCUSDT:ask:size", k.askSize)
	assert.Len(t, k.all(), 6)
}

func TestLevelsFrom(t *testing.T) {
	levels, err := levelsFrom([]string{"101.50", "101"}, map[string]string{"101.50": "0.25", "101": "3"})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, "101.5", levels[0].Price.String())
	assert.Equal(t, "0.25", levels[0].Size.String())

	_, err = levelsFrom([]string{"101"}, map[string]string{})
	assert.Error(t, err, "a price without a size is corrupt")
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	assert.Error(t, err)
}
