package orderbook

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

var btcUSDT = domain.Origin{Venue: domain.VenueBybit, Symbol: "BTCUSDT"}

func TestDeltaBookSnapshotReplaces(t *testing.T) {
	b := NewDeltaBook(btcUSDT, DeltaIgnore, nil)

	_, err := b.Apply(domain.DepthDelta{
		Type: domain.UpdateSnapshot,
		Bids: []domain.PriceLevel{lv(100, 1), lv(99, 2)},
		Asks: []domain.PriceLevel{lv(101, 1)},
	})
	require.NoError(t, err)

	applied, err := b.Apply(domain.DepthDelta{
		Type: domain.UpdateSnapshot,
		Bids: []domain.PriceLevel{lv(98, 5)},
		Asks: []domain.PriceLevel{lv(102, 1)},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// 100 and 99 were present before the snapshot and absent from it.
	requireLevels(t, []domain.PriceLevel{lv(98, 5)}, b.Bids())
	requireLevels(t, []domain.PriceLevel{lv(102, 1)}, b.Asks())
}

func TestDeltaBookDeltaMutatesInPlace(t *testing.T) {
	b := NewDeltaBook(btcUSDT, DeltaIgnore, nil)
	_, err := b.Apply(domain.DepthDelta{
		Type: domain.UpdateSnapshot,
		Bids: []domain.PriceLevel{lv(100, 1), lv(99, 2)},
	})
	require.NoError(t, err)

	_, err = b.Apply(domain.DepthDelta{
		Type: domain.UpdateDelta,
		Bids: []domain.PriceLevel{lv(99, 0), lv(100, 4), lv(97, 1), lv(50, 0)},
	})
	require.NoError(t, err)

	requireLevels(t, []domain.PriceLevel{lv(100, 4), lv(97, 1)}, b.Bids())
}

func TestDeltaBookPreSnapshotPolicy(t *testing.T) {
	delta := domain.DepthDelta{Type: domain.UpdateDelta, Asks: []domain.PriceLevel{lv(101, 1)}}

	t.Run("ignore", func(t *testing.T) {
		b := NewDeltaBook(btcUSDT, DeltaIgnore, nil)
		applied, err := b.Apply(delta)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.False(t, b.IsComplete())
		assert.Empty(t, b.Asks())
	})

	t.Run("best effort", func(t *testing.T) {
		b := NewDeltaBook(btcUSDT, DeltaBestEffort, nil)
		applied, err := b.Apply(delta)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.True(t, b.IsComplete())
		requireLevels(t, []domain.PriceLevel{lv(101, 1)}, b.Asks())
	})
}

func TestDeltaBookRejectsUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	b := NewDeltaBook(btcUSDT, DeltaIgnore, logger)
	_, err := b.Apply(domain.DepthDelta{Type: domain.UpdateSnapshot, Bids: []domain.PriceLevel{lv(100, 1)}})
	require.NoError(t, err)

	applied, err := b.Apply(domain.DepthDelta{Type: "partial", Bids: []domain.PriceLevel{lv(100, 0)}})
	assert.False(t, applied)
	assert.ErrorIs(t, err, domain.ErrUnknownUpdateKind)
	assert.Contains(t, buf.String(), "level=WARN")
	requireLevels(t, []domain.PriceLevel{lv(100, 1)}, b.Bids())
}

func TestParseDeltaPolicy(t *testing.T) {
	p, err := ParseDeltaPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DeltaIgnore, p)

	p, err = ParseDeltaPolicy("best_effort")
	require.NoError(t, err)
	assert.Equal(t, DeltaBestEffort, p)

	_, err = ParseDeltaPolicy("yolo")
	assert.Error(t, err)
}

func TestDepthHelpers(t *testing.T) {
	b := NewDeltaBook(btcUSDT, DeltaIgnore, nil)
	_, err := b.Apply(domain.DepthDelta{
		Type: domain.UpdateSnapshot,
		Bids: []domain.PriceLevel{lv(100, 1), lv(99, 2), lv(98, 3)},
		Asks: []domain.PriceLevel{lv(101, 0.5), lv(102, 1), lv(104, 2)},
	})
	require.NoError(t, err)
	v := b.View()

	spread, ok := Spread(v)
	require.True(t, ok)
	assert.True(t, spread.Equal(decimal.NewFromInt(1)))

	mid, ok := Mid(v)
	require.True(t, ok)
	assert.True(t, mid.Equal(decimal.RequireFromString("100.5")))

	imb, ok := Imbalance(v)
	require.True(t, ok)
	assert.True(t, imb.Equal(decimal.RequireFromString("0.5")))

	p, ok := RDepthAskPrice(v, decimal.RequireFromString("1.5"))
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(102)))

	p, ok = RDepthBidPrice(v, decimal.NewFromInt(4))
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(98)))

	_, ok = RDepthBidPrice(v, decimal.NewFromInt(100))
	assert.False(t, ok)

	// 101*0.5 + 102*1 = 152.5
	p, ok = SDepthAskPrice(v, decimal.NewFromInt(150))
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(102)))

	p, ok = SDepthBidPrice(v, decimal.NewFromInt(100))
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(100)))

	second, ok := v.KthBestAsk(1)
	require.True(t, ok)
	assert.True(t, second.Price.Equal(decimal.NewFromInt(102)))
	_, ok = v.KthBestAsk(3)
	assert.False(t, ok)

	board := Format(v, 2)
	assert.Contains(t, board, "asks\nmid spread: 1.0000, second-best spread: 3.0000\nbids\n")
	assert.Less(t, bytes.Index([]byte(board), []byte("102\t")), bytes.Index([]byte(board), []byte("101\t")))
	assert.NotContains(t, board, "104\t")
}

func TestHelpersOnEmptyBook(t *testing.T) {
	v := NewDeltaBook(btcUSDT, DeltaIgnore, nil).View()
	_, ok := Spread(v)
	assert.False(t, ok)
	_, ok = v.BestBid()
	assert.False(t, ok)
	assert.Contains(t, Format(v, 0), "asks\nmid \nbids\n")
}
