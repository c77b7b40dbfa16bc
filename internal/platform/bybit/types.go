package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// Topic prefixes; the symbol is appended, e.g. "publicTrade.BTCUSDT".
const (
	TopicOrderbook = "orderbook"
	TopicTrade     = "publicTrade"
)

// DefaultDepth is the order-book depth subscribed to.
const DefaultDepth = 50

// Topics returns the order-book and trade topics for symbol.
func Topics(symbol domain.Symbol, depth int) []string {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return []string{
		fmt.Sprintf("%s.%d.%s", TopicOrderbook, depth, symbol),
		fmt.Sprintf("%s.%s", TopicTrade, symbol),
	}
}

// SplitTopic returns the channel and symbol of a topic such as
// "orderbook.50.BTCUSDT".
func SplitTopic(topic string) (channel string, symbol domain.Symbol, ok bool) {
	i := strings.IndexByte(topic, '.')
	j := strings.LastIndexByte(topic, '.')
	if i < 0 || j == len(topic)-1 {
		return "", "", false
	}
	return topic[:i], domain.Symbol(topic[j+1:]), true
}

// --------------------------------------------------------------------------
// Wire messages
// --------------------------------------------------------------------------

// Command is an outbound request.
type Command struct {
	ReqID string   `json:"req_id,omitempty"`
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
}

// Envelope holds the fields shared by every inbound message. Topic is set on
// data pushes; Op on command responses.
type Envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	ConnID  string          `json:"conn_id"`
}

// OrderbookData is the data of an orderbook push.
type OrderbookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID int64      `json:"u"`
	CrossSeq int64      `json:"seq"`
}

// TradeData is one element of a publicTrade push.
type TradeData struct {
	Timestamp  int64           `json:"T"`
	Symbol     string          `json:"s"`
	Side       string          `json:"S"`
	Size       decimal.Decimal `json:"v"`
	Price      decimal.Decimal `json:"p"`
	TradeID    string          `json:"i"`
	BlockTrade bool            `json:"BT"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// OrderbookToDomain converts an orderbook push. An update id of 1 is a
// snapshot sent after a service restart and is treated as one regardless of
// the declared type.
func OrderbookToDomain(env *Envelope, origin domain.Origin) (domain.DepthDelta, error) {
	var data OrderbookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return domain.DepthDelta{}, fmt.Errorf("%w: orderbook data: %v", domain.ErrMalformed, err)
	}
	asks, err := domain.ParseLevels(data.Asks)
	if err != nil {
		return domain.DepthDelta{}, fmt.Errorf("asks: %w", err)
	}
	bids, err := domain.ParseLevels(data.Bids)
	if err != nil {
		return domain.DepthDelta{}, fmt.Errorf("bids: %w", err)
	}
	kind := domain.UpdateKind(env.Type)
	if data.UpdateID == 1 {
		kind = domain.UpdateSnapshot
	}
	return domain.DepthDelta{
		From:      origin,
		Type:      kind,
		Asks:      asks,
		Bids:      bids,
		UpdateID:  data.UpdateID,
		CrossSeq:  data.CrossSeq,
		Timestamp: time.UnixMilli(env.TS),
	}, nil
}

// TradesToDomain converts a publicTrade push.
func TradesToDomain(env *Envelope, origin domain.Origin) (domain.TradeBatch, error) {
	var data []TradeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return domain.TradeBatch{}, fmt.Errorf("%w: trade data: %v", domain.ErrMalformed, err)
	}
	trades := make([]domain.Trade, 0, len(data))
	for _, d := range data {
		var side domain.Side
		switch d.Side {
		case "Buy":
			side = domain.SideBuy
		case "Sell":
			side = domain.SideSell
		default:
			return domain.TradeBatch{}, fmt.Errorf("%w: side %q", domain.ErrMalformed, d.Side)
		}
		trades = append(trades, domain.Trade{
			ID:         d.TradeID,
			Price:      d.Price,
			Amount:     d.Size,
			Side:       side,
			ExecutedAt: time.UnixMilli(d.Timestamp),
			BlockTrade: d.BlockTrade,
		})
	}
	return domain.TradeBatch{From: origin, Trades: trades}, nil
}

func nextReqID(n int64) string { return "depthbot-" + strconv.FormatInt(n, 10) }
