package bitbank

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// Room name prefixes; the pair is appended, e.g. "depth_diff_btc_jpy".
const (
	RoomTicker       = "ticker_"
	RoomTransactions = "transactions_"
	RoomDepthDiff    = "depth_diff_"
	RoomDepthWhole   = "depth_whole_"
	RoomCircuitBreak = "circuit_break_info_"
)

// Rooms returns every public room for pair.
func Rooms(pair domain.Symbol) []string {
	p := pair.String()
	return []string{
		RoomTicker + p,
		RoomTransactions + p,
		RoomDepthDiff + p,
		RoomDepthWhole + p,
		RoomCircuitBreak + p,
	}
}

// --------------------------------------------------------------------------
// Socket.IO envelope
// --------------------------------------------------------------------------

// RoomMessage is the payload of a socket.io "message" event.
type RoomMessage struct {
	RoomName string `json:"room_name"`
	Message  struct {
		Data json.RawMessage `json:"data"`
	} `json:"message"`
}

// --------------------------------------------------------------------------
// Room payloads
// --------------------------------------------------------------------------

// TransactionsData is the payload of a transactions_ room.
type TransactionsData struct {
	Transactions []Transaction `json:"transactions"`
}

// Transaction is a single executed trade.
type Transaction struct {
	TransactionID int64           `json:"transaction_id"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	ExecutedAt    int64           `json:"executed_at"`
}

// DepthDiff is the payload of a depth_diff_ room.
type DepthDiff struct {
	Asks [][]string `json:"a"`
	Bids [][]string `json:"b"`
	// The quantity fields below are only present when they changed.
	AsksOver   *string `json:"ao,omitempty"`
	BidsUnder  *string `json:"bu,omitempty"`
	AsksUnder  *string `json:"au,omitempty"`
	BidsOver   *string `json:"bo,omitempty"`
	AskMarket  *string `json:"am,omitempty"`
	BidMarket  *string `json:"bm,omitempty"`
	Timestamp  int64   `json:"t"`
	SequenceID string  `json:"s"`
}

// DepthWhole is the payload of a depth_whole_ room.
type DepthWhole struct {
	Asks       [][]string `json:"asks"`
	Bids       [][]string `json:"bids"`
	AsksOver   string     `json:"asks_over"`
	BidsUnder  string     `json:"bids_under"`
	AsksUnder  string     `json:"asks_under"`
	BidsOver   string     `json:"bids_over"`
	AskMarket  string     `json:"ask_market"`
	BidMarket  string     `json:"bid_market"`
	Timestamp  int64      `json:"timestamp"`
	SequenceID string     `json:"sequenceId"`
}

// Ticker is the payload of a ticker_ room. Sell and Buy are null when that
// side of the book is empty.
type Ticker struct {
	Sell      *string `json:"sell"`
	Buy       *string `json:"buy"`
	High      string  `json:"high"`
	Low       string  `json:"low"`
	Open      string  `json:"open"`
	Last      string  `json:"last"`
	Vol       string  `json:"vol"`
	Timestamp int64   `json:"timestamp"`
}

// CircuitBreakInfo is the payload of a circuit_break_info_ room.
type CircuitBreakInfo struct {
	Mode                   string  `json:"mode"`
	EstimatedItayosePrice  *string `json:"estimated_itayose_price"`
	EstimatedItayoseAmount *string `json:"estimated_itayose_amount"`
	UpperTriggerPrice      *string `json:"upper_trigger_price"`
	LowerTriggerPrice      *string `json:"lower_trigger_price"`
	FeeType                string  `json:"fee_type"`
	ReopenTimestamp        *int64  `json:"reopen_timestamp"`
	Timestamp              int64   `json:"timestamp"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// ToDomain converts a transactions payload. Unknown sides are rejected.
func (t *TransactionsData) ToDomain(origin domain.Origin) (domain.TradeBatch, error) {
	trades := make([]domain.Trade, 0, len(t.Transactions))
	for _, tx := range t.Transactions {
		side, err := parseSide(tx.Side)
		if err != nil {
			return domain.TradeBatch{}, err
		}
		trades = append(trades, domain.Trade{
			ID:         strconv.FormatInt(tx.TransactionID, 10),
			Price:      tx.Price,
			Amount:     tx.Amount,
			Side:       side,
			ExecutedAt: time.UnixMilli(tx.ExecutedAt),
		})
	}
	return domain.TradeBatch{From: origin, Trades: trades}, nil
}

// ToDomain converts a diff payload.
func (d *DepthDiff) ToDomain(origin domain.Origin) (domain.DepthDiff, error) {
	seq, err := parseSequence(d.SequenceID)
	if err != nil {
		return domain.DepthDiff{}, err
	}
	asks, err := domain.ParseLevels(d.Asks)
	if err != nil {
		return domain.DepthDiff{}, fmt.Errorf("asks: %w", err)
	}
	bids, err := domain.ParseLevels(d.Bids)
	if err != nil {
		return domain.DepthDiff{}, fmt.Errorf("bids: %w", err)
	}
	return domain.DepthDiff{
		From:      origin,
		Asks:      asks,
		Bids:      bids,
		Sequence:  seq,
		Timestamp: time.UnixMilli(d.Timestamp),
	}, nil
}

// ToDomain converts a whole-book payload.
func (d *DepthWhole) ToDomain(origin domain.Origin) (domain.DepthWhole, error) {
	seq, err := parseSequence(d.SequenceID)
	if err != nil {
		return domain.DepthWhole{}, err
	}
	asks, err := domain.ParseLevels(d.Asks)
	if err != nil {
		return domain.DepthWhole{}, fmt.Errorf("asks: %w", err)
	}
	bids, err := domain.ParseLevels(d.Bids)
	if err != nil {
		return domain.DepthWhole{}, fmt.Errorf("bids: %w", err)
	}
	return domain.DepthWhole{
		From:      origin,
		Asks:      asks,
		Bids:      bids,
		Sequence:  seq,
		Timestamp: time.UnixMilli(d.Timestamp),
	}, nil
}

// ToDomain converts a ticker payload.
func (t *Ticker) ToDomain(origin domain.Origin) (domain.Ticker, error) {
	out := domain.Ticker{From: origin, Timestamp: time.UnixMilli(t.Timestamp)}
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src *string
	}{
		{&out.Sell, t.Sell},
		{&out.Buy, t.Buy},
		{&out.High, &t.High},
		{&out.Low, &t.Low},
		{&out.Open, &t.Open},
		{&out.Last, &t.Last},
		{&out.Volume, &t.Vol},
	} {
		if f.src == nil || *f.src == "" {
			continue
		}
		if *f.dst, err = decimal.NewFromString(*f.src); err != nil {
			return domain.Ticker{}, fmt.Errorf("%w: ticker %q: %v", domain.ErrMalformed, *f.src, err)
		}
	}
	return out, nil
}

// ToDomain converts a circuit-break payload.
func (c *CircuitBreakInfo) ToDomain(origin domain.Origin) (domain.CircuitBreak, error) {
	out := domain.CircuitBreak{
		From:      origin,
		Mode:      c.Mode,
		FeeType:   c.FeeType,
		Timestamp: time.UnixMilli(c.Timestamp),
	}
	var err error
	if out.EstimatedItayosePrice, err = optionalDecimal(c.EstimatedItayosePrice); err != nil {
		return domain.CircuitBreak{}, err
	}
	if out.EstimatedItayoseAmount, err = optionalDecimal(c.EstimatedItayoseAmount); err != nil {
		return domain.CircuitBreak{}, err
	}
	if out.UpperTriggerPrice, err = optionalDecimal(c.UpperTriggerPrice); err != nil {
		return domain.CircuitBreak{}, err
	}
	if out.LowerTriggerPrice, err = optionalDecimal(c.LowerTriggerPrice); err != nil {
		return domain.CircuitBreak{}, err
	}
	if c.ReopenTimestamp != nil {
		ts := time.UnixMilli(*c.ReopenTimestamp)
		out.ReopenAt = &ts
	}
	return out, nil
}

func parseSide(s string) (domain.Side, error) {
	switch s {
	case "buy":
		return domain.SideBuy, nil
	case "sell":
		return domain.SideSell, nil
	default:
		return "", fmt.Errorf("%w: side %q", domain.ErrMalformed, s)
	}
}

func parseSequence(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: sequence id %q", domain.ErrMalformed, s)
	}
	return n, nil
}

func optionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrMalformed, *s)
	}
	return &d, nil
}
