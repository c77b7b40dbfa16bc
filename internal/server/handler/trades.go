package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// TradeHandler serves recorded trade prints.
type TradeHandler struct {
	store  domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler backed by store.
func NewTradeHandler(store domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{store: store, logger: logger.With(slog.String("handler", "trades"))}
}

type tradeResponse struct {
	ID         string    `json:"id"`
	Side       string    `json:"side"`
	Price      string    `json:"price"`
	Amount     string    `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
	BlockTrade bool      `json:"block_trade,omitempty"`
}

// ListTrades returns recorded trades for one origin, newest first.
// GET /api/trades/{venue}/{symbol}?limit=&offset=&since=&until=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	origin, err := parseOrigin(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListBySymbol(r.Context(), origin, opts)
	if err != nil {
		h.logger.Error("list trades",
			slog.String("venue", origin.Venue.String()),
			slog.String("symbol", origin.Symbol.String()),
			slog.String("error", err.Error()),
		)
		writeStoreError(w, err)
		return
	}

	out := make([]tradeResponse, len(records))
	for i, rec := range records {
		out[i] = tradeResponse{
			ID:         rec.ID,
			Side:       string(rec.Side),
			Price:      rec.Price.String(),
			Amount:     rec.Amount.String(),
			ExecutedAt: rec.ExecutedAt,
			BlockTrade: rec.BlockTrade,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":  origin.Venue,
		"symbol": origin.Symbol,
		"trades": out,
	})
}
