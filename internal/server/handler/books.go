package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// BookHandler serves mirrored order books.
type BookHandler struct {
	cache   domain.OrderbookCache
	origins []domain.Origin
	logger  *slog.Logger
}

// NewBookHandler creates a BookHandler over the books of origins.
func NewBookHandler(cache domain.OrderbookCache, origins []domain.Origin, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		cache:   cache,
		origins: origins,
		logger:  logger.With(slog.String("handler", "books")),
	}
}

// bookResponse is the JSON shape of one book snapshot.
type bookResponse struct {
	Venue     domain.Venue  `json:"venue"`
	Symbol    domain.Symbol `json:"symbol"`
	Bids      [][2]string   `json:"bids"`
	Asks      [][2]string   `json:"asks"`
	Timestamp time.Time     `json:"ts"`
}

// bboResponse is the best bid and ask of one book. Missing sides are null.
type bboResponse struct {
	Venue  domain.Venue  `json:"venue"`
	Symbol domain.Symbol `json:"symbol"`
	Bid    *string       `json:"bid"`
	Ask    *string       `json:"ask"`
}

// ListBBO returns the best prices of every configured book that has been
// mirrored at least once.
// GET /api/books
func (h *BookHandler) ListBBO(w http.ResponseWriter, r *http.Request) {
	out := make([]bboResponse, 0, len(h.origins))
	for _, o := range h.origins {
		snap, err := h.cache.GetSnapshot(r.Context(), o)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.Error("load snapshot",
				slog.String("venue", o.Venue.String()),
				slog.String("symbol", o.Symbol.String()),
				slog.String("error", err.Error()),
			)
			writeStoreError(w, err)
			return
		}
		bid, okBid := snap.BestBid()
		ask, okAsk := snap.BestAsk()
		out = append(out, bboResponse{
			Venue:  o.Venue,
			Symbol: o.Symbol,
			Bid:    decimalPtr(bid.Price, okBid),
			Ask:    decimalPtr(ask.Price, okAsk),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetBook returns the mirrored book of one origin, truncated to ?levels=N
// per side when given.
// GET /api/books/{venue}/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	origin, err := parseOrigin(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	levels := 0
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "levels must be a positive integer")
			return
		}
		levels = n
	}

	snap, err := h.cache.GetSnapshot(r.Context(), origin)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	bids, asks := snap.Bids, snap.Asks
	if levels > 0 {
		bids = bids[:min(levels, len(bids))]
		asks = asks[:min(levels, len(asks))]
	}
	writeJSON(w, http.StatusOK, bookResponse{
		Venue:     origin.Venue,
		Symbol:    origin.Symbol,
		Bids:      levelRows(bids),
		Asks:      levelRows(asks),
		Timestamp: snap.Timestamp,
	})
}
