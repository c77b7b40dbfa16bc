package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps a backend error onto a status code.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since accepts RFC 3339 or unix
// milliseconds.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", name, err)
		}
		*dst = &t
	}
	return opts, nil
}

func parseTime(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

// parseOrigin reads the {venue} and {symbol} path parameters. The symbol is
// taken in canonical spelling and mapped to the venue's native one.
func parseOrigin(r *http.Request) (domain.Origin, error) {
	venue, err := domain.ParseVenue(r.PathValue("venue"))
	if err != nil {
		return domain.Origin{}, err
	}
	symbol := domain.Symbol(r.PathValue("symbol"))
	if symbol == "" {
		return domain.Origin{}, fmt.Errorf("missing symbol")
	}
	return domain.Origin{Venue: venue, Symbol: domain.MapperFor(venue)(symbol)}, nil
}

// levelRows renders levels as [price, size] string pairs, the shape both
// venues use on the wire.
func levelRows(levels []domain.PriceLevel) [][2]string {
	rows := make([][2]string, len(levels))
	for i, l := range levels {
		rows[i] = [2]string{l.Price.String(), l.Size.String()}
	}
	return rows
}

func decimalPtr(d decimal.Decimal, ok bool) *string {
	if !ok {
		return nil
	}
	s := d.String()
	return &s
}
