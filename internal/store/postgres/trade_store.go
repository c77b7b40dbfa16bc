package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore on pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

// Numerics are read back as text so decimals round-trip exactly.
const tradeSelectCols = `venue, symbol, trade_id, side, price::text, amount::text, block_trade, executed_at`

const insertTrade = `
	INSERT INTO trades (venue, symbol, trade_id, side, price, amount, block_trade, executed_at)
	VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
	ON CONFLICT (venue, symbol, trade_id) DO NOTHING`

// InsertBatch inserts trades in one round trip. Trades already stored for
// the same origin and trade id are skipped, so replays and reconnects do not
// duplicate prints.
func (s *TradeStore) InsertBatch(ctx context.Context, origin domain.Origin, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTrade,
			origin.Venue.String(), origin.Symbol.String(), t.ID, string(t.Side),
			t.Price.String(), t.Amount.String(), t.BlockTrade, t.ExecutedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetLastTimestamp returns the newest execution time stored for origin, or
// domain.ErrNotFound when there is none.
func (s *TradeStore) GetLastTimestamp(ctx context.Context, origin domain.Origin) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(executed_at) FROM trades WHERE venue = $1 AND symbol = $2`,
		origin.Venue.String(), origin.Symbol.String(),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last trade timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, domain.ErrNotFound
	}
	return *ts, nil
}

// ListBySymbol returns trades for origin, newest first, filtered and paged by
// opts.
func (s *TradeStore) ListBySymbol(ctx context.Context, origin domain.Origin, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := listQuery(origin, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	records, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return records, nil
}

func listQuery(origin domain.Origin, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE venue = $1 AND symbol = $2`
	args := []any{origin.Venue.String(), origin.Symbol.String()}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += " AND executed_at >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND executed_at <= " + next(*opts.Until)
	}
	query += " ORDER BY executed_at DESC, trade_id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var (
			r             domain.TradeRecord
			venue, symbol string
			side          string
			price, amount string
		)
		if err := rows.Scan(&venue, &symbol, &r.ID, &side, &price, &amount, &r.BlockTrade, &r.ExecutedAt); err != nil {
			return nil, err
		}
		var err error
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("price %q: %w", price, err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("amount %q: %w", amount, err)
		}
		r.Origin = domain.Origin{Venue: domain.Venue(venue), Symbol: domain.Symbol(symbol)}
		r.Side = domain.Side(side)
		out = append(out, r)
	}
	return out, rows.Err()
}
