package postgres

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

var origin = domain.Origin{Venue: domain.VenueBitbank, Symbol: "btc_jpy"}

func TestListQuery(t *testing.T) {
	q, args := listQuery(origin, domain.ListOpts{})
	assert.Equal(t, `SELECT `+tradeSelectCols+` FROM trades WHERE venue = $1 AND symbol = $2 ORDER BY executed_at DESC, trade_id DESC`, q)
	assert.Equal(t, []any{"bitbank", "btc_jpy"}, args)

	since := time.Unix(100, 0)
	q, args = listQuery(origin, domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Contains(t, q, "AND executed_at >= $3")
	assert.Contains(t, q, "LIMIT $4 OFFSET $5")
	assert.NotContains(t, q, "executed_at <=")
	assert.Equal(t, []any{"bitbank", "btc_jpy", since, 10, 20}, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x"}))
	assert.Equal(t,
		"postgres://bot:p%40ss@db:5432/depthbot?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "depthbot", User: "bot", Password: "p@ss"}),
	)
	assert.Contains(t, DSN(ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", SSLMode: "require"}), "db:6543/d?sslmode=require")
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	names := migrationNames(entries)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_trades.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "UNIQUE (venue, symbol, trade_id)")
}
