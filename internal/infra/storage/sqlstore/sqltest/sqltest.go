// Package sqltest opens migrated SQLite databases for tests.
package sqltest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
)

// New returns a migrated database in a temp dir, closed when t ends.
func New(t testing.TB) *sqlstore.DB {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "filler.db")
	db, err := sqlstore.NewDB(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, URL: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

// Exec runs statements outside any block transaction.
func Exec(t testing.TB, db *sqlstore.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := db.ExecContext(context.Background(), s)
		require.NoError(t, err)
	}
}

// Count returns SELECT COUNT(*) for table with an optional condition.
func Count(t testing.TB, db *sqlstore.DB, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, db.Rebind(query), args...))
	return n
}
