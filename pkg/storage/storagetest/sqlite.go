// Package storagetest provides databases for tests: an embedded SQLite for
// unit tests and, behind the integration build tag, a PostgreSQL container.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// NewSQLite opens a private in-memory SQLite database and applies sets.
//
// The pool is limited to one connection: every connection to ":memory:" is
// its own database. Code under test must not read through the *sql.DB while
// holding a transaction on it.
func NewSQLite(t *testing.T, sets ...storage.MigrationSet) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.ApplyAll(context.Background(), db, storage.DialectSQLite, nil, sets...))
	return db
}
