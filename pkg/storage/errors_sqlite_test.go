//go:build cgo

package storage

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE keys (k TEXT NOT NULL UNIQUE, v TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO keys (k, v) VALUES ('a', 'x')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO keys (k, v) VALUES ('a', 'y')`)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(Unavailable("insert key", err)))

	_, err = db.Exec(`INSERT INTO keys (k) VALUES ('b')`)
	require.Error(t, err)
	assert.False(t, IsUniqueViolation(err), "not null is a different constraint")
}
