//go:build cgo

package storage

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

func init() {
	uniqueViolationMatchers = append(uniqueViolationMatchers, isSQLiteUniqueViolation)
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
