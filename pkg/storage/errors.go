package storage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrUnavailable marks an infrastructure failure in a backing store. Callers
// must treat it as a hard failure, never as an implicit allow or deny.
var ErrUnavailable = errors.New("store unavailable")

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.op, ErrUnavailable, e.err)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while the
// underlying driver error stays inspectable. A nil err stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return &unavailableError{op: op, err: err}
}

// uniqueViolationMatchers recognise unique constraint failures per driver
var uniqueViolationMatchers = []func(error) bool{isPQUniqueViolation}

// IsUniqueViolation reports whether err is a unique constraint violation from
// Postgres or, in cgo builds, SQLite
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	for _, match := range uniqueViolationMatchers {
		if match(err) {
			return true
		}
	}
	return false
}

func isPQUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}
