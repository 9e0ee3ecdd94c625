// Package storage opens the backing stores and defines the shared failure
// vocabulary for them.
//
// Every collaborator store (memberships, permission catalog, audit log,
// idempotency records) wraps driver failures with Unavailable so that callers
// can distinguish "the store could not answer" from an ordinary negative
// result:
//
//	if errors.Is(err, storage.ErrUnavailable) {
//		// 503, never a silent deny
//	}
//
// WithTx is the transaction helper used when a business mutation and its audit
// entry must commit together.
package storage
