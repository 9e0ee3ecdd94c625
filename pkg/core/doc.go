// Package core is the entry point the HTTP layer talks to. Service composes
// permission resolution, the audit chain and the idempotency guard behind
// the operations a mutating request goes through: Dedup, Authorize, the
// mutation with its audit entries in one transaction, and DedupComplete.
package core
