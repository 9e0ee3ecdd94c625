// Package idempotency detects retried mutating requests.
//
// A client names a logical request with an opaque key. The first sight of a
// (tenant, key) pair stores a record; later calls within the TTL are
// duplicates and get the response code the first request recorded, or none
// while it is still in flight. Once the record is older than the TTL the key
// behaves as new again.
//
// The compare-and-insert is atomic at the store: SQLStore relies on the
// (tenant_id, idem_key) unique constraint, RedisStore on SETNX and
// MemoryStore on a mutex. Guard never reads before it inserts, so N parallel
// calls with one key yield exactly one new request.
//
// The request body hash is stored but not enforced; Result.BodyMismatch only
// reports reuse of a key with a different payload.
package idempotency
