// Package audit keeps a tamper-evident log of business mutations.
//
// Each entry's hash is the lowercase hex SHA-256 of
//
//	action ‖ entityType ‖ entityId ‖ canon(before) ‖ canon(after) ‖ prevHash
//
// where canon renders JSON with sorted keys and prevHash is the hash of the
// previous chained entry of the same lineage. Every tenant has its own
// lineage; tenant-less entries share the global one. Changing any field of an
// entry changes its hash and breaks the link from its successor.
//
// Appends normally run inside the transaction of the mutation they describe:
//
//	err := storage.WithTx(ctx, db, func(tx *sql.Tx) error {
//		// ... business writes on tx ...
//		_, err := chain.LogTx(ctx, tx, audit.Record{
//			TenantID:   &tenantID,
//			ActorID:    &actorID,
//			Action:     "membership.grant",
//			EntityType: "membership",
//			After:      membership,
//		})
//		return err
//	})
//
// Hashing can be disabled with WithHashChain(false). Entries are then written
// without hash and prev_hash, and verification returns ErrChainDisabled.
//
// Integrity is checked offline by Verifier, on demand or on a cron schedule
// (ScheduleVerification). Violations are reported, never repaired.
package audit
