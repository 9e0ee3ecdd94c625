// Package async runs background work that must never take the process down.
//
// SafeGo bounds a task with a timeout, recovers panics and logs failures
// through the observability logger. The returned channel closes when the task
// has finished, which lets callers and tests wait without sleeping.
//
//	done := async.SafeGo(ctx, logger, time.Minute, "startup verification", func(ctx context.Context) error {
//		_, err := verifier.VerifyAll(ctx)
//		return err
//	})
package async
