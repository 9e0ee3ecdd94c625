package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/parish-registry/pkg/observability"
)

// SafeGo runs fn in a goroutine under a timeout derived from parentCtx. Panics
// are recovered and reported like errors. The returned channel receives fn's
// outcome once and is then closed.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan error {
	logger = observability.OrNop(logger).WithField("task", taskName)
	done := make(chan error, 1)

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		err := run(ctx, fn)
		if err != nil {
			logger.WithError(err).Error("background task failed")
		}
		done <- err
	}()

	return done
}

func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
