package idempotency

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulePurge registers a Purge run on c for the given cron schedule
func SchedulePurge(c *cron.Cron, schedule string, g *Guard, timeout time.Duration) (cron.EntryID, error) {
	return c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		n, err := g.Purge(ctx)
		if err != nil {
			g.logger.WithError(err).Error("idempotency purge failed")
			return
		}
		g.logger.WithField("purged", n).Info("idempotency purge completed")
	})
}
