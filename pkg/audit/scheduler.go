package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleVerification registers a VerifyAll run on c for the given cron
// schedule. Violations are logged and counted by the verifier; the job itself
// only reports failures to run.
func ScheduleVerification(c *cron.Cron, schedule string, v *Verifier, timeout time.Duration) (cron.EntryID, error) {
	return c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		reports, err := v.VerifyAll(ctx)
		if err != nil {
			v.logger.WithError(err).Error("scheduled audit verification failed")
			return
		}

		violated := 0
		for _, r := range reports {
			if !r.Intact() {
				violated++
			}
		}
		v.logger.WithFields(map[string]interface{}{
			"lineages": len(reports),
			"violated": violated,
		}).Info("scheduled audit verification completed")
	})
}
