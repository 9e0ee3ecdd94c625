package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/config"
	"github.com/platinummonkey/parish-registry/pkg/idempotency"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

var (
	runOnce    = flag.Bool("once", false, "Verify every audit lineage once, print the reports and exit")
	tenant     = flag.Int64("tenant", 0, "Only verify this tenant's lineage (with --once)")
	global     = flag.Bool("global", false, "Only verify the global lineage (with --once)")
	skipPurge  = flag.Bool("skip-purge", false, "Do not schedule idempotency key purges")
	jobTimeout = flag.Duration("job-timeout", 30*time.Minute, "Timeout for one verification or purge run")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr).WithField("service", "parish-auditor")

	db, err := storage.OpenPostgres(context.Background(), cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	chain := audit.NewChain(db, audit.WithHashChain(cfg.Audit.HashChainEnabled), audit.WithLogger(logger))
	verifier := audit.NewVerifier(chain, logger, nil)

	if *runOnce {
		ctx, cancel := context.WithTimeout(context.Background(), *jobTimeout)
		intact, err := verifyOnce(ctx, verifier)
		cancel()
		if err != nil {
			logger.WithError(err).Error("Verification failed")
			os.Exit(2)
		}
		if !intact {
			os.Exit(1)
		}
		return
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := audit.ScheduleVerification(c, cfg.Audit.VerifySchedule, verifier, *jobTimeout); err != nil {
		logger.WithError(err).Error("Failed to schedule verification")
		os.Exit(1)
	}
	if !*skipPurge {
		guard := idempotency.NewGuard(idempotency.NewSQLStore(db),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(logger),
		)
		if _, err := idempotency.SchedulePurge(c, cfg.Idempotency.PurgeSchedule, guard, *jobTimeout); err != nil {
			logger.WithError(err).Error("Failed to schedule idempotency purge")
			os.Exit(1)
		}
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"verify_schedule": cfg.Audit.VerifySchedule,
		"purge_schedule":  cfg.Idempotency.PurgeSchedule,
	}).Info("Auditor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	<-c.Stop().Done()
	logger.Info("Auditor stopped")
}

// verifyOnce writes the reports as JSON lines to stdout and reports whether
// every verified lineage is intact
func verifyOnce(ctx context.Context, v *audit.Verifier) (bool, error) {
	var reports []*audit.VerificationReport
	switch {
	case *global:
		r, err := v.VerifyLineage(ctx, nil)
		if err != nil {
			return false, err
		}
		reports = append(reports, r)
	case *tenant > 0:
		r, err := v.VerifyLineage(ctx, tenant)
		if err != nil {
			return false, err
		}
		reports = append(reports, r)
	default:
		var err error
		if reports, err = v.VerifyAll(ctx); err != nil {
			return false, err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	intact := true
	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			return false, err
		}
		intact = intact && r.Intact()
	}
	return intact, nil
}
