package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/parish-registry/pkg/api"
	"github.com/platinummonkey/parish-registry/pkg/async"
	"github.com/platinummonkey/parish-registry/pkg/audit"
	"github.com/platinummonkey/parish-registry/pkg/cache"
	"github.com/platinummonkey/parish-registry/pkg/config"
	"github.com/platinummonkey/parish-registry/pkg/core"
	"github.com/platinummonkey/parish-registry/pkg/idempotency"
	"github.com/platinummonkey/parish-registry/pkg/identity"
	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/rbac"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	otelProviders, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	if err := storage.ApplyAll(ctx, db, storage.DialectPostgres, logger,
		storage.MigrationSet{Component: identity.MigrationComponent, Migrations: identity.Migrations()},
		storage.MigrationSet{Component: rbac.MigrationComponent, Migrations: rbac.Migrations()},
		storage.MigrationSet{Component: audit.MigrationComponent, Migrations: audit.Migrations()},
		storage.MigrationSet{Component: idempotency.MigrationComponent, Migrations: idempotency.Migrations()},
	); err != nil {
		return err
	}

	if err := seedCatalog(ctx, db, cfg.RBAC.SeedFile, logger); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		if redisClient, err = storage.NewRedisClient(ctx, cfg.Storage); err != nil {
			return err
		}
		logger.Info("Connected to Redis")
	}

	var permCache cache.Cache
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		permCache = cache.NewRedisCache(redisClient, "parish:authz", cfg.Cache.TTL)
	default:
		permCache = cache.NewLRUCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	var idemStore idempotency.Store
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendRedis:
		idemStore = idempotency.NewRedisStore(redisClient, "parish:idempotency", cfg.Idempotency.TTL)
	default:
		idemStore = idempotency.NewSQLStore(db)
	}

	resolver := rbac.NewResolver(db,
		identity.NewResolver(identity.NewSQLDirectory(db), logger),
		permCache,
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	)
	chain := audit.NewChain(db,
		audit.WithHashChain(cfg.Audit.HashChainEnabled),
		audit.WithLogger(logger),
		audit.WithMetrics(metrics),
	)
	guard := idempotency.NewGuard(idemStore,
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger),
		idempotency.WithMetrics(metrics),
	)
	service := core.NewService(resolver, chain, guard, logger)

	scheduler := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := idempotency.SchedulePurge(scheduler, cfg.Idempotency.PurgeSchedule, guard, time.Minute); err != nil {
		return err
	}
	scheduler.Start()

	if chain.Enabled() {
		verifier := audit.NewVerifier(chain, logger, metrics)
		async.SafeGo(ctx, logger, 10*time.Minute, "startup audit verification", func(ctx context.Context) error {
			_, err := verifier.VerifyAll(ctx)
			return err
		})
	}

	server := api.NewServer(service, logger, api.WithServerMetrics(metrics))
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "parish-registry"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, redisClient != nil, cfg.Observability.OTelServiceVersion))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		go func() {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}()
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server stopped")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

// seedCatalog registers the permission keys and, on first start only, the
// global grants
func seedCatalog(ctx context.Context, db *sql.DB, seedFile string, logger *observability.Logger) error {
	seed := rbac.DefaultSeed()
	if seedFile != "" {
		var err error
		if seed, err = rbac.LoadSeed(seedFile); err != nil {
			return err
		}
		logger.WithField("file", seedFile).Info("Loaded permission seed")
	}
	return rbac.ApplySeed(ctx, rbac.NewCatalog(db), seed)
}
