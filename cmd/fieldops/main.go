// Package main is the entry point for the fieldops API server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/db/migrations"
	"github.com/pitabwire/fieldops/internal/assistant"
	"github.com/pitabwire/fieldops/internal/capability"
	"github.com/pitabwire/fieldops/internal/config"
	"github.com/pitabwire/fieldops/internal/idempotency"
	"github.com/pitabwire/fieldops/internal/invoker"
	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/internal/openapi"
	"github.com/pitabwire/fieldops/internal/procedure"
	"github.com/pitabwire/fieldops/internal/storage"
	"github.com/pitabwire/fieldops/internal/transport"
	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "fieldops", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(reg)

	api, err := openapi.Load()
	if err != nil {
		logger.Error("API document load failed", zap.Error(err))
		return 1
	}

	capResolver, err := buildCapabilityResolver(cfg.Capability, metrics)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}

	go reloadPolicyOnHangup(ctx, capResolver, logger)

	store, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	blobs, err := buildBlobStore(ctx, cfg.ObjectStore, logger)
	if err != nil {
		logger.Error("object store initialization failed", zap.Error(err))
		return 1
	}

	idemStore, idemCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}
	if idemCloser != nil {
		defer idemCloser()
	}

	if err := syncProcedures(ctx, cfg.Procedures, store, metrics, logger); err != nil {
		logger.Error("procedure catalog sync failed", zap.Error(err))
		return 1
	}

	engine := workflow.NewEngine(store, capResolver,
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
		workflow.WithBlobStore(blobs),
	)
	active, err := engine.ListTemplates(ctx, model.ProcedureFilters{ActiveOnly: true})
	if err != nil {
		logger.Error("listing procedure templates failed", zap.Error(err))
		return 1
	}
	if len(active) == 0 {
		logger.Warn("no active procedure templates, sessions cannot start")
	}

	llm := invoker.NewClient(invoker.Config{
		BaseURL:   cfg.AI.BaseURL,
		APIKey:    cfg.AI.APIKey(),
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		Timeout:   cfg.AI.Timeout,
		Breaker: invoker.BreakerConfig{
			FailureThreshold:   cfg.AI.CircuitBreaker.FailureThreshold,
			SuccessThreshold:   cfg.AI.CircuitBreaker.SuccessThreshold,
			OpenTimeout:        cfg.AI.CircuitBreaker.Timeout,
			ErrorRateThreshold: cfg.AI.CircuitBreaker.ErrorRateThreshold,
			ErrorRateWindow:    cfg.AI.CircuitBreaker.ErrorRateWindow,
		},
		Retry: invoker.RetryPolicy{
			MaxAttempts:       cfg.AI.Retry.MaxAttempts,
			BackoffInitial:    cfg.AI.Retry.BackoffInitial,
			BackoffMultiplier: cfg.AI.Retry.BackoffMultiplier,
			BackoffMax:        cfg.AI.Retry.BackoffMax,
		},
	}, invoker.WithObserver(metrics), invoker.WithClientLogger(logger))
	if !llm.Configured() {
		logger.Warn("AI upstream API key not set, AI endpoints will answer 503",
			zap.String("env", cfg.AI.APIKeyEnv))
	}
	ai := assistant.NewService(llm, engine,
		assistant.WithMetrics(metrics),
		assistant.WithLogger(logger),
		assistant.WithVisionModel(cfg.AI.VisionModel),
	)

	var jwks *transport.JWKSClient
	if cfg.Identity.JWKSURL != "" {
		jwks = transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	}
	var hmacSecret []byte
	if s := cfg.Identity.HMACSecret(); s != "" {
		hmacSecret = []byte(s)
	}

	readiness := observability.ReadinessChecks{
		ProceduresLoaded: func() bool { return len(active) > 0 },
		Store:            store,
		ObjectStore:      blobs,
	}
	if idemStore != nil {
		readiness.IdempotencyStore = idemStore
	}

	deps := transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks, hmacSecret),
		CapabilityResolver: capResolver,
		Engine:             engine,
		Assistant:          ai,
		Metrics:            metrics,
		Readiness:          readiness,
		Idempotency:        idemStore,
		API:                api,
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsHandler = observability.HandlerFor(reg)
	}
	router := transport.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.String("api", api.Title()),
		zap.Int("operations", len(api.AllOperationIDs())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCapabilityResolver creates the static policy resolver. An empty policy
// file uses the built-in role policy.
func buildCapabilityResolver(cfg config.CapabilityConfig, metrics *observability.Metrics) (*capability.Resolver, error) {
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("static policy: %w", err)
	}
	return capability.NewResolver(evaluator, cfg.Cache.TTL, capability.WithCacheMetrics(metrics)), nil
}

// reloadPolicyOnHangup reloads the role policy on SIGHUP until ctx ends.
func reloadPolicyOnHangup(ctx context.Context, resolver *capability.Resolver, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			roles, err := resolver.Reload()
			if err != nil {
				logger.Error("role policy reload failed, keeping previous policy", zap.Error(err))
				continue
			}
			logger.Info("role policy reloaded", zap.Strings("roles", roles))
		}
	}
}

// buildStore creates the work-order store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Warn("using in-memory work-order store, data is lost on restart")
		return workflow.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := cfg.DSN()
		if dsn == "" {
			return nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		poolCfg.MinConns = cfg.MinConns
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		if cfg.MigrateOnStart {
			applied, err := workflow.Migrate(ctx, pool, migrations.Files)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("store: migrate: %w", err)
			}
			logger.Info("database migrations applied", zap.Strings("migrations", applied))
		}
		return workflow.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildBlobStore creates the photo and report object store. Without an
// endpoint blobs are kept in memory.
func buildBlobStore(ctx context.Context, cfg config.ObjectStoreConfig, logger *zap.Logger) (workflow.BlobStore, error) {
	if cfg.Endpoint == "" {
		logger.Warn("object store endpoint not configured, keeping uploads in memory")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewMinioStore(ctx, storage.Config{
		Endpoint:  cfg.Endpoint,
		Bucket:    cfg.Bucket,
		AccessKey: os.Getenv(cfg.AccessKeyEnv),
		SecretKey: os.Getenv(cfg.SecretKeyEnv),
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil, nil
	case "redis":
		addr := cfg.Addr()
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		return idempotency.NewRedisStore(client), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.Driver)
	}
}

// syncProcedures loads the procedure catalog and upserts changed templates.
func syncProcedures(ctx context.Context, cfg config.ProceduresConfig, store procedure.Sink, metrics *observability.Metrics, logger *zap.Logger) error {
	if !cfg.SyncOnStart {
		return nil
	}

	templates, err := procedure.NewLoader().LoadAll(cfg.Directories)
	if err != nil {
		metrics.RecordProcedureSync("error", 0)
		return err
	}
	res, err := procedure.Sync(ctx, store, templates)
	if err != nil {
		metrics.RecordProcedureSync("error", 0)
		return err
	}
	metrics.RecordProcedureSync("success", len(templates))
	logger.Info("procedure catalog synced",
		zap.Int("templates", len(templates)),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
	)
	return nil
}
