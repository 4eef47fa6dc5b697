package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	analysishandler "covenant/internal/analysis/handler"
	analysismetrics "covenant/internal/analysis/metrics"
	analysisservice "covenant/internal/analysis/service"
	analysisstore "covenant/internal/analysis/store"
	"covenant/internal/auditproof"
	"covenant/internal/platform/config"
	"covenant/internal/platform/httpserver"
	"covenant/internal/platform/logger"
	platformmetrics "covenant/internal/platform/metrics"
	"covenant/internal/platform/middleware"
	"covenant/internal/platform/redis"
	"covenant/internal/registry/cache"
	registryhandler "covenant/internal/registry/handler"
	registrymetrics "covenant/internal/registry/metrics"
	registryservice "covenant/internal/registry/service"
	registrystore "covenant/internal/registry/store"
	audit "covenant/pkg/platform/audit"
	auditkafka "covenant/pkg/platform/audit/kafka"
	auditmemory "covenant/pkg/platform/audit/memory"
)

// main wires dependencies and owns the server lifecycle. Business logic
// lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	// Registry persistence: PostgreSQL when configured, in-memory otherwise.
	var (
		versions registrystore.VersionStore
		entries  registrystore.EntryStore
		pins     registrystore.PinStore
		proofs   auditproof.Store
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, registrystore.Schema); err != nil {
			log.Error("registry schema migration failed", "error", err)
			os.Exit(1)
		}
		pg := registrystore.NewPostgres(pool)
		versions, entries, pins = pg, pg, pg

		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, auditproof.PostgresSchema); err != nil {
			log.Error("audit proof schema migration failed", "error", err)
			os.Exit(1)
		}
		proofs = auditproof.NewPostgresStore(db)
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		mem := registrystore.NewInMemory()
		versions, entries, pins = mem, mem, mem
		proofs = auditproof.NewMemoryStore()
	}

	// Content-addressed entry cache, skipped when Redis is not configured.
	var entryCache *cache.EntryCache
	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		entryCache = cache.New(redisClient.Client, config.EntryCacheTTL, log)
	}

	// Governance audit trail: Kafka when brokers are configured.
	var publisher audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := auditkafka.New(ctx, cfg.KafkaBrokers, auditkafka.WithLogger(log))
		if err != nil {
			log.Error("kafka publisher init failed", "error", err)
			os.Exit(1)
		}
		publisher = kafkaPublisher
	} else {
		log.Warn("KAFKA_BROKERS not set, audit events stay in process memory")
		publisher = auditmemory.NewPublisher()
	}
	defer publisher.Close()

	registry := registryservice.New(versions, entries, pins,
		registryservice.WithLogger(log),
		registryservice.WithMetrics(registrymetrics.New()),
		registryservice.WithAuditPublisher(publisher),
		registryservice.WithEntryCache(entryCache),
	)

	analysis := analysisservice.New(registry, analysisstore.NewInMemory(),
		analysisservice.WithLogger(log),
		analysisservice.WithMetrics(analysismetrics.New()),
		analysisservice.WithProofExport(proofs, auditproof.NewSigner(cfg.ReceiptKey)),
		analysisservice.WithAuditPublisher(publisher),
	)

	registryHandler := registryhandler.New(registry, log)
	analysisHandler := analysishandler.New(analysis, log)
	httpMetrics := platformmetrics.NewHTTP()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(httpMetrics.Instrument)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(cfg.AdminToken, log))
		registryHandler.RegisterAdmin(r)
	})
	registryHandler.Register(router)
	analysisHandler.Register(router)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting covenant engine", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
