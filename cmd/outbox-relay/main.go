// Package main provides the outbox relay service entry point.
// Publishes committed outbox events to Redpanda.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/handlers"
	"github.com/drfirst/go-dispensary/internal/config"
	"github.com/drfirst/go-dispensary/internal/infrastructure/postgres"
	"github.com/drfirst/go-dispensary/internal/infrastructure/redpanda"
	"github.com/drfirst/go-dispensary/internal/logging"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/observability/tracing"
	"github.com/drfirst/go-dispensary/pkg/circuitbreaker"
)

const serviceName = "outbox-relay"

func main() {
	cfg, err := config.Load()
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat, serviceName)
	defer logger.Sync()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("redpanda admin creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("topic bootstrap failed", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	breakerCfg := circuitbreaker.DefaultConfig("redpanda-producer")
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		m.SetBreakerState(name, to.Gauge())
	}
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}

	outbox := postgres.NewOutbox(pool, circuitbreaker.GuardPublisher(breaker, producer), postgres.DefaultOutboxConfig(), m, logger)
	outbox.Start()

	// Health and metrics
	r := chi.NewRouter()
	r.Get("/health", handlers.Health(serviceName))
	r.Get("/ready", handlers.Ready(map[string]handlers.Pinger{
		"postgres": handlers.PingFunc(pool.Ping),
		"redpanda": producer,
		"breaker":  breaker,
	}))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	logger.Info("outbox relay started")

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(shutdownCtx); err != nil {
		logger.Warn("producer flush failed", zap.Error(err))
	}
	server.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}
