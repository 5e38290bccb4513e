// Package main provides the stock monitor entry point.
// Consumes dispensing events and publishes stock alerts.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/handlers"
	"github.com/drfirst/go-dispensary/internal/config"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/postgres"
	"github.com/drfirst/go-dispensary/internal/infrastructure/redpanda"
	"github.com/drfirst/go-dispensary/internal/logging"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/observability/tracing"
	"github.com/drfirst/go-dispensary/internal/stockmonitor"
	"github.com/drfirst/go-dispensary/pkg/circuitbreaker"
	"github.com/drfirst/go-dispensary/pkg/idempotency"
)

const serviceName = "stock-monitor"

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
	st := postgres.NewStore(pool, logger)

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	breakerCfg := circuitbreaker.DefaultConfig("stock-alert-producer")
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		m.SetBreakerState(name, to.Gauge())
	}
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}

	monCfg := stockmonitor.DefaultConfig()
	monCfg.LowStockThreshold = cfg.LowStockThreshold
	monCfg.ExpiryWarningDays = cfg.ExpiryWarningDays
	monitor, err := stockmonitor.New(st, inbox, circuitbreaker.GuardPublisher(breaker, producer), monCfg, m, logger)
	if err != nil {
		logger.Fatal("stock monitor creation failed", zap.Error(err))
	}
	monitor.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = serviceName
	consumerCfg.Topics = []string{domain.TopicDispensing}
	consumer, err := redpanda.NewConsumer(consumerCfg, monitor.HandleMessage, m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("redpanda admin creation failed", zap.Error(err))
	}
	defer admin.Close()

	// Health, lag and metrics
	r := chi.NewRouter()
	r.Get("/health", handlers.Health(serviceName))
	r.Get("/ready", handlers.Ready(map[string]handlers.Pinger{
		"postgres": st,
		"redpanda": producer,
	}))
	r.Get("/lag", func(w http.ResponseWriter, r *http.Request) {
		lag, err := admin.GetConsumerGroupLag(r.Context(), serviceName)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"group":      serviceName,
			"total_lag":  redpanda.TotalLag(lag),
			"partitions": lag,
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	logger.Info("stock monitor running", zap.Strings("topics", consumerCfg.Topics))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop failed", zap.Error(err))
	}
	if err := monitor.Stop(); err != nil {
		logger.Warn("monitor stop failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	logger.Info("stock monitor stopped")
}
