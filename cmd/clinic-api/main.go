// Package main provides the clinic API service entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api"
	"github.com/drfirst/go-dispensary/internal/api/handlers"
	"github.com/drfirst/go-dispensary/internal/auth"
	"github.com/drfirst/go-dispensary/internal/billing"
	"github.com/drfirst/go-dispensary/internal/cache"
	"github.com/drfirst/go-dispensary/internal/config"
	"github.com/drfirst/go-dispensary/internal/consultation"
	"github.com/drfirst/go-dispensary/internal/dispensing"
	"github.com/drfirst/go-dispensary/internal/infrastructure/memory"
	"github.com/drfirst/go-dispensary/internal/infrastructure/postgres"
	"github.com/drfirst/go-dispensary/internal/inventory"
	"github.com/drfirst/go-dispensary/internal/logging"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/observability/tracing"
	"github.com/drfirst/go-dispensary/internal/patients"
	"github.com/drfirst/go-dispensary/internal/store"
)

const serviceName = "clinic-api"

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
	readiness := map[string]handlers.Pinger{}

	// Storage
	var st store.Store
	switch cfg.Store {
	case config.StoreMemory:
		st = memory.New()
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		st = postgres.NewStore(pool, logger)
		logger.Info("connected to database")
	}

	// Stock summary cache
	var stockCache *cache.StockSummaryCache
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		stockCache = cache.NewStockSummaryCache(client, cfg.StockCacheTTL, m, logger)
		readiness["redis"] = redisPinger(client)
		logger.Info("stock summary cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	// Services
	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.TokenTTL, logger)
	if created, err := authSvc.EnsureBootstrapAdmin(ctx, cfg.SeedAdminPassword); err != nil {
		logger.Fatal("bootstrap admin failed", zap.Error(err))
	} else if created {
		logger.Warn("created bootstrap admin user", zap.String("username", "admin"))
	}

	engine := dispensing.NewEngine(st, logger,
		dispensing.WithMetrics(m),
		dispensing.WithCache(stockCache),
	)

	router := api.NewRouter(api.Deps{
		Service:        serviceName,
		Store:          st,
		Auth:           authSvc,
		Engine:         engine,
		Recorder:       consultation.NewRecorder(st, m, logger),
		Inventory:      inventory.NewService(st, stockCache, m, logger),
		Patients:       patients.NewService(st, logger),
		Billing:        billing.NewService(st),
		Readiness:      readiness,
		Metrics:        m,
		MetricsHandler: metrics.Handler(),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting clinic API", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func redisPinger(client *redis.Client) handlers.PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
