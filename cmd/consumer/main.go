package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"order-consumer/internal/bootstrap"
	"order-consumer/internal/config"
	"order-consumer/internal/consumer"
	"order-consumer/internal/health"
	"order-consumer/internal/logger"
	"order-consumer/internal/middleware"
	"order-consumer/internal/repository"
	"order-consumer/internal/service"
	"order-consumer/internal/telemetry"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	// Load environment variables before the logger so LOG_LEVEL applies
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("production", "info")
		log.Fatal().Msgf("Error loading config: %v", err)
	}

	log := logger.New(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		log.Debug().Msg("No .env file found")
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Resolve credentials and open the pool
	pool, err := bootstrap.Database(ctx, cfg, log)
	if err != nil {
		log.Fatal().Msgf("Failed to initialize database: %v", err)
	}
	defer pool.Close()

	q, closeQueue, err := bootstrap.Queue(ctx, cfg, pool)
	if err != nil {
		log.Fatal().Msgf("Failed to initialize queue: %v", err)
	}
	defer closeQueue()
	log.Info().Str("backend", cfg.QueueBackend).Msg("Queue client initialized")

	// Repositories & services
	orderRepo := repository.NewOrderRepository(pool)
	orderSvc := service.NewOrderService(orderRepo, service.Limits{
		MaxQuantity:   cfg.OrderMaxQuantity,
		MinTotalPrice: cfg.OrderMinTotalPrice,
		MaxTotalPrice: cfg.OrderMaxTotalPrice,
	}, log)

	// Observers
	reporter := health.NewReporter(cfg.HealthStaleness(), log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	bridge, err := telemetry.New(otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator())
	if err != nil {
		log.Fatal().Msgf("Failed to initialize telemetry: %v", err)
	}

	c := consumer.New(q, orderSvc, log, consumer.Options{
		Concurrency:      cfg.Concurrency(),
		FailureThreshold: cfg.CircuitFailureThreshold,
		BackoffBase:      cfg.CircuitBackoffBase(),
		BackoffMax:       cfg.CircuitBackoffMax(),
		Observers:        []consumer.Observer{reporter, bridge},
		Tracer:           bridge,
	})

	// Health server
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HealthPort,
		Handler:      middleware.LoggerMiddleware(log)(corsHandler.Handler(reporter.Handler())),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Msgf("Health server starting on port %s", cfg.HealthPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Msgf("Health server failed: %v", err)
		}
	}()

	// Blocks until SIGINT/SIGTERM; the in-flight batch finishes first
	if err := c.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Consumer stopped with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Health server forced to shutdown")
	}

	snap := reporter.Snapshot()
	log.Info().
		Uint64("total_processed", snap.TotalProcessed).
		Uint64("total_failed", snap.TotalFailed).
		Msg("Order consumer stopped gracefully")
}
