package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotguard/internal/api"
	"slotguard/internal/config"
	"slotguard/internal/database"
	"slotguard/internal/domain"
	"slotguard/internal/events"
	"slotguard/internal/logging"
	"slotguard/internal/metrics"
	"slotguard/internal/repository"
	"slotguard/internal/service"
	"slotguard/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs with the background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfigAndLogger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	store, sqliteDB, err := openSlotStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient := initRedis(ctx, cfg, logger)
	defer func() { _ = repository.Close(redisClient) }()

	memoryCounters := repository.NewMemoryCounterStore(repository.WithIdleTTL(cfg.RateLimit.IdleTTL))
	memoryCounters.StartJanitor(ctx)

	counters, idemStore := limiterStores(cfg, redisClient, memoryCounters, logger)

	eventBus := events.NewEventBus()
	eventBus.SubscribeAll(events.LogHandler(logging.Component(logger, "events")))

	arbiter := service.NewArbiter(store, cfg.Booking, logger)
	limiter := service.NewLimiter(counters, cfg.RateLimit, logger)
	idempotency := service.NewIdempotencyService(idemStore, cfg.Idempotency, logger)
	bookings := service.NewBookingService(arbiter, limiter, idempotency, eventBus, cfg.Idempotency.TTL, logger)

	sweeper := worker.NewExpirySweeper(store, bookings, cfg.Booking.PendingTTL, cfg.Booking.SweepInterval,
		worker.RetryPolicy{}, logging.Component(logger, "expiry-sweeper"))

	httpServer := api.NewHTTPServer(cfg.API, bookings, limiter, store, logger)
	grpcServer := api.NewGRPCServer(&cfg.API, limiter, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	if sqliteDB != nil {
		backups := database.NewBackupService(sqliteDB, cfg.Backup, logging.Component(logger, "backup"))
		g.Go(func() error {
			backups.Start(gctx)
			return nil
		})
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error {
			return startMetricsServer(gctx, cfg.Monitoring.PrometheusPort, logger)
		})
	}

	if cfg.API.HTTP.Enabled {
		g.Go(func() error {
			if err := httpServer.Start(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	if cfg.API.GRPC.Enabled {
		g.Go(func() error {
			if err := grpcServer.ListenAndServe(); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	mainLog := logging.Component(logger, "main")

	g.Go(func() error {
		<-gctx.Done()
		mainLog.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	mainLog.Info().
		Bool("http", cfg.API.HTTP.Enabled).Int("http_port", cfg.API.HTTP.Port).
		Bool("grpc", cfg.API.GRPC.Enabled).Int("grpc_port", cfg.API.GRPC.Port).
		Str("driver", cfg.Database.Driver).
		Msg("slotguard started")

	err = g.Wait()
	mainLog.Info().Msg("slotguard stopped")
	return err
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis is not configured, rate limits and idempotency keys are per process")
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis is unreachable at startup")
		return client
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// limiterStores picks the counter and idempotency stores. A configured Redis
// is always the primary counter store, even when it is down at startup, so
// the failover can recover to it later.
func limiterStores(
	cfg *config.Config,
	client *redis.Client,
	memory *repository.MemoryCounterStore,
	logger *zerolog.Logger,
) (domain.CounterStore, domain.IdempotencyStore) {
	if client == nil {
		return memory, repository.NewMemoryIdempotencyStore()
	}

	primary := repository.NewRedisCounterStore(client)
	var counters domain.CounterStore = primary
	if cfg.RateLimit.FallbackOn() {
		counters = repository.NewFailoverCounterStore(primary, memory, cfg.RateLimit.RecoveryInterval,
			logging.Component(logger, "ratelimit"))
	}
	return counters, repository.NewRedisIdempotencyStore(client)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
		return err
	}
	return nil
}
