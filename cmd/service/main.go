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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-records-service/internal/auth"
	"github.com/kjstillabower/weather-records-service/internal/cache"
	"github.com/kjstillabower/weather-records-service/internal/config"
	"github.com/kjstillabower/weather-records-service/internal/events"
	httphandler "github.com/kjstillabower/weather-records-service/internal/http"
	"github.com/kjstillabower/weather-records-service/internal/lifecycle"
	"github.com/kjstillabower/weather-records-service/internal/observability"
	"github.com/kjstillabower/weather-records-service/internal/service"
	"github.com/kjstillabower/weather-records-service/internal/traffic"
	"github.com/kjstillabower/weather-records-service/internal/users"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	state := lifecycle.New()
	ctx := context.Background()

	records, accountsRepo, storeBackend, err := newStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	cacheSvc, cacheBackend, err := newCache(cfg, logger)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	resolver, fetcher, err := newProvider(cfg)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	logger.Info("weather provider", zap.String("provider", cfg.WeatherProvider), zap.Duration("timeout", cfg.WeatherAPITimeout))

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventsEnabled {
		kp, err := events.NewKafkaPublisher(cfg.EventsBrokers, cfg.EventsTopic, cfg.EventsTimeout)
		if err != nil {
			logger.Fatal("event publisher", zap.Error(err))
		}
		publisher = kp
		logger.Info("events enabled", zap.Strings("brokers", cfg.EventsBrokers), zap.String("topic", cfg.EventsTopic))
	}

	opts := []service.Option{service.WithPublisher(publisher)}
	if cfg.CoalesceEnabled {
		opts = append(opts, service.WithCoalescing(cfg.RequestTimeout))
	}
	weatherService := service.NewWeatherService(resolver, fetcher, records, cacheSvc, logger, opts...)

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("token manager", zap.Error(err))
	}
	accounts := users.NewService(accountsRepo, tokens, 0, logger)

	var warmer *cache.CacheWarmer
	if len(cfg.CollectorLocations) > 0 {
		warmer = cache.NewCacheWarmer(weatherService, collectorLocations(cfg.CollectorLocations), cfg.CollectorTimeout, logger)
		if err := warmer.Start(ctx, cfg.CollectorSchedule); err != nil {
			logger.Fatal("collector", zap.Error(err))
		}
		go func() {
			if err := warmer.Warm(ctx); err != nil {
				logger.Warn("initial collection failed", zap.Error(err))
			}
		}()
		logger.Info("collector started", zap.String("schedule", cfg.CollectorSchedule), zap.Int("locations", len(cfg.CollectorLocations)))
	}

	tracker := traffic.NewTracker(0)
	inFlight := &httphandler.InFlightTracker{}
	handler := httphandler.NewHandler(weatherService, accounts, state, tracker, &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StorePing:        storeBackend.ping,
		CachePing:        cacheBackend.ping,
	}, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		Verifier:       tokens,
		Traffic:        tracker,
		InFlight:       inFlight,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if warmer != nil {
		warmer.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.Drain(shutdownCtx); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if err := weatherService.WaitForPublishes(shutdownCtx); err != nil {
		logger.Warn("pending events not published", zap.Error(err))
	}
	publisher.Close()
	if err := cacheBackend.Close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	if err := storeBackend.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
