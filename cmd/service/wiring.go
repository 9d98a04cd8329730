package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-records-service/internal/cache"
	"github.com/kjstillabower/weather-records-service/internal/client"
	"github.com/kjstillabower/weather-records-service/internal/config"
	"github.com/kjstillabower/weather-records-service/internal/store"
	"github.com/kjstillabower/weather-records-service/internal/users"
)

// backend is a cache or store with an optional reachability check and close func.
type backend struct {
	ping  func(ctx context.Context) error
	close func() error
}

func (b backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// newCache builds the configured cache backend.
func newCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, backend, error) {
	switch cfg.CacheBackend {
	case "redis":
		rc, err := cache.NewRedisCache(cfg.RedisURL, cfg.RedisTimeout)
		if err != nil {
			return nil, backend{}, fmt.Errorf("redis cache: %w", err)
		}
		logger.Info("cache backend: redis")
		return rc, backend{ping: rc.Ping, close: rc.Close}, nil
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, backend{ping: mc.Ping, close: mc.Close}, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), backend{}, nil
	}
}

// newStores builds the record store and user repository. Both share one Postgres pool
// when the postgres backend is configured.
func newStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.RecordStore, users.Repository, backend, error) {
	if cfg.StoreBackend != "postgres" {
		logger.Info("store backend: memory")
		return store.NewMemoryStore(), users.NewMemoryRepository(), backend{}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := store.NewPool(connectCtx, cfg.DatabaseURL, cfg.StoreMaxConns)
	if err != nil {
		return nil, nil, backend{}, err
	}
	closePool := func() error { pool.Close(); return nil }

	records := store.NewPostgresStore(pool)
	if err := records.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, nil, backend{}, fmt.Errorf("weather schema: %w", err)
	}
	accounts := users.NewPostgresRepository(pool)
	if err := accounts.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, nil, backend{}, fmt.Errorf("users schema: %w", err)
	}
	logger.Info("store backend: postgres", zap.Int32("max_conns", pool.Config().MaxConns))
	return records, accounts, backend{ping: pool.Ping, close: closePool}, nil
}

// newProvider builds the geocoding resolver and the weather fetcher selected by
// weather_api.provider. Both share one upstream and therefore one circuit breaker.
func newProvider(cfg *config.Config) (client.CoordinateResolver, client.WeatherFetcher, error) {
	upstream, err := client.NewUpstream("weather_api", cfg.WeatherAPIKey, cfg.WeatherAPITimeout, client.BreakerSettings{
		FailureThreshold:    cfg.BreakerFailureThreshold,
		OpenTimeout:         cfg.BreakerOpenTimeout,
		HalfOpenMaxRequests: 1,
	})
	if err != nil {
		return nil, nil, err
	}
	resolver := client.NewGeocodingClient(upstream, cfg.GeoURL)
	switch cfg.WeatherProvider {
	case "onecall":
		return resolver, client.NewOneCallClient(upstream, cfg.OneCallURL), nil
	default:
		return resolver, client.NewCurrentWeatherClient(upstream, cfg.WeatherAPIURL), nil
	}
}

// collectorLocations converts configured locations for the cache warmer.
func collectorLocations(locs []config.Location) []cache.Location {
	out := make([]cache.Location, 0, len(locs))
	for _, l := range locs {
		out = append(out, cache.Location{City: l.City, Country: l.Country})
	}
	return out
}
