package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-records-service/internal/apperror"
	"github.com/kjstillabower/weather-records-service/internal/cache"
	"github.com/kjstillabower/weather-records-service/internal/client"
	"github.com/kjstillabower/weather-records-service/internal/events"
	"github.com/kjstillabower/weather-records-service/internal/models"
	"github.com/kjstillabower/weather-records-service/internal/observability"
	"github.com/kjstillabower/weather-records-service/internal/store"
)

const (
	msgUpstreamFailed = "failed to fetch weather data"
	msgRecordNotFound = "Weather record not found"
	msgNoDataForCity  = "No weather data found for this city"
)

// WeatherService fronts the record store with a cache-aside layer and fetches new
// observations from the upstream provider. The cache is advisory: its failures are
// logged and treated as misses. Store failures surface as *apperror.StoreError.
type WeatherService struct {
	resolver  client.CoordinateResolver
	fetcher   client.WeatherFetcher
	store     store.RecordStore
	cache     cache.Cache
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time

	publishes sync.WaitGroup

	stampede      *stampedeTracker
	inflight      *singleflight.Group // nil unless coalescing is enabled
	flightTimeout time.Duration
}

const defaultFlightTimeout = 15 * time.Second

// Option configures a WeatherService.
type Option func(*WeatherService)

// WithCoalescing makes concurrent cache misses for the same city share one
// resolve, fetch and store pass. The shared pass is detached from the caller that
// started it and bounded by timeout; zero means 15s.
func WithCoalescing(timeout time.Duration) Option {
	return func(s *WeatherService) {
		if timeout <= 0 {
			timeout = defaultFlightTimeout
		}
		s.inflight = &singleflight.Group{}
		s.flightTimeout = timeout
	}
}

// WithPublisher sets the publisher notified after each new observation.
func WithPublisher(p events.Publisher) Option {
	return func(s *WeatherService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides the time source used for fetchedAt.
func WithClock(now func() time.Time) Option {
	return func(s *WeatherService) { s.now = now }
}

// NewWeatherService creates a WeatherService. logger is the fallback when the request
// context carries none.
func NewWeatherService(resolver client.CoordinateResolver, fetcher client.WeatherFetcher, st store.RecordStore, c cache.Cache, logger *zap.Logger, opts ...Option) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &WeatherService{
		resolver:  resolver,
		fetcher:   fetcher,
		store:     st,
		cache:     c,
		publisher: events.NopPublisher{},
		logger:    logger,
		now:       time.Now,
		stampede:  newStampedeTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAndStore returns the cached observation for the city if present. Otherwise it
// resolves the city, fetches current conditions, persists a new record and caches it
// under the city and latest keys.
func (s *WeatherService) FetchAndStore(ctx context.Context, cityName, country string) (models.Weather, error) {
	key := CityKey(cityName, country)

	var cached models.Weather
	if s.getCached(ctx, key, &cached) {
		return cached, nil
	}

	if n := s.stampede.Enter(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
	}
	defer s.stampede.Leave(key)

	if s.inflight == nil {
		return s.fetchAndStore(ctx, cityName, country, key)
	}

	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		// One caller going away must not fail the others sharing this flight.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout)
		defer cancel()
		return s.fetchAndStore(flightCtx, cityName, country, key)
	})
	select {
	case <-ctx.Done():
		return models.Weather{}, apperror.Upstream(msgUpstreamFailed, ctx.Err())
	case res := <-ch:
		if res.Shared {
			observability.FetchCoalescedTotal.Inc()
		}
		if res.Err != nil {
			return models.Weather{}, res.Err
		}
		return res.Val.(models.Weather), nil
	}
}

func (s *WeatherService) fetchAndStore(ctx context.Context, cityName, country, key string) (models.Weather, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)

	coords, err := s.resolver.Resolve(ctx, cityName, country)
	if err != nil {
		return models.Weather{}, s.upstreamFailure(logger, "resolve", cityName, err)
	}
	obs, err := s.fetcher.Fetch(ctx, coords)
	if err != nil {
		return models.Weather{}, s.upstreamFailure(logger, "fetch", cityName, err)
	}

	rec := models.NewWeather(cityName, country, obs, s.now())
	start := time.Now()
	saved, err := s.store.Create(ctx, rec)
	observability.ObserveStoreOp("create", start, err)
	if err != nil {
		return models.Weather{}, s.storeFailure(logger, "create", err)
	}
	observability.ObservationsCreatedTotal.Inc()

	s.setCached(ctx, key, saved)
	s.setCached(ctx, LatestKey(cityName), saved)
	s.publish(ctx, logger, saved)

	logger.Debug("observation stored", zap.String("id", saved.ID), zap.String("city", cityName), zap.String("country", country))
	return saved, nil
}

// GetAll returns every record, served from the list cache when present.
func (s *WeatherService) GetAll(ctx context.Context) ([]models.Weather, error) {
	var cached []models.Weather
	if s.getCached(ctx, AllKey, &cached) {
		return cached, nil
	}

	start := time.Now()
	all, err := s.store.FindAll(ctx)
	observability.ObserveStoreOp("find_all", start, err)
	if err != nil {
		return nil, s.storeFailure(observability.LoggerFromContext(ctx, s.logger), "find_all", err)
	}
	if all == nil {
		all = []models.Weather{}
	}
	s.setCached(ctx, AllKey, all)
	return all, nil
}

// GetByID returns one record. Absence is a NotFoundError and is never cached.
func (s *WeatherService) GetByID(ctx context.Context, id string) (models.Weather, error) {
	key := IDKey(id)
	var cached models.Weather
	if s.getCached(ctx, key, &cached) {
		return cached, nil
	}

	start := time.Now()
	w, ok, err := s.store.FindByID(ctx, id)
	observability.ObserveStoreOp("find_by_id", start, err)
	if err != nil {
		return models.Weather{}, s.storeFailure(observability.LoggerFromContext(ctx, s.logger), "find_by_id", err)
	}
	if !ok {
		return models.Weather{}, apperror.NotFound(msgRecordNotFound)
	}
	s.setCached(ctx, key, w)
	return w, nil
}

// GetLatest returns the record for cityName with the most recent fetchedAt.
func (s *WeatherService) GetLatest(ctx context.Context, cityName string) (models.Weather, error) {
	key := LatestKey(cityName)
	var cached models.Weather
	if s.getCached(ctx, key, &cached) {
		return cached, nil
	}

	start := time.Now()
	w, ok, err := s.store.FindLatestByCity(ctx, cityName)
	observability.ObserveStoreOp("find_latest", start, err)
	if err != nil {
		return models.Weather{}, s.storeFailure(observability.LoggerFromContext(ctx, s.logger), "find_latest", err)
	}
	if !ok {
		return models.Weather{}, apperror.NotFound(msgNoDataForCity)
	}
	s.setCached(ctx, key, w)
	return w, nil
}

// Update applies a partial update, then invalidates the id and list keys before
// refilling the id key with the re-read record.
func (s *WeatherService) Update(ctx context.Context, id string, u models.WeatherUpdate) (models.Weather, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)

	start := time.Now()
	err := s.store.Update(ctx, id, u)
	observability.ObserveStoreOp("update", start, err)
	if err != nil {
		return models.Weather{}, s.storeFailure(logger, "update", err)
	}

	start = time.Now()
	w, ok, err := s.store.FindByID(ctx, id)
	observability.ObserveStoreOp("find_by_id", start, err)
	if err != nil {
		return models.Weather{}, s.storeFailure(logger, "find_by_id", err)
	}
	if !ok {
		return models.Weather{}, apperror.NotFound(msgRecordNotFound)
	}

	s.deleteCached(ctx, IDKey(id))
	s.deleteCached(ctx, AllKey)
	s.setCached(ctx, IDKey(id), w)
	return w, nil
}

// Delete removes a record. Deleting a missing id succeeds; the id and list keys
// are invalidated either way.
func (s *WeatherService) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.store.Delete(ctx, id)
	observability.ObserveStoreOp("delete", start, err)
	if err != nil {
		return s.storeFailure(observability.LoggerFromContext(ctx, s.logger), "delete", err)
	}
	s.deleteCached(ctx, IDKey(id))
	s.deleteCached(ctx, AllKey)
	return nil
}

// upstreamFailure passes a NotFoundError through and hides everything else behind
// a generic UpstreamError.
func (s *WeatherService) upstreamFailure(logger *zap.Logger, step, cityName string, err error) error {
	if apperror.IsNotFound(err) {
		logger.Info("city not found", zap.String("city", cityName))
		return err
	}
	logger.Warn("upstream call failed", zap.String("step", step), zap.String("city", cityName), zap.Error(err))
	return apperror.Upstream(msgUpstreamFailed, err)
}

func (s *WeatherService) storeFailure(logger *zap.Logger, op string, err error) error {
	logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return apperror.Store(op, err)
}

// getCached decodes key into dst. Any cache or decode failure is a miss.
func (s *WeatherService) getCached(ctx context.Context, key string, dst any) bool {
	keyspace := observability.KeyspaceLabel(key)
	start := time.Now()
	raw, ok, err := s.cache.Get(ctx, key)
	observability.ObserveCacheOp("get", start, err)
	if err != nil {
		observability.LoggerFromContext(ctx, s.logger).Warn("cache get failed", zap.String("key", key), zap.Error(err))
		observability.CacheLookupsTotal.WithLabelValues(keyspace, "miss").Inc()
		return false
	}
	if !ok {
		observability.CacheLookupsTotal.WithLabelValues(keyspace, "miss").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		observability.LoggerFromContext(ctx, s.logger).Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		observability.CacheLookupsTotal.WithLabelValues(keyspace, "miss").Inc()
		return false
	}
	observability.CacheLookupsTotal.WithLabelValues(keyspace, "hit").Inc()
	return true
}

func (s *WeatherService) setCached(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		observability.LoggerFromContext(ctx, s.logger).Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	start := time.Now()
	err = s.cache.Set(ctx, key, raw, CacheTTL)
	observability.ObserveCacheOp("set", start, err)
	if err != nil {
		observability.LoggerFromContext(ctx, s.logger).Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *WeatherService) deleteCached(ctx context.Context, key string) {
	start := time.Now()
	err := s.cache.Delete(ctx, key)
	observability.ObserveCacheOp("delete", start, err)
	if err != nil {
		observability.LoggerFromContext(ctx, s.logger).Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// publish sends the event off the request path. The publisher bounds each send.
func (s *WeatherService) publish(ctx context.Context, logger *zap.Logger, w models.Weather) {
	e := events.Event{
		Type:       events.TypeWeatherFetched,
		OccurredAt: s.now().UTC(),
		Weather:    w,
	}
	pubCtx := context.WithoutCancel(ctx)
	s.publishes.Add(1)
	go func() {
		defer s.publishes.Done()
		if err := s.publisher.Publish(pubCtx, e); err != nil {
			logger.Warn("event publish failed", zap.String("id", w.ID), zap.Error(err))
		}
	}()
}

// WaitForPublishes blocks until pending event publishes finish or ctx is done.
// Call before closing the publisher.
func (s *WeatherService) WaitForPublishes(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
