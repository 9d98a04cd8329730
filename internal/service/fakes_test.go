package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/weather-records-service/internal/apperror"
	"github.com/kjstillabower/weather-records-service/internal/cache"
	"github.com/kjstillabower/weather-records-service/internal/events"
	"github.com/kjstillabower/weather-records-service/internal/models"
	"github.com/kjstillabower/weather-records-service/internal/store"
)

type fakeResolver struct {
	coords models.Coordinates
	err    error
	calls  atomic.Int32
}

func (f *fakeResolver) Resolve(ctx context.Context, cityName, country string) (models.Coordinates, error) {
	f.calls.Add(1)
	return f.coords, f.err
}

type fakeFetcher struct {
	obs     models.Observation
	err     error
	calls   atomic.Int32
	release chan struct{} // when non-nil, Fetch blocks until closed or ctx is done
}

func (f *fakeFetcher) Fetch(ctx context.Context, coords models.Coordinates) (models.Observation, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return models.Observation{}, ctx.Err()
		}
	}
	return f.obs, f.err
}

// recordingCache wraps InMemoryCache with per-op failure injection and a log of writes.
type recordingCache struct {
	*cache.InMemoryCache
	mu      sync.Mutex
	getErr  error
	setErr  error
	delErr  error
	sets    []string
	deletes []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{InMemoryCache: cache.NewInMemoryCache()}
}

func (c *recordingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.InMemoryCache.Get(ctx, key)
}

func (c *recordingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.sets = append(c.sets, key)
	c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	return c.InMemoryCache.Set(ctx, key, value, ttl)
}

func (c *recordingCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, key)
	c.mu.Unlock()
	if c.delErr != nil {
		return c.delErr
	}
	return c.InMemoryCache.Delete(ctx, key)
}

func (c *recordingCache) has(key string) bool {
	_, ok, _ := c.InMemoryCache.Get(context.Background(), key)
	return ok
}

// countingStore wraps MemoryStore, counts creates and can fail every call.
type countingStore struct {
	*store.MemoryStore
	creates atomic.Int32
	err     error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) Create(ctx context.Context, w models.Weather) (models.Weather, error) {
	if s.err != nil {
		return models.Weather{}, s.err
	}
	s.creates.Add(1)
	return s.MemoryStore.Create(ctx, w)
}

func (s *countingStore) FindAll(ctx context.Context) ([]models.Weather, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.MemoryStore.FindAll(ctx)
}

func (s *countingStore) FindByID(ctx context.Context, id string) (models.Weather, bool, error) {
	if s.err != nil {
		return models.Weather{}, false, s.err
	}
	return s.MemoryStore.FindByID(ctx, id)
}

func (s *countingStore) Update(ctx context.Context, id string, u models.WeatherUpdate) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Update(ctx, id, u)
}

func (s *countingStore) Delete(ctx context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Delete(ctx, id)
}

func (s *countingStore) FindLatestByCity(ctx context.Context, cityName string) (models.Weather, bool, error) {
	if s.err != nil {
		return models.Weather{}, false, s.err
	}
	return s.MemoryStore.FindLatestByCity(ctx, cityName)
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []events.Event
	err     error
	release chan struct{} // when non-nil, Publish blocks until closed
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

var (
	errBackend  = errors.New("connection refused")
	errNotFound = apperror.NotFound("city not found")
)

var londonObs = models.Observation{Temperature: 15.5, Description: "Cloudy", Humidity: 75, WindSpeed: 3.6}
