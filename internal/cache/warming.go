package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-records-service/internal/models"
	"github.com/kjstillabower/weather-records-service/internal/observability"
)

// Location is a city tracked by the collector.
type Location struct {
	City    string
	Country string
}

// WeatherFetcher is implemented by the service layer to fetch and persist weather for a city.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type WeatherFetcher interface {
	FetchAndStore(ctx context.Context, cityName, country string) (models.Weather, error)
}

// CacheWarmer keeps tracked cities fresh by running FetchAndStore for each one,
// either on demand (Warm) or on a cron schedule (Start).
type CacheWarmer struct {
	fetcher   WeatherFetcher
	locations []Location
	timeout   time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCacheWarmer creates a CacheWarmer for locations. timeout bounds a single run;
// zero means one minute.
func NewCacheWarmer(fetcher WeatherFetcher, locations []Location, timeout time.Duration, logger *zap.Logger) *CacheWarmer {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{
		fetcher:   fetcher,
		locations: locations,
		timeout:   timeout,
		logger:    logger,
	}
}

// Warm fetches weather for each location concurrently.
// Returns an error if any location failed (aggregated).
func (w *CacheWarmer) Warm(ctx context.Context) error {
	start := time.Now()
	w.logger.Info("collecting weather", zap.Int("locations", len(w.locations)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(w.locations))
	for _, loc := range w.locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.FetchAndStore(ctx, loc.City, loc.Country); err != nil {
				errCh <- fmt.Errorf("collect %s,%s: %w", loc.City, loc.Country, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CollectorRunDurationSeconds.Observe(duration)
	w.logger.Info("collection complete",
		zap.Int("locations", len(w.locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))

	if len(errs) > 0 {
		observability.CollectorRunsTotal.WithLabelValues("error").Inc()
		return errors.Join(errs...)
	}
	observability.CollectorRunsTotal.WithLabelValues("success").Inc()
	return nil
}

// Start schedules Warm with a five-field cron spec or a descriptor such as "@every 15m".
// Each run is bounded by the warmer timeout and derives from ctx.
func (w *CacheWarmer) Start(ctx context.Context, spec string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("collector already started")
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		if err := w.Warm(runCtx); err != nil {
			w.logger.Warn("scheduled collection failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule collector %q: %w", spec, err)
	}
	w.cron = c
	c.Start()
	w.logger.Info("collector scheduled", zap.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for a running collection to finish or ctx to expire.
func (w *CacheWarmer) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
