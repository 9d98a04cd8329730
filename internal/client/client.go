package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-records-service/internal/models"
	"github.com/kjstillabower/weather-records-service/internal/observability"
)

// CoordinateResolver turns a city and country into coordinates.
// An unknown city is reported as *apperror.NotFoundError; any other error is an
// infrastructure failure and is returned as-is.
type CoordinateResolver interface {
	Resolve(ctx context.Context, cityName, country string) (models.Coordinates, error)
}

// WeatherFetcher returns current conditions for a position.
type WeatherFetcher interface {
	Fetch(ctx context.Context, coords models.Coordinates) (models.Observation, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit breaker open")

	// errCallerDone marks a failure caused by the caller's context ending, not the provider.
	errCallerDone = errors.New("caller context done")
)

// BreakerSettings configures the circuit breaker shared by all calls of one Upstream.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before allowing a trial request.
	OpenTimeout time.Duration
	// HalfOpenMaxRequests bounds trial requests while half-open.
	HalfOpenMaxRequests uint32
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenMaxRequests: 1}
}

// Upstream performs provider HTTP calls with the API key, a per-call timeout,
// a circuit breaker and metrics. It does not retry.
type Upstream struct {
	apiKey  string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewUpstream creates an Upstream. name labels the breaker in metrics.
func NewUpstream(name, apiKey string, timeout time.Duration, bs BreakerSettings) (*Upstream, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if bs.FailureThreshold == 0 {
		bs = DefaultBreakerSettings()
	}

	observability.CircuitBreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: bs.HalfOpenMaxRequests,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.FailureThreshold
		},
		// Aborted callers say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerDone) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &Upstream{
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
	}, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// getJSON issues GET rawURL with params plus the API key and decodes the body into out.
// op labels metrics ("geocode" or "weather").
func (u *Upstream) getJSON(ctx context.Context, op, rawURL string, params url.Values, out any) error {
	start := time.Now()
	_, err := u.breaker.Execute(func() (interface{}, error) {
		err := u.call(ctx, rawURL, params, out)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerDone, err)
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}

	status := "success"
	if err != nil {
		status = string(CategorizeError(err))
	}
	observability.UpstreamCallsTotal.WithLabelValues(op, status).Inc()
	observability.UpstreamDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func (u *Upstream) call(ctx context.Context, rawURL string, params url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := u.buildRequest(reqCtx, rawURL, params)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (u *Upstream) buildRequest(ctx context.Context, rawURL string, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("appid", u.apiKey)
	baseURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}
