package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kjstillabower/weather-records-service/internal/observability"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return false }

func TestCategorizeError(t *testing.T) {
	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = err
	}
	var typeErr error
	if err := json.Unmarshal([]byte(`{"lat":"north"}`), &struct{ Lat float64 }{}); err != nil {
		typeErr = err
	}
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil has no category", nil, ""},
		{"deadline through request wrap", fmt.Errorf("request timeout: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"caller cancelled", context.Canceled, ErrorCategoryTimeout},
		{"401 from provider", fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"429 from provider", ErrRateLimited, ErrorCategoryRateLimited},
		{"503 from provider", fmt.Errorf("%w: HTTP 503", ErrUpstreamFailure), ErrorCategoryUpstream},
		{"breaker rejected call", fmt.Errorf("%w: open", ErrCircuitOpen), ErrorCategoryCircuitOpen},
		{"truncated body", fmt.Errorf("parse response: %w", syntaxErr), ErrorCategoryParsing},
		{"wrong field type", fmt.Errorf("parse response: %w", typeErr), ErrorCategoryParsing},
		{"dial refused", fmt.Errorf("http request failed: %w", refused), ErrorCategoryNetwork},
		{"net timeout", fmt.Errorf("http request failed: %w", timeoutNetErr{}), ErrorCategoryTimeout},
		{"plain text mentioning timeout", errors.New("timeout talking to provider"), ErrorCategoryUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategorizeError(tc.err); got != tc.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestGetJSON_LabelsCallsByCategory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	u := newTestUpstream(t, BreakerSettings{FailureThreshold: 10})
	counter := observability.UpstreamCallsTotal.WithLabelValues("weather", string(ErrorCategoryRateLimited))
	before := testutil.ToFloat64(counter)

	var out map[string]any
	err := u.getJSON(context.Background(), "weather", server.URL, nil, &out)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("getJSON() error = %v, want ErrRateLimited", err)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("rate_limited calls delta = %v, want 1", got)
	}
}

func TestGetJSON_ClosedServerIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	u := newTestUpstream(t, BreakerSettings{FailureThreshold: 10})
	var out map[string]any
	err := u.getJSON(context.Background(), "geocode", addr, nil, &out)
	if got := CategorizeError(err); got != ErrorCategoryNetwork {
		t.Errorf("CategorizeError(%v) = %q, want %q", err, got, ErrorCategoryNetwork)
	}
}
