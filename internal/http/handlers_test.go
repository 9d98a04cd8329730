package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-records-service/internal/apperror"
	"github.com/kjstillabower/weather-records-service/internal/lifecycle"
	"github.com/kjstillabower/weather-records-service/internal/models"
	"github.com/kjstillabower/weather-records-service/internal/traffic"
	"github.com/kjstillabower/weather-records-service/internal/users"
)

const testToken = "valid-token"

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func newTestRouter(weather *fakeWeather, accounts *fakeAccounts) *mux.Router {
	h := NewHandler(weather, accounts, nil, nil, nil, zap.NewNop())
	return NewRouter(h, RouterConfig{Verifier: fakeVerifier{token: testToken, userID: "user-1"}})
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

// TestHandler_FetchWeather_Created verifies that POST /api/weather trims input, calls the
// pipeline and returns 201 with the stored record.
func TestHandler_FetchWeather_Created(t *testing.T) {
	weather := &fakeWeather{record: sampleWeather()}
	router := newTestRouter(weather, &fakeAccounts{})

	w := doRequest(t, router, "POST", "/api/weather", `{"cityName":"  London ","country":"UK"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	if weather.gotCity != "London" || weather.gotCountry != "UK" {
		t.Errorf("FetchAndStore(%q, %q), want (London, UK)", weather.gotCity, weather.gotCountry)
	}
	var got models.Weather
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != sampleWeather().ID || !got.FetchedAt.Equal(sampleWeather().FetchedAt) {
		t.Errorf("response = %+v, want sample record", got)
	}
}

// TestHandler_FetchWeather_ValidationErrors verifies that bad bodies return 400 without
// calling the pipeline.
func TestHandler_FetchWeather_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{"cityName":`, "INVALID_BODY"},
		{"missing city", `{"country":"UK"}`, "INVALID_REQUEST"},
		{"blank country", `{"cityName":"London","country":"   "}`, "INVALID_REQUEST"},
		{"invalid characters", `{"cityName":"Lon<don>","country":"UK"}`, "INVALID_REQUEST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			weather := &fakeWeather{}
			router := newTestRouter(weather, &fakeAccounts{})

			w := doRequest(t, router, "POST", "/api/weather", tc.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeError(t, w).Error.Code; got != tc.wantCode {
				t.Errorf("code = %q, want %q", got, tc.wantCode)
			}
			if weather.Calls() != 0 {
				t.Errorf("pipeline called %d times, want 0", weather.Calls())
			}
		})
	}
}

// TestHandler_ErrorMapping verifies each error category maps to its status and code,
// and that the correlation ID is echoed as requestId.
func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", apperror.NotFound("city not found"), http.StatusNotFound, "NOT_FOUND", "city not found"},
		{"upstream", apperror.Upstream("failed to fetch weather data", errors.New("401 bad key")), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "failed to fetch weather data"},
		{"store", apperror.Store("create", errors.New("connection reset")), http.StatusInternalServerError, "STORE_UNAVAILABLE", "Weather store unavailable"},
		{"wrapped store", fmt.Errorf("update: %w", apperror.Store("find_by_id", errors.New("pool closed"))), http.StatusInternalServerError, "STORE_UNAVAILABLE", "Weather store unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeWeather{err: tc.err}, &fakeAccounts{})

			req := httptest.NewRequest("POST", "/api/weather", strings.NewReader(`{"cityName":"London","country":"UK"}`))
			req.Header.Set("X-Correlation-ID", "corr-123")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			body := decodeError(t, w)
			if body.Error.Code != tc.wantCode || body.Error.Message != tc.wantMsg {
				t.Errorf("error = %+v, want %s/%s", body.Error, tc.wantCode, tc.wantMsg)
			}
			if body.Error.RequestID != "corr-123" {
				t.Errorf("requestId = %q, want corr-123", body.Error.RequestID)
			}
		})
	}
}

// TestHandler_UpstreamError_DoesNotLeakProviderMessage verifies the provider error is
// logged at debug but never returned to the client.
func TestHandler_UpstreamError_DoesNotLeakProviderMessage(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	weather := &fakeWeather{err: apperror.Upstream("failed to fetch weather data", errors.New("invalid api key abc123"))}
	h := NewHandler(weather, &fakeAccounts{}, nil, nil, nil, zap.New(core))
	router := NewRouter(h, RouterConfig{Logger: zap.New(core)})

	w := doRequest(t, router, "POST", "/api/weather", `{"cityName":"London","country":"UK"}`)

	if strings.Contains(w.Body.String(), "abc123") {
		t.Errorf("response leaked provider error: %s", w.Body.String())
	}
	entries := logs.FilterMessage("upstream error").All()
	if len(entries) != 1 {
		t.Fatalf("got %d upstream error logs, want 1", len(entries))
	}
	if _, ok := entries[0].ContextMap()["correlation_id"]; !ok {
		t.Error("upstream error log missing correlation_id")
	}
}

func TestHandler_ListWeather(t *testing.T) {
	t.Run("records", func(t *testing.T) {
		router := newTestRouter(&fakeWeather{records: []models.Weather{sampleWeather(), sampleWeather()}}, &fakeAccounts{})
		w := doRequest(t, router, "GET", "/api/weather", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var got []models.Weather
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
	})
	t.Run("empty is an array", func(t *testing.T) {
		router := newTestRouter(&fakeWeather{}, &fakeAccounts{})
		w := doRequest(t, router, "GET", "/api/weather", "")
		if got := strings.TrimSpace(w.Body.String()); got != "[]" {
			t.Errorf("body = %s, want []", got)
		}
	})
}

func TestHandler_GetWeather_ByID(t *testing.T) {
	weather := &fakeWeather{record: sampleWeather()}
	router := newTestRouter(weather, &fakeAccounts{})

	w := doRequest(t, router, "GET", "/api/weather/abc-123", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if weather.gotID != "abc-123" {
		t.Errorf("GetByID(%q), want abc-123", weather.gotID)
	}
}

func TestHandler_GetLatestWeather(t *testing.T) {
	weather := &fakeWeather{record: sampleWeather()}
	router := newTestRouter(weather, &fakeAccounts{})

	w := doRequest(t, router, "GET", "/api/weather/latest/New%20York", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if weather.gotCity != "New York" {
		t.Errorf("GetLatest(%q), want New York", weather.gotCity)
	}
}

func TestHandler_GetLatestWeather_InvalidCity(t *testing.T) {
	weather := &fakeWeather{}
	router := newTestRouter(weather, &fakeAccounts{})

	w := doRequest(t, router, "GET", "/api/weather/latest/%20%20", "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if weather.Calls() != 0 {
		t.Error("pipeline should not be called for an invalid city")
	}
}

// TestHandler_UpdateWeather verifies partial updates pass only the supplied fields.
func TestHandler_UpdateWeather(t *testing.T) {
	weather := &fakeWeather{record: sampleWeather()}
	router := newTestRouter(weather, &fakeAccounts{})

	w := doRequest(t, router, "PUT", "/api/weather/abc-123", `{"humidity":40}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if weather.gotID != "abc-123" {
		t.Errorf("Update id = %q, want abc-123", weather.gotID)
	}
	u := weather.gotUpdate
	if u.Humidity == nil || *u.Humidity != 40 || u.Temperature != nil || u.Description != nil || u.WindSpeed != nil {
		t.Errorf("update = %+v, want only humidity=40", u)
	}
	var got models.Weather
	_ = json.NewDecoder(w.Body).Decode(&got)
	if got.Humidity != 40 || got.Temperature != sampleWeather().Temperature {
		t.Errorf("response = %+v, want humidity applied", got)
	}
}

func TestHandler_UpdateWeather_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty update", `{}`},
		{"humidity out of range", `{"humidity":101}`},
		{"negative wind", `{"windSpeed":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			weather := &fakeWeather{record: sampleWeather()}
			router := newTestRouter(weather, &fakeAccounts{})

			w := doRequest(t, router, "PUT", "/api/weather/abc-123", tc.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if weather.Calls() != 0 {
				t.Error("pipeline should not be called for an invalid update")
			}
		})
	}
}

func TestHandler_UpdateWeather_NotFound(t *testing.T) {
	router := newTestRouter(&fakeWeather{err: apperror.NotFound("Weather record not found")}, &fakeAccounts{})

	w := doRequest(t, router, "PUT", "/api/weather/missing", `{"description":"fog"}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := decodeError(t, w).Error.Message; got != "Weather record not found" {
		t.Errorf("message = %q", got)
	}
}

func TestHandler_DeleteWeather(t *testing.T) {
	weather := &fakeWeather{}
	router := newTestRouter(weather, &fakeAccounts{})

	w := doRequest(t, router, "DELETE", "/api/weather/abc-123", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got messageResponse
	_ = json.NewDecoder(w.Body).Decode(&got)
	if got.Message != "Weather record deleted successfully" {
		t.Errorf("message = %q", got.Message)
	}
	if weather.gotID != "abc-123" {
		t.Errorf("Delete id = %q, want abc-123", weather.gotID)
	}
}

func TestHandler_Register(t *testing.T) {
	accounts := &fakeAccounts{user: models.User{ID: "user-1", Email: "a@example.com"}}
	router := newTestRouter(&fakeWeather{}, accounts)

	w := doRequest(t, router, "POST", "/api/users/register", `{"email":"a@example.com","password":"secret1"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "User registered successfully") {
		t.Errorf("body = %s", w.Body.String())
	}
	if accounts.gotEmail != "a@example.com" || accounts.gotPassword != "secret1" {
		t.Errorf("Register(%q, %q)", accounts.gotEmail, accounts.gotPassword)
	}
}

func TestHandler_Register_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode string
	}{
		{"short password", `{"email":"a@example.com","password":"12345"}`, nil, "INVALID_REQUEST"},
		{"bad email", `{"email":"not-an-email","password":"secret1"}`, nil, "INVALID_REQUEST"},
		{"duplicate email", `{"email":"a@example.com","password":"secret1"}`, apperror.Validation("email", "Email already in use"), "INVALID_REQUEST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeWeather{}, &fakeAccounts{err: tc.err})

			w := doRequest(t, router, "POST", "/api/users/register", tc.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeError(t, w).Error.Code; got != tc.wantCode {
				t.Errorf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestHandler_Login(t *testing.T) {
	router := newTestRouter(&fakeWeather{}, &fakeAccounts{token: "signed.jwt.token"})

	w := doRequest(t, router, "POST", "/api/users/login", `{"email":"a@example.com","password":"secret1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got map[string]string
	_ = json.NewDecoder(w.Body).Decode(&got)
	if got["token"] != "signed.jwt.token" {
		t.Errorf("token = %q", got["token"])
	}
}

func TestHandler_Login_InvalidCredentials(t *testing.T) {
	router := newTestRouter(&fakeWeather{}, &fakeAccounts{err: users.ErrInvalidCredentials})

	w := doRequest(t, router, "POST", "/api/users/login", `{"email":"a@example.com","password":"wrong-password"}`)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := decodeError(t, w).Error.Code; got != "INVALID_CREDENTIALS" {
		t.Errorf("code = %q", got)
	}
}

func TestHandler_Me(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	accounts := &fakeAccounts{user: models.User{ID: "user-1", Email: "a@example.com", PasswordHash: "$2a$hash", CreatedAt: created}}
	router := newTestRouter(&fakeWeather{}, accounts)

	req := httptest.NewRequest("GET", "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if accounts.gotID != "user-1" {
		t.Errorf("Get(%q), want user-1", accounts.gotID)
	}
	var got map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&got)
	if got["id"] != "user-1" || got["email"] != "a@example.com" || got["createdAt"] == nil {
		t.Errorf("body = %v", got)
	}
	if _, ok := got["passwordHash"]; ok {
		t.Error("password hash must not be returned")
	}
	if _, ok := got["PasswordHash"]; ok {
		t.Error("password hash must not be returned")
	}
}

func TestHandler_Me_RequiresToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + testToken},
		{"invalid token", "Bearer forged"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			accounts := &fakeAccounts{}
			router := newTestRouter(&fakeWeather{}, accounts)

			req := httptest.NewRequest("GET", "/api/users/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if accounts.gotID != "" {
				t.Error("accounts should not be called without a valid token")
			}
		})
	}
}

func newHealthHandler(cfg *HealthConfig, state *lifecycle.State, tracker *traffic.Tracker, logger *zap.Logger) *Handler {
	return NewHandler(&fakeWeather{}, &fakeAccounts{}, state, tracker, cfg, logger)
}

func getHealth(t *testing.T, h *Handler) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest("GET", "/health", nil))
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return w.Code, body
}

// TestHandler_GetHealth verifies that a service with reachable dependencies reports healthy.
func TestHandler_GetHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	h := newHealthHandler(&HealthConfig{StorePing: ok, CachePing: ok}, nil, nil, nil)

	code, body := getHealth(t, h)

	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health = %d %v, want 200 healthy", code, body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	if checks["store"] != "healthy" || checks["cache"] != "healthy" {
		t.Errorf("checks = %v", checks)
	}
	if body["service"] != "weather-records-service" {
		t.Errorf("service = %v", body["service"])
	}
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	state := lifecycle.New()
	state.SetShuttingDown(true)
	h := newHealthHandler(nil, state, nil, nil)

	code, body := getHealth(t, h)

	if code != http.StatusServiceUnavailable || body["status"] != "shutting-down" {
		t.Errorf("health = %d %v, want 503 shutting-down", code, body["status"])
	}
}

func TestHandler_GetHealth_StoreUnreachable(t *testing.T) {
	h := newHealthHandler(&HealthConfig{
		StorePing: func(context.Context) error { return errors.New("connection refused") },
	}, nil, nil, nil)

	code, body := getHealth(t, h)

	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("health = %d %v, want 503 degraded", code, body["status"])
	}
}

// TestHandler_GetHealth_CacheUnreachableStaysHealthy verifies the cache is reported but
// does not fail health, since reads fall back to the store.
func TestHandler_GetHealth_CacheUnreachableStaysHealthy(t *testing.T) {
	h := newHealthHandler(&HealthConfig{
		CachePing: func(context.Context) error { return errors.New("timeout") },
	}, nil, nil, nil)

	code, body := getHealth(t, h)

	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v, want 200 healthy", code, body["status"])
	}
	if checks := body["checks"].(map[string]interface{}); checks["cache"] != "unhealthy" {
		t.Errorf("checks = %v, want cache unhealthy", checks)
	}
}

func TestHandler_GetHealth_DegradedErrorRate(t *testing.T) {
	tracker := traffic.NewTracker(0)
	for i := 0; i < 9; i++ {
		tracker.Record(traffic.Success)
	}
	tracker.Record(traffic.Error)
	h := newHealthHandler(&HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 10}, nil, tracker, nil)

	code, body := getHealth(t, h)

	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("health = %d %v, want 503 degraded at 10%% errors", code, body["status"])
	}
}

func TestHandler_GetHealth_NotDegraded_BelowErrorThreshold(t *testing.T) {
	tracker := traffic.NewTracker(0)
	for i := 0; i < 19; i++ {
		tracker.Record(traffic.Success)
	}
	tracker.Record(traffic.Error)
	tracker.Record(traffic.Denied)
	h := newHealthHandler(&HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 10}, nil, tracker, nil)

	code, body := getHealth(t, h)

	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v, want 200 healthy at 5%% errors", code, body["status"])
	}
	tr := body["traffic"].(map[string]interface{})
	if tr["denied"] != float64(1) || tr["errors"] != float64(1) {
		t.Errorf("traffic = %v", tr)
	}
}

// TestHandler_GetHealth_LogsTransition verifies a status change is logged once with both states.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	state := lifecycle.New()
	h := newHealthHandler(nil, state, nil, zap.New(core))

	getHealth(t, h)
	state.SetShuttingDown(true)
	getHealth(t, h)
	getHealth(t, h)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("got %d transition logs, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "shutting-down" {
		t.Errorf("transition fields = %v", fields)
	}
}
