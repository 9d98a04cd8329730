package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-records-service/internal/apperror"
	"github.com/kjstillabower/weather-records-service/internal/lifecycle"
	"github.com/kjstillabower/weather-records-service/internal/models"
	"github.com/kjstillabower/weather-records-service/internal/observability"
	"github.com/kjstillabower/weather-records-service/internal/traffic"
	"github.com/kjstillabower/weather-records-service/internal/users"
	"github.com/kjstillabower/weather-records-service/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// WeatherRecords is the weather record pipeline served under /api/weather.
type WeatherRecords interface {
	FetchAndStore(ctx context.Context, cityName, country string) (models.Weather, error)
	GetAll(ctx context.Context) ([]models.Weather, error)
	GetByID(ctx context.Context, id string) (models.Weather, error)
	GetLatest(ctx context.Context, cityName string) (models.Weather, error)
	Update(ctx context.Context, id string, u models.WeatherUpdate) (models.Weather, error)
	Delete(ctx context.Context, id string) error
}

// Accounts registers, authenticates and looks up users.
type Accounts interface {
	Register(ctx context.Context, email, password string) (models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	Get(ctx context.Context, id string) (models.User, error)
}

// HealthConfig holds thresholds and dependency checks for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// PingTimeout bounds each dependency check. Zero means two seconds.
	PingTimeout time.Duration
	// StorePing, when set, checks record store reachability. Failure marks the service degraded.
	StorePing func(ctx context.Context) error
	// CachePing, when set, checks cache reachability. Failure is reported but the
	// service stays healthy since reads fall back to the store.
	CachePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherRecords
	accounts         Accounts
	state            *lifecycle.State
	traffic          *traffic.Tracker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(
	weather WeatherRecords,
	accounts Accounts,
	state *lifecycle.State,
	tracker *traffic.Tracker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if state == nil {
		state = lifecycle.New()
	}
	if tracker == nil {
		tracker = traffic.NewTracker(0)
	}
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:      weather,
		accounts:     accounts,
		state:        state,
		traffic:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// FetchWeather handles POST /api/weather.
func (h *Handler) FetchWeather(w http.ResponseWriter, r *http.Request) {
	var req validation.FetchWeatherRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.Normalize()
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	rec, err := h.weather.FetchAndStore(r.Context(), req.CityName, req.Country)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListWeather handles GET /api/weather.
func (h *Handler) ListWeather(w http.ResponseWriter, r *http.Request) {
	recs, err := h.weather.GetAll(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.Weather{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetWeather handles GET /api/weather/{id}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	rec, err := h.weather.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetLatestWeather handles GET /api/weather/latest/{cityName}.
func (h *Handler) GetLatestWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateLocation(mux.Vars(r)["cityName"])
	if err != nil {
		h.writeServiceError(w, r, apperror.Validation("cityName", err.Error()))
		return
	}
	rec, err := h.weather.GetLatest(r.Context(), city)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateWeather handles PUT /api/weather/{id}.
func (h *Handler) UpdateWeather(w http.ResponseWriter, r *http.Request) {
	var req validation.UpdateWeatherRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := validation.Update(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	rec, err := h.weather.Update(r.Context(), mux.Vars(r)["id"], req.ToUpdate())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteWeather handles DELETE /api/weather/{id}. Deleting an absent id succeeds.
func (h *Handler) DeleteWeather(w http.ResponseWriter, r *http.Request) {
	if err := h.weather.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Weather record deleted successfully"})
}

// Register handles POST /api/users/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req validation.CredentialsRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if _, err := h.accounts.Register(r.Context(), req.Email, req.Password); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "User registered successfully"})
}

// Login handles POST /api/users/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req validation.CredentialsRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Me handles GET /api/users/me. Requires AuthMiddleware.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	u, err := h.accounts.Get(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
	traffic    traffic.Snapshot
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"uptime":    h.state.Uptime().String(),
		"checks":    result.checks,
		"traffic":   result.traffic,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > store unreachable > error rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	cfg := h.healthConfig
	window := cfg.DegradedWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	result := healthResult{
		status:     "healthy",
		statusCode: http.StatusOK,
		checks:     make(map[string]string),
		traffic:    h.traffic.Window(window),
	}

	if h.state.IsShuttingDown() {
		result.status, result.statusCode, result.reason = "shutting-down", http.StatusServiceUnavailable, "signal"
		return result
	}

	storeOK := h.ping(ctx, cfg.StorePing, "store", result.checks)
	h.ping(ctx, cfg.CachePing, "cache", result.checks)
	if !storeOK {
		result.status, result.statusCode, result.reason = "degraded", http.StatusServiceUnavailable, "store_unreachable"
		return result
	}

	if cfg.DegradedErrorPct > 0 && result.traffic.ErrorPct() >= float64(cfg.DegradedErrorPct) {
		result.status, result.statusCode, result.reason = "degraded", http.StatusServiceUnavailable, "error_rate_breach"
	}
	return result
}

// ping runs check (when set) and records the outcome under name. Returns false only on failure.
func (h *Handler) ping(ctx context.Context, check func(context.Context) error, name string, checks map[string]string) bool {
	if check == nil {
		return true
	}
	timeout := h.healthConfig.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := check(ctx); err != nil {
		h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		checks[name] = "unhealthy"
		return false
	}
	checks[name] = "healthy"
	return true
}

// decodeBody decodes a JSON body into v, writing a 400 and returning false on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Debug("invalid request body", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON")
		return false
	}
	return true
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with code, message and the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError maps a domain error to its HTTP status and error code.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	var verr *apperror.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", verr.Error())
	case apperror.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, users.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case apperror.IsUpstream(err):
		logger.Debug("upstream error", zap.Error(errors.Unwrap(err)))
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error())
	case apperror.IsStore(err):
		logger.Error("store unavailable", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "STORE_UNAVAILABLE", "Weather store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
