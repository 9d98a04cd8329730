package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-records-service/internal/observability"
	"github.com/kjstillabower/weather-records-service/internal/traffic"
)

// RouterConfig holds the middleware settings for NewRouter.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration // zero disables the /api deadline
	Verifier       TokenVerifier
	Traffic        *traffic.Tracker
	InFlight       *InFlightTracker
}

// NewRouter registers the health, metrics, user and weather routes on a new router.
// /api routes are rate limited, bounded by RequestTimeout and counted in Traffic.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := cfg.Traffic
	if tracker == nil {
		tracker = h.traffic
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	if cfg.InFlight != nil {
		router.Use(cfg.InFlight.Middleware)
	}
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(TrafficMiddleware(tracker))
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}

	api.HandleFunc("/users/register", h.Register).Methods(http.MethodPost)
	api.HandleFunc("/users/login", h.Login).Methods(http.MethodPost)
	api.Handle("/users/me", AuthMiddleware(cfg.Verifier)(http.HandlerFunc(h.Me))).Methods(http.MethodGet)

	api.HandleFunc("/weather", h.ListWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather", h.FetchWeather).Methods(http.MethodPost)
	api.HandleFunc("/weather/latest/{cityName}", h.GetLatestWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/{id}", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/{id}", h.UpdateWeather).Methods(http.MethodPut)
	api.HandleFunc("/weather/{id}", h.DeleteWeather).Methods(http.MethodDelete)

	return router
}
