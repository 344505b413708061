package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	Tracker        *traffic.Tracker
	// AdminGate authorizes /admin routes. Admin routes are not registered when nil.
	AdminGate mux.MiddlewareFunc
}

// NewRouter wires handlers and middleware.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
	if cfg.RequestTimeout > 0 {
		weatherRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	weatherRouter.HandleFunc("/current", h.GetCurrentWeather).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)

	if cfg.AdminGate != nil {
		adminRouter := router.PathPrefix("/admin").Subrouter()
		adminRouter.Use(cfg.AdminGate)
		adminRouter.HandleFunc("/cache/all", h.DeleteCacheAll).Methods(http.MethodDelete)
		adminRouter.HandleFunc("/cache", h.DeleteCacheEntry).Methods(http.MethodDelete)
	}
	return router
}
