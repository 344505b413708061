package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/lifecycle"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/service"
	"github.com/kjstillabower/city-weather-service/internal/store"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
	"github.com/kjstillabower/city-weather-service/internal/validation"
)

// HealthConfig holds the probes and thresholds used by GetHealth. Nil probes are skipped.
type HealthConfig struct {
	Thresholds traffic.Thresholds
	// CachePing checks hot-cache reachability. Set when the backend is memcached.
	CachePing func(ctx context.Context) error
	// StorePing checks durable store reachability.
	StorePing func(ctx context.Context) error
	// BreakerState reports the upstream circuit breaker state ("closed", "half-open", "open", "disabled").
	BreakerState func() string
	Version      string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	healthConfig     *HealthConfig
	tracker          *traffic.Tracker
	state            *lifecycle.State
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker and state may be nil.
func NewHandler(
	weatherService *service.WeatherService,
	healthConfig *HealthConfig,
	tracker *traffic.Tracker,
	state *lifecycle.State,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = traffic.NewTracker(nil)
	}
	if state == nil {
		state = &lifecycle.State{}
	}
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	return &Handler{
		weatherService: weatherService,
		healthConfig:   healthConfig,
		tracker:        tracker,
		state:          state,
		logger:         logger,
	}
}

// currentResponse is the body of a successful current-weather lookup.
type currentResponse struct {
	Data     models.Observation `json:"data"`
	Source   models.Provenance  `json:"source"`
	Warnings []string           `json:"warnings"`
}

// GetCurrentWeather handles GET /weather/current?city=&country=.
func (h *Handler) GetCurrentWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query, err := validation.ValidateQuery(q.Get("city"), q.Get("country"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.weatherService.GetWeather(r.Context(), query.City, query.Country)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, currentResponse{
		Data:     result.Observation,
		Source:   result.Provenance,
		Warnings: warnings,
	})
}

// GetHistory handles GET /weather/history?city=&country=&limit=&offset=.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := atoiOrZero(q.Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer")
		return
	}
	offset, err := atoiOrZero(q.Get("offset"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "offset must be an integer")
		return
	}
	hq, err := validation.ValidateHistoryQuery(q.Get("city"), q.Get("country"), limit, offset)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	list, err := h.weatherService.History(r.Context(), store.ListFilter{
		City:       hq.City,
		Country:    hq.Country,
		HasCountry: q.Has("country"),
		Limit:      hq.Limit,
		Offset:     hq.Offset,
	})
	if err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("history query failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Unable to read weather history")
		return
	}
	if list == nil {
		list = []models.Observation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  list,
		"count": len(list),
	})
}

// DeleteCacheEntry handles DELETE /admin/cache?city=&country=.
func (h *Handler) DeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query, err := validation.ValidateQuery(q.Get("city"), q.Get("country"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := h.weatherService.Invalidate(r.Context(), query.City, query.Country); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("cache invalidate failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Unable to invalidate cache entry")
		return
	}
	city, country := models.NormalizeIdentity(query.City, query.Country)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"city":    city,
		"country": country,
	})
}

// DeleteCacheAll handles DELETE /admin/cache/all.
func (h *Handler) DeleteCacheAll(w http.ResponseWriter, r *http.Request) {
	if err := h.weatherService.ClearCache(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("cache clear failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Unable to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
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

	version := h.healthConfig.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"phase":     h.state.Phase(),
		"service":   "city-weather-service",
		"version":   version,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > dependency failure > overloaded > degraded > idle > healthy.
// Cache unreachability is reported but never degrades the service.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if h.state.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if ping := h.healthConfig.CachePing; ping != nil {
		checks["cache"] = probe(ctx, ping)
	}
	storeOK := true
	if ping := h.healthConfig.StorePing; ping != nil {
		checks["store"] = probe(ctx, ping)
		storeOK = checks["store"] == "healthy"
	}
	breakerOpen := false
	if state := h.healthConfig.BreakerState; state != nil {
		s := state()
		breakerOpen = s == "open"
		checks["weatherApi"] = "healthy"
		if breakerOpen {
			checks["weatherApi"] = "unhealthy"
		}
	}

	switch {
	case breakerOpen:
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open", checks}
	case !storeOK:
		return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable", checks}
	}

	switch h.tracker.Evaluate(h.healthConfig.Thresholds) {
	case traffic.StatusOverloaded:
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold", checks}
	case traffic.StatusDegraded:
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
	case traffic.StatusIdle:
		return healthResult{"idle", http.StatusOK, "low_traffic", checks}
	default:
		return healthResult{"healthy", http.StatusOK, "", checks}
	}
}

func probe(ctx context.Context, ping func(context.Context) error) string {
	if err := ping(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError maps pipeline errors onto HTTP responses and records
// service-side failures for health evaluation.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "City not found")
	case errors.Is(err, service.ErrUnauthorized):
		h.tracker.RecordError()
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_MISCONFIGURED", "Weather provider rejected the service credentials")
	default:
		h.tracker.RecordError()
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	}
	logger.Debug("lookup failed", zap.Error(err))
}
