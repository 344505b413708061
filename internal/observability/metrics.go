package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate by route template and status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Watch for: p95/p99 increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Successful lookups by answering tier. Hit ratio = cache / sum.
	WeatherLookupsTotal *prometheus.CounterVec

	// Failed lookups by pipeline error kind (invalid_request, not_found, unauthorized, unavailable).
	WeatherLookupErrorsTotal *prometheus.CounterVec

	// Per-city lookups (allow-list; others go to "other").
	WeatherLookupsByCityTotal *prometheus.CounterVec

	// Hot-cache operations by op (get, set, delete, flush) and result (hit, miss, ok, error).
	CacheOperationsTotal *prometheus.CounterVec

	// Hot-cache round-trip latency.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Durable store operations by op (find_latest, insert, list) and result.
	StoreOperationsTotal *prometheus.CounterVec

	// Durable store faults absorbed or surfaced as warnings. Watch for: any sustained rate.
	StoreFaultsTotal *prometheus.CounterVec

	// Upstream provider calls by status label.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 > 2s (degradation), p99 near the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Upstream errors by category. unauthorized should page: it affects every request.
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Concurrent misses observed for one key (cache stampede).
	CacheStampedeDetectedTotal prometheus.Counter

	// Lookups that joined an in-flight upstream call instead of starting one.
	RequestCoalescingHitsTotal prometheus.Counter

	// Upstream circuit breaker state: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState prometheus.Gauge

	// Cache warming rounds, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	WeatherLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weatherLookupsTotal", Help: "Successful weather lookups by answering tier"},
		[]string{"source"},
	)
	WeatherLookupErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weatherLookupErrorsTotal", Help: "Failed weather lookups by error kind"},
		[]string{"kind"},
	)
	WeatherLookupsByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weatherLookupsByCityTotal", Help: "Weather lookups by city (allow-list; others use city=other)"},
		[]string{"city"},
	)
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheOperationsTotal", Help: "Hot cache operations by op and result"},
		[]string{"op", "result"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Hot cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op", "result"},
	)
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "storeOperationsTotal", Help: "Durable store operations by op and result"},
		[]string{"op", "result"},
	)
	StoreFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "storeFaultsTotal", Help: "Durable store faults by op"},
		[]string{"op"},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weatherApiCallsTotal", Help: "Total number of upstream weather API calls"},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Upstream weather API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weatherApiErrorsTotal", Help: "Upstream weather API errors by category"},
		[]string{"category"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheStampedeDetectedTotal", Help: "Cache misses that overlapped another miss for the same key"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "requestCoalescingHitsTotal", Help: "Lookups that shared an in-flight upstream call"},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Upstream circuit breaker state (0 closed, 1 half-open, 2 open)"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingTotal", Help: "Cache warming rounds started"},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingErrorsTotal", Help: "Cache warming rounds with at least one failure"},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming round duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Total number of requests denied by rate limiter (429)"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherLookupsTotal, WeatherLookupErrorsTotal, WeatherLookupsByCityTotal,
		CacheOperationsTotal, CacheOperationDurationSeconds,
		StoreOperationsTotal, StoreFaultsTotal,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal,
		CacheStampedeDetectedTotal, RequestCoalescingHitsTotal, CircuitBreakerState,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
	)
}

// SetTrackedCities sets the allow-list for per-city metrics. Other cities count as "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCity(c)] = struct{}{}
	}
}

// RecordLookup records a lookup for city against the allow-list.
func RecordLookup(city string) {
	WeatherLookupsByCityTotal.WithLabelValues(CityLabel(city)).Inc()
}

// CityLabel returns the metric label for city: itself when tracked, else "other".
func CityLabel(city string) string {
	c := normalizeCity(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

func normalizeCity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
