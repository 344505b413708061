package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/store"
)

// Pipeline errors. The upstream cause stays in the chain for diagnostics.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("city not found")
	ErrUnauthorized   = errors.New("upstream rejected credentials")
	ErrUnavailable    = errors.New("weather source unavailable")
)

// Defaults applied by NewWeatherService for zero Config fields.
const (
	DefaultCacheTTL        = time.Hour
	DefaultFreshnessWindow = 12 * time.Hour
	DefaultCacheTimeout    = 500 * time.Millisecond
	DefaultStoreTimeout    = 2 * time.Second
)

// Config tunes the pipeline. CacheTTL and FreshnessWindow are independent.
type Config struct {
	CacheTTL        time.Duration
	FreshnessWindow time.Duration
	CacheTimeout    time.Duration
	StoreTimeout    time.Duration
	// CoalesceEnabled shares one upstream call between concurrent misses for the same key.
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	Clock           func() time.Time
}

// Result is a successful lookup.
type Result struct {
	Observation models.Observation
	Provenance  models.Provenance
	// Warnings carries non-fatal faults, e.g. an observation that could not be persisted.
	Warnings []string
}

// WeatherService is the read-through pipeline: hot cache, then durable store
// within the freshness window, then the upstream provider. Lower tiers write
// back into the tiers above them.
type WeatherService struct {
	client    client.WeatherClient
	cache     cache.Cache
	store     store.Store
	logger    *zap.Logger
	cfg       Config
	stampede  *stampedeTracker
	coalescer *requestCoalescer // nil when coalescing is disabled

	pending sync.WaitGroup // async cache write-backs
}

// NewWeatherService creates a WeatherService over injected tier handles.
func NewWeatherService(c client.WeatherClient, hot cache.Cache, durable store.Store, logger *zap.Logger, cfg Config) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = DefaultCacheTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	var coalescer *requestCoalescer
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(cfg.CoalesceTimeout)
	}
	return &WeatherService{
		client:    c,
		cache:     hot,
		store:     durable,
		logger:    logger,
		cfg:       cfg,
		stampede:  newStampedeTracker(),
		coalescer: coalescer,
	}
}

// GetWeather answers from the cheapest tier that has a usable record.
// Only upstream failures fail the call; cache and store faults degrade.
func (s *WeatherService) GetWeather(ctx context.Context, city, country string) (Result, error) {
	city, country = models.NormalizeIdentity(city, country)
	if city == "" {
		observability.WeatherLookupErrorsTotal.WithLabelValues("invalid_request").Inc()
		return Result{}, fmt.Errorf("%w: city is required", ErrInvalidRequest)
	}
	logger := observability.LoggerFromContext(ctx, s.logger).With(
		zap.String("city", city), zap.String("country", country))
	start := time.Now()
	key := cache.BuildKey(city, country)
	observability.RecordLookup(city)

	if obs, ok := s.cacheGet(ctx, logger, key); ok {
		logger.Debug("weather served", zap.String("source", string(models.ProvenanceCache)), zap.Duration("duration", time.Since(start)))
		return s.served(Result{Observation: obs, Provenance: models.ProvenanceCache}), nil
	}

	if obs, ok := s.storeFind(ctx, logger, city, country); ok {
		s.writeBack(ctx, logger, key, obs)
		logger.Debug("weather served", zap.String("source", string(models.ProvenanceStore)), zap.Duration("duration", time.Since(start)))
		return s.served(Result{Observation: obs, Provenance: models.ProvenanceStore}), nil
	}

	if n := s.stampede.RecordMiss(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		logger.Debug("concurrent miss", zap.Int("in_flight", n))
	}
	defer s.stampede.RecordDone(key)

	var (
		out external
		err error
	)
	if s.coalescer != nil {
		out, err = s.coalescer.Do(ctx, key, func(ctx context.Context) (external, error) {
			return s.fetchExternal(ctx, logger, city, country)
		})
	} else {
		out, err = s.fetchExternal(ctx, logger, city, country)
	}
	if err != nil {
		return Result{}, s.lookupError(logger, city, country, err)
	}

	s.cacheSet(ctx, logger, key, out.obs)
	logger.Debug("weather served", zap.String("source", string(models.ProvenanceExternal)), zap.Duration("duration", time.Since(start)))
	return s.served(Result{Observation: out.obs, Provenance: models.ProvenanceExternal, Warnings: out.warnings}), nil
}

func (s *WeatherService) served(r Result) Result {
	observability.WeatherLookupsTotal.WithLabelValues(string(r.Provenance)).Inc()
	return r
}

// external is the outcome of the upstream tier: the stored (or raw) record and
// any persistence warning.
type external struct {
	obs      models.Observation
	warnings []string
}

// fetchExternal calls the provider and persists the result. A failed insert
// downgrades to a warning and the raw record is returned.
func (s *WeatherService) fetchExternal(ctx context.Context, logger *zap.Logger, city, country string) (external, error) {
	obs, err := s.client.GetCurrentWeather(ctx, city, country)
	if err != nil {
		return external{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	stored, err := s.store.Insert(storeCtx, obs)
	if err != nil {
		observability.StoreOperationsTotal.WithLabelValues("insert", "error").Inc()
		observability.StoreFaultsTotal.WithLabelValues("insert").Inc()
		logger.Error("persist observation failed", zap.Error(err))
		return external{obs: obs, warnings: []string{"observation was not persisted: durable store unavailable"}}, nil
	}
	observability.StoreOperationsTotal.WithLabelValues("insert", "ok").Inc()
	return external{obs: stored}, nil
}

// lookupError maps an upstream failure onto the pipeline taxonomy.
func (s *WeatherService) lookupError(logger *zap.Logger, city, country string, err error) error {
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
	id := models.Identity{City: city, Country: country}
	switch {
	case errors.Is(err, client.ErrLocationNotFound):
		observability.WeatherLookupErrorsTotal.WithLabelValues("not_found").Inc()
		logger.Info("location not found upstream")
		return fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	case errors.Is(err, client.ErrInvalidAPIKey):
		observability.WeatherLookupErrorsTotal.WithLabelValues("unauthorized").Inc()
		logger.Error("upstream rejected api key", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	default:
		observability.WeatherLookupErrorsTotal.WithLabelValues("unavailable").Inc()
		logger.Warn("upstream unavailable", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, id, err)
	}
}

// cacheGet reads the hot tier. Faults are logged and count as a miss.
func (s *WeatherService) cacheGet(ctx context.Context, logger *zap.Logger, key string) (models.Observation, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	start := time.Now()
	obs, ok, err := s.cache.Get(ctx, key)
	result := "miss"
	switch {
	case err != nil:
		result = "error"
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		result = "hit"
	}
	observability.CacheOperationsTotal.WithLabelValues("get", result).Inc()
	observability.CacheOperationDurationSeconds.WithLabelValues("get", result).Observe(time.Since(start).Seconds())
	return obs, err == nil && ok
}

func (s *WeatherService) cacheSet(ctx context.Context, logger *zap.Logger, key string, obs models.Observation) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	start := time.Now()
	result := "ok"
	if err := s.cache.Set(ctx, key, obs, s.cfg.CacheTTL); err != nil {
		result = "error"
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	observability.CacheOperationsTotal.WithLabelValues("set", result).Inc()
	observability.CacheOperationDurationSeconds.WithLabelValues("set", result).Observe(time.Since(start).Seconds())
}

// writeBack sets the hot tier without blocking the caller. The write outlives
// the request context but is still bounded by the cache timeout.
func (s *WeatherService) writeBack(ctx context.Context, logger *zap.Logger, key string, obs models.Observation) {
	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.cacheSet(bg, logger, key, obs)
	}()
}

// storeFind queries the durable tier within the freshness window. A fault is
// recorded and treated as a miss.
func (s *WeatherService) storeFind(ctx context.Context, logger *zap.Logger, city, country string) (models.Observation, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	notOlderThan := s.cfg.Clock().Add(-s.cfg.FreshnessWindow)
	obs, ok, err := s.store.FindLatest(ctx, city, country, notOlderThan)
	switch {
	case err != nil:
		observability.StoreOperationsTotal.WithLabelValues("find_latest", "error").Inc()
		observability.StoreFaultsTotal.WithLabelValues("find_latest").Inc()
		logger.Warn("store query failed, falling through to upstream", zap.Error(err))
		return models.Observation{}, false
	case ok:
		observability.StoreOperationsTotal.WithLabelValues("find_latest", "hit").Inc()
	default:
		observability.StoreOperationsTotal.WithLabelValues("find_latest", "miss").Inc()
	}
	return obs, ok
}

// Prefetch runs one lookup and discards the result. Used by the cache warmer.
func (s *WeatherService) Prefetch(ctx context.Context, city, country string) error {
	_, err := s.GetWeather(ctx, city, country)
	return err
}

// Invalidate drops the hot-cache entry for one identity.
func (s *WeatherService) Invalidate(ctx context.Context, city, country string) error {
	city, country = models.NormalizeIdentity(city, country)
	if city == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidRequest)
	}
	key := cache.BuildKey(city, country)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, key); err != nil {
		observability.CacheOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	observability.CacheOperationsTotal.WithLabelValues("delete", "ok").Inc()
	observability.LoggerFromContext(ctx, s.logger).Info("cache entry invalidated", zap.String("key", key))
	return nil
}

// ClearCache drops every hot-cache entry.
func (s *WeatherService) ClearCache(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	if err := s.cache.Flush(ctx); err != nil {
		observability.CacheOperationsTotal.WithLabelValues("flush", "error").Inc()
		return fmt.Errorf("clear cache: %w", err)
	}
	observability.CacheOperationsTotal.WithLabelValues("flush", "ok").Inc()
	observability.LoggerFromContext(ctx, s.logger).Info("cache cleared")
	return nil
}

// History lists stored observations newest first.
func (s *WeatherService) History(ctx context.Context, filter store.ListFilter) ([]models.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	list, err := s.store.List(ctx, filter)
	if err != nil {
		observability.StoreOperationsTotal.WithLabelValues("list", "error").Inc()
		observability.StoreFaultsTotal.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("list history: %w", err)
	}
	observability.StoreOperationsTotal.WithLabelValues("list", "ok").Inc()
	return list, nil
}

// Wait blocks until pending cache write-backs finish or ctx is done.
func (s *WeatherService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
