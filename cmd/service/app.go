package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/config"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/service"
	"github.com/kjstillabower/city-weather-service/internal/store"
)

// app bundles the pipeline and the handles needed to probe and close its tiers.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	client    *client.VisualCrossingClient
	hot       cache.Cache
	memcached *cache.MemcachedCache
	durable   store.Store
	storePing func(ctx context.Context) error
	closeDB   func() error
	svc       *service.WeatherService
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configDir == "" {
		return config.Load()
	}
	return config.LoadFrom(opts.configDir)
}

// newApp loads configuration and wires client, cache, store and service.
func newApp(opts *rootOptions) (*app, error) {
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return buildApp(cfg, logger)
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	observability.SetTrackedCities(cfg.TrackedCities)

	var breaker client.BreakerConfig
	if cfg.BreakerEnabled {
		breaker = client.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			HalfOpenRequests: cfg.BreakerHalfOpenRequests,
			OpenTimeout:      cfg.BreakerOpenTimeout,
		}
		logger.Info("circuit breaker enabled",
			zap.Uint32("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.BreakerOpenTimeout))
	}
	wc, err := client.NewVisualCrossingClientWithBreaker(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout, breaker)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	a.client = wc

	switch cfg.CacheBackend {
	case config.CacheBackendMemcached:
		addrs := strings.Join(cfg.MemcachedAddrs, ",")
		mc, err := cache.NewMemcachedCache(addrs, cfg.CacheOpTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.hot, a.memcached = mc, mc
		logger.Info("cache backend: memcached", zap.String("addrs", addrs))
	default:
		a.hot = cache.NewInMemoryCache(cfg.CacheTTL, cfg.CacheTTL/2)
		logger.Info("cache backend: in_memory")
	}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		ms := store.NewMemoryStore(nil)
		a.durable, a.storePing, a.closeDB = ms, ms.Ping, ms.Close
	default:
		gs, err := store.Open(cfg.StoreDriver, cfg.StoreDSN, store.Options{
			Logger:        logger,
			SlowThreshold: cfg.StoreSlowThreshold,
		})
		if err != nil {
			a.closeCache()
			return nil, fmt.Errorf("store: %w", err)
		}
		a.durable, a.storePing, a.closeDB = gs, gs.Ping, gs.Close
	}
	logger.Info("store driver", zap.String("driver", cfg.StoreDriver))

	a.svc = service.NewWeatherService(wc, a.hot, a.durable, logger, service.Config{
		CacheTTL:        cfg.CacheTTL,
		FreshnessWindow: cfg.FreshnessWindow,
		CacheTimeout:    cfg.CacheOpTimeout,
		StoreTimeout:    cfg.StoreOpTimeout,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})
	return a, nil
}

// cachePing is nil for the in-memory backend, which cannot be unreachable.
func (a *app) cachePing() func(ctx context.Context) error {
	if a.memcached == nil {
		return nil
	}
	return func(context.Context) error { return a.memcached.Ping() }
}

func (a *app) closeCache() {
	if a.memcached == nil {
		return
	}
	if err := a.memcached.Close(); err != nil {
		a.logger.Error("memcached close", zap.Error(err))
	}
}

// close drains write-backs, releases the tiers and flushes logs.
func (a *app) close(ctx context.Context) {
	if a.svc != nil {
		if err := a.svc.Wait(ctx); err != nil {
			a.logger.Warn("pending cache writes not completed", zap.Error(err))
		}
	}
	if a.closeDB != nil {
		if err := a.closeDB(); err != nil {
			a.logger.Error("store close", zap.Error(err))
		}
	}
	a.closeCache()
	if err := observability.FlushTelemetry(a.logger); err != nil && !isSyncOnConsole(err) {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// isSyncOnConsole reports the harmless error zap returns when syncing a
// terminal or pipe.
func isSyncOnConsole(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}
