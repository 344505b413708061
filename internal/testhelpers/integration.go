//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/service"
	"github.com/kjstillabower/city-weather-service/internal/store"
)

const defaultAPIURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

// IntegrationTestConfig holds configuration for tests against live dependencies.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
	MySQLDSN      string // empty selects an in-memory sqlite database
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		MySQLDSN:      os.Getenv("STORE_MYSQL_DSN"),
	}
}

// LiveStack is a service wired to live dependencies.
type LiveStack struct {
	Service *service.WeatherService
	Client  *client.VisualCrossingClient
	Cache   cache.Cache
	Store   store.Store
}

// SetupIntegrationService wires the service to the live upstream, the
// configured cache and a real database. Everything is released via t.Cleanup.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) *LiveStack {
	t.Helper()
	logger := zaptest.NewLogger(t)

	wc := SetupIntegrationClient(t, cfg)

	var hot cache.Cache = cache.NewInMemoryCache(5*time.Minute, time.Minute)
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, 5*time.Minute)
		switch {
		case err != nil:
			t.Logf("memcached not configured (%v), using in-memory cache", err)
		case mc.Ping() != nil:
			t.Logf("memcached not reachable at %s, using in-memory cache", cfg.MemcachedAddr)
			_ = mc.Close()
		default:
			hot = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("using memcached at %s", cfg.MemcachedAddr)
		}
	}

	driver, dsn := store.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	if cfg.MySQLDSN != "" {
		driver, dsn = store.DriverMySQL, cfg.MySQLDSN
	}
	durable, err := store.Open(driver, dsn, store.Options{Logger: logger})
	if err != nil {
		t.Fatalf("store.Open(%s) error = %v", driver, err)
	}
	t.Cleanup(func() { _ = durable.Close() })

	svc := service.NewWeatherService(wc, hot, durable, logger, service.Config{CacheTTL: 5 * time.Minute})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Wait(ctx)
	})
	return &LiveStack{Service: svc, Client: wc, Cache: hot, Store: durable}
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.VisualCrossingClient {
	t.Helper()
	wc, err := client.NewVisualCrossingClient(cfg.APIKey, cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewVisualCrossingClient() error = %v", err)
	}
	return wc
}

