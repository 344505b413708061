package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// Cache backends.
const (
	CacheBackendInMemory  = "in_memory"
	CacheBackendMemcached = "memcached"
)

// Store drivers. sqlite and mysql go through GORM; memory is process-local.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverMySQL  = "mysql"
	StoreDriverMemory = "memory"
)

// Config holds service configuration loaded from YAML, .env and env vars.
type Config struct {
	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold uint32
	BreakerHalfOpenRequests uint32
	BreakerOpenTimeout      time.Duration

	CacheBackend          string
	CacheTTL              time.Duration
	CacheOpTimeout        time.Duration
	MemcachedAddrs        []string
	MemcachedMaxIdleConns int

	StoreDriver        string
	StoreDSN           string
	StoreOpTimeout     time.Duration
	StoreSlowThreshold time.Duration
	FreshnessWindow    time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	HealthWindow         time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int

	WarmLocations []models.Identity
	WarmInterval  time.Duration
	WarmTimeout   time.Duration

	AdminToken    string
	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
		Breaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold uint32 `yaml:"failure_threshold"`
			HalfOpenRequests uint32 `yaml:"half_open_requests"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		OpTimeout string `yaml:"op_timeout"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Store struct {
		Driver          string `yaml:"driver"`
		DSN             string `yaml:"dsn"`
		OpTimeout       string `yaml:"op_timeout"`
		SlowThreshold   string `yaml:"slow_query_threshold"`
		FreshnessWindow string `yaml:"freshness_window"`
	} `yaml:"store"`

	Pipeline struct {
		CoalesceEnabled bool   `yaml:"coalesce_enabled"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
	} `yaml:"pipeline"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window               string `yaml:"window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
	} `yaml:"health"`

	Warming struct {
		Locations []string `yaml:"locations"`
		Interval  string   `yaml:"interval"`
		Timeout   string   `yaml:"timeout"`
	} `yaml:"warming"`

	Admin struct {
		Token string `yaml:"token"`
	} `yaml:"admin"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	AdminToken    string `yaml:"admin_token"`
}

// Load reads configuration relative to the working directory. See LoadFrom.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads root/.env (optional, never overrides the environment), then
// root/config/{ENV_NAME}.yaml (default dev) and root/config/secrets.yaml.
// WEATHER_API_KEY, WEATHER_API_URL, CACHE_BACKEND, MEMCACHED_ADDRS,
// STORE_DRIVER, STORE_DSN and ADMIN_TOKEN override the files.
func LoadFrom(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(root, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(root, "config", "secrets.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL,
		"https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.BreakerEnabled = true
	if fc.WeatherAPI.Breaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.WeatherAPI.Breaker.Enabled
	}
	cfg.BreakerFailureThreshold = fc.WeatherAPI.Breaker.FailureThreshold
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerHalfOpenRequests = fc.WeatherAPI.Breaker.HalfOpenRequests
	if cfg.BreakerHalfOpenRequests == 0 {
		cfg.BreakerHalfOpenRequests = 1
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.WeatherAPI.Breaker.OpenTimeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.CacheBackend = normalizeName(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, CacheBackendInMemory))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.CacheOpTimeout = parseDuration(fc.Cache.OpTimeout, 500*time.Millisecond)
	cfg.MemcachedAddrs = splitList(firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211"))
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.StoreDriver = normalizeName(firstNonEmpty(os.Getenv("STORE_DRIVER"), fc.Store.Driver, StoreDriverSQLite))
	cfg.StoreDSN = firstNonEmpty(os.Getenv("STORE_DSN"), fc.Store.DSN)
	if cfg.StoreDSN == "" && cfg.StoreDriver == StoreDriverSQLite {
		cfg.StoreDSN = "weather.db"
	}
	cfg.StoreOpTimeout = parseDuration(fc.Store.OpTimeout, 2*time.Second)
	cfg.StoreSlowThreshold = parseDuration(fc.Store.SlowThreshold, 200*time.Millisecond)
	cfg.FreshnessWindow = parseDuration(fc.Store.FreshnessWindow, 12*time.Hour)

	cfg.CoalesceEnabled = fc.Pipeline.CoalesceEnabled
	cfg.CoalesceTimeout = parseDuration(fc.Pipeline.CoalesceTimeout, cfg.WeatherAPITimeout+cfg.StoreOpTimeout)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}

	for _, loc := range fc.Warming.Locations {
		if id := models.ParseIdentity(loc); id.City != "" {
			cfg.WarmLocations = append(cfg.WarmLocations, id)
		}
	}
	cfg.WarmInterval = parseDuration(fc.Warming.Interval, 30*time.Minute)
	cfg.WarmTimeout = parseDuration(fc.Warming.Timeout, 30*time.Second)

	cfg.AdminToken = firstNonEmpty(os.Getenv("ADMIN_TOKEN"), sec.AdminToken, fc.Admin.Token)
	cfg.TrackedCities = fc.Metrics.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate performs post-load validation. RequestTimeout is raised above the
// worst-case pipeline latency when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if floor := cfg.WeatherAPITimeout + cfg.StoreOpTimeout + cfg.CacheOpTimeout; cfg.RequestTimeout <= floor {
		cfg.RequestTimeout = floor + time.Second
	}
	switch cfg.CacheBackend {
	case CacheBackendInMemory, CacheBackendMemcached:
	default:
		return fmt.Errorf("cache.backend must be %s or %s, got %q", CacheBackendInMemory, CacheBackendMemcached, cfg.CacheBackend)
	}
	switch cfg.StoreDriver {
	case StoreDriverSQLite, StoreDriverMemory:
	case StoreDriverMySQL:
		if cfg.StoreDSN == "" {
			return fmt.Errorf("store.dsn required for driver %s", StoreDriverMySQL)
		}
	default:
		return fmt.Errorf("store.driver must be %s, %s or %s, got %q", StoreDriverSQLite, StoreDriverMySQL, StoreDriverMemory, cfg.StoreDriver)
	}
	if cfg.CacheBackend == CacheBackendMemcached && len(cfg.MemcachedAddrs) == 0 {
		return fmt.Errorf("cache.memcached.addrs required for backend %s", CacheBackendMemcached)
	}
	return nil
}
