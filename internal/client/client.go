package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// WeatherClient fetches current conditions from the upstream provider.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city, country string) (models.Observation, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrUnavailable      = errors.New("upstream unavailable")

	errMalformedResponse = errors.New("malformed response")
)

// UpstreamError is a non-success status other than 400 and 401. It unwraps to
// ErrUpstreamFailure; StatusCode is kept for diagnostics.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream failure: HTTP %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamFailure }

const (
	defaultUserAgent = "city-weather-service/1.0"
	maxBodyBytes     = 1 << 20
)

// BreakerConfig configures the circuit breaker around upstream calls.
// A zero FailureThreshold disables the breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	HalfOpenRequests uint32
	OpenTimeout      time.Duration
}

// VisualCrossingClient calls a timeline-style provider:
// GET {apiURL}/{city[,country]}?unitGroup=metric&include=current&key=...&contentType=json.
// Each call is a single attempt; callers retry the whole lookup if they want to.
type VisualCrossingClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewVisualCrossingClient(apiKey, apiURL string, timeout time.Duration) (*VisualCrossingClient, error) {
	return NewVisualCrossingClientWithBreaker(apiKey, apiURL, timeout, BreakerConfig{})
}

func NewVisualCrossingClientWithBreaker(apiKey, apiURL string, timeout time.Duration, bc BreakerConfig) (*VisualCrossingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil || apiURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", apiURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &VisualCrossingClient{
		apiKey:  apiKey,
		apiURL:  strings.TrimRight(apiURL, "/"),
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
	if bc.FailureThreshold > 0 {
		c.breaker = newBreaker(bc)
	}
	return c, nil
}

func newBreaker(bc BreakerConfig) *gobreaker.CircuitBreaker {
	threshold := bc.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather_api",
		MaxRequests: bc.HalfOpenRequests,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Location and credential errors mean the provider is answering.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrLocationNotFound) || errors.Is(err, ErrInvalidAPIKey)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			observability.CircuitBreakerState.Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState returns "closed", "half-open", "open", or "disabled".
func (c *VisualCrossingClient) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

type currentConditionsResponse struct {
	ResolvedAddress   string `json:"resolvedAddress"`
	CurrentConditions *struct {
		Temp       *float64 `json:"temp"`
		Conditions string   `json:"conditions"`
	} `json:"currentConditions"`
}

// GetCurrentWeather fetches and normalizes current conditions for (city, country).
// Errors wrap ErrLocationNotFound (HTTP 400), ErrInvalidAPIKey (HTTP 401),
// *UpstreamError (other non-2xx) or ErrUnavailable (transport, timeout,
// malformed body, open breaker).
func (c *VisualCrossingClient) GetCurrentWeather(ctx context.Context, city, country string) (models.Observation, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, city, country)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, city, country)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.Observation{}, fmt.Errorf("%w: circuit breaker: %w", ErrUnavailable, err)
	}
	if err != nil {
		return models.Observation{}, err
	}
	return result.(models.Observation), nil
}

func (c *VisualCrossingClient) callAPI(ctx context.Context, city, country string) (models.Observation, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, Location(city, country))
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Observation{}, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.Observation{}, fmt.Errorf("%w: http request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return models.Observation{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Observation{}, fmt.Errorf("%w: read response body: %w", ErrUnavailable, err)
	}
	var apiResp currentConditionsResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Observation{}, fmt.Errorf("%w: %w: %w", ErrUnavailable, errMalformedResponse, err)
	}
	if apiResp.CurrentConditions == nil || apiResp.CurrentConditions.Temp == nil {
		return models.Observation{}, fmt.Errorf("%w: %w: missing currentConditions", ErrUnavailable, errMalformedResponse)
	}
	return mapResponse(apiResp, city, country), nil
}

// Location composes the upstream location token: "city" or "city,country".
func Location(city, country string) string {
	if country == "" {
		return city
	}
	return city + "," + country
}

func (c *VisualCrossingClient) buildRequest(ctx context.Context, location string) (*http.Request, error) {
	u, err := url.Parse(c.apiURL + "/" + url.PathEscape(location))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	params := url.Values{}
	params.Set("unitGroup", "metric")
	params.Set("include", "current")
	params.Set("key", c.apiKey)
	params.Set("contentType", "json")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return ErrLocationNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: rejected by provider", ErrInvalidAPIKey)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	return nil
}

func mapResponse(apiResp currentConditionsResponse, city, country string) models.Observation {
	city, country = models.NormalizeIdentity(city, country)
	return models.Observation{
		City:        city,
		Country:     country,
		Temperature: RoundTemperature(*apiResp.CurrentConditions.Temp),
		Description: apiResp.CurrentConditions.Conditions,
		ObservedAt:  time.Now().UTC(),
	}
}

// RoundTemperature rounds to one decimal place, the canonical stored precision.
func RoundTemperature(t float64) float64 {
	return math.Round(t*10) / 10
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues one lookup and reports whether the provider accepts the key.
func (c *VisualCrossingClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: validation request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	return nil
}
