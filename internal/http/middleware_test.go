package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
)

func TestCorrelationIDMiddleware_Propagated(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var gotID string
	handler := CorrelationIDMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = observability.CorrelationIDFromContext(r.Context())
		observability.LoggerFromContext(r.Context(), nil).Info("inside")
	}))

	req := httptest.NewRequest(http.MethodGet, "/weather/current?city=x", nil)
	req.Header.Set("X-Correlation-ID", "test-correlation-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "test-correlation-123" {
		t.Errorf("X-Correlation-ID = %q, want test-correlation-123", got)
	}
	if gotID != "test-correlation-123" {
		t.Errorf("context correlation id = %q", gotID)
	}
	entries := logs.FilterMessage("inside").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "test-correlation-123" {
		t.Errorf("request logger missing correlation_id: %+v", entries)
	}
}

func TestCorrelationIDMiddleware_Generated(t *testing.T) {
	handler := CorrelationIDMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w1, w2 := httptest.NewRecorder(), httptest.NewRecorder()
	handler.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/health", nil))
	handler.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/health", nil))

	id1, id2 := w1.Header().Get("X-Correlation-ID"), w2.Header().Get("X-Correlation-ID")
	if id1 == "" || id2 == "" {
		t.Fatal("X-Correlation-ID header missing")
	}
	if id1 == id2 {
		t.Errorf("generated ids should differ, both %q", id1)
	}
}

func TestRateLimitMiddleware_DeniesAndRecords(t *testing.T) {
	tracker := traffic.NewTracker(nil)
	limiter := rate.NewLimiter(rate.Every(time.Hour), 2)
	handler := RateLimitMiddleware(limiter, tracker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/weather/current?city=x", nil))
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, codes[i], want[i])
		}
	}
	if got := tracker.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
}

func TestRateLimitMiddleware_OnlyWeatherRoutes(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	router := env.router(RouterConfig{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	do := func(path string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}
	if code := do("/weather/current?city=rome"); code != http.StatusOK {
		t.Fatalf("first weather request = %d", code)
	}
	if code := do("/weather/current?city=rome"); code != http.StatusTooManyRequests {
		t.Errorf("second weather request = %d, want 429", code)
	}
	// Health stays reachable while the weather routes are throttled.
	if code := do("/health"); code == http.StatusTooManyRequests {
		t.Error("/health was rate limited")
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !ok {
		t.Fatal("no deadline on request context")
	}
	if until := time.Until(deadline); until > 50*time.Millisecond {
		t.Errorf("deadline %v away, want <= 50ms", until)
	}
}

func TestTimeoutMiddleware_CancelsSlowHandler(t *testing.T) {
	var ctxErr error
	handler := TimeoutMiddleware(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		ctxErr = r.Context().Err()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if ctxErr != context.DeadlineExceeded {
		t.Errorf("ctx error = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestGetRoute(t *testing.T) {
	router := mux.NewRouter()
	var got string
	router.HandleFunc("/weather/current", func(w http.ResponseWriter, r *http.Request) {
		got = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/weather/current?city=x", nil))
	if got != "/weather/current" {
		t.Errorf("matched route = %q, want /weather/current", got)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/weather/unknown/deep", "/weather/other"},
		{"/admin/whatever", "/admin/other"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := getRoute(httptest.NewRequest(http.MethodGet, tt.path, nil)); got != tt.want {
				t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	inside := make(chan struct{})
	release := make(chan struct{})
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inside)
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		close(done)
	}()

	<-inside
	if got := InFlightCount(); got < 1 {
		t.Errorf("InFlightCount = %d during request, want >= 1", got)
	}
	close(release)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := WaitForInFlight(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForInFlight: %v", err)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}
