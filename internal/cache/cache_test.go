package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// TestBuildKey verifies casing, whitespace and the empty-country sentinel collapse
// logically identical queries onto one key.
func TestBuildKey(t *testing.T) {
	tests := []struct {
		name    string
		city    string
		country string
		want    string
	}{
		{name: "lower-cases city", city: "London", country: "", want: "weather:london:_"},
		{name: "trims city", city: "  Paris ", country: "FR", want: "weather:paris:fr"},
		{name: "blank country uses sentinel", city: "paris", country: "   ", want: "weather:paris:_"},
		{name: "keeps inner spaces", city: "New York", country: "us", want: "weather:new york:us"},
		{name: "country named default is its own identity", city: "Springfield", country: "Default", want: "weather:springfield:default"},
		{name: "escapes leading sentinel", city: "x", country: "_", want: "weather:x:__"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildKey(tc.city, tc.country); got != tc.want {
				t.Fatalf("BuildKey(%q, %q) = %q, want %q", tc.city, tc.country, got, tc.want)
			}
		})
	}

	if BuildKey("LONDON", "") != BuildKey("london", "") {
		t.Error("BuildKey should ignore city casing")
	}
}

// TestBuildKey_DistinctIdentities verifies that no explicit country shares a
// key with the country-less identity of the same city.
func TestBuildKey_DistinctIdentities(t *testing.T) {
	bare := BuildKey("Springfield", "")
	for _, country := range []string{"default", "Default", "_", "__", "-", "us"} {
		if got := BuildKey("Springfield", country); got == bare {
			t.Errorf("BuildKey(Springfield, %q) = %q, same as country-less key", country, got)
		}
	}
	if BuildKey("Springfield", "_") == BuildKey("Springfield", "__") {
		t.Error("escaped sentinel countries should not collide")
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves them.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour, time.Minute)

	val := models.Observation{City: "seattle", Temperature: 12.5, Description: "Rain"}
	if err := c.Set(ctx, "seattle", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "seattle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false for unknown keys.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache(time.Hour, time.Minute)

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false once the TTL elapses.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour, time.Minute)

	if err := c.Set(ctx, "seattle", models.Observation{City: "seattle"}, 5*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	_, ok, err := c.Get(ctx, "seattle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
}

// TestInMemoryCache_DeleteFlush verifies the administrative operations.
func TestInMemoryCache_DeleteFlush(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(time.Hour, time.Minute)
	_ = c.Set(ctx, "a", models.Observation{City: "a"}, time.Minute)
	_ = c.Set(ctx, "b", models.Observation{City: "b"}, time.Minute)

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("Get(a) after Delete ok = true, want false")
	}
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}

	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("Get(b) after Flush ok = true, want false")
	}
}

// TestInMemoryCache_CanceledContext verifies a canceled context is reported as an error.
func TestInMemoryCache_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewInMemoryCache(time.Hour, time.Minute)

	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Error("Get() with canceled ctx error = nil, want non-nil")
	}
	if err := c.Set(ctx, "k", models.Observation{}, time.Minute); err == nil {
		t.Error("Set() with canceled ctx error = nil, want non-nil")
	}
}

// TestMemcachedCache_Unreachable verifies that an unreachable server yields an
// error, never a hit, within the configured client timeout.
func TestMemcachedCache_Unreachable(t *testing.T) {
	c, err := NewMemcachedCache("127.0.0.1:1", 100*time.Millisecond, 1, time.Hour)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	start := time.Now()
	_, ok, err := c.Get(context.Background(), BuildKey("london", ""))
	if err == nil {
		t.Fatal("Get() error = nil, want connection error")
	}
	if ok {
		t.Error("Get() ok = true on unreachable server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Get() took %v, want bounded by client timeout", elapsed)
	}
}

// TestMemcachedCache_Key verifies keys are escaped for the memcached protocol.
func TestMemcachedCache_Key(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 0, 0, 0)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	got := c.key(BuildKey("New York", "US"))
	for _, r := range got {
		if r == ' ' || r < 0x21 {
			t.Fatalf("key %q contains a character memcached rejects", got)
		}
	}
	if exp := c.expiration(0); exp != 3600 {
		t.Errorf("expiration(0) = %d, want default 3600", exp)
	}
	if exp := c.expiration(90 * time.Second); exp != 90 {
		t.Errorf("expiration(90s) = %d, want 90", exp)
	}
}
