package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

func BenchmarkBuildKey(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = BuildKey("  New York ", "US")
	}
}

func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache(time.Hour, time.Minute)
	ctx := context.Background()
	key := BuildKey("seattle", "")
	_ = c.Set(ctx, key, models.Observation{City: "seattle", Temperature: 15.5}, time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, key)
	}
}

func BenchmarkInMemoryCache_Set_Parallel(b *testing.B) {
	c := NewInMemoryCache(time.Hour, time.Minute)
	ctx := context.Background()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = c.Set(ctx, "city"+strconv.Itoa(i%64), models.Observation{Temperature: float64(i)}, time.Minute)
			i++
		}
	})
}
