package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// WeatherFetcher is implemented by the service layer to run one pipeline lookup.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type WeatherFetcher interface {
	Prefetch(ctx context.Context, city, country string) error
}

// CacheWarmer warms the hot tier by running lookups for a fixed set of identities.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
	timeout time.Duration
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds each warming round.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, timeout: timeout}
}

// Warm fetches every identity concurrently. Returns the joined per-identity errors.
func (w *CacheWarmer) Warm(ctx context.Context, ids []models.Identity) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("identities", len(ids)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id models.Identity) {
			defer wg.Done()
			if err := w.fetcher.Prefetch(ctx, id.City, id.Country); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", id, err)
			}
		}(id)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("identities", len(ids)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic schedules Warm every interval, starting immediately, until ctx
// is done. Rounds never overlap.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, ids []models.Identity, interval time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).Do(func() {
		if err := w.Warm(ctx, ids); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	s.StartAsync()
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}
