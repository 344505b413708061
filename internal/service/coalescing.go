package service

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// requestCoalescer shares one upstream call between concurrent misses for the
// same key. The shared call runs detached from any single caller's
// cancellation and is bounded by timeout instead.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do runs fn once per key among concurrent callers. Each caller waits at most
// until its own ctx is done.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (external, error)) (external, error) {
	var started atomic.Bool
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		started.Store(true)
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case res := <-ch:
		if !started.Load() {
			observability.RequestCoalescingHitsTotal.Inc()
		}
		if res.Err != nil {
			return external{}, res.Err
		}
		return res.Val.(external), nil
	case <-ctx.Done():
		return external{}, ctx.Err()
	}
}
