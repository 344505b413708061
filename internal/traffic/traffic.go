// Package traffic keeps sliding windows of lookup outcomes. The health
// endpoint derives degraded and overloaded states from them.
package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept regardless of the query window.
const retention = 5 * time.Minute

// Status is the derived traffic state reported by health checks.
type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusDegraded   Status = "degraded"
	StatusOverloaded Status = "overloaded"
	StatusIdle       Status = "idle"
)

// Thresholds configure Evaluate.
type Thresholds struct {
	Window time.Duration
	// DegradedErrorPct is the upstream failure share (0-100) that marks the service degraded.
	DegradedErrorPct int
	// Capacity is the number of requests per Window the service is sized for
	// (rate limit RPS times the window). OverloadPct of it marks overload.
	Capacity    int
	OverloadPct int
}

// Tracker maintains sliding windows of outcome timestamps. Safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker creates a Tracker. A nil clock uses time.Now.
func NewTracker(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{now: clock}
}

// RecordSuccess records a lookup that produced an answer.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a lookup that failed for service-side reasons
// (upstream unavailable or misconfigured). Caller errors are not recorded.
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes (success + error + denied) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.errorTimes, cutoff) +
		countInWindow(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.deniedTimes, t.now().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are
// excluded from both.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	return errCount, errCount + countInWindow(t.successTimes, cutoff)
}

// Evaluate derives a Status. Overload wins over degraded; an empty window is idle.
func (t *Tracker) Evaluate(th Thresholds) Status {
	if th.Window <= 0 {
		th.Window = time.Minute
	}
	requests := t.RequestCount(th.Window)
	if requests == 0 {
		return StatusIdle
	}
	if th.Capacity > 0 && th.OverloadPct > 0 && requests*100 >= th.Capacity*th.OverloadPct {
		return StatusOverloaded
	}
	if t.DenialCount(th.Window) > 0 && th.OverloadPct > 0 {
		return StatusOverloaded
	}
	errs, total := t.ErrorRate(th.Window)
	if total > 0 && th.DegradedErrorPct > 0 && errs*100 >= total*th.DegradedErrorPct {
		return StatusDegraded
	}
	return StatusHealthy
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}
