package traffic

import (
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTracker() (*Tracker, *testClock) {
	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewTracker(clock.Now), clock
}

// TestRequestCount_Empty verifies that RequestCount returns 0 when no
// requests have been recorded within the time window.
func TestRequestCount_Empty(t *testing.T) {
	tr, _ := newTestTracker()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies that RecordDenied increments both
// DenialCount and RequestCount.
func TestRecordDenied_AndCounts(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordDenied()
	tr.RecordDenied()
	tr.RecordSuccess()
	if n := tr.DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := tr.RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
}

// TestErrorRate_ExcludesDenials verifies denials count toward neither side
// of the error rate.
func TestErrorRate_ExcludesDenials(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	errs, total := tr.ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errs, total)
	}
}

func TestWindowAndPrune(t *testing.T) {
	tr, clock := newTestTracker()
	tr.RecordError()
	clock.Advance(2 * time.Minute)
	tr.RecordSuccess()

	if n := tr.RequestCount(time.Minute); n != 1 {
		t.Errorf("RequestCount(1m) = %d, want 1", n)
	}
	if n := tr.RequestCount(5 * time.Minute); n != 2 {
		t.Errorf("RequestCount(5m) = %d, want 2", n)
	}

	clock.Advance(4 * time.Minute)
	tr.RecordSuccess() // prunes the error older than retention
	if errs, _ := tr.ErrorRate(time.Hour); errs != 0 {
		t.Errorf("ErrorRate errors = %d after retention, want 0", errs)
	}
}

func TestEvaluate(t *testing.T) {
	th := Thresholds{Window: time.Minute, DegradedErrorPct: 10, Capacity: 100, OverloadPct: 80}
	tests := []struct {
		name    string
		success int
		errors  int
		denied  int
		want    Status
	}{
		{name: "no traffic", want: StatusIdle},
		{name: "all good", success: 20, want: StatusHealthy},
		{name: "error rate at threshold", success: 9, errors: 1, want: StatusDegraded},
		{name: "error rate below threshold", success: 19, errors: 1, want: StatusHealthy},
		{name: "near capacity", success: 80, want: StatusOverloaded},
		{name: "denials", success: 5, denied: 1, want: StatusOverloaded},
		{name: "overload wins", success: 70, errors: 10, want: StatusOverloaded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker()
			for i := 0; i < tt.success; i++ {
				tr.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				tr.RecordError()
			}
			for i := 0; i < tt.denied; i++ {
				tr.RecordDenied()
			}
			if got := tr.Evaluate(th); got != tt.want {
				t.Errorf("Evaluate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess()
	tr.RecordError()
	tr.Reset()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() after Reset = %d, want 0", n)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.RecordSuccess()
			} else {
				tr.RecordError()
			}
		}(i)
	}
	wg.Wait()
	if errs, total := tr.ErrorRate(time.Minute); errs != 25 || total != 50 {
		t.Errorf("ErrorRate() = (%d, %d), want (25, 50)", errs, total)
	}
}
