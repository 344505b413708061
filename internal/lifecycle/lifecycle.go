// Package lifecycle tracks process readiness for health checks.
package lifecycle

import "sync/atomic"

// Phase names reported by health checks.
const (
	PhaseStarting     = "starting"
	PhaseReady        = "ready"
	PhaseShuttingDown = "shutting-down"
)

// State is the process phase. The zero value is starting.
type State struct {
	ready        atomic.Bool
	shuttingDown atomic.Bool
}

// MarkReady is called once the listener is up and warming has been scheduled.
func (s *State) MarkReady() {
	s.ready.Store(true)
}

// BeginShutdown sets the shutdown flag. Call when SIGTERM/SIGINT is received.
// Health returns 503 from then on so load balancers drain the instance.
func (s *State) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// IsShuttingDown reports whether the process is draining.
func (s *State) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Phase returns the current phase. Shutdown wins over ready.
func (s *State) Phase() string {
	switch {
	case s.shuttingDown.Load():
		return PhaseShuttingDown
	case s.ready.Load():
		return PhaseReady
	default:
		return PhaseStarting
	}
}
