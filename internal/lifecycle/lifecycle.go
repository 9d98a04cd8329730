// Package lifecycle tracks process state reported by the health endpoint.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// State records when the process started and whether it is draining.
// The zero value is not usable; call New.
type State struct {
	started      time.Time
	now          func() time.Time
	shuttingDown atomic.Bool
}

// New returns a State started at the current time.
func New() *State {
	return NewWithClock(time.Now)
}

// NewWithClock returns a State using now as its clock.
func NewWithClock(now func() time.Time) *State {
	return &State{started: now(), now: now}
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health returns 503 with status shutting-down while true.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func (s *State) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Uptime returns the time since New, truncated to seconds.
func (s *State) Uptime() time.Duration {
	return s.now().Sub(s.started).Truncate(time.Second)
}
