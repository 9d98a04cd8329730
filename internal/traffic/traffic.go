// Package traffic keeps a sliding window of API request outcomes. The health endpoint
// derives the error rate from it.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome int

const (
	Success Outcome = iota
	Error           // 5xx
	Denied          // 429 from the rate limiter
)

// DefaultMaxAge bounds how long outcomes are retained.
const DefaultMaxAge = 5 * time.Minute

type event struct {
	at      time.Time
	outcome Outcome
}

// Snapshot is the outcome counts within a window.
type Snapshot struct {
	Successes int `json:"successes"`
	Errors    int `json:"errors"`
	Denied    int `json:"denied"`
}

// Requests returns the number of outcomes of any kind.
func (s Snapshot) Requests() int {
	return s.Successes + s.Errors + s.Denied
}

// ErrorPct returns errors as a percentage of successes plus errors. Denials are excluded.
// Returns 0 when there were no such requests.
func (s Snapshot) ErrorPct() float64 {
	total := s.Successes + s.Errors
	if total == 0 {
		return 0
	}
	return float64(s.Errors) * 100 / float64(total)
}

// Tracker records outcome timestamps in arrival order. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	events []event
	maxAge time.Duration
	now    func() time.Time
}

// NewTracker returns a Tracker retaining outcomes for maxAge (DefaultMaxAge when <= 0).
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// Record appends an outcome at the current time and prunes expired ones.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Window counts outcomes recorded within window of now.
func (t *Tracker) Window(window time.Duration) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	var s Snapshot
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		switch t.events[i].outcome {
		case Success:
			s.Successes++
		case Error:
			s.Errors++
		case Denied:
			s.Denied++
		}
	}
	return s
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
