package service

import (
	"sync"
)

// stampedeTracker counts in-progress cache misses per key. A count above one means
// concurrent requests are all about to go upstream for the same city.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// Enter records a miss for key and returns the number of misses now in progress.
// Callers must defer Leave(key).
func (st *stampedeTracker) Enter(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active[key]++
	return st.active[key]
}

// Leave marks one miss for key as resolved.
func (st *stampedeTracker) Leave(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if n, ok := st.active[key]; ok {
		if n <= 1 {
			delete(st.active, key)
			return
		}
		st.active[key] = n - 1
	}
}
