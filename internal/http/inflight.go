package http

import (
	"context"
	"net/http"
	"sync"
)

// InFlightTracker counts requests currently being served so shutdown can drain them.
// The zero value is ready to use.
type InFlightTracker struct {
	mu   sync.Mutex
	n    int64
	idle chan struct{} // closed when n drops to zero; nil while idle
}

// Middleware counts each request for its duration.
func (t *InFlightTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.enter()
		defer t.leave()
		next.ServeHTTP(w, r)
	})
}

func (t *InFlightTracker) enter() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *InFlightTracker) leave() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
		t.idle = nil
	}
	t.mu.Unlock()
}

// Count returns the number of requests being served.
func (t *InFlightTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Drain blocks until no request is in flight or ctx is done.
func (t *InFlightTracker) Drain(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
