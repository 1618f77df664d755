package coalesce

import (
	"context"
	"sync"

	appLog "drivecal/internal/log"
)

// Refresher runs a refresh function with at most one call in flight.
// Requests arriving meanwhile collapse into a single follow-up run.
type Refresher struct {
	fn func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	queued  bool
	runs    uint64
	wg      sync.WaitGroup
}

func NewRefresher(fn func(ctx context.Context) error) *Refresher {
	return &Refresher{fn: fn}
}

// Request starts a refresh, or queues one if a refresh is in flight. It
// reports whether a new run was started.
func (r *Refresher) Request(ctx context.Context) bool {
	r.mu.Lock()
	if r.running {
		r.queued = true
		r.mu.Unlock()
		return false
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx)
	return true
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		if err := r.fn(ctx); err != nil {
			appLog.Error("refresh failed", err)
		}

		r.mu.Lock()
		r.runs++
		if !r.queued || ctx.Err() != nil {
			r.running = false
			r.queued = false
			r.mu.Unlock()
			return
		}
		r.queued = false
		r.mu.Unlock()
	}
}

// InFlight reports whether a refresh is running.
func (r *Refresher) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Runs returns how many refreshes completed.
func (r *Refresher) Runs() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Wait blocks until no refresh is running.
func (r *Refresher) Wait() {
	r.wg.Wait()
}
