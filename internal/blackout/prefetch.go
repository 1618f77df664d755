// Package blackout caches per-instructor unavailability for the displayed
// month and keeps it current.
package blackout

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

// Source lists the unavailability rules of one instructor.
type Source interface {
	ListBlackouts(ctx context.Context, instructorID string, from, to time.Time) ([]model.BlackoutRule, error)
}

// Router sends instructors with a dedicated feed to it and everybody else
// to Default.
type Router struct {
	Feeds   map[string]Source
	Default Source
}

func (r Router) ListBlackouts(ctx context.Context, instructorID string, from, to time.Time) ([]model.BlackoutRule, error) {
	if s, ok := r.Feeds[instructorID]; ok && s != nil {
		return s.ListBlackouts(ctx, instructorID, from, to)
	}
	if r.Default == nil {
		return nil, nil
	}
	return r.Default.ListBlackouts(ctx, instructorID, from, to)
}

// Prefetcher owns the BlackoutSet: instructor id to blocked slot keys.
type Prefetcher struct {
	src   Source
	limit int

	mu       sync.Mutex
	month    model.MonthKey
	gen      uint64
	sets     map[string]map[string]bool
	inflight map[string]bool
	onChange func(instructorID string)
}

func New(src Source, concurrency int) *Prefetcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	p := &Prefetcher{src: src, limit: concurrency}
	p.Reset()
	return p
}

// OnChange registers a callback fired after an instructor's set changes.
func (p *Prefetcher) OnChange(fn func(instructorID string)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// SetMonth switches the cached month. Switching drops every set and
// invalidates running fetches.
func (p *Prefetcher) SetMonth(m model.MonthKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.month == m {
		return
	}
	p.month = m
	p.resetLocked()
}

// Reset drops all cached sets and invalidates running fetches.
func (p *Prefetcher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Prefetcher) resetLocked() {
	p.gen++
	p.sets = make(map[string]map[string]bool)
	p.inflight = make(map[string]bool)
}

// Invalidate makes completions of running fetches be ignored. Cached sets
// stay.
func (p *Prefetcher) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.inflight = make(map[string]bool)
}

// Ensure fetches the instructor's rules unless they are cached or already
// being fetched. A failed fetch caches an empty set.
func (p *Prefetcher) Ensure(ctx context.Context, instructorID string) {
	p.mu.Lock()
	if _, ok := p.sets[instructorID]; ok || p.inflight[instructorID] || p.month == "" {
		p.mu.Unlock()
		return
	}
	p.inflight[instructorID] = true
	gen, month := p.gen, p.month
	p.mu.Unlock()

	from, to := month.Range()
	rules, err := p.src.ListBlackouts(ctx, instructorID, from, to)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	delete(p.inflight, instructorID)
	if err != nil && ctx.Err() != nil {
		// Cancelled, not failed: leave uncached so the next run retries.
		p.mu.Unlock()
		return
	}
	set := map[string]bool{}
	if err != nil {
		appLog.Warn("blackout fetch failed, treating as available",
			"instructor", instructorID, "month", month, "err", err)
	} else {
		set = Expand(rules, from, to)
	}
	p.sets[instructorID] = set
	cb := p.onChange
	p.mu.Unlock()

	if cb != nil {
		cb(instructorID)
	}
}

// PrefetchAll ensures every instructor with bounded concurrency and waits
// for the run to finish.
func (p *Prefetcher) PrefetchAll(ctx context.Context, instructorIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for _, id := range instructorIDs {
		g.Go(func() error {
			p.Ensure(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Toggle patches one slot of a cached set in place. Uncached instructors
// are left alone; their next fetch will include the change.
func (p *Prefetcher) Toggle(instructorID, key string, blocked bool) bool {
	p.mu.Lock()
	set, ok := p.sets[instructorID]
	if !ok || set[key] == blocked {
		p.mu.Unlock()
		return false
	}
	if blocked {
		set[key] = true
	} else {
		delete(set, key)
	}
	cb := p.onChange
	p.mu.Unlock()

	if cb != nil {
		cb(instructorID)
	}
	return true
}

// Refetch drops one instructor's set and fetches it again.
func (p *Prefetcher) Refetch(ctx context.Context, instructorID string) {
	p.mu.Lock()
	delete(p.sets, instructorID)
	delete(p.inflight, instructorID)
	p.mu.Unlock()
	p.Ensure(ctx, instructorID)
}

// Cached reports whether the instructor's set is loaded.
func (p *Prefetcher) Cached(instructorID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sets[instructorID]
	return ok
}

// Blocked reports whether the slot key is unavailable.
func (p *Prefetcher) Blocked(instructorID, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sets[instructorID][key]
}

// Snapshot returns the sorted keys of one instructor.
func (p *Prefetcher) Snapshot(instructorID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.sets[instructorID]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns a copy of every cached set.
func (p *Prefetcher) All() map[string][]string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sets))
	for id := range p.sets {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		out[id] = p.Snapshot(id)
	}
	return out
}
