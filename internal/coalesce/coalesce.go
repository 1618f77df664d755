// Package coalesce merges bursts of remote change notifications into at
// most one refresh per frame, and drops the ones that only echo this
// client's own writes.
package coalesce

import (
	"sort"
	"time"
)

// Kind classifies a change notification.
type Kind int

const (
	Upsert Kind = iota
	Delete
)

// Decision is the outcome of one Flush.
type Decision struct {
	// Refresh is true when a data refresh must be requested now.
	Refresh bool
	// Suppressed lists ids dropped as local echoes.
	Suppressed []string
	// Delayed is true when the batch was kept for a later frame.
	Delayed bool
	// IDs is the flushed batch, sorted.
	IDs     []string
	Deletes int
}

// Coalescer is driven from the session loop; it is not safe for
// concurrent use.
type Coalescer struct {
	hold       time.Duration
	smallBatch int

	pending    map[string]Kind
	local      map[string]time.Time
	delayUntil time.Time
}

func New(hold time.Duration, smallBatch int) *Coalescer {
	if smallBatch <= 0 {
		smallBatch = 3
	}
	return &Coalescer{
		hold:       hold,
		smallBatch: smallBatch,
		pending:    make(map[string]Kind),
		local:      make(map[string]time.Time),
	}
}

// Notify records one remote change. Delete wins over any other kind for
// the same id.
func (c *Coalescer) Notify(id string, kind Kind) {
	if prev, ok := c.pending[id]; ok && prev == Delete {
		return
	}
	c.pending[id] = kind
}

// MarkLocal records ids this client just created or updated.
func (c *Coalescer) MarkLocal(now time.Time, ids ...string) {
	for _, id := range ids {
		if id != "" {
			c.local[id] = now
		}
	}
}

// Pending reports whether a batch or a delayed refresh is waiting.
func (c *Coalescer) Pending() bool {
	return len(c.pending) > 0 || !c.delayUntil.IsZero()
}

// Flush decides what to do with everything notified since the last flush.
func (c *Coalescer) Flush(now time.Time) Decision {
	c.expire(now)

	if len(c.pending) == 0 {
		if !c.delayUntil.IsZero() && !now.Before(c.delayUntil) {
			c.delayUntil = time.Time{}
			return Decision{Refresh: true}
		}
		return Decision{Delayed: !c.delayUntil.IsZero()}
	}

	var d Decision
	for id, k := range c.pending {
		d.IDs = append(d.IDs, id)
		if k == Delete {
			d.Deletes++
		}
	}
	sort.Strings(d.IDs)
	c.pending = make(map[string]Kind)

	if d.Deletes > 0 {
		c.delayUntil = time.Time{}
		d.Refresh = true
		return d
	}

	held := 0
	for _, id := range d.IDs {
		if _, ok := c.local[id]; ok {
			held++
		}
	}

	switch {
	case held == len(d.IDs) && len(d.IDs) <= c.smallBatch:
		for _, id := range d.IDs {
			delete(c.local, id)
		}
		d.Suppressed = d.IDs
		if !c.delayUntil.IsZero() {
			d.Delayed = true
		}
		return d
	case held > 0:
		// Ambiguous: wait for the hold to lapse instead of dropping.
		until := c.holdExpiry(d.IDs)
		if until.After(c.delayUntil) {
			c.delayUntil = until
		}
		d.Delayed = true
		return d
	}

	c.delayUntil = time.Time{}
	d.Refresh = true
	return d
}

// expire drops local marks older than the hold window.
func (c *Coalescer) expire(now time.Time) {
	for id, at := range c.local {
		if now.Sub(at) > c.hold {
			delete(c.local, id)
		}
	}
}

func (c *Coalescer) holdExpiry(ids []string) time.Time {
	var latest time.Time
	for _, id := range ids {
		if at, ok := c.local[id]; ok && at.After(latest) {
			latest = at
		}
	}
	return latest.Add(c.hold)
}

// Reset drops pending notifications, marks and delays.
func (c *Coalescer) Reset() {
	c.pending = make(map[string]Kind)
	c.local = make(map[string]time.Time)
	c.delayUntil = time.Time{}
}
