package indexer

import (
	appLog "drivecal/internal/log"
	"drivecal/internal/model"
	"drivecal/internal/signature"
)

// Client is the render-side half of the indexer. It turns reservation lists
// into reset/patch requests, tags them with increasing ids and honours only
// the response to the latest id.
//
// A Client is not safe for concurrent use; it belongs to the session loop.
type Client struct {
	worker   *Worker
	fallback bool

	store  signature.Store
	latest uint64

	// Kept for the synchronous fallback.
	month model.MonthKey
	dir   *model.Directory
	list  []model.Reservation
	sync  state

	current  *MonthIndex
	enriched uint64
}

// NewClient wraps w. A nil worker starts in synchronous mode.
func NewClient(w *Worker) *Client {
	return &Client{worker: w, fallback: w == nil}
}

// Sync feeds the latest reservation list. When the new index is available
// immediately (synchronous mode) it is returned with ready=true; otherwise
// the result arrives through Responses and must be passed to Accept.
// An unchanged list issues no work and returns ready=false.
func (c *Client) Sync(month model.MonthKey, dir *model.Directory, list []model.Reservation) (mi *MonthIndex, ready bool) {
	delta := c.store.Update(month, dir, list)
	c.month, c.dir = month, dir
	c.list = append(c.list[:0:0], list...)

	if delta.Empty() {
		return nil, false
	}

	if c.fallback {
		return c.applySync(delta), true
	}

	c.latest++
	req := Request{ID: c.latest, Month: month}
	if delta.Reset {
		req.Kind = KindReset
		req.Directory = dir
		req.Reservations = delta.All
	} else {
		req.Kind = KindPatch
		req.Removals = delta.Removed
		req.Upserts = delta.Upserts
	}
	if err := c.worker.Submit(req); err != nil {
		c.disable(err)
		return c.current, true
	}
	return nil, false
}

// Accept processes a worker response. Responses for anything but the latest
// request are dropped.
func (c *Client) Accept(resp Response) (*MonthIndex, bool) {
	if c.fallback || resp.ID != c.latest {
		appLog.Debug("indexer response dropped", "id", resp.ID, "latest", c.latest)
		return nil, false
	}
	if resp.Kind == KindError {
		c.disable(resp.Err)
		return c.current, true
	}
	c.current = resp.Index
	c.enriched = resp.Enriched
	return c.current, true
}

// disable switches to synchronous indexing for the rest of the session and
// rebuilds from the last known list.
func (c *Client) disable(err error) {
	appLog.Error("indexer worker disabled; falling back to synchronous indexing", err, "month", c.month)
	c.fallback = true
	if c.worker != nil {
		go c.worker.Stop()
	}
	c.current = c.sync.reset(c.month, c.dir, c.list)
}

func (c *Client) applySync(d signature.Delta) *MonthIndex {
	if d.Reset {
		c.current = c.sync.reset(c.month, c.dir, d.All)
		return c.current
	}
	mi, err := c.sync.patch(c.month, d.Removed, d.Upserts)
	if err != nil {
		appLog.Error("synchronous patch failed; rebuilding", err, "month", c.month)
		mi = c.sync.reset(c.month, c.dir, c.list)
	}
	c.current = mi
	return mi
}

// Responses is nil once the client runs synchronously, so a select on it
// simply never fires.
func (c *Client) Responses() <-chan Response {
	if c.fallback || c.worker == nil {
		return nil
	}
	return c.worker.Responses()
}

// Current is the latest accepted index.
func (c *Client) Current() *MonthIndex {
	return c.current
}

// Fallback reports whether the worker has been disabled.
func (c *Client) Fallback() bool {
	return c.fallback
}

// Enriched counts CalendarEvent recomputations by the active backend.
func (c *Client) Enriched() uint64 {
	if c.fallback {
		return c.sync.enriched
	}
	return c.enriched
}

// Forget makes the next Sync a full reset, e.g. after a reconnect.
func (c *Client) Forget() {
	c.store.Forget()
}

// Close stops the worker, if any.
func (c *Client) Close() {
	if c.worker != nil {
		c.worker.Stop()
	}
}
