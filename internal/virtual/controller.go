package virtual

import (
	"math"
	"sort"
	"time"
)

// lookaheadFrames is how many frames of travel the pan overscan covers.
const lookaheadFrames = 4

// Config tunes the controller.
type Config struct {
	Overscan       int
	PanOverscanMax int
	StickyCapacity int
	SyncHydrate    int
	HydrateBatch   int
	PanRecompute   time.Duration
}

// State is a read-only view of the three day sets, as sorted layout indices.
type State struct {
	Visible  []int
	Sticky   []int
	Hydrated []int
	Queued   int
}

// Controller owns the visible, sticky and hydrated sets of one month.
// It is driven from a single goroutine.
type Controller struct {
	cfg      Config
	degraded bool
	layout   Layout

	visible  map[int]bool
	sticky   map[int]uint64
	stamp    uint64
	hydrated map[int]bool

	queue []int
	gen   uint64

	lastRecompute time.Time
	lastOffset    float64
	hasOffset     bool
	travel        float64
	center        int
}

func New(cfg Config) *Controller {
	if cfg.StickyCapacity <= 0 {
		cfg.StickyCapacity = 1
	}
	if cfg.SyncHydrate <= 0 {
		cfg.SyncHydrate = 1
	}
	if cfg.HydrateBatch <= 0 {
		cfg.HydrateBatch = 1
	}
	if cfg.PanOverscanMax < cfg.Overscan {
		cfg.PanOverscanMax = cfg.Overscan
	}
	c := &Controller{cfg: cfg}
	c.Reset(Layout{})
	return c
}

// Reset installs the layout of a newly displayed month and clears every set.
func (c *Controller) Reset(l Layout) {
	c.layout = l
	c.visible = make(map[int]bool)
	c.sticky = make(map[int]uint64)
	c.hydrated = make(map[int]bool)
	c.queue = nil
	c.gen++
	c.hasOffset = false
	c.travel = 0
	c.lastRecompute = time.Time{}
	c.center = 0
}

// Relayout swaps day geometry (e.g. after a zoom change) for the same days.
// Sets are kept because indices still name the same days.
func (c *Controller) Relayout(l Layout) {
	if l.Len() != c.layout.Len() {
		c.Reset(l)
		return
	}
	c.layout = l
}

// Degrade reduces overscan and immediate hydration, used once indexing
// runs synchronously on the loop goroutine.
func (c *Controller) Degrade() {
	c.degraded = true
}

func (c *Controller) overscan() int {
	if c.degraded {
		return c.cfg.Overscan / 2
	}
	return c.cfg.Overscan
}

func (c *Controller) syncHydrate() int {
	if c.degraded {
		return 1
	}
	return c.cfg.SyncHydrate
}

func (c *Controller) Layout() Layout {
	return c.layout
}

// Update re-evaluates visibility for a scroll offset. While panning it is
// rate limited and biases overscan towards the direction of travel. It
// reports whether a recompute happened.
func (c *Controller) Update(offset, viewport float64, panning bool, now time.Time) bool {
	if c.hasOffset {
		// Exponentially blended per-update travel.
		c.travel = 0.5*c.travel + 0.5*(offset-c.lastOffset)
	}
	c.lastOffset = offset
	c.hasOffset = true

	if panning && !c.lastRecompute.IsZero() && now.Sub(c.lastRecompute) < c.cfg.PanRecompute {
		return false
	}
	if !panning {
		c.travel = 0
	}
	c.lastRecompute = now

	before, after := c.overscan(), c.overscan()
	if panning && c.layout.Len() > 0 {
		avg := c.layout.Extent() / float64(c.layout.Len())
		extra := 0
		if avg > 0 {
			extra = int(math.Ceil(math.Abs(c.travel) * lookaheadFrames / avg))
		}
		if limit := c.cfg.PanOverscanMax - c.overscan(); extra > limit {
			extra = limit
		}
		if c.travel > 0 {
			after += extra
		} else if c.travel < 0 {
			before += extra
		}
	}

	first, last, ok := VisibleRange(c.layout, offset, viewport, before, after)
	c.visible = make(map[int]bool)
	if !ok {
		return true
	}
	for i := first; i <= last; i++ {
		c.visible[i] = true
	}
	c.center = c.layout.IndexAt(offset + viewport/2)
	c.touchSticky(c.visible)
	c.hydrate(c.center)
	return true
}

// Expand forces days into the visible set and hydrates them ahead of
// anything queued. The first index is treated as the centre.
func (c *Controller) Expand(indices ...int) {
	var valid []int
	for _, i := range indices {
		if i >= 0 && i < c.layout.Len() {
			valid = append(valid, i)
		}
	}
	if len(valid) == 0 {
		return
	}
	set := make(map[int]bool, len(valid))
	for _, i := range valid {
		c.visible[i] = true
		set[i] = true
	}
	c.touchSticky(set)

	centre := valid[0]
	missing := c.missing(set, centre)
	n := c.syncHydrate()
	if n > len(missing) {
		n = len(missing)
	}
	for _, i := range missing[:n] {
		c.hydrated[i] = true
	}
	c.queue = append(append([]int(nil), missing[n:]...), c.queue...)
}

// touchSticky stamps days and evicts the least recently stamped entries
// above capacity. Within one stamp, days farther from the centre go first.
func (c *Controller) touchSticky(days map[int]bool) {
	c.stamp++
	for i := range days {
		c.sticky[i] = c.stamp
	}
	over := len(c.sticky) - c.cfg.StickyCapacity
	if over <= 0 {
		return
	}
	all := make([]int, 0, len(c.sticky))
	for i := range c.sticky {
		all = append(all, i)
	}
	sort.Slice(all, func(a, b int) bool {
		sa, sb := c.sticky[all[a]], c.sticky[all[b]]
		if sa != sb {
			return sa < sb
		}
		da, db := absInt(all[a]-c.center), absInt(all[b]-c.center)
		if da != db {
			return da > db
		}
		return all[a] < all[b]
	})
	for _, i := range all[:over] {
		delete(c.sticky, i)
	}
}

// missing lists days of target not yet hydrated, closest to centre first.
func (c *Controller) missing(target map[int]bool, centre int) []int {
	var out []int
	for i := range target {
		if !c.hydrated[i] {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		da, db := absInt(out[a]-centre), absInt(out[b]-centre)
		if da != db {
			return da < db
		}
		return out[a] < out[b]
	})
	return out
}

// hydrate replaces the queue with target = visible ∪ sticky.
func (c *Controller) hydrate(centre int) {
	target := make(map[int]bool, len(c.visible)+len(c.sticky))
	for i := range c.visible {
		target[i] = true
	}
	for i := range c.sticky {
		target[i] = true
	}
	missing := c.missing(target, centre)

	n := c.syncHydrate()
	if n > len(missing) {
		n = len(missing)
	}
	for _, i := range missing[:n] {
		c.hydrated[i] = true
	}
	c.queue = append([]int(nil), missing[n:]...)
	c.gen++
}

// Frame drains one batch of the hydration queue and returns the newly
// hydrated indices.
func (c *Controller) Frame() []int {
	var out []int
	for len(c.queue) > 0 && len(out) < c.cfg.HydrateBatch {
		i := c.queue[0]
		c.queue = c.queue[1:]
		if c.hydrated[i] {
			continue
		}
		c.hydrated[i] = true
		out = append(out, i)
	}
	return out
}

// Pending reports whether hydration work is queued.
func (c *Controller) Pending() bool {
	return len(c.queue) > 0
}

// Generation changes whenever the hydration queue is replaced.
func (c *Controller) Generation() uint64 {
	return c.gen
}

func (c *Controller) IsVisible(i int) bool  { return c.visible[i] }
func (c *Controller) IsHydrated(i int) bool { return c.hydrated[i] }
func (c *Controller) VisibleCount() int     { return len(c.visible) }

// Snapshot copies the current sets.
func (c *Controller) Snapshot() State {
	return State{
		Visible:  sortedKeys(c.visible),
		Sticky:   sortedStamped(c.sticky),
		Hydrated: sortedKeys(c.hydrated),
		Queued:   len(c.queue),
	}
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func sortedStamped(m map[int]uint64) []int {
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
