package search

import (
	"drivecal/internal/model"
	"drivecal/internal/virtual"
)

// Viewport is the scrollable grid as seen along the day axis.
type Viewport interface {
	// TargetRect returns the target's extent along the scroll axis. ok is
	// false while the day is not rendered yet.
	TargetRect(dayIndex int, eventID string) (top, bottom float64, ok bool)
	// ScrollTo moves the viewport; implementations clamp to bounds.
	ScrollTo(offset float64)
	Offset() float64
	Size() float64
}

// Target is a navigation request: a day and, optionally, one event in it.
type Target struct {
	Day     model.DayKey
	EventID string
}

// Result reports how a navigation ended.
type Result struct {
	Seq      uint64
	Target   Target
	Found    bool
	Attempts int
}

type job struct {
	seq      uint64
	target   Target
	index    int
	attempts int
}

// Navigator brings a target into view over several frames, since the
// layout may not be settled on the first pass. A newer navigation replaces
// the running one.
type Navigator struct {
	virt    *virtual.Controller
	vp      Viewport
	retries int

	seq    uint64
	active *job
	last   Result
}

func NewNavigator(virt *virtual.Controller, vp Viewport, retries int) *Navigator {
	if retries <= 0 {
		retries = 8
	}
	return &Navigator{virt: virt, vp: vp, retries: retries}
}

// Navigate starts a navigation and makes its first attempt. It returns
// false when the day is not part of the current layout.
func (n *Navigator) Navigate(t Target) (uint64, bool) {
	idx, ok := n.virt.Layout().IndexOf(t.Day)
	if !ok {
		return 0, false
	}
	n.seq++
	n.active = &job{seq: n.seq, target: t, index: idx}

	if !n.virt.IsVisible(idx) || !n.virt.IsHydrated(idx) {
		n.virt.Expand(idx, idx-1, idx+1)
	}
	n.step()
	return n.seq, true
}

// Pending reports whether a navigation is still running.
func (n *Navigator) Pending() bool {
	return n.active != nil
}

// Frame makes one attempt of the running navigation.
func (n *Navigator) Frame() {
	if n.active != nil {
		n.step()
	}
}

// Cancel drops the running navigation.
func (n *Navigator) Cancel() {
	n.active = nil
}

// Last returns the result of the most recently finished navigation.
func (n *Navigator) Last() Result {
	return n.last
}

func (n *Navigator) step() {
	j := n.active
	j.attempts++

	top, bottom, ok := n.vp.TargetRect(j.index, j.target.EventID)
	if ok && n.inView(top, bottom) {
		n.finish(true)
		return
	}
	if !ok {
		// Not rendered yet: aim at the day's slot in the layout.
		off, size := n.virt.Layout().Span(j.index)
		top, bottom = off, off+size
	}
	size := n.vp.Size()
	h := bottom - top
	if h >= size {
		n.vp.ScrollTo(top)
	} else {
		n.vp.ScrollTo(top - (size-h)/2)
	}

	if j.attempts >= n.retries {
		n.finish(false)
	}
}

func (n *Navigator) inView(top, bottom float64) bool {
	off, size := n.vp.Offset(), n.vp.Size()
	if bottom-top >= size {
		return top >= off-0.5 && top <= off+0.5
	}
	return top >= off-0.5 && bottom <= off+size+0.5
}

func (n *Navigator) finish(found bool) {
	j := n.active
	n.active = nil
	n.last = Result{Seq: j.seq, Target: j.target, Found: found, Attempts: j.attempts}
}
