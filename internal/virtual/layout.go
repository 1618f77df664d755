// Package virtual decides which calendar days are visible, kept warm
// (sticky) and fully rendered (hydrated).
package virtual

import (
	"sort"

	"drivecal/internal/model"
)

// Layout places days along the scroll axis. Offsets are ascending.
type Layout struct {
	Days    []model.DayKey
	Offsets []float64
	Sizes   []float64
}

// UniformLayout lays out days back to back with equal size.
func UniformLayout(days []model.DayKey, size float64) Layout {
	l := Layout{
		Days:    append([]model.DayKey(nil), days...),
		Offsets: make([]float64, len(days)),
		Sizes:   make([]float64, len(days)),
	}
	for i := range days {
		l.Offsets[i] = float64(i) * size
		l.Sizes[i] = size
	}
	return l
}

func (l Layout) Len() int {
	return len(l.Days)
}

// Extent is the total length of the laid out content.
func (l Layout) Extent() float64 {
	n := len(l.Days)
	if n == 0 {
		return 0
	}
	return l.Offsets[n-1] + l.Sizes[n-1]
}

// IndexAt returns the index of the day covering pos, clamped to the layout.
func (l Layout) IndexAt(pos float64) int {
	n := len(l.Days)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return l.Offsets[i]+l.Sizes[i] > pos })
	if i >= n {
		return n - 1
	}
	return i
}

// IndexOf finds day in the layout.
func (l Layout) IndexOf(day model.DayKey) (int, bool) {
	i := sort.Search(len(l.Days), func(i int) bool { return l.Days[i] >= day })
	if i < len(l.Days) && l.Days[i] == day {
		return i, true
	}
	return -1, false
}

// Span returns the start offset and size of day i.
func (l Layout) Span(i int) (float64, float64) {
	if i < 0 || i >= len(l.Days) {
		return 0, 0
	}
	return l.Offsets[i], l.Sizes[i]
}

// VisibleRange is the pure visibility function: the inclusive index range
// intersecting [offset, offset+viewport), widened by before/after days and
// clamped. ok is false for an empty layout or viewport.
func VisibleRange(l Layout, offset, viewport float64, before, after int) (first, last int, ok bool) {
	n := l.Len()
	if n == 0 || viewport <= 0 {
		return 0, 0, false
	}
	first = l.IndexAt(offset)
	last = l.IndexAt(offset + viewport - 1e-9)
	first -= before
	last += after
	if first < 0 {
		first = 0
	}
	if last > n-1 {
		last = n - 1
	}
	return first, last, true
}
