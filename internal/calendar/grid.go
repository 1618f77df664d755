package calendar

import (
	"math"

	"drivecal/internal/virtual"
)

// grid is the scrollable surface: days stacked on Y, instructors side by
// side on X. It is only used on the loop goroutine.
type grid struct{ s *Session }

func (g grid) ScrollBy(dx, dy float64) (float64, float64) {
	s := g.s
	nx := clampTo(s.x+dx, s.maxX())
	ny := clampTo(s.y+dy, s.maxY())
	ax, ay := nx-s.x, ny-s.y
	s.x, s.y = nx, ny
	if ax != 0 || ay != 0 {
		s.scrolled()
	}
	return ax, ay
}

// TargetRect reports the day's row once it is rendered. Events fill their
// day row, so eventID does not narrow it.
func (g grid) TargetRect(i int, _ string) (float64, float64, bool) {
	s := g.s
	if !s.virt.IsHydrated(i) {
		return 0, 0, false
	}
	off, size := s.virt.Layout().Span(i)
	return off, off + size, true
}

func (g grid) ScrollTo(offset float64) {
	s := g.s
	ny := clampTo(offset, s.maxY())
	if ny == s.y {
		return
	}
	s.y = ny
	s.scrolled()
}

func (g grid) Offset() float64 { return g.s.y }
func (g grid) Size() float64   { return g.s.viewH }

func (s *Session) dayHeight() float64 {
	return s.cfg.Virtualization.DayHeight * float64(s.zoom) / 100
}

func (s *Session) columnWidth() float64 {
	return s.cfg.Virtualization.ColumnWidth * float64(s.zoom) / 100
}

func (s *Session) layout() virtual.Layout {
	return virtual.UniformLayout(s.month.Days(), s.dayHeight())
}

func (s *Session) contentWidth() float64 {
	return float64(len(s.cols)) * s.columnWidth()
}

func (s *Session) maxX() float64 {
	return math.Max(0, s.contentWidth()-s.viewW)
}

func (s *Session) maxY() float64 {
	return math.Max(0, s.virt.Layout().Extent()-s.viewH)
}

func (s *Session) clampOffsets() {
	s.x = clampTo(s.x, s.maxX())
	s.y = clampTo(s.y, s.maxY())
}

// visibleInstructors lists the ids of the columns intersecting the
// viewport.
func (s *Session) visibleInstructors() []string {
	w := s.columnWidth()
	if w <= 0 || s.viewW <= 0 {
		return nil
	}
	var out []string
	for i, in := range s.cols {
		left := float64(i) * w
		if left+w > s.x && left < s.x+s.viewW {
			out = append(out, in.ID)
		}
	}
	return out
}

func clampTo(v, limit float64) float64 {
	return math.Max(0, math.Min(limit, v))
}
