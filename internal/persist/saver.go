package persist

import (
	"time"

	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

// Saver writes scroll offsets once scrolling has settled. It is driven by
// the session loop and never saves while a pan is in progress.
type Saver struct {
	store    *Store
	debounce time.Duration

	month   model.MonthKey
	x, y    float64
	dirty   bool
	due     time.Time
	panning bool
}

func NewSaver(store *Store, debounce time.Duration) *Saver {
	return &Saver{store: store, debounce: debounce}
}

// Scrolled records a new offset.
func (s *Saver) Scrolled(month model.MonthKey, x, y float64, panning bool, now time.Time) {
	s.month, s.x, s.y = month, x, y
	s.dirty = true
	s.panning = panning
	if panning {
		s.due = time.Time{}
		return
	}
	s.due = now.Add(s.debounce)
}

// PanEnded arms the debounce for an offset recorded during a pan.
func (s *Saver) PanEnded(now time.Time) {
	s.panning = false
	if s.dirty {
		s.due = now.Add(s.debounce)
	}
}

// Pending reports whether a save is waiting for its deadline.
func (s *Saver) Pending() bool {
	return s.dirty && !s.due.IsZero()
}

// Tick saves when the debounce elapsed. It reports whether it saved.
func (s *Saver) Tick(now time.Time) bool {
	if !s.dirty || s.panning || s.due.IsZero() || now.Before(s.due) {
		return false
	}
	s.store.SetOffset(s.month, s.x, s.y, now)
	s.dirty = false
	s.due = time.Time{}
	if err := s.store.Save(); err != nil {
		appLog.Warn("state save failed", "err", err)
	}
	return true
}

// Flush saves immediately, e.g. before switching months.
func (s *Saver) Flush(now time.Time) {
	if !s.dirty {
		return
	}
	s.panning = false
	s.due = now
	s.Tick(now)
}
