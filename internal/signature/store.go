package signature

import "drivecal/internal/model"

// Delta describes how a fresh reservation list differs from the previous one.
type Delta struct {
	// Reset is set when the month or the directory identity changed (or on
	// the first update); All then carries the whole list.
	Reset bool
	All   []model.Reservation

	Removed []string
	Upserts []model.Reservation
}

// Empty reports whether a non-reset delta carries no work.
func (d Delta) Empty() bool {
	return !d.Reset && len(d.Removed) == 0 && len(d.Upserts) == 0
}

// Store remembers the last signature map so successive server refreshes
// can be turned into removals and upserts.
type Store struct {
	month model.MonthKey
	dir   *model.Directory
	sigs  Map
}

// Update records list as the current state and returns the delta against
// the previous state.
func (s *Store) Update(month model.MonthKey, dir *model.Directory, list []model.Reservation) Delta {
	next, byKey := Compute(list, dir)

	if s.sigs == nil || month != s.month || dir != s.dir {
		s.month, s.dir, s.sigs = month, dir, next
		all := make([]model.Reservation, len(list))
		copy(all, list)
		return Delta{Reset: true, All: all}
	}

	removed, changed := Diff(s.sigs, next)
	s.sigs = next

	d := Delta{Removed: removed}
	for _, k := range changed {
		d.Upserts = append(d.Upserts, byKey[k])
	}
	return d
}

// Forget drops the remembered state so the next Update is a reset.
func (s *Store) Forget() {
	s.sigs = nil
	s.dir = nil
	s.month = ""
}

// Len is the number of remembered signatures.
func (s *Store) Len() int {
	return len(s.sigs)
}
