// Package indexer builds day-bucketed month indexes from reservations.
//
// The build state lives inside a Worker goroutine and is reached only by
// message passing (see worker.go). The same state type serves the
// synchronous fallback used once the worker has failed.
package indexer

import (
	"errors"
	"fmt"
	"sort"

	"drivecal/internal/model"
	"drivecal/internal/signature"
)

// ErrMonthMismatch is returned when a patch targets a month other than the
// one currently indexed.
var ErrMonthMismatch = errors.New("indexer: patch month does not match indexed month")

// DayBucket holds the ordered events of one calendar day.
type DayBucket struct {
	Day    model.DayKey
	Events []model.CalendarEvent
}

// CatalogEntry is one row of the flat search catalog.
type CatalogEntry struct {
	Day         model.DayKey
	EventID     string
	SearchText  string
	PhoneDigits string
}

// MonthIndex is an immutable snapshot. Consumers must not modify it.
type MonthIndex struct {
	Month    model.MonthKey
	Days     []DayBucket
	Catalog  []CatalogEntry
	EventDay map[string]model.DayKey
}

// Bucket returns the events of day, or nil.
func (mi *MonthIndex) Bucket(day model.DayKey) []model.CalendarEvent {
	if mi == nil {
		return nil
	}
	i := sort.Search(len(mi.Days), func(i int) bool { return mi.Days[i].Day >= day })
	if i < len(mi.Days) && mi.Days[i].Day == day {
		return mi.Days[i].Events
	}
	return nil
}

// Event looks up an event by id.
func (mi *MonthIndex) Event(id string) (model.CalendarEvent, bool) {
	if mi == nil {
		return model.CalendarEvent{}, false
	}
	day, ok := mi.EventDay[id]
	if !ok {
		return model.CalendarEvent{}, false
	}
	for _, ev := range mi.Bucket(day) {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.CalendarEvent{}, false
}

// Len is the number of indexed events.
func (mi *MonthIndex) Len() int {
	if mi == nil {
		return 0
	}
	return len(mi.EventDay)
}

// lessEvent orders a bucket by (start, instructor id, event id, slot key).
func lessEvent(a, b model.CalendarEvent) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.InstructorID != b.InstructorID {
		return a.InstructorID < b.InstructorID
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.SlotKey < b.SlotKey
}

func sortBucket(evs []model.CalendarEvent) {
	sort.Slice(evs, func(i, j int) bool { return lessEvent(evs[i], evs[j]) })
}

// state is the mutable build state. It is owned by exactly one goroutine.
type state struct {
	month  model.MonthKey
	dir    *model.Directory
	events map[string]model.CalendarEvent
	days   map[model.DayKey][]model.CalendarEvent

	// enriched counts CalendarEvent recomputations.
	enriched uint64
}

func (s *state) enrich(r model.Reservation) model.CalendarEvent {
	s.enriched++
	return signature.Enrich(r, s.dir)
}

// reset rebuilds everything from list.
func (s *state) reset(month model.MonthKey, dir *model.Directory, list []model.Reservation) *MonthIndex {
	s.month = month
	s.dir = dir
	s.events = make(map[string]model.CalendarEvent, len(list))
	s.days = make(map[model.DayKey][]model.CalendarEvent)

	for _, r := range list {
		ev := s.enrich(r)
		s.events[ev.ID] = ev
	}
	for _, ev := range s.events {
		s.days[ev.Day] = append(s.days[ev.Day], ev)
	}
	for _, evs := range s.days {
		sortBucket(evs)
	}
	return s.snapshot()
}

// patch removes and upserts events, re-sorting only the touched days.
// Untouched events are not recomputed.
func (s *state) patch(month model.MonthKey, removals []string, upserts []model.Reservation) (*MonthIndex, error) {
	if s.events == nil || month != s.month {
		return nil, fmt.Errorf("%w: have %q, got %q", ErrMonthMismatch, s.month, month)
	}

	touched := make(map[model.DayKey]bool)
	drop := make(map[string]bool)

	for _, id := range removals {
		if old, ok := s.events[id]; ok {
			touched[old.Day] = true
			drop[id] = true
			delete(s.events, id)
		}
	}
	for _, r := range upserts {
		ev := s.enrich(r)
		if old, ok := s.events[ev.ID]; ok {
			touched[old.Day] = true
			drop[ev.ID] = true
		}
		touched[ev.Day] = true
		s.events[ev.ID] = ev
	}
	// One entry per key, carrying the last upsert.
	added := make([]model.CalendarEvent, 0, len(upserts))
	seen := make(map[string]bool, len(upserts))
	for _, r := range upserts {
		id := signature.EventKey(r)
		if !seen[id] {
			seen[id] = true
			added = append(added, s.events[id])
		}
	}

	// Rebuild touched buckets into fresh slices; snapshots handed out
	// earlier keep sharing the old ones.
	for day := range touched {
		old := s.days[day]
		next := make([]model.CalendarEvent, 0, len(old)+len(added))
		for _, ev := range old {
			if !drop[ev.ID] {
				next = append(next, ev)
			}
		}
		for _, ev := range added {
			if ev.Day == day {
				next = append(next, ev)
			}
		}
		if len(next) == 0 {
			delete(s.days, day)
			continue
		}
		sortBucket(next)
		s.days[day] = next
	}
	return s.snapshot(), nil
}

func (s *state) snapshot() *MonthIndex {
	keys := make([]model.DayKey, 0, len(s.days))
	for d := range s.days {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	mi := &MonthIndex{
		Month:    s.month,
		Days:     make([]DayBucket, 0, len(keys)),
		Catalog:  make([]CatalogEntry, 0, len(s.events)),
		EventDay: make(map[string]model.DayKey, len(s.events)),
	}
	for _, d := range keys {
		evs := s.days[d]
		mi.Days = append(mi.Days, DayBucket{Day: d, Events: evs})
		for _, ev := range evs {
			mi.EventDay[ev.ID] = d
			mi.Catalog = append(mi.Catalog, CatalogEntry{
				Day:         d,
				EventID:     ev.ID,
				SearchText:  ev.SearchText,
				PhoneDigits: ev.PhoneDigits,
			})
		}
	}
	return mi
}

// Build is the pure full rebuild used by tests and one-shot callers.
func Build(month model.MonthKey, dir *model.Directory, list []model.Reservation) *MonthIndex {
	var s state
	return s.reset(month, dir, list)
}
