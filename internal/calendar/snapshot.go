package calendar

import (
	"drivecal/internal/indexer"
	"drivecal/internal/model"
	"drivecal/internal/presence"
	"drivecal/internal/search"
	"drivecal/internal/virtual"
)

// Day is one row of the grid.
type Day struct {
	Key      model.DayKey `json:"key"`
	Date     string       `json:"date"`
	Top      float64      `json:"top"`
	Height   float64      `json:"height"`
	Visible  bool         `json:"visible"`
	Hydrated bool         `json:"hydrated"`
	// Events is only filled for hydrated days.
	Events []model.CalendarEvent `json:"events,omitempty"`
}

// Snapshot is an immutable copy of the session state, safe to read from
// any goroutine.
type Snapshot struct {
	Session string         `json:"session"`
	User    string         `json:"user"`
	Month   model.MonthKey `json:"month"`
	Zoom    int            `json:"zoom"`

	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	ViewWidth     float64 `json:"view_width"`
	ViewHeight    float64 `json:"view_height"`
	ContentWidth  float64 `json:"content_width"`
	ContentHeight float64 `json:"content_height"`
	ColumnWidth   float64 `json:"column_width"`
	Panning       bool    `json:"panning"`

	Loaded    bool   `json:"loaded"`
	Degraded  bool   `json:"degraded"`
	Enriched  uint64 `json:"enriched"`
	Refreshes uint64 `json:"refreshes"`

	Instructors []model.Instructor `json:"instructors"`
	Days        []Day              `json:"days"`
	Virtual     virtual.State      `json:"virtual"`

	Presence  map[string][]string `json:"presence"`
	Drafts    []presence.Draft    `json:"drafts"`
	Colors    map[string]string   `json:"colors"`
	Blackouts map[string][]string `json:"blackouts"`

	Navigating bool          `json:"navigating"`
	Navigation search.Result `json:"navigation"`

	Index *indexer.MonthIndex `json:"-"`
}

// EventsOf returns the events of one instructor on one day.
func (d Day) EventsOf(instructorID string) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, ev := range d.Events {
		if ev.InstructorID == instructorID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Session) publish() {
	s.dirty = false
	l := s.virt.Layout()

	days := make([]Day, l.Len())
	for i, key := range l.Days {
		off, size := l.Span(i)
		d := Day{
			Key:      key,
			Date:     key.String(),
			Top:      off,
			Height:   size,
			Visible:  s.virt.IsVisible(i),
			Hydrated: s.virt.IsHydrated(i),
		}
		if d.Hydrated {
			d.Events = s.mi.Bucket(key)
		}
		days[i] = d
	}

	pres := s.presence.Presence()
	drafts := s.presence.Drafts()
	colors := map[string]string{}
	for _, users := range pres {
		for _, u := range users {
			colors[u] = s.presence.Color(u)
		}
	}
	for _, d := range drafts {
		for _, u := range d.Users {
			colors[u] = s.presence.Color(u)
		}
	}

	s.snap.Store(&Snapshot{
		Session:       s.id,
		User:          s.presence.Self(),
		Month:         s.month,
		Zoom:          s.zoom,
		X:             s.x,
		Y:             s.y,
		ViewWidth:     s.viewW,
		ViewHeight:    s.viewH,
		ContentWidth:  s.contentWidth(),
		ContentHeight: l.Extent(),
		ColumnWidth:   s.columnWidth(),
		Panning:       s.panning,
		Loaded:        s.loaded,
		Degraded:      s.degraded,
		Enriched:      s.index.Enriched(),
		Refreshes:     s.refresher.Runs(),
		Instructors:   append([]model.Instructor(nil), s.cols...),
		Days:          days,
		Virtual:       s.virt.Snapshot(),
		Presence:      pres,
		Drafts:        drafts,
		Colors:        colors,
		Blackouts:     s.blackouts.All(),
		Navigating:    s.nav.Pending(),
		Navigation:    s.nav.Last(),
		Index:         s.mi,
	})
}
