// Package render turns a session snapshot into the HTML month grid. Only
// hydrated days carry event markup; the others keep their height so that
// scroll offsets stay meaningful.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"drivecal/internal/calendar"
	"drivecal/internal/model"
	"drivecal/internal/presence"
)

//go:embed templates/*.html
var templatesFS embed.FS

var page = template.Must(template.New("grid.html").Funcs(template.FuncMap{
	"px": func(v float64) string { return fmt.Sprintf("%.0fpx", v) },
}).ParseFS(templatesFS, "templates/*.html"))

// Options controls page chrome.
type Options struct {
	Title string
	// Static omits the live-update script, e.g. for PNG capture.
	Static bool
}

type badge struct {
	User  string
	Short string
	Color template.CSS
}

type eventView struct {
	ID        string
	Time      string
	Student   string
	Group     string
	Gearbox   string
	Sector    string
	Notes     string
	Color     template.CSS
	Confirmed bool
	Viewers   []badge
}

type draftView struct {
	Time  string
	Users []badge
}

type cellView struct {
	Blocked []string
	Events  []eventView
	Drafts  []draftView
}

type rowView struct {
	Date     string
	Weekday  string
	Height   float64
	Hydrated bool
	Visible  bool
	Cells    []cellView
}

type pageView struct {
	Title       string
	Static      bool
	Month       model.MonthKey
	User        string
	ColumnWidth float64
	Instructors []model.Instructor
	Rows        []rowView
	Ready       bool
}

// Page writes the month grid of snap.
func Page(w io.Writer, snap *calendar.Snapshot, opts Options) error {
	if snap == nil {
		return fmt.Errorf("render: no snapshot")
	}
	return page.Execute(w, build(snap, opts))
}

func build(snap *calendar.Snapshot, opts Options) pageView {
	title := opts.Title
	if title == "" {
		title = "Calendar " + string(snap.Month)
	}
	v := pageView{
		Title:       title,
		Static:      opts.Static,
		Month:       snap.Month,
		User:        snap.User,
		ColumnWidth: snap.ColumnWidth,
		Instructors: snap.Instructors,
		Ready:       snap.Loaded,
	}

	drafts := draftsBySlot(snap)
	for _, d := range snap.Days {
		row := rowView{
			Date:     d.Date,
			Weekday:  d.Key.Time().Weekday().String()[:3],
			Height:   d.Height,
			Hydrated: d.Hydrated,
			Visible:  d.Visible,
		}
		if d.Hydrated {
			for _, in := range snap.Instructors {
				row.Cells = append(row.Cells, cell(snap, d, in.ID, drafts))
			}
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}

func cell(snap *calendar.Snapshot, d calendar.Day, instructorID string, drafts map[string][]presence.Draft) cellView {
	var c cellView
	prefix := d.Date + "|"
	for _, key := range snap.Blackouts[instructorID] {
		if strings.HasPrefix(key, prefix) {
			c.Blocked = append(c.Blocked, strings.TrimPrefix(key, prefix))
		}
	}
	for _, ev := range d.EventsOf(instructorID) {
		view := eventView{
			ID:        ev.ID,
			Time:      ev.Start.Format("15:04") + "-" + ev.End.Format("15:04"),
			Student:   ev.StudentName,
			Group:     ev.GroupName,
			Gearbox:   ev.GearboxLabel,
			Sector:    ev.Sector,
			Notes:     ev.Notes,
			Color:     safeColor(ev.Color),
			Confirmed: ev.Confirmed,
			Viewers:   badges(snap, snap.Presence[ev.ID]),
		}
		c.Events = append(c.Events, view)
	}
	for _, dr := range drafts[instructorID+"|"+d.Date] {
		t := dr.Start
		if i := strings.IndexByte(t, 'T'); i >= 0 && len(t) >= i+6 {
			t = t[i+1 : i+6]
		}
		c.Drafts = append(c.Drafts, draftView{Time: t, Users: badges(snap, dr.Users)})
	}
	return c
}

// draftsBySlot groups drafts by "instructor|date".
func draftsBySlot(snap *calendar.Snapshot) map[string][]presence.Draft {
	out := map[string][]presence.Draft{}
	for _, d := range snap.Drafts {
		date := d.Start
		if len(date) >= 10 {
			date = date[:10]
		}
		k := d.InstructorID + "|" + date
		out[k] = append(out[k], d)
	}
	return out
}

func badges(snap *calendar.Snapshot, users []string) []badge {
	var out []badge
	for _, u := range users {
		out = append(out, badge{User: u, Short: initials(u), Color: safeColor(snap.Colors[u])})
	}
	return out
}

func initials(user string) string {
	r := []rune(strings.ToUpper(user))
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

// safeColor only lets #rgb/#rrggbb colours reach the style attribute.
func safeColor(c string) template.CSS {
	if (len(c) != 4 && len(c) != 7) || c[0] != '#' {
		return ""
	}
	for _, r := range c[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return ""
		}
	}
	return template.CSS(c)
}
