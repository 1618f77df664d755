// Package ics reads instructor unavailability from ICS subscriptions.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "drivecal/internal/log"
)

// Event is one VEVENT of a feed. Recurrences are not expanded here.
type Event struct {
	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
	// Transparent events (TRANSP:TRANSPARENT) do not block time.
	Transparent bool
}

// Parse decodes a feed body. Broken VEVENTs are logged and skipped.
func Parse(feed Feed, body []byte) ([]Event, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", feed.InstructorID, err)
	}

	var out []Event
	for _, ve := range cal.Events() {
		ev, err := parseEvent(ve)
		if err != nil {
			appLog.Warn("ics event skipped", "instructor", feed.InstructorID, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseEvent(ve *ical.VEvent) (Event, error) {
	var ev Event

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil {
		ev.Transparent = strings.EqualFold(strings.TrimSpace(p.Value), "TRANSPARENT")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, errors.New("missing DTSTART")
	}
	if vs := dtStart.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		ev.AllDay = true
	}
	if !strings.Contains(dtStart.Value, "T") {
		ev.AllDay = true
	}

	if ev.AllDay {
		start, err := ve.GetAllDayStartAt()
		if err != nil {
			return ev, err
		}
		ev.Start = start
		if end, err := ve.GetAllDayEndAt(); err == nil && end.After(start) {
			ev.End = end
		} else {
			ev.End = start.AddDate(0, 0, 1)
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return ev, err
		}
		ev.Start = start
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			ev.End = end
		} else {
			ev.End = start.Add(time.Hour)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, ev.Start.Location()); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseTime(p.Value, ev.Start.Location()); err == nil {
			ev.RecurrenceID = &t
		}
	}
	return ev, nil
}

// parseTime reads the basic DATE and DATE-TIME forms used by EXDATE and
// RECURRENCE-ID. Zone-less values take loc.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
