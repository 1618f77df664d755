package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

const maxOccurrencesPerEvent = 5000

// Occurrence is one concrete busy interval in floating time.
type Occurrence struct {
	UID   string
	Start time.Time
	End   time.Time
}

// Expand resolves recurrences, EXDATEs and RECURRENCE-ID overrides into
// occurrences overlapping the floating range [from, to). Zoned times are
// converted to loc and then made floating; all-day events keep their date.
func Expand(events []Event, from, to time.Time, loc *time.Location) []Occurrence {
	if loc == nil {
		loc = time.Local
	}
	// Widen by a day so zone offsets cannot push edge events out.
	zFrom := time.Date(from.Year(), from.Month(), from.Day()-1, 0, 0, 0, 0, loc)
	zTo := time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, loc)

	base := make(map[string][]Event)
	overrides := make(map[string][]Event)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			base[ev.UID] = append(base[ev.UID], ev)
		}
	}

	var out []Occurrence
	emit := func(ev Event, start, end time.Time) {
		if ev.Transparent {
			return
		}
		o := Occurrence{UID: ev.UID, Start: floating(start, ev.AllDay, loc), End: floating(end, ev.AllDay, loc)}
		if o.End.After(from) && o.Start.Before(to) {
			out = append(out, o)
		}
	}

	for uid, evs := range base {
		ov := overrides[uid]
		for _, ev := range evs {
			if ev.RRule == "" {
				if o, ok := findOverride(ov, ev.Start); ok {
					emit(o, o.Start, o.End)
					continue
				}
				emit(ev, ev.Start, ev.End)
				continue
			}

			r, err := rrule.StrToRRule(ev.RRule)
			if err != nil {
				appLog.Warn("ics: bad RRULE", "uid", uid, "rrule", ev.RRule, "err", err)
				continue
			}
			r.DTStart(ev.Start)
			var set rrule.Set
			set.RRule(r)
			for _, ex := range ev.ExDates {
				set.ExDate(ex.In(ev.Start.Location()))
			}

			dur := ev.End.Sub(ev.Start)
			starts := set.Between(zFrom.In(ev.Start.Location()).Add(-dur), zTo.In(ev.Start.Location()), true)
			if len(starts) > maxOccurrencesPerEvent {
				appLog.Warn("ics: occurrences truncated", "uid", uid, "cap", maxOccurrencesPerEvent)
				starts = starts[:maxOccurrencesPerEvent]
			}
			for _, s := range starts {
				if o, ok := findOverride(ov, s); ok {
					emit(o, o.Start, o.End)
					continue
				}
				emit(ev, s, s.Add(dur))
			}
		}
	}
	return out
}

func findOverride(overrides []Event, start time.Time) (Event, bool) {
	for _, o := range overrides {
		if o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return Event{}, false
}

func floating(t time.Time, allDay bool, loc *time.Location) time.Time {
	if allDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return model.Floating(t.In(loc))
}

// Slots splits occurrences into slot-aligned single blackout rules for
// instructorID. An occurrence blocks every slot it overlaps.
func Slots(instructorID string, occ []Occurrence, slot time.Duration, from, to time.Time) []model.BlackoutRule {
	if slot <= 0 {
		slot = 30 * time.Minute
	}
	seen := make(map[time.Time]bool)
	var out []model.BlackoutRule
	for _, o := range occ {
		start := o.Start
		if start.Before(from) {
			start = from
		}
		end := o.End
		if end.After(to) {
			end = to
		}
		dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		t := dayStart.Add(start.Sub(dayStart).Truncate(slot))
		for ; t.Before(end); t = t.Add(slot) {
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, model.BlackoutRule{ID: o.UID, InstructorID: instructorID, Start: t})
		}
	}
	return out
}
