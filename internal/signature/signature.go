// Package signature turns reservations into stable, comparable values:
// identity keys, rendering signatures and normalized search text.
package signature

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"drivecal/internal/model"
)

// sep joins signature fields; it does not occur in user data.
const sep = "\x1f"

const isoLayout = "2006-01-02T15:04:05"

// EventKey returns the server id, or a synthetic key that stays stable for
// uncommitted rows within one render pass.
func EventKey(r model.Reservation) string {
	if r.ID != "" {
		return r.ID
	}
	return "tmp:" + r.InstructorID + "|" + r.Start.Format(isoLayout) + "|" +
		r.StudentID + "|" + r.GroupID + "|" + strconv.Itoa(r.Position)
}

// SlotKey identifies an instructor's grid slot: "instructorId|2006-01-02T15:04:05".
func SlotKey(instructorID string, start time.Time) string {
	return instructorID + "|" + start.Format(isoLayout)
}

// Of builds the rendering signature of r. Every field that changes what is
// drawn (including names resolved through dir) takes part.
func Of(r model.Reservation, dir *model.Directory) string {
	st := dir.Student(r.StudentID)
	in := dir.Instructor(r.InstructorID)
	fields := []string{
		EventKey(r),
		r.Start.Format(isoLayout),
		r.EffectiveEnd().Format(isoLayout),
		r.InstructorID,
		in.Name,
		r.GroupID,
		dir.GroupName(r.GroupID),
		r.StudentID,
		st.Name,
		st.Phone,
		r.Sector,
		r.Gearbox,
		r.Color,
		strconv.FormatBool(r.Confirmed),
		r.Notes,
	}
	return strings.Join(fields, sep)
}

// NormalizeText lowercases s, strips diacritics and collapses whitespace.
func NormalizeText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range norm.NFD.String(strings.ToLower(s)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Digits keeps only ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GearboxLabel maps backend gearbox codes onto display labels.
func GearboxLabel(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "manual", "m", "mt":
		return "Manual"
	case "automatic", "auto", "a", "at":
		return "Automatic"
	case "":
		return ""
	default:
		return g
	}
}

// Enrich projects r into a CalendarEvent using dir for display names.
func Enrich(r model.Reservation, dir *model.Directory) model.CalendarEvent {
	st := dir.Student(r.StudentID)
	in := dir.Instructor(r.InstructorID)
	group := dir.GroupName(r.GroupID)

	ev := model.CalendarEvent{
		ID:             EventKey(r),
		SlotKey:        SlotKey(r.InstructorID, r.Start),
		Signature:      Of(r, dir),
		Day:            model.DayOf(r.Start),
		Start:          r.Start,
		End:            r.EffectiveEnd(),
		InstructorID:   r.InstructorID,
		GroupID:        r.GroupID,
		StudentID:      r.StudentID,
		StudentName:    st.Name,
		GroupName:      group,
		InstructorName: in.Name,
		Phone:          st.Phone,
		PhoneDigits:    Digits(st.Phone),
		GearboxLabel:   GearboxLabel(r.Gearbox),
		Sector:         r.Sector,
		Color:          r.Color,
		Confirmed:      r.Confirmed,
		Notes:          r.Notes,
	}
	ev.SearchText = NormalizeText(strings.Join([]string{
		st.Name, group, in.Name, r.Sector, ev.GearboxLabel, r.Notes,
	}, " "))
	return ev
}

// Map associates event keys with signatures.
type Map map[string]string

// Compute returns the signature map of list and the reservations by key.
func Compute(list []model.Reservation, dir *model.Directory) (Map, map[string]model.Reservation) {
	sigs := make(Map, len(list))
	byKey := make(map[string]model.Reservation, len(list))
	for _, r := range list {
		k := EventKey(r)
		sigs[k] = Of(r, dir)
		byKey[k] = r
	}
	return sigs, byKey
}

// Diff compares two signature maps. Changed holds keys that are new or whose
// signature differs; Removed holds keys only present in prev. Both are sorted.
func Diff(prev, next Map) (removed, changed []string) {
	for k := range prev {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	for k, sig := range next {
		if old, ok := prev[k]; !ok || old != sig {
			changed = append(changed, k)
		}
	}
	sort.Strings(removed)
	sort.Strings(changed)
	return removed, changed
}
