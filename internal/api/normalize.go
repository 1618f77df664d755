package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drivecal/internal/model"
)

// The backend has grown several spellings for the same reservation fields.
// They are resolved here, once; nothing past this file looks at raw JSON.
var (
	idKeys         = []string{"id", "_id", "reservation_id", "reservationId"}
	startKeys      = []string{"start", "start_time", "startTime", "starts_at", "startsAt", "datetime"}
	endKeys        = []string{"end", "end_time", "endTime", "ends_at", "endsAt"}
	dateKeys       = []string{"date", "day"}
	timeKeys       = []string{"time", "hour", "start_hour"}
	durationKeys   = []string{"duration_minutes", "durationMinutes", "duration"}
	instructorKeys = []string{"instructor_id", "instructorId", "instructor"}
	groupKeys      = []string{"group_id", "groupId", "group"}
	studentKeys    = []string{"student_id", "studentId", "student"}
	gearboxKeys    = []string{"gearbox", "transmission", "gear"}
	notesKeys      = []string{"notes", "note", "comments", "comment"}
	confirmedKeys  = []string{"confirmed", "is_confirmed", "isConfirmed"}
)

var floatingLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339Nano,
	time.RFC3339,
}

var errNoStart = errors.New("reservation has no start time")

// ParseFloating reads a wall-clock timestamp. An explicit offset is
// ignored: the written clock is what the school means.
func ParseFloating(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range floatingLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Floating(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// NormalizeReservation maps one raw backend object to a Reservation.
func NormalizeReservation(raw map[string]any, position int) (model.Reservation, error) {
	r := model.Reservation{
		ID:           str(raw, idKeys...),
		InstructorID: ref(raw, instructorKeys...),
		GroupID:      ref(raw, groupKeys...),
		StudentID:    ref(raw, studentKeys...),
		Sector:       str(raw, "sector", "zone"),
		Gearbox:      str(raw, gearboxKeys...),
		Color:        str(raw, "color", "colour"),
		Notes:        str(raw, notesKeys...),
		Confirmed:    confirmed(raw),
		Position:     position,
	}

	start, err := startOf(raw)
	if err != nil {
		return r, err
	}
	r.Start = start

	if s := str(raw, endKeys...); s != "" {
		end, err := ParseFloating(s)
		if err != nil {
			return r, fmt.Errorf("end: %w", err)
		}
		if end.After(start) {
			r.End = &end
		}
	} else if mins := num(raw, durationKeys...); mins > 0 {
		end := start.Add(time.Duration(mins) * time.Minute)
		r.End = &end
	}
	return r, nil
}

// NormalizeReservations decodes a list response. The body may be a bare
// array or an object wrapping it under "data", "items" or "reservations".
// Rows without a usable start are dropped.
func NormalizeReservations(body []byte) ([]model.Reservation, int, error) {
	rows, err := unwrapList(body, "reservations")
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.Reservation, 0, len(rows))
	skipped := 0
	for i, raw := range rows {
		r, err := NormalizeReservation(raw, i)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	return out, skipped, nil
}

func unwrapList(body []byte, named string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	for _, k := range []string{"data", "items", named} {
		if raw, ok := wrapped[k]; ok {
			if err := json.Unmarshal(raw, &rows); err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			return rows, nil
		}
	}
	return nil, errors.New("response holds no list")
}

func startOf(raw map[string]any) (time.Time, error) {
	if s := str(raw, startKeys...); s != "" {
		return ParseFloating(s)
	}
	date, clock := str(raw, dateKeys...), str(raw, timeKeys...)
	if date == "" {
		return time.Time{}, errNoStart
	}
	if len(date) > 10 {
		date = date[:10]
	}
	if clock == "" {
		clock = "00:00"
	}
	return ParseFloating(date + "T" + clock)
}

func confirmed(raw map[string]any) bool {
	for _, k := range confirmedKeys {
		switch v := raw[k].(type) {
		case bool:
			return v
		case float64:
			return v != 0
		case string:
			b, _ := strconv.ParseBool(v)
			return b
		}
	}
	status, _ := raw["status"].(string)
	return strings.EqualFold(status, "confirmed")
}

// str returns the first non-empty value under keys as a string.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// ref is str that also accepts an embedded object carrying an id.
func ref(raw map[string]any, keys ...string) string {
	if s := str(raw, keys...); s != "" {
		return s
	}
	for _, k := range keys {
		if obj, ok := raw[k].(map[string]any); ok {
			if s := str(obj, "id", "_id"); s != "" {
				return s
			}
		}
	}
	return ""
}

func num(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// flexID accepts ids encoded as either JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
