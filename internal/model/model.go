package model

import (
	"fmt"
	"time"
)

// DefaultDuration is used when a reservation carries no end time.
const DefaultDuration = 90 * time.Minute

// Reservation is an immutable snapshot of a booked (or still uncommitted)
// driving lesson as delivered by the backend.
//
// Start and End are floating times: only their wall-clock components are
// meaningful and they are always carried in time.UTC.
type Reservation struct {
	ID           string
	Start        time.Time
	End          *time.Time
	InstructorID string
	GroupID      string
	StudentID    string
	Sector       string
	Gearbox      string
	Color        string
	Confirmed    bool
	Notes        string

	// Position is the row position inside the fetched list. It only matters
	// for rows without a server id.
	Position int
}

// EffectiveEnd returns End, or Start+DefaultDuration when End is unset.
func (r Reservation) EffectiveEnd() time.Time {
	if r.End != nil && !r.End.IsZero() {
		return *r.End
	}
	return r.Start.Add(DefaultDuration)
}

// Student is a directory entry for a learner driver.
type Student struct {
	ID      string
	Name    string
	Phone   string
	GroupID string
}

// Instructor is a directory entry for a driving instructor.
type Instructor struct {
	ID    string
	Name  string
	Color string
	// UserID links the instructor to a real-time channel user, if any.
	UserID string
}

// Directory bundles the reference tables used to enrich reservations.
// A new Directory value (new pointer) means the reference data changed.
type Directory struct {
	Students    map[string]Student
	Groups      map[string]string
	Instructors map[string]Instructor
	// ProfileColors maps real-time user ids to their assigned colour.
	ProfileColors map[string]string
}

func (d *Directory) Student(id string) Student {
	if d == nil || d.Students == nil {
		return Student{}
	}
	return d.Students[id]
}

func (d *Directory) GroupName(id string) string {
	if d == nil || d.Groups == nil {
		return ""
	}
	return d.Groups[id]
}

func (d *Directory) Instructor(id string) Instructor {
	if d == nil || d.Instructors == nil {
		return Instructor{}
	}
	return d.Instructors[id]
}

// CalendarEvent is the enriched projection of a Reservation for rendering.
type CalendarEvent struct {
	ID        string // server id or synthetic key
	SlotKey   string // instructorId|start, local to the grid
	Signature string
	Day       DayKey

	Start        time.Time
	End          time.Time
	InstructorID string
	GroupID      string
	StudentID    string

	StudentName    string
	GroupName      string
	InstructorName string
	Phone          string
	PhoneDigits    string
	SearchText     string
	GearboxLabel   string
	Sector         string
	Color          string
	Confirmed      bool
	Notes          string
}

// DayKey is the unix millisecond timestamp of a floating local midnight.
type DayKey int64

// DayOf truncates a floating time to its calendar day.
func DayOf(t time.Time) DayKey {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return DayKey(d.UnixMilli())
}

func (d DayKey) Time() time.Time {
	return time.UnixMilli(int64(d)).UTC()
}

func (d DayKey) String() string {
	return d.Time().Format("2006-01-02")
}

// MonthKey identifies a calendar month, formatted "2006-01".
type MonthKey string

func MonthOf(t time.Time) MonthKey {
	return MonthKey(t.Format("2006-01"))
}

// ParseMonth validates a "2006-01" month key.
func ParseMonth(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthKey(t.Format("2006-01")), nil
}

// Range returns [first day 00:00, first day of next month 00:00).
func (m MonthKey) Range() (time.Time, time.Time) {
	t, err := time.Parse("2006-01", string(m))
	if err != nil {
		return time.Time{}, time.Time{}
	}
	return t, t.AddDate(0, 1, 0)
}

// Days lists every day of the month in order.
func (m MonthKey) Days() []DayKey {
	from, to := m.Range()
	var out []DayKey
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		out = append(out, DayOf(d))
	}
	return out
}

func (m MonthKey) Next() MonthKey {
	from, _ := m.Range()
	return MonthOf(from.AddDate(0, 1, 0))
}

func (m MonthKey) Prev() MonthKey {
	from, _ := m.Range()
	return MonthOf(from.AddDate(0, -1, 0))
}

// Floating reinterprets t's wall clock in UTC without conversion.
func Floating(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
