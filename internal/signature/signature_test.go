package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivecal/internal/model"
)

func testDirectory() *model.Directory {
	return &model.Directory{
		Students: map[string]model.Student{
			"s1": {ID: "s1", Name: "Zoë Müller", Phone: "+49 (170) 555-0101", GroupID: "g1"},
		},
		Groups:      map[string]string{"g1": "Evening B"},
		Instructors: map[string]model.Instructor{"i1": {ID: "i1", Name: "Ana"}},
	}
}

func baseReservation() model.Reservation {
	end := time.Date(2026, 10, 5, 11, 0, 0, 0, time.UTC)
	return model.Reservation{
		ID:           "r1",
		Start:        time.Date(2026, 10, 5, 9, 30, 0, 0, time.UTC),
		End:          &end,
		InstructorID: "i1",
		GroupID:      "g1",
		StudentID:    "s1",
		Sector:       "north",
		Gearbox:      "auto",
		Color:        "#ff0000",
		Notes:        "bring glasses",
	}
}

func TestSignatureIsIdempotent(t *testing.T) {
	dir := testDirectory()
	r := baseReservation()
	assert.Equal(t, Of(r, dir), Of(r, dir))
}

func TestSignatureChangesWithEveryRenderedField(t *testing.T) {
	dir := testDirectory()
	base := Of(baseReservation(), dir)

	mutations := map[string]func(r *model.Reservation){
		"start":      func(r *model.Reservation) { r.Start = r.Start.Add(time.Minute) },
		"end":        func(r *model.Reservation) { e := r.End.Add(time.Minute); r.End = &e },
		"instructor": func(r *model.Reservation) { r.InstructorID = "i2" },
		"group":      func(r *model.Reservation) { r.GroupID = "g2" },
		"student":    func(r *model.Reservation) { r.StudentID = "s2" },
		"sector":     func(r *model.Reservation) { r.Sector = "south" },
		"gearbox":    func(r *model.Reservation) { r.Gearbox = "manual" },
		"color":      func(r *model.Reservation) { r.Color = "#00ff00" },
		"confirmed":  func(r *model.Reservation) { r.Confirmed = true },
		"notes":      func(r *model.Reservation) { r.Notes = "" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := baseReservation()
			mutate(&r)
			assert.NotEqual(t, base, Of(r, dir))
		})
	}

	t.Run("student phone", func(t *testing.T) {
		other := testDirectory()
		st := other.Students["s1"]
		st.Phone = "123"
		other.Students["s1"] = st
		assert.NotEqual(t, base, Of(baseReservation(), other))
	})
}

func TestEventKeyFallsBackToSyntheticKey(t *testing.T) {
	r := baseReservation()
	r.ID = ""
	r.Position = 4
	assert.Equal(t, "tmp:i1|2026-10-05T09:30:00|s1|g1|4", EventKey(r))
}

func TestEnrich(t *testing.T) {
	ev := Enrich(baseReservation(), testDirectory())
	assert.Equal(t, "r1", ev.ID)
	assert.Equal(t, "i1|2026-10-05T09:30:00", ev.SlotKey)
	assert.Equal(t, "491705550101", ev.PhoneDigits)
	assert.Equal(t, "Automatic", ev.GearboxLabel)
	assert.Contains(t, ev.SearchText, "zoe muller")
	assert.Contains(t, ev.SearchText, "evening b")
	assert.Equal(t, "2026-10-05", ev.Day.String())
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "jose angel", NormalizeText("  José   Ángel "))
}

func TestStoreUpdate(t *testing.T) {
	dir := testDirectory()
	var s Store

	a := baseReservation()
	b := baseReservation()
	b.ID = "r2"

	d := s.Update("2026-10", dir, []model.Reservation{a, b})
	require.True(t, d.Reset)
	assert.Len(t, d.All, 2)

	d = s.Update("2026-10", dir, []model.Reservation{a, b})
	assert.True(t, d.Empty())

	b.Notes = "changed"
	c := baseReservation()
	c.ID = "r3"
	d = s.Update("2026-10", dir, []model.Reservation{b, c})
	require.False(t, d.Reset)
	assert.Equal(t, []string{"r1"}, d.Removed)
	require.Len(t, d.Upserts, 2)
	assert.Equal(t, "r2", d.Upserts[0].ID)
	assert.Equal(t, "r3", d.Upserts[1].ID)

	// New directory identity forces a reset even with identical content.
	d = s.Update("2026-10", testDirectory(), []model.Reservation{b, c})
	assert.True(t, d.Reset)

	d = s.Update("2026-11", dir, []model.Reservation{b, c})
	assert.True(t, d.Reset)
}
