package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivecal/internal/model"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func TestOpenToleratesMissingAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	s := Open(filepath.Join(dir, "missing.json"), 3)
	_, ok := s.LastMonth()
	assert.False(t, ok)
	assert.Equal(t, DefaultZoom, s.Zoom())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	s = Open(bad, 3)
	_, ok = s.LastMonth()
	assert.False(t, ok)

	odd := filepath.Join(dir, "odd.json")
	require.NoError(t, os.WriteFile(odd, []byte(`{"last_month":"yesterday","zoom":999}`), 0o600))
	s = Open(odd, 3)
	_, ok = s.LastMonth()
	assert.False(t, ok)
	assert.Equal(t, MaxZoom, s.Zoom())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.json")
	s := Open(path, 3)
	s.SetLastMonth("2026-10")
	s.SetZoom(125)
	s.SetOffset("2026-10", 10, 420, t0)
	require.NoError(t, s.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again := Open(path, 3)
	m, ok := again.LastMonth()
	require.True(t, ok)
	assert.Equal(t, model.MonthKey("2026-10"), m)
	assert.Equal(t, 125, again.Zoom())
	o, ok := again.Offset("2026-10")
	require.True(t, ok)
	assert.Equal(t, 420.0, o.Y)
}

func TestOffsetsAreLRUCapped(t *testing.T) {
	s := Open("", 3)
	months := []model.MonthKey{"2026-06", "2026-07", "2026-08", "2026-09"}
	for i, m := range months {
		s.SetOffset(m, 0, float64(i), t0.Add(time.Duration(i)*time.Minute))
	}
	assert.Equal(t, []model.MonthKey{"2026-09", "2026-08", "2026-07"}, s.Months())

	// Touching July makes August the oldest.
	s.SetOffset("2026-07", 0, 1, t0.Add(time.Hour))
	s.SetOffset("2026-10", 0, 1, t0.Add(2*time.Hour))
	assert.Equal(t, []model.MonthKey{"2026-10", "2026-07", "2026-09"}, s.Months())
}

func TestRestoreClamps(t *testing.T) {
	s := Open("", 3)
	s.SetOffset("2026-10", 900, 5000, t0)
	x, y := s.Restore("2026-10", 300, 2400)
	assert.Equal(t, 300.0, x)
	assert.Equal(t, 2400.0, y)

	x, y = s.Restore("2026-11", 300, 2400)
	assert.Zero(t, x)
	assert.Zero(t, y)
}

func TestSaverDebouncesAndWaitsForPanEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path, 3)
	sv := NewSaver(s, 250*time.Millisecond)

	sv.Scrolled("2026-10", 0, 100, true, t0)
	sv.Scrolled("2026-10", 0, 200, true, t0.Add(50*time.Millisecond))
	assert.False(t, sv.Tick(t0.Add(time.Second)), "never saves while panning")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	sv.PanEnded(t0.Add(time.Second))
	assert.True(t, sv.Pending())
	assert.False(t, sv.Tick(t0.Add(1100*time.Millisecond)))
	assert.True(t, sv.Tick(t0.Add(1250*time.Millisecond)))
	assert.False(t, sv.Pending())

	o, ok := Open(path, 3).Offset("2026-10")
	require.True(t, ok)
	assert.Equal(t, 200.0, o.Y)

	// A later scroll pushes the deadline.
	sv.Scrolled("2026-10", 0, 300, false, t0.Add(2*time.Second))
	sv.Scrolled("2026-10", 0, 310, false, t0.Add(2200*time.Millisecond))
	assert.False(t, sv.Tick(t0.Add(2300*time.Millisecond)))
	assert.True(t, sv.Tick(t0.Add(2450*time.Millisecond)))
}
