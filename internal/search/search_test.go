package search

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivecal/internal/indexer"
	"drivecal/internal/model"
	"drivecal/internal/virtual"
)

var dir = &model.Directory{
	Students: map[string]model.Student{
		"s1": {ID: "s1", Name: "José Núñez", Phone: "+34 600-112-233"},
		"s2": {ID: "s2", Name: "Marta Gil", Phone: "600 998 877"},
	},
	Groups:      map[string]string{"g1": "Grupo Mañana"},
	Instructors: map[string]model.Instructor{"i1": {ID: "i1", Name: "Ana"}},
}

func day(d, h int) time.Time {
	return time.Date(2026, 10, d, h, 0, 0, 0, time.UTC)
}

func testIndex() *indexer.MonthIndex {
	return indexer.Build("2026-10", dir, []model.Reservation{
		{ID: "r1", Start: day(5, 9), InstructorID: "i1", StudentID: "s1", GroupID: "g1"},
		{ID: "r2", Start: day(6, 9), InstructorID: "i1", StudentID: "s2"},
		{ID: "r3", Start: day(7, 9), InstructorID: "i1", StudentID: "s1", Notes: "examen"},
	})
}

func TestSearchNormalizedText(t *testing.T) {
	mi := testIndex()
	hits := Search(mi, "  JOSE  nunez", 0)
	require.Len(t, hits, 2)
	assert.Equal(t, "r1", hits[0].EventID)
	assert.Equal(t, "r3", hits[1].EventID)

	assert.Len(t, Search(mi, "manana", 0), 1)
	assert.Len(t, Search(mi, "Examen", 0), 1)
	assert.Empty(t, Search(mi, "   ", 0))
	assert.Empty(t, Search(nil, "jose", 0))
}

func TestSearchPhoneDigits(t *testing.T) {
	mi := testIndex()
	hits := Search(mi, "112 233", 0)
	require.Len(t, hits, 2)

	hits = Search(mi, "998-87", 0)
	require.Len(t, hits, 1)
	assert.Equal(t, "r2", hits[0].EventID)

	// Two digits are too few to search phones.
	assert.Empty(t, Search(mi, "60", 0))
}

func TestSearchLimit(t *testing.T) {
	assert.Len(t, Search(testIndex(), "ana", 1), 1)
}

const rowSize = 100.0

// grid is a fake viewport over a virtualization controller: a day only has
// a rectangle once it is hydrated.
type grid struct {
	virt   *virtual.Controller
	offset float64
	size   float64
	now    time.Time
}

func (g *grid) TargetRect(i int, _ string) (float64, float64, bool) {
	if !g.virt.IsHydrated(i) {
		return 0, 0, false
	}
	off, size := g.virt.Layout().Span(i)
	return off, off + size, true
}

func (g *grid) ScrollTo(offset float64) {
	limit := g.virt.Layout().Extent() - g.size
	g.offset = math.Max(0, math.Min(limit, offset))
	g.now = g.now.Add(16 * time.Millisecond)
	g.virt.Update(g.offset, g.size, false, g.now)
}

func (g *grid) Offset() float64 { return g.offset }
func (g *grid) Size() float64   { return g.size }

func newGrid(days int, cfg virtual.Config) (*grid, []model.DayKey) {
	keys := make([]model.DayKey, days)
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i := range keys {
		keys[i] = model.DayOf(base.AddDate(0, 0, i))
	}
	v := virtual.New(cfg)
	v.Reset(virtual.UniformLayout(keys, rowSize))
	g := &grid{virt: v, size: 300, now: base}
	v.Update(0, g.size, false, g.now)
	return g, keys
}

func TestNavigateToFarDay(t *testing.T) {
	cfg := virtual.Config{Overscan: 2, PanOverscanMax: 8, StickyCapacity: 10, SyncHydrate: 1, HydrateBatch: 1}
	g, keys := newGrid(40, cfg)
	nav := NewNavigator(g.virt, g, 8)

	_, ok := nav.Navigate(Target{Day: keys[35]})
	require.True(t, ok)
	for nav.Pending() {
		g.virt.Frame()
		nav.Frame()
	}

	res := nav.Last()
	assert.True(t, res.Found)
	assert.LessOrEqual(t, res.Attempts, 8)
	assert.True(t, g.virt.IsHydrated(35))
	for i := 33; i <= 37; i++ {
		assert.True(t, g.virt.IsVisible(i), "day %d", i)
	}
}

func TestNavigateGivesUpAfterRetries(t *testing.T) {
	cfg := virtual.Config{Overscan: 2, StickyCapacity: 10, SyncHydrate: 1, HydrateBatch: 1}
	g, keys := newGrid(10, cfg)
	nav := NewNavigator(g.virt, stuck{g}, 3)

	_, ok := nav.Navigate(Target{Day: keys[8]})
	require.True(t, ok)
	frames := 0
	for nav.Pending() {
		nav.Frame()
		frames++
	}
	assert.False(t, nav.Last().Found)
	assert.Equal(t, 3, nav.Last().Attempts)
	assert.Equal(t, 2, frames)
}

// stuck never reports a rendered rectangle.
type stuck struct{ *grid }

func (stuck) TargetRect(int, string) (float64, float64, bool) { return 0, 0, false }

func TestNewerNavigationWins(t *testing.T) {
	cfg := virtual.Config{Overscan: 1, StickyCapacity: 10, SyncHydrate: 1, HydrateBatch: 1}
	g, keys := newGrid(30, cfg)
	nav := NewNavigator(g.virt, stuck{g}, 5)

	first, _ := nav.Navigate(Target{Day: keys[20]})
	second, _ := nav.Navigate(Target{Day: keys[4], EventID: "r1"})
	assert.Greater(t, second, first)
	for nav.Pending() {
		nav.Frame()
	}
	assert.Equal(t, second, nav.Last().Seq)
	assert.Equal(t, "r1", nav.Last().Target.EventID)
}

func TestNavigateUnknownDay(t *testing.T) {
	g, _ := newGrid(5, virtual.Config{Overscan: 1})
	nav := NewNavigator(g.virt, g, 3)
	_, ok := nav.Navigate(Target{Day: model.DayOf(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))})
	assert.False(t, ok)
	assert.False(t, nav.Pending())
}
