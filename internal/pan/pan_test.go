package pan

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type surface struct {
	x, y       float64
	maxX, maxY float64
}

func (s *surface) ScrollBy(dx, dy float64) (float64, float64) {
	nx := math.Max(0, math.Min(s.maxX, s.x+dx))
	ny := math.Max(0, math.Min(s.maxY, s.y+dy))
	ax, ay := nx-s.x, ny-s.y
	s.x, s.y = nx, ny
	return ax, ay
}

func testConfig() Config {
	axis := AxisConfig{Enabled: true, Boost: 1.2, Friction: 0.92, StopSpeed: 0.35, MaxVelocity: 60}
	return Config{
		Touch: ModalityConfig{Slop: 10, Blend: 0.35, StopSpeed: 0.6},
		Mouse: ModalityConfig{Slop: 5, Blend: 0.5, StopSpeed: 0.9},
		Pen:   ModalityConfig{Slop: 3, Blend: 0.45, StopSpeed: 0.8},
		X:     axis,
		Y:     axis,
	}
}

type recorder struct {
	starts []Modality
	ends   int
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		PanStart: func(m Modality) { r.starts = append(r.starts, m) },
		PanEnd:   func() { r.ends++ },
	}
}

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func ms(n int) time.Time { return t0.Add(time.Duration(n) * time.Millisecond) }

func TestMovementWithinSlopIsAClick(t *testing.T) {
	s := &surface{x: 500, y: 500, maxX: 5000, maxY: 5000}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	c.Pointer(Pointer{Kind: Down, Modality: Touch, X: 100, Y: 100, At: ms(0)})
	c.Pointer(Pointer{Kind: Move, Modality: Touch, X: 106, Y: 105, At: ms(16)})
	c.Pointer(Pointer{Kind: Up, Modality: Touch, X: 106, Y: 105, At: ms(32)})

	assert.Empty(t, rec.starts)
	assert.Equal(t, 500.0, s.x)
	assert.False(t, c.ConsumeClick())
}

func TestSlopDependsOnModality(t *testing.T) {
	for _, tc := range []struct {
		modality Modality
		pans     bool
	}{
		{Touch, false},
		{Mouse, true},
		{Pen, true},
	} {
		t.Run(tc.modality.String(), func(t *testing.T) {
			var rec recorder
			c := New(testConfig(), &surface{maxX: 1000, maxY: 1000}, rec.hooks())
			c.Pointer(Pointer{Kind: Down, Modality: tc.modality, X: 0, Y: 0, At: ms(0)})
			c.Pointer(Pointer{Kind: Move, Modality: tc.modality, X: 7, Y: 0, At: ms(16)})
			assert.Equal(t, tc.pans, c.Active())
		})
	}
}

func TestPanScrollsAndSuppressesClick(t *testing.T) {
	s := &surface{x: 500, y: 500, maxX: 5000, maxY: 5000}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	c.Pointer(Pointer{Kind: Down, Modality: Mouse, X: 100, Y: 100, At: ms(0)})
	c.Pointer(Pointer{Kind: Move, Modality: Mouse, X: 100, Y: 80, At: ms(16)})
	require.Equal(t, []Modality{Mouse}, rec.starts)
	assert.Equal(t, 520.0, s.y)

	c.Pointer(Pointer{Kind: Cancel, At: ms(20)})
	assert.Equal(t, 1, rec.ends)
	assert.True(t, c.ConsumeClick())
	assert.False(t, c.ConsumeClick())
}

func fling(c *Controller, dy float64) {
	c.Pointer(Pointer{Kind: Down, Modality: Touch, X: 0, Y: 500, At: ms(0)})
	y := 500.0
	for i := 1; i <= 5; i++ {
		y -= dy
		c.Pointer(Pointer{Kind: Move, Modality: Touch, X: 0, Y: y, At: ms(16 * i)})
	}
	c.Pointer(Pointer{Kind: Up, Modality: Touch, X: 0, Y: y, At: ms(96)})
}

func TestInertiaTerminatesWithinBound(t *testing.T) {
	s := &surface{y: 0, maxX: 0, maxY: 1e9}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	// Absurd pointer speed; velocity must be clamped.
	fling(c, 5000)
	require.True(t, c.Coasting())
	_, vy := c.Velocity()
	assert.LessOrEqual(t, math.Abs(vy), 60.0)

	// v_n = 60 * 0.92^n drops under 0.35 after ceil(log(0.35/60)/log(0.92)) frames.
	bound := int(math.Ceil(math.Log(0.35/60)/math.Log(0.92))) + 1
	frames := 0
	for c.Frame(ms(96 + 16*(frames+1))) {
		frames++
		require.LessOrEqual(t, frames, bound*2, "inertia did not terminate")
	}
	assert.False(t, c.Active())
	assert.Equal(t, 1, rec.ends)
	assert.Greater(t, s.y, 0.0)
}

func TestInertiaStopsAtBoundary(t *testing.T) {
	s := &surface{y: 0, maxY: 600}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	fling(c, 40)
	require.True(t, c.Coasting())

	frames := 0
	for c.Frame(ms(96 + 16*(frames+1))) {
		frames++
	}
	assert.Equal(t, 600.0, s.y)
	assert.Less(t, frames, 40)
	assert.Equal(t, 1, rec.ends)
}

func TestWheelCancelsInertia(t *testing.T) {
	s := &surface{maxY: 1e6}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	fling(c, 40)
	require.True(t, c.Coasting())
	before := s.y

	c.Wheel(0, 0)
	assert.True(t, c.Coasting(), "zero wheel delta keeps inertia")

	c.Wheel(0, 30)
	assert.False(t, c.Coasting())
	assert.Equal(t, before+30, s.y)
	assert.False(t, c.Frame(ms(200)))
	assert.Equal(t, 1, rec.ends)
}

func TestSlowReleaseDoesNotCoast(t *testing.T) {
	s := &surface{maxY: 1e6}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	c.Pointer(Pointer{Kind: Down, Modality: Mouse, X: 0, Y: 100, At: ms(0)})
	c.Pointer(Pointer{Kind: Move, Modality: Mouse, X: 0, Y: 90, At: ms(500)})
	c.Pointer(Pointer{Kind: Up, Modality: Mouse, X: 0, Y: 90, At: ms(1000)})

	assert.False(t, c.Active())
	assert.Equal(t, 1, rec.ends)
}

func TestDisabledAxisIgnoresMovement(t *testing.T) {
	cfg := testConfig()
	cfg.X.Enabled = false
	s := &surface{x: 100, maxX: 1000, maxY: 1000}
	c := New(cfg, s, Hooks{})

	c.Pointer(Pointer{Kind: Down, Modality: Mouse, X: 100, Y: 100, At: ms(0)})
	c.Pointer(Pointer{Kind: Move, Modality: Mouse, X: 50, Y: 100, At: ms(16)})
	assert.Equal(t, 100.0, s.x)
}

func TestPauseBeforeReleaseDoesNotCoast(t *testing.T) {
	s := &surface{maxY: 1e6}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	c.Pointer(Pointer{Kind: Down, Modality: Touch, X: 0, Y: 500, At: ms(0)})
	c.Pointer(Pointer{Kind: Move, Modality: Touch, X: 0, Y: 400, At: ms(16)})
	c.Pointer(Pointer{Kind: Move, Modality: Touch, X: 0, Y: 300, At: ms(32)})
	// Finger rests for two seconds, then lifts without moving.
	c.Pointer(Pointer{Kind: Up, Modality: Touch, X: 0, Y: 300, At: ms(2032)})

	assert.False(t, c.Coasting())
	assert.False(t, c.Active())
	vx, vy := c.Velocity()
	assert.Zero(t, vx)
	assert.Zero(t, vy)
	assert.Equal(t, 1, rec.ends)
}

func TestCancelWhileCoastingEndsPan(t *testing.T) {
	s := &surface{maxY: 1e6}
	var rec recorder
	c := New(testConfig(), s, rec.hooks())

	fling(c, 40)
	require.True(t, c.Coasting())

	c.Pointer(Pointer{Kind: Cancel, At: ms(100)})
	assert.False(t, c.Active())
	assert.Equal(t, 1, rec.ends)
	assert.False(t, c.Frame(ms(120)))
}
