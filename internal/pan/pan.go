// Package pan turns pointer and wheel input into scroll offsets with
// post-release inertia. It knows nothing about calendar data; it only
// drives a Surface.
package pan

import (
	"math"
	"time"

	"drivecal/internal/config"
)

// frameDuration is the reference frame for velocities (px per frame).
const frameDuration = time.Second / 60

type Modality int

const (
	Mouse Modality = iota
	Touch
	Pen
)

func (m Modality) String() string {
	switch m {
	case Touch:
		return "touch"
	case Pen:
		return "pen"
	default:
		return "mouse"
	}
}

// ParseModality maps pointer-type strings ("mouse", "touch", "pen").
func ParseModality(s string) Modality {
	switch s {
	case "touch":
		return Touch
	case "pen":
		return Pen
	default:
		return Mouse
	}
}

type PointerKind int

const (
	Down PointerKind = iota
	Move
	Up
	Cancel
)

// Pointer is one pointer event in surface coordinates.
type Pointer struct {
	Kind     PointerKind
	Modality Modality
	X, Y     float64
	At       time.Time
}

// Surface is the scrollable area. ScrollBy returns the deltas actually
// applied after clamping to the scroll bounds.
type Surface interface {
	ScrollBy(dx, dy float64) (float64, float64)
}

// Hooks receive gesture boundaries. Both are optional.
type Hooks struct {
	PanStart func(Modality)
	PanEnd   func()
}

type ModalityConfig struct {
	Slop      float64
	Blend     float64
	StopSpeed float64
}

type AxisConfig struct {
	Enabled     bool
	Boost       float64
	Friction    float64
	StopSpeed   float64
	MaxVelocity float64
}

type Config struct {
	Mouse, Touch, Pen ModalityConfig
	X, Y              AxisConfig
}

// FromConfig maps the YAML pan section.
func FromConfig(pc config.PanConfig) Config {
	mod := func(m config.ModalityConfig) ModalityConfig {
		return ModalityConfig{Slop: m.Slop, Blend: m.Blend, StopSpeed: m.StopSpeed}
	}
	axis := func(a config.AxisConfig) AxisConfig {
		return AxisConfig{Enabled: a.Enabled, Boost: a.Boost, Friction: a.Friction, StopSpeed: a.StopSpeed, MaxVelocity: a.MaxVelocity}
	}
	return Config{
		Mouse: mod(pc.Mouse),
		Touch: mod(pc.Touch),
		Pen:   mod(pc.Pen),
		X:     axis(pc.X),
		Y:     axis(pc.Y),
	}
}

func (c Config) modality(m Modality) ModalityConfig {
	switch m {
	case Touch:
		return c.Touch
	case Pen:
		return c.Pen
	default:
		return c.Mouse
	}
}

type phase int

const (
	idle phase = iota
	pressed
	panning
	coasting
)

// Controller is a single-goroutine gesture state machine.
type Controller struct {
	cfg     Config
	surface Surface
	hooks   Hooks

	phase    phase
	modality Modality
	startX   float64
	startY   float64
	lastX    float64
	lastY    float64
	lastAt   time.Time

	vx, vy    float64
	lastFrame time.Time

	suppressClick bool
}

func New(cfg Config, surface Surface, hooks Hooks) *Controller {
	cfg.X = normalizeAxis(cfg.X)
	cfg.Y = normalizeAxis(cfg.Y)
	return &Controller{cfg: cfg, surface: surface, hooks: hooks}
}

// normalizeAxis guarantees decaying, bounded inertia.
func normalizeAxis(a AxisConfig) AxisConfig {
	if a.Boost <= 0 {
		a.Boost = 1
	}
	if a.Friction <= 0 || a.Friction >= 1 {
		a.Friction = 0.92
	}
	if a.StopSpeed <= 0 {
		a.StopSpeed = 0.35
	}
	if a.MaxVelocity <= 0 {
		a.MaxVelocity = 80
	}
	return a
}

// Active reports whether a pan or its inertia is in progress.
func (c *Controller) Active() bool {
	return c.phase == panning || c.phase == coasting
}

// Coasting reports whether inertia is running.
func (c *Controller) Coasting() bool {
	return c.phase == coasting
}

// Velocity returns the current per-frame velocity.
func (c *Controller) Velocity() (float64, float64) {
	return c.vx, c.vy
}

// ConsumeClick reports (once) whether the click ending a pan must be ignored.
func (c *Controller) ConsumeClick() bool {
	s := c.suppressClick
	c.suppressClick = false
	return s
}

// Pointer feeds one pointer event.
func (c *Controller) Pointer(ev Pointer) {
	switch ev.Kind {
	case Down:
		if c.phase == coasting {
			c.end()
		}
		c.phase = pressed
		c.modality = ev.Modality
		c.startX, c.startY = ev.X, ev.Y
		c.lastX, c.lastY = ev.X, ev.Y
		c.lastAt = ev.At
		c.vx, c.vy = 0, 0
		c.suppressClick = false

	case Move:
		switch c.phase {
		case pressed:
			slop := c.cfg.modality(c.modality).Slop
			if math.Hypot(ev.X-c.startX, ev.Y-c.startY) <= slop {
				return
			}
			c.phase = panning
			c.suppressClick = true
			if c.hooks.PanStart != nil {
				c.hooks.PanStart(c.modality)
			}
			c.drag(ev)
		case panning:
			c.drag(ev)
		}

	case Up:
		switch c.phase {
		case pressed:
			c.phase = idle
		case panning:
			c.release(ev.At)
		}

	case Cancel:
		if c.Active() {
			c.end()
		}
		c.phase = idle
	}
}

// drag scrolls by the pointer delta and blends it into the velocity.
func (c *Controller) drag(ev Pointer) {
	dx, dy := ev.X-c.lastX, ev.Y-c.lastY
	dtFrames := float64(ev.At.Sub(c.lastAt)) / float64(frameDuration)
	if dtFrames < 0.25 {
		dtFrames = 0.25
	}
	blend := c.cfg.modality(c.modality).Blend

	if !c.cfg.X.Enabled {
		dx = 0
	}
	if !c.cfg.Y.Enabled {
		dy = 0
	}
	c.surface.ScrollBy(-dx, -dy)

	c.vx = clamp(blend*(dx/dtFrames)+(1-blend)*c.vx, c.cfg.X.MaxVelocity)
	c.vy = clamp(blend*(dy/dtFrames)+(1-blend)*c.vy, c.cfg.Y.MaxVelocity)

	c.lastX, c.lastY = ev.X, ev.Y
	c.lastAt = ev.At
}

// release starts inertia when the boosted velocity beats the modality's
// stop speed, otherwise ends the pan.
func (c *Controller) release(at time.Time) {
	mc := c.cfg.modality(c.modality)
	stop := mc.StopSpeed
	// A pointer resting before lift-off blends in one zero sample per idle
	// frame, so a flick followed by a pause does not coast.
	if idle := float64(at.Sub(c.lastAt))/float64(frameDuration) - 1; idle > 0 {
		f := math.Pow(1-mc.Blend, idle)
		c.vx *= f
		c.vy *= f
	}
	vx, vy := 0.0, 0.0
	if c.cfg.X.Enabled {
		vx = clamp(c.vx*c.cfg.X.Boost, c.cfg.X.MaxVelocity)
	}
	if c.cfg.Y.Enabled {
		vy = clamp(c.vy*c.cfg.Y.Boost, c.cfg.Y.MaxVelocity)
	}
	if math.Abs(vx) <= stop && math.Abs(vy) <= stop {
		c.end()
		return
	}
	c.vx, c.vy = vx, vy
	c.phase = coasting
	c.lastFrame = at
}

// Frame advances inertia to now and reports whether it is still running.
func (c *Controller) Frame(now time.Time) bool {
	if c.phase != coasting {
		return false
	}
	dt := float64(now.Sub(c.lastFrame)) / float64(frameDuration)
	if dt <= 0 {
		dt = 1
	}
	c.lastFrame = now

	c.vx = decay(c.vx, c.cfg.X, dt)
	c.vy = decay(c.vy, c.cfg.Y, dt)

	wantX, wantY := -c.vx*dt, -c.vy*dt
	gotX, gotY := c.surface.ScrollBy(wantX, wantY)
	if wantX != 0 && gotX == 0 {
		c.vx = 0
	}
	if wantY != 0 && gotY == 0 {
		c.vy = 0
	}
	if c.vx == 0 && c.vy == 0 {
		c.end()
		return false
	}
	return true
}

// Wheel scrolls directly. Any non-zero delta stops inertia first.
func (c *Controller) Wheel(dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	if c.phase == coasting {
		c.end()
	}
	c.surface.ScrollBy(dx, dy)
}

// Stop cancels any gesture without scrolling.
func (c *Controller) Stop() {
	if c.Active() {
		c.end()
	}
	c.phase = idle
}

func (c *Controller) end() {
	c.phase = idle
	c.vx, c.vy = 0, 0
	if c.hooks.PanEnd != nil {
		c.hooks.PanEnd()
	}
}

// decay applies friction^dt and zeroes velocities under the stop speed.
func decay(v float64, a AxisConfig, dt float64) float64 {
	if !a.Enabled {
		return 0
	}
	v = clamp(v*math.Pow(a.Friction, dt), a.MaxVelocity)
	if math.Abs(v) < a.StopSpeed {
		return 0
	}
	return v
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
