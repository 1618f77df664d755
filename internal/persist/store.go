// Package persist keeps the last viewed month, the zoom level and per-month
// scroll offsets across restarts. Everything here is best-effort.
package persist

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"drivecal/internal/config"
	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

const (
	DefaultZoom = 100
	MinZoom     = 50
	MaxZoom     = 200
)

// Offset is a saved scroll position.
type Offset struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	LastUsedAt time.Time `json:"last_used_at"`
}

type record struct {
	LastMonth model.MonthKey            `json:"last_month,omitempty"`
	Zoom      int                       `json:"zoom,omitempty"`
	Scroll    map[model.MonthKey]Offset `json:"scroll,omitempty"`
}

// Store is the persistent client-side record.
type Store struct {
	path      string
	maxMonths int

	mu  sync.Mutex
	rec record
}

// Open loads path. A missing or corrupt file yields an empty store.
func Open(path string, maxMonths int) *Store {
	if maxMonths <= 0 {
		maxMonths = 12
	}
	s := &Store{path: path, maxMonths: maxMonths, rec: record{Scroll: map[model.MonthKey]Offset{}}}
	if path == "" {
		return s
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("state unreadable, starting fresh", "path", path, "err", err)
		}
		return s
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		appLog.Warn("state corrupt, starting fresh", "path", path, "err", err)
		return s
	}
	if _, err := model.ParseMonth(string(rec.LastMonth)); err != nil {
		rec.LastMonth = ""
	}
	if rec.Scroll == nil {
		rec.Scroll = map[model.MonthKey]Offset{}
	}
	s.rec = rec
	s.mu.Lock()
	s.evictLocked()
	s.mu.Unlock()
	return s
}

// LastMonth returns the last viewed month.
func (s *Store) LastMonth() (model.MonthKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.LastMonth, s.rec.LastMonth != ""
}

func (s *Store) SetLastMonth(m model.MonthKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.LastMonth = m
}

// Zoom returns the zoom percentage.
func (s *Store) Zoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Zoom == 0 {
		return DefaultZoom
	}
	return ClampZoom(s.rec.Zoom)
}

func (s *Store) SetZoom(pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Zoom = ClampZoom(pct)
}

// ClampZoom bounds a zoom percentage.
func ClampZoom(pct int) int {
	switch {
	case pct < MinZoom:
		return MinZoom
	case pct > MaxZoom:
		return MaxZoom
	}
	return pct
}

// Offset returns the saved position of month.
func (s *Store) Offset(m model.MonthKey) (Offset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rec.Scroll[m]
	return o, ok
}

// SetOffset saves a position and evicts the least recently used months
// above capacity.
func (s *Store) SetOffset(m model.MonthKey, x, y float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Scroll[m] = Offset{X: x, Y: y, LastUsedAt: now}
	s.evictLocked()
}

// Months lists the months with a saved position, most recent first.
func (s *Store) Months() []model.MonthKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRecencyLocked()
}

func (s *Store) byRecencyLocked() []model.MonthKey {
	out := make([]model.MonthKey, 0, len(s.rec.Scroll))
	for m := range s.rec.Scroll {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := s.rec.Scroll[out[i]].LastUsedAt, s.rec.Scroll[out[j]].LastUsedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i] > out[j]
	})
	return out
}

func (s *Store) evictLocked() {
	if len(s.rec.Scroll) <= s.maxMonths {
		return
	}
	for _, m := range s.byRecencyLocked()[s.maxMonths:] {
		delete(s.rec.Scroll, m)
	}
}

// Save writes the record atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	data, err := json.MarshalIndent(&s.rec, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, ".drivecal-state-*.tmp")
}

// Restore returns the saved offset of month clamped to [0, maxX]x[0, maxY].
func (s *Store) Restore(m model.MonthKey, maxX, maxY float64) (float64, float64) {
	o, ok := s.Offset(m)
	if !ok {
		return 0, 0
	}
	return clamp(o.X, maxX), clamp(o.Y, maxY)
}

func clamp(v, limit float64) float64 {
	if limit < 0 {
		limit = 0
	}
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
