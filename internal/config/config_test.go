package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "drivecal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drivecal.yaml")
	raw := []byte("listen: \":9000\"\npan:\n  x:\n    enabled: true\n    friction: 1.5\ncoalescer:\n  small_batch: 5\n")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 5, cfg.Coalescer.SmallBatch)
	assert.Equal(t, 1500, cfg.Coalescer.HoldWindowMs)
	// Out of range friction falls back to the default.
	assert.InDelta(t, 0.92, cfg.Pan.X.Friction, 1e-9)
	assert.Greater(t, cfg.Pan.X.MaxVelocity, 0.0)
	assert.Greater(t, cfg.Pan.Touch.Slop, cfg.Pan.Mouse.Slop)
	assert.Greater(t, cfg.Pan.Mouse.Slop, cfg.Pan.Pen.Slop)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drivecal.yaml")
	cfg := DefaultConfig()
	cfg.Feeds = append(cfg.Feeds, InstructorFeed{InstructorID: "i1", URL: "https://example.com/i1.ics"})
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Feeds, loaded.Feeds)
	assert.Equal(t, cfg.Virtualization, loaded.Virtualization)
}
