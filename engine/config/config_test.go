package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[window]
width = 800

[renderer]
backend = "headless"
frames_in_flight = 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Equal(t, uint32(720), cfg.Window.Height)
	assert.Equal(t, "headless", cfg.Renderer.Backend)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "[window]\ndepth = 3\n",
		"frames":          "[renderer]\nframes_in_flight = 0\n",
		"backend":         "[renderer]\nbackend = \"metal\"\n",
		"zero size":       "[window]\nheight = 0\n",
		"negative worker": "[renderer]\nworkers = -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lumen.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "lumen.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
