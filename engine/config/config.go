package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumen/engine/core"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Window   Window   `toml:"window"`
	Renderer Renderer `toml:"renderer"`
	Log      Log      `toml:"log"`
	Scene    Scene    `toml:"scene"`
}

type Window struct {
	Title  string `toml:"title"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	X      int32  `toml:"x"`
	Y      int32  `toml:"y"`
}

type Renderer struct {
	// "vulkan" or "headless"
	Backend        string `toml:"backend"`
	FramesInFlight int    `toml:"frames_in_flight"`
	// recording workers, 0 means one per CPU
	Workers    int    `toml:"workers"`
	Validation bool   `toml:"validation"`
	ShaderDir  string `toml:"shader_dir"`
	// scenes with more renderables than this are culled in parallel
	ParallelCullThreshold int  `toml:"parallel_cull_threshold"`
	Picking               bool `toml:"picking"`
	Shadows               bool `toml:"shadows"`
	// transparent nodes are blended without sorting
	OrderIndependent bool `toml:"order_independent"`
	// stop after this many frames, 0 runs until asked to quit
	MaxFrames uint64 `toml:"max_frames"`
}

type Log struct {
	Level string `toml:"level"`
}

type Scene struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

func Default() Config {
	return Config{
		Window: Window{
			Title:  "Lumen",
			Width:  1280,
			Height: 720,
			X:      100,
			Y:      100,
		},
		Renderer: Renderer{
			Backend:               "vulkan",
			FramesInFlight:        2,
			ShaderDir:             ".cache/shaders",
			ParallelCullThreshold: 1024,
			Shadows:               true,
		},
		Log:   Log{Level: "info"},
		Scene: Scene{Path: "assets/scenes/demo.toml"},
	}
}

// Load overlays the file at path on the defaults. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		core.LogInfo("no configuration at %s, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Window.Width == 0 || c.Window.Height == 0:
		return fmt.Errorf("%w: window size %dx%d", ErrInvalidConfig, c.Window.Width, c.Window.Height)
	case c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > 3:
		return fmt.Errorf("%w: frames_in_flight must be 1, 2 or 3, got %d", ErrInvalidConfig, c.Renderer.FramesInFlight)
	case c.Renderer.Workers < 0:
		return fmt.Errorf("%w: negative worker count", ErrInvalidConfig)
	case c.Renderer.Backend != "vulkan" && c.Renderer.Backend != "headless":
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Renderer.Backend)
	}
	return nil
}

func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
