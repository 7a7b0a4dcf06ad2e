package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/scene"
)

func headlessConfig(frames uint64) config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = "headless"
	cfg.Renderer.Workers = 2
	cfg.Renderer.MaxFrames = frames
	cfg.Scene.Path = ""
	cfg.Window.Width, cfg.Window.Height = 320, 240
	return cfg
}

type counter struct {
	updates int
	resizes [][2]uint32
	onFrame func(n int)
}

func (c *counter) game() *Game {
	return &Game{
		Name: "test",
		FnInitialize: func(s *scene.Scene) error {
			m := s.AddMaterial(scene.NewMaterial("stone", scene.NewOpaquePass()))
			cube := s.AddMesh(scene.NewMesh("cube", scene.Cube(0.5)))
			s.AddGeometry("a", s.AddNode(scene.NewSceneNode("a", math.NewVec3(0, 0, 0))), cube, m)
			s.AddGeometry("b", s.AddNode(scene.NewSceneNode("b", math.NewVec3(2, 0, 0))), cube, m)
			return nil
		},
		FnUpdate: func(s *scene.Scene, dt float64) error {
			c.updates++
			if c.onFrame != nil {
				c.onFrame(c.updates)
			}
			return nil
		},
		FnOnResize: func(w, h uint32) error {
			c.resizes = append(c.resizes, [2]uint32{w, h})
			return nil
		},
	}
}

func start(t *testing.T, c *counter, frames uint64) *Engine {
	t.Helper()
	e, err := New(c.game(), headlessConfig(frames))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestRunStopsAfterMaxFrames(t *testing.T) {
	c := &counter{}
	e := start(t, c, 5)
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 5, c.updates)
	assert.Equal(t, [][2]uint32{{320, 240}}, c.resizes)
	assert.Equal(t, "headless", e.Device().Name())
}

func TestGeometryIsUploaded(t *testing.T) {
	c := &counter{}
	e := start(t, c, 1)
	require.NoError(t, e.Run(context.Background()))

	sub := e.Scene().Mesh("cube").Submeshes[0]
	require.NotZero(t, sub.Buffers.Vertex)
	require.NotZero(t, sub.Buffers.Index)
	dev := e.Device().(*gpu.Headless)
	assert.Equal(t, scene.EncodeVertices(sub.Vertices), dev.BufferContents(sub.Buffers.Vertex))
	assert.Equal(t, uint32(36), sub.Buffers.IndexCount)

	require.NoError(t, e.Shutdown())
	assert.Zero(t, sub.Buffers.Vertex)
	assert.Zero(t, dev.Live("buffer"))
}

func TestResizeEventRecreates(t *testing.T) {
	c := &counter{}
	e := start(t, c, 3)
	c.onFrame = func(n int) {
		if n == 1 {
			core.EventFire(core.EventContext{Type: core.EVENT_CODE_RESIZED, U32: [4]uint32{640, 480}})
		}
	}
	require.NoError(t, e.Run(context.Background()))

	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(480), h)
	assert.Equal(t, [][2]uint32{{320, 240}, {640, 480}}, c.resizes)
}

func TestZeroSizeMinimizes(t *testing.T) {
	c := &counter{}
	e := start(t, c, 1)

	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED})
	require.NoError(t, e.applyResize())
	w, h := e.GetFramebufferSize()
	assert.Zero(t, w)
	assert.Zero(t, h)
	assert.Len(t, c.resizes, 1, "nothing is rebuilt for a minimized window")

	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED, U32: [4]uint32{200, 100}})
	require.NoError(t, e.applyResize())
	w, h = e.GetFramebufferSize()
	assert.Equal(t, [2]uint32{200, 100}, [2]uint32{w, h})
	assert.Equal(t, [2]uint32{200, 100}, c.resizes[len(c.resizes)-1])

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, c.updates)
}

func TestQuitEventStopsRun(t *testing.T) {
	c := &counter{}
	e := start(t, c, 0)
	c.onFrame = func(n int) {
		if n == 2 {
			core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		}
	}
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 2, c.updates)
}

func TestCancelledContextStopsRun(t *testing.T) {
	c := &counter{}
	e := start(t, c, 0)
	ctx, cancel := context.WithCancel(context.Background())
	c.onFrame = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, 3, c.updates)
}

func TestUpdateErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	e, err := New(&Game{FnUpdate: func(*scene.Scene, float64) error { return boom }}, headlessConfig(0))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()
	assert.ErrorIs(t, e.Run(context.Background()), boom)
}

func TestDeviceLossIsFatal(t *testing.T) {
	c := &counter{}
	e := start(t, c, 0)
	lost := false
	core.EventRegister(core.EVENT_CODE_DEVICE_LOST, t, func(core.EventContext) bool {
		lost = true
		return false
	})
	defer core.DefaultEventBus().Unregister(core.EVENT_CODE_DEVICE_LOST, t)
	c.onFrame = func(n int) {
		if n == 2 {
			e.Device().(*gpu.Headless).LoseDevice()
		}
	}
	assert.ErrorIs(t, e.Run(context.Background()), core.ErrDeviceLost)
	assert.True(t, lost)
}

func TestRecreateLoopStopsRun(t *testing.T) {
	c := &counter{}
	e := start(t, c, 0)
	e.Device().(*gpu.Headless).FailSubmits(1000, core.ErrOutOfDate)
	err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrRecreateLoop)
	assert.Equal(t, recreateLimit+1, c.updates)
	assert.Equal(t, uint64(recreateLimit+1), e.Metrics().FramesAborted.Load())
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(&Game{}, headlessConfig(1))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(context.Background()), ErrNotInitialized)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := headlessConfig(1)
	cfg.Renderer.FramesInFlight = 0
	_, err := New(&Game{}, cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
