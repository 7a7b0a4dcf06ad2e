package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/technique"
	"github.com/spaghettifunk/lumen/engine/scene"
	"github.com/spaghettifunk/lumen/engine/systems"
)

var (
	ErrNotInitialized = errors.New("engine: not initialized")
	ErrRecreateLoop   = errors.New("engine: frames keep failing after recreation")
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// metricsEvery is the number of frames between two metrics log lines.
const metricsEvery = 300

// More than recreateLimit recreations within recreateWindow frames stop Run.
const (
	recreateLimit  = 5
	recreateWindow = 60
)

type Engine struct {
	currentStage Stage
	cfg          config.Config
	gameInstance *Game
	bus          *core.EventBus

	backend   *backend
	scene     *scene.Scene
	watcher   *scene.Watcher
	jobs      *systems.JobSystem
	technique *technique.Technique

	clock    *core.Clock
	metrics  *core.Metrics
	lastTime float64
	frame    uint64
	// frame numbers of the latest recreations
	recreations *containers.RingQueue[uint64]

	isRunning atomic.Bool
	// pending resize packed as 1<<63 | width<<32 | height, zero when none
	resize atomic.Uint64
	width  uint32
	height uint32
}

func New(g *Game, cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("%w: log level: %w", config.ErrInvalidConfig, err)
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		cfg:          cfg,
		gameInstance: g,
		bus:          core.DefaultEventBus(),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
		recreations:  containers.NewRingQueue[uint64](recreateLimit),
	}
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onQuit)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	s, err := e.loadScene()
	if err != nil {
		return err
	}
	e.scene = s
	if e.gameInstance != nil && e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(s); err != nil {
			core.LogError("game initialization failed: %s", err)
			return err
		}
	}

	b, err := newBackend(e.cfg, e.bus)
	if err != nil {
		core.LogError("failed to start the %s backend: %s", e.cfg.Renderer.Backend, err)
		return err
	}
	e.backend = b
	e.width, e.height = b.size(e.width, e.height)

	workers := e.cfg.Renderer.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if e.jobs, err = systems.NewJobSystem(workers, workers*4); err != nil {
		return err
	}

	e.technique, err = technique.New(technique.Config{
		Name:             "deferred",
		Device:           b.device,
		Scene:            s,
		Shaders:          b.shaders,
		Jobs:             e.jobs,
		Frames:           e.cfg.Renderer.FramesInFlight,
		Size:             gpu.Extent{Width: e.width, Height: e.height},
		OrderIndependent: e.cfg.Renderer.OrderIndependent,
		ParallelCulling:  e.cfg.Renderer.ParallelCullThreshold,
		Shadows:          e.cfg.Renderer.Shadows,
		Picking:          e.cfg.Renderer.Picking,
		Metrics:          e.metrics,
	})
	if err != nil {
		core.LogError("failed to create the render technique: %s", err)
		return err
	}
	if e.gameInstance != nil && e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	if e.cfg.Scene.Watch && e.cfg.Scene.Path != "" {
		if err := e.watch(); err != nil {
			// hot reload is a convenience, rendering goes on without it
			core.LogWarn("scene hot reload disabled: %s", err)
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized on %s at %dx%d", b.device.Name(), e.width, e.height)
	return nil
}

// loadScene reads the configured scene file. Without one the game builds
// the scene from scratch.
func (e *Engine) loadScene() (*scene.Scene, error) {
	path := e.cfg.Scene.Path
	if path == "" {
		return scene.New("scene", e.bus), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		core.LogInfo("no scene file at %s, starting empty", path)
		return scene.New("scene", e.bus), nil
	}
	s, err := scene.Load(path, e.bus)
	if err != nil {
		core.LogError("failed to load scene %s: %s", path, err)
		return nil, err
	}
	return s, nil
}

func (e *Engine) watch() error {
	w, err := scene.NewWatcher(e.cfg.Scene.Path, e.scene)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Close()
		return err
	}
	e.watcher = w
	core.LogInfo("watching %s for changes", e.cfg.Scene.Path)
	return nil
}

/**
 * @brief Runs frames until ctx is done, the window closes, a quit event is
 * fired or the configured frame count is reached. Frames aborted with
 * core.ErrRecreateRequired rebuild the per size resources and go on.
 */
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return ErrNotInitialized
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if err := ctx.Err(); err != nil {
			break
		}
		if !e.backend.pump() {
			break
		}
		e.drainReloads()

		if err := e.applyResize(); err != nil {
			return err
		}
		// minimized
		if e.width == 0 || e.height == 0 {
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.tick(ctx, delta); err != nil {
			return err
		}

		e.clock.Update()
		e.metrics.Update(e.clock.Elapsed() - currentTime)
		e.lastTime = currentTime
		e.frame++
		if e.frame%metricsEvery == 0 {
			e.logMetrics()
		}
		if limit := e.cfg.Renderer.MaxFrames; limit > 0 && e.frame >= limit {
			core.LogInfo("rendered %d frames, stopping", e.frame)
			break
		}
	}
	e.isRunning.Store(false)
	e.currentStage = EngineStageInitialized
	return nil
}

// tick runs one frame: the game update, the CPU side of the technique and
// the frame graph.
func (e *Engine) tick(ctx context.Context, delta float64) error {
	if e.gameInstance != nil && e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(e.scene, delta); err != nil {
			core.LogError("game update failed, shutting down: %s", err)
			return err
		}
	}
	frame := int(e.frame % uint64(e.cfg.Renderer.FramesInFlight))
	err := e.backend.uploads.sync(e.scene)
	if err == nil {
		err = e.technique.Update(ctx, frame)
	}
	if err == nil {
		err = e.technique.Render(ctx, frame)
	}
	if j, ok := e.backend.device.(journal); ok {
		j.ClearJournal()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrDeviceLost):
		e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_DEVICE_LOST})
		core.LogError("device lost: %s", err)
		return err
	case errors.Is(err, core.ErrRecreateRequired), core.IsRecreateCondition(err):
		core.LogWarn("frame %d dropped: %s", e.frame, err)
		if err := e.noteRecreate(); err != nil {
			core.LogError("%s", err)
			return err
		}
		return e.recreate(e.backend.size(e.width, e.height))
	case errors.Is(err, context.Canceled):
		return nil
	}
	core.LogError("frame %d failed: %s", e.frame, err)
	return err
}

// recreate rebuilds the swapchain and the technique for the size of the
// drawable.
func (e *Engine) recreate(w, h uint32) error {
	if w == 0 || h == 0 {
		e.width, e.height = w, h
		return nil
	}
	if r, ok := e.backend.device.(resizer); ok {
		if err := r.Resize(w, h); err != nil {
			core.LogError("swapchain recreation failed: %s", err)
			return err
		}
	}
	if err := e.technique.Recreate(w, h); err != nil {
		return err
	}
	e.width, e.height = w, h
	if e.gameInstance != nil && e.gameInstance.FnOnResize != nil {
		return e.gameInstance.FnOnResize(w, h)
	}
	return nil
}

func (e *Engine) noteRecreate() error {
	if e.recreations.IsFull() {
		oldest, _ := e.recreations.Dequeue()
		if e.frame-oldest < recreateWindow {
			return fmt.Errorf("%w: %d recreations since frame %d", ErrRecreateLoop, recreateLimit+1, oldest)
		}
	}
	return e.recreations.Enqueue(e.frame)
}

func (e *Engine) applyResize() error {
	packed := e.resize.Swap(0)
	if packed == 0 {
		return nil
	}
	width, height := uint32(packed>>32)&^(1<<31), uint32(packed)
	if width == e.width && height == e.height {
		return nil
	}
	core.LogDebug("window resized to %dx%d", width, height)
	return e.recreate(width, height)
}

func (e *Engine) drainReloads() {
	if e.watcher == nil {
		return
	}
	for {
		select {
		case err := <-e.watcher.Reloaded():
			if err != nil {
				core.LogWarn("scene reload failed: %s", err)
			} else {
				core.LogInfo("scene reloaded")
			}
		default:
			return
		}
	}
}

func (e *Engine) logMetrics() {
	fps, ms := e.metrics.Frame()
	core.LogInfo("fps %.1f, frame %.2fms, pipelines %d, queue rebuilds %d, culled %d, aborted %d",
		fps, ms,
		e.metrics.PipelinesCreated.Load(),
		e.metrics.QueueRebuilds.Load(),
		e.metrics.NodesCulled.Load(),
		e.metrics.FramesAborted.Load())
}

// Stop asks Run to return after the current frame. It is safe to call from
// any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Scene() *scene.Scene { return e.scene }

func (e *Engine) Technique() *technique.Technique { return e.technique }

func (e *Engine) Device() gpu.Device {
	if e.backend == nil {
		return nil
	}
	return e.backend.device
}

func (e *Engine) Metrics() *core.Metrics { return e.metrics }

// GetFramebufferSize returns the width and height (in this order) of the
// drawable.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Shutdown releases everything Initialize created. Run must have returned.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.bus.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.bus.Unregister(core.EVENT_CODE_RESIZED, e)

	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
		e.watcher = nil
	}
	if e.technique != nil {
		e.technique.Cleanup()
		e.technique = nil
	}
	if e.jobs != nil {
		errs = append(errs, e.jobs.Shutdown())
		e.jobs = nil
	}
	if e.gameInstance != nil && e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.backend != nil {
		e.backend.shutdown()
		e.backend = nil
	}
	e.currentStage = EngineStageUninitialized
	core.LogInfo("engine shut down")
	return errors.Join(errs...)
}

func (e *Engine) onQuit(context core.EventContext) bool {
	core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
	e.Stop()
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	width, height := context.U32[0], context.U32[1]
	// the top bit marks a pending resize, zero sizes included
	e.resize.Store(uint64(width)<<32 | uint64(height) | 1<<63)
	return false
}
