package engine

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/shader"
	"github.com/spaghettifunk/lumen/engine/renderer/technique"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
)

// resizer is implemented by devices owning a swapchain.
type resizer interface {
	Resize(width, height uint32) error
}

// journal is implemented by devices remembering what they executed.
type journal interface {
	ClearJournal()
}

// backend is what the configured renderer backend needs to run: a device,
// the window it presents to if any, and the shader source feeding it.
type backend struct {
	device   gpu.Device
	platform *platform.Platform
	shaders  technique.Shaders
	uploads  *uploader
}

func newBackend(cfg config.Config, bus *core.EventBus) (*backend, error) {
	switch cfg.Renderer.Backend {
	case "headless":
		core.LogInfo("starting the headless backend")
		dev := gpu.NewHeadless()
		return &backend{
			device: dev,
			// headless devices never read SPIR-V
			shaders: shader.NewGLSLGenerator(nil),
			uploads: newUploader(dev),
		}, nil
	case "vulkan":
		compiler, err := shader.NewCompiler(cfg.Renderer.ShaderDir)
		if err != nil {
			return nil, err
		}
		p := platform.New(bus)
		if err := p.Startup(cfg.Window.Title, cfg.Window.X, cfg.Window.Y, cfg.Window.Width, cfg.Window.Height); err != nil {
			return nil, err
		}
		dev, err := vulkan.New(vulkan.Config{
			ApplicationName: cfg.Window.Title,
			Surface:         p,
			Validation:      cfg.Renderer.Validation,
		})
		if err != nil {
			_ = p.Shutdown()
			return nil, err
		}
		return &backend{
			device:   dev,
			platform: p,
			shaders:  shader.NewGLSLGenerator(compiler),
			uploads:  newUploader(dev),
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, cfg.Renderer.Backend)
}

// size is the current drawable size. Without a window it is the last size
// the engine was told about.
func (b *backend) size(width, height uint32) (uint32, uint32) {
	if b.platform != nil {
		return b.platform.FramebufferSize()
	}
	return width, height
}

// pump processes window events and reports whether the window stays open.
func (b *backend) pump() bool {
	if b.platform == nil {
		return true
	}
	return b.platform.PumpMessages()
}

func (b *backend) shutdown() {
	if b.device != nil {
		if err := b.device.WaitIdle(); err != nil {
			core.LogWarn("device not idle at shutdown: %s", err)
		}
		b.uploads.release()
		b.device.Destroy()
	}
	if b.platform != nil {
		_ = b.platform.Shutdown()
	}
}
