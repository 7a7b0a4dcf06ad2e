package platform

import (
	"errors"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

var ErrNoVulkan = errors.New("platform: vulkan is not supported by the window system")

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Platform struct {
	Window *glfw.Window
	bus    *core.EventBus
}

// New returns a platform firing window events on bus, or on the default bus
// when bus is nil.
func New(bus *core.EventBus) *Platform {
	if bus == nil {
		bus = core.DefaultEventBus()
	}
	return &Platform{bus: bus}
}

func (p *Platform) Startup(applicationName string, x, y int32, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return ErrNoVulkan
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return p.Window != nil && !p.Window.ShouldClose()
}

func (p *Platform) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) RequiredExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ptr, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, err
	}
	return vk.SurfaceFromPointer(ptr), nil
}

func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.bus.Fire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		U32:  [4]uint32{uint32(width), uint32(height)},
	})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.bus.Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
		p.closeCallback(w)
	}
}
