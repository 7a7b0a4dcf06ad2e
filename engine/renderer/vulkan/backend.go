package vulkan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var (
	ErrNoSurface     = errors.New("vulkan: a window surface is required")
	ErrUnknownHandle = errors.New("vulkan: unknown handle")
)

// Surface is the window the device presents to.
type Surface interface {
	// InstanceProcAddr returns vkGetInstanceProcAddr from the loader.
	InstanceProcAddr() unsafe.Pointer
	RequiredExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	FramebufferSize() (uint32, uint32)
}

type Config struct {
	ApplicationName string
	Surface         Surface
	// Validation enables the Khronos validation layer and the debug report.
	Validation  bool
	DiscreteGPU bool
}

// presentSlot holds what one in flight present uses to blit the final image
// onto the acquired swapchain image.
type presentSlot struct {
	acquired vk.Semaphore
	blitted  vk.Semaphore
	fence    *VulkanFence
	cb       *VulkanCommandBuffer
}

/**
 * @brief Device implements gpu.Device on top of Vulkan. Engine handles are
 * resolved through per kind tables; the final image of every frame is
 * blitted onto the swapchain image acquired at present time.
 */
type Device struct {
	cfg     Config
	context *VulkanContext
	locks   *VulkanLockPool

	next           atomic.Uint64
	renderPasses   *table[gpu.RenderPass, *VulkanRenderpass]
	framebuffers   *table[gpu.Framebuffer, *VulkanFramebuffer]
	layouts        *table[gpu.DescriptorSetLayout, *VulkanDescriptorSetLayout]
	sets           *table[gpu.DescriptorSet, *VulkanDescriptorSet]
	pipelines      *table[gpu.Pipeline, *VulkanPipeline]
	buffers        *table[gpu.Buffer, *VulkanBuffer]
	images         *table[gpu.Image, *VulkanImage]
	semaphores     *table[gpu.Semaphore, vk.Semaphore]
	fences         *table[gpu.Fence, *VulkanFence]
	commandBuffers sync.Map

	descriptorPool vk.DescriptorPool
	sampler        vk.Sampler
	presents       []*presentSlot
	presentCount   int
	isLost         atomic.Bool
}

var _ gpu.Device = (*Device)(nil)

func New(cfg Config) (*Device, error) {
	if cfg.Surface == nil {
		return nil, ErrNoSurface
	}
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = "lumen"
	}
	d := &Device{
		cfg:     cfg,
		context: &VulkanContext{},
		locks:   NewVulkanLockPool(),
	}
	d.renderPasses = newTable[gpu.RenderPass, *VulkanRenderpass](&d.next)
	d.framebuffers = newTable[gpu.Framebuffer, *VulkanFramebuffer](&d.next)
	d.layouts = newTable[gpu.DescriptorSetLayout, *VulkanDescriptorSetLayout](&d.next)
	d.sets = newTable[gpu.DescriptorSet, *VulkanDescriptorSet](&d.next)
	d.pipelines = newTable[gpu.Pipeline, *VulkanPipeline](&d.next)
	d.buffers = newTable[gpu.Buffer, *VulkanBuffer](&d.next)
	d.images = newTable[gpu.Image, *VulkanImage](&d.next)
	d.semaphores = newTable[gpu.Semaphore, vk.Semaphore](&d.next)
	d.fences = newTable[gpu.Fence, *VulkanFence](&d.next)

	if err := d.initialize(); err != nil {
		core.LogError("vulkan: initialization failed: %s", err)
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) initialize() error {
	procAddr := d.cfg.Surface.InstanceProcAddr()
	if procAddr == nil {
		return fmt.Errorf("%w: vkGetInstanceProcAddr is nil", core.ErrDeviceCreation)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrDeviceCreation, err)
	}
	if err := d.createInstance(); err != nil {
		return err
	}

	surface, err := d.cfg.Surface.CreateSurface(d.context.Instance)
	if err != nil {
		return fmt.Errorf("%w: surface: %w", core.ErrDeviceCreation, err)
	}
	d.context.Surface = surface
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(d.context, VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		DiscreteGPU:          d.cfg.DiscreteGPU,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}); err != nil {
		return err
	}

	width, height := d.cfg.Surface.FramebufferSize()
	if d.context.Swapchain, err = SwapchainCreate(d.context, width, height); err != nil {
		return err
	}
	if d.descriptorPool, err = DescriptorPoolCreate(d.context); err != nil {
		return err
	}
	if d.sampler, err = SamplerCreate(d.context); err != nil {
		return err
	}
	return d.createPresentSlots()
}

func (d *Device) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.cfg.ApplicationName),
		PEngineName:        VulkanSafeString("lumen"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := slices.Clone(d.cfg.Surface.RequiredExtensions())
	if !slices.Contains(extensions, "VK_KHR_surface") {
		extensions = append(extensions, "VK_KHR_surface")
	}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}

	var layers []string
	if d.cfg.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := requireLayers(layers); err != nil {
			return err
		}
	}
	core.LogDebug("Required extensions: %v", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := check("vkCreateInstance", vk.CreateInstance(&createInfo, d.context.Allocator, &d.context.Instance)); err != nil {
		return fmt.Errorf("%w: %w", core.ErrDeviceCreation, err)
	}
	if err := vk.InitInstance(d.context.Instance); err != nil {
		return fmt.Errorf("%w: %w", core.ErrDeviceCreation, err)
	}
	core.LogInfo("Vulkan Instance created.")

	if d.cfg.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := check("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(d.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return err
		}
		d.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func requireLayers(required []string) error {
	var count uint32
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
	}
	names := make(map[string]bool, len(available))
	for i := range available {
		available[i].Deref()
		names[cString(available[i].LayerName[:])] = true
	}
	for _, layer := range required {
		if !names[layer] {
			return fmt.Errorf("%w: required validation layer is missing: %s", core.ErrDeviceCreation, layer)
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("vulkan: performance: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.False
}

func (d *Device) Name() string {
	if d.context.Device != nil {
		return "vulkan (" + d.context.Device.Name + ")"
	}
	return "vulkan"
}

// lost records device loss seen by any call so later calls fail fast.
func (d *Device) lost() bool { return d.isLost.Load() }

func (d *Device) observe(err error) error {
	if errors.Is(err, core.ErrDeviceLost) {
		d.isLost.Store(true)
	}
	return err
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	rp, err := RenderpassCreate(d.context, desc)
	if err != nil {
		return 0, d.observe(err)
	}
	return d.renderPasses.add(rp), nil
}

func (d *Device) DestroyRenderPass(h gpu.RenderPass) {
	if rp, ok := d.renderPasses.remove(h); ok {
		rp.Destroy(d.context)
	}
}

func (d *Device) CreateFramebuffer(h gpu.RenderPass, attachments []gpu.Image, extent gpu.Extent) (gpu.Framebuffer, error) {
	rp, ok := d.renderPasses.get(h)
	if !ok {
		return 0, fmt.Errorf("%w: render pass %d", ErrUnknownHandle, h)
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		img, ok := d.images.get(a)
		if !ok {
			return 0, fmt.Errorf("%w: image %d", ErrUnknownHandle, a)
		}
		views[i] = img.View
	}
	fb, err := FramebufferCreate(d.context, rp, extent.Width, extent.Height, views)
	if err != nil {
		return 0, d.observe(err)
	}
	return d.framebuffers.add(fb), nil
}

func (d *Device) DestroyFramebuffer(h gpu.Framebuffer) {
	if fb, ok := d.framebuffers.remove(h); ok {
		fb.Destroy(d.context)
	}
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	layout, err := DescriptorSetLayoutCreate(d.context, bindings)
	if err != nil {
		return 0, d.observe(err)
	}
	return d.layouts.add(layout), nil
}

func (d *Device) DestroyDescriptorSetLayout(h gpu.DescriptorSetLayout) {
	if layout, ok := d.layouts.remove(h); ok {
		layout.Destroy(d.context)
	}
}

func (d *Device) AllocateDescriptorSet(h gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	layout, ok := d.layouts.get(h)
	if !ok {
		return 0, fmt.Errorf("%w: descriptor set layout %d", ErrUnknownHandle, h)
	}
	var set *VulkanDescriptorSet
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		var err error
		set, err = DescriptorSetAllocate(d.context, d.descriptorPool, layout)
		return err
	})
	if err != nil {
		return 0, d.observe(err)
	}
	return d.sets.add(set), nil
}

func (d *Device) FreeDescriptorSet(h gpu.DescriptorSet) {
	set, ok := d.sets.remove(h)
	if !ok {
		return
	}
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		return set.Free(d.context, d.descriptorPool)
	})
}

func (d *Device) WriteDescriptorSet(h gpu.DescriptorSet, writes ...gpu.DescriptorWrite) error {
	set, ok := d.sets.get(h)
	if !ok {
		return fmt.Errorf("%w: descriptor set %d", ErrUnknownHandle, h)
	}
	return d.observe(d.locks.SafeCall(DescriptorManagement, func() error {
		return set.Write(d.context, d.sampler, writes, d.buffers.get, d.images.get)
	}))
}

func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	rp, ok := d.renderPasses.get(desc.RenderPass)
	if !ok {
		return 0, fmt.Errorf("%w: render pass %d", ErrUnknownHandle, desc.RenderPass)
	}
	layouts := make([]vk.DescriptorSetLayout, len(desc.Layouts))
	for i, h := range desc.Layouts {
		layout, ok := d.layouts.get(h)
		if !ok {
			return 0, fmt.Errorf("%w: descriptor set layout %d", ErrUnknownHandle, h)
		}
		layouts[i] = layout.Handle
	}
	p, err := NewGraphicsPipeline(d.context, desc, rp, layouts)
	if err != nil {
		return 0, d.observe(fmt.Errorf("pipeline %s: %w", desc.Name, err))
	}
	return d.pipelines.add(p), nil
}

func (d *Device) DestroyPipeline(h gpu.Pipeline) {
	if p, ok := d.pipelines.remove(h); ok {
		p.Destroy(d.context)
	}
}

func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	b, err := BufferCreate(d.context, size, usage)
	if err != nil {
		return 0, d.observe(err)
	}
	return d.buffers.add(b), nil
}

func (d *Device) DestroyBuffer(h gpu.Buffer) {
	if b, ok := d.buffers.remove(h); ok {
		b.Destroy(d.context)
	}
}

func (d *Device) WriteBuffer(h gpu.Buffer, offset uint64, data []byte) error {
	if d.lost() {
		return core.ErrDeviceLost
	}
	b, ok := d.buffers.get(h)
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, h)
	}
	return d.observe(b.Write(d.context, offset, data))
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	img, err := ImageCreate(d.context, desc)
	if err != nil {
		return 0, d.observe(fmt.Errorf("image %s: %w", desc.Name, err))
	}
	return d.images.add(img), nil
}

func (d *Device) DestroyImage(h gpu.Image) {
	if img, ok := d.images.remove(h); ok {
		img.Destroy(d.context)
	}
}

func (d *Device) CreateCommandBuffer(name string) (gpu.CommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(d, name, nil)
	if err != nil {
		return nil, d.observe(err)
	}
	d.commandBuffers.Store(cb, struct{}{})
	return cb, nil
}

func (d *Device) CreateBundle(name string, h gpu.RenderPass) (gpu.CommandBuffer, error) {
	rp, ok := d.renderPasses.get(h)
	if !ok {
		return nil, fmt.Errorf("%w: render pass %d", ErrUnknownHandle, h)
	}
	cb, err := NewVulkanCommandBuffer(d, name, rp)
	if err != nil {
		return nil, d.observe(err)
	}
	d.commandBuffers.Store(cb, struct{}{})
	return cb, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	s, err := SemaphoreCreate(d.context)
	if err != nil {
		return 0, d.observe(err)
	}
	return d.semaphores.add(s), nil
}

func (d *Device) DestroySemaphore(h gpu.Semaphore) {
	if s, ok := d.semaphores.remove(h); ok {
		vk.DestroySemaphore(d.context.Device.LogicalDevice, s, d.context.Allocator)
	}
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	f, err := NewFence(d.context, signaled)
	if err != nil {
		return 0, d.observe(err)
	}
	return d.fences.add(f), nil
}

func (d *Device) DestroyFence(h gpu.Fence) {
	if f, ok := d.fences.remove(h); ok {
		f.Destroy(d.context)
	}
}

func (d *Device) WaitForFence(ctx context.Context, h gpu.Fence) error {
	f, ok := d.fences.get(h)
	if !ok {
		return fmt.Errorf("%w: fence %d", ErrUnknownHandle, h)
	}
	return d.observe(f.Wait(ctx, d.context))
}

func (d *Device) ResetFence(h gpu.Fence) error {
	f, ok := d.fences.get(h)
	if !ok {
		return fmt.Errorf("%w: fence %d", ErrUnknownHandle, h)
	}
	return d.observe(f.Reset(d.context))
}

func (d *Device) semaphoreHandles(hs []gpu.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, len(hs))
	for i, h := range hs {
		s, ok := d.semaphores.get(h)
		if !ok {
			return nil, fmt.Errorf("%w: semaphore %d", ErrUnknownHandle, h)
		}
		out[i] = s
	}
	return out, nil
}

// Submit enqueues fully recorded primary buffers on the graphics queue.
func (d *Device) Submit(info gpu.SubmitInfo) error {
	if d.lost() {
		return core.ErrDeviceLost
	}
	buffers := make([]vk.CommandBuffer, len(info.CommandBuffers))
	for i, c := range info.CommandBuffers {
		cb, ok := c.(*VulkanCommandBuffer)
		if !ok || !cb.Recorded() || cb.renderpass != nil {
			return fmt.Errorf("%w: %s is not a recorded primary buffer", ErrCommandBufferState, c.Name())
		}
		buffers[i] = cb.Handle
	}
	wait, err := d.semaphoreHandles(info.Wait)
	if err != nil {
		return err
	}
	signal, err := d.semaphoreHandles(info.Signal)
	if err != nil {
		return err
	}
	stages := make([]vk.PipelineStageFlags, len(wait))
	for i := range stages {
		stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		if i < len(info.WaitStages) {
			stages[i] = vulkanStages(info.WaitStages[i])
		}
	}
	fence := vk.NullFence
	if info.Fence != 0 {
		f, ok := d.fences.get(info.Fence)
		if !ok {
			return fmt.Errorf("%w: fence %d", ErrUnknownHandle, info.Fence)
		}
		fence = f.Handle
	}
	return d.submit(vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}, fence)
}

func (d *Device) submit(info vk.SubmitInfo, fence vk.Fence) error {
	return d.observe(d.locks.SafeCall(QueueManagement, func() error {
		return check("vkQueueSubmit", vk.QueueSubmit(d.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{info}, fence))
	}))
}

func (d *Device) WaitIdle() error {
	if d.context.Device == nil || d.context.Device.LogicalDevice == nil {
		return nil
	}
	if d.lost() {
		return core.ErrDeviceLost
	}
	return d.observe(d.locks.SafeCall(QueueManagement, func() error {
		return check("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.context.Device.LogicalDevice))
	}))
}

// Destroy releases everything, including objects callers leaked, in the
// opposite order of creation.
func (d *Device) Destroy() {
	vc := d.context
	if vc.Device != nil && vc.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(vc.Device.LogicalDevice)
		d.destroyPresentSlots()

		leaked := 0
		d.commandBuffers.Range(func(k, _ any) bool {
			k.(*VulkanCommandBuffer).Free()
			leaked++
			return true
		})
		for _, p := range d.pipelines.drain() {
			p.Destroy(vc)
			leaked++
		}
		for _, s := range d.sets.drain() {
			_ = s.Free(vc, d.descriptorPool)
			leaked++
		}
		for _, l := range d.layouts.drain() {
			l.Destroy(vc)
			leaked++
		}
		for _, fb := range d.framebuffers.drain() {
			fb.Destroy(vc)
			leaked++
		}
		for _, rp := range d.renderPasses.drain() {
			rp.Destroy(vc)
			leaked++
		}
		for _, img := range d.images.drain() {
			img.Destroy(vc)
			leaked++
		}
		for _, b := range d.buffers.drain() {
			b.Destroy(vc)
			leaked++
		}
		for _, s := range d.semaphores.drain() {
			vk.DestroySemaphore(vc.Device.LogicalDevice, s, vc.Allocator)
			leaked++
		}
		for _, f := range d.fences.drain() {
			f.Destroy(vc)
			leaked++
		}
		if leaked > 0 {
			core.LogWarn("vulkan: released %d objects still alive at shutdown", leaked)
		}

		if d.sampler != nil {
			vk.DestroySampler(vc.Device.LogicalDevice, d.sampler, vc.Allocator)
			d.sampler = nil
		}
		if d.descriptorPool != nil {
			vk.DestroyDescriptorPool(vc.Device.LogicalDevice, d.descriptorPool, vc.Allocator)
			d.descriptorPool = nil
		}
		if vc.Swapchain != nil {
			vc.Swapchain.SwapchainDestroy(vc)
			vc.Swapchain = nil
		}
	}
	DeviceDestroy(vc)
	if vc.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vc.Instance, vc.debugMessenger, vc.Allocator)
		vc.debugMessenger = vk.NullDebugReportCallback
	}
	if vc.Surface != vk.NullSurface {
		vk.DestroySurface(vc.Instance, vc.Surface, vc.Allocator)
		vc.Surface = vk.NullSurface
	}
	if vc.Instance != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
	core.LogInfo("Vulkan device destroyed.")
}
