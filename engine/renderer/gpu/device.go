package gpu

import "context"

// Device is the graphics API service consumed by the render core. Every
// object it creates can be destroyed independently of frames in flight once
// the caller waited on the fences guarding it.
type Device interface {
	Name() string

	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(rp RenderPass, attachments []Image, extent Extent) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	AllocateDescriptorSet(layout DescriptorSetLayout) (DescriptorSet, error)
	FreeDescriptorSet(set DescriptorSet)
	// WriteDescriptorSet updates bindings of set. The set must not be used by
	// a submission in flight.
	WriteDescriptorSet(set DescriptorSet, writes ...DescriptorWrite) error

	CreatePipeline(desc PipelineDesc) (Pipeline, error)
	DestroyPipeline(p Pipeline)

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	DestroyBuffer(b Buffer)
	// WriteBuffer copies data into b at offset. Buffers are host visible, the
	// caller makes sure no submission in flight reads the written range.
	WriteBuffer(b Buffer, offset uint64, data []byte) error
	CreateImage(desc ImageDesc) (Image, error)
	DestroyImage(img Image)

	CreateCommandBuffer(name string) (CommandBuffer, error)
	// CreateBundle returns a secondary buffer executed inside instances of rp.
	CreateBundle(name string, rp RenderPass) (CommandBuffer, error)

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(f Fence)
	// WaitForFence blocks the calling goroutine until f is signalled.
	WaitForFence(ctx context.Context, f Fence) error
	ResetFence(f Fence) error

	// Submit enqueues work on the graphics queue; it never blocks on the GPU.
	Submit(info SubmitInfo) error
	// Present shows the final image once every semaphore in wait is signalled.
	Present(image Image, wait []Semaphore) error
	WaitIdle() error
	Destroy()
}

// CommandBuffer records device commands. A buffer is either fully recorded
// (Begin ... End) and submittable, or reset; a partially recorded buffer is
// never submitted.
type CommandBuffer interface {
	Name() string
	Begin() error
	End() error
	Reset() error
	// Recorded is true between a successful End and the next Reset/Begin.
	Recorded() bool

	BeginRenderPass(rp RenderPass, fb Framebuffer, extent Extent, contents Contents)
	EndRenderPass()
	BindPipeline(p Pipeline)
	BindDescriptorSets(sets ...DescriptorSet)
	BindGeometry(g GeometryBuffers)
	SetViewport(v Viewport)
	SetScissor(r Rect)
	Draw(vertexCount, instanceCount uint32)
	DrawIndexed(indexCount, instanceCount uint32)
	PipelineBarrier(barriers ...Barrier)
	// ExecuteBundles runs recorded bundles inside the current render pass.
	ExecuteBundles(bundles ...CommandBuffer)

	Free()
}
