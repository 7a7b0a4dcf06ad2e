package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
)

var (
	ErrSemaphoreNotSignalled = errors.New("headless: waiting on a semaphore no earlier submission signals")
	ErrFenceNotSignalled     = errors.New("headless: waiting on a fence no submission signals")
	ErrUnknownHandle         = errors.New("headless: unknown handle")
	ErrNotRecorded           = errors.New("headless: command buffer submitted without being fully recorded")
	ErrOutOfRange            = errors.New("headless: write past the end of the buffer")
	ErrBadDescriptor         = errors.New("headless: descriptor write does not match the set layout")
)

// Command is one recorded call on a headless command buffer.
type Command struct {
	Op       string
	Pipeline Pipeline
	Sets     []DescriptorSet
	Count    uint32
	Barriers []Barrier
	Pass     RenderPass
	Target   Framebuffer
	Bundles  []CommandBuffer
	Geometry GeometryBuffers
}

// SubmitRecord is what the headless device remembers of a submission.
type SubmitRecord struct {
	CommandBuffers []string
	Wait           []Semaphore
	Signal         []Semaphore
	Fence          Fence
}

// Headless is a Device executing submissions immediately on the CPU. It keeps
// a journal of everything it was asked to do so tests can inspect ordering,
// and it can simulate a lost device.
type Headless struct {
	mu        sync.Mutex
	next      uint64
	live      map[uint64]string
	pipelines map[Pipeline]PipelineDesc
	buffers   map[Buffer][]byte
	images    map[Image]ImageDesc
	passes    map[RenderPass]RenderPassDesc
	targets   map[Framebuffer][]Image
	layouts   map[DescriptorSetLayout][]DescriptorBinding
	sets      map[DescriptorSet]DescriptorSetLayout
	writes    map[DescriptorSet]map[uint32]DescriptorWrite
	signalled map[Semaphore]bool
	fences    map[Fence]bool
	submits   []SubmitRecord
	presents  []Image
	lost      bool

	failSubmits int
	failErr     error
}

func NewHeadless() *Headless {
	return &Headless{
		live:      make(map[uint64]string),
		pipelines: make(map[Pipeline]PipelineDesc),
		buffers:   make(map[Buffer][]byte),
		images:    make(map[Image]ImageDesc),
		passes:    make(map[RenderPass]RenderPassDesc),
		targets:   make(map[Framebuffer][]Image),
		layouts:   make(map[DescriptorSetLayout][]DescriptorBinding),
		sets:      make(map[DescriptorSet]DescriptorSetLayout),
		writes:    make(map[DescriptorSet]map[uint32]DescriptorWrite),
		signalled: make(map[Semaphore]bool),
		fences:    make(map[Fence]bool),
	}
}

func (h *Headless) Name() string { return "headless" }

func (h *Headless) alloc(kind string) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return 0, core.ErrDeviceLost
	}
	h.next++
	h.live[h.next] = kind
	return h.next, nil
}

func (h *Headless) release(handle uint64) {
	h.mu.Lock()
	delete(h.live, handle)
	h.mu.Unlock()
}

// Live counts the objects of the given kind still alive. An empty kind counts
// everything.
func (h *Headless) Live(kind string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, k := range h.live {
		if kind == "" || k == kind {
			n++
		}
	}
	return n
}

// LoseDevice makes every later device call fail with core.ErrDeviceLost.
func (h *Headless) LoseDevice() {
	h.mu.Lock()
	h.lost = true
	h.mu.Unlock()
}

// Restore clears a simulated device loss.
func (h *Headless) Restore() {
	h.mu.Lock()
	h.lost = false
	h.mu.Unlock()
}

// FailSubmits makes the next n submissions fail with err.
func (h *Headless) FailSubmits(n int, err error) {
	h.mu.Lock()
	h.failSubmits = n
	h.failErr = err
	h.mu.Unlock()
}

func (h *Headless) Submissions() []SubmitRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SubmitRecord(nil), h.submits...)
}

func (h *Headless) Presents() []Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Image(nil), h.presents...)
}

func (h *Headless) PipelineDesc(p Pipeline) (PipelineDesc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.pipelines[p]
	return d, ok
}

// RenderPassDesc returns the description rp was created from.
func (h *Headless) RenderPassDesc(rp RenderPass) (RenderPassDesc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.passes[rp]
	return d, ok
}

// FramebufferImages returns the attachments of fb in render pass order.
func (h *Headless) FramebufferImages(fb Framebuffer) []Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Image(nil), h.targets[fb]...)
}

// DescriptorWrites returns the last write of every binding of set.
func (h *Headless) DescriptorWrites(set DescriptorSet) map[uint32]DescriptorWrite {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uint32]DescriptorWrite, len(h.writes[set]))
	for b, w := range h.writes[set] {
		out[b] = w
	}
	return out
}

func (h *Headless) CreateRenderPass(desc RenderPassDesc) (RenderPass, error) {
	id, err := h.alloc("renderpass")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.passes[RenderPass(id)] = desc
	h.mu.Unlock()
	return RenderPass(id), nil
}

func (h *Headless) DestroyRenderPass(rp RenderPass) {
	h.mu.Lock()
	delete(h.passes, rp)
	h.mu.Unlock()
	h.release(uint64(rp))
}

func (h *Headless) CreateFramebuffer(rp RenderPass, attachments []Image, extent Extent) (Framebuffer, error) {
	id, err := h.alloc("framebuffer")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.targets[Framebuffer(id)] = append([]Image(nil), attachments...)
	h.mu.Unlock()
	return Framebuffer(id), nil
}

func (h *Headless) DestroyFramebuffer(fb Framebuffer) {
	h.mu.Lock()
	delete(h.targets, fb)
	h.mu.Unlock()
	h.release(uint64(fb))
}

func (h *Headless) CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error) {
	id, err := h.alloc("descriptor_set_layout")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.layouts[DescriptorSetLayout(id)] = append([]DescriptorBinding(nil), bindings...)
	h.mu.Unlock()
	return DescriptorSetLayout(id), nil
}

func (h *Headless) DestroyDescriptorSetLayout(layout DescriptorSetLayout) {
	h.mu.Lock()
	delete(h.layouts, layout)
	h.mu.Unlock()
	h.release(uint64(layout))
}

func (h *Headless) AllocateDescriptorSet(layout DescriptorSetLayout) (DescriptorSet, error) {
	id, err := h.alloc("descriptor_set")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.sets[DescriptorSet(id)] = layout
	h.mu.Unlock()
	return DescriptorSet(id), nil
}

func (h *Headless) FreeDescriptorSet(set DescriptorSet) {
	h.mu.Lock()
	delete(h.sets, set)
	delete(h.writes, set)
	h.mu.Unlock()
	h.release(uint64(set))
}

// WriteDescriptorSet checks every write against the layout of set: the
// binding exists, buffers go to buffer bindings and fit, images go to
// sampled bindings and are not more than the binding count.
func (h *Headless) WriteDescriptorSet(set DescriptorSet, writes ...DescriptorWrite) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return core.ErrDeviceLost
	}
	layout, ok := h.sets[set]
	if !ok {
		return fmt.Errorf("%w: descriptor set %d", ErrUnknownHandle, set)
	}
	bindings := h.layouts[layout]
	for _, w := range writes {
		if err := h.checkWrite(bindings, w); err != nil {
			return fmt.Errorf("set %d binding %d: %w", set, w.Binding, err)
		}
	}
	if h.writes[set] == nil {
		h.writes[set] = make(map[uint32]DescriptorWrite)
	}
	for _, w := range writes {
		w.Images = append([]Image(nil), w.Images...)
		h.writes[set][w.Binding] = w
	}
	return nil
}

func (h *Headless) checkWrite(bindings []DescriptorBinding, w DescriptorWrite) error {
	var binding *DescriptorBinding
	for i := range bindings {
		if bindings[i].Binding == w.Binding {
			binding = &bindings[i]
			break
		}
	}
	if binding == nil {
		return fmt.Errorf("%w: no such binding", ErrBadDescriptor)
	}
	if binding.Type == DescriptorSampledImage {
		if w.Buffer != 0 || len(w.Images) == 0 || len(w.Images) > int(binding.Count) {
			return fmt.Errorf("%w: %d images for a sampled binding of %d", ErrBadDescriptor, len(w.Images), binding.Count)
		}
		for _, img := range w.Images {
			if _, ok := h.images[img]; !ok {
				return fmt.Errorf("%w: image %d", ErrUnknownHandle, img)
			}
		}
		return nil
	}
	if len(w.Images) > 0 {
		return fmt.Errorf("%w: images for a buffer binding", ErrBadDescriptor)
	}
	mem, ok := h.buffers[w.Buffer]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, w.Buffer)
	}
	if w.Offset+w.Range > uint64(len(mem)) {
		return fmt.Errorf("%w: range %d at %d into %d", ErrOutOfRange, w.Range, w.Offset, len(mem))
	}
	return nil
}

func (h *Headless) CreatePipeline(desc PipelineDesc) (Pipeline, error) {
	id, err := h.alloc("pipeline")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.pipelines[Pipeline(id)] = desc
	h.mu.Unlock()
	return Pipeline(id), nil
}

func (h *Headless) DestroyPipeline(p Pipeline) {
	h.mu.Lock()
	delete(h.pipelines, p)
	h.mu.Unlock()
	h.release(uint64(p))
}

func (h *Headless) CreateBuffer(size uint64, usage BufferUsage) (Buffer, error) {
	id, err := h.alloc("buffer")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.buffers[Buffer(id)] = make([]byte, size)
	h.mu.Unlock()
	return Buffer(id), nil
}

func (h *Headless) DestroyBuffer(b Buffer) {
	h.mu.Lock()
	delete(h.buffers, b)
	h.mu.Unlock()
	h.release(uint64(b))
}

func (h *Headless) WriteBuffer(b Buffer, offset uint64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return core.ErrDeviceLost
	}
	mem, ok := h.buffers[b]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, b)
	}
	if offset+uint64(len(data)) > uint64(len(mem)) {
		return fmt.Errorf("%w: %d bytes at %d into %d", ErrOutOfRange, len(data), offset, len(mem))
	}
	copy(mem[offset:], data)
	return nil
}

// BufferContents returns a copy of what was written into b.
func (h *Headless) BufferContents(b Buffer) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.buffers[b]...)
}

func (h *Headless) CreateImage(desc ImageDesc) (Image, error) {
	id, err := h.alloc("image")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.images[Image(id)] = desc
	h.mu.Unlock()
	return Image(id), nil
}

func (h *Headless) DestroyImage(img Image) {
	h.mu.Lock()
	delete(h.images, img)
	h.mu.Unlock()
	h.release(uint64(img))
}

func (h *Headless) CreateCommandBuffer(name string) (CommandBuffer, error) {
	id, err := h.alloc("command_buffer")
	if err != nil {
		return nil, err
	}
	return &HeadlessCommandBuffer{device: h, id: id, name: name}, nil
}

func (h *Headless) CreateBundle(name string, rp RenderPass) (CommandBuffer, error) {
	id, err := h.alloc("bundle")
	if err != nil {
		return nil, err
	}
	return &HeadlessCommandBuffer{device: h, id: id, name: name, bundle: true}, nil
}

func (h *Headless) CreateSemaphore() (Semaphore, error) {
	id, err := h.alloc("semaphore")
	return Semaphore(id), err
}

func (h *Headless) DestroySemaphore(s Semaphore) {
	h.mu.Lock()
	delete(h.signalled, s)
	h.mu.Unlock()
	h.release(uint64(s))
}

func (h *Headless) CreateFence(signaled bool) (Fence, error) {
	id, err := h.alloc("fence")
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.fences[Fence(id)] = signaled
	h.mu.Unlock()
	return Fence(id), nil
}

func (h *Headless) DestroyFence(f Fence) {
	h.mu.Lock()
	delete(h.fences, f)
	h.mu.Unlock()
	h.release(uint64(f))
}

func (h *Headless) WaitForFence(ctx context.Context, f Fence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	signalled, ok := h.fences[f]
	if !ok {
		return fmt.Errorf("fence %d: %w", f, ErrUnknownHandle)
	}
	if !signalled {
		return fmt.Errorf("fence %d: %w", f, ErrFenceNotSignalled)
	}
	return nil
}

func (h *Headless) ResetFence(f Fence) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.fences[f]; !ok {
		return fmt.Errorf("fence %d: %w", f, ErrUnknownHandle)
	}
	h.fences[f] = false
	return nil
}

// Submit executes immediately: waits consume the signal of their semaphore,
// then signals and the fence are set.
func (h *Headless) Submit(info SubmitInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return core.ErrDeviceLost
	}
	if h.failSubmits > 0 {
		h.failSubmits--
		return h.failErr
	}
	record := SubmitRecord{
		Wait:   append([]Semaphore(nil), info.Wait...),
		Signal: append([]Semaphore(nil), info.Signal...),
		Fence:  info.Fence,
	}
	for _, cb := range info.CommandBuffers {
		if err := checkRecorded(cb); err != nil {
			return err
		}
		record.CommandBuffers = append(record.CommandBuffers, cb.Name())
	}
	for _, s := range info.Wait {
		if !h.signalled[s] {
			return fmt.Errorf("semaphore %d: %w", s, ErrSemaphoreNotSignalled)
		}
	}
	for _, s := range info.Wait {
		h.signalled[s] = false
	}
	for _, s := range info.Signal {
		h.signalled[s] = true
	}
	if info.Fence != 0 {
		h.fences[info.Fence] = true
	}
	h.submits = append(h.submits, record)
	return nil
}

// checkRecorded also checks the bundles executed by cb.
func checkRecorded(cb CommandBuffer) error {
	if !cb.Recorded() {
		return fmt.Errorf("%s: %w", cb.Name(), ErrNotRecorded)
	}
	if hcb, ok := cb.(*HeadlessCommandBuffer); ok {
		for _, c := range hcb.commands {
			for _, b := range c.Bundles {
				if !b.Recorded() {
					return fmt.Errorf("%s executed by %s: %w", b.Name(), cb.Name(), ErrNotRecorded)
				}
			}
		}
	}
	return nil
}

func (h *Headless) Present(image Image, wait []Semaphore) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return core.ErrDeviceLost
	}
	for _, s := range wait {
		if !h.signalled[s] {
			return fmt.Errorf("present semaphore %d: %w", s, ErrSemaphoreNotSignalled)
		}
		h.signalled[s] = false
	}
	h.presents = append(h.presents, image)
	return nil
}

// ClearJournal forgets recorded submissions and presents. Long running
// headless sessions call it once per frame.
func (h *Headless) ClearJournal() {
	h.mu.Lock()
	h.submits = nil
	h.presents = nil
	h.mu.Unlock()
}

func (h *Headless) WaitIdle() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return core.ErrDeviceLost
	}
	return nil
}

func (h *Headless) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.live); n > 0 {
		core.LogWarn("headless device destroyed with %d live objects", n)
	}
}

// HeadlessCommandBuffer keeps the list of recorded commands.
type HeadlessCommandBuffer struct {
	device    *Headless
	id        uint64
	name      string
	bundle    bool
	recording bool
	recorded  bool
	commands  []Command
}

func (cb *HeadlessCommandBuffer) Name() string { return cb.name }

func (cb *HeadlessCommandBuffer) Begin() error {
	cb.device.mu.Lock()
	lost := cb.device.lost
	cb.device.mu.Unlock()
	if lost {
		return core.ErrDeviceLost
	}
	cb.commands = cb.commands[:0]
	cb.recording = true
	cb.recorded = false
	return nil
}

func (cb *HeadlessCommandBuffer) End() error {
	if !cb.recording {
		return fmt.Errorf("%s: end without begin", cb.name)
	}
	cb.recording = false
	cb.recorded = true
	return nil
}

func (cb *HeadlessCommandBuffer) Reset() error {
	cb.commands = cb.commands[:0]
	cb.recording = false
	cb.recorded = false
	return nil
}

func (cb *HeadlessCommandBuffer) Recorded() bool { return cb.recorded }

// Commands returns a copy of what was recorded since the last Begin.
func (cb *HeadlessCommandBuffer) Commands() []Command {
	return append([]Command(nil), cb.commands...)
}

// Count returns how many commands with the given op were recorded.
func (cb *HeadlessCommandBuffer) Count(op string) int {
	n := 0
	for _, c := range cb.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (cb *HeadlessCommandBuffer) add(c Command) {
	if cb.recording {
		cb.commands = append(cb.commands, c)
	}
}

func (cb *HeadlessCommandBuffer) BeginRenderPass(rp RenderPass, fb Framebuffer, extent Extent, contents Contents) {
	cb.add(Command{Op: "begin_render_pass", Pass: rp, Target: fb})
}

func (cb *HeadlessCommandBuffer) EndRenderPass() { cb.add(Command{Op: "end_render_pass"}) }

func (cb *HeadlessCommandBuffer) BindPipeline(p Pipeline) {
	cb.add(Command{Op: "bind_pipeline", Pipeline: p})
}

func (cb *HeadlessCommandBuffer) BindDescriptorSets(sets ...DescriptorSet) {
	cb.add(Command{Op: "bind_descriptor_sets", Sets: append([]DescriptorSet(nil), sets...)})
}

func (cb *HeadlessCommandBuffer) BindGeometry(g GeometryBuffers) {
	cb.add(Command{Op: "bind_geometry", Geometry: g})
}

func (cb *HeadlessCommandBuffer) SetViewport(v Viewport) { cb.add(Command{Op: "set_viewport"}) }

func (cb *HeadlessCommandBuffer) SetScissor(r Rect) { cb.add(Command{Op: "set_scissor"}) }

func (cb *HeadlessCommandBuffer) Draw(vertexCount, instanceCount uint32) {
	cb.add(Command{Op: "draw", Count: instanceCount})
}

func (cb *HeadlessCommandBuffer) DrawIndexed(indexCount, instanceCount uint32) {
	cb.add(Command{Op: "draw_indexed", Count: instanceCount})
}

func (cb *HeadlessCommandBuffer) PipelineBarrier(barriers ...Barrier) {
	cb.add(Command{Op: "barrier", Barriers: append([]Barrier(nil), barriers...)})
}

func (cb *HeadlessCommandBuffer) ExecuteBundles(bundles ...CommandBuffer) {
	cb.add(Command{Op: "execute_bundles", Count: uint32(len(bundles)), Bundles: append([]CommandBuffer(nil), bundles...)})
}

// IsBundle is true for buffers made by CreateBundle.
func (cb *HeadlessCommandBuffer) IsBundle() bool { return cb.bundle }

func (cb *HeadlessCommandBuffer) Free() {
	cb.device.release(cb.id)
}
