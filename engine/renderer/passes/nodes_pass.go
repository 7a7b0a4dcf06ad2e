package passes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/culling"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/node"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/renderer/queue"
	"github.com/spaghettifunk/lumen/engine/renderer/shader"
	"github.com/spaghettifunk/lumen/engine/scene"
)

var (
	ErrNilVariant         = errors.New("nodes pass: variant is nil")
	ErrAlreadyInitialised = errors.New("nodes pass: already initialised")
	ErrTargetMismatch     = errors.New("nodes pass: target images do not match the pass attachments")
)

type State int32

const (
	StateNotInitialised State = iota
	StateInitialised
	StateClean
	StateDirty
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateNotInitialised:
		return "not_initialised"
	case StateInitialised:
		return "initialised"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateCleanedUp:
		return "cleaned_up"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Filters exclude categories of material passes or scene nodes from a pass,
// on top of what its variant accepts.
type Filters uint8

const (
	FilterOpaque Filters = 1 << iota
	FilterAlphaTest
	FilterAlphaBlend
	// static nodes are skipped
	FilterStatic
	// non static nodes are skipped
	FilterNonStatic
)

func (f Filters) Has(flag Filters) bool { return f&flag == flag }

type Config struct {
	Name    string
	Variant Variant
	Device  gpu.Device
	Scene   *scene.Scene
	Shaders pipeline.ShaderSource
	// Culler may be shared between passes. When OwnsCuller is set the pass
	// computes it during its CPU update.
	Culler     *culling.Culler
	OwnsCuller bool
	Frames     int
	Filters    Filters
	Metrics    *core.Metrics
}

// CpuUpdater carries the per frame CPU state handed to every pass.
type CpuUpdater struct {
	Context    context.Context
	Camera     *scene.Camera
	ShadowMaps queue.ShadowMaps
	Viewport   *gpu.Viewport
	Scissor    *gpu.Rect
}

// GpuUpdater selects the frame in flight whose buffers are written.
type GpuUpdater struct {
	Frame int
}

// Visitor walks the pipelines and nodes of a pass, for debugging.
type Visitor interface {
	VisitPass(name string, state State)
	VisitPipeline(p *pipeline.Pipeline)
	VisitNode(n *node.Node)
}

/**
 * @brief NodesPass is one render stage drawing scene nodes. It owns the
 * pipelines of the stage and the render queue selecting what is drawn.
 */
type NodesPass struct {
	cfg    Config
	traits Traits

	state atomic.Int32

	size        gpu.Extent
	renderPass  gpu.RenderPass
	framebuffer gpu.Framebuffer
	cache       *pipeline.Cache
	queue       *queue.Queue
	recorded    atomic.Uint64

	camera atomic.Pointer[scene.Camera]
	// camera and lighting sections, one buffer per frame in flight
	frameBuffers []gpu.Buffer
	// bumped when sampled images may have changed, node sets written with
	// an older generation are written again
	inputs     atomic.Uint64
	shadowMaps queue.ShadowMaps
	fallback   fallback

	unsubscribe func()
}

func New(cfg Config) (*NodesPass, error) {
	if cfg.Variant == nil {
		return nil, ErrNilVariant
	}
	if cfg.Device == nil {
		return nil, pipeline.ErrNilDevice
	}
	if cfg.Shaders == nil {
		return nil, pipeline.ErrNilShaderSource
	}
	if cfg.Scene == nil {
		return nil, queue.ErrNilScene
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Variant.Name()
	}
	if cfg.Frames <= 0 {
		cfg.Frames = 1
	}
	np := &NodesPass{
		cfg:          cfg,
		traits:       cfg.Variant.Traits(),
		frameBuffers: make([]gpu.Buffer, cfg.Frames),
	}
	np.inputs.Store(1)
	return np, nil
}

func (np *NodesPass) Name() string { return np.cfg.Name }

func (np *NodesPass) Variant() Variant { return np.cfg.Variant }

func (np *NodesPass) State() State { return State(np.state.Load()) }

func (np *NodesPass) RenderPass() gpu.RenderPass { return np.renderPass }

func (np *NodesPass) Queue() *queue.Queue { return np.queue }

func (np *NodesPass) Cache() *pipeline.Cache { return np.cache }

func (np *NodesPass) Size() gpu.Extent { return np.size }

// Targets describes the images the pass renders into, colour first.
func (np *NodesPass) Targets() []gpu.ImageDesc {
	var out []gpu.ImageDesc
	for i, f := range np.traits.Colour {
		out = append(out, gpu.ImageDesc{
			Name:   fmt.Sprintf("%s/colour%d", np.cfg.Name, i),
			Format: f,
			Extent: np.size,
			Usage:  gpu.ImageUsageColourAttachment | gpu.ImageUsageSampled,
		})
	}
	if np.traits.Depth != gpu.FormatUndefined {
		out = append(out, gpu.ImageDesc{
			Name:   np.cfg.Name + "/depth",
			Format: np.traits.Depth,
			Extent: np.size,
			Usage:  gpu.ImageUsageDepthAttachment | gpu.ImageUsageSampled,
		})
	}
	return out
}

func (np *NodesPass) renderPassDesc() gpu.RenderPassDesc {
	load := gpu.LoadOpLoad
	if np.traits.Clear {
		load = gpu.LoadOpClear
	}
	desc := gpu.RenderPassDesc{Name: np.cfg.Name, ClearDepth: 1}
	for _, f := range np.traits.Colour {
		desc.Colour = append(desc.Colour, gpu.Attachment{Format: f, Load: load, FinalLayout: gpu.ImageLayoutColourAttachment})
	}
	if np.traits.Depth != gpu.FormatUndefined {
		desc.Depth = &gpu.Attachment{Format: np.traits.Depth, Load: load, FinalLayout: gpu.ImageLayoutDepthAttachment}
	}
	return desc
}

/**
 * @brief Builds the device render pass, the framebuffer over targets, the
 * pipeline cache and the render queue. targets follow the order of Targets.
 */
func (np *NodesPass) Initialise(size gpu.Extent, targets []gpu.Image) error {
	switch np.State() {
	case StateCleanedUp:
		return core.ErrPassCleanedUp
	case StateNotInitialised:
	default:
		return ErrAlreadyInitialised
	}
	np.size = size

	rp, err := np.cfg.Device.CreateRenderPass(np.renderPassDesc())
	if err != nil {
		core.LogError("%s: render pass creation failed", np.cfg.Name)
		return err
	}
	np.renderPass = rp
	if err := np.createFramebuffer(targets); err != nil {
		np.cfg.Device.DestroyRenderPass(rp)
		np.renderPass = 0
		return err
	}

	np.cache, err = pipeline.NewCache(pipeline.Config{
		Name:        np.cfg.Name,
		Device:      np.cfg.Device,
		Shaders:     np.cfg.Shaders,
		RenderPass:  rp,
		Attachments: uint32(len(np.traits.Colour)),
		Depth:       np.traits.DepthMode,
		Bindings:    Bindings,
		Metrics:     np.cfg.Metrics,
	})
	if err != nil {
		np.release()
		return err
	}
	np.queue, err = queue.New(queue.Config{
		Owner:   np,
		Scene:   np.cfg.Scene,
		Culler:  np.cfg.Culler,
		Device:  np.cfg.Device,
		Frames:  np.cfg.Frames,
		Metrics: np.cfg.Metrics,
	})
	if err != nil {
		np.release()
		return err
	}
	np.subscribe()
	np.state.Store(int32(StateInitialised))
	core.LogDebug("%s: initialised at %dx%d", np.cfg.Name, size.Width, size.Height)
	return nil
}

func (np *NodesPass) createFramebuffer(targets []gpu.Image) error {
	if len(targets) != len(np.Targets()) {
		return fmt.Errorf("%w: %s wants %d, got %d", ErrTargetMismatch, np.cfg.Name, len(np.Targets()), len(targets))
	}
	fb, err := np.cfg.Device.CreateFramebuffer(np.renderPass, targets, np.size)
	if err != nil {
		core.LogError("%s: framebuffer creation failed", np.cfg.Name)
		return err
	}
	np.framebuffer = fb
	return nil
}

// Resize swaps the framebuffer for one over new targets. Pipelines survive
// since the render pass is unchanged.
func (np *NodesPass) Resize(size gpu.Extent, targets []gpu.Image) error {
	if err := np.checkUsable(); err != nil {
		return err
	}
	if np.framebuffer != 0 {
		np.cfg.Device.DestroyFramebuffer(np.framebuffer)
		np.framebuffer = 0
	}
	np.size = size
	if err := np.createFramebuffer(targets); err != nil {
		return err
	}
	np.markDirty()
	return nil
}

func (np *NodesPass) subscribe() {
	bus := np.cfg.Scene.Bus()
	codes := []core.SystemEventCode{
		core.EVENT_CODE_SCENE_NODE_ADDED,
		core.EVENT_CODE_SCENE_NODE_REMOVED,
		core.EVENT_CODE_MATERIAL_CHANGED,
		core.EVENT_CODE_SCENE_CHANGED,
	}
	for _, code := range codes {
		bus.Register(code, np, func(ctx core.EventContext) bool {
			if ctx.Type == core.EVENT_CODE_MATERIAL_CHANGED {
				// uploaded texture images live on the material passes
				np.inputs.Add(1)
			}
			np.markDirty()
			return false
		})
	}
	var unsubCuller func()
	if np.cfg.Culler != nil {
		unsubCuller = np.cfg.Culler.Subscribe(func(*culling.Culler) { np.markDirty() })
	}
	np.unsubscribe = func() {
		for _, code := range codes {
			bus.Unregister(code, np)
		}
		if unsubCuller != nil {
			unsubCuller()
		}
	}
}

func (np *NodesPass) markDirty() {
	np.state.CompareAndSwap(int32(StateClean), int32(StateDirty))
}

func (np *NodesPass) checkUsable() error {
	switch np.State() {
	case StateNotInitialised:
		return core.ErrPassNotInitialised
	case StateCleanedUp:
		return core.ErrPassCleanedUp
	}
	return nil
}

/**
 * @brief Runs the culler when the pass owns it, then refreshes the queue.
 * The pass is clean afterwards unless the refresh failed.
 */
func (np *NodesPass) Update(u *CpuUpdater) error {
	if err := np.checkUsable(); err != nil {
		return err
	}
	if u.Camera != nil {
		np.camera.Store(u.Camera)
	}
	if np.cfg.OwnsCuller && np.cfg.Culler != nil && u.Camera != nil {
		ctx := u.Context
		if ctx == nil {
			ctx = context.Background()
		}
		if err := np.cfg.Culler.Compute(ctx, u.Camera.View(), u.Camera.Projection()); err != nil {
			return err
		}
	}
	if err := np.queue.Update(u.ShadowMaps, u.Viewport, u.Scissor); err != nil {
		np.state.Store(int32(StateDirty))
		return fmt.Errorf("%s: %w", np.cfg.Name, err)
	}
	np.state.Store(int32(StateClean))
	return nil
}

/**
 * @brief Writes the device data of the frame in flight: the camera and
 * lighting sections of the pass, then the instances, uniforms and
 * descriptor sets of every culled node through the queue.
 *
 * The fence of the frame slot was waited on. Record only reads what was
 * written here.
 */
func (np *NodesPass) UpdateGpu(u *GpuUpdater) error {
	if err := np.checkUsable(); err != nil {
		return err
	}
	if maps := np.queue.ShadowMaps(); !slices.Equal(maps, np.shadowMaps) {
		np.shadowMaps = slices.Clone(maps)
		np.inputs.Add(1)
	}
	slot := u.Frame % len(np.frameBuffers)
	if np.frameBuffers[slot] == 0 {
		b, err := np.cfg.Device.CreateBuffer(frameBufferSize, gpu.BufferUsageUniform)
		if err != nil {
			return fmt.Errorf("%s: frame buffer: %w", np.cfg.Name, err)
		}
		np.frameBuffers[slot] = b
	}
	camera := np.camera.Load()
	if camera == nil {
		camera = np.cfg.Scene.Camera
	}
	if err := np.cfg.Device.WriteBuffer(np.frameBuffers[slot], matricesOffset, encodeMatrices(camera)); err != nil {
		return err
	}
	lighting := encodeLighting(np.cfg.Scene.Flags(), np.cfg.Scene.Fog, len(np.shadowMaps))
	if err := np.cfg.Device.WriteBuffer(np.frameBuffers[slot], lightingOffset, lighting); err != nil {
		return err
	}
	return np.queue.UpdateGpu(u.Frame)
}

// UpdateFrame runs UpdateGpu for the graph, before any stage is recorded.
func (np *NodesPass) UpdateFrame(frame int) error {
	return np.UpdateGpu(&GpuUpdater{Frame: frame})
}

// UpdateNode writes the uniforms of n for the frame slot, and its
// descriptor sets when they were never written or the pass inputs changed.
func (np *NodesPass) UpdateNode(n *node.Node, frame int) (bool, error) {
	p := np.cache.Resolve(n.Pipeline)
	if p == nil || len(n.Descriptors) == 0 {
		return false, nil
	}
	slot := frame % len(n.Descriptors)
	if len(n.Uniforms) != len(n.Descriptors) {
		n.Uniforms = make([]node.UniformBuffer, len(n.Descriptors))
		n.Written = make([]uint64, len(n.Descriptors))
	}
	var bindings []gpu.DescriptorBinding
	if len(p.Bindings) > 0 {
		bindings = p.Bindings[0]
	}
	sections, size := nodeSections(bindings, n)
	if size > 0 {
		u := &n.Uniforms[slot]
		if u.Size < size {
			// a skinned group grew, its slot's fence was waited on
			if u.Buffer != 0 {
				np.cfg.Device.DestroyBuffer(u.Buffer)
			}
			*u = node.UniformBuffer{}
			n.Written[slot] = 0
			b, err := np.cfg.Device.CreateBuffer(size, gpu.BufferUsageUniform|gpu.BufferUsageStorage)
			if err != nil {
				return false, err
			}
			*u = node.UniformBuffer{Buffer: b, Size: size}
		}
		if err := np.cfg.Device.WriteBuffer(u.Buffer, 0, encodeNode(sections, size, n)); err != nil {
			return false, err
		}
	}
	inputs := np.inputs.Load()
	if n.Written[slot] == inputs {
		return false, nil
	}
	if err := np.writeSets(n, slot, p, sections); err != nil {
		return false, err
	}
	n.Written[slot] = inputs
	return true, nil
}

func (np *NodesPass) writeSets(n *node.Node, slot int, p *pipeline.Pipeline, sections []section) error {
	sets := n.Sets(slot)
	if len(sets) > 0 && len(p.Bindings) > 0 {
		var writes []gpu.DescriptorWrite
		for _, b := range p.Bindings[0] {
			switch b.Binding {
			case BindingMatrices:
				writes = append(writes, gpu.DescriptorWrite{Binding: b.Binding, Buffer: np.frameBuffers[slot], Offset: matricesOffset, Range: uniformAlign})
			case BindingLighting:
				writes = append(writes, gpu.DescriptorWrite{Binding: b.Binding, Buffer: np.frameBuffers[slot], Offset: lightingOffset, Range: uniformAlign})
			case BindingShadowMaps:
				images := make([]gpu.Image, b.Count)
				for i := range images {
					if i < len(np.shadowMaps) {
						images[i] = np.shadowMaps[i]
						continue
					}
					img, err := np.fallbackImage()
					if err != nil {
						return err
					}
					images[i] = img
				}
				writes = append(writes, gpu.DescriptorWrite{Binding: b.Binding, Images: images})
			default:
				for _, sec := range sections {
					if sec.binding == b.Binding {
						writes = append(writes, gpu.DescriptorWrite{Binding: b.Binding, Buffer: n.Uniforms[slot].Buffer, Offset: sec.offset, Range: sec.size})
					}
				}
			}
		}
		if err := np.cfg.Device.WriteDescriptorSet(sets[0], writes...); err != nil {
			return fmt.Errorf("set 0: %w", err)
		}
	}
	if len(sets) > 1 {
		var writes []gpu.DescriptorWrite
		binding := uint32(0)
		for bit := pipeline.TextureFlags(1); bit != 0 && bit <= n.Flags.TextureFlags; bit <<= 1 {
			if !n.Flags.TextureFlags.Has(bit) {
				continue
			}
			img, ok := n.Pass.Images[bit]
			if !ok || img == 0 {
				var err error
				if img, err = np.fallbackImage(); err != nil {
					return err
				}
			}
			writes = append(writes, gpu.DescriptorWrite{Binding: binding, Images: []gpu.Image{img}})
			binding++
		}
		if err := np.cfg.Device.WriteDescriptorSet(sets[1], writes...); err != nil {
			return fmt.Errorf("set 1: %w", err)
		}
	}
	return nil
}

// fallback is the plain white image sampled in place of a missing texture
// or shadow map. It is cleared by its own render pass every recording.
type fallback struct {
	image gpu.Image
	rp    gpu.RenderPass
	fb    gpu.Framebuffer
}

var fallbackExtent = gpu.Extent{Width: 1, Height: 1}

func (np *NodesPass) fallbackImage() (gpu.Image, error) {
	if np.fallback.image != 0 {
		return np.fallback.image, nil
	}
	dev := np.cfg.Device
	img, err := dev.CreateImage(gpu.ImageDesc{
		Name:   np.cfg.Name + "/fallback",
		Format: gpu.FormatRGBA8,
		Extent: fallbackExtent,
		Usage:  gpu.ImageUsageColourAttachment | gpu.ImageUsageSampled,
	})
	if err != nil {
		return 0, err
	}
	rp, err := dev.CreateRenderPass(gpu.RenderPassDesc{
		Name:        np.cfg.Name + "/fallback",
		Colour:      []gpu.Attachment{{Format: gpu.FormatRGBA8, Load: gpu.LoadOpClear, FinalLayout: gpu.ImageLayoutShaderRead}},
		ClearColour: [4]float32{1, 1, 1, 1},
	})
	if err != nil {
		dev.DestroyImage(img)
		return 0, err
	}
	fb, err := dev.CreateFramebuffer(rp, []gpu.Image{img}, fallbackExtent)
	if err != nil {
		dev.DestroyRenderPass(rp)
		dev.DestroyImage(img)
		return 0, err
	}
	np.fallback = fallback{image: img, rp: rp, fb: fb}
	core.LogDebug("%s: fallback image created", np.cfg.Name)
	return img, nil
}

func (np *NodesPass) recordFallback(cb gpu.CommandBuffer) {
	if np.fallback.image == 0 {
		return
	}
	// the previous frame's reads finish before the clear
	cb.PipelineBarrier(gpu.Barrier{
		Image:     np.fallback.image,
		SrcStage:  gpu.StageFragmentShader,
		DstStage:  gpu.StageColourAttachmentOutput,
		SrcAccess: gpu.AccessShaderRead,
		DstAccess: gpu.AccessColourAttachmentWrite,
		OldLayout: gpu.ImageLayoutUndefined,
		NewLayout: gpu.ImageLayoutColourAttachment,
	})
	cb.BeginRenderPass(np.fallback.rp, np.fallback.fb, fallbackExtent, gpu.ContentsInline)
	cb.EndRenderPass()
}

// IsDirty is true when something changed since the last CPU update or the
// last recording.
func (np *NodesPass) IsDirty() bool {
	if np.queue == nil {
		return true
	}
	if np.State() != StateClean || np.queue.IsDirty() {
		return true
	}
	return np.queue.Version() != np.recorded.Load()
}

func (np *NodesPass) HasNodes() bool {
	return np.queue != nil && np.queue.HasNodes()
}

// CommandBuffer returns the recorded bundle of the frame in flight.
func (np *NodesPass) CommandBuffer(frame int) (gpu.CommandBuffer, error) {
	if err := np.checkUsable(); err != nil {
		return nil, err
	}
	return np.queue.CommandBuffer(frame)
}

// Record begins the render pass on cb and executes the bundle of the frame.
// An empty pass still clears its targets.
func (np *NodesPass) Record(cb gpu.CommandBuffer, frame int) error {
	if err := np.checkUsable(); err != nil {
		return err
	}
	version := np.queue.Version()
	var bundle gpu.CommandBuffer
	if np.HasNodes() {
		var err error
		if bundle, err = np.queue.CommandBuffer(frame); err != nil {
			return fmt.Errorf("%s: %w", np.cfg.Name, err)
		}
	}
	np.recordFallback(cb)
	cb.BeginRenderPass(np.renderPass, np.framebuffer, np.size, gpu.ContentsBundles)
	if bundle != nil {
		cb.ExecuteBundles(bundle)
	}
	cb.EndRenderPass()
	np.recorded.Store(version)
	return nil
}

func (np *NodesPass) Accept(v Visitor) {
	v.VisitPass(np.cfg.Name, np.State())
	if np.cache != nil {
		np.cache.Each(v.VisitPipeline)
	}
	if np.queue != nil {
		np.queue.All().Each(v.VisitNode)
	}
}

// AdjustFlags narrows flags to what the pass renders. Combinations it
// cannot render fail with core.ErrUnsupportedFlags before any device work.
func (np *NodesPass) AdjustFlags(flags pipeline.Flags) (pipeline.Flags, error) {
	flags.ProgramFlags |= np.cfg.Variant.ShaderFlags()
	flags, err := np.cfg.Variant.AdjustFlags(flags)
	if err != nil {
		return flags, err
	}
	if np.cfg.Filters.Has(FilterAlphaTest) {
		flags.AlphaFunc = gpu.CompareOpAlways
		flags.PassFlags &^= pipeline.PassFlagAlphaTest
	}
	if !flags.PassFlags.Has(pipeline.PassFlagAlphaTest) {
		flags.AlphaFunc = gpu.CompareOpAlways
	}
	if !flags.ProgramFlags.Has(pipeline.ProgramBillboards) {
		flags.ProgramFlags &^= pipeline.ProgramSpherical | pipeline.ProgramFixedSize
	}
	flags.TextureCount = flags.TextureFlags.Count()
	if err := shader.Representable(flags); err != nil {
		return flags, fmt.Errorf("%w: %s", core.ErrUnsupportedFlags, err)
	}
	return flags, nil
}

// IsValidPass adds the render filters of the pass to its variant.
func (np *NodesPass) IsValidPass(p *scene.Pass) bool {
	if !np.cfg.Variant.IsValidPass(p) {
		return false
	}
	f := np.cfg.Filters
	switch {
	case p.HasAlphaTest():
		return !f.Has(FilterAlphaTest)
	case p.HasAlphaBlending():
		return !f.Has(FilterAlphaBlend)
	}
	return !f.Has(FilterOpaque)
}

func (np *NodesPass) IsValidRenderable(r scene.Renderable) bool {
	return np.cfg.Variant.IsValidRenderable(r)
}

// IsValidNode adds static node handling to the variant.
func (np *NodesPass) IsValidNode(n *scene.SceneNode) bool {
	if n == nil || !np.cfg.Variant.IsValidNode(n) {
		return false
	}
	if n.Static {
		return !np.cfg.Filters.Has(FilterStatic)
	}
	return !np.cfg.Filters.Has(FilterNonStatic)
}

func (np *NodesPass) IsOrderIndependent() bool { return np.traits.OrderIndependent }

func (np *NodesPass) SortsByDistance() bool { return np.traits.SortsByDistance }

func (np *NodesPass) Resolve(h pipeline.Handle) *pipeline.Pipeline {
	return np.cache.Resolve(h)
}

// Flags builds the unadjusted pipeline flags of a renderable drawn as kind.
func (np *NodesPass) Flags(kind node.Kind, r scene.Renderable, p *scene.Pass) pipeline.Flags {
	colour, alpha := p.BlendModes()
	flags := pipeline.Flags{
		ColourBlendMode: colour,
		AlphaBlendMode:  alpha,
		PassFlags:       p.PassFlags(),
		TextureFlags:    p.Textures,
		ProgramFlags:    kind.ProgramFlags(),
		SceneFlags:      np.cfg.Scene.Flags(),
		AlphaFunc:       p.AlphaFunc,
	}
	if p.Lighting {
		flags.ProgramFlags |= pipeline.ProgramLighting
	}
	if sn := r.SceneNode(); sn != nil && sn.Static {
		flags.ProgramFlags |= pipeline.ProgramStatic
	}
	if b := r.Billboards; b != nil {
		flags.Topology = gpu.TopologyPointList
		if b.Spherical {
			flags.ProgramFlags |= pipeline.ProgramSpherical
		}
		if b.FixedSize {
			flags.ProgramFlags |= pipeline.ProgramFixedSize
		}
	} else {
		flags.Topology = r.Mesh().Topology
	}
	return flags
}

// needsFront tells whether back faces are drawn too: blended or two sided
// passes, and passes whose opacity map can cut holes.
func needsFront(p *scene.Pass) bool {
	return p.HasAlphaBlending() || p.TwoSided || p.Textures.Has(pipeline.TextureOpacity)
}

/**
 * @brief Resolves the pipelines of a renderable: back culled always, front
 * culled too when the pass needs it.
 */
func (np *NodesPass) Prepare(kind node.Kind, r scene.Renderable, p *scene.Pass) ([]queue.Binding, error) {
	flags, err := np.AdjustFlags(np.Flags(kind, r, p))
	if err != nil {
		return nil, err
	}
	culls := []gpu.CullMode{gpu.CullModeBack}
	if needsFront(p) {
		culls = []gpu.CullMode{gpu.CullModeFront, gpu.CullModeBack}
	}
	out := make([]queue.Binding, 0, len(culls))
	for _, cull := range culls {
		pl, err := np.cache.Get(flags, cull)
		if err != nil {
			return nil, err
		}
		out = append(out, queue.Binding{Flags: flags, Pipeline: pl})
	}
	return out, nil
}

func (np *NodesPass) release() {
	if np.queue != nil {
		np.queue.Cleanup()
		np.queue = nil
	}
	if np.cache != nil {
		np.cache.Cleanup()
	}
	for i, b := range np.frameBuffers {
		if b != 0 {
			np.cfg.Device.DestroyBuffer(b)
			np.frameBuffers[i] = 0
		}
	}
	if f := np.fallback; f.image != 0 {
		np.cfg.Device.DestroyFramebuffer(f.fb)
		np.cfg.Device.DestroyRenderPass(f.rp)
		np.cfg.Device.DestroyImage(f.image)
		np.fallback = fallback{}
	}
	if np.framebuffer != 0 {
		np.cfg.Device.DestroyFramebuffer(np.framebuffer)
		np.framebuffer = 0
	}
	if np.renderPass != 0 {
		np.cfg.Device.DestroyRenderPass(np.renderPass)
		np.renderPass = 0
	}
}

// Cleanup releases every device object of the pass. The caller waited for
// the device to be idle. A cleaned up pass cannot be initialised again.
func (np *NodesPass) Cleanup() {
	if np.State() == StateCleanedUp {
		return
	}
	if np.unsubscribe != nil {
		np.unsubscribe()
		np.unsubscribe = nil
	}
	np.release()
	np.state.Store(int32(StateCleanedUp))
	core.LogDebug("%s: cleaned up", np.cfg.Name)
}
