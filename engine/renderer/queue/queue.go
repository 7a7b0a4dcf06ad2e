package queue

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/culling"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/node"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

var (
	ErrNilOwner = errors.New("render queue: owner is nil")
	ErrNilScene = errors.New("render queue: scene is nil")
)

// Binding is one pipeline a renderable is drawn with.
type Binding struct {
	Flags    pipeline.Flags
	Pipeline *pipeline.Pipeline
}

// Owner is the nodes pass a queue works for.
type Owner interface {
	Name() string
	IsValidPass(p *scene.Pass) bool
	IsValidRenderable(r scene.Renderable) bool
	IsValidNode(n *scene.SceneNode) bool
	IsOrderIndependent() bool
	// SortsByDistance is true for passes drawing back to front.
	SortsByDistance() bool
	// Prepare resolves the pipelines of one renderable drawn as kind. An
	// error drops the renderable from the queue.
	Prepare(kind node.Kind, r scene.Renderable, p *scene.Pass) ([]Binding, error)
	// Resolve returns nil for a stale handle.
	Resolve(h pipeline.Handle) *pipeline.Pipeline
	RenderPass() gpu.RenderPass
}

// NodeUpdater is implemented by owners writing the per frame device data of
// a node: its uniforms and its descriptor sets. It runs once per culled
// node from UpdateGpu and reports whether descriptor sets were written,
// which invalidates the bundle that bound them.
type NodeUpdater interface {
	UpdateNode(n *node.Node, frame int) (rewritten bool, err error)
}

// ShadowMaps are the shadow images sampled by the nodes of a pass.
type ShadowMaps []gpu.Image

type params struct {
	shadowMaps ShadowMaps
	viewport   *gpu.Viewport
	scissor    *gpu.Rect
}

func (p *params) equal(o *params) bool {
	if p == nil || o == nil {
		return p == o
	}
	return slices.Equal(p.shadowMaps, o.shadowMaps) && eqPtr(p.viewport, o.viewport) && eqPtr(p.scissor, o.scissor)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// preparation states
const (
	StateWaiting int32 = iota
	StateRunning
	StateDone
)

type Config struct {
	Owner  Owner
	Scene  *scene.Scene
	Culler *culling.Culler
	Device gpu.Device
	// frames in flight, one bundle and one descriptor set per node each
	Frames  int
	Metrics *core.Metrics
}

type bundleSlot struct {
	cb      gpu.CommandBuffer
	version uint64
	// an upload changed what the recorded draws must read
	stale bool
}

// garbage is what released nodes held in one frame slot. It is freed once
// the fence of that slot was waited on.
type garbage struct {
	sets    []gpu.DescriptorSet
	buffers []gpu.Buffer
}

// Queue owns the render nodes of one pass: every node, the culled subset,
// and one recorded bundle per frame in flight.
type Queue struct {
	cfg Config

	state   atomic.Int32
	pending atomic.Bool
	dirty   atomic.Bool
	stale   atomic.Bool

	params  atomic.Pointer[params]
	all     atomic.Pointer[Buckets]
	culled  atomic.Pointer[Buckets]
	ordered atomic.Pointer[[]*node.Node]
	version atomic.Uint64

	// touched only by the goroutine holding the Running state
	applied   *params
	culledGen uint64
	known     map[node.Key]*node.Node
	seq       uint64
	lastErr   error

	bundles []bundleSlot

	retireMu sync.Mutex
	retired  []garbage

	rebuilds atomic.Uint64
	reparses atomic.Uint64

	unsubscribe func()
}

func New(cfg Config) (*Queue, error) {
	if cfg.Owner == nil {
		return nil, ErrNilOwner
	}
	if cfg.Scene == nil {
		return nil, ErrNilScene
	}
	if cfg.Frames <= 0 {
		cfg.Frames = 1
	}
	q := &Queue{
		cfg:     cfg,
		known:   make(map[node.Key]*node.Node),
		bundles: make([]bundleSlot, cfg.Frames),
		retired: make([]garbage, cfg.Frames),
	}
	q.all.Store(&Buckets{})
	q.culled.Store(&Buckets{})
	q.ordered.Store(&[]*node.Node{})
	q.dirty.Store(true)

	bus := cfg.Scene.Bus()
	for _, code := range []core.SystemEventCode{
		core.EVENT_CODE_SCENE_NODE_ADDED,
		core.EVENT_CODE_SCENE_NODE_REMOVED,
		core.EVENT_CODE_MATERIAL_CHANGED,
		core.EVENT_CODE_SCENE_CHANGED,
	} {
		bus.Register(code, q, q.onSceneChanged)
	}
	var unsubCuller func()
	if cfg.Culler != nil {
		unsubCuller = cfg.Culler.Subscribe(q.onCulled)
	}
	q.unsubscribe = func() {
		for _, code := range []core.SystemEventCode{
			core.EVENT_CODE_SCENE_NODE_ADDED,
			core.EVENT_CODE_SCENE_NODE_REMOVED,
			core.EVENT_CODE_MATERIAL_CHANGED,
			core.EVENT_CODE_SCENE_CHANGED,
		} {
			bus.Unregister(code, q)
		}
		if unsubCuller != nil {
			unsubCuller()
		}
	}
	return q, nil
}

func (q *Queue) onSceneChanged(ctx core.EventContext) bool {
	q.dirty.Store(true)
	return false
}

// onCulled may run on the goroutine computing the culling, concurrently with
// Update. The rebuild is attempted here and deferred if one is running.
func (q *Queue) onCulled(*culling.Culler) {
	q.stale.Store(true)
	if q.params.Load() == nil {
		// never updated yet, the first Update does the work
		return
	}
	if err := q.prepare(); err != nil {
		core.LogError("%s: culled rebuild failed: %s", q.cfg.Owner.Name(), err)
	}
}

// MarkDirty forces a full reparse on the next update.
func (q *Queue) MarkDirty() {
	q.dirty.Store(true)
}

func (q *Queue) IsDirty() bool {
	return q.dirty.Load() || q.stale.Load()
}

/**
 * @brief Refreshes the buckets: a full reparse when the scene changed, then a
 * culled reparse when the culler produced a newer result. A call arriving
 * while another rebuild runs is replayed by that rebuild.
 */
func (q *Queue) Update(shadowMaps ShadowMaps, viewport *gpu.Viewport, scissor *gpu.Rect) error {
	q.params.Store(&params{shadowMaps: shadowMaps, viewport: viewport, scissor: scissor})
	return q.prepare()
}

func (q *Queue) begin() bool {
	return q.state.CompareAndSwap(StateWaiting, StateRunning) || q.state.CompareAndSwap(StateDone, StateRunning)
}

func (q *Queue) prepare() error {
	q.pending.Store(true)
	for q.pending.Load() {
		if !q.begin() {
			// the running rebuild will see the pending request
			return nil
		}
		q.lastErr = nil
		for q.pending.Swap(false) {
			// a replayed request that succeeds supersedes an earlier failure
			q.lastErr = q.rebuild()
		}
		err := q.lastErr
		q.state.Store(StateDone)
		if err != nil {
			if !q.pending.Load() {
				return err
			}
			// a request deferred to this rebuild arrived after it failed
			core.LogWarn("%s: rebuild failed, running the deferred request: %s", q.cfg.Owner.Name(), err)
		}
	}
	return nil
}

// State returns the preparation state.
func (q *Queue) State() int32 {
	return q.state.Load()
}

func (q *Queue) rebuild() error {
	if q.dirty.Swap(false) {
		if err := q.parseAllRenderNodes(); err != nil {
			q.dirty.Store(true)
			return err
		}
		q.stale.Store(true)
	}
	p := q.params.Load()
	gen := uint64(0)
	if q.cfg.Culler != nil {
		gen = q.cfg.Culler.Generation()
	}
	if q.stale.Swap(false) || gen != q.culledGen || !p.equal(q.applied) {
		q.culledGen = gen
		q.applied = p
		q.parseCulledRenderNodes()
	}
	return nil
}

// instanceKey groups renderables drawn by one instanced node. Members must
// resolve to the same pipeline, so the adjusted flags are part of the key.
type instanceKey struct {
	submesh *scene.Submesh
	pass    *scene.Pass
	cull    gpu.CullMode
	flags   pipeline.Flags
}

type materialKey struct {
	submesh  *scene.Submesh
	material *scene.Material
}

func (q *Queue) canInstance(r scene.Renderable, p *scene.Pass, counts map[materialKey]int) bool {
	mesh := r.Mesh()
	if mesh == nil || mesh.HasMorph() {
		return false
	}
	if counts[materialKey{mesh, p.Material}] < 2 {
		return false
	}
	return !p.HasAlphaBlending() || q.cfg.Owner.IsOrderIndependent()
}

// parseAllRenderNodes rebuilds every node from the current scene. Unchanged
// nodes are kept, so a reparse without scene changes is a no-op.
func (q *Queue) parseAllRenderNodes() error {
	owner := q.cfg.Owner
	renderables := q.cfg.Scene.Renderables()

	counts := make(map[materialKey]int)
	for _, r := range renderables {
		if mesh := r.Mesh(); mesh != nil {
			counts[materialKey{mesh, r.Material()}]++
		}
	}

	next := &Buckets{}
	known := make(map[node.Key]*node.Node, len(q.known))
	groups := make(map[instanceKey]*node.Node)

	for _, r := range renderables {
		material := r.Material()
		if material == nil {
			core.LogWarn("%s: %s has no material, skipped", owner.Name(), r.Name())
			continue
		}
		if !owner.IsValidNode(r.SceneNode()) || !owner.IsValidRenderable(r) {
			continue
		}
		for _, p := range material.Passes {
			if !owner.IsValidPass(p) {
				q.logRemoved(r, p)
				continue
			}
			instanced := q.canInstance(r, p, counts)
			kind := node.KindOf(r, instanced)

			bindings, err := owner.Prepare(kind, r, p)
			if err != nil {
				if core.IsRecreateCondition(err) {
					return err
				}
				core.LogWarn("%s: %s dropped: %s", owner.Name(), r.Name(), err)
				continue
			}
			for _, b := range bindings {
				group := instanceKey{r.Mesh(), p, b.Pipeline.Cull, b.Flags}
				if instanced {
					if n, ok := groups[group]; ok {
						n.Instances = append(n.Instances, r)
						continue
					}
				}
				n, err := q.nodeFor(kind, r, p, b)
				if err != nil {
					return err
				}
				known[n.Key()] = n
				next.add(n)
				if instanced {
					groups[group] = n
				}
			}
		}
	}

	for key, n := range q.known {
		if _, ok := known[key]; !ok {
			core.LogDebug("%s: node %s released", owner.Name(), n)
			q.releaseNode(n)
		}
	}
	q.known = known
	q.all.Store(next)
	q.rebuilds.Add(1)
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.QueueRebuilds.Add(1)
	}
	return nil
}

func (q *Queue) nodeFor(kind node.Kind, r scene.Renderable, p *scene.Pass, b Binding) (*node.Node, error) {
	key := node.Key{Renderable: r, Pass: p, Cull: b.Pipeline.Cull}
	if old, ok := q.known[key]; ok && old.Kind == kind && old.Flags == b.Flags && old.Pipeline == b.Pipeline.Handle() {
		if kind.IsInstanced() {
			old.Instances = []scene.Renderable{r}
		}
		return old, nil
	}
	if old, ok := q.known[key]; ok {
		// replaced below, its descriptors go with it
		q.releaseNode(old)
		delete(q.known, key)
	}

	q.seq++
	n := node.New(kind, q.seq, r, p, b.Pipeline.Cull)
	n.Flags = b.Flags
	n.Pipeline = b.Pipeline.Handle()
	if q.cfg.Device != nil && len(b.Pipeline.Layouts) > 0 {
		n.Descriptors = make([][]gpu.DescriptorSet, q.cfg.Frames)
		for i := range n.Descriptors {
			for _, layout := range b.Pipeline.Layouts {
				set, err := q.cfg.Device.AllocateDescriptorSet(layout)
				if err != nil {
					// never recorded, nothing in flight uses it
					q.freeNode(n)
					return nil, fmt.Errorf("%s: descriptor set for %s: %w", q.cfg.Owner.Name(), n, err)
				}
				n.Descriptors[i] = append(n.Descriptors[i], set)
			}
		}
	}
	return n, nil
}

// releaseNode moves the device objects of n onto the retire list of each
// frame slot. A submission of that slot may still read them until its fence
// is waited on.
func (q *Queue) releaseNode(n *node.Node) {
	if q.cfg.Device != nil {
		q.retireMu.Lock()
		for i := range q.retired {
			g := &q.retired[i]
			if i < len(n.Descriptors) {
				g.sets = append(g.sets, n.Descriptors[i]...)
			}
			if i < len(n.Uniforms) && n.Uniforms[i].Buffer != 0 {
				g.buffers = append(g.buffers, n.Uniforms[i].Buffer)
			}
			if i < len(n.InstanceBuffers) && n.InstanceBuffers[i].Buffer != 0 {
				g.buffers = append(g.buffers, n.InstanceBuffers[i].Buffer)
			}
		}
		q.retireMu.Unlock()
	}
	n.Descriptors = nil
	n.Uniforms = nil
	n.Written = nil
	n.InstanceBuffers = nil
}

// freeNode destroys the device objects of n at once.
func (q *Queue) freeNode(n *node.Node) {
	if q.cfg.Device != nil {
		for _, sets := range n.Descriptors {
			for _, set := range sets {
				q.cfg.Device.FreeDescriptorSet(set)
			}
		}
		for _, b := range n.Uniforms {
			if b.Buffer != 0 {
				q.cfg.Device.DestroyBuffer(b.Buffer)
			}
		}
		for _, b := range n.InstanceBuffers {
			if b.Buffer != 0 {
				q.cfg.Device.DestroyBuffer(b.Buffer)
			}
		}
	}
	n.Descriptors = nil
	n.Uniforms = nil
	n.Written = nil
	n.InstanceBuffers = nil
}

// ReleaseRetired frees what released nodes held in the slot of frame. The
// caller waited on the fence of that slot.
func (q *Queue) ReleaseRetired(frame int) {
	q.retireMu.Lock()
	g := &q.retired[frame%len(q.retired)]
	sets, buffers := g.sets, g.buffers
	g.sets, g.buffers = nil, nil
	q.retireMu.Unlock()
	if q.cfg.Device == nil {
		return
	}
	for _, set := range sets {
		q.cfg.Device.FreeDescriptorSet(set)
	}
	for _, b := range buffers {
		q.cfg.Device.DestroyBuffer(b)
	}
}

/**
 * @brief Writes the device data of the frame slot: frees what released nodes
 * held in it, uploads the instance transforms of the culled nodes and lets
 * the owner write their uniforms and descriptor sets.
 *
 * Called once per frame after the fence of the slot was waited on and before
 * the slot is recorded; recording only reads what was written here.
 */
func (q *Queue) UpdateGpu(frame int) error {
	q.ReleaseRetired(frame)
	if q.cfg.Device == nil {
		return nil
	}
	slot := frame % len(q.bundles)
	updater, _ := q.cfg.Owner.(NodeUpdater)
	for _, n := range q.Ordered() {
		if n.Kind.IsInstanced() {
			changed, err := q.writeInstances(n, slot, n.CollectInstances(q.visible))
			if err != nil {
				return fmt.Errorf("%s: instances of %s: %w", q.cfg.Owner.Name(), n, err)
			}
			if changed {
				q.bundles[slot].stale = true
			}
		}
		if updater != nil {
			rewritten, err := updater.UpdateNode(n, frame)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", q.cfg.Owner.Name(), n, err)
			}
			if rewritten {
				q.bundles[slot].stale = true
			}
		}
	}
	return nil
}

// writeInstances uploads the transforms of the frame slot, growing its
// buffer when the group got larger. It reports whether the recorded draw of
// the node went out of date: a new buffer or another instance count.
func (q *Queue) writeInstances(n *node.Node, slot int, instances []node.InstanceData) (bool, error) {
	if len(n.InstanceBuffers) != len(q.bundles) {
		n.InstanceBuffers = make([]node.InstanceBuffer, len(q.bundles))
	}
	buf := &n.InstanceBuffers[slot]
	changed := buf.Count != len(instances)
	buf.Count = len(instances)
	if len(instances) == 0 {
		return changed, nil
	}
	data := node.EncodeInstances(instances)
	if buf.Size < uint64(len(data)) {
		// only this slot's submissions read it, and its fence was waited on
		if buf.Buffer != 0 {
			q.cfg.Device.DestroyBuffer(buf.Buffer)
		}
		*buf = node.InstanceBuffer{}
		b, err := q.cfg.Device.CreateBuffer(uint64(len(data)), gpu.BufferUsageVertex)
		if err != nil {
			return true, err
		}
		*buf = node.InstanceBuffer{Buffer: b, Size: uint64(len(data)), Count: len(instances)}
		changed = true
	}
	return changed, q.cfg.Device.WriteBuffer(buf.Buffer, 0, data)
}

func (q *Queue) logRemoved(r scene.Renderable, p *scene.Pass) {
	for _, cull := range []gpu.CullMode{gpu.CullModeFront, gpu.CullModeBack} {
		if n, ok := q.known[node.Key{Renderable: r, Pass: p, Cull: cull}]; ok {
			core.LogInfo("%s: %s no longer accepted, removed", q.cfg.Owner.Name(), n)
		}
	}
}

func (q *Queue) visible(r scene.Renderable) bool {
	return q.cfg.Culler == nil || q.cfg.Culler.IsRenderableVisible(r)
}

// parseCulledRenderNodes filters every node against the visible set and
// orders the result for recording.
func (q *Queue) parseCulledRenderNodes() {
	all := q.all.Load()
	culled := &Buckets{}
	var ordered []*node.Node
	dropped := 0
	all.Each(func(n *node.Node) {
		for _, r := range n.Members() {
			if q.visible(r) {
				culled.add(n)
				ordered = append(ordered, n)
				return
			}
		}
		dropped++
	})

	if q.cfg.Owner.SortsByDistance() {
		camera := q.cameraPosition()
		distances := make(map[*node.Node]float32, len(ordered))
		for _, n := range ordered {
			distances[n] = n.Distance(camera)
		}
		sort.SliceStable(ordered, func(i, j int) bool {
			di, dj := distances[ordered[i]], distances[ordered[j]]
			if di != dj {
				return di > dj
			}
			return ordered[i].Seq < ordered[j].Seq
		})
	} else {
		sort.SliceStable(ordered, func(i, j int) bool {
			if c := ordered[i].Flags.Compare(ordered[j].Flags); c != 0 {
				return c < 0
			}
			if ordered[i].Cull != ordered[j].Cull {
				return ordered[i].Cull < ordered[j].Cull
			}
			return ordered[i].Seq < ordered[j].Seq
		})
	}

	q.culled.Store(culled)
	q.ordered.Store(&ordered)
	q.version.Add(1)
	q.reparses.Add(1)
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.NodesCulled.Add(uint64(dropped))
	}
}

func (q *Queue) cameraPosition() math.Vec3 {
	if q.cfg.Culler != nil {
		return q.cfg.Culler.CameraPosition()
	}
	if cam := q.cfg.Scene.Camera; cam != nil {
		return cam.Position
	}
	return math.NewVec3Zero()
}

// All returns every node, unculled.
func (q *Queue) All() *Buckets {
	return q.all.Load()
}

// Culled returns the nodes visible after the last culling.
func (q *Queue) Culled() *Buckets {
	return q.culled.Load()
}

// Ordered returns the culled nodes in recording order.
func (q *Queue) Ordered() []*node.Node {
	return *q.ordered.Load()
}

func (q *Queue) HasNodes() bool {
	return q.Culled().Len() > 0
}

// Version changes each time the culled nodes or the recording parameters
// change.
func (q *Queue) Version() uint64 {
	return q.version.Load()
}

// Rebuilds counts full reparses of the scene.
func (q *Queue) Rebuilds() uint64 {
	return q.rebuilds.Load()
}

// Reparses counts culled reparses.
func (q *Queue) Reparses() uint64 {
	return q.reparses.Load()
}

func (q *Queue) ShadowMaps() ShadowMaps {
	if p := q.params.Load(); p != nil {
		return p.shadowMaps
	}
	return nil
}

/**
 * @brief Returns the bundle of the frame slot, recording it again when the
 * culled nodes changed since it was last recorded or UpdateGpu replaced what
 * its draws read. A failed recording is discarded and the slot is recorded
 * again on the next call.
 */
func (q *Queue) CommandBuffer(frame int) (gpu.CommandBuffer, error) {
	slot := &q.bundles[frame%len(q.bundles)]
	version := q.version.Load()
	if slot.cb != nil && slot.cb.Recorded() && slot.version == version && !slot.stale {
		return slot.cb, nil
	}
	if slot.cb == nil {
		if q.cfg.Device == nil {
			return nil, fmt.Errorf("%s: no device to record on", q.cfg.Owner.Name())
		}
		cb, err := q.cfg.Device.CreateBundle(fmt.Sprintf("%s/%d", q.cfg.Owner.Name(), frame%len(q.bundles)), q.cfg.Owner.RenderPass())
		if err != nil {
			return nil, err
		}
		slot.cb = cb
	}
	if err := q.record(slot.cb, frame); err != nil {
		slot.cb.Reset()
		return nil, err
	}
	slot.version = version
	slot.stale = false
	return slot.cb, nil
}

func (q *Queue) record(cb gpu.CommandBuffer, frame int) error {
	if err := cb.Begin(); err != nil {
		return err
	}
	if p := q.params.Load(); p != nil {
		if p.viewport != nil {
			cb.SetViewport(*p.viewport)
		}
		if p.scissor != nil {
			cb.SetScissor(*p.scissor)
		}
	}
	slot := frame % len(q.bundles)
	var bound gpu.Pipeline
	for _, n := range q.Ordered() {
		p := q.cfg.Owner.Resolve(n.Pipeline)
		if p == nil {
			core.LogWarn("%s: stale pipeline for %s, skipped", q.cfg.Owner.Name(), n)
			continue
		}
		geometry := n.Geometry()
		count := 0
		if n.Kind.IsInstanced() {
			// drawn from what UpdateGpu uploaded for the slot
			if len(n.InstanceBuffers) > slot {
				count = n.InstanceBuffers[slot].Count
				geometry.Instance = n.InstanceBuffers[slot].Buffer
			}
		} else if q.visible(n.Renderable) {
			count = 1
		}
		if count == 0 {
			continue
		}
		if p.Device != bound {
			cb.BindPipeline(p.Device)
			bound = p.Device
		}
		if sets := n.Sets(slot); len(sets) > 0 {
			cb.BindDescriptorSets(sets...)
		}
		cb.BindGeometry(geometry)
		if geometry.IndexCount > 0 {
			cb.DrawIndexed(geometry.IndexCount, uint32(count))
		} else {
			cb.Draw(geometry.VertexCount, uint32(count))
		}
	}
	return cb.End()
}

// Cleanup releases the bundles and node descriptors and stops listening to
// the scene. The caller waited for the device to stop using them.
func (q *Queue) Cleanup() {
	if q.unsubscribe != nil {
		q.unsubscribe()
		q.unsubscribe = nil
	}
	for i := range q.bundles {
		if q.bundles[i].cb != nil {
			q.bundles[i].cb.Free()
			q.bundles[i].cb = nil
		}
	}
	for _, n := range q.known {
		q.freeNode(n)
	}
	for i := range q.retired {
		q.ReleaseRetired(i)
	}
	q.known = make(map[node.Key]*node.Node)
	q.all.Store(&Buckets{})
	q.culled.Store(&Buckets{})
	q.ordered.Store(&[]*node.Node{})
	q.dirty.Store(true)
}
