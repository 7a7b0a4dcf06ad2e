package scene

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
)

var nextID atomic.Uint32

func newID() uint32 {
	return nextID.Add(1)
}

// Pass is one material pass: the unit a render stage accepts or rejects.
type Pass struct {
	ID       uint32
	Material *Material
	Index    int

	ColourBlendMode  pipeline.BlendMode
	AlphaBlendMode   pipeline.BlendMode
	AlphaFunc        gpu.CompareOp
	AlphaValue       float32
	Opacity          float32
	TwoSided         bool
	OrderIndependent bool
	Lighting         bool
	PBR              bool
	Textures         pipeline.TextureFlags
	// uploaded image of each channel in Textures, left in the shader read
	// layout by whoever uploaded it; missing channels sample plain white
	Images map[pipeline.TextureFlags]gpu.Image
}

// HasAlphaBlending is true when the pass needs blending to look right.
func (p *Pass) HasAlphaBlending() bool {
	return p.AlphaBlendMode != pipeline.BlendModeNoBlend || p.Opacity < 1.0
}

func (p *Pass) HasAlphaTest() bool {
	return p.AlphaFunc != gpu.CompareOpAlways
}

// PassFlags derives the pipeline pass flags of the material pass.
func (p *Pass) PassFlags() pipeline.PassFlags {
	var f pipeline.PassFlags
	if p.HasAlphaBlending() {
		f |= pipeline.PassFlagAlphaBlending
	}
	if p.HasAlphaTest() {
		f |= pipeline.PassFlagAlphaTest
	}
	if p.TwoSided {
		f |= pipeline.PassFlagTwoSided
	}
	if p.OrderIndependent {
		f |= pipeline.PassFlagOrderIndependent
	}
	if p.PBR {
		f |= pipeline.PassFlagPBR
	}
	return f
}

// BlendModes returns the colour and alpha modes, promoting a translucent pass
// without explicit alpha mode to interpolative blending.
func (p *Pass) BlendModes() (colour, alpha pipeline.BlendMode) {
	alpha = p.AlphaBlendMode
	if alpha == pipeline.BlendModeNoBlend && p.Opacity < 1.0 {
		alpha = pipeline.BlendModeInterpolative
	}
	return p.ColourBlendMode, alpha
}

type Material struct {
	ID     uint32
	Name   string
	Passes []*Pass
}

func NewMaterial(name string, passes ...*Pass) *Material {
	m := &Material{ID: newID(), Name: name}
	for _, p := range passes {
		m.AddPass(p)
	}
	return m
}

// NewOpaquePass returns a lit, opaque, single sided pass.
func NewOpaquePass() *Pass {
	return &Pass{
		AlphaFunc: gpu.CompareOpAlways,
		Opacity:   1.0,
		Lighting:  true,
	}
}

func (m *Material) AddPass(p *Pass) {
	p.ID = newID()
	p.Material = m
	p.Index = len(m.Passes)
	m.Passes = append(m.Passes, p)
}

type SceneNode struct {
	ID           uint32
	Name         string
	Transform    *math.Transform
	ShadowCaster bool
	Static       bool
	Visible      bool
}

func NewSceneNode(name string, position math.Vec3) *SceneNode {
	return &SceneNode{
		ID:           newID(),
		Name:         name,
		Transform:    math.TransformFromPosition(position),
		ShadowCaster: true,
		Visible:      true,
	}
}

func (n *SceneNode) World() math.Mat4 {
	return n.Transform.GetWorld()
}

type Skeleton struct {
	Name  string
	Bones int
}

type Submesh struct {
	ID           uint32
	Index        int
	Bounds       math.Extents3D
	Topology     gpu.Topology
	Skeleton     *Skeleton
	MorphTargets int
	VertexCount  uint32
	IndexCount   uint32
	Buffers      gpu.GeometryBuffers
	// CPU side data uploaded once a device is available, may be empty when
	// Buffers are set by the caller
	Vertices []Vertex
	Indices  []uint32
}

func (s *Submesh) HasBones() bool { return s.Skeleton != nil && s.Skeleton.Bones > 0 }

func (s *Submesh) HasMorph() bool { return s.MorphTargets > 0 }

type Mesh struct {
	ID        uint32
	Name      string
	Submeshes []*Submesh
}

func NewMesh(name string, submeshes ...*Submesh) *Mesh {
	m := &Mesh{ID: newID(), Name: name}
	for i, s := range submeshes {
		s.ID = newID()
		s.Index = i
		m.Submeshes = append(m.Submeshes, s)
	}
	return m
}

// Geometry is a mesh placed at a node, with one material per submesh.
type Geometry struct {
	ID        uint32
	Name      string
	Node      *SceneNode
	Mesh      *Mesh
	Materials []*Material
}

// MaterialFor returns the material of the submesh at index i.
func (g *Geometry) MaterialFor(i int) *Material {
	if i < len(g.Materials) && g.Materials[i] != nil {
		return g.Materials[i]
	}
	if len(g.Materials) > 0 {
		return g.Materials[len(g.Materials)-1]
	}
	return nil
}

// WorldBounds returns the bounds of submesh i in world space.
// Malformed bounds are returned untransformed so they stay detectable.
func (g *Geometry) WorldBounds(i int) math.Extents3D {
	local := g.Mesh.Submeshes[i].Bounds
	if !local.IsValid() {
		return local
	}
	return local.Transform(g.Node.World())
}

type BillboardList struct {
	ID        uint32
	Name      string
	Node      *SceneNode
	Material  *Material
	Positions []math.Vec3
	Size      math.Vec2
	Spherical bool
	FixedSize bool
}

// WorldBounds encloses every billboard quad.
func (b *BillboardList) WorldBounds() math.Extents3D {
	if len(b.Positions) == 0 {
		return math.Extents3D{}
	}
	half := b.Size.X
	if b.Size.Y > half {
		half = b.Size.Y
	}
	half *= 0.5
	box := math.NewExtents3DCube(b.Positions[0], half)
	for _, p := range b.Positions[1:] {
		c := math.NewExtents3DCube(p, half)
		box.Min = math.NewVec3(min(box.Min.X, c.Min.X), min(box.Min.Y, c.Min.Y), min(box.Min.Z, c.Min.Z))
		box.Max = math.NewVec3(max(box.Max.X, c.Max.X), max(box.Max.Y, c.Max.Y), max(box.Max.Z, c.Max.Z))
	}
	return box.Transform(b.Node.World())
}

type FogMode uint8

const (
	FogNone FogMode = iota
	FogLinear
	FogExponential
	FogSquaredExponential
)

// Scene is the read only input of the render core. Every mutation goes
// through a method that bumps the change counter and fires an event.
type Scene struct {
	Name   string
	Camera *Camera
	Fog    FogMode
	// filter used by shadow receivers
	ShadowFilter pipeline.SceneFlags

	mu         sync.RWMutex
	bus        *core.EventBus
	changes    atomic.Uint64
	nodes      []*SceneNode
	materials  map[string]*Material
	meshes     map[string]*Mesh
	geometries []*Geometry
	billboards []*BillboardList
}

func New(name string, bus *core.EventBus) *Scene {
	if bus == nil {
		bus = core.DefaultEventBus()
	}
	return &Scene{
		Name:         name,
		Camera:       NewCamera(),
		ShadowFilter: pipeline.SceneShadowFilterPCF,
		bus:          bus,
		materials:    make(map[string]*Material),
		meshes:       make(map[string]*Mesh),
	}
}

func (s *Scene) Bus() *core.EventBus {
	return s.bus
}

// Changes returns a counter incremented on every mutation.
func (s *Scene) Changes() uint64 {
	return s.changes.Load()
}

func (s *Scene) notify(code core.SystemEventCode, data interface{}) {
	s.changes.Add(1)
	s.bus.Fire(core.EventContext{Type: code, Data: data})
}

// Flags returns the scene wide pipeline flags (fog, shadows).
func (s *Scene) Flags() pipeline.SceneFlags {
	var f pipeline.SceneFlags
	switch s.Fog {
	case FogLinear:
		f |= pipeline.SceneFogLinear
	case FogExponential:
		f |= pipeline.SceneFogExponential
	case FogSquaredExponential:
		f |= pipeline.SceneFogSquaredExponential
	}
	return f | s.ShadowFilter
}

func (s *Scene) AddNode(n *SceneNode) *SceneNode {
	s.mu.Lock()
	s.nodes = append(s.nodes, n)
	s.mu.Unlock()
	return n
}

func (s *Scene) Node(name string) *SceneNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (s *Scene) AddMaterial(m *Material) *Material {
	s.mu.Lock()
	s.materials[m.Name] = m
	s.mu.Unlock()
	return m
}

func (s *Scene) Material(name string) *Material {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.materials[name]
}

func (s *Scene) AddMesh(m *Mesh) *Mesh {
	s.mu.Lock()
	s.meshes[m.Name] = m
	s.mu.Unlock()
	return m
}

func (s *Scene) Mesh(name string) *Mesh {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meshes[name]
}

// AddGeometry places mesh at node with the given per submesh materials.
func (s *Scene) AddGeometry(name string, node *SceneNode, mesh *Mesh, materials ...*Material) *Geometry {
	g := &Geometry{ID: newID(), Name: name, Node: node, Mesh: mesh, Materials: materials}
	s.mu.Lock()
	s.geometries = append(s.geometries, g)
	s.mu.Unlock()
	s.notify(core.EVENT_CODE_SCENE_NODE_ADDED, g)
	return g
}

func (s *Scene) RemoveGeometry(g *Geometry) bool {
	s.mu.Lock()
	removed := false
	for i, o := range s.geometries {
		if o == g {
			s.geometries = append(s.geometries[:i:i], s.geometries[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		s.notify(core.EVENT_CODE_SCENE_NODE_REMOVED, g)
	}
	return removed
}

func (s *Scene) AddBillboards(b *BillboardList) *BillboardList {
	b.ID = newID()
	s.mu.Lock()
	s.billboards = append(s.billboards, b)
	s.mu.Unlock()
	s.notify(core.EVENT_CODE_SCENE_NODE_ADDED, b)
	return b
}

// Geometries returns a snapshot of the placed geometries, in insertion order.
func (s *Scene) Geometries() []*Geometry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Geometry(nil), s.geometries...)
}

func (s *Scene) Billboards() []*BillboardList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*BillboardList(nil), s.billboards...)
}

func (s *Scene) Materials() []*Material {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Material, 0, len(s.materials))
	for _, m := range s.materials {
		out = append(out, m)
	}
	return out
}

// EditMaterial applies edit to m and notifies listeners.
func (s *Scene) EditMaterial(m *Material, edit func(m *Material)) {
	s.mu.Lock()
	edit(m)
	s.mu.Unlock()
	s.notify(core.EVENT_CODE_MATERIAL_CHANGED, m)
}

// SetMaterial swaps the material of one submesh of g.
func (s *Scene) SetMaterial(g *Geometry, submesh int, m *Material) {
	s.mu.Lock()
	for len(g.Materials) <= submesh {
		g.Materials = append(g.Materials, nil)
	}
	g.Materials[submesh] = m
	s.mu.Unlock()
	s.notify(core.EVENT_CODE_SCENE_CHANGED, g)
}

// MoveNode changes a node position; this is not a structural change.
func (s *Scene) MoveNode(n *SceneNode, position math.Vec3) {
	s.mu.Lock()
	n.Transform.SetPosition(position)
	s.mu.Unlock()
	s.changes.Add(1)
}

// InstanceCount returns how many placed geometries draw submesh with
// material, the basis for hardware instancing.
func (s *Scene) InstanceCount(submesh *Submesh, material *Material) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, g := range s.geometries {
		for i, sm := range g.Mesh.Submeshes {
			if sm == submesh && g.MaterialFor(i) == material {
				n++
			}
		}
	}
	return n
}

// Renderable is one drawable unit: a submesh of a placed geometry or a whole
// billboard list. It is comparable and keys visibility sets.
type Renderable struct {
	Geometry   *Geometry
	Submesh    int
	Billboards *BillboardList
}

func (r Renderable) IsBillboard() bool {
	return r.Billboards != nil
}

func (r Renderable) SceneNode() *SceneNode {
	if r.Billboards != nil {
		return r.Billboards.Node
	}
	return r.Geometry.Node
}

func (r Renderable) Material() *Material {
	if r.Billboards != nil {
		return r.Billboards.Material
	}
	return r.Geometry.MaterialFor(r.Submesh)
}

// Mesh returns the submesh, nil for billboards.
func (r Renderable) Mesh() *Submesh {
	if r.Billboards != nil {
		return nil
	}
	return r.Geometry.Mesh.Submeshes[r.Submesh]
}

func (r Renderable) Bounds() math.Extents3D {
	if r.Billboards != nil {
		return r.Billboards.WorldBounds()
	}
	return r.Geometry.WorldBounds(r.Submesh)
}

func (r Renderable) Name() string {
	if r.Billboards != nil {
		return r.Billboards.Name
	}
	return fmt.Sprintf("%s[%d]", r.Geometry.Name, r.Submesh)
}

// Renderables enumerates every submesh of every geometry, then every billboard
// list, in insertion order.
func (s *Scene) Renderables() []Renderable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Renderable, 0, len(s.geometries)+len(s.billboards))
	for _, g := range s.geometries {
		for i := range g.Mesh.Submeshes {
			out = append(out, Renderable{Geometry: g, Submesh: i})
		}
	}
	for _, b := range s.billboards {
		out = append(out, Renderable{Billboards: b})
	}
	return out
}
