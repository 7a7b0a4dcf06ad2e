package node

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// Kind is the closed set of render node variants.
type Kind uint8

const (
	KindStatic Kind = iota
	KindSkinned
	KindMorphing
	KindBillboard
	KindInstancedStatic
	KindInstancedSkinned

	KindCount
)

var kindNames = [KindCount]string{"static", "skinned", "morphing", "billboard", "instanced_static", "instanced_skinned"}

func (k Kind) String() string {
	if k < KindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) HasBones() bool {
	return k == KindSkinned || k == KindInstancedSkinned
}

func (k Kind) HasMorph() bool {
	return k == KindMorphing
}

func (k Kind) IsInstanced() bool {
	return k == KindInstancedStatic || k == KindInstancedSkinned
}

func (k Kind) IsBillboard() bool {
	return k == KindBillboard
}

// ProgramFlags returns the program flags the kind requires.
func (k Kind) ProgramFlags() pipeline.ProgramFlags {
	var f pipeline.ProgramFlags
	if k.HasBones() {
		f |= pipeline.ProgramSkinning
	}
	if k.HasMorph() {
		f |= pipeline.ProgramMorphing
	}
	if k.IsInstanced() {
		f |= pipeline.ProgramInstantiation
	}
	if k.IsBillboard() {
		f |= pipeline.ProgramBillboards
	}
	return f
}

// KindOf selects the variant of a renderable.
func KindOf(r scene.Renderable, instanced bool) Kind {
	if r.IsBillboard() {
		return KindBillboard
	}
	mesh := r.Mesh()
	switch {
	case mesh.HasMorph():
		return KindMorphing
	case mesh.HasBones() && instanced:
		return KindInstancedSkinned
	case mesh.HasBones():
		return KindSkinned
	case instanced:
		return KindInstancedStatic
	}
	return KindStatic
}

// Key identifies a node across rebuilds.
type Key struct {
	Renderable scene.Renderable
	Pass       *scene.Pass
	Cull       gpu.CullMode
}

// Node is one drawable bound to one pipeline. Instanced nodes draw every
// member renderable with a single call.
type Node struct {
	Kind Kind
	// creation order, stable across rebuilds of an unchanged node
	Seq uint64

	Renderable scene.Renderable
	Instances  []scene.Renderable
	Pass       *scene.Pass
	Flags      pipeline.Flags
	Cull       gpu.CullMode
	Pipeline   pipeline.Handle
	// per frame in flight, one set per descriptor set layout of the pipeline
	Descriptors [][]gpu.DescriptorSet
	// per frame in flight uniform buffer, made by the pass on first upload
	Uniforms []UniformBuffer
	// generation of the pass inputs each frame slot's sets were written with
	Written []uint64
	// instance transforms, one buffer per frame in flight, instanced kinds only
	InstanceBuffers []InstanceBuffer
}

type UniformBuffer struct {
	Buffer gpu.Buffer
	Size   uint64
}

type InstanceBuffer struct {
	Buffer gpu.Buffer
	Size   uint64
	// instances written by the last upload
	Count int
}

func New(kind Kind, seq uint64, r scene.Renderable, pass *scene.Pass, cull gpu.CullMode) *Node {
	n := &Node{
		Kind:       kind,
		Seq:        seq,
		Renderable: r,
		Pass:       pass,
		Cull:       cull,
	}
	if kind.IsInstanced() {
		n.Instances = []scene.Renderable{r}
	}
	return n
}

// Sets returns the descriptor sets of the frame slot, nil before any was
// allocated.
func (n *Node) Sets(frame int) []gpu.DescriptorSet {
	if len(n.Descriptors) == 0 {
		return nil
	}
	return n.Descriptors[frame%len(n.Descriptors)]
}

func (n *Node) Key() Key {
	return Key{Renderable: n.Renderable, Pass: n.Pass, Cull: n.Cull}
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %s/%s pass %d (%s)", n.Kind, n.Renderable.Name(), n.Pass.Material.Name, n.Pass.Index, n.Cull)
}

// Members returns the renderables drawn by the node.
func (n *Node) Members() []scene.Renderable {
	if n.Kind.IsInstanced() {
		return n.Instances
	}
	return []scene.Renderable{n.Renderable}
}

// Geometry returns the device buffers to bind.
func (n *Node) Geometry() gpu.GeometryBuffers {
	if mesh := n.Renderable.Mesh(); mesh != nil {
		b := mesh.Buffers
		if b.VertexCount == 0 {
			b.VertexCount = mesh.VertexCount
		}
		if b.IndexCount == 0 {
			b.IndexCount = mesh.IndexCount
		}
		return b
	}
	// one point per billboard, expanded on the GPU
	return gpu.GeometryBuffers{VertexCount: uint32(len(n.Renderable.Billboards.Positions))}
}

// Distance returns the squared distance from camera to the closest member,
// used to sort blended nodes.
func (n *Node) Distance(camera math.Vec3) float32 {
	best := float32(-1)
	for _, r := range n.Members() {
		d := r.Bounds().Center().DistanceSquared(camera)
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// InstanceData is the per instance payload of a draw.
type InstanceData struct {
	World  math.Mat4
	NodeID uint32
	// first bone matrix of the instance in the skinning buffer
	BoneOffset int
	// morph target count, zero unless the node morphs
	MorphTargets int
}

// InstanceStride is the size of one encoded instance: a column major model
// matrix.
const InstanceStride = 16 * 4

// EncodeInstances lays out the world matrices of data as bound at the
// instance vertex binding.
func EncodeInstances(data []InstanceData) []byte {
	out := make([]byte, 0, len(data)*InstanceStride)
	for _, d := range data {
		for _, f := range d.World.Data {
			out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(f))
		}
	}
	return out
}

// CollectInstances gathers the payload of every visible member. The traits
// of the kind decide which parts are filled.
func (n *Node) CollectInstances(visible func(scene.Renderable) bool) []InstanceData {
	members := n.Members()
	out := make([]InstanceData, 0, len(members))
	bones := 0
	for _, r := range members {
		if visible != nil && !visible(r) {
			continue
		}
		sn := r.SceneNode()
		data := InstanceData{World: sn.World(), NodeID: sn.ID}
		if mesh := r.Mesh(); mesh != nil {
			if n.Kind.HasBones() && mesh.Skeleton != nil {
				data.BoneOffset = bones
				bones += mesh.Skeleton.Bones
			}
			if n.Kind.HasMorph() {
				data.MorphTargets = mesh.MorphTargets
			}
		}
		out = append(out, data)
	}
	return out
}
