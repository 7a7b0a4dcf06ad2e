package passes

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/node"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// uniformAlign is the smallest uniform offset alignment every device accepts.
const uniformAlign = 256

// The frame buffer of a pass holds the camera matrices then the lighting
// parameters, each in its own aligned section.
const (
	matricesOffset  = 0
	lightingOffset  = uniformAlign
	frameBufferSize = 2 * uniformAlign
)

const mat4Size = 16 * 4

func align(n uint64) uint64 {
	return (n + uniformAlign - 1) / uniformAlign * uniformAlign
}

// section is the range of the node buffer read by one binding of set 0.
type section struct {
	binding uint32
	offset  uint64
	size    uint64
}

// nodeSections lays out the node buffer: every buffer binding of set 0
// except the pass wide matrices and lighting gets an aligned section.
func nodeSections(bindings []gpu.DescriptorBinding, n *node.Node) ([]section, uint64) {
	var out []section
	offset := uint64(0)
	for _, b := range bindings {
		if b.Type == gpu.DescriptorSampledImage || b.Binding == BindingMatrices || b.Binding == BindingLighting {
			continue
		}
		size := uint64(uniformAlign)
		if b.Binding == BindingSkinning {
			size = align(uint64(max(bones(n), 1)) * mat4Size)
		}
		out = append(out, section{binding: b.Binding, offset: offset, size: size})
		offset += size
	}
	return out, offset
}

func bones(n *node.Node) int {
	total := 0
	for _, r := range n.Members() {
		if mesh := r.Mesh(); mesh != nil && mesh.Skeleton != nil {
			total += mesh.Skeleton.Bones
		}
	}
	return total
}

func appendFloats(out []byte, fs ...float32) []byte {
	for _, f := range fs {
		out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(f))
	}
	return out
}

func appendUints(out []byte, us ...uint32) []byte {
	for _, u := range us {
		out = binary.LittleEndian.AppendUint32(out, u)
	}
	return out
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// encodeMatrices is the camera section: view, projection, then the eye
// position padded to a vec4.
func encodeMatrices(camera *scene.Camera) []byte {
	view, projection := math.NewMat4Identity(), math.NewMat4Identity()
	var eye math.Vec3
	if camera != nil {
		view, projection, eye = camera.View(), camera.Projection(), camera.Position
	}
	out := make([]byte, 0, 2*mat4Size+16)
	out = appendFloats(out, view.Data[:]...)
	out = appendFloats(out, projection.Data[:]...)
	return appendFloats(out, eye.X, eye.Y, eye.Z, 1)
}

// encodeLighting is the lighting section: scene flags, fog mode and the
// number of shadow maps bound.
func encodeLighting(flags pipeline.SceneFlags, fog scene.FogMode, shadowMaps int) []byte {
	return appendUints(make([]byte, 0, 16), uint32(flags), uint32(fog), uint32(shadowMaps), 0)
}

// encodeSection fills the section of one node binding.
func encodeSection(binding uint32, n *node.Node) []byte {
	switch binding {
	case BindingModel:
		world := math.NewMat4Identity()
		id := uint32(0)
		if sn := n.Renderable.SceneNode(); sn != nil {
			world, id = sn.World(), sn.ID
		}
		return appendUints(appendFloats(make([]byte, 0, mat4Size+16), world.Data[:]...), id, uint32(n.Kind), 0, 0)
	case BindingSkinning:
		// rest pose until an animation system writes the palette
		id := math.NewMat4Identity()
		count := max(bones(n), 1)
		out := make([]byte, 0, count*mat4Size)
		for i := 0; i < count; i++ {
			out = appendFloats(out, id.Data[:]...)
		}
		return out
	case BindingMorphing:
		targets := 0
		if mesh := n.Renderable.Mesh(); mesh != nil {
			targets = mesh.MorphTargets
		}
		return appendUints(make([]byte, 0, 16), uint32(targets), 0, 0, 0)
	case BindingBillboard:
		b := n.Renderable.Billboards
		if b == nil {
			return nil
		}
		out := appendFloats(make([]byte, 0, 16), b.Size.X, b.Size.Y)
		return appendUints(out, boolBit(b.Spherical), boolBit(b.FixedSize))
	case BindingMaterial:
		p := n.Pass
		out := appendFloats(make([]byte, 0, 16), p.Opacity, p.AlphaValue)
		return appendUints(out, uint32(n.Flags.AlphaFunc), boolBit(p.PBR)|boolBit(p.Lighting)<<1)
	}
	return nil
}

// encodeNode returns the whole node buffer for sections.
func encodeNode(sections []section, size uint64, n *node.Node) []byte {
	out := make([]byte, size)
	for _, s := range sections {
		copy(out[s.offset:s.offset+s.size], encodeSection(s.binding, n))
	}
	return out
}
