package scene

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VertexStride is the size of one encoded Vertex.
const VertexStride = (3 + 3 + 2 + 4 + 4 + 3 + 3) * 4

// Vertex is the interleaved vertex layout every mesh program reads.
type Vertex struct {
	Position math.Vec3
	Normal   math.Vec3
	TexCoord math.Vec2
	Bones    [4]int32
	Weights  [4]float32
	// displacement of the first morph target
	MorphPosition math.Vec3
	MorphNormal   math.Vec3
}

// EncodeVertices lays out vertices as bound at the vertex binding.
func EncodeVertices(vertices []Vertex) []byte {
	out := make([]byte, 0, len(vertices)*VertexStride)
	f := func(v ...float32) {
		for _, x := range v {
			out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(x))
		}
	}
	for _, v := range vertices {
		f(v.Position.X, v.Position.Y, v.Position.Z)
		f(v.Normal.X, v.Normal.Y, v.Normal.Z)
		f(v.TexCoord.X, v.TexCoord.Y)
		for _, b := range v.Bones {
			out = binary.LittleEndian.AppendUint32(out, uint32(b))
		}
		f(v.Weights[:]...)
		f(v.MorphPosition.X, v.MorphPosition.Y, v.MorphPosition.Z)
		f(v.MorphNormal.X, v.MorphNormal.Y, v.MorphNormal.Z)
	}
	return out
}

func EncodeIndices(indices []uint32) []byte {
	out := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}

// Cube returns a triangle list submesh of a cube centred on the origin, four
// vertices per face so normals stay flat.
func Cube(half float32) *Submesh {
	faces := []struct{ normal, u, v math.Vec3 }{
		{math.NewVec3(0, 0, 1), math.NewVec3(1, 0, 0), math.NewVec3(0, 1, 0)},
		{math.NewVec3(0, 0, -1), math.NewVec3(-1, 0, 0), math.NewVec3(0, 1, 0)},
		{math.NewVec3(1, 0, 0), math.NewVec3(0, 0, -1), math.NewVec3(0, 1, 0)},
		{math.NewVec3(-1, 0, 0), math.NewVec3(0, 0, 1), math.NewVec3(0, 1, 0)},
		{math.NewVec3(0, 1, 0), math.NewVec3(1, 0, 0), math.NewVec3(0, 0, -1)},
		{math.NewVec3(0, -1, 0), math.NewVec3(1, 0, 0), math.NewVec3(0, 0, 1)},
	}
	corners := [4]math.Vec2{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}

	var vertices []Vertex
	var indices []uint32
	for _, face := range faces {
		base := uint32(len(vertices))
		for _, c := range corners {
			p := face.normal.Add(face.u.MulScalar(c.X)).Add(face.v.MulScalar(c.Y)).MulScalar(half)
			vertices = append(vertices, Vertex{
				Position: p,
				Normal:   face.normal,
				TexCoord: math.Vec2{X: (c.X + 1) / 2, Y: (1 - c.Y) / 2},
				Weights:  [4]float32{1, 0, 0, 0},
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return withData(vertices, indices, math.NewExtents3DCube(math.NewVec3Zero(), half))
}

// Quad returns a two sided friendly unit quad in the XY plane.
func Quad(half float32) *Submesh {
	n := math.NewVec3(0, 0, 1)
	vertices := []Vertex{
		{Position: math.NewVec3(-half, -half, 0), Normal: n, TexCoord: math.Vec2{X: 0, Y: 1}},
		{Position: math.NewVec3(half, -half, 0), Normal: n, TexCoord: math.Vec2{X: 1, Y: 1}},
		{Position: math.NewVec3(half, half, 0), Normal: n, TexCoord: math.Vec2{X: 1, Y: 0}},
		{Position: math.NewVec3(-half, half, 0), Normal: n, TexCoord: math.Vec2{X: 0, Y: 0}},
	}
	bounds := math.NewExtents3D(math.NewVec3(-half, -half, 0), math.NewVec3(half, half, 0))
	return withData(vertices, []uint32{0, 1, 2, 0, 2, 3}, bounds)
}

func withData(vertices []Vertex, indices []uint32, bounds math.Extents3D) *Submesh {
	return &Submesh{
		Bounds:      bounds,
		Topology:    gpu.TopologyTriangleList,
		VertexCount: uint32(len(vertices)),
		IndexCount:  uint32(len(indices)),
		Vertices:    vertices,
		Indices:     indices,
	}
}

// Shape builds the named procedural submesh.
func Shape(name string, half float32) (*Submesh, error) {
	switch name {
	case "cube":
		return Cube(half), nil
	case "quad":
		return Quad(half), nil
	}
	return nil, fmt.Errorf("%w: shape %q", ErrBadValue, name)
}
