package scene

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
)

var (
	ErrUnknownMaterial = errors.New("scene: unknown material")
	ErrUnknownMesh     = errors.New("scene: unknown mesh")
	ErrUnknownNode     = errors.New("scene: unknown node")
	ErrBadValue        = errors.New("scene: bad value")
)

// Description is the on disk form of a scene.
type Description struct {
	Name       string                  `toml:"name"`
	Fog        string                  `toml:"fog"`
	Camera     CameraDescription       `toml:"camera"`
	Materials  []MaterialDescription   `toml:"materials"`
	Meshes     []MeshDescription       `toml:"meshes"`
	Nodes      []NodeDescription       `toml:"nodes"`
	Objects    []ObjectDescription     `toml:"objects"`
	Billboards []BillboardsDescription `toml:"billboards"`
}

type CameraDescription struct {
	Position []float32 `toml:"position"`
	Target   []float32 `toml:"target"`
	Fov      float32   `toml:"fov"`
	Near     float32   `toml:"near"`
	Far      float32   `toml:"far"`
}

type MaterialDescription struct {
	Name   string            `toml:"name"`
	Passes []PassDescription `toml:"passes"`
}

type PassDescription struct {
	ColourBlend      string   `toml:"colour_blend"`
	AlphaBlend       string   `toml:"alpha_blend"`
	AlphaFunc        string   `toml:"alpha_func"`
	AlphaValue       float32  `toml:"alpha_value"`
	Opacity          *float32 `toml:"opacity"`
	TwoSided         bool     `toml:"two_sided"`
	OrderIndependent bool     `toml:"order_independent"`
	Unlit            bool     `toml:"unlit"`
	PBR              bool     `toml:"pbr"`
	Textures         []string `toml:"textures"`
}

type MeshDescription struct {
	Name      string               `toml:"name"`
	Submeshes []SubmeshDescription `toml:"submeshes"`
}

type SubmeshDescription struct {
	// procedural geometry, overrides bounds and counts
	Shape        string    `toml:"shape"`
	Size         float32   `toml:"size"`
	Min          []float32 `toml:"min"`
	Max          []float32 `toml:"max"`
	Topology     string    `toml:"topology"`
	Bones        int       `toml:"bones"`
	MorphTargets int       `toml:"morph_targets"`
	Vertices     uint32    `toml:"vertices"`
	Indices      uint32    `toml:"indices"`
}

type NodeDescription struct {
	Name     string    `toml:"name"`
	Parent   string    `toml:"parent"`
	Position []float32 `toml:"position"`
	Scale    []float32 `toml:"scale"`
	// shadow casting is on unless explicitly disabled
	NoShadows bool `toml:"no_shadows"`
	Static    bool `toml:"static"`
}

type ObjectDescription struct {
	Name      string   `toml:"name"`
	Node      string   `toml:"node"`
	Mesh      string   `toml:"mesh"`
	Materials []string `toml:"materials"`
}

type BillboardsDescription struct {
	Name      string      `toml:"name"`
	Node      string      `toml:"node"`
	Material  string      `toml:"material"`
	Positions [][]float32 `toml:"positions"`
	Size      []float32   `toml:"size"`
	Spherical bool        `toml:"spherical"`
	FixedSize bool        `toml:"fixed_size"`
}

// Decode reads a scene description, rejecting unknown keys.
func Decode(r io.Reader) (*Description, error) {
	desc := &Description{}
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(desc); err != nil {
		return nil, fmt.Errorf("scene: decode: %w", err)
	}
	return desc, nil
}

// Load reads and builds the scene stored at path.
func Load(path string, bus *core.EventBus) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	desc, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s, err := desc.Build(bus)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	core.LogInfo("scene %q loaded from %s: %d objects, %d billboard lists", s.Name, path, len(s.Geometries()), len(s.Billboards()))
	return s, nil
}

// Build instantiates the description.
func (d *Description) Build(bus *core.EventBus) (*Scene, error) {
	s := New(d.Name, bus)
	fog, err := parseFog(d.Fog)
	if err != nil {
		return nil, err
	}
	s.Fog = fog
	d.Camera.apply(s.Camera)

	for _, md := range d.Materials {
		m, err := md.build()
		if err != nil {
			return nil, err
		}
		s.AddMaterial(m)
	}
	for _, md := range d.Meshes {
		mesh, err := md.build()
		if err != nil {
			return nil, err
		}
		s.AddMesh(mesh)
	}
	for _, nd := range d.Nodes {
		node := NewSceneNode(nd.Name, vec3(nd.Position, math.NewVec3Zero()))
		node.Transform.SetScale(vec3(nd.Scale, math.NewVec3One()))
		node.ShadowCaster = !nd.NoShadows
		node.Static = nd.Static
		if nd.Parent != "" {
			parent := s.Node(nd.Parent)
			if parent == nil {
				return nil, fmt.Errorf("%w: %q (parent of %q)", ErrUnknownNode, nd.Parent, nd.Name)
			}
			node.Transform.Parent = parent.Transform
		}
		s.AddNode(node)
	}
	for _, od := range d.Objects {
		if err := s.addObject(od); err != nil {
			return nil, err
		}
	}
	for _, bd := range d.Billboards {
		node := s.Node(bd.Node)
		if node == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, bd.Node)
		}
		m := s.Material(bd.Material)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMaterial, bd.Material)
		}
		list := &BillboardList{
			Name:      bd.Name,
			Node:      node,
			Material:  m,
			Size:      math.Vec2{X: 1, Y: 1},
			Spherical: bd.Spherical,
			FixedSize: bd.FixedSize,
		}
		if len(bd.Size) == 2 {
			list.Size = math.Vec2{X: bd.Size[0], Y: bd.Size[1]}
		}
		for _, p := range bd.Positions {
			list.Positions = append(list.Positions, vec3(p, math.NewVec3Zero()))
		}
		s.AddBillboards(list)
	}
	return s, nil
}

func (s *Scene) addObject(od ObjectDescription) error {
	node := s.Node(od.Node)
	if node == nil {
		return fmt.Errorf("%w: %q", ErrUnknownNode, od.Node)
	}
	mesh := s.Mesh(od.Mesh)
	if mesh == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMesh, od.Mesh)
	}
	materials := make([]*Material, 0, len(od.Materials))
	for _, name := range od.Materials {
		m := s.Material(name)
		if m == nil {
			return fmt.Errorf("%w: %q", ErrUnknownMaterial, name)
		}
		materials = append(materials, m)
	}
	s.AddGeometry(od.Name, node, mesh, materials...)
	return nil
}

func (c CameraDescription) apply(cam *Camera) {
	cam.Position = vec3(c.Position, cam.Position)
	cam.Target = vec3(c.Target, cam.Target)
	if c.Fov > 0 {
		cam.Fov = c.Fov
	}
	if c.Near > 0 {
		cam.Near = c.Near
	}
	if c.Far > 0 {
		cam.Far = c.Far
	}
}

func (md MaterialDescription) build() (*Material, error) {
	m := NewMaterial(md.Name)
	for i, pd := range md.Passes {
		p, err := pd.build()
		if err != nil {
			return nil, fmt.Errorf("material %q pass %d: %w", md.Name, i, err)
		}
		m.AddPass(p)
	}
	if len(m.Passes) == 0 {
		m.AddPass(NewOpaquePass())
	}
	return m, nil
}

func (pd PassDescription) build() (*Pass, error) {
	p := NewOpaquePass()
	var err error
	if p.ColourBlendMode, err = parseBlend(pd.ColourBlend); err != nil {
		return nil, err
	}
	if p.AlphaBlendMode, err = parseBlend(pd.AlphaBlend); err != nil {
		return nil, err
	}
	if p.AlphaFunc, err = parseCompare(pd.AlphaFunc); err != nil {
		return nil, err
	}
	if pd.Opacity != nil {
		p.Opacity = math.Clamp(*pd.Opacity, 0, 1)
	}
	p.AlphaValue = pd.AlphaValue
	p.TwoSided = pd.TwoSided
	p.OrderIndependent = pd.OrderIndependent
	p.Lighting = !pd.Unlit
	p.PBR = pd.PBR
	for _, t := range pd.Textures {
		flag, ok := textureNames[strings.ToLower(t)]
		if !ok {
			return nil, fmt.Errorf("%w: texture %q", ErrBadValue, t)
		}
		p.Textures |= flag
	}
	return p, nil
}

func (md MeshDescription) build() (*Mesh, error) {
	subs := make([]*Submesh, 0, len(md.Submeshes))
	for i, sd := range md.Submeshes {
		topo, err := parseTopology(sd.Topology)
		if err != nil {
			return nil, fmt.Errorf("mesh %q submesh %d: %w", md.Name, i, err)
		}
		sub := &Submesh{
			Bounds:       math.NewExtents3D(vec3(sd.Min, math.NewVec3(-0.5, -0.5, -0.5)), vec3(sd.Max, math.NewVec3(0.5, 0.5, 0.5))),
			Topology:     topo,
			MorphTargets: sd.MorphTargets,
			VertexCount:  sd.Vertices,
			IndexCount:   sd.Indices,
		}
		if sd.Shape != "" {
			size := sd.Size
			if size <= 0 {
				size = 1
			}
			if sub, err = Shape(sd.Shape, size/2); err != nil {
				return nil, fmt.Errorf("mesh %q submesh %d: %w", md.Name, i, err)
			}
			sub.MorphTargets = sd.MorphTargets
		}
		if sd.Bones > 0 {
			sub.Skeleton = &Skeleton{Name: md.Name, Bones: sd.Bones}
		}
		subs = append(subs, sub)
	}
	return NewMesh(md.Name, subs...), nil
}

var textureNames = map[string]pipeline.TextureFlags{
	"diffuse":       pipeline.TextureDiffuse,
	"normal":        pipeline.TextureNormal,
	"opacity":       pipeline.TextureOpacity,
	"specular":      pipeline.TextureSpecular,
	"emissive":      pipeline.TextureEmissive,
	"height":        pipeline.TextureHeight,
	"occlusion":     pipeline.TextureOcclusion,
	"transmittance": pipeline.TextureTransmittance,
	"gloss":         pipeline.TextureGloss,
}

func parseBlend(s string) (pipeline.BlendMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return pipeline.BlendModeNoBlend, nil
	case "additive":
		return pipeline.BlendModeAdditive, nil
	case "multiplicative":
		return pipeline.BlendModeMultiplicative, nil
	case "interpolative":
		return pipeline.BlendModeInterpolative, nil
	case "a_buffer":
		return pipeline.BlendModeABuffer, nil
	case "depth_peeling":
		return pipeline.BlendModeDepthPeeling, nil
	}
	return 0, fmt.Errorf("%w: blend mode %q", ErrBadValue, s)
}

func parseCompare(s string) (gpu.CompareOp, error) {
	switch strings.ToLower(s) {
	case "", "always":
		return gpu.CompareOpAlways, nil
	case "never":
		return gpu.CompareOpNever, nil
	case "less":
		return gpu.CompareOpLess, nil
	case "equal":
		return gpu.CompareOpEqual, nil
	case "less_or_equal":
		return gpu.CompareOpLessOrEqual, nil
	case "greater":
		return gpu.CompareOpGreater, nil
	case "not_equal":
		return gpu.CompareOpNotEqual, nil
	case "greater_or_equal":
		return gpu.CompareOpGreaterOrEqual, nil
	}
	return 0, fmt.Errorf("%w: alpha function %q", ErrBadValue, s)
}

func parseTopology(s string) (gpu.Topology, error) {
	switch strings.ToLower(s) {
	case "", "triangles":
		return gpu.TopologyTriangleList, nil
	case "triangle_strip":
		return gpu.TopologyTriangleStrip, nil
	case "lines":
		return gpu.TopologyLineList, nil
	case "points":
		return gpu.TopologyPointList, nil
	}
	return 0, fmt.Errorf("%w: topology %q", ErrBadValue, s)
}

func parseFog(s string) (FogMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return FogNone, nil
	case "linear":
		return FogLinear, nil
	case "exponential":
		return FogExponential, nil
	case "squared_exponential":
		return FogSquaredExponential, nil
	}
	return 0, fmt.Errorf("%w: fog %q", ErrBadValue, s)
}

func vec3(v []float32, def math.Vec3) math.Vec3 {
	if len(v) != 3 {
		return def
	}
	return math.NewVec3(v[0], v[1], v[2])
}
