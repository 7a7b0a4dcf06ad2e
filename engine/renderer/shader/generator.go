package shader

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
)

var ErrNotRepresentable = errors.New("shader: flag combination not representable")

// Representable reports whether a shader program can be generated for flags.
func Representable(flags pipeline.Flags) error {
	p := flags.ProgramFlags
	switch {
	case p.Has(pipeline.ProgramMorphing) && p.Has(pipeline.ProgramBillboards):
		return fmt.Errorf("%w: morphing with billboards", ErrNotRepresentable)
	case p.Has(pipeline.ProgramMorphing) && p.Has(pipeline.ProgramInstantiation):
		return fmt.Errorf("%w: morphing with instancing", ErrNotRepresentable)
	case p.Has(pipeline.ProgramSkinning) && p.Has(pipeline.ProgramBillboards):
		return fmt.Errorf("%w: skinning with billboards", ErrNotRepresentable)
	}
	return nil
}

// NeedsGeometryStage is true for point billboards, expanded to quads on the GPU.
func NeedsGeometryStage(flags pipeline.Flags) bool {
	return flags.ProgramFlags.Has(pipeline.ProgramBillboards) && flags.Topology == gpu.TopologyPointList
}

// GLSLGenerator emits GLSL 450 for a flag combination. With a Compiler the
// returned modules also carry SPIR-V.
type GLSLGenerator struct {
	compiler *Compiler
}

func NewGLSLGenerator(compiler *Compiler) *GLSLGenerator {
	return &GLSLGenerator{compiler: compiler}
}

func (g *GLSLGenerator) VertexSource(flags pipeline.Flags) (gpu.ShaderModule, error) {
	return g.generate(gpu.ShaderStageVertex, vertexTemplate, flags)
}

func (g *GLSLGenerator) PixelSource(flags pipeline.Flags) (gpu.ShaderModule, error) {
	return g.generate(gpu.ShaderStageFragment, pixelTemplate, flags)
}

func (g *GLSLGenerator) GeometrySource(flags pipeline.Flags) (gpu.ShaderModule, bool, error) {
	if !NeedsGeometryStage(flags) {
		return gpu.ShaderModule{}, false, nil
	}
	m, err := g.generate(gpu.ShaderStageGeometry, geometryTemplate, flags)
	return m, err == nil, err
}

func (g *GLSLGenerator) generate(stage gpu.ShaderStage, tmpl *template.Template, flags pipeline.Flags) (gpu.ShaderModule, error) {
	if err := Representable(flags); err != nil {
		return gpu.ShaderModule{}, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newProgram(flags)); err != nil {
		core.LogError("shader template %s failed: %s", stage, err)
		return gpu.ShaderModule{}, err
	}
	m := gpu.ShaderModule{
		Stage:  stage,
		Name:   fmt.Sprintf("%s_%016x", stage, flags.Hash()),
		Source: buf.String(),
	}
	if g.compiler == nil {
		return m, nil
	}
	return g.compiler.Compile(m)
}

// program is the template input.
type program struct {
	Defines      []string
	Textures     []string
	Skinning     bool
	Morphing     bool
	Instancing   bool
	Billboards   bool
	Lighting     bool
	Picking      bool
	ShadowMap    bool
	AlphaTest    bool
	AlphaFunc    string
	Opacity      bool
	InvertNormal bool
}

var programDefines = []struct {
	flag pipeline.ProgramFlags
	name string
}{
	{pipeline.ProgramInstantiation, "INSTANTIATION"},
	{pipeline.ProgramSkinning, "SKINNING"},
	{pipeline.ProgramMorphing, "MORPHING"},
	{pipeline.ProgramBillboards, "BILLBOARDS"},
	{pipeline.ProgramFixedSize, "FIXED_SIZE"},
	{pipeline.ProgramSpherical, "SPHERICAL"},
	{pipeline.ProgramPicking, "PICKING"},
	{pipeline.ProgramLighting, "LIGHTING"},
	{pipeline.ProgramShadowMapDirectional, "SHADOW_MAP_DIRECTIONAL"},
	{pipeline.ProgramShadowMapSpot, "SHADOW_MAP_SPOT"},
	{pipeline.ProgramShadowMapPoint, "SHADOW_MAP_POINT"},
	{pipeline.ProgramInvertNormals, "INVERT_NORMALS"},
	{pipeline.ProgramDepthPass, "DEPTH_PASS"},
	{pipeline.ProgramEnvironmentMapping, "ENVIRONMENT_MAPPING"},
	{pipeline.ProgramVisibility, "VISIBILITY"},
}

var textureNames = []struct {
	flag pipeline.TextureFlags
	name string
}{
	{pipeline.TextureDiffuse, "diffuse"},
	{pipeline.TextureNormal, "normal"},
	{pipeline.TextureOpacity, "opacity"},
	{pipeline.TextureSpecular, "specular"},
	{pipeline.TextureEmissive, "emissive"},
	{pipeline.TextureHeight, "height"},
	{pipeline.TextureOcclusion, "occlusion"},
	{pipeline.TextureTransmittance, "transmittance"},
	{pipeline.TextureGloss, "gloss"},
}

var alphaFuncs = map[gpu.CompareOp]string{
	gpu.CompareOpNever:          "false",
	gpu.CompareOpLess:           "alpha < alphaRef",
	gpu.CompareOpEqual:          "alpha == alphaRef",
	gpu.CompareOpLessOrEqual:    "alpha <= alphaRef",
	gpu.CompareOpGreater:        "alpha > alphaRef",
	gpu.CompareOpNotEqual:       "alpha != alphaRef",
	gpu.CompareOpGreaterOrEqual: "alpha >= alphaRef",
	gpu.CompareOpAlways:         "true",
}

// newProgram builds the template input. Visibility programs write ids like
// picking ones.
func newProgram(flags pipeline.Flags) program {
	p := flags.ProgramFlags
	prog := program{
		Skinning:     p.Has(pipeline.ProgramSkinning),
		Morphing:     p.Has(pipeline.ProgramMorphing),
		Instancing:   p.Has(pipeline.ProgramInstantiation),
		Billboards:   p.Has(pipeline.ProgramBillboards),
		Lighting:     p.Has(pipeline.ProgramLighting),
		Picking:      p.HasAny(pipeline.ProgramPicking | pipeline.ProgramVisibility),
		ShadowMap:    p.IsShadowMapProgram(),
		AlphaTest:    flags.PassFlags.Has(pipeline.PassFlagAlphaTest),
		AlphaFunc:    alphaFuncs[flags.AlphaFunc],
		Opacity:      flags.TextureFlags.Has(pipeline.TextureOpacity),
		InvertNormal: p.Has(pipeline.ProgramInvertNormals),
	}
	for _, d := range programDefines {
		if p.Has(d.flag) {
			prog.Defines = append(prog.Defines, d.name)
		}
	}
	for _, t := range textureNames {
		if flags.TextureFlags.Has(t.flag) {
			prog.Textures = append(prog.Textures, t.name)
		}
	}
	return prog
}
