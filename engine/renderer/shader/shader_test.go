package shader

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
)

func TestRepresentable(t *testing.T) {
	cases := []struct {
		name    string
		program pipeline.ProgramFlags
		ok      bool
	}{
		{"static", 0, true},
		{"skinned instanced", pipeline.ProgramSkinning | pipeline.ProgramInstantiation, true},
		{"billboards", pipeline.ProgramBillboards | pipeline.ProgramSpherical, true},
		{"morphing billboards", pipeline.ProgramMorphing | pipeline.ProgramBillboards, false},
		{"morphing instanced", pipeline.ProgramMorphing | pipeline.ProgramInstantiation, false},
		{"skinned billboards", pipeline.ProgramSkinning | pipeline.ProgramBillboards, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Representable(pipeline.Flags{ProgramFlags: tc.program})
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNotRepresentable)
			}
		})
	}
}

func TestGeneratorDefines(t *testing.T) {
	g := NewGLSLGenerator(nil)
	flags := pipeline.Flags{
		ProgramFlags: pipeline.ProgramSkinning | pipeline.ProgramLighting,
		TextureFlags: pipeline.TextureDiffuse | pipeline.TextureOpacity,
		PassFlags:    pipeline.PassFlagAlphaTest,
		AlphaFunc:    gpu.CompareOpGreater,
	}

	vs, err := g.VertexSource(flags)
	require.NoError(t, err)
	assert.Equal(t, gpu.ShaderStageVertex, vs.Stage)
	assert.True(t, strings.HasPrefix(vs.Source, "#version 450\n"))
	assert.Contains(t, vs.Source, "#define SKINNING\n")
	assert.Contains(t, vs.Source, "#define LIGHTING\n")
	assert.Contains(t, vs.Source, "skinning.bones[")
	assert.NotContains(t, vs.Source, "MORPHING")

	ps, err := g.PixelSource(flags)
	require.NoError(t, err)
	assert.Contains(t, ps.Source, "uniform sampler2D map_diffuse;")
	assert.Contains(t, ps.Source, "uniform sampler2D map_opacity;")
	assert.Contains(t, ps.Source, "if (!(alpha > alphaRef))")
	assert.Contains(t, ps.Source, "out vec4 pxlColour")

	_, ok, err := g.GeometrySource(flags)
	require.NoError(t, err)
	assert.False(t, ok)

	// same flags, same text
	again, err := g.PixelSource(flags)
	require.NoError(t, err)
	assert.Equal(t, ps, again)
}

func TestGeneratorOutputsPerProgram(t *testing.T) {
	g := NewGLSLGenerator(nil)

	picking, err := g.PixelSource(pipeline.Flags{ProgramFlags: pipeline.ProgramPicking})
	require.NoError(t, err)
	assert.Contains(t, picking.Source, "out uvec4 pxlPicking")

	shadow, err := g.PixelSource(pipeline.Flags{ProgramFlags: pipeline.ProgramShadowMapSpot})
	require.NoError(t, err)
	assert.Contains(t, shadow.Source, "out vec2 pxlDepth")

	billboards := pipeline.Flags{ProgramFlags: pipeline.ProgramBillboards, Topology: gpu.TopologyPointList}
	gs, ok, err := g.GeometrySource(billboards)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, gpu.ShaderStageGeometry, gs.Stage)
	assert.Contains(t, gs.Source, "EmitVertex()")
}

func TestGeneratorRejects(t *testing.T) {
	g := NewGLSLGenerator(nil)
	bad := pipeline.Flags{ProgramFlags: pipeline.ProgramMorphing | pipeline.ProgramInstantiation}
	_, err := g.VertexSource(bad)
	assert.ErrorIs(t, err, ErrNotRepresentable)
	_, err = g.PixelSource(bad)
	assert.ErrorIs(t, err, ErrNotRepresentable)
}

func TestCompilerCachesBinaries(t *testing.T) {
	c, err := NewCompiler(t.TempDir())
	require.NoError(t, err)
	calls := 0
	c.run = func(cmd string, args ...string) error {
		calls++
		assert.Equal(t, "glslc", cmd)
		out := args[len(args)-1]
		return os.WriteFile(out, []byte("spirv:"+args[1]), 0o644)
	}

	g := NewGLSLGenerator(c)
	flags := pipeline.Flags{ProgramFlags: pipeline.ProgramLighting}
	vs, err := g.VertexSource(flags)
	require.NoError(t, err)
	assert.NotEmpty(t, vs.SPIRV)
	assert.Equal(t, 1, calls)

	again, err := g.VertexSource(flags)
	require.NoError(t, err)
	assert.Equal(t, vs.SPIRV, again.SPIRV)
	assert.Equal(t, 1, calls)

	_, err = g.PixelSource(flags)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCompilerFailure(t *testing.T) {
	c, err := NewCompiler(t.TempDir())
	require.NoError(t, err)
	boom := errors.New("glslc: syntax error")
	calls := 0
	c.run = func(string, ...string) error {
		calls++
		return boom
	}
	m := gpu.ShaderModule{Stage: gpu.ShaderStageFragment, Name: "broken", Source: "void main() {"}
	_, err = c.Compile(m)
	assert.ErrorIs(t, err, boom)

	// the failed source is not treated as cached
	_, err = c.Compile(m)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestScreenSource(t *testing.T) {
	g := NewGLSLGenerator(nil)
	vs, ps, err := g.ScreenSource(ScreenLighting, 4)
	require.NoError(t, err)
	assert.Equal(t, gpu.ShaderStageVertex, vs.Stage)
	assert.Contains(t, vs.Source, "gl_VertexIndex")
	assert.Contains(t, ps.Source, "#define LIGHTING")
	assert.Contains(t, ps.Source, "uniform sampler2D input3;")
	assert.NotContains(t, ps.Source, "input4")

	_, tonemap, err := g.ScreenSource(ScreenTonemap, 1)
	require.NoError(t, err)
	assert.Contains(t, tonemap.Source, "hdr / (hdr + 1.0)")
	assert.NotEqual(t, ps.Name, tonemap.Name)

	_, _, err = g.ScreenSource(ScreenCopy, 0)
	assert.ErrorIs(t, err, ErrNotRepresentable)
}
