package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type stubShaders struct {
	calls int
	fail  error
}

func (s *stubShaders) VertexSource(flags Flags) (gpu.ShaderModule, error) {
	s.calls++
	if s.fail != nil {
		return gpu.ShaderModule{}, s.fail
	}
	return gpu.ShaderModule{Stage: gpu.ShaderStageVertex, Source: "vs"}, nil
}

func (s *stubShaders) PixelSource(flags Flags) (gpu.ShaderModule, error) {
	return gpu.ShaderModule{Stage: gpu.ShaderStageFragment, Source: "fs"}, nil
}

func (s *stubShaders) GeometrySource(flags Flags) (gpu.ShaderModule, bool, error) {
	if !flags.ProgramFlags.Has(ProgramBillboards) {
		return gpu.ShaderModule{}, false, nil
	}
	return gpu.ShaderModule{Stage: gpu.ShaderStageGeometry, Source: "gs"}, true, nil
}

func newTestCache(t *testing.T) (*Cache, *gpu.Headless, *stubShaders) {
	t.Helper()
	dev := gpu.NewHeadless()
	shaders := &stubShaders{}
	c, err := NewCache(Config{
		Name:    "test",
		Device:  dev,
		Shaders: shaders,
		Bindings: func(f Flags) [][]gpu.DescriptorBinding {
			return [][]gpu.DescriptorBinding{{{Binding: 0, Type: gpu.DescriptorUniformBuffer, Count: 1, Vertex: true}}}
		},
	})
	require.NoError(t, err)
	return c, dev, shaders
}

func TestCacheReturnsSamePipelineForEqualFlags(t *testing.T) {
	c, dev, shaders := newTestCache(t)
	flags := Flags{TextureFlags: TextureDiffuse, TextureCount: 1}

	p1, err := c.Get(flags, gpu.CullModeBack)
	require.NoError(t, err)
	p2, err := c.Get(flags, gpu.CullModeBack)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, shaders.calls, "shaders are generated once per key")
	assert.Equal(t, 1, dev.Live("pipeline"))

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestCacheDistinctForAnyDifferingField(t *testing.T) {
	c, _, _ := newTestCache(t)
	base := Flags{}
	variants := []Flags{
		{ColourBlendMode: BlendModeAdditive},
		{AlphaBlendMode: BlendModeInterpolative},
		{PassFlags: PassFlagAlphaTest},
		{TextureFlags: TextureNormal},
		{TextureCount: 1},
		{ProgramFlags: ProgramSkinning},
		{SceneFlags: SceneFogLinear},
		{Topology: gpu.TopologyLineList},
		{AlphaFunc: gpu.CompareOpGreater},
	}
	basePipeline, err := c.Get(base, gpu.CullModeBack)
	require.NoError(t, err)

	seen := map[*Pipeline]bool{basePipeline: true}
	for _, v := range variants {
		p, err := c.Get(v, gpu.CullModeBack)
		require.NoError(t, err)
		assert.False(t, seen[p], "flags %s reused a pipeline", v)
		seen[p] = true
	}
	assert.Equal(t, len(variants)+1, c.Len(gpu.CullModeBack))
}

func TestCacheFrontAndBackAreSeparate(t *testing.T) {
	c, _, _ := newTestCache(t)
	flags := Flags{PassFlags: PassFlagTwoSided}
	front, err := c.Get(flags, gpu.CullModeFront)
	require.NoError(t, err)
	back, err := c.Get(flags, gpu.CullModeBack)
	require.NoError(t, err)

	assert.NotSame(t, front, back)
	assert.Equal(t, gpu.CullModeFront, front.Rasterizer.Cull)
	assert.Equal(t, gpu.CullModeBack, back.Rasterizer.Cull)
	assert.Equal(t, 1, c.Len(gpu.CullModeFront))
	assert.Equal(t, 1, c.Len(gpu.CullModeBack))

	_, err = c.Get(flags, gpu.CullModeNone)
	assert.ErrorIs(t, err, ErrInvalidCullMode)
}

func TestCacheGeometryStage(t *testing.T) {
	c, dev, _ := newTestCache(t)
	p, err := c.Get(Flags{ProgramFlags: ProgramBillboards}, gpu.CullModeBack)
	require.NoError(t, err)
	require.Len(t, p.Shaders, 3)
	assert.Equal(t, gpu.ShaderStageGeometry, p.Shaders[1].Stage)

	desc, ok := dev.PipelineDesc(p.Device)
	require.True(t, ok)
	assert.Len(t, desc.Shaders, 3)
}

func TestCacheShaderFailureCreatesNothing(t *testing.T) {
	c, dev, shaders := newTestCache(t)
	shaders.fail = errors.New("not representable")

	_, err := c.Get(Flags{}, gpu.CullModeBack)
	require.Error(t, err)
	assert.Equal(t, 0, dev.Live(""))
	assert.Equal(t, 0, c.Len(gpu.CullModeBack))
}

func TestCacheCleanupInvalidatesHandles(t *testing.T) {
	c, dev, _ := newTestCache(t)
	p, err := c.Get(Flags{}, gpu.CullModeBack)
	require.NoError(t, err)
	h := p.Handle()
	require.True(t, h.IsValid())
	assert.Same(t, p, c.Resolve(h))

	c.Cleanup()
	assert.Nil(t, c.Resolve(h))
	assert.Equal(t, 0, dev.Live("pipeline"))
	assert.Equal(t, 0, dev.Live("descriptor_set_layout"))

	_, err = c.Get(Flags{}, gpu.CullModeBack)
	assert.ErrorIs(t, err, ErrCacheCleanedUp)

	c.Reset(gpu.RenderPass(7))
	p2, err := c.Get(Flags{}, gpu.CullModeBack)
	require.NoError(t, err)
	assert.Nil(t, c.Resolve(h), "old handles stay stale after a reset")
	assert.Same(t, p2, c.Resolve(p2.Handle()))
}

func TestCacheFlagsSorted(t *testing.T) {
	c, _, _ := newTestCache(t)
	for _, f := range []Flags{{TextureCount: 2}, {ColourBlendMode: BlendModeAdditive}, {}} {
		_, err := c.Get(f, gpu.CullModeBack)
		require.NoError(t, err)
	}
	keys := c.Flags(gpu.CullModeBack)
	require.Len(t, keys, 3)
	assert.Equal(t, Flags{}, keys[0])
	assert.Equal(t, Flags{ColourBlendMode: BlendModeAdditive}, keys[2])
}
