package technique

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/renderer/shader"
	"github.com/spaghettifunk/lumen/engine/scene"
	"github.com/spaghettifunk/lumen/engine/systems"
)

func newScene() *scene.Scene {
	s := scene.New("technique", core.NewEventBus())
	cube := func(name string) *scene.Mesh {
		return s.AddMesh(scene.NewMesh(name, &scene.Submesh{
			Bounds:      math.NewExtents3DCube(math.NewVec3Zero(), 0.5),
			VertexCount: 24,
			IndexCount:  36,
		}))
	}
	opaque := s.AddMaterial(scene.NewMaterial("stone", scene.NewOpaquePass()))
	glass := scene.NewOpaquePass()
	glass.Opacity = 0.4
	transparent := s.AddMaterial(scene.NewMaterial("glass", glass))

	s.AddGeometry("block", s.AddNode(scene.NewSceneNode("block", math.NewVec3Zero())), cube("block"), opaque)
	s.AddGeometry("window", s.AddNode(scene.NewSceneNode("window", math.NewVec3(2, 0, 0))), cube("window"), transparent)
	return s
}

func newTechnique(t *testing.T, dev *gpu.Headless) *Technique {
	t.Helper()
	jobs, err := systems.NewJobSystem(2, 8)
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Shutdown() })

	tech, err := New(Config{
		Device:  dev,
		Scene:   newScene(),
		Shaders: shader.NewGLSLGenerator(nil),
		Jobs:    jobs,
		Frames:  2,
		Size:    gpu.Extent{Width: 320, Height: 180},
		Metrics: core.NewMetrics(),
	})
	require.NoError(t, err)
	return tech
}

func frame(t *testing.T, tech *Technique, n int) error {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tech.Update(ctx, n))
	return tech.Render(ctx, n)
}

func TestTechniqueRendersAFrame(t *testing.T) {
	dev := gpu.NewHeadless()
	tech := newTechnique(t, dev)
	t.Cleanup(tech.Cleanup)

	require.NoError(t, frame(t, tech, 0))
	assert.Equal(t, []string{"opaque", "lighting", "transparent", "post", "tonemap", "overlay"}, tech.Graph().Order())
	assert.True(t, tech.Opaque().HasNodes())
	assert.True(t, tech.Transparent().HasNodes())

	assert.Len(t, dev.Submissions(), 6)
	final := tech.Graph().Resource("technique/final")
	require.NotNil(t, final)
	assert.Equal(t, []gpu.Image{final.Image}, dev.Presents())

	opaque := tech.Graph().CommandBuffer("opaque", 0).(*gpu.HeadlessCommandBuffer)
	assert.Equal(t, 1, opaque.Count("execute_bundles"))
	lighting := tech.Graph().CommandBuffer("lighting", 0).(*gpu.HeadlessCommandBuffer)
	assert.Equal(t, 1, lighting.Count("draw"))
	for _, c := range lighting.Commands() {
		if c.Op == "bind_descriptor_sets" {
			require.Len(t, c.Sets, 1)
			// three colour targets and the depth of the opaque stage
			assert.Len(t, dev.DescriptorWrites(c.Sets[0]), 4)
		}
	}
	overlay := tech.Graph().CommandBuffer("overlay", 0).(*gpu.HeadlessCommandBuffer)
	assert.Zero(t, overlay.Count("draw"))
}

func TestRecreateRebuildsPerSizeResources(t *testing.T) {
	dev := gpu.NewHeadless()
	tech := newTechnique(t, dev)
	t.Cleanup(tech.Cleanup)
	require.NoError(t, frame(t, tech, 0))

	before := tech.Graph()
	images, renderPasses := dev.Live("image"), dev.Live("renderpass")
	require.NoError(t, tech.Recreate(640, 360))

	assert.NotSame(t, before, tech.Graph())
	assert.Equal(t, gpu.Extent{Width: 640, Height: 360}, tech.Size())
	assert.InDelta(t, 640.0/360.0, tech.cfg.Scene.Camera.Aspect, 1e-6)
	assert.Equal(t, images, dev.Live("image"))
	assert.Equal(t, renderPasses, dev.Live("renderpass"))

	require.NoError(t, frame(t, tech, 1))
	assert.Len(t, dev.Presents(), 2)
	assert.ErrorIs(t, tech.Recreate(0, 10), ErrInvalidSize)
}

func TestDeviceLossIsRecoveredByRecreate(t *testing.T) {
	dev := gpu.NewHeadless()
	tech := newTechnique(t, dev)
	t.Cleanup(tech.Cleanup)
	require.NoError(t, frame(t, tech, 0))

	dev.LoseDevice()
	err := tech.Render(context.Background(), 1)
	assert.ErrorIs(t, err, core.ErrRecreateRequired)
	assert.Len(t, dev.Presents(), 1)

	dev.Restore()
	require.NoError(t, tech.Recreate(320, 180))
	require.NoError(t, frame(t, tech, 2))
	assert.Len(t, dev.Presents(), 2)
}

func TestCleanupReleasesEverything(t *testing.T) {
	dev := gpu.NewHeadless()
	tech := newTechnique(t, dev)
	require.NoError(t, frame(t, tech, 0))
	require.NoError(t, frame(t, tech, 1))
	assert.NotZero(t, dev.Live("pipeline"))

	tech.Cleanup()
	assert.Zero(t, dev.Live(""))
}

func TestNewValidatesItsConfig(t *testing.T) {
	dev := gpu.NewHeadless()
	shaders := shader.NewGLSLGenerator(nil)
	size := gpu.Extent{Width: 8, Height: 8}
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"device", Config{Scene: newScene(), Shaders: shaders, Size: size}, ErrNilDevice},
		{"scene", Config{Device: dev, Shaders: shaders, Size: size}, ErrNilScene},
		{"shaders", Config{Device: dev, Scene: newScene(), Size: size}, ErrNilShaders},
		{"size", Config{Device: dev, Scene: newScene(), Shaders: shaders}, ErrInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Zero(t, dev.Live(""))
}

func TestShadowAndPickingStages(t *testing.T) {
	dev := gpu.NewHeadless()
	s := newScene()
	s.Node("block").ShadowCaster = true
	tech, err := New(Config{
		Device:  dev,
		Scene:   s,
		Shaders: shader.NewGLSLGenerator(nil),
		Frames:  1,
		Size:    gpu.Extent{Width: 320, Height: 180},
		Shadows: true,
		Picking: true,
	})
	require.NoError(t, err)
	t.Cleanup(tech.Cleanup)

	require.NoError(t, frame(t, tech, 0))
	assert.Equal(t,
		[]string{"shadow", "opaque", "lighting", "transparent", "post", "tonemap", "overlay", "picking"},
		tech.Graph().Order())
	require.NotNil(t, tech.Shadow())
	require.NotNil(t, tech.Picking())
	assert.Len(t, tech.Passes(), 4)
	assert.Equal(t, gpu.Extent{Width: 2048, Height: 2048}, tech.Shadow().Size())

	assert.True(t, tech.Shadow().HasNodes())
	assert.Empty(t, tech.Shadow().Queue().ShadowMaps())
	assert.Len(t, tech.Opaque().Queue().ShadowMaps(), 1)
	assert.Empty(t, tech.Picking().Queue().ShadowMaps())
	assert.True(t, tech.Picking().HasNodes())
}

// layoutTracker replays recorded commands and checks every image is used in
// the layout the previous command left it in.
type layoutTracker struct {
	t       *testing.T
	dev     *gpu.Headless
	layouts map[gpu.Image]gpu.ImageLayout
	open    []gpu.Image
	final   []gpu.ImageLayout
}

func (lt *layoutTracker) replay(stage string, cb *gpu.HeadlessCommandBuffer) {
	for _, c := range cb.Commands() {
		switch c.Op {
		case "barrier":
			for _, b := range c.Barriers {
				if b.Image == 0 {
					continue
				}
				if b.OldLayout != gpu.ImageLayoutUndefined {
					assert.Equal(lt.t, lt.layouts[b.Image], b.OldLayout, "%s: barrier on image %d", stage, b.Image)
				}
				lt.layouts[b.Image] = b.NewLayout
			}
		case "begin_render_pass":
			desc, ok := lt.dev.RenderPassDesc(c.Pass)
			require.True(lt.t, ok)
			images := lt.dev.FramebufferImages(c.Target)
			lt.open, lt.final = images, nil
			for i, a := range desc.Colour {
				assert.Equal(lt.t, gpu.ImageLayoutColourAttachment, lt.layouts[images[i]], "%s: colour %d", stage, i)
				lt.final = append(lt.final, a.FinalLayout)
			}
			if desc.Depth != nil {
				assert.Equal(lt.t, gpu.ImageLayoutDepthAttachment, lt.layouts[images[len(desc.Colour)]], "%s: depth", stage)
				lt.final = append(lt.final, desc.Depth.FinalLayout)
			}
		case "end_render_pass":
			for i, img := range lt.open {
				lt.layouts[img] = lt.final[i]
			}
			lt.open, lt.final = nil, nil
		case "bind_descriptor_sets":
			lt.sampled(stage, c.Sets)
		case "execute_bundles":
			for _, b := range c.Bundles {
				for _, bc := range b.(*gpu.HeadlessCommandBuffer).Commands() {
					if bc.Op == "bind_descriptor_sets" {
						lt.sampled(stage, bc.Sets)
					}
				}
			}
		}
	}
}

func (lt *layoutTracker) sampled(stage string, sets []gpu.DescriptorSet) {
	for _, set := range sets {
		for binding, w := range lt.dev.DescriptorWrites(set) {
			for _, img := range w.Images {
				assert.Equal(lt.t, gpu.ImageLayoutShaderRead, lt.layouts[img], "%s: binding %d samples image %d", stage, binding, img)
			}
		}
	}
}

func TestImageLayoutsAgreeAcrossFrames(t *testing.T) {
	dev := gpu.NewHeadless()
	s := newScene()
	s.EditMaterial(s.Materials()[0], func(m *scene.Material) { m.Passes[0].Textures = pipeline.TextureDiffuse })
	tech, err := New(Config{
		Device:  dev,
		Scene:   s,
		Shaders: shader.NewGLSLGenerator(nil),
		Frames:  2,
		Size:    gpu.Extent{Width: 320, Height: 180},
		Shadows: true,
	})
	require.NoError(t, err)
	t.Cleanup(tech.Cleanup)

	lt := &layoutTracker{t: t, dev: dev, layouts: make(map[gpu.Image]gpu.ImageLayout)}
	for n := 0; n < 3; n++ {
		require.NoError(t, frame(t, tech, n))
		for _, stage := range tech.Graph().Order() {
			lt.replay(stage, tech.Graph().CommandBuffer(stage, n).(*gpu.HeadlessCommandBuffer))
		}
	}
	final := tech.Graph().Resource("technique/final")
	require.NotNil(t, final)
	assert.Equal(t, gpu.ImageLayoutPresent, lt.layouts[final.Image])
}
