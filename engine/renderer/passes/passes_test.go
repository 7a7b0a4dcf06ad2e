package passes

import (
	"context"
	"encoding/binary"
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/culling"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/node"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/renderer/shader"
	"github.com/spaghettifunk/lumen/engine/scene"
)

type world struct {
	dev     *gpu.Headless
	scene   *scene.Scene
	culler  *culling.Culler
	m1, m2  *scene.Material
	static  *scene.Geometry
	skinned *scene.Geometry
}

func cube(name string, skeleton *scene.Skeleton) *scene.Mesh {
	return scene.NewMesh(name, &scene.Submesh{
		Bounds:      math.NewExtents3DCube(math.NewVec3Zero(), 0.5),
		Skeleton:    skeleton,
		VertexCount: 24,
		IndexCount:  36,
	})
}

// newWorld builds a static mesh with an untextured opaque material at the
// origin and a skinned mesh with a diffuse textured one at x = 5.
func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{dev: gpu.NewHeadless(), scene: scene.New("passes", core.NewEventBus())}
	w.m1 = w.scene.AddMaterial(scene.NewMaterial("m1", scene.NewOpaquePass()))
	textured := scene.NewOpaquePass()
	textured.Textures = pipeline.TextureDiffuse
	w.m2 = w.scene.AddMaterial(scene.NewMaterial("m2", textured))

	w.static = w.scene.AddGeometry("static", w.scene.AddNode(scene.NewSceneNode("static", math.NewVec3Zero())),
		w.scene.AddMesh(cube("static", nil)), w.m1)
	w.skinned = w.scene.AddGeometry("skinned", w.scene.AddNode(scene.NewSceneNode("skinned", math.NewVec3(5, 0, 0))),
		w.scene.AddMesh(cube("skinned", &scene.Skeleton{Name: "rig", Bones: 4})), w.m2)
	w.culler = culling.New(w.scene, 0)
	return w
}

func (w *world) pass(t *testing.T, variant Variant, filters Filters) *NodesPass {
	t.Helper()
	np, err := New(Config{
		Variant:    variant,
		Device:     w.dev,
		Scene:      w.scene,
		Shaders:    shader.NewGLSLGenerator(nil),
		Culler:     w.culler,
		OwnsCuller: true,
		Frames:     2,
		Filters:    filters,
		Metrics:    core.NewMetrics(),
	})
	require.NoError(t, err)
	size := gpu.Extent{Width: 320, Height: 180}
	require.NoError(t, np.Initialise(size, w.targets(t, np)))
	t.Cleanup(np.Cleanup)
	return np
}

func (w *world) targets(t *testing.T, np *NodesPass) []gpu.Image {
	t.Helper()
	var out []gpu.Image
	for _, desc := range np.Targets() {
		img, err := w.dev.CreateImage(desc)
		require.NoError(t, err)
		out = append(out, img)
	}
	return out
}

func (w *world) update(t *testing.T, np *NodesPass) {
	t.Helper()
	require.NoError(t, np.Update(&CpuUpdater{
		Context:  context.Background(),
		Camera:   w.scene.Camera,
		Viewport: &gpu.Viewport{Width: 320, Height: 180, MaxDepth: 1},
	}))
}

func TestOpaqueScenarioBothVisible(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)

	assert.Equal(t, 2, np.Cache().Len(gpu.CullModeBack))
	assert.Equal(t, 0, np.Cache().Len(gpu.CullModeFront), "opaque single sided passes need no front pipeline")
	flags := np.Cache().Flags(gpu.CullModeBack)
	require.Len(t, flags, 2)
	assert.NotEqual(t, flags[0], flags[1])

	all, culled := np.Queue().All(), np.Queue().Culled()
	for _, kind := range []node.Kind{node.KindStatic, node.KindSkinned} {
		nodes := all.Nodes(gpu.CullModeBack, kind)
		require.Len(t, nodes, 1, kind.String())
		assert.True(t, culled.Contains(nodes[0]), kind.String())
	}
	assert.Equal(t, 2, culled.Len())
	assert.True(t, np.HasNodes())
}

func TestOpaqueScenarioCameraMoved(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)

	// only a couple of units wide at the origin
	w.scene.Camera.Position = math.NewVec3(0, 0, 3)
	w.update(t, np)

	all, culled := np.Queue().All(), np.Queue().Culled()
	assert.Equal(t, 2, all.Len())
	require.Equal(t, 1, culled.Len())
	nodes := culled.Nodes(gpu.CullModeBack, node.KindStatic)
	require.Len(t, nodes, 1)
	assert.Equal(t, w.static, nodes[0].Renderable.Geometry)
}

func TestOpaqueScenarioMaterialBecomesBlended(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)
	require.Equal(t, 2, np.Queue().All().Len())

	w.scene.EditMaterial(w.m1, func(m *scene.Material) { m.Passes[0].AlphaBlendMode = pipeline.BlendModeInterpolative })
	assert.True(t, np.IsDirty())
	w.update(t, np)

	all, culled := np.Queue().All(), np.Queue().Culled()
	assert.Empty(t, all.Nodes(gpu.CullModeBack, node.KindStatic))
	assert.Empty(t, culled.Nodes(gpu.CullModeBack, node.KindStatic))
	assert.Len(t, all.Nodes(gpu.CullModeBack, node.KindSkinned), 1)
}

func TestTransparentPassPicksUpBlendedMaterial(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Transparent{}, 0)
	w.update(t, np)
	assert.False(t, np.HasNodes())

	w.scene.EditMaterial(w.m1, func(m *scene.Material) { m.Passes[0].Opacity = 0.5 })
	w.update(t, np)
	assert.Equal(t, 2, np.Queue().Culled().Len())
	// blended passes draw back faces too
	assert.Len(t, np.Queue().All().Nodes(gpu.CullModeFront, node.KindStatic), 1)
	assert.Len(t, np.Queue().All().Nodes(gpu.CullModeBack, node.KindStatic), 1)
	assert.True(t, np.SortsByDistance())
}

func TestAdjustFlagsIsDeterministic(t *testing.T) {
	w := newWorld(t)
	in := pipeline.Flags{
		PassFlags:    pipeline.PassFlagAlphaTest | pipeline.PassFlagPBR,
		TextureFlags: pipeline.TextureDiffuse | pipeline.TextureOpacity,
		ProgramFlags: pipeline.ProgramLighting | pipeline.ProgramSkinning,
		SceneFlags:   pipeline.SceneFogLinear | pipeline.SceneShadowFilterPCF,
		AlphaFunc:    gpu.CompareOpGreater,
	}
	cases := []struct {
		variant Variant
		check   func(t *testing.T, f pipeline.Flags)
	}{
		{Opaque{}, func(t *testing.T, f pipeline.Flags) {
			assert.False(t, f.ProgramFlags.Has(pipeline.ProgramLighting))
			assert.Equal(t, uint32(2), f.TextureCount)
		}},
		{Transparent{}, func(t *testing.T, f pipeline.Flags) {
			assert.True(t, f.ProgramFlags.Has(pipeline.ProgramLighting))
		}},
		{Shadow{Light: LightSpot}, func(t *testing.T, f pipeline.Flags) {
			assert.True(t, f.ProgramFlags.Has(pipeline.ProgramShadowMapSpot))
			assert.False(t, f.ProgramFlags.Has(pipeline.ProgramLighting))
			assert.Equal(t, pipeline.TextureOpacity, f.TextureFlags)
			assert.Equal(t, pipeline.SceneShadowFilterPCF, f.SceneFlags)
		}},
		{Picking{}, func(t *testing.T, f pipeline.Flags) {
			assert.True(t, f.ProgramFlags.Has(pipeline.ProgramPicking))
			assert.Zero(t, f.SceneFlags)
		}},
		{Visibility{}, func(t *testing.T, f pipeline.Flags) {
			assert.True(t, f.ProgramFlags.Has(pipeline.ProgramVisibility))
			assert.Equal(t, uint32(1), f.TextureCount)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.variant.Name(), func(t *testing.T) {
			np := w.pass(t, tc.variant, 0)
			a, err := np.AdjustFlags(in)
			require.NoError(t, err)
			b, err := np.AdjustFlags(in)
			require.NoError(t, err)
			assert.Equal(t, a, b)
			assert.Equal(t, gpu.CompareOpGreater, a.AlphaFunc)
			tc.check(t, a)
		})
	}
}

func TestAdjustFlagsRejectsUnsupportedCombinations(t *testing.T) {
	w := newWorld(t)
	cases := []struct {
		name    string
		variant Variant
		flags   pipeline.Flags
	}{
		{"morphing billboards", Transparent{}, pipeline.Flags{ProgramFlags: pipeline.ProgramMorphing | pipeline.ProgramBillboards}},
		{"instanced morphing", Opaque{}, pipeline.Flags{ProgramFlags: pipeline.ProgramMorphing | pipeline.ProgramInstantiation}},
		{"opaque blending", Opaque{}, pipeline.Flags{PassFlags: pipeline.PassFlagAlphaBlending}},
		{"visibility billboards", Visibility{}, pipeline.Flags{ProgramFlags: pipeline.ProgramBillboards}},
		{"picking shadows", Picking{}, pipeline.Flags{ProgramFlags: pipeline.ProgramShadowMapPoint}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			np := w.pass(t, tc.variant, 0)
			_, err := np.AdjustFlags(tc.flags)
			assert.ErrorIs(t, err, core.ErrUnsupportedFlags)
		})
	}
}

func TestAlphaTestFilterDisablesTheTest(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, FilterAlphaTest)
	f, err := np.AdjustFlags(pipeline.Flags{PassFlags: pipeline.PassFlagAlphaTest, AlphaFunc: gpu.CompareOpLess})
	require.NoError(t, err)
	assert.Equal(t, gpu.CompareOpAlways, f.AlphaFunc)
	assert.False(t, f.PassFlags.Has(pipeline.PassFlagAlphaTest))

	tested := scene.NewOpaquePass()
	tested.AlphaFunc = gpu.CompareOpGreater
	assert.False(t, np.IsValidPass(tested))
	assert.True(t, np.IsValidPass(scene.NewOpaquePass()))
}

func TestVariantFilters(t *testing.T) {
	opaque, blended := scene.NewOpaquePass(), scene.NewOpaquePass()
	blended.Opacity = 0.3

	caster := scene.NewSceneNode("caster", math.NewVec3Zero())
	receiver := scene.NewSceneNode("receiver", math.NewVec3Zero())
	receiver.ShadowCaster = false
	hidden := scene.NewSceneNode("hidden", math.NewVec3Zero())
	hidden.Visible = false

	billboards := scene.Renderable{Billboards: &scene.BillboardList{Name: "b", Node: caster}}

	cases := []struct {
		variant                     Variant
		opaque, blended             bool
		caster, receiver, invisible bool
		billboards                  bool
	}{
		{Opaque{}, true, false, true, true, false, true},
		{Transparent{}, false, true, true, true, false, true},
		{Shadow{Light: LightDirectional}, true, true, true, false, false, true},
		{Picking{}, true, true, true, true, false, true},
		{Visibility{}, true, false, true, true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.variant.Name(), func(t *testing.T) {
			v := tc.variant
			assert.Equal(t, tc.opaque, v.IsValidPass(opaque))
			assert.Equal(t, tc.blended, v.IsValidPass(blended))
			assert.Equal(t, tc.caster, v.IsValidNode(caster))
			assert.Equal(t, tc.receiver, v.IsValidNode(receiver))
			assert.Equal(t, tc.invisible, v.IsValidNode(hidden))
			assert.Equal(t, tc.billboards, v.IsValidRenderable(billboards))
		})
	}
}

func TestStaticFilters(t *testing.T) {
	w := newWorld(t)
	static := scene.NewSceneNode("static", math.NewVec3Zero())
	static.Static = true
	moving := scene.NewSceneNode("moving", math.NewVec3Zero())

	np := w.pass(t, Opaque{}, FilterStatic)
	assert.False(t, np.IsValidNode(static))
	assert.True(t, np.IsValidNode(moving))

	np = w.pass(t, Opaque{}, FilterNonStatic)
	assert.True(t, np.IsValidNode(static))
	assert.False(t, np.IsValidNode(moving))
}

func TestShadowPassSkipsNonCasters(t *testing.T) {
	w := newWorld(t)
	w.skinned.Node.ShadowCaster = false
	np := w.pass(t, Shadow{Light: LightDirectional}, 0)
	w.update(t, np)

	require.Equal(t, 1, np.Queue().All().Len())
	var nodes []*node.Node
	np.Queue().All().Each(func(n *node.Node) { nodes = append(nodes, n) })
	assert.Equal(t, w.static, nodes[0].Renderable.Geometry)
	assert.True(t, nodes[0].Flags.ProgramFlags.Has(pipeline.ProgramShadowMapDirectional))
}

func TestStateMachine(t *testing.T) {
	w := newWorld(t)
	np, err := New(Config{Variant: Opaque{}, Device: w.dev, Scene: w.scene, Shaders: shader.NewGLSLGenerator(nil), Culler: w.culler, OwnsCuller: true})
	require.NoError(t, err)
	assert.Equal(t, StateNotInitialised, np.State())
	assert.ErrorIs(t, np.Update(&CpuUpdater{}), core.ErrPassNotInitialised)

	size := gpu.Extent{Width: 64, Height: 64}
	targets := w.targets(t, np)
	require.NoError(t, np.Initialise(size, targets))
	assert.Equal(t, StateInitialised, np.State())
	assert.ErrorIs(t, np.Initialise(size, targets), ErrAlreadyInitialised)
	assert.True(t, np.IsDirty())

	w.update(t, np)
	assert.Equal(t, StateClean, np.State())

	w.scene.MoveNode(w.static.Node, math.NewVec3(0, 1, 0))
	w.scene.SetMaterial(w.static, 0, w.m2)
	assert.Equal(t, StateDirty, np.State())
	assert.True(t, np.IsDirty())
	w.update(t, np)
	assert.Equal(t, StateClean, np.State())

	np.Cleanup()
	assert.Equal(t, StateCleanedUp, np.State())
	assert.ErrorIs(t, np.Update(&CpuUpdater{}), core.ErrPassCleanedUp)
	assert.ErrorIs(t, np.Initialise(size, targets), core.ErrPassCleanedUp)
	for _, kind := range []string{"pipeline", "descriptor_set", "descriptor_set_layout", "renderpass", "framebuffer", "bundle"} {
		assert.Zero(t, w.dev.Live(kind), kind)
	}
	np.Cleanup()
}

func TestInitialiseChecksTargets(t *testing.T) {
	w := newWorld(t)
	np, err := New(Config{Variant: Opaque{}, Device: w.dev, Scene: w.scene, Shaders: shader.NewGLSLGenerator(nil)})
	require.NoError(t, err)
	assert.ErrorIs(t, np.Initialise(gpu.Extent{Width: 8, Height: 8}, nil), ErrTargetMismatch)
	assert.Equal(t, StateNotInitialised, np.State())
	assert.Zero(t, w.dev.Live("renderpass"))
}

func TestRecordExecutesTheFrameBundle(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)
	require.True(t, np.IsDirty(), "not recorded yet")

	cb, err := w.dev.CreateCommandBuffer("frame")
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, np.Record(cb, 1))
	require.NoError(t, cb.End())
	require.NoError(t, w.dev.Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}}))

	primary := cb.(*gpu.HeadlessCommandBuffer)
	assert.Equal(t, 1, primary.Count("begin_render_pass"))
	assert.Equal(t, 1, primary.Count("execute_bundles"))
	assert.False(t, np.IsDirty())

	bundle, err := np.CommandBuffer(1)
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.(*gpu.HeadlessCommandBuffer).Count("draw_indexed"))
}

func TestRecordEmptyPassStillClears(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Transparent{}, 0)
	w.update(t, np)

	cb, err := w.dev.CreateCommandBuffer("frame")
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, np.Record(cb, 0))
	require.NoError(t, cb.End())
	primary := cb.(*gpu.HeadlessCommandBuffer)
	assert.Equal(t, 1, primary.Count("begin_render_pass"))
	assert.Zero(t, primary.Count("execute_bundles"))
}

func floatAt(data []byte, offset uint64) float32 {
	return stdmath.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
}

func onlyNode(t *testing.T, np *NodesPass, kind node.Kind) *node.Node {
	t.Helper()
	nodes := np.Queue().All().Nodes(gpu.CullModeBack, kind)
	require.Len(t, nodes, 1, kind.String())
	return nodes[0]
}

func TestUpdateGpuWritesNodeSets(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 0}))

	n := onlyNode(t, np, node.KindStatic)
	sets := n.Sets(0)
	require.Len(t, sets, 1, "untextured nodes have no texture set")
	writes := w.dev.DescriptorWrites(sets[0])
	for _, b := range []uint32{BindingMatrices, BindingModel, BindingMaterial} {
		assert.Contains(t, writes, b)
	}

	matrices := writes[BindingMatrices]
	camera := w.dev.BufferContents(matrices.Buffer)
	assert.Equal(t, float32(10), floatAt(camera, matrices.Offset+2*mat4Size+8), "eye z")

	model := writes[BindingModel]
	assert.Equal(t, n.Uniforms[0].Buffer, model.Buffer)
	data := w.dev.BufferContents(model.Buffer)
	assert.Equal(t, float32(1), floatAt(data, model.Offset), "identity world")
	assert.Equal(t, w.static.Node.ID, binary.LittleEndian.Uint32(data[model.Offset+mat4Size:]))

	// the other frame slot reads its own buffers
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 1}))
	other := w.dev.DescriptorWrites(n.Sets(1)[0])
	assert.NotEqual(t, matrices.Buffer, other[BindingMatrices].Buffer)
	assert.NotEqual(t, model.Buffer, other[BindingModel].Buffer)
}

func TestUpdateGpuRewritesUniformsOnly(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 0}))
	n := onlyNode(t, np, node.KindStatic)
	written, buffer := n.Written[0], n.Uniforms[0].Buffer

	w.scene.Camera.Position = math.NewVec3(0, 0, 8)
	w.update(t, np)
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 0}))

	assert.Equal(t, written, n.Written[0], "sets are kept while the pass inputs are unchanged")
	assert.Equal(t, buffer, n.Uniforms[0].Buffer)
	matrices := w.dev.DescriptorWrites(n.Sets(0)[0])[BindingMatrices]
	assert.Equal(t, float32(8), floatAt(w.dev.BufferContents(matrices.Buffer), matrices.Offset+2*mat4Size+8))
}

func TestTexturedNodeSamplesFallbackUntilUploaded(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 0}))

	n := onlyNode(t, np, node.KindSkinned)
	sets := n.Sets(0)
	require.Len(t, sets, 2)
	diffuse := w.dev.DescriptorWrites(sets[1])[0]
	require.Len(t, diffuse.Images, 1)
	fallback := diffuse.Images[0]

	cb, err := w.dev.CreateCommandBuffer("frame")
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, np.Record(cb, 0))
	require.NoError(t, cb.End())
	commands := cb.(*gpu.HeadlessCommandBuffer).Commands()
	require.Equal(t, "barrier", commands[0].Op)
	assert.Equal(t, fallback, commands[0].Barriers[0].Image)
	assert.Equal(t, gpu.ImageLayoutUndefined, commands[0].Barriers[0].OldLayout)
	require.Equal(t, "begin_render_pass", commands[1].Op)
	desc, ok := w.dev.RenderPassDesc(commands[1].Pass)
	require.True(t, ok)
	assert.Equal(t, [4]float32{1, 1, 1, 1}, desc.ClearColour)
	assert.Equal(t, gpu.ImageLayoutShaderRead, desc.Colour[0].FinalLayout)
	assert.Equal(t, []gpu.Image{fallback}, w.dev.FramebufferImages(commands[1].Target))

	img, err := w.dev.CreateImage(gpu.ImageDesc{Name: "albedo", Format: gpu.FormatRGBA8, Extent: gpu.Extent{Width: 4, Height: 4}, Usage: gpu.ImageUsageSampled})
	require.NoError(t, err)
	w.scene.EditMaterial(w.m2, func(m *scene.Material) {
		m.Passes[0].Images = map[pipeline.TextureFlags]gpu.Image{pipeline.TextureDiffuse: img}
	})
	w.update(t, np)
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 0}))
	n = onlyNode(t, np, node.KindSkinned)
	assert.Equal(t, []gpu.Image{img}, w.dev.DescriptorWrites(n.Sets(0)[1])[0].Images)
}

func TestCleanupReleasesFrameData(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 0}))
	require.NoError(t, np.UpdateGpu(&GpuUpdater{Frame: 1}))
	require.NotZero(t, w.dev.Live("buffer"))

	np.Cleanup()
	assert.Zero(t, w.dev.Live("buffer"))
	assert.Zero(t, w.dev.Live("descriptor_set"))
	assert.Zero(t, w.dev.Live("renderpass"))
}

type recordingVisitor struct {
	passes    []string
	pipelines int
	nodes     int
}

func (v *recordingVisitor) VisitPass(name string, state State) {
	v.passes = append(v.passes, name+":"+state.String())
}
func (v *recordingVisitor) VisitPipeline(*pipeline.Pipeline) { v.pipelines++ }
func (v *recordingVisitor) VisitNode(*node.Node) { v.nodes++ }

func TestAccept(t *testing.T) {
	w := newWorld(t)
	np := w.pass(t, Opaque{}, 0)
	w.update(t, np)

	v := &recordingVisitor{}
	np.Accept(v)
	assert.Equal(t, []string{"opaque:clean"}, v.passes)
	assert.Equal(t, 2, v.pipelines)
	assert.Equal(t, 2, v.nodes)
}

func TestBindingsFollowProgramFlags(t *testing.T) {
	sets := Bindings(pipeline.Flags{
		ProgramFlags: pipeline.ProgramSkinning | pipeline.ProgramLighting,
		SceneFlags:   pipeline.SceneShadowDirectional | pipeline.SceneShadowPoint,
		TextureFlags: pipeline.TextureDiffuse | pipeline.TextureNormal,
	})
	require.Len(t, sets, 2)
	var points []uint32
	for _, b := range sets[0] {
		points = append(points, b.Binding)
	}
	assert.Equal(t, []uint32{BindingMatrices, BindingModel, BindingSkinning, BindingMaterial, BindingLighting, BindingShadowMaps}, points)
	assert.Equal(t, uint32(2), sets[0][len(sets[0])-1].Count)
	assert.Len(t, sets[1], 2)

	assert.Len(t, Bindings(pipeline.Flags{}), 1)
}
