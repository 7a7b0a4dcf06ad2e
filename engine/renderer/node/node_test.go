package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

func TestKindTraits(t *testing.T) {
	cases := []struct {
		kind                               Kind
		bones, morph, instanced, billboard bool
		program                            pipeline.ProgramFlags
	}{
		{KindStatic, false, false, false, false, 0},
		{KindSkinned, true, false, false, false, pipeline.ProgramSkinning},
		{KindMorphing, false, true, false, false, pipeline.ProgramMorphing},
		{KindBillboard, false, false, false, true, pipeline.ProgramBillboards},
		{KindInstancedStatic, false, false, true, false, pipeline.ProgramInstantiation},
		{KindInstancedSkinned, true, false, true, false, pipeline.ProgramInstantiation | pipeline.ProgramSkinning},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.bones, tc.kind.HasBones())
			assert.Equal(t, tc.morph, tc.kind.HasMorph())
			assert.Equal(t, tc.instanced, tc.kind.IsInstanced())
			assert.Equal(t, tc.billboard, tc.kind.IsBillboard())
			assert.Equal(t, tc.program, tc.kind.ProgramFlags())
		})
	}
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func fixture(t *testing.T) (*scene.Scene, *scene.Material, *scene.Mesh, *scene.Mesh) {
	t.Helper()
	s := scene.New("nodes", core.NewEventBus())
	m := s.AddMaterial(scene.NewMaterial("m", scene.NewOpaquePass()))
	static := s.AddMesh(scene.NewMesh("static", &scene.Submesh{Bounds: math.NewExtents3DCube(math.NewVec3Zero(), 1), VertexCount: 24, IndexCount: 36}))
	skinned := s.AddMesh(scene.NewMesh("skinned", &scene.Submesh{Skeleton: &scene.Skeleton{Bones: 4}}))
	return s, m, static, skinned
}

func TestKindOf(t *testing.T) {
	s, m, static, skinned := fixture(t)
	n := s.AddNode(scene.NewSceneNode("n", math.NewVec3Zero()))
	morph := scene.NewMesh("morph", &scene.Submesh{MorphTargets: 2})

	gs := s.AddGeometry("s", n, static, m)
	gk := s.AddGeometry("k", n, skinned, m)
	gm := s.AddGeometry("m", n, morph, m)
	bb := s.AddBillboards(&scene.BillboardList{Name: "b", Node: n, Material: m})

	assert.Equal(t, KindStatic, KindOf(scene.Renderable{Geometry: gs}, false))
	assert.Equal(t, KindInstancedStatic, KindOf(scene.Renderable{Geometry: gs}, true))
	assert.Equal(t, KindSkinned, KindOf(scene.Renderable{Geometry: gk}, false))
	assert.Equal(t, KindInstancedSkinned, KindOf(scene.Renderable{Geometry: gk}, true))
	// morphing is never instanced
	assert.Equal(t, KindMorphing, KindOf(scene.Renderable{Geometry: gm}, true))
	assert.Equal(t, KindBillboard, KindOf(scene.Renderable{Billboards: bb}, true))
}

func TestCollectInstances(t *testing.T) {
	s, m, _, skinned := fixture(t)
	var members []scene.Renderable
	for i := 0; i < 3; i++ {
		n := s.AddNode(scene.NewSceneNode("n", math.NewVec3(float32(i), 0, 0)))
		members = append(members, scene.Renderable{Geometry: s.AddGeometry("g", n, skinned, m)})
	}

	node := New(KindInstancedSkinned, 1, members[0], m.Passes[0], gpu.CullModeBack)
	node.Instances = members

	all := node.CollectInstances(nil)
	require.Len(t, all, 3)
	for i, d := range all {
		assert.Equal(t, i*4, d.BoneOffset)
		assert.Equal(t, float32(i), d.World.Translation().X)
		assert.Equal(t, members[i].SceneNode().ID, d.NodeID)
	}

	skipMiddle := node.CollectInstances(func(r scene.Renderable) bool { return r != members[1] })
	require.Len(t, skipMiddle, 2)
	assert.Equal(t, 4, skipMiddle[1].BoneOffset)
}

func TestSingleNodeMembersAndGeometry(t *testing.T) {
	s, m, static, _ := fixture(t)
	g := s.AddGeometry("g", s.AddNode(scene.NewSceneNode("n", math.NewVec3(0, 0, -10))), static, m)
	r := scene.Renderable{Geometry: g}

	n := New(KindStatic, 7, r, m.Passes[0], gpu.CullModeBack)
	assert.Equal(t, []scene.Renderable{r}, n.Members())
	assert.Equal(t, Key{Renderable: r, Pass: m.Passes[0], Cull: gpu.CullModeBack}, n.Key())
	assert.Equal(t, uint32(36), n.Geometry().IndexCount)
	assert.InDelta(t, 100.0, n.Distance(math.NewVec3Zero()), 1e-3)

	data := n.CollectInstances(nil)
	require.Len(t, data, 1)
	assert.Equal(t, 0, data[0].BoneOffset)
}
