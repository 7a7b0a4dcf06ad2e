package testbed

import (
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	camera *scene.Camera
	// seconds since start, drives the camera orbit
	elapsed float64
	radius  float32
	spinner *scene.SceneNode
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "Lumen Testbed",
			State: &gameState{radius: 14},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// Initialize fills the scene with a bit of everything the renderer knows how
// to draw, unless a scene file already did.
func (g *TestGame) Initialize(s *scene.Scene) error {
	st := g.state()
	st.camera = s.Camera
	if len(s.Geometries()) > 0 {
		core.LogInfo("testbed: using the %d objects of scene %s", len(s.Geometries()), s.Name)
		return nil
	}

	stone := s.AddMaterial(scene.NewMaterial("stone", scene.NewOpaquePass()))

	glassPass := scene.NewOpaquePass()
	glassPass.Opacity = 0.4
	glassPass.AlphaBlendMode = pipeline.BlendModeInterpolative
	glass := s.AddMaterial(scene.NewMaterial("glass", glassPass))

	leafPass := scene.NewOpaquePass()
	leafPass.TwoSided = true
	leafPass.Lighting = false
	leaves := s.AddMaterial(scene.NewMaterial("leaves", leafPass))

	// a grid of identical cubes ends up as instanced nodes
	cube := s.AddMesh(scene.NewMesh("cube", scene.Cube(0.5)))
	for x := -2; x <= 2; x++ {
		for z := -2; z <= 2; z++ {
			n := scene.NewSceneNode("crate", math.NewVec3(float32(x)*2.5, 0, float32(z)*2.5))
			n.Static = true
			s.AddGeometry("crate", s.AddNode(n), cube, stone)
		}
	}

	ground := scene.NewSceneNode("ground", math.NewVec3(0, -0.5, 0))
	ground.ShadowCaster = false
	ground.Transform.SetRotation(math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), -stdmath.Pi/2, true))
	ground.Transform.SetScale(math.NewVec3(30, 30, 1))
	s.AddGeometry("ground", s.AddNode(ground), s.AddMesh(scene.NewMesh("ground", scene.Quad(0.5))), stone)

	skinned := scene.Cube(0.75)
	skinned.Skeleton = &scene.Skeleton{Name: "rig", Bones: 4}
	st.spinner = s.AddNode(scene.NewSceneNode("spinner", math.NewVec3(0, 2, 0)))
	s.AddGeometry("spinner", st.spinner, s.AddMesh(scene.NewMesh("rigged", skinned)), stone)

	pane := s.AddNode(scene.NewSceneNode("pane", math.NewVec3(0, 1, 4)))
	s.AddGeometry("pane", pane, s.AddMesh(scene.NewMesh("pane", scene.Quad(1.5))), glass)

	s.AddBillboards(&scene.BillboardList{
		Name:      "trees",
		Node:      s.AddNode(scene.NewSceneNode("trees", math.NewVec3(0, 1, -8))),
		Material:  leaves,
		Positions: []math.Vec3{math.NewVec3(-4, 0, 0), math.NewVec3(0, 0, 0), math.NewVec3(4, 0, 0)},
		Size:      math.Vec2{X: 2, Y: 3},
	})

	core.LogInfo("testbed: demo scene built with %d objects", len(s.Geometries()))
	return nil
}

// Update orbits the camera around the origin and bobs the rigged cube.
func (g *TestGame) Update(s *scene.Scene, deltaTime float64) error {
	st := g.state()
	st.elapsed += deltaTime
	angle := st.elapsed * 0.25
	st.camera.Position = math.NewVec3(
		st.radius*float32(stdmath.Cos(angle)),
		6,
		st.radius*float32(stdmath.Sin(angle)),
	)
	st.camera.Target = math.NewVec3Zero()
	if st.spinner != nil {
		s.MoveNode(st.spinner, math.NewVec3(0, 2+0.5*float32(stdmath.Sin(st.elapsed*2)), 0))
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	if cam := g.state().camera; cam != nil {
		cam.SetAspect(width, height)
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed: ran for %.1fs", g.state().elapsed)
	return nil
}
