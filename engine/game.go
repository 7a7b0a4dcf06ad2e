package engine

import "github.com/spaghettifunk/lumen/engine/scene"

// Game is the application driven by the engine loop.
type Game struct {
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize populates the scene before the first frame. The scene may
// already hold what the scene file describes.
type Initialize func(s *scene.Scene) error

// Update moves the scene forward by deltaTime seconds.
type Update func(s *scene.Scene, deltaTime float64) error

type OnResize func(width uint32, height uint32) error

type Shutdown func() error
