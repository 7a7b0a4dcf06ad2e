package scene

import "github.com/spaghettifunk/lumen/engine/math"

// Camera is a perspective camera looking at a target.
type Camera struct {
	Position math.Vec3
	Target   math.Vec3
	Up       math.Vec3
	// vertical field of view, in degrees
	Fov    float32
	Near   float32
	Far    float32
	Aspect float32
}

func NewCamera() *Camera {
	return &Camera{
		Position: math.NewVec3(0, 0, 10),
		Target:   math.NewVec3Zero(),
		Up:       math.NewVec3Up(),
		Fov:      45,
		Near:     0.1,
		Far:      1000,
		Aspect:   16.0 / 9.0,
	}
}

func (c *Camera) View() math.Mat4 {
	return math.NewMat4LookAt(c.Position, c.Target, c.Up)
}

func (c *Camera) Projection() math.Mat4 {
	return math.NewMat4Perspective(math.DegToRad(c.Fov), c.Aspect, c.Near, c.Far)
}

// SetAspect is called on window resize.
func (c *Camera) SetAspect(width, height uint32) {
	if height == 0 {
		return
	}
	c.Aspect = float32(width) / float32(height)
}
