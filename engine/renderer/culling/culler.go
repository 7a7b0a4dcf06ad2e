package culling

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// Signal is invoked after every completed Compute.
type Signal func(c *Culler)

// Culler classifies the renderables of a scene against the camera frustum.
// Culling is conservative: only objects fully outside one plane are
// rejected, and malformed bounds are kept.
type Culler struct {
	scene *scene.Scene
	// scenes with more renderables than this are classified in parallel
	parallelThreshold int

	mu       sync.RWMutex
	frustum  math.Frustum
	camera   math.Vec3
	visible  map[scene.Renderable]bool
	computed bool

	generation atomic.Uint64

	subsMu  sync.Mutex
	subs    map[uint64]Signal
	nextSub uint64
}

func New(s *scene.Scene, parallelThreshold int) *Culler {
	if parallelThreshold <= 0 {
		parallelThreshold = 1024
	}
	return &Culler{
		scene:             s,
		parallelThreshold: parallelThreshold,
		visible:           make(map[scene.Renderable]bool),
		subs:              make(map[uint64]Signal),
	}
}

func (c *Culler) Scene() *scene.Scene {
	return c.scene
}

// Generation is incremented by each completed Compute.
func (c *Culler) Generation() uint64 {
	return c.generation.Load()
}

// Subscribe registers fn for every completed Compute. The returned function
// unsubscribes.
func (c *Culler) Subscribe(fn Signal) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

/**
 * @brief Recomputes the visible set from the view and projection matrices, then
 * signals every subscriber. Large scenes are classified in parallel chunks.
 */
func (c *Culler) Compute(ctx context.Context, view, projection math.Mat4) error {
	frustum := math.NewFrustumFromMatrix(view.Mul(projection))
	renderables := c.scene.Renderables()
	results := make([]bool, len(renderables))

	classify := func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			results[i] = isVisible(frustum, renderables[i].Bounds(), renderables[i])
		}
		return nil
	}

	if len(renderables) <= c.parallelThreshold {
		if err := classify(0, len(renderables)); err != nil {
			return err
		}
	} else {
		workers := runtime.NumCPU()
		chunk := (len(renderables) + workers - 1) / workers
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for lo := 0; lo < len(renderables); lo += chunk {
			lo, hi := lo, min(lo+chunk, len(renderables))
			g.Go(func() error { return classify(lo, hi) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	visible := make(map[scene.Renderable]bool, len(renderables))
	for i, r := range renderables {
		visible[r] = results[i]
	}

	c.mu.Lock()
	c.frustum = frustum
	c.camera = view.Inverse().Translation()
	c.visible = visible
	c.computed = true
	c.mu.Unlock()

	c.generation.Add(1)
	c.signal()
	return nil
}

func (c *Culler) signal() {
	c.subsMu.Lock()
	subs := make([]Signal, 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

// IsVisible tests a world space box against the last computed frustum.
// Before the first Compute everything is visible.
func (c *Culler) IsVisible(box math.Extents3D) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.computed {
		return true
	}
	return isVisible(c.frustum, box, scene.Renderable{})
}

// IsRenderableVisible returns the classification of r by the last Compute.
// Renderables added since are visible until the next Compute.
func (c *Culler) IsRenderableVisible(r scene.Renderable) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	visible, ok := c.visible[r]
	return !ok || visible
}

// CameraPosition is the world position of the camera used by the last Compute.
func (c *Culler) CameraPosition() math.Vec3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.camera
}

// VisibleCount returns how many renderables passed the last Compute.
func (c *Culler) VisibleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, v := range c.visible {
		if v {
			n++
		}
	}
	return n
}

func isVisible(frustum math.Frustum, box math.Extents3D, r scene.Renderable) bool {
	if !box.IsValid() {
		if r != (scene.Renderable{}) {
			core.LogWarn("culling: malformed bounds for %s, kept visible", r.Name())
		} else {
			core.LogWarn("culling: malformed bounds %v, kept visible", box)
		}
		return true
	}
	return frustum.IntersectsExtents(box)
}
