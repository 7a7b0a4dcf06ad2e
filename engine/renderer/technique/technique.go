package technique

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/culling"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/passes"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/renderer/queue"
	"github.com/spaghettifunk/lumen/engine/renderer/shader"
	"github.com/spaghettifunk/lumen/engine/scene"
	"github.com/spaghettifunk/lumen/engine/systems"
)

var (
	ErrNilDevice   = errors.New("technique: device is nil")
	ErrNilScene    = errors.New("technique: scene is nil")
	ErrNilShaders  = errors.New("technique: shader source is nil")
	ErrInvalidSize = errors.New("technique: target size must not be zero")
)

// Shaders generates the programs of scene nodes and of full screen stages.
type Shaders interface {
	pipeline.ShaderSource
	ScreenSource(kind shader.Screen, inputs int) (gpu.ShaderModule, gpu.ShaderModule, error)
}

type Config struct {
	Name    string
	Device  gpu.Device
	Scene   *scene.Scene
	Shaders Shaders
	// Jobs records the frame graph stages in parallel when set.
	Jobs   *systems.JobSystem
	Frames int
	Size   gpu.Extent
	// OrderIndependent blends transparent nodes without sorting them.
	OrderIndependent bool
	// ParallelCulling is the renderable count above which culling is split
	// across goroutines.
	ParallelCulling int
	// Shadows adds a directional shadow map sampled by the lit passes.
	Shadows bool
	// Picking adds a pass writing node ids next to the lit image.
	Picking bool
	Metrics *core.Metrics
}

// shadowMapSize is the extent of the directional shadow map.
var shadowMapSize = gpu.Extent{Width: 2048, Height: 2048}

/**
 * @brief Technique renders a scene into one image: opaque geometry into a
 * geometry buffer, lighting, transparent geometry, post effects, tone
 * mapping and overlays, then presents.
 */
type Technique struct {
	ID  uuid.UUID
	cfg Config

	culler      *culling.Culler
	opaque      *passes.NodesPass
	transparent *passes.NodesPass
	shadow      *passes.NodesPass
	picking     *passes.NodesPass
	shadowMap   *graph.Resource
	screens     []*screenPass
	graph       *graph.Graph
	size        gpu.Extent
}

func New(cfg Config) (*Technique, error) {
	switch {
	case cfg.Device == nil:
		return nil, ErrNilDevice
	case cfg.Scene == nil:
		return nil, ErrNilScene
	case cfg.Shaders == nil:
		return nil, ErrNilShaders
	case cfg.Size.Width == 0 || cfg.Size.Height == 0:
		return nil, ErrInvalidSize
	}
	if cfg.Name == "" {
		cfg.Name = "technique"
	}
	if cfg.Frames < 1 {
		cfg.Frames = 1
	}
	t := &Technique{
		ID:     uuid.New(),
		cfg:    cfg,
		culler: culling.New(cfg.Scene, cfg.ParallelCulling),
		size:   cfg.Size,
	}
	cfg.Scene.Camera.SetAspect(cfg.Size.Width, cfg.Size.Height)
	if err := t.build(); err != nil {
		t.destroy()
		return nil, err
	}
	core.LogInfo("%s (%s): ready at %dx%d", cfg.Name, t.ID, cfg.Size.Width, cfg.Size.Height)
	return t, nil
}

func (t *Technique) Name() string { return t.cfg.Name }

func (t *Technique) Size() gpu.Extent { return t.size }

func (t *Technique) Graph() *graph.Graph { return t.graph }

func (t *Technique) Culler() *culling.Culler { return t.culler }

func (t *Technique) Opaque() *passes.NodesPass { return t.opaque }

func (t *Technique) Transparent() *passes.NodesPass { return t.transparent }

func (t *Technique) Shadow() *passes.NodesPass { return t.shadow }

func (t *Technique) Picking() *passes.NodesPass { return t.picking }

// Passes returns the nodes passes in update order. The opaque pass comes
// first since it computes the shared culler.
func (t *Technique) Passes() []*passes.NodesPass {
	out := []*passes.NodesPass{t.opaque, t.transparent}
	for _, np := range []*passes.NodesPass{t.shadow, t.picking} {
		if np != nil {
			out = append(out, np)
		}
	}
	return out
}

func (t *Technique) newPass(name string, variant passes.Variant, ownsCuller bool) (*passes.NodesPass, error) {
	return passes.New(passes.Config{
		Name:       fmt.Sprintf("%s/%s", t.cfg.Name, name),
		Variant:    variant,
		Device:     t.cfg.Device,
		Scene:      t.cfg.Scene,
		Shaders:    t.cfg.Shaders,
		Culler:     t.culler,
		OwnsCuller: ownsCuller,
		Frames:     t.cfg.Frames,
		Metrics:    t.cfg.Metrics,
	})
}

// build creates every per size resource: the images, the passes and the graph
// tying them together.
func (t *Technique) build() error {
	g, err := graph.New(graph.Config{
		Name:    t.cfg.Name,
		Device:  t.cfg.Device,
		Jobs:    t.cfg.Jobs,
		Frames:  t.cfg.Frames,
		Metrics: t.cfg.Metrics,
	})
	if err != nil {
		return err
	}
	t.graph = g

	if t.opaque, err = t.newPass("opaque", passes.Opaque{}, true); err != nil {
		return err
	}
	if t.transparent, err = t.newPass("transparent", passes.Transparent{OrderIndependent: t.cfg.OrderIndependent}, false); err != nil {
		return err
	}

	var shadowStage *graph.Stage
	if t.cfg.Shadows {
		if t.shadow, err = t.newPass("shadow", passes.Shadow{Light: passes.LightDirectional}, false); err != nil {
			return err
		}
		maps, err := t.imagesSized(t.shadow.Targets(), shadowMapSize)
		if err != nil {
			return err
		}
		if err := t.shadow.Initialise(shadowMapSize, imagesOf(maps)); err != nil {
			return err
		}
		t.shadowMap = maps[0]
		shadowStage = &graph.Stage{Name: "shadow", Writes: maps, Recorder: t.shadow}
	}

	gbuffer, err := t.images(t.opaque.Targets())
	if err != nil {
		return err
	}
	depth := gbuffer[len(gbuffer)-1]
	if err := t.opaque.Initialise(t.size, imagesOf(gbuffer)); err != nil {
		return err
	}

	lit, err := t.image("lit", gpu.FormatRGBA16F)
	if err != nil {
		return err
	}
	if err := t.transparent.Initialise(t.size, []gpu.Image{lit.Image, depth.Image}); err != nil {
		return err
	}
	ldr, err := t.image("ldr", gpu.FormatRGBA16F)
	if err != nil {
		return err
	}
	final, err := t.image("final", gpu.FormatRGBA8)
	if err != nil {
		return err
	}

	screens := []screenConfig{
		{name: "lighting", kind: shader.ScreenLighting, program: true, inputs: gbuffer, output: lit},
		{name: "post", kind: shader.ScreenPost, program: true, inputs: []*graph.Resource{lit}, output: ldr},
		{name: "tonemap", kind: shader.ScreenTonemap, program: true, inputs: []*graph.Resource{ldr}, output: final},
		{name: "overlay", output: final},
	}
	for _, sc := range screens {
		sc.name = fmt.Sprintf("%s/%s", t.cfg.Name, sc.name)
		s, err := newScreenPass(t.cfg.Device, t.cfg.Shaders, sc, t.size, t.cfg.Frames)
		if err != nil {
			return err
		}
		t.screens = append(t.screens, s)
	}

	var shadowReads []*graph.Resource
	if t.shadowMap != nil {
		shadowReads = []*graph.Resource{t.shadowMap}
	}
	stages := []*graph.Stage{
		{Name: "opaque", Reads: shadowReads, Writes: gbuffer, Recorder: t.opaque},
		{Name: "lighting", Reads: gbuffer, Writes: []*graph.Resource{lit}, Recorder: t.screens[0]},
		{Name: "transparent", Reads: append([]*graph.Resource{lit, depth}, shadowReads...), Writes: []*graph.Resource{lit, depth}, Recorder: t.transparent},
		{Name: "post", Reads: []*graph.Resource{lit}, Writes: []*graph.Resource{ldr}, Recorder: t.screens[1]},
		{Name: "tonemap", Reads: []*graph.Resource{ldr}, Writes: []*graph.Resource{final}, Recorder: t.screens[2]},
		{Name: "overlay", Reads: []*graph.Resource{final}, Writes: []*graph.Resource{final}, Recorder: t.screens[3]},
	}
	if shadowStage != nil {
		stages = append([]*graph.Stage{shadowStage}, stages...)
	}
	if t.cfg.Picking {
		if t.picking, err = t.newPass("picking", passes.Picking{}, false); err != nil {
			return err
		}
		ids, err := t.images(t.picking.Targets())
		if err != nil {
			return err
		}
		if err := t.picking.Initialise(t.size, imagesOf(ids)); err != nil {
			return err
		}
		stages = append(stages, &graph.Stage{Name: "picking", Writes: ids, Recorder: t.picking})
	}
	for _, s := range stages {
		if err := g.AddStage(s); err != nil {
			return err
		}
	}
	g.SetPresent(final)
	return g.Compile()
}

func (t *Technique) image(name string, format gpu.Format) (*graph.Resource, error) {
	return t.graph.AddImage(gpu.ImageDesc{
		Name:   fmt.Sprintf("%s/%s", t.cfg.Name, name),
		Format: format,
		Extent: t.size,
		Usage:  gpu.ImageUsageColourAttachment | gpu.ImageUsageSampled,
	})
}

func (t *Technique) images(descs []gpu.ImageDesc) ([]*graph.Resource, error) {
	return t.imagesSized(descs, t.size)
}

func (t *Technique) imagesSized(descs []gpu.ImageDesc, size gpu.Extent) ([]*graph.Resource, error) {
	out := make([]*graph.Resource, 0, len(descs))
	for _, d := range descs {
		// the pass only learns its size when initialised
		d.Extent = size
		r, err := t.graph.AddImage(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func imagesOf(rs []*graph.Resource) []gpu.Image {
	out := make([]gpu.Image, len(rs))
	for i, r := range rs {
		out[i] = r.Image
	}
	return out
}

/**
 * @brief CPU side of a frame: culls and refreshes the render queues. The
 * device uploads of frame run from Render, once its fence was waited on.
 */
func (t *Technique) Update(ctx context.Context, frame int) error {
	u := &passes.CpuUpdater{
		Context:  ctx,
		Camera:   t.cfg.Scene.Camera,
		Viewport: &gpu.Viewport{Width: float32(t.size.Width), Height: float32(t.size.Height), MaxDepth: 1},
		Scissor:  &gpu.Rect{Width: t.size.Width, Height: t.size.Height},
	}
	if t.shadowMap != nil {
		u.ShadowMaps = queue.ShadowMaps{t.shadowMap.Image}
	}
	for _, np := range t.Passes() {
		pu := u
		switch np {
		case t.shadow:
			// a shadow pass never samples its own map
			pu = &passes.CpuUpdater{
				Context:  ctx,
				Camera:   u.Camera,
				Viewport: &gpu.Viewport{Width: float32(shadowMapSize.Width), Height: float32(shadowMapSize.Height), MaxDepth: 1},
				Scissor:  &gpu.Rect{Width: shadowMapSize.Width, Height: shadowMapSize.Height},
			}
		case t.picking:
			pu = &passes.CpuUpdater{Context: ctx, Camera: u.Camera, Viewport: u.Viewport, Scissor: u.Scissor}
		}
		if err := np.Update(pu); err != nil {
			return err
		}
	}
	return nil
}

// Render executes the frame graph. It returns core.ErrRecreateRequired
// when Recreate must be called before the next frame.
func (t *Technique) Render(ctx context.Context, frame int) error {
	return t.graph.Execute(ctx, frame)
}

/**
 * @brief Rebuilds every per size resource. Called after a resize or when
 * Render reported core.ErrRecreateRequired.
 */
func (t *Technique) Recreate(width, height uint32) error {
	if width == 0 || height == 0 {
		return ErrInvalidSize
	}
	if err := t.cfg.Device.WaitIdle(); err != nil {
		core.LogError("%s: device not idle before recreation: %s", t.cfg.Name, err)
		return err
	}
	t.destroy()
	t.size = gpu.Extent{Width: width, Height: height}
	t.cfg.Scene.Camera.SetAspect(width, height)
	if err := t.build(); err != nil {
		core.LogError("%s: recreation at %dx%d failed: %s", t.cfg.Name, width, height, err)
		t.destroy()
		return err
	}
	core.LogInfo("%s: recreated at %dx%d", t.cfg.Name, width, height)
	return nil
}

// destroy releases what build created, users of the images first.
func (t *Technique) destroy() {
	for _, s := range t.screens {
		s.destroy()
	}
	t.screens = nil
	for _, np := range []*passes.NodesPass{t.opaque, t.transparent, t.shadow, t.picking} {
		if np != nil {
			np.Cleanup()
		}
	}
	t.opaque, t.transparent, t.shadow, t.picking = nil, nil, nil, nil
	t.shadowMap = nil
	if t.graph != nil {
		t.graph.Destroy()
		t.graph = nil
	}
}

// Cleanup waits for the device and releases everything the technique
// created.
func (t *Technique) Cleanup() {
	if err := t.cfg.Device.WaitIdle(); err != nil {
		core.LogWarn("%s: cleanup without idle device: %s", t.cfg.Name, err)
	}
	t.destroy()
	core.LogDebug("%s: cleaned up", t.cfg.Name)
}
