package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Pipeline cache errors.
var (
	ErrNilDevice       = errors.New("pipeline cache: device is nil")
	ErrNilShaderSource = errors.New("pipeline cache: shader source is nil")
	ErrInvalidCullMode = errors.New("pipeline cache: cull mode must be front or back")
	ErrCacheCleanedUp  = errors.New("pipeline cache: already cleaned up")
)

// ShaderSource generates the shader stages of a flag combination. It fails
// for combinations it cannot represent.
type ShaderSource interface {
	VertexSource(flags Flags) (gpu.ShaderModule, error)
	PixelSource(flags Flags) (gpu.ShaderModule, error)
	// GeometrySource reports false when the flags need no geometry stage.
	GeometrySource(flags Flags) (gpu.ShaderModule, bool, error)
}

// Config is what a pass hands to its cache: the device, the shader
// collaborator and the fixed function state the pass imposes.
type Config struct {
	Name        string
	Device      gpu.Device
	Shaders     ShaderSource
	RenderPass  gpu.RenderPass
	Attachments uint32
	Depth       DepthMode
	// Bindings returns the descriptor bindings, one slice per set.
	Bindings func(flags Flags) [][]gpu.DescriptorBinding
	Metrics  *core.Metrics
}

// Handle is a non owning reference to a cached pipeline. It goes stale when
// the cache is cleaned up.
type Handle struct {
	index      uint32
	generation uint32
}

// IsValid is false for the zero Handle.
func (h Handle) IsValid() bool {
	return h.generation != 0
}

// Pipeline is a device pipeline plus the state it was built from. It is never
// modified after creation.
type Pipeline struct {
	Name         string
	Flags        Flags
	Cull         gpu.CullMode
	Device       gpu.Pipeline
	Layouts      []gpu.DescriptorSetLayout
	Bindings     [][]gpu.DescriptorBinding
	Shaders      []gpu.ShaderModule
	Blend        gpu.BlendState
	DepthStencil gpu.DepthStencilState
	Rasterizer   gpu.RasterizerState

	handle Handle
}

func (p *Pipeline) Handle() Handle {
	return p.handle
}

// Cache maps flags to pipelines, with separate front and back culled maps.
// At most one pipeline exists per (flags, cull mode).
type Cache struct {
	cfg Config

	mu         sync.RWMutex
	front      map[Flags]uint32
	back       map[Flags]uint32
	arena      []*Pipeline
	generation uint32
	cleanedUp  bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCache(cfg Config) (*Cache, error) {
	if cfg.Device == nil {
		return nil, ErrNilDevice
	}
	if cfg.Shaders == nil {
		return nil, ErrNilShaderSource
	}
	if cfg.Attachments == 0 {
		cfg.Attachments = 1
	}
	return &Cache{
		cfg:        cfg,
		front:      make(map[Flags]uint32),
		back:       make(map[Flags]uint32),
		generation: 1,
	}, nil
}

func (c *Cache) table(cull gpu.CullMode) (map[Flags]uint32, error) {
	switch cull {
	case gpu.CullModeFront:
		return c.front, nil
	case gpu.CullModeBack:
		return c.back, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidCullMode, cull)
}

/**
 * @brief Returns the pipeline for flags and cull mode, creating it on first
 * use. Equal flags always yield the same pipeline.
 */
func (c *Cache) Get(flags Flags, cull gpu.CullMode) (*Pipeline, error) {
	// Fast path: read lock
	c.mu.RLock()
	table, err := c.table(cull)
	if err != nil {
		c.mu.RUnlock()
		return nil, err
	}
	if idx, ok := table[flags]; ok {
		p := c.arena[idx]
		c.mu.RUnlock()
		c.hits.Add(1)
		return p, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanedUp {
		return nil, ErrCacheCleanedUp
	}
	table, _ = c.table(cull)
	if idx, ok := table[flags]; ok {
		c.hits.Add(1)
		return c.arena[idx], nil
	}

	p, err := c.build(flags, cull)
	if err != nil {
		core.LogError("%s: pipeline creation failed for %s (%s cull): %s", c.cfg.Name, flags, cull, err)
		return nil, err
	}
	p.handle = Handle{index: uint32(len(c.arena)), generation: c.generation}
	c.arena = append(c.arena, p)
	table[flags] = p.handle.index
	c.misses.Add(1)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PipelinesCreated.Add(1)
	}
	core.LogDebug("%s: created pipeline %s", c.cfg.Name, p.Name)
	return p, nil
}

func (c *Cache) build(flags Flags, cull gpu.CullMode) (*Pipeline, error) {
	vs, err := c.cfg.Shaders.VertexSource(flags)
	if err != nil {
		return nil, fmt.Errorf("vertex shader: %w", err)
	}
	ps, err := c.cfg.Shaders.PixelSource(flags)
	if err != nil {
		return nil, fmt.Errorf("pixel shader: %w", err)
	}
	shaders := []gpu.ShaderModule{vs}
	gs, hasGeometry, err := c.cfg.Shaders.GeometrySource(flags)
	if err != nil {
		return nil, fmt.Errorf("geometry shader: %w", err)
	}
	if hasGeometry {
		shaders = append(shaders, gs)
	}
	shaders = append(shaders, ps)

	p := &Pipeline{
		Name:         fmt.Sprintf("%s/%s/%016x", c.cfg.Name, cull, flags.Hash()),
		Flags:        flags,
		Cull:         cull,
		Shaders:      shaders,
		Blend:        NewBlendState(flags.ColourBlendMode, flags.AlphaBlendMode, c.cfg.Attachments),
		DepthStencil: NewDepthStencilState(c.cfg.Depth),
		Rasterizer:   NewRasterizerState(cull),
	}
	if c.cfg.Bindings != nil {
		p.Bindings = c.cfg.Bindings(flags)
	}

	// everything created so far is released if a later step fails
	for _, set := range p.Bindings {
		layout, err := c.cfg.Device.CreateDescriptorSetLayout(set)
		if err != nil {
			c.release(p)
			return nil, fmt.Errorf("descriptor set layout: %w", err)
		}
		p.Layouts = append(p.Layouts, layout)
	}
	handle, err := c.cfg.Device.CreatePipeline(gpu.PipelineDesc{
		Name:         p.Name,
		RenderPass:   c.cfg.RenderPass,
		Shaders:      shaders,
		Layouts:      p.Layouts,
		Topology:     flags.Topology,
		Blend:        p.Blend,
		DepthStencil: p.DepthStencil,
		Rasterizer:   p.Rasterizer,
		Instanced:    flags.ProgramFlags.Has(ProgramInstantiation),
	})
	if err != nil {
		c.release(p)
		return nil, err
	}
	p.Device = handle
	return p, nil
}

func (c *Cache) release(p *Pipeline) {
	if p.Device != 0 {
		c.cfg.Device.DestroyPipeline(p.Device)
	}
	for _, l := range p.Layouts {
		c.cfg.Device.DestroyDescriptorSetLayout(l)
	}
}

// Resolve returns the pipeline behind h, nil when h is stale.
func (c *Cache) Resolve(h Handle) *Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h.generation != c.generation || int(h.index) >= len(c.arena) {
		return nil
	}
	return c.arena[h.index]
}

// Len returns the number of pipelines cached for the cull mode.
func (c *Cache) Len(cull gpu.CullMode) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	table, err := c.table(cull)
	if err != nil {
		return 0
	}
	return len(table)
}

// Flags lists the cached keys of a cull mode in ascending order.
func (c *Cache) Flags(cull gpu.CullMode) []Flags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	table, err := c.table(cull)
	if err != nil {
		return nil
	}
	out := make([]Flags, 0, len(table))
	for f := range table {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Each visits the cached pipelines in creation order.
func (c *Cache) Each(fn func(p *Pipeline)) {
	c.mu.RLock()
	pipelines := append([]*Pipeline(nil), c.arena...)
	c.mu.RUnlock()
	for _, p := range pipelines {
		fn(p)
	}
}

// Stats returns cache hits and misses.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Cleanup destroys every pipeline. Outstanding handles become stale. The
// caller must have waited for the GPU to stop using them.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.arena {
		c.release(p)
	}
	c.arena = nil
	c.front = make(map[Flags]uint32)
	c.back = make(map[Flags]uint32)
	c.generation++
	c.cleanedUp = true
}

// Reset drops every pipeline like Cleanup but keeps the cache usable, with a
// new render pass (after a device or size recreation).
func (c *Cache) Reset(renderPass gpu.RenderPass) {
	c.Cleanup()
	c.mu.Lock()
	c.cfg.RenderPass = renderPass
	c.cleanedUp = false
	c.mu.Unlock()
}
