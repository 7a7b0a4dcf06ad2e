package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/systems"
)

var (
	ErrNilDevice      = errors.New("frame graph: device is nil")
	ErrStageName      = errors.New("frame graph: stage name is empty or already used")
	ErrUnknownStage   = errors.New("frame graph: stage follows an unknown stage")
	ErrNotCompiled    = errors.New("frame graph: not compiled")
	ErrGraphDestroyed = errors.New("frame graph: already destroyed")
)

// Recorder records the commands of one stage. passes.NodesPass is one.
type Recorder interface {
	Record(cb gpu.CommandBuffer, frame int) error
}

// FrameUpdater is implemented by recorders that write per frame device data.
// UpdateFrame runs once per frame after the fence of the frame slot was
// waited on and before any stage records, so recording only reads.
type FrameUpdater interface {
	UpdateFrame(frame int) error
}

// RecordFunc adapts a function to Recorder.
type RecordFunc func(cb gpu.CommandBuffer, frame int) error

func (f RecordFunc) Record(cb gpu.CommandBuffer, frame int) error {
	return f(cb, frame)
}

/**
 * @brief One node of the frame graph. Reads are sampled in shaders, writes
 * are render targets; a resource in both is read and written as an
 * attachment.
 */
type Stage struct {
	Name   string
	Reads  []*Resource
	Writes []*Resource
	// After names stages that must run first regardless of resources.
	After    []string
	Recorder Recorder
}

func (s *Stage) writes(r *Resource) bool {
	return slices.Contains(s.Writes, r)
}

type Config struct {
	Name   string
	Device gpu.Device
	// Jobs records stages in parallel; stages are recorded in order when nil.
	Jobs *systems.JobSystem
	// Frames in flight, at least 1.
	Frames  int
	Metrics *core.Metrics
}

// edge is a dependency between two stages, by insertion index.
type edge struct {
	from, to int
}

// compiledStage is a stage with everything Execute needs precomputed.
type compiledStage struct {
	stage *Stage
	index int
	preds []int
	succs []int
	// before the recorded commands, after them
	before []gpu.Barrier
	after  []gpu.Barrier
	// first use of owned images in a frame: from undefined contents on the
	// first frame after the frame resources were made, from the layout the
	// previous frame left them in afterwards
	fresh   []gpu.Barrier
	carried []gpu.Barrier
}

// Graph orders stages by their resource dependencies and submits one frame
// of them at a time.
type Graph struct {
	cfg Config

	resources []*Resource
	stages    []*Stage
	byName    map[string]int
	present   *Resource

	compiled  bool
	order     []*compiledStage
	edges     []edge
	frames    *containers.FrameRing[*frameSlot]
	stale     bool
	// a frame was submitted since the frame resources were made
	primed    bool
	destroyed bool
}

func New(cfg Config) (*Graph, error) {
	if cfg.Device == nil {
		return nil, ErrNilDevice
	}
	if cfg.Frames < 1 {
		cfg.Frames = 1
	}
	if cfg.Name == "" {
		cfg.Name = "graph"
	}
	return &Graph{cfg: cfg, byName: make(map[string]int)}, nil
}

func (g *Graph) Name() string {
	return g.cfg.Name
}

func (g *Graph) Frames() int {
	return g.cfg.Frames
}

// AddImage creates an image owned by the graph.
func (g *Graph) AddImage(desc gpu.ImageDesc) (*Resource, error) {
	img, err := g.cfg.Device.CreateImage(desc)
	if err != nil {
		core.LogError("%s: failed to create image %s: %s", g.cfg.Name, desc.Name, err)
		return nil, err
	}
	r := &Resource{ID: uuid.New(), Name: desc.Name, Image: img, Desc: desc, owned: true}
	g.resources = append(g.resources, r)
	return r, nil
}

// Import registers an image the graph does not own. Stages may read it
// before any stage writes it.
func (g *Graph) Import(name string, img gpu.Image, desc gpu.ImageDesc, layout gpu.ImageLayout) *Resource {
	desc.Name = name
	r := &Resource{ID: uuid.New(), Name: name, Image: img, Desc: desc, Imported: true, Layout: layout}
	g.resources = append(g.resources, r)
	return r
}

// Resource looks an image up by name.
func (g *Graph) Resource(name string) *Resource {
	for _, r := range g.resources {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (g *Graph) knows(r *Resource) bool {
	return r != nil && slices.Contains(g.resources, r)
}

// AddStage appends a stage. Adding invalidates the cached order.
func (g *Graph) AddStage(s *Stage) error {
	if s == nil || s.Name == "" {
		return ErrStageName
	}
	if _, ok := g.byName[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrStageName, s.Name)
	}
	g.byName[s.Name] = len(g.stages)
	g.stages = append(g.stages, s)
	g.compiled = false
	return nil
}

// SetPresent selects the image shown at the end of each frame. Nil disables
// presentation.
func (g *Graph) SetPresent(r *Resource) {
	g.present = r
	g.compiled = false
}

func (g *Graph) IsCompiled() bool {
	return g.compiled
}

// Order returns the stage names in submission order.
func (g *Graph) Order() []string {
	names := make([]string, len(g.order))
	for i, cs := range g.order {
		names[i] = cs.stage.Name
	}
	return names
}

// Barriers returns the barriers recorded before and after a stage's commands.
func (g *Graph) Barriers(stage string) (before, after []gpu.Barrier) {
	for _, cs := range g.order {
		if cs.stage.Name == stage {
			return cs.before, cs.after
		}
	}
	return nil, nil
}

// EntryBarriers returns the transitions recorded ahead of Barriers for the
// images a stage uses first in a frame.
func (g *Graph) EntryBarriers(stage string) (fresh, carried []gpu.Barrier) {
	for _, cs := range g.order {
		if cs.stage.Name == stage {
			return cs.fresh, cs.carried
		}
	}
	return nil, nil
}

/**
 * @brief Derives the dependencies of every stage and orders them.
 *
 * A read depends on the latest earlier writer of the resource. A write
 * depends on the previous writer and on the stages that read the previous
 * content. After adds explicit edges. Stages are then sorted with Kahn's
 * algorithm, ready stages taken in insertion order.
 * @returns core.ErrGraphCycle naming the stages left unordered, or
 * core.ErrUnknownResource for reads of content nobody produced.
 */
func (g *Graph) Compile() error {
	if g.destroyed {
		return ErrGraphDestroyed
	}
	if g.present != nil && !g.knows(g.present) {
		return fmt.Errorf("%w: presented image %s", core.ErrUnknownResource, g.present.Name)
	}
	edges, err := g.dependencies()
	if err != nil {
		core.LogError("%s: compile failed: %s", g.cfg.Name, err)
		return err
	}
	order, err := g.sort(edges)
	if err != nil {
		core.LogError("%s: compile failed: %s", g.cfg.Name, err)
		return err
	}
	g.barriers(order)

	if g.frames != nil {
		g.destroyFrames()
	}
	g.order = order
	g.edges = edges
	if err := g.createFrames(); err != nil {
		g.order, g.edges = nil, nil
		return err
	}
	g.compiled = true
	g.stale = false
	core.LogDebug("%s: compiled %s", g.cfg.Name, strings.Join(g.Order(), " -> "))
	return nil
}

func (g *Graph) dependencies() ([]edge, error) {
	seen := make(map[edge]bool)
	var edges []edge
	add := func(from, to int) {
		e := edge{from, to}
		if from == to || seen[e] {
			return
		}
		seen[e] = true
		edges = append(edges, e)
	}

	lastWriter := make(map[*Resource]int)
	readers := make(map[*Resource][]int)
	for i, s := range g.stages {
		for _, r := range s.Reads {
			if !g.knows(r) {
				return nil, fmt.Errorf("%w: stage %s reads an unregistered image", core.ErrUnknownResource, s.Name)
			}
			w, ok := lastWriter[r]
			if !ok && !r.Imported {
				return nil, fmt.Errorf("%w: stage %s reads %s before any stage writes it", core.ErrUnknownResource, s.Name, r.Name)
			}
			if ok {
				add(w, i)
			}
			readers[r] = append(readers[r], i)
		}
		for _, r := range s.Writes {
			if !g.knows(r) {
				return nil, fmt.Errorf("%w: stage %s writes an unregistered image", core.ErrUnknownResource, s.Name)
			}
			if w, ok := lastWriter[r]; ok {
				add(w, i)
			}
			for _, rd := range readers[r] {
				add(rd, i)
			}
			readers[r] = nil
			lastWriter[r] = i
		}
		for _, name := range s.After {
			j, ok := g.byName[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s after %s", ErrUnknownStage, s.Name, name)
			}
			add(j, i)
		}
	}
	return edges, nil
}

func (g *Graph) sort(edges []edge) ([]*compiledStage, error) {
	n := len(g.stages)
	stages := make([]*compiledStage, n)
	for i, s := range g.stages {
		stages[i] = &compiledStage{stage: s, index: i}
	}
	indegree := make([]int, n)
	for _, e := range edges {
		stages[e.to].preds = append(stages[e.to].preds, e.from)
		stages[e.from].succs = append(stages[e.from].succs, e.to)
		indegree[e.to]++
	}
	for _, cs := range stages {
		slices.Sort(cs.preds)
		slices.Sort(cs.succs)
	}

	done := make([]bool, n)
	order := make([]*compiledStage, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		order = append(order, stages[next])
		for _, s := range stages[next].succs {
			indegree[s]--
		}
	}
	if len(order) < n {
		var left []string
		for i := 0; i < n; i++ {
			if !done[i] {
				left = append(left, g.stages[i].Name)
			}
		}
		return nil, fmt.Errorf("%w: %s", core.ErrGraphCycle, strings.Join(left, ", "))
	}
	return order, nil
}

/**
 * @brief Walks the stages in order and records a transition wherever the
 * previous use of an image does not already satisfy the next one.
 *
 * The graph owns every layout change outside render passes: render passes
 * start attachments in the layout the graph moved them to and leave them in
 * their working layout. Owned images keep their layout across frames, so
 * the first use in a frame transitions from wherever the previous frame left
 * the image.
 */
func (g *Graph) barriers(order []*compiledStage) {
	state := make(map[*Resource]usage)
	lastUser := make(map[*Resource]*compiledStage)
	type entry struct {
		cs   *compiledStage
		r    *Resource
		next usage
	}
	var entries []entry
	for _, r := range g.resources {
		if r.Imported && r.Layout != gpu.ImageLayoutUndefined {
			state[r] = usage{used: true, layout: r.Layout, stage: gpu.StageTopOfPipe}
		}
	}
	use := func(cs *compiledStage, r *Resource, next usage) {
		if !state[r].used && !r.Imported {
			entries = append(entries, entry{cs, r, next})
		} else if b, ok := transition(r, state[r], next); ok {
			cs.before = append(cs.before, b)
		}
		state[r] = next
		lastUser[r] = cs
	}
	for _, cs := range order {
		s := cs.stage
		for _, r := range s.Reads {
			if s.writes(r) {
				continue
			}
			use(cs, r, sampled())
		}
		for _, r := range s.Writes {
			use(cs, r, attachment(r, slices.Contains(s.Reads, r)))
		}
	}
	if g.present != nil {
		if cs, ok := lastUser[g.present]; ok {
			if b, ok := transition(g.present, state[g.present], presented()); ok {
				cs.after = append(cs.after, b)
			}
			state[g.present] = presented()
		}
	}
	undefined := usage{used: true, layout: gpu.ImageLayoutUndefined, stage: gpu.StageTopOfPipe}
	for _, e := range entries {
		if b, ok := transition(e.r, undefined, e.next); ok {
			e.cs.fresh = append(e.cs.fresh, b)
		}
		if b, ok := transition(e.r, state[e.r], e.next); ok {
			e.cs.carried = append(e.cs.carried, b)
		}
	}
}
