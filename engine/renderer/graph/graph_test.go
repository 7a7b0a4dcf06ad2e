package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type deferred struct {
	dev     *gpu.Headless
	g       *Graph
	metrics *core.Metrics

	gbuffer []*Resource
	depth   *Resource
	lit     *Resource
	ldr     *Resource
	swap    *Resource

	mu     sync.Mutex
	frames map[string][]int
}

func (d *deferred) recorder(name string) Recorder {
	return RecordFunc(func(cb gpu.CommandBuffer, frame int) error {
		cb.Draw(3, 1)
		d.mu.Lock()
		d.frames[name] = append(d.frames[name], frame)
		d.mu.Unlock()
		return nil
	})
}

func image(t *testing.T, g *Graph, name string, format gpu.Format) *Resource {
	usage := gpu.ImageUsageColourAttachment | gpu.ImageUsageSampled
	if format.IsDepth() {
		usage = gpu.ImageUsageDepthAttachment | gpu.ImageUsageSampled
	}
	r, err := g.AddImage(gpu.ImageDesc{Name: name, Format: format, Extent: gpu.Extent{Width: 64, Height: 64}, Usage: usage})
	require.NoError(t, err)
	return r
}

// newDeferred builds opaque -> lighting -> transparent -> post -> tonemap ->
// overlay, presenting an imported swapchain image.
func newDeferred(t *testing.T, parallel bool) *deferred {
	t.Helper()
	d := &deferred{dev: gpu.NewHeadless(), metrics: core.NewMetrics(), frames: make(map[string][]int)}
	cfg := Config{Name: "deferred", Device: d.dev, Frames: 2, Metrics: d.metrics}
	if parallel {
		jobs, err := systems.NewJobSystem(4, 16)
		require.NoError(t, err)
		t.Cleanup(func() { jobs.Shutdown() })
		cfg.Jobs = jobs
	}
	g, err := New(cfg)
	require.NoError(t, err)
	d.g = g

	d.gbuffer = []*Resource{
		image(t, g, "albedo", gpu.FormatRGBA16F),
		image(t, g, "normal", gpu.FormatRGBA16F),
		image(t, g, "material", gpu.FormatRGBA8),
	}
	d.depth = image(t, g, "depth", gpu.FormatD32)
	d.lit = image(t, g, "lit", gpu.FormatRGBA16F)
	d.ldr = image(t, g, "ldr", gpu.FormatRGBA8)
	d.swap = g.Import("swapchain", gpu.Image(9000), gpu.ImageDesc{Format: gpu.FormatRGBA8}, gpu.ImageLayoutUndefined)
	g.SetPresent(d.swap)

	stages := []*Stage{
		{Name: "opaque", Writes: append(append([]*Resource{}, d.gbuffer...), d.depth)},
		{Name: "lighting", Reads: append(append([]*Resource{}, d.gbuffer...), d.depth), Writes: []*Resource{d.lit}},
		{Name: "transparent", Reads: []*Resource{d.lit}, Writes: []*Resource{d.lit}},
		{Name: "post", Reads: []*Resource{d.lit, d.depth}, Writes: []*Resource{d.ldr}},
		{Name: "tonemap", Reads: []*Resource{d.ldr}, Writes: []*Resource{d.swap}},
		{Name: "overlay", Reads: []*Resource{d.swap}, Writes: []*Resource{d.swap}},
	}
	for _, s := range stages {
		s.Recorder = d.recorder(s.Name)
		require.NoError(t, g.AddStage(s))
	}
	t.Cleanup(g.Destroy)
	return d
}

func TestCompileFollowsResourceDependencies(t *testing.T) {
	d := newDeferred(t, false)
	require.NoError(t, d.g.Compile())
	assert.Equal(t, []string{"opaque", "lighting", "transparent", "post", "tonemap", "overlay"}, d.g.Order())
}

func TestAfterReordersStages(t *testing.T) {
	g, err := New(Config{Device: gpu.NewHeadless()})
	require.NoError(t, err)
	require.NoError(t, g.AddStage(&Stage{Name: "x"}))
	require.NoError(t, g.AddStage(&Stage{Name: "y", After: []string{"z"}}))
	require.NoError(t, g.AddStage(&Stage{Name: "z"}))
	require.NoError(t, g.Compile())
	assert.Equal(t, []string{"x", "z", "y"}, g.Order())
}

func TestRandomGraphsAreOrderedDeterministically(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for trial := 0; trial < 50; trial++ {
		n := 2 + r.Intn(10)
		// stage "s<i>" may only follow stages with a lower i, inserted in random order
		after := make([][]string, n)
		var edges [][2]int
		for j := 0; j < n; j++ {
			for i := 0; i < j; i++ {
				if r.Float64() < 0.3 {
					after[j] = append(after[j], fmt.Sprintf("s%d", i))
					edges = append(edges, [2]int{i, j})
				}
			}
		}
		g, err := New(Config{Device: gpu.NewHeadless()})
		require.NoError(t, err)
		for _, i := range r.Perm(n) {
			require.NoError(t, g.AddStage(&Stage{Name: fmt.Sprintf("s%d", i), After: after[i]}))
		}
		require.NoError(t, g.Compile())
		order := g.Order()
		require.Len(t, order, n)

		pos := make(map[string]int, n)
		for p, name := range order {
			pos[name] = p
		}
		for _, e := range edges {
			assert.Less(t, pos[fmt.Sprintf("s%d", e[0])], pos[fmt.Sprintf("s%d", e[1])], "trial %d", trial)
		}

		require.NoError(t, g.Compile())
		assert.Equal(t, order, g.Order(), "trial %d", trial)
		g.Destroy()
	}
}

func TestIndependentStagesKeepInsertionOrder(t *testing.T) {
	g, err := New(Config{Device: gpu.NewHeadless()})
	require.NoError(t, err)
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, g.AddStage(&Stage{Name: name}))
	}
	require.NoError(t, g.Compile())
	assert.Equal(t, []string{"c", "a", "b"}, g.Order())
}

func TestCycleNamesTheSameStagesEveryTime(t *testing.T) {
	g, err := New(Config{Device: gpu.NewHeadless()})
	require.NoError(t, err)
	require.NoError(t, g.AddStage(&Stage{Name: "a", After: []string{"c"}}))
	require.NoError(t, g.AddStage(&Stage{Name: "b", After: []string{"a"}}))
	require.NoError(t, g.AddStage(&Stage{Name: "c", After: []string{"b"}}))
	require.NoError(t, g.AddStage(&Stage{Name: "d"}))

	var messages []string
	for i := 0; i < 3; i++ {
		err := g.Compile()
		require.ErrorIs(t, err, core.ErrGraphCycle)
		messages = append(messages, err.Error())
	}
	assert.True(t, strings.HasSuffix(messages[0], ": a, b, c"), messages[0])
	assert.Equal(t, messages[0], messages[1])
	assert.Equal(t, messages[1], messages[2])
	assert.False(t, g.IsCompiled())

	err = g.Execute(context.Background(), 0)
	assert.ErrorIs(t, err, core.ErrGraphCycle)
}

func TestCompileRejectsInvalidStages(t *testing.T) {
	g, err := New(Config{Device: gpu.NewHeadless()})
	require.NoError(t, err)
	assert.ErrorIs(t, g.AddStage(&Stage{}), ErrStageName)
	require.NoError(t, g.AddStage(&Stage{Name: "a"}))
	assert.ErrorIs(t, g.AddStage(&Stage{Name: "a"}), ErrStageName)

	tests := []struct {
		name  string
		stage func(g *Graph) *Stage
		err   error
	}{
		{"read before write", func(g *Graph) *Stage {
			r, _ := g.AddImage(gpu.ImageDesc{Name: "never", Format: gpu.FormatRGBA8})
			return &Stage{Name: "reader", Reads: []*Resource{r}}
		}, core.ErrUnknownResource},
		{"unregistered image", func(g *Graph) *Stage {
			return &Stage{Name: "writer", Writes: []*Resource{{Name: "stray"}}}
		}, core.ErrUnknownResource},
		{"unknown predecessor", func(g *Graph) *Stage {
			return &Stage{Name: "late", After: []string{"missing"}}
		}, ErrUnknownStage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(Config{Device: gpu.NewHeadless()})
			require.NoError(t, err)
			require.NoError(t, g.AddStage(tt.stage(g)))
			assert.ErrorIs(t, g.Compile(), tt.err)
		})
	}
}

func TestImportedImagesMayBeReadFirst(t *testing.T) {
	g, err := New(Config{Device: gpu.NewHeadless()})
	require.NoError(t, err)
	history := g.Import("history", gpu.Image(77), gpu.ImageDesc{Format: gpu.FormatRGBA16F}, gpu.ImageLayoutShaderRead)
	out, err := g.AddImage(gpu.ImageDesc{Name: "out", Format: gpu.FormatRGBA16F})
	require.NoError(t, err)
	require.NoError(t, g.AddStage(&Stage{Name: "taa", Reads: []*Resource{history}, Writes: []*Resource{out}}))
	require.NoError(t, g.Compile())

	// already in the sampled layout
	before, _ := g.Barriers("taa")
	assert.Empty(t, before)
}

func TestBarrierOnlyWhereDependencyIsNotSatisfied(t *testing.T) {
	d := newDeferred(t, false)
	require.NoError(t, d.g.Compile())

	before, after := d.g.Barriers("opaque")
	assert.Empty(t, before, "first use of every target")
	assert.Empty(t, after)

	before, _ = d.g.Barriers("lighting")
	require.Len(t, before, 4)
	for _, b := range before[:3] {
		assert.Equal(t, gpu.ImageLayoutColourAttachment, b.OldLayout)
		assert.Equal(t, gpu.ImageLayoutShaderRead, b.NewLayout)
		assert.False(t, b.Depth)
	}
	assert.Equal(t, d.depth.Image, before[3].Image)
	assert.True(t, before[3].Depth)
	assert.Equal(t, gpu.ImageLayoutDepthAttachment, before[3].OldLayout)

	// lit is written twice in a row
	before, _ = d.g.Barriers("transparent")
	require.Len(t, before, 1)
	assert.Equal(t, gpu.ImageLayoutColourAttachment, before[0].NewLayout)
	assert.Equal(t, gpu.AccessColourAttachmentWrite, before[0].SrcAccess)

	// depth was already made readable for lighting
	before, _ = d.g.Barriers("post")
	require.Len(t, before, 1)
	assert.Equal(t, d.lit.Image, before[0].Image)

	_, after = d.g.Barriers("overlay")
	require.Len(t, after, 1)
	assert.Equal(t, d.swap.Image, after[0].Image)
	assert.Equal(t, gpu.ImageLayoutPresent, after[0].NewLayout)

	require.NoError(t, d.g.Execute(context.Background(), 0))
	cb := d.g.CommandBuffer("lighting", 0).(*gpu.HeadlessCommandBuffer)
	commands := cb.Commands()
	require.Len(t, commands, 2)
	assert.Equal(t, "barrier", commands[0].Op)
	// lit enters its first use in the frame, then the four reads
	require.Len(t, commands[0].Barriers, 5)
	assert.Equal(t, d.lit.Image, commands[0].Barriers[0].Image)
	assert.Equal(t, "draw", commands[1].Op)
}

func TestOwnedImagesCarryTheirLayoutAcrossFrames(t *testing.T) {
	d := newDeferred(t, false)
	require.NoError(t, d.g.Compile())

	fresh, carried := d.g.EntryBarriers("opaque")
	require.Len(t, fresh, 4)
	require.Len(t, carried, 4)
	for i := range fresh {
		assert.Equal(t, gpu.ImageLayoutUndefined, fresh[i].OldLayout)
		// the previous frame left every target sampled
		assert.Equal(t, gpu.ImageLayoutShaderRead, carried[i].OldLayout)
		assert.Equal(t, fresh[i].NewLayout, carried[i].NewLayout)
	}
	assert.Equal(t, gpu.ImageLayoutDepthAttachment, fresh[3].NewLayout)

	// the imported swapchain image has no owned layout to carry
	fresh, carried = d.g.EntryBarriers("tonemap")
	assert.Empty(t, fresh)
	assert.Empty(t, carried)

	first := func(stage string, frame int) gpu.Command {
		return d.g.CommandBuffer(stage, frame).(*gpu.HeadlessCommandBuffer).Commands()[0]
	}
	require.NoError(t, d.g.Execute(context.Background(), 0))
	assert.Equal(t, gpu.ImageLayoutUndefined, first("opaque", 0).Barriers[0].OldLayout)
	require.NoError(t, d.g.Execute(context.Background(), 1))
	assert.Equal(t, gpu.ImageLayoutShaderRead, first("opaque", 1).Barriers[0].OldLayout)

	// recreated frame resources start from undefined contents again
	d.dev.FailSubmits(1, core.ErrOutOfDate)
	require.Error(t, d.g.Execute(context.Background(), 2))
	require.NoError(t, d.g.Execute(context.Background(), 3))
	assert.Equal(t, gpu.ImageLayoutUndefined, first("opaque", 3).Barriers[0].OldLayout)
}

type updatingRecorder struct {
	log  *[]string
	name string
}

func (u updatingRecorder) UpdateFrame(frame int) error {
	*u.log = append(*u.log, fmt.Sprintf("update %s %d", u.name, frame))
	return nil
}

func (u updatingRecorder) Record(cb gpu.CommandBuffer, frame int) error {
	*u.log = append(*u.log, fmt.Sprintf("record %s %d", u.name, frame))
	cb.Draw(3, 1)
	return nil
}

func TestFrameUpdatersRunBeforeRecording(t *testing.T) {
	g, err := New(Config{Device: gpu.NewHeadless(), Frames: 2})
	require.NoError(t, err)
	t.Cleanup(g.Destroy)
	var log []string
	out, err := g.AddImage(gpu.ImageDesc{Name: "out", Format: gpu.FormatRGBA8})
	require.NoError(t, err)
	require.NoError(t, g.AddStage(&Stage{Name: "a", Writes: []*Resource{out}, Recorder: updatingRecorder{&log, "a"}}))
	require.NoError(t, g.AddStage(&Stage{Name: "b", Reads: []*Resource{out}, Recorder: updatingRecorder{&log, "b"}}))
	require.NoError(t, g.AddStage(&Stage{Name: "plain", After: []string{"b"}}))

	require.NoError(t, g.Execute(context.Background(), 1))
	assert.Equal(t, []string{"update a 1", "update b 1", "record a 1", "record b 1"}, log)
}

func TestSubmissionsWaitOnTheirPredecessors(t *testing.T) {
	d := newDeferred(t, true)
	require.NoError(t, d.g.Execute(context.Background(), 0))

	subs := d.dev.Submissions()
	require.Len(t, subs, 6)
	var names []string
	for _, s := range subs {
		require.Len(t, s.CommandBuffers, 1)
		names = append(names, s.CommandBuffers[0])
	}
	assert.Equal(t, []string{
		"deferred/opaque/0", "deferred/lighting/0", "deferred/transparent/0",
		"deferred/post/0", "deferred/tonemap/0", "deferred/overlay/0",
	}, names)

	assert.Empty(t, subs[0].Wait)
	// post reads depth from opaque and lit from transparent
	assert.Len(t, subs[3].Wait, 2)

	signalled := map[gpu.Semaphore]bool{}
	for i, s := range subs {
		for _, w := range s.Wait {
			assert.True(t, signalled[w], "submission %d waits on a semaphore no predecessor signals", i)
		}
		for _, sig := range s.Signal {
			signalled[sig] = true
		}
		if i < len(subs)-1 {
			assert.Zero(t, s.Fence)
		}
	}
	assert.Equal(t, d.g.Fence(0), subs[5].Fence)
	assert.Equal(t, []gpu.Image{d.swap.Image}, d.dev.Presents())

	for _, stage := range d.g.Order() {
		assert.Equal(t, []int{0}, d.frames[stage])
	}
}

func TestFramesInFlightUseDistinctResources(t *testing.T) {
	d := newDeferred(t, true)
	ctx := context.Background()
	require.NoError(t, d.g.Execute(ctx, 0))
	require.NoError(t, d.g.Execute(ctx, 1))

	subs := d.dev.Submissions()
	require.Len(t, subs, 12)
	semaphores := func(records []gpu.SubmitRecord) map[gpu.Semaphore]bool {
		set := map[gpu.Semaphore]bool{}
		for _, r := range records {
			for _, s := range r.Signal {
				set[s] = true
			}
		}
		return set
	}
	first, second := semaphores(subs[:6]), semaphores(subs[6:])
	for s := range first {
		assert.False(t, second[s], "semaphore %d shared between frames", s)
	}
	assert.NotEqual(t, d.g.Fence(0), d.g.Fence(1))
	assert.Equal(t, "deferred/opaque/1", subs[6].CommandBuffers[0])
	assert.NotSame(t, d.g.CommandBuffer("opaque", 0), d.g.CommandBuffer("opaque", 1))

	// frame 2 reuses slot 0 once its fence signalled
	require.NoError(t, d.g.Execute(ctx, 2))
	subs = d.dev.Submissions()
	assert.Equal(t, "deferred/opaque/0", subs[12].CommandBuffers[0])
	assert.Equal(t, d.g.Fence(2), subs[17].Fence)
	assert.Len(t, d.dev.Presents(), 3)
}

func TestDeviceLostAbortsTheFrame(t *testing.T) {
	d := newDeferred(t, true)
	ctx := context.Background()
	require.NoError(t, d.g.Execute(ctx, 0))

	d.dev.LoseDevice()
	err := d.g.Execute(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRecreateRequired)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.Len(t, d.dev.Submissions(), 6, "nothing of the aborted frame is submitted")
	assert.Len(t, d.dev.Presents(), 1)
	assert.Equal(t, uint64(1), d.metrics.FramesAborted.Load())
	for _, stage := range d.g.Order() {
		assert.False(t, d.g.CommandBuffer(stage, 1).Recorded(), stage)
	}

	d.dev.Restore()
	require.NoError(t, d.g.Execute(ctx, 2))
	assert.Len(t, d.dev.Presents(), 2)
}

func TestOutOfDateSubmissionSkipsPresent(t *testing.T) {
	d := newDeferred(t, false)
	ctx := context.Background()
	d.dev.FailSubmits(1, core.ErrOutOfDate)

	err := d.g.Execute(ctx, 0)
	assert.ErrorIs(t, err, core.ErrRecreateRequired)
	assert.ErrorIs(t, err, core.ErrOutOfDate)
	assert.Empty(t, d.dev.Presents())

	require.NoError(t, d.g.Execute(ctx, 1))
	assert.Len(t, d.dev.Presents(), 1)
}

func TestRecorderFailureResetsEveryBuffer(t *testing.T) {
	d := newDeferred(t, false)
	boom := errors.New("boom")
	d.g.stages[3].Recorder = RecordFunc(func(gpu.CommandBuffer, int) error { return boom })

	err := d.g.Execute(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, core.ErrRecreateRequired)
	assert.Empty(t, d.dev.Submissions())
	for _, stage := range d.g.Order() {
		assert.False(t, d.g.CommandBuffer(stage, 0).Recorded(), stage)
	}
}

func TestAddingAStageRecompiles(t *testing.T) {
	d := newDeferred(t, false)
	require.NoError(t, d.g.Compile())
	require.NoError(t, d.g.AddStage(&Stage{Name: "debug", Reads: []*Resource{d.depth}, After: []string{"opaque"}}))
	assert.False(t, d.g.IsCompiled())

	require.NoError(t, d.g.Execute(context.Background(), 0))
	assert.True(t, d.g.IsCompiled())
	// ready stages are taken in insertion order, so it runs last
	assert.Equal(t, []string{"opaque", "lighting", "transparent", "post", "tonemap", "overlay", "debug"}, d.g.Order())
}

func TestDestroyReleasesEverything(t *testing.T) {
	d := newDeferred(t, true)
	ctx := context.Background()
	require.NoError(t, d.g.Execute(ctx, 0))
	require.NoError(t, d.g.Execute(ctx, 1))
	assert.NotZero(t, d.dev.Live("semaphore"))

	d.g.Destroy()
	assert.Zero(t, d.dev.Live(""))
	assert.ErrorIs(t, d.g.Execute(ctx, 2), ErrGraphDestroyed)
}
