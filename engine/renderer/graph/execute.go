package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/systems"
)

// frameSlot holds the per frame in flight synchronisation objects. Nothing in a
// frame is shared with another.
type frameSlot struct {
	index int
	// one primary buffer per stage, by insertion index
	commandBuffers []gpu.CommandBuffer
	semaphores     map[edge]gpu.Semaphore
	finished       gpu.Semaphore
	fence          gpu.Fence
}

func (g *Graph) createFrames() error {
	var failed error
	g.primed = false
	g.frames = containers.NewFrameRing(g.cfg.Frames, func(index int) *frameSlot {
		f := &frameSlot{index: index, semaphores: make(map[edge]gpu.Semaphore)}
		if failed != nil {
			return f
		}
		failed = g.createFrame(f)
		return f
	})
	if failed != nil {
		core.LogError("%s: failed to create frame resources: %s", g.cfg.Name, failed)
		g.destroyFrames()
		return failed
	}
	return nil
}

func (g *Graph) createFrame(f *frameSlot) error {
	dev := g.cfg.Device
	f.commandBuffers = make([]gpu.CommandBuffer, len(g.stages))
	for _, cs := range g.order {
		cb, err := dev.CreateCommandBuffer(fmt.Sprintf("%s/%s/%d", g.cfg.Name, cs.stage.Name, f.index))
		if err != nil {
			return err
		}
		f.commandBuffers[cs.index] = cb
	}
	for _, e := range g.edges {
		s, err := dev.CreateSemaphore()
		if err != nil {
			return err
		}
		f.semaphores[e] = s
	}
	if g.present != nil {
		s, err := dev.CreateSemaphore()
		if err != nil {
			return err
		}
		f.finished = s
	}
	// signalled so the first use does not wait forever
	fence, err := dev.CreateFence(true)
	if err != nil {
		return err
	}
	f.fence = fence
	return nil
}

func (g *Graph) destroyFrames() {
	if g.frames == nil {
		return
	}
	dev := g.cfg.Device
	if err := dev.WaitIdle(); err != nil {
		core.LogWarn("%s: wait idle before releasing frames: %s", g.cfg.Name, err)
	}
	g.frames.Each(func(_ int, f *frameSlot) {
		for _, cb := range f.commandBuffers {
			if cb != nil {
				cb.Free()
			}
		}
		for _, s := range f.semaphores {
			dev.DestroySemaphore(s)
		}
		if f.finished != 0 {
			dev.DestroySemaphore(f.finished)
		}
		if f.fence != 0 {
			dev.DestroyFence(f.fence)
		}
	})
	g.frames = nil
}

// CommandBuffer returns the primary buffer a stage records into for a frame.
func (g *Graph) CommandBuffer(stage string, frame int) gpu.CommandBuffer {
	i, ok := g.byName[stage]
	if !ok || g.frames == nil {
		return nil
	}
	return g.frames.At(frame).commandBuffers[i]
}

// Fence returns the fence guarding a frame slot.
func (g *Graph) Fence(frame int) gpu.Fence {
	if g.frames == nil {
		return 0
	}
	return g.frames.At(frame).fence
}

/**
 * @brief Records and submits every stage for one frame, then presents.
 *
 * The frame first waits on the fence of its slot, then runs the frame
 * updaters of the stages in order. Stages are recorded in
 * parallel and submitted in order; each submission waits on the semaphores
 * signalled by its direct predecessors. A device lost, out of date or out of
 * memory condition aborts the rest of the frame without presenting and
 * returns core.ErrRecreateRequired wrapping the cause.
 * @param frame The frame number; frame modulo Frames picks the slot.
 */
func (g *Graph) Execute(ctx context.Context, frame int) error {
	if g.destroyed {
		return ErrGraphDestroyed
	}
	if !g.compiled {
		if err := g.Compile(); err != nil {
			return err
		}
	}
	if g.stale {
		// a previous abort may have left semaphores signalled
		g.destroyFrames()
		if err := g.createFrames(); err != nil {
			return g.abort(frame, err)
		}
		g.stale = false
	}

	f := g.frames.At(frame)
	if err := g.cfg.Device.WaitForFence(ctx, f.fence); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return g.abort(frame, err)
	}
	if err := g.updateAll(frame); err != nil {
		return g.abort(frame, err)
	}
	if err := g.recordAll(f, frame); err != nil {
		g.resetAll(f)
		return g.abort(frame, err)
	}
	if err := g.submitAll(f); err != nil {
		return g.abort(frame, err)
	}
	g.primed = true
	if g.present != nil {
		if err := g.cfg.Device.Present(g.present.Image, []gpu.Semaphore{f.finished}); err != nil {
			return g.abort(frame, err)
		}
	}
	return nil
}

// updateAll runs the frame updaters in stage order. The fence of the slot
// was waited on, so nothing the GPU still reads belongs to this slot.
func (g *Graph) updateAll(frame int) error {
	for _, cs := range g.order {
		u, ok := cs.stage.Recorder.(FrameUpdater)
		if !ok {
			continue
		}
		if err := u.UpdateFrame(frame); err != nil {
			return fmt.Errorf("%s: %w", cs.stage.Name, err)
		}
	}
	return nil
}

func (g *Graph) recordAll(f *frameSlot, frame int) error {
	if g.cfg.Jobs == nil {
		for _, cs := range g.order {
			if err := g.record(cs, f.commandBuffers[cs.index], frame); err != nil {
				return fmt.Errorf("%s: %w", cs.stage.Name, err)
			}
		}
		return nil
	}
	tasks := make([]systems.JobTask, 0, len(g.order))
	for _, cs := range g.order {
		cs := cs
		cb := f.commandBuffers[cs.index]
		tasks = append(tasks, systems.JobTask{
			Name: fmt.Sprintf("%s/%s", g.cfg.Name, cs.stage.Name),
			Run:  func() error { return g.record(cs, cb, frame) },
		})
	}
	return g.cfg.Jobs.RunAll(tasks)
}

// record leaves cb either fully recorded or reset.
func (g *Graph) record(cs *compiledStage, cb gpu.CommandBuffer, frame int) error {
	if err := cb.Begin(); err != nil {
		cb.Reset()
		return err
	}
	entry := cs.carried
	if !g.primed {
		entry = cs.fresh
	}
	if len(entry)+len(cs.before) > 0 {
		cb.PipelineBarrier(append(slices.Clip(entry), cs.before...)...)
	}
	if cs.stage.Recorder != nil {
		if err := cs.stage.Recorder.Record(cb, frame); err != nil {
			cb.Reset()
			return err
		}
	}
	if len(cs.after) > 0 {
		cb.PipelineBarrier(cs.after...)
	}
	if err := cb.End(); err != nil {
		cb.Reset()
		return err
	}
	return nil
}

func (g *Graph) submitAll(f *frameSlot) error {
	last := len(g.order) - 1
	for i, cs := range g.order {
		info := gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{f.commandBuffers[cs.index]}}
		for _, p := range cs.preds {
			info.Wait = append(info.Wait, f.semaphores[edge{p, cs.index}])
			info.WaitStages = append(info.WaitStages, gpu.StageFragmentShader|gpu.StageColourAttachmentOutput)
		}
		for _, s := range cs.succs {
			info.Signal = append(info.Signal, f.semaphores[edge{cs.index, s}])
		}
		if i == last {
			if g.present != nil {
				info.Signal = append(info.Signal, f.finished)
			}
			if err := g.cfg.Device.ResetFence(f.fence); err != nil {
				return err
			}
			info.Fence = f.fence
		}
		if err := g.cfg.Device.Submit(info); err != nil {
			return fmt.Errorf("%s: %w", cs.stage.Name, err)
		}
	}
	return nil
}

func (g *Graph) resetAll(f *frameSlot) {
	for _, cb := range f.commandBuffers {
		if cb != nil {
			cb.Reset()
		}
	}
}

// abort marks the frame resources for recreation and classifies err.
func (g *Graph) abort(frame int, err error) error {
	g.stale = true
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.FramesAborted.Add(1)
	}
	if core.IsRecreateCondition(err) {
		core.LogWarn("%s: frame %d aborted: %s", g.cfg.Name, frame, err)
		return fmt.Errorf("%w: %w", core.ErrRecreateRequired, err)
	}
	core.LogError("%s: frame %d failed: %s", g.cfg.Name, frame, err)
	return err
}

// Destroy waits for the device and releases the frame resources and the
// images the graph created.
func (g *Graph) Destroy() {
	if g.destroyed {
		return
	}
	g.destroyFrames()
	for _, r := range g.resources {
		if r.owned {
			g.cfg.Device.DestroyImage(r.Image)
		}
	}
	g.resources = nil
	g.order = nil
	g.compiled = false
	g.destroyed = true
}
