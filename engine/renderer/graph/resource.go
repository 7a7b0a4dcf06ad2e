package graph

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Resource is an image stages exchange. Images made by AddImage belong to the
// graph; imported ones (swapchain images, history buffers) do not.
type Resource struct {
	ID    uuid.UUID
	Name  string
	Image gpu.Image
	Desc  gpu.ImageDesc
	// Imported resources hold valid content before any stage writes them.
	Imported bool
	// Layout the image is in when a frame starts.
	Layout gpu.ImageLayout

	owned bool
}

func (r *Resource) IsDepth() bool {
	return r.Desc.Format.IsDepth()
}

// usage is the last way a resource was touched while walking the stages.
type usage struct {
	used   bool
	layout gpu.ImageLayout
	stage  gpu.PipelineStage
	access gpu.Access
	write  bool
}

func sampled() usage {
	return usage{
		used:   true,
		layout: gpu.ImageLayoutShaderRead,
		stage:  gpu.StageFragmentShader,
		access: gpu.AccessShaderRead,
	}
}

func attachment(r *Resource, read bool) usage {
	if r.IsDepth() {
		u := usage{
			used:   true,
			layout: gpu.ImageLayoutDepthAttachment,
			stage:  gpu.StageEarlyFragmentTests | gpu.StageLateFragmentTests,
			access: gpu.AccessDepthAttachmentWrite,
			write:  true,
		}
		if read {
			u.access |= gpu.AccessDepthAttachmentRead
		}
		return u
	}
	u := usage{
		used:   true,
		layout: gpu.ImageLayoutColourAttachment,
		stage:  gpu.StageColourAttachmentOutput,
		access: gpu.AccessColourAttachmentWrite,
		write:  true,
	}
	if read {
		u.access |= gpu.AccessColourAttachmentRead
	}
	return u
}

func presented() usage {
	return usage{
		used:   true,
		layout: gpu.ImageLayoutPresent,
		stage:  gpu.StageBottomOfPipe,
		access: gpu.AccessMemoryRead,
	}
}

// transition returns the barrier taking r from prev to next. No barrier is
// needed on first use in a frame, nor between two reads in the same layout.
func transition(r *Resource, prev, next usage) (gpu.Barrier, bool) {
	if !prev.used {
		return gpu.Barrier{}, false
	}
	if prev.layout == next.layout && !prev.write && !next.write {
		return gpu.Barrier{}, false
	}
	return gpu.Barrier{
		Image:     r.Image,
		SrcStage:  prev.stage,
		DstStage:  next.stage,
		SrcAccess: prev.access,
		DstAccess: next.access,
		OldLayout: prev.layout,
		NewLayout: next.layout,
		Depth:     r.IsDepth(),
	}, true
}
