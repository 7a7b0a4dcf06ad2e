package gpu

type ImageLayout uint8

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutColourAttachment
	ImageLayoutDepthAttachment
	ImageLayoutShaderRead
	ImageLayoutGeneral
	ImageLayoutTransferSrc
	ImageLayoutPresent
)

type Access uint16

const (
	AccessNone                  Access = 0
	AccessColourAttachmentRead  Access = 1 << 0
	AccessColourAttachmentWrite Access = 1 << 1
	AccessDepthAttachmentRead   Access = 1 << 2
	AccessDepthAttachmentWrite  Access = 1 << 3
	AccessShaderRead            Access = 1 << 4
	AccessShaderWrite           Access = 1 << 5
	AccessTransferRead          Access = 1 << 6
	AccessMemoryRead            Access = 1 << 7
)

type PipelineStage uint16

const (
	StageTopOfPipe              PipelineStage = 1 << 0
	StageVertexShader           PipelineStage = 1 << 1
	StageFragmentShader         PipelineStage = 1 << 2
	StageEarlyFragmentTests     PipelineStage = 1 << 3
	StageLateFragmentTests      PipelineStage = 1 << 4
	StageColourAttachmentOutput PipelineStage = 1 << 5
	StageComputeShader          PipelineStage = 1 << 6
	StageTransfer               PipelineStage = 1 << 7
	StageBottomOfPipe           PipelineStage = 1 << 8
)

// Barrier is a memory dependency on one image or buffer. Exactly one of
// Image and Buffer is set.
type Barrier struct {
	Image     Image
	Buffer    Buffer
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
	OldLayout ImageLayout
	NewLayout ImageLayout
	Depth     bool
}

// SubmitInfo describes one queue submission. The device waits on every
// semaphore in Wait before the command buffers execute, and signals every
// semaphore in Signal plus the optional fence when they complete.
type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Wait           []Semaphore
	WaitStages     []PipelineStage
	Signal         []Semaphore
	Fence          Fence
}
