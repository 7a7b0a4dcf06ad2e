package gpu

import "fmt"

// Opaque device object handles. Zero is never a valid handle.
type (
	RenderPass          uint64
	Pipeline            uint64
	DescriptorSetLayout uint64
	DescriptorSet       uint64
	Semaphore           uint64
	Fence               uint64
	Buffer              uint64
	Image               uint64
	Framebuffer         uint64
)

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageGeometry
	ShaderStageFragment
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vert"
	case ShaderStageGeometry:
		return "geom"
	case ShaderStageFragment:
		return "frag"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// ShaderModule is one compiled stage. SPIRV may be empty for devices that
// accept source text.
type ShaderModule struct {
	Stage  ShaderStage
	Name   string
	Source string
	SPIRV  []byte
}

type Format uint8

const (
	FormatUndefined Format = iota
	FormatRGBA8
	FormatRGBA16F
	FormatRGBA32F
	FormatR32UI
	FormatD32
	FormatD24S8
)

func (f Format) IsDepth() bool {
	return f == FormatD32 || f == FormatD24S8
}

type Extent struct {
	Width, Height uint32
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type LoadOp uint8

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type Attachment struct {
	Format Format
	Load   LoadOp

	// the layout the image is left in after the pass
	FinalLayout ImageLayout
}

type RenderPassDesc struct {
	Name        string
	Colour      []Attachment
	Depth       *Attachment
	ClearColour [4]float32
	ClearDepth  float32
}

// Contents tells whether a render pass instance records draws inline or
// executes prerecorded bundles.
type Contents uint8

const (
	ContentsInline Contents = iota
	ContentsBundles
)

type CullMode uint8

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

func (c CullMode) String() string {
	switch c {
	case CullModeNone:
		return "none"
	case CullModeFront:
		return "front"
	case CullModeBack:
		return "back"
	}
	return fmt.Sprintf("cull(%d)", uint8(c))
}

type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

type CompareOp uint8

// Same order as the Vulkan enumeration.
const (
	CompareOpNever CompareOp = iota
	CompareOpLess
	CompareOpEqual
	CompareOpLessOrEqual
	CompareOpGreater
	CompareOpNotEqual
	CompareOpGreaterOrEqual
	CompareOpAlways
)

type BlendFactor uint8

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcColour
	BlendFactorInvSrcColour
	BlendFactorSrcAlpha
	BlendFactorInvSrcAlpha
)

type BlendAttachment struct {
	Enable    bool
	SrcColour BlendFactor
	DstColour BlendFactor
	SrcAlpha  BlendFactor
	DstAlpha  BlendFactor
}

type BlendState struct {
	Attachments []BlendAttachment
}

type StencilState struct {
	Enable    bool
	Compare   CompareOp
	Reference uint32
}

type DepthStencilState struct {
	DepthTest    bool
	DepthWrite   bool
	DepthCompare CompareOp
	Stencil      StencilState
}

type RasterizerState struct {
	Cull      CullMode
	Wireframe bool
}

type DescriptorType uint8

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorSampledImage
)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Name    string

	// stages reading the binding
	Vertex   bool
	Geometry bool
	Fragment bool
}

// DescriptorWrite points one binding of a descriptor set at a buffer range
// or at sampled images. Range zero means the whole buffer.
type DescriptorWrite struct {
	Binding uint32
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	Images  []Image
}

type PipelineDesc struct {
	Name         string
	RenderPass   RenderPass
	Shaders      []ShaderModule
	Layouts      []DescriptorSetLayout
	Topology     Topology
	Blend        BlendState
	DepthStencil DepthStencilState
	Rasterizer   RasterizerState

	// per instance vertex attributes are bound
	Instanced bool
	// vertices are generated in the vertex shader, no buffer is bound
	NoVertexInput bool
}

type BufferUsage uint8

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
)

type ImageUsage uint8

const (
	ImageUsageColourAttachment ImageUsage = 1 << iota
	ImageUsageDepthAttachment
	ImageUsageSampled
	ImageUsageStorage
)

type ImageDesc struct {
	Name   string
	Format Format
	Extent Extent
	Usage  ImageUsage
}

// GeometryBuffers references the device buffers of one submesh.
type GeometryBuffers struct {
	Vertex      Buffer
	Index       Buffer
	VertexCount uint32
	IndexCount  uint32

	// optional per instance buffer
	Instance Buffer
}
