package pipeline

import "github.com/spaghettifunk/lumen/engine/renderer/gpu"

// NewBlendState derives the colour blend state of every attachment from the
// colour and alpha blend modes.
func NewBlendState(colourMode, alphaMode BlendMode, attachments uint32) gpu.BlendState {
	attach := gpu.BlendAttachment{}

	switch colourMode {
	case BlendModeNoBlend:
		attach.SrcColour = gpu.BlendFactorOne
		attach.DstColour = gpu.BlendFactorZero
	case BlendModeAdditive:
		attach.Enable = true
		attach.SrcColour = gpu.BlendFactorOne
		attach.DstColour = gpu.BlendFactorOne
	case BlendModeMultiplicative:
		attach.Enable = true
		attach.SrcColour = gpu.BlendFactorZero
		attach.DstColour = gpu.BlendFactorInvSrcColour
	default:
		attach.Enable = true
		attach.SrcColour = gpu.BlendFactorSrcColour
		attach.DstColour = gpu.BlendFactorInvSrcColour
	}

	// the alpha mode may override the colour factors
	switch alphaMode {
	case BlendModeNoBlend:
		attach.SrcAlpha = gpu.BlendFactorOne
		attach.DstAlpha = gpu.BlendFactorZero
	case BlendModeAdditive:
		attach.Enable = true
		attach.SrcAlpha = gpu.BlendFactorOne
		attach.DstAlpha = gpu.BlendFactorOne
	case BlendModeMultiplicative:
		attach.Enable = true
		attach.SrcAlpha = gpu.BlendFactorZero
		attach.DstAlpha = gpu.BlendFactorInvSrcAlpha
		attach.SrcColour = gpu.BlendFactorZero
		attach.DstColour = gpu.BlendFactorInvSrcAlpha
	default:
		attach.Enable = true
		attach.SrcAlpha = gpu.BlendFactorSrcAlpha
		attach.DstAlpha = gpu.BlendFactorInvSrcAlpha
		attach.SrcColour = gpu.BlendFactorSrcAlpha
		attach.DstColour = gpu.BlendFactorInvSrcAlpha
	}

	state := gpu.BlendState{Attachments: make([]gpu.BlendAttachment, attachments)}
	for i := range state.Attachments {
		state.Attachments[i] = attach
	}
	return state
}

// DepthMode tells how a pass uses the depth buffer.
type DepthMode uint8

const (
	// test and write, the usual opaque geometry pass
	DepthReadWrite DepthMode = iota
	// test against a depth prepass, write nothing
	DepthReadOnly
	// test with equality against a depth prepass
	DepthEqual
	DepthDisabled
)

func NewDepthStencilState(mode DepthMode) gpu.DepthStencilState {
	switch mode {
	case DepthReadOnly:
		return gpu.DepthStencilState{DepthTest: true, DepthCompare: gpu.CompareOpLessOrEqual}
	case DepthEqual:
		return gpu.DepthStencilState{DepthTest: true, DepthCompare: gpu.CompareOpEqual}
	case DepthDisabled:
		return gpu.DepthStencilState{DepthCompare: gpu.CompareOpAlways}
	}
	return gpu.DepthStencilState{DepthTest: true, DepthWrite: true, DepthCompare: gpu.CompareOpLessOrEqual}
}

func NewRasterizerState(cull gpu.CullMode) gpu.RasterizerState {
	return gpu.RasterizerState{Cull: cull}
}
