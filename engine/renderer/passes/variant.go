package passes

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// Variant is what distinguishes one kind of nodes pass from another: which
// material passes, renderables and scene nodes it draws, and how it narrows
// pipeline flags.
type Variant interface {
	Name() string
	IsValidPass(p *scene.Pass) bool
	IsValidRenderable(r scene.Renderable) bool
	IsValidNode(n *scene.SceneNode) bool
	// AdjustFlags has no side effect; equal inputs give equal outputs.
	AdjustFlags(flags pipeline.Flags) (pipeline.Flags, error)
	// ShaderFlags are the program flags the variant adds to every pipeline.
	ShaderFlags() pipeline.ProgramFlags
	Traits() Traits
}

// Traits describe the targets and ordering of a variant.
type Traits struct {
	Colour    []gpu.Format
	Depth     gpu.Format
	DepthMode pipeline.DepthMode
	// targets are cleared when set, loaded otherwise
	Clear            bool
	SortsByDistance  bool
	OrderIndependent bool
}

func unsupported(variant, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", core.ErrUnsupportedFlags, variant, fmt.Sprintf(format, args...))
}

func noBlend(f pipeline.Flags) pipeline.Flags {
	f.ColourBlendMode = pipeline.BlendModeNoBlend
	f.AlphaBlendMode = pipeline.BlendModeNoBlend
	f.PassFlags &^= pipeline.PassFlagAlphaBlending | pipeline.PassFlagOrderIndependent
	return f
}

/**
 * @brief Fills the geometry buffer of the deferred renderer. Lighting is
 * resolved later, so lit programs are not needed.
 */
type Opaque struct{}

func (Opaque) Name() string { return "opaque" }

func (Opaque) IsValidPass(p *scene.Pass) bool { return !p.HasAlphaBlending() }

func (Opaque) IsValidRenderable(scene.Renderable) bool { return true }

func (Opaque) IsValidNode(n *scene.SceneNode) bool { return n.Visible }

func (Opaque) AdjustFlags(f pipeline.Flags) (pipeline.Flags, error) {
	if f.PassFlags.Has(pipeline.PassFlagAlphaBlending) {
		return f, unsupported("opaque", "alpha blending")
	}
	if f.ProgramFlags.IsShadowMapProgram() {
		return f, unsupported("opaque", "shadow map program")
	}
	f.ProgramFlags &^= pipeline.ProgramLighting
	return noBlend(f), nil
}

func (Opaque) ShaderFlags() pipeline.ProgramFlags { return 0 }

func (Opaque) Traits() Traits {
	return Traits{
		// albedo, normal, material
		Colour:    []gpu.Format{gpu.FormatRGBA16F, gpu.FormatRGBA16F, gpu.FormatRGBA8},
		Depth:     gpu.FormatD32,
		DepthMode: pipeline.DepthReadWrite,
		Clear:     true,
	}
}

// Transparent draws blended passes, lit, over the resolved opaque image.
// Without order independence nodes are drawn back to front.
type Transparent struct {
	OrderIndependent bool
}

func (Transparent) Name() string { return "transparent" }

func (Transparent) IsValidPass(p *scene.Pass) bool { return p.HasAlphaBlending() }

func (Transparent) IsValidRenderable(scene.Renderable) bool { return true }

func (Transparent) IsValidNode(n *scene.SceneNode) bool { return n.Visible }

func (t Transparent) AdjustFlags(f pipeline.Flags) (pipeline.Flags, error) {
	if f.ProgramFlags.IsShadowMapProgram() {
		return f, unsupported("transparent", "shadow map program")
	}
	if f.ProgramFlags.HasAny(pipeline.ProgramPicking | pipeline.ProgramVisibility) {
		return f, unsupported("transparent", "id output")
	}
	if t.OrderIndependent {
		f.PassFlags |= pipeline.PassFlagOrderIndependent
		f.AlphaBlendMode = pipeline.BlendModeABuffer
	} else {
		f.PassFlags &^= pipeline.PassFlagOrderIndependent
	}
	return f, nil
}

func (Transparent) ShaderFlags() pipeline.ProgramFlags { return 0 }

func (t Transparent) Traits() Traits {
	return Traits{
		Colour:           []gpu.Format{gpu.FormatRGBA16F},
		Depth:            gpu.FormatD32,
		DepthMode:        pipeline.DepthReadOnly,
		SortsByDistance:  !t.OrderIndependent,
		OrderIndependent: t.OrderIndependent,
	}
}

type LightType uint8

const (
	LightDirectional LightType = iota
	LightSpot
	LightPoint
)

func (l LightType) String() string {
	switch l {
	case LightDirectional:
		return "directional"
	case LightSpot:
		return "spot"
	case LightPoint:
		return "point"
	}
	return fmt.Sprintf("light(%d)", uint8(l))
}

func (l LightType) programFlag() pipeline.ProgramFlags {
	switch l {
	case LightSpot:
		return pipeline.ProgramShadowMapSpot
	case LightPoint:
		return pipeline.ProgramShadowMapPoint
	}
	return pipeline.ProgramShadowMapDirectional
}

// Shadow renders the depth moments of shadow casters for one light type.
type Shadow struct {
	Light LightType
}

func (s Shadow) Name() string { return "shadow_" + s.Light.String() }

func (Shadow) IsValidPass(*scene.Pass) bool { return true }

func (Shadow) IsValidRenderable(scene.Renderable) bool { return true }

func (Shadow) IsValidNode(n *scene.SceneNode) bool { return n.Visible && n.ShadowCaster }

func (s Shadow) AdjustFlags(f pipeline.Flags) (pipeline.Flags, error) {
	if f.ProgramFlags.HasAny(pipeline.ProgramPicking | pipeline.ProgramVisibility) {
		return f, unsupported(s.Name(), "id output")
	}
	f.ProgramFlags &^= pipeline.ProgramLighting | pipeline.ProgramShadowMap | pipeline.ProgramEnvironmentMapping
	f.ProgramFlags |= s.Light.programFlag()
	// only the opacity map still matters
	f.TextureFlags &= pipeline.TextureOpacity
	f.PassFlags &^= pipeline.PassFlagParallaxOcclusion | pipeline.PassFlagReflection | pipeline.PassFlagRefraction | pipeline.PassFlagPBR
	f.SceneFlags &= pipeline.SceneShadowFilterRaw | pipeline.SceneShadowFilterPCF | pipeline.SceneShadowFilterVSM
	return noBlend(f), nil
}

func (s Shadow) ShaderFlags() pipeline.ProgramFlags { return s.Light.programFlag() }

func (Shadow) Traits() Traits {
	return Traits{
		Colour:    []gpu.Format{gpu.FormatRGBA32F},
		Depth:     gpu.FormatD32,
		DepthMode: pipeline.DepthReadWrite,
		Clear:     true,
	}
}

// Picking writes node and primitive ids for every material pass.
type Picking struct{}

func (Picking) Name() string { return "picking" }

func (Picking) IsValidPass(*scene.Pass) bool { return true }

func (Picking) IsValidRenderable(scene.Renderable) bool { return true }

func (Picking) IsValidNode(n *scene.SceneNode) bool { return n.Visible }

func (Picking) AdjustFlags(f pipeline.Flags) (pipeline.Flags, error) {
	if f.ProgramFlags.IsShadowMapProgram() {
		return f, unsupported("picking", "shadow map program")
	}
	f.ProgramFlags &^= pipeline.ProgramLighting | pipeline.ProgramEnvironmentMapping
	f.TextureFlags &= pipeline.TextureOpacity
	f.SceneFlags = 0
	return noBlend(f), nil
}

func (Picking) ShaderFlags() pipeline.ProgramFlags { return pipeline.ProgramPicking }

func (Picking) Traits() Traits {
	return Traits{
		Colour:    []gpu.Format{gpu.FormatR32UI},
		Depth:     gpu.FormatD32,
		DepthMode: pipeline.DepthReadWrite,
		Clear:     true,
	}
}

// Visibility fills a visibility buffer with the opaque meshes. Billboards
// are left to the forward passes.
type Visibility struct{}

func (Visibility) Name() string { return "visibility" }

func (Visibility) IsValidPass(p *scene.Pass) bool { return !p.HasAlphaBlending() }

func (Visibility) IsValidRenderable(r scene.Renderable) bool { return !r.IsBillboard() }

func (Visibility) IsValidNode(n *scene.SceneNode) bool { return n.Visible }

func (Visibility) AdjustFlags(f pipeline.Flags) (pipeline.Flags, error) {
	if f.ProgramFlags.Has(pipeline.ProgramBillboards) {
		return f, unsupported("visibility", "billboards")
	}
	if f.PassFlags.Has(pipeline.PassFlagAlphaBlending) {
		return f, unsupported("visibility", "alpha blending")
	}
	if f.ProgramFlags.IsShadowMapProgram() {
		return f, unsupported("visibility", "shadow map program")
	}
	f.ProgramFlags &^= pipeline.ProgramLighting | pipeline.ProgramPicking | pipeline.ProgramEnvironmentMapping
	f.TextureFlags &= pipeline.TextureOpacity
	f.SceneFlags = 0
	return noBlend(f), nil
}

func (Visibility) ShaderFlags() pipeline.ProgramFlags { return pipeline.ProgramVisibility }

func (Visibility) Traits() Traits {
	return Traits{
		Colour:    []gpu.Format{gpu.FormatR32UI},
		Depth:     gpu.FormatD32,
		DepthMode: pipeline.DepthReadWrite,
		Clear:     true,
	}
}
