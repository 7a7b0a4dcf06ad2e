package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type BlendMode uint8

const (
	BlendModeNoBlend BlendMode = iota
	BlendModeAdditive
	BlendModeMultiplicative
	BlendModeInterpolative
	BlendModeABuffer
	BlendModeDepthPeeling
)

type PassFlags uint16

const (
	PassFlagAlphaBlending PassFlags = 1 << iota
	PassFlagAlphaTest
	PassFlagTwoSided
	PassFlagOrderIndependent
	PassFlagParallaxOcclusion
	PassFlagReflection
	PassFlagRefraction
	PassFlagPBR
)

type TextureFlags uint32

const (
	TextureDiffuse TextureFlags = 1 << iota
	TextureNormal
	TextureOpacity
	TextureSpecular
	TextureEmissive
	TextureHeight
	TextureOcclusion
	TextureTransmittance
	TextureGloss

	TextureAll TextureFlags = 1<<iota - 1
)

type ProgramFlags uint32

const (
	ProgramInstantiation ProgramFlags = 1 << iota
	ProgramSkinning
	ProgramMorphing
	ProgramBillboards
	ProgramFixedSize
	ProgramSpherical
	ProgramPicking
	ProgramLighting
	ProgramShadowMapDirectional
	ProgramShadowMapSpot
	ProgramShadowMapPoint
	ProgramInvertNormals
	ProgramDepthPass
	ProgramEnvironmentMapping
	ProgramVisibility
	ProgramStatic

	ProgramShadowMap = ProgramShadowMapDirectional | ProgramShadowMapSpot | ProgramShadowMapPoint
)

type SceneFlags uint16

const (
	SceneFogLinear SceneFlags = 1 << iota
	SceneFogExponential
	SceneFogSquaredExponential
	SceneShadowFilterRaw
	SceneShadowFilterPCF
	SceneShadowFilterVSM
	SceneShadowDirectional
	SceneShadowSpot
	SceneShadowPoint
	SceneEnvironmentMap
)

// Flags is every axis of variation selecting a pipeline. It is comparable, so
// it keys maps directly, and it is totally ordered by Compare.
type Flags struct {
	ColourBlendMode BlendMode
	AlphaBlendMode  BlendMode
	PassFlags       PassFlags
	TextureFlags    TextureFlags
	TextureCount    uint32
	ProgramFlags    ProgramFlags
	SceneFlags      SceneFlags
	Topology        gpu.Topology
	AlphaFunc       gpu.CompareOp
}

func cmp[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare orders flags lexicographically over the fields in declaration order.
func (f Flags) Compare(o Flags) int {
	if c := cmp(f.ColourBlendMode, o.ColourBlendMode); c != 0 {
		return c
	}
	if c := cmp(f.AlphaBlendMode, o.AlphaBlendMode); c != 0 {
		return c
	}
	if c := cmp(f.PassFlags, o.PassFlags); c != 0 {
		return c
	}
	if c := cmp(f.TextureFlags, o.TextureFlags); c != 0 {
		return c
	}
	if c := cmp(f.TextureCount, o.TextureCount); c != 0 {
		return c
	}
	if c := cmp(f.ProgramFlags, o.ProgramFlags); c != 0 {
		return c
	}
	if c := cmp(f.SceneFlags, o.SceneFlags); c != 0 {
		return c
	}
	if c := cmp(f.Topology, o.Topology); c != 0 {
		return c
	}
	return cmp(f.AlphaFunc, o.AlphaFunc)
}

func (f Flags) Less(o Flags) bool {
	return f.Compare(o) < 0
}

func (f Flags) Equal(o Flags) bool {
	return f == o
}

// Hash packs the flags in 64 bits for logs and shader cache file names.
// Distinct flags may share a hash.
func (f Flags) Hash() uint64 {
	var h uint64
	offset := uint(0)
	put := func(v uint64, bits uint) {
		h ^= (v & (1<<bits - 1)) << offset
		offset = (offset + bits) % 64
	}
	put(uint64(f.ColourBlendMode), 3)
	put(uint64(f.AlphaBlendMode), 3)
	put(uint64(f.PassFlags), 8)
	put(uint64(f.TextureFlags), 9)
	put(uint64(f.TextureCount), 4)
	put(uint64(f.ProgramFlags), 16)
	put(uint64(f.SceneFlags), 10)
	put(uint64(f.Topology), 2)
	put(uint64(f.AlphaFunc), 3)
	return h
}

func (f Flags) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "blend(%d/%d) pass(%#x) tex(%#x x%d) prog(%#x) scene(%#x) topo(%d) alpha(%d)",
		f.ColourBlendMode, f.AlphaBlendMode, f.PassFlags, f.TextureFlags, f.TextureCount,
		f.ProgramFlags, f.SceneFlags, f.Topology, f.AlphaFunc)
	return sb.String()
}

func (p PassFlags) Has(flag PassFlags) bool       { return p&flag == flag }
func (t TextureFlags) Has(flag TextureFlags) bool { return t&flag == flag }
func (p ProgramFlags) Has(flag ProgramFlags) bool { return p&flag == flag }
func (s SceneFlags) Has(flag SceneFlags) bool     { return s&flag == flag }

// HasAny is true when at least one bit of mask is set.
func (p ProgramFlags) HasAny(mask ProgramFlags) bool { return p&mask != 0 }

// IsShadowMapProgram is true for any of the shadow map program variants.
func (p ProgramFlags) IsShadowMapProgram() bool {
	return p.HasAny(ProgramShadowMap)
}

// Count returns how many texture channels are set.
func (t TextureFlags) Count() uint32 {
	n := uint32(0)
	for v := t; v != 0; v &= v - 1 {
		n++
	}
	return n
}
