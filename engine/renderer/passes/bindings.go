package passes

import (
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
)

// Binding points of descriptor set 0. Textures live in set 1, one binding per
// texture channel in flag order.
const (
	BindingMatrices uint32 = iota
	BindingModel
	BindingSkinning
	BindingMorphing
	BindingBillboard
	BindingMaterial
	BindingLighting
	BindingShadowMaps
)

// Bindings selects the buffers a program reads from its flags.
func Bindings(flags pipeline.Flags) [][]gpu.DescriptorBinding {
	p := flags.ProgramFlags
	set := []gpu.DescriptorBinding{
		{Binding: BindingMatrices, Type: gpu.DescriptorUniformBuffer, Count: 1, Name: "matrices", Vertex: true, Geometry: p.Has(pipeline.ProgramBillboards)},
		{Binding: BindingModel, Type: gpu.DescriptorUniformBuffer, Count: 1, Name: "model", Vertex: true, Fragment: true},
	}
	if p.Has(pipeline.ProgramSkinning) {
		set = append(set, gpu.DescriptorBinding{Binding: BindingSkinning, Type: gpu.DescriptorStorageBuffer, Count: 1, Name: "skinning", Vertex: true})
	}
	if p.Has(pipeline.ProgramMorphing) {
		set = append(set, gpu.DescriptorBinding{Binding: BindingMorphing, Type: gpu.DescriptorUniformBuffer, Count: 1, Name: "morphing", Vertex: true})
	}
	if p.Has(pipeline.ProgramBillboards) {
		set = append(set, gpu.DescriptorBinding{Binding: BindingBillboard, Type: gpu.DescriptorUniformBuffer, Count: 1, Name: "billboard", Vertex: true, Geometry: true})
	}
	set = append(set, gpu.DescriptorBinding{Binding: BindingMaterial, Type: gpu.DescriptorUniformBuffer, Count: 1, Name: "material", Fragment: true})
	if p.Has(pipeline.ProgramLighting) {
		set = append(set, gpu.DescriptorBinding{Binding: BindingLighting, Type: gpu.DescriptorUniformBuffer, Count: 1, Name: "lighting", Fragment: true})
		if shadows := shadowMapCount(flags.SceneFlags); shadows > 0 {
			set = append(set, gpu.DescriptorBinding{Binding: BindingShadowMaps, Type: gpu.DescriptorSampledImage, Count: shadows, Name: "shadow_maps", Fragment: true})
		}
	}

	sets := [][]gpu.DescriptorBinding{set}
	if flags.TextureFlags != 0 {
		var textures []gpu.DescriptorBinding
		for i := uint32(0); i < flags.TextureFlags.Count(); i++ {
			textures = append(textures, gpu.DescriptorBinding{Binding: i, Type: gpu.DescriptorSampledImage, Count: 1, Fragment: true})
		}
		sets = append(sets, textures)
	}
	return sets
}

func shadowMapCount(f pipeline.SceneFlags) uint32 {
	n := uint32(0)
	for _, light := range []pipeline.SceneFlags{pipeline.SceneShadowDirectional, pipeline.SceneShadowSpot, pipeline.SceneShadowPoint} {
		if f.Has(light) {
			n++
		}
	}
	return n
}
