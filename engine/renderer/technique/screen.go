package technique

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/renderer/shader"
)

// screenPass draws one full screen triangle sampling its inputs into output.
// Without a program it only loads and stores output.
type screenPass struct {
	name    string
	program bool
	kind    shader.Screen
	device  gpu.Device
	inputs  []*graph.Resource
	output  *graph.Resource
	size    gpu.Extent

	renderPass  gpu.RenderPass
	framebuffer gpu.Framebuffer
	layout      gpu.DescriptorSetLayout
	sets        []gpu.DescriptorSet
	pipeline    gpu.Pipeline
}

type screenConfig struct {
	name    string
	kind    shader.Screen
	program bool
	inputs  []*graph.Resource
	output  *graph.Resource
}

func newScreenPass(dev gpu.Device, shaders Shaders, sc screenConfig, size gpu.Extent, frames int) (*screenPass, error) {
	s := &screenPass{
		name:    sc.name,
		program: sc.program,
		kind:    sc.kind,
		device:  dev,
		inputs:  sc.inputs,
		output:  sc.output,
		size:    size,
	}
	if err := s.create(shaders, frames); err != nil {
		core.LogError("%s: creation failed: %s", s.name, err)
		s.destroy()
		return nil, err
	}
	return s, nil
}

func (s *screenPass) create(shaders Shaders, frames int) error {
	load := gpu.LoadOpDontCare
	if !s.program {
		load = gpu.LoadOpLoad
	}
	rp, err := s.device.CreateRenderPass(gpu.RenderPassDesc{
		Name:   s.name,
		Colour: []gpu.Attachment{{Format: s.output.Desc.Format, Load: load, FinalLayout: gpu.ImageLayoutColourAttachment}},
	})
	if err != nil {
		return err
	}
	s.renderPass = rp
	if s.framebuffer, err = s.device.CreateFramebuffer(rp, []gpu.Image{s.output.Image}, s.size); err != nil {
		return err
	}
	if !s.program {
		return nil
	}

	bindings := make([]gpu.DescriptorBinding, len(s.inputs))
	for i, in := range s.inputs {
		bindings[i] = gpu.DescriptorBinding{Binding: uint32(i), Type: gpu.DescriptorSampledImage, Count: 1, Name: in.Name, Fragment: true}
	}
	if s.layout, err = s.device.CreateDescriptorSetLayout(bindings); err != nil {
		return err
	}
	// inputs are fixed for the life of the pass, every set samples them
	writes := make([]gpu.DescriptorWrite, len(s.inputs))
	for i, in := range s.inputs {
		writes[i] = gpu.DescriptorWrite{Binding: uint32(i), Images: []gpu.Image{in.Image}}
	}
	for i := 0; i < frames; i++ {
		set, err := s.device.AllocateDescriptorSet(s.layout)
		if err != nil {
			return err
		}
		s.sets = append(s.sets, set)
		if err := s.device.WriteDescriptorSet(set, writes...); err != nil {
			return fmt.Errorf("%s inputs: %w", s.name, err)
		}
	}

	vs, ps, err := shaders.ScreenSource(s.kind, len(s.inputs))
	if err != nil {
		return fmt.Errorf("%s program: %w", s.kind, err)
	}
	s.pipeline, err = s.device.CreatePipeline(gpu.PipelineDesc{
		Name:         s.name,
		RenderPass:   rp,
		Shaders:      []gpu.ShaderModule{vs, ps},
		Layouts:      []gpu.DescriptorSetLayout{s.layout},
		Topology:     gpu.TopologyTriangleList,
		Blend:        pipeline.NewBlendState(pipeline.BlendModeNoBlend, pipeline.BlendModeNoBlend, 1),
		DepthStencil: pipeline.NewDepthStencilState(pipeline.DepthDisabled),
		Rasterizer:   pipeline.NewRasterizerState(gpu.CullModeNone),

		NoVertexInput: true,
	})
	return err
}

func (s *screenPass) Record(cb gpu.CommandBuffer, frame int) error {
	cb.BeginRenderPass(s.renderPass, s.framebuffer, s.size, gpu.ContentsInline)
	if s.pipeline != 0 {
		cb.SetViewport(gpu.Viewport{Width: float32(s.size.Width), Height: float32(s.size.Height), MaxDepth: 1})
		cb.SetScissor(gpu.Rect{Width: s.size.Width, Height: s.size.Height})
		cb.BindPipeline(s.pipeline)
		cb.BindDescriptorSets(s.sets[frame%len(s.sets)])
		cb.Draw(3, 1)
	}
	cb.EndRenderPass()
	return nil
}

func (s *screenPass) destroy() {
	if s.pipeline != 0 {
		s.device.DestroyPipeline(s.pipeline)
		s.pipeline = 0
	}
	for _, set := range s.sets {
		s.device.FreeDescriptorSet(set)
	}
	s.sets = nil
	if s.layout != 0 {
		s.device.DestroyDescriptorSetLayout(s.layout)
		s.layout = 0
	}
	if s.framebuffer != 0 {
		s.device.DestroyFramebuffer(s.framebuffer)
		s.framebuffer = 0
	}
	if s.renderPass != 0 {
		s.device.DestroyRenderPass(s.renderPass)
		s.renderPass = 0
	}
}
