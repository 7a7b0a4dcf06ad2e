package shader

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Screen selects the program of a full screen stage.
type Screen uint8

const (
	ScreenLighting Screen = iota
	ScreenPost
	ScreenTonemap
	ScreenCopy
)

func (s Screen) String() string {
	switch s {
	case ScreenLighting:
		return "lighting"
	case ScreenPost:
		return "post"
	case ScreenTonemap:
		return "tonemap"
	case ScreenCopy:
		return "copy"
	}
	return fmt.Sprintf("screen(%d)", uint8(s))
}

var screenVertex = template.Must(template.New("screen_vert").Parse(`#version 450

layout(location = 0) out vec2 vtxTexcoord;

void main() {
	vtxTexcoord = vec2((gl_VertexIndex << 1) & 2, gl_VertexIndex & 2);
	gl_Position = vec4(vtxTexcoord * 2.0 - 1.0, 0.0, 1.0);
}
`))

var screenPixel = template.Must(template.New("screen_frag").Parse(`#version 450
#define {{.Define}}

layout(location = 0) in vec2 vtxTexcoord;
{{range $i, $_ := .Inputs}}
layout(set = 0, binding = {{$i}}) uniform sampler2D input{{$i}};
{{- end}}

layout(location = 0) out vec4 pxlColour;

void main() {
{{- if eq .Define "LIGHTING"}}
	vec3 albedo = texture(input0, vtxTexcoord).rgb;
	vec3 normal = normalize(texture(input1, vtxTexcoord).xyz * 2.0 - 1.0);
	float diffuse = max(dot(normal, normalize(vec3(0.3, 1.0, 0.5))), 0.0);
	pxlColour = vec4(albedo * (0.1 + diffuse), 1.0);
{{- else if eq .Define "TONEMAP"}}
	vec3 hdr = texture(input0, vtxTexcoord).rgb;
	pxlColour = vec4(pow(hdr / (hdr + 1.0), vec3(1.0 / 2.2)), 1.0);
{{- else}}
	pxlColour = texture(input0, vtxTexcoord);
{{- end}}
}
`))

// ScreenSource returns the vertex and pixel modules of a full screen
// triangle sampling inputs images.
func (g *GLSLGenerator) ScreenSource(kind Screen, inputs int) (gpu.ShaderModule, gpu.ShaderModule, error) {
	if inputs < 1 {
		return gpu.ShaderModule{}, gpu.ShaderModule{}, fmt.Errorf("%w: %s program without inputs", ErrNotRepresentable, kind)
	}
	var vs, ps bytes.Buffer
	if err := screenVertex.Execute(&vs, nil); err != nil {
		return gpu.ShaderModule{}, gpu.ShaderModule{}, err
	}
	data := struct {
		Define string
		Inputs []struct{}
	}{
		Define: map[Screen]string{ScreenLighting: "LIGHTING", ScreenPost: "POST", ScreenTonemap: "TONEMAP", ScreenCopy: "COPY"}[kind],
		Inputs: make([]struct{}, inputs),
	}
	if err := screenPixel.Execute(&ps, data); err != nil {
		return gpu.ShaderModule{}, gpu.ShaderModule{}, err
	}

	vert := gpu.ShaderModule{Stage: gpu.ShaderStageVertex, Name: "screen", Source: vs.String()}
	frag := gpu.ShaderModule{Stage: gpu.ShaderStageFragment, Name: fmt.Sprintf("screen_%s_%d", kind, inputs), Source: ps.String()}
	if g.compiler == nil {
		return vert, frag, nil
	}
	vert, err := g.compiler.Compile(vert)
	if err != nil {
		return vert, frag, err
	}
	frag, err = g.compiler.Compile(frag)
	return vert, frag, err
}
