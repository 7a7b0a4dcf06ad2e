package shader

import "text/template"

const header = `#version 450
{{range .Defines}}#define {{.}}
{{end}}`

var vertexTemplate = template.Must(template.New("vert").Parse(header + `
layout(location = 0) in vec3 inPosition;
layout(location = 1) in vec3 inNormal;
layout(location = 2) in vec2 inTexcoord;
{{- if .Skinning}}
layout(location = 3) in ivec4 inBoneIds;
layout(location = 4) in vec4 inBoneWeights;
{{- end}}
{{- if .Morphing}}
layout(location = 5) in vec3 inPosition2;
layout(location = 6) in vec3 inNormal2;
{{- end}}
{{- if .Instancing}}
layout(location = 7) in mat4 inTransform;
{{- end}}

layout(set = 0, binding = 0) uniform Matrices {
	mat4 projection;
	mat4 view;
} matrices;

layout(set = 0, binding = 1) uniform Model {
	mat4 model;
	uint nodeId;
} model;
{{- if .Skinning}}

layout(set = 0, binding = 2) readonly buffer Skinning {
	mat4 bones[];
} skinning;
{{- end}}
{{- if .Morphing}}

layout(set = 0, binding = 3) uniform Morphing {
	float weight;
} morphing;
{{- end}}
{{- if .Billboards}}

layout(set = 0, binding = 4) uniform Billboard {
	vec2 dimensions;
	vec3 cameraPosition;
} billboard;
{{- end}}

layout(location = 0) out vec3 vtxNormal;
layout(location = 1) out vec2 vtxTexcoord;

void main() {
	vec4 position = vec4(inPosition, 1.0);
	vec3 normal = inNormal;
{{- if .Morphing}}
	position.xyz = mix(position.xyz, inPosition2, morphing.weight);
	normal = mix(normal, inNormal2, morphing.weight);
{{- end}}
{{- if .Skinning}}
	mat4 skin = skinning.bones[inBoneIds.x] * inBoneWeights.x
		+ skinning.bones[inBoneIds.y] * inBoneWeights.y
		+ skinning.bones[inBoneIds.z] * inBoneWeights.z
		+ skinning.bones[inBoneIds.w] * inBoneWeights.w;
	position = skin * position;
	normal = mat3(skin) * normal;
{{- end}}
{{- if .Instancing}}
	mat4 world = inTransform;
{{- else}}
	mat4 world = model.model;
{{- end}}
{{- if .InvertNormal}}
	normal = -normal;
{{- end}}
	vtxNormal = normalize(mat3(world) * normal);
	vtxTexcoord = inTexcoord;
	gl_Position = matrices.projection * matrices.view * world * position;
}
`))

var geometryTemplate = template.Must(template.New("geom").Parse(header + `
layout(points) in;
layout(triangle_strip, max_vertices = 4) out;

layout(set = 0, binding = 0) uniform Matrices {
	mat4 projection;
	mat4 view;
} matrices;

layout(set = 0, binding = 4) uniform Billboard {
	vec2 dimensions;
	vec3 cameraPosition;
} billboard;

layout(location = 0) out vec3 vtxNormal;
layout(location = 1) out vec2 vtxTexcoord;

void main() {
	vec3 center = gl_in[0].gl_Position.xyz;
	vec3 toCamera = normalize(billboard.cameraPosition - center);
#ifdef SPHERICAL
	vec3 up = vec3(matrices.view[0][1], matrices.view[1][1], matrices.view[2][1]);
#else
	vec3 up = vec3(0.0, 1.0, 0.0);
#endif
	vec3 right = normalize(cross(toCamera, up)) * billboard.dimensions.x * 0.5;
	up = up * billboard.dimensions.y * 0.5;
	mat4 viewProj = matrices.projection * matrices.view;
	vec2 uvs[4] = vec2[](vec2(0, 0), vec2(1, 0), vec2(0, 1), vec2(1, 1));
	vec3 corners[4] = vec3[](-right - up, right - up, -right + up, right + up);
	for (int i = 0; i < 4; ++i) {
		gl_Position = viewProj * vec4(center + corners[i], 1.0);
		vtxNormal = toCamera;
		vtxTexcoord = uvs[i];
		EmitVertex();
	}
	EndPrimitive();
}
`))

var pixelTemplate = template.Must(template.New("frag").Parse(header + `
layout(location = 0) in vec3 vtxNormal;
layout(location = 1) in vec2 vtxTexcoord;
{{range $i, $t := .Textures}}
layout(set = 1, binding = {{$i}}) uniform sampler2D map_{{$t}};
{{- end}}

layout(set = 0, binding = 1) uniform Model {
	mat4 model;
	uint nodeId;
} model;

layout(set = 0, binding = 5) uniform Material {
	vec4 diffuse;
	float opacity;
	float alphaRef;
} material;
{{- if .Lighting}}

layout(set = 0, binding = 6) uniform Lighting {
	vec4 direction;
	vec4 colour;
	vec4 ambient;
} light;
{{- end}}
{{if .Picking}}
layout(location = 0) out uvec4 pxlPicking;
{{- else if .ShadowMap}}
layout(location = 0) out vec2 pxlDepth;
{{- else}}
layout(location = 0) out vec4 pxlColour;
{{- end}}

void main() {
	vec4 colour = material.diffuse;
{{- range .Textures}}
{{- if eq . "diffuse"}}
	colour *= texture(map_diffuse, vtxTexcoord);
{{- end}}
{{- end}}
	float alpha = material.opacity * colour.a;
{{- if .Opacity}}
	alpha *= texture(map_opacity, vtxTexcoord).r;
{{- end}}
{{- if .AlphaTest}}
	float alphaRef = material.alphaRef;
	if (!({{.AlphaFunc}})) {
		discard;
	}
{{- end}}
{{- if .Picking}}
	pxlPicking = uvec4(model.nodeId, uint(gl_PrimitiveID), 0u, 1u);
{{- else if .ShadowMap}}
	float depth = gl_FragCoord.z;
	pxlDepth = vec2(depth, depth * depth);
{{- else}}
{{- if .Lighting}}
	float diffuse = max(dot(normalize(vtxNormal), -light.direction.xyz), 0.0);
	colour.rgb *= light.ambient.rgb + light.colour.rgb * diffuse;
{{- end}}
	pxlColour = vec4(colour.rgb, alpha);
{{- end}}
}
`))
