package engine

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// uploader copies the CPU side data of scene submeshes into device buffers.
// Submeshes are uploaded once; their buffers live until shutdown.
type uploader struct {
	device  gpu.Device
	buffers map[*scene.Submesh][]gpu.Buffer
	synced  bool
	seen    uint64
}

func newUploader(device gpu.Device) *uploader {
	return &uploader{device: device, buffers: make(map[*scene.Submesh][]gpu.Buffer)}
}

// sync uploads every submesh added since the last call.
func (u *uploader) sync(s *scene.Scene) error {
	changes := s.Changes()
	if u.synced && changes == u.seen {
		return nil
	}
	for _, g := range s.Geometries() {
		for _, sub := range g.Mesh.Submeshes {
			if err := u.upload(g.Mesh.Name, sub); err != nil {
				return err
			}
		}
	}
	u.synced, u.seen = true, changes
	return nil
}

func (u *uploader) upload(mesh string, sub *scene.Submesh) error {
	if _, done := u.buffers[sub]; done || len(sub.Vertices) == 0 || sub.Buffers.Vertex != 0 {
		return nil
	}
	vertex, err := u.buffer(scene.EncodeVertices(sub.Vertices), gpu.BufferUsageVertex)
	if err != nil {
		return fmt.Errorf("mesh %s submesh %d vertices: %w", mesh, sub.Index, err)
	}
	owned := []gpu.Buffer{vertex}
	geometry := gpu.GeometryBuffers{Vertex: vertex, VertexCount: uint32(len(sub.Vertices))}
	if len(sub.Indices) > 0 {
		index, err := u.buffer(scene.EncodeIndices(sub.Indices), gpu.BufferUsageIndex)
		if err != nil {
			u.device.DestroyBuffer(vertex)
			return fmt.Errorf("mesh %s submesh %d indices: %w", mesh, sub.Index, err)
		}
		owned = append(owned, index)
		geometry.Index = index
		geometry.IndexCount = uint32(len(sub.Indices))
	}
	sub.Buffers = geometry
	u.buffers[sub] = owned
	core.LogDebug("uploaded mesh %s submesh %d: %d vertices, %d indices", mesh, sub.Index, geometry.VertexCount, geometry.IndexCount)
	return nil
}

func (u *uploader) buffer(data []byte, usage gpu.BufferUsage) (gpu.Buffer, error) {
	b, err := u.device.CreateBuffer(uint64(len(data)), usage)
	if err != nil {
		return 0, err
	}
	if err := u.device.WriteBuffer(b, 0, data); err != nil {
		u.device.DestroyBuffer(b)
		return 0, err
	}
	return b, nil
}

// release destroys every uploaded buffer. The device must be idle.
func (u *uploader) release() {
	for sub, owned := range u.buffers {
		for _, b := range owned {
			u.device.DestroyBuffer(b)
		}
		sub.Buffers = gpu.GeometryBuffers{}
	}
	clear(u.buffers)
	u.synced = false
}
