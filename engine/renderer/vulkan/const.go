package vulkan

// Descriptor pool capacity. Sets are freed individually so the pool is sized
// for the live sets of a frame graph rather than for its lifetime.
const (
	maxDescriptorSets     uint32 = 4096
	maxUniformDescriptors uint32 = 8192
	maxStorageDescriptors uint32 = 1024
	maxSamplerDescriptors uint32 = 4096
)

// fenceWaitSliceNs bounds one vkWaitForFences call so a cancelled context is
// noticed.
const fenceWaitSliceNs uint64 = 10_000_000

// acquireTimeoutNs is how long Present waits for a swapchain image.
const acquireTimeoutNs uint64 = 1_000_000_000

// Interleaved vertex layout shared by every scene program: position, normal,
// texcoord, bone ids, bone weights, morph position, morph normal.
const vertexStride uint32 = (3 + 3 + 2 + 4 + 4 + 3 + 3) * 4

// One model matrix per instance.
const instanceStride uint32 = 16 * 4
