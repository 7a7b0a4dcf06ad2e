package vulkan

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func TestVulkanResultToError(t *testing.T) {
	cases := []struct {
		result vk.Result
		want   error
	}{
		{vk.ErrorDeviceLost, core.ErrDeviceLost},
		{vk.ErrorSurfaceLost, core.ErrDeviceLost},
		{vk.ErrorOutOfDate, core.ErrOutOfDate},
		{vk.ErrorOutOfHostMemory, core.ErrOutOfMemory},
		{vk.ErrorOutOfDeviceMemory, core.ErrOutOfMemory},
		{vk.ErrorOutOfPoolMemory, core.ErrOutOfMemory},
		{vk.ErrorFragmentedPool, core.ErrOutOfMemory},
		{vk.ErrorInitializationFailed, ErrVulkan},
		{vk.ErrorUnknown, ErrVulkan},
	}
	for _, c := range cases {
		t.Run(VulkanResultString(c.result), func(t *testing.T) {
			err := VulkanResultToError("op", c.result)
			require.Error(t, err)
			assert.True(t, errors.Is(err, c.want), err.Error())
			assert.Contains(t, err.Error(), "op")
		})
	}

	for _, ok := range []vk.Result{vk.Success, vk.Suboptimal, vk.Timeout, vk.NotReady} {
		assert.NoError(t, VulkanResultToError("op", ok))
	}
	assert.True(t, core.IsRecreateCondition(VulkanResultToError("present", vk.ErrorOutOfDate)))
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_ERROR_DEVICE_LOST", VulkanResultString(vk.ErrorDeviceLost))
	assert.Equal(t, "VkResult(-12345)", VulkanResultString(vk.Result(-12345)))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "abc\x00", VulkanSafeString("abc"))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc\x00"))

	in := []string{"a", "b\x00"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, "a", in[0])

	assert.Equal(t, "VK_LAYER", cString([]byte{'V', 'K', '_', 'L', 'A', 'Y', 'E', 'R', 0, 'x'}))
	assert.Equal(t, "ab", cString([]byte("ab")))
}

func TestSpirvWords(t *testing.T) {
	assert.Nil(t, spirvWords(nil))
	assert.Nil(t, spirvWords([]byte{1, 2}))

	code := []byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0}
	words := spirvWords(code)
	require.Len(t, words, 2)
	// little endian hosts read the SPIR-V magic number
	assert.Equal(t, uint32(0x07230203), words[0])
	assert.Equal(t, uint32(1), words[1])
}

func TestConversions(t *testing.T) {
	assert.Equal(t, vk.FormatD32Sfloat, vulkanFormat(gpu.FormatD32))
	assert.Equal(t, vk.FormatR16g16b16a16Sfloat, vulkanFormat(gpu.FormatRGBA16F))

	assert.Equal(t, vk.ImageLayoutTransferSrcOptimal, vulkanLayout(gpu.ImageLayoutPresent, false))
	assert.Equal(t, vk.ImageLayoutDepthStencilReadOnlyOptimal, vulkanLayout(gpu.ImageLayoutShaderRead, true))
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, vulkanLayout(gpu.ImageLayoutShaderRead, false))

	access := vulkanAccess(gpu.AccessColourAttachmentWrite | gpu.AccessShaderRead)
	assert.Equal(t, vk.AccessFlags(vk.AccessColorAttachmentWriteBit|vk.AccessShaderReadBit), access)
	assert.Zero(t, vulkanAccess(0))

	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vulkanStages(0))
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit|vk.PipelineStageColorAttachmentOutputBit),
		vulkanStages(gpu.StageFragmentShader|gpu.StageColourAttachmentOutput))

	assert.Equal(t, vk.AttachmentLoadOpClear, vulkanLoadOp(gpu.LoadOpClear))
	assert.Equal(t, vk.AttachmentLoadOpLoad, vulkanLoadOp(gpu.LoadOpLoad))
}

func TestVertexInput(t *testing.T) {
	bindings, attributes := vertexInput(false)
	require.Len(t, bindings, 1)
	assert.Equal(t, vertexStride, bindings[0].Stride)
	assert.Len(t, attributes, 7)

	bindings, attributes = vertexInput(true)
	require.Len(t, bindings, 2)
	assert.Equal(t, instanceStride, bindings[1].Stride)
	assert.Equal(t, vk.VertexInputRateInstance, bindings[1].InputRate)
	assert.Len(t, attributes, 11)
}

func TestHandleTables(t *testing.T) {
	var next atomic.Uint64
	images := newTable[gpu.Image, string](&next)
	buffers := newTable[gpu.Buffer, int](&next)

	a := images.add("albedo")
	b := buffers.add(42)
	assert.NotZero(t, a)
	assert.NotEqual(t, uint64(a), uint64(b))

	v, ok := images.get(a)
	require.True(t, ok)
	assert.Equal(t, "albedo", v)
	_, ok = images.get(gpu.Image(b))
	assert.False(t, ok)

	v, ok = images.remove(a)
	assert.True(t, ok)
	assert.Equal(t, "albedo", v)
	_, ok = images.remove(a)
	assert.False(t, ok)

	buffers.add(7)
	assert.ElementsMatch(t, []int{42, 7}, buffers.drain())
	assert.Empty(t, buffers.drain())
}

func TestLockPoolSerialises(t *testing.T) {
	pool := NewVulkanLockPool()
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(QueueManagement, func() error {
				assert.Equal(t, int32(1), inside.Add(1))
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SafeCall(DescriptorManagement, func() error { return boom }), boom)
}

func TestNewRequiresSurface(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoSurface)
}
