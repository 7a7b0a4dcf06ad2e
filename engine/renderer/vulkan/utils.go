package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

// ErrVulkan wraps every failed call whose result has no engine meaning.
var ErrVulkan = errors.New("vulkan call failed")

var resultNames = map[vk.Result]string{
	vk.Success:                   "VK_SUCCESS",
	vk.NotReady:                  "VK_NOT_READY",
	vk.Timeout:                   "VK_TIMEOUT",
	vk.EventSet:                  "VK_EVENT_SET",
	vk.EventReset:                "VK_EVENT_RESET",
	vk.Incomplete:                "VK_INCOMPLETE",
	vk.Suboptimal:                "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:           "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:      "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:      "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:  "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:    "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:   "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:       "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:   "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:       "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:          "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:    "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:            "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorIncompatibleDisplay:  "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR",
	vk.ErrorOutOfPoolMemory:      "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorFragmentation:        "VK_ERROR_FRAGMENTATION",
	vk.ErrorUnknown:              "VK_ERROR_UNKNOWN",
}

// VulkanResultString returns the name of the result code.
func VulkanResultString(result vk.Result) string {
	if s, ok := resultNames[result]; ok {
		return s
	}
	return fmt.Sprintf("VkResult(%d)", int32(result))
}

// VulkanResultIsSuccess is true for every non negative result. Suboptimal and
// timeouts are not errors.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

/**
 * @brief Maps a result to the engine error it stands for. Device loss, out
 * of date surfaces and memory exhaustion map to the core sentinels so the
 * caller can tell a recreation is needed. Successful results map to nil.
 * @param op The call that produced the result, used in the error message.
 */
func VulkanResultToError(op string, result vk.Result) error {
	switch result {
	case vk.ErrorDeviceLost, vk.ErrorSurfaceLost:
		return fmt.Errorf("%s: %w", op, core.ErrDeviceLost)
	case vk.ErrorOutOfDate:
		return fmt.Errorf("%s: %w", op, core.ErrOutOfDate)
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return fmt.Errorf("%s: %w (%s)", op, core.ErrOutOfMemory, VulkanResultString(result))
	}
	if VulkanResultIsSuccess(result) {
		return nil
	}
	return fmt.Errorf("%s: %w: %s", op, ErrVulkan, VulkanResultString(result))
}

// check logs and converts a failed result.
func check(op string, result vk.Result) error {
	err := VulkanResultToError(op, result)
	if err != nil {
		core.LogError(err.Error())
	}
	return err
}

// VulkanSafeString null terminates s for the C side.
func VulkanSafeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString reads a fixed size, null terminated name returned by the driver.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// spirvWords reinterprets a SPIR-V blob as the words vkCreateShaderModule
// expects. The blob length is a multiple of four for valid modules.
func spirvWords(code []byte) []uint32 {
	if len(code) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&code[0])), len(code)/4)
}
