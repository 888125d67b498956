package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	assert.NoError(t, check(vk.Success, "noop"))

	cases := map[vk.Result]error{
		vk.ErrorOutOfDate:         hal.ErrOutOfDate,
		vk.Suboptimal:             hal.ErrSuboptimal,
		vk.ErrorSurfaceLost:       hal.ErrSurfaceLost,
		vk.ErrorDeviceLost:        hal.ErrDeviceLost,
		vk.Timeout:                hal.ErrTimeout,
		vk.NotReady:               hal.ErrTimeout,
		vk.ErrorOutOfDeviceMemory: hal.ErrOutOfMemory,
		vk.ErrorOutOfHostMemory:   hal.ErrOutOfMemory,
		vk.ErrorMemoryMapFailed:   hal.ErrMapFailed,
	}
	for res, want := range cases {
		err := check(res, "op")
		assert.True(t, errors.Is(err, want), "%s", VulkanResultString(res, false))
		assert.Contains(t, err.Error(), "op: ")
	}

	err := check(vk.ErrorFeatureNotPresent, "create device")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "VK_ERROR_FEATURE_NOT_PRESENT")
}

func TestVulkanSafeStrings(t *testing.T) {
	in := []string{"VK_KHR_surface", "done\x00", ""}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"VK_KHR_surface\x00", "done\x00", "\x00"}, out)
	assert.Equal(t, "VK_KHR_surface", in[0])
}

func TestCString(t *testing.T) {
	var name [16]byte
	copy(name[:], "Mock GPU")
	assert.Equal(t, "Mock GPU", cString(name[:]))
	assert.Equal(t, "full", cString([]byte("full")))
	assert.Equal(t, 4, FindFirstZeroInByteArray([]byte("full")))
}
