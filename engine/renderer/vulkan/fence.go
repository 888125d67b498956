package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// A signaled fence lets the first wait on it return immediately.
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := check(vk.CreateFence(d.handle, &fenceCreateInfo, nil, &fence), "create fence"); err != nil {
		return nil, err
	}
	return fence, nil
}

func (d *Device) WaitForFence(f hal.Fence, timeout uint64) error {
	res := vk.WaitForFences(d.handle, 1, []vk.Fence{f.(vk.Fence)}, vk.True, timeout)
	switch res {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	}
	return check(res, "wait for fence")
}

func (d *Device) ResetFence(f hal.Fence) error {
	return check(vk.ResetFences(d.handle, 1, []vk.Fence{f.(vk.Fence)}), "reset fence")
}

func (d *Device) DestroyFence(f hal.Fence) {
	if f == nil {
		return
	}
	vk.DestroyFence(d.handle, f.(vk.Fence), nil)
}
