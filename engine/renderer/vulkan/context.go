package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

// Device wraps the logical device. Handles it returns are the plain vk types except for
// Memory and Swapchain, which carry bookkeeping.
type Device struct {
	handle   vk.Device
	physical *PhysicalDevice
	locks    *VulkanLockPool
}

var _ hal.Device = (*Device)(nil)

type deviceMemory struct {
	handle   vk.DeviceMemory
	coherent bool
	// Start of the live mapping; flushes cover [mapOffset, end of mapping).
	mapOffset uint64
	mapped    bool
}

func (d *Device) WaitIdle() error {
	return d.locks.SafeCall(DeviceManagement, func() error {
		return check(vk.DeviceWaitIdle(d.handle), "device wait idle")
	})
}

func (d *Device) CreateBuffer(size uint64, usage hal.BufferUsage) (hal.Buffer, error) {
	var buffer vk.Buffer
	res := vk.CreateBuffer(d.handle, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(toBits(usage, bufferUsageBits)),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer)
	if err := check(res, "create buffer"); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (d *Device) BufferRequirements(b hal.Buffer) hal.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b.(vk.Buffer), &req)
	req.Deref()
	return requirements(req)
}

func (d *Device) BindBufferMemory(mem hal.Memory, offset uint64, b hal.Buffer) error {
	return check(vk.BindBufferMemory(d.handle, b.(vk.Buffer), mem.(*deviceMemory).handle, vk.DeviceSize(offset)), "bind buffer memory")
}

func (d *Device) DestroyBuffer(b hal.Buffer) {
	if b == nil {
		return
	}
	vk.DestroyBuffer(d.handle, b.(vk.Buffer), nil)
}

func requirements(req vk.MemoryRequirements) hal.MemoryRequirements {
	return hal.MemoryRequirements{
		Size:      uint64(req.Size),
		Alignment: uint64(req.Alignment),
		TypeMask:  req.MemoryTypeBits,
	}
}

func (d *Device) AllocateMemory(typeIndex int, size uint64) (hal.Memory, error) {
	if typeIndex < 0 || uint32(typeIndex) >= d.physical.memory.MemoryTypeCount {
		return nil, errors.Errorf("memory type %d out of range", typeIndex)
	}
	flags := vk.MemoryPropertyFlagBits(d.physical.memory.MemoryTypes[typeIndex].PropertyFlags)

	var memory vk.DeviceMemory
	err := d.locks.SafeCall(MemoryManagement, func() error {
		return check(vk.AllocateMemory(d.handle, &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  vk.DeviceSize(size),
			MemoryTypeIndex: uint32(typeIndex),
		}, nil, &memory), "allocate memory")
	})
	if err != nil {
		return nil, err
	}
	return &deviceMemory{
		handle:   memory,
		coherent: flags&vk.MemoryPropertyHostCoherentBit != 0,
	}, nil
}

func (d *Device) FreeMemory(mem hal.Memory) {
	if mem == nil {
		return
	}
	m := mem.(*deviceMemory)
	d.locks.SafeCall(MemoryManagement, func() error {
		vk.FreeMemory(d.handle, m.handle, nil)
		return nil
	})
	m.handle = nil
}

func (d *Device) MapMemory(mem hal.Memory, offset, size uint64) ([]byte, error) {
	m := mem.(*deviceMemory)
	if m.mapped {
		return nil, errors.Wrap(hal.ErrMapFailed, "memory is already mapped")
	}
	var ptr unsafe.Pointer
	if err := check(vk.MapMemory(d.handle, m.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr), "map memory"); err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, errors.Wrap(hal.ErrMapFailed, "map memory returned nil")
	}
	m.mapOffset = offset
	m.mapped = true
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (d *Device) UnmapMemory(mem hal.Memory) error {
	m := mem.(*deviceMemory)
	if !m.mapped {
		return nil
	}
	var err error
	if !m.coherent {
		err = check(vk.FlushMappedMemoryRanges(d.handle, 1, []vk.MappedMemoryRange{{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: m.handle,
			Offset: vk.DeviceSize(m.mapOffset),
			Size:   vk.DeviceSize(vk.WholeSize),
		}}), "flush mapped memory")
	}
	vk.UnmapMemory(d.handle, m.handle)
	m.mapped = false
	return err
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	var s vk.Semaphore
	res := vk.CreateSemaphore(d.handle, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &s)
	if err := check(res, "create semaphore"); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Device) DestroySemaphore(s hal.Semaphore) {
	if s == nil {
		return
	}
	vk.DestroySemaphore(d.handle, s.(vk.Semaphore), nil)
}

func (d *Device) Destroy() {
	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
}
