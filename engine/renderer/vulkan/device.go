package vulkan

import (
	"slices"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

const portabilitySubset = "VK_KHR_portability_subset"

type PhysicalDevice struct {
	handle     vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	features   vk.PhysicalDeviceFeatures
	memory     vk.PhysicalDeviceMemoryProperties
	families   []vk.QueueFamilyProperties
}

func newPhysicalDevice(handle vk.PhysicalDevice) *PhysicalDevice {
	pd := &PhysicalDevice{handle: handle}

	vk.GetPhysicalDeviceProperties(handle, &pd.properties)
	pd.properties.Deref()
	pd.properties.Limits.Deref()

	vk.GetPhysicalDeviceFeatures(handle, &pd.features)
	pd.features.Deref()

	vk.GetPhysicalDeviceMemoryProperties(handle, &pd.memory)
	pd.memory.Deref()
	for i := uint32(0); i < pd.memory.MemoryTypeCount; i++ {
		pd.memory.MemoryTypes[i].Deref()
	}
	for i := uint32(0); i < pd.memory.MemoryHeapCount; i++ {
		pd.memory.MemoryHeaps[i].Deref()
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(handle, &count, nil)
	pd.families = make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(handle, &count, pd.families)
	for i := range pd.families {
		pd.families[i].Deref()
	}
	return pd
}

func (pd *PhysicalDevice) info() hal.AdapterInfo {
	return hal.AdapterInfo{
		Name:          cString(pd.properties.DeviceName[:]),
		Vendor:        pd.properties.VendorID,
		Device:        pd.properties.DeviceID,
		DeviceType:    fromVkDeviceType(pd.properties.DeviceType),
		DriverVersion: versionString(pd.properties.DriverVersion),
		APIVersion:    versionString(pd.properties.ApiVersion),
	}
}

func (pd *PhysicalDevice) queueFamilies() []hal.QueueFamily {
	out := make([]hal.QueueFamily, len(pd.families))
	for i, f := range pd.families {
		out[i] = hal.QueueFamily{
			ID:        i,
			Type:      fromBits[hal.QueueType](vk.QueueFlagBits(f.QueueFlags), queueTypeBits),
			MaxQueues: int(f.QueueCount),
		}
	}
	return out
}

func (pd *PhysicalDevice) Limits() hal.Limits {
	l := pd.properties.Limits
	return hal.Limits{
		MaxImageDimension2D:              l.MaxImageDimension2D,
		OptimalBufferCopyPitchAlignment:  uint64(l.OptimalBufferCopyRowPitchAlignment),
		OptimalBufferCopyOffsetAlignment: uint64(l.OptimalBufferCopyOffsetAlignment),
		NonCoherentAtomSize:              uint64(l.NonCoherentAtomSize),
		BufferImageGranularity:           uint64(l.BufferImageGranularity),
		MaxSamplerAnisotropy:             l.MaxSamplerAnisotropy,
		MaxMemoryAllocationCount:         l.MaxMemoryAllocationCount,
	}
}

func (pd *PhysicalDevice) MemoryProperties() hal.MemoryProperties {
	out := hal.MemoryProperties{}
	for i := uint32(0); i < pd.memory.MemoryTypeCount; i++ {
		t := pd.memory.MemoryTypes[i]
		out.MemoryTypes = append(out.MemoryTypes, hal.MemoryType{
			Properties: fromBits[hal.MemoryProperty](vk.MemoryPropertyFlagBits(t.PropertyFlags), memoryPropertyBits),
			HeapIndex:  int(t.HeapIndex),
		})
	}
	for i := uint32(0); i < pd.memory.MemoryHeapCount; i++ {
		h := pd.memory.MemoryHeaps[i]
		out.MemoryHeaps = append(out.MemoryHeaps, hal.MemoryHeap{
			Size:        uint64(h.Size),
			DeviceLocal: vk.MemoryHeapFlagBits(h.Flags)&vk.MemoryHeapDeviceLocalBit != 0,
		})
	}
	return out
}

func (pd *PhysicalDevice) Features() hal.Features {
	return hal.Features{
		SamplerAnisotropy:    pd.features.SamplerAnisotropy == vk.True,
		FillModeNonSolid:     pd.features.FillModeNonSolid == vk.True,
		WideLines:            pd.features.WideLines == vk.True,
		TextureCompressionBC: pd.features.TextureCompressionBC == vk.True,
	}
}

func (pd *PhysicalDevice) extensions() ([]string, error) {
	var count uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(pd.handle, "", &count, nil), "enumerate device extensions"); err != nil {
		return nil, err
	}
	available := make([]vk.ExtensionProperties, count)
	if err := check(vk.EnumerateDeviceExtensionProperties(pd.handle, "", &count, available), "enumerate device extensions"); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for i := range available {
		available[i].Deref()
		names = append(names, cString(available[i].ExtensionName[:]))
	}
	return names, nil
}

// Open creates a logical device with the swapchain extension and len(priorities) queues of
// family. VK_KHR_portability_subset is enabled when the driver advertises it.
func (pd *PhysicalDevice) Open(family hal.QueueFamily, priorities []float32) (hal.Device, []hal.Queue, error) {
	available, err := pd.extensions()
	if err != nil {
		return nil, nil, err
	}
	if !slices.Contains(available, vk.KhrSwapchainExtensionName) {
		return nil, nil, errors.Errorf("device %s lacks %s", pd.info().Name, vk.KhrSwapchainExtensionName)
	}
	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if slices.Contains(available, portabilitySubset) {
		core.LogInfo("Adding required extension '%s'.", portabilitySubset)
		extensionNames = append(extensionNames, portabilitySubset)
	}

	if family.MaxQueues > 0 && len(priorities) > family.MaxQueues {
		priorities = priorities[:family.MaxQueues]
	}
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(family.ID),
		QueueCount:       uint32(len(priorities)),
		PQueuePriorities: priorities,
	}}

	deviceFeatures := vk.PhysicalDeviceFeatures{}
	if pd.features.SamplerAnisotropy == vk.True {
		deviceFeatures.SamplerAnisotropy = vk.True
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var handle vk.Device
	if err := check(vk.CreateDevice(pd.handle, &deviceCreateInfo, nil, &handle), "create device"); err != nil {
		return nil, nil, err
	}
	core.LogInfo("Logical device created.")

	d := &Device{handle: handle, physical: pd, locks: NewVulkanLockPool()}
	queues := make([]hal.Queue, len(priorities))
	for i := range queues {
		var q vk.Queue
		vk.GetDeviceQueue(handle, uint32(family.ID), uint32(i), &q)
		queues[i] = &Queue{handle: q, family: uint32(family.ID), locks: d.locks}
	}
	return d, queues, nil
}
