package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"golang.org/x/exp/constraints"
)

type bit[H, V constraints.Integer] struct {
	hal H
	vk  V
}

func toBits[H, V constraints.Integer](in H, table []bit[H, V]) V {
	var out V
	for _, b := range table {
		if in&b.hal != 0 {
			out |= b.vk
		}
	}
	return out
}

func fromBits[H, V constraints.Integer](in V, table []bit[H, V]) H {
	var out H
	for _, b := range table {
		if in&b.vk != 0 {
			out |= b.hal
		}
	}
	return out
}

var formats = map[hal.Format]vk.Format{
	hal.FormatRGBA8Unorm:   vk.FormatR8g8b8a8Unorm,
	hal.FormatRGBA8Srgb:    vk.FormatR8g8b8a8Srgb,
	hal.FormatBGRA8Unorm:   vk.FormatB8g8r8a8Unorm,
	hal.FormatBGRA8Srgb:    vk.FormatB8g8r8a8Srgb,
	hal.FormatRGB10A2Unorm: vk.FormatA2b10g10r10UnormPack32,
	hal.FormatRGBA16Sfloat: vk.FormatR16g16b16a16Sfloat,
}

func toVkFormat(f hal.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func fromVkFormat(f vk.Format) (hal.Format, bool) {
	for h, v := range formats {
		if v == f {
			return h, true
		}
	}
	return hal.FormatUndefined, false
}

func toVkPresentMode(m hal.PresentMode) vk.PresentMode {
	switch m {
	case hal.PresentModeMailbox:
		return vk.PresentModeMailbox
	case hal.PresentModeFifo:
		return vk.PresentModeFifo
	case hal.PresentModeRelaxed:
		return vk.PresentModeFifoRelaxed
	default:
		return vk.PresentModeImmediate
	}
}

func fromVkPresentMode(m vk.PresentMode) (hal.PresentMode, bool) {
	switch m {
	case vk.PresentModeImmediate:
		return hal.PresentModeImmediate, true
	case vk.PresentModeMailbox:
		return hal.PresentModeMailbox, true
	case vk.PresentModeFifo:
		return hal.PresentModeFifo, true
	case vk.PresentModeFifoRelaxed:
		return hal.PresentModeRelaxed, true
	}
	return 0, false
}

var compositeAlphaBits = []bit[hal.CompositeAlpha, vk.CompositeAlphaFlagBits]{
	{hal.CompositeAlphaOpaque, vk.CompositeAlphaOpaqueBit},
	{hal.CompositeAlphaPreMultiplied, vk.CompositeAlphaPreMultipliedBit},
	{hal.CompositeAlphaPostMultiplied, vk.CompositeAlphaPostMultipliedBit},
	{hal.CompositeAlphaInherit, vk.CompositeAlphaInheritBit},
}

var imageUsageBits = []bit[hal.ImageUsage, vk.ImageUsageFlagBits]{
	{hal.ImageUsageTransferSrc, vk.ImageUsageTransferSrcBit},
	{hal.ImageUsageTransferDst, vk.ImageUsageTransferDstBit},
	{hal.ImageUsageSampled, vk.ImageUsageSampledBit},
	{hal.ImageUsageColorAttachment, vk.ImageUsageColorAttachmentBit},
}

var bufferUsageBits = []bit[hal.BufferUsage, vk.BufferUsageFlagBits]{
	{hal.BufferUsageTransferSrc, vk.BufferUsageTransferSrcBit},
	{hal.BufferUsageTransferDst, vk.BufferUsageTransferDstBit},
	{hal.BufferUsageUniform, vk.BufferUsageUniformBufferBit},
	{hal.BufferUsageVertex, vk.BufferUsageVertexBufferBit},
	{hal.BufferUsageIndex, vk.BufferUsageIndexBufferBit},
}

var memoryPropertyBits = []bit[hal.MemoryProperty, vk.MemoryPropertyFlagBits]{
	{hal.MemoryDeviceLocal, vk.MemoryPropertyDeviceLocalBit},
	{hal.MemoryCPUVisible, vk.MemoryPropertyHostVisibleBit},
	{hal.MemoryCoherent, vk.MemoryPropertyHostCoherentBit},
	{hal.MemoryCPUCached, vk.MemoryPropertyHostCachedBit},
	{hal.MemoryLazilyAllocated, vk.MemoryPropertyLazilyAllocatedBit},
}

var queueTypeBits = []bit[hal.QueueType, vk.QueueFlagBits]{
	{hal.QueueGraphics, vk.QueueGraphicsBit},
	{hal.QueueCompute, vk.QueueComputeBit},
	{hal.QueueTransfer, vk.QueueTransferBit},
}

var accessBits = []bit[hal.Access, vk.AccessFlagBits]{
	{hal.AccessTransferWrite, vk.AccessTransferWriteBit},
	{hal.AccessTransferRead, vk.AccessTransferReadBit},
	{hal.AccessShaderRead, vk.AccessShaderReadBit},
	{hal.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
}

var stageBits = []bit[hal.PipelineStage, vk.PipelineStageFlagBits]{
	{hal.PipelineStageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{hal.PipelineStageTransfer, vk.PipelineStageTransferBit},
	{hal.PipelineStageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{hal.PipelineStageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{hal.PipelineStageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
}

func toVkStages(s hal.PipelineStage) vk.PipelineStageFlags {
	return vk.PipelineStageFlags(toBits(s, stageBits))
}

func toVkAccess(a hal.Access) vk.AccessFlags {
	return vk.AccessFlags(toBits(a, accessBits))
}

func toVkLayout(l hal.ImageLayout) vk.ImageLayout {
	switch l {
	case hal.ImageLayoutTransferDstOptimal:
		return vk.ImageLayoutTransferDstOptimal
	case hal.ImageLayoutTransferSrcOptimal:
		return vk.ImageLayoutTransferSrcOptimal
	case hal.ImageLayoutShaderReadOnlyOptimal:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case hal.ImageLayoutColorAttachmentOptimal:
		return vk.ImageLayoutColorAttachmentOptimal
	case hal.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

func toVkLoadOp(op hal.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case hal.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case hal.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	default:
		return vk.AttachmentLoadOpLoad
	}
}

func toVkStoreOp(op hal.StoreOp) vk.AttachmentStoreOp {
	if op == hal.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func toVkFilter(f hal.Filter) vk.Filter {
	if f == hal.FilterLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func toVkMipmapMode(f hal.Filter) vk.SamplerMipmapMode {
	if f == hal.FilterLinear {
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

func toVkAddressMode(w hal.WrapMode) vk.SamplerAddressMode {
	switch w {
	case hal.WrapRepeat:
		return vk.SamplerAddressModeRepeat
	case hal.WrapMirror:
		return vk.SamplerAddressModeMirroredRepeat
	default:
		return vk.SamplerAddressModeClampToEdge
	}
}

func toVkTiling(t hal.ImageTiling) vk.ImageTiling {
	if t == hal.ImageTilingLinear {
		return vk.ImageTilingLinear
	}
	return vk.ImageTilingOptimal
}

func fromVkDeviceType(t vk.PhysicalDeviceType) hal.DeviceType {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return hal.DeviceTypeIntegratedGpu
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return hal.DeviceTypeDiscreteGpu
	case vk.PhysicalDeviceTypeVirtualGpu:
		return hal.DeviceTypeVirtualGpu
	case vk.PhysicalDeviceTypeCpu:
		return hal.DeviceTypeCpu
	default:
		return hal.DeviceTypeOther
	}
}

func versionString(v uint32) string {
	ver := vk.Version(v)
	return fmt.Sprintf("%d.%d.%d", ver.Major(), ver.Minor(), ver.Patch())
}

var colorAspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)

func toVkRange(r hal.SubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     colorAspect,
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

func toVkCopy(c hal.BufferImageCopy) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(c.BufferOffset),
		BufferRowLength:   c.BufferRowLength,
		BufferImageHeight: c.BufferImageHeight,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: colorAspect,
			LayerCount: 1,
		},
		ImageOffset: vk.Offset3D{X: c.ImageOffsetX, Y: c.ImageOffsetY},
		ImageExtent: vk.Extent3D{Width: c.ImageExtent.Width, Height: c.ImageExtent.Height, Depth: 1},
	}
}
