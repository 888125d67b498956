package hal

import (
	"fmt"
	"strings"
)

type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegratedGpu
	DeviceTypeDiscreteGpu
	DeviceTypeVirtualGpu
	DeviceTypeCpu
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIntegratedGpu:
		return "Integrated"
	case DeviceTypeDiscreteGpu:
		return "Discrete"
	case DeviceTypeVirtualGpu:
		return "Virtual"
	case DeviceTypeCpu:
		return "CPU"
	default:
		return "Unknown"
	}
}

type AdapterInfo struct {
	Name          string
	Vendor        uint32
	Device        uint32
	DeviceType    DeviceType
	DriverVersion string
	APIVersion    string
}

type Adapter struct {
	Info          AdapterInfo
	QueueFamilies []QueueFamily
	Physical      PhysicalDevice
}

type QueueType uint32

const (
	QueueGraphics QueueType = 1 << iota
	QueueCompute
	QueueTransfer
)

func (q QueueType) SupportsGraphics() bool { return q&QueueGraphics != 0 }

type QueueFamily struct {
	ID        int
	Type      QueueType
	MaxQueues int
}

type Limits struct {
	MaxImageDimension2D uint32
	// Row pitch of buffer<->image copies must be a multiple of this.
	OptimalBufferCopyPitchAlignment  uint64
	OptimalBufferCopyOffsetAlignment uint64
	NonCoherentAtomSize              uint64
	BufferImageGranularity           uint64
	MaxSamplerAnisotropy             float32
	MaxMemoryAllocationCount         uint32
}

type MemoryProperty uint32

const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryCPUVisible
	MemoryCoherent
	MemoryCPUCached
	MemoryLazilyAllocated
)

// Contains reports whether every flag of want is set in p.
func (p MemoryProperty) Contains(want MemoryProperty) bool {
	return p&want == want
}

func (p MemoryProperty) String() string {
	names := []string{}
	for _, f := range []struct {
		bit  MemoryProperty
		name string
	}{
		{MemoryDeviceLocal, "DEVICE_LOCAL"},
		{MemoryCPUVisible, "CPU_VISIBLE"},
		{MemoryCoherent, "COHERENT"},
		{MemoryCPUCached, "CPU_CACHED"},
		{MemoryLazilyAllocated, "LAZILY_ALLOCATED"},
	} {
		if p&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

type MemoryType struct {
	Properties MemoryProperty
	HeapIndex  int
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

type MemoryProperties struct {
	MemoryTypes []MemoryType
	MemoryHeaps []MemoryHeap
}

type Features struct {
	SamplerAnisotropy    bool
	FillModeNonSolid     bool
	WideLines            bool
	TextureCompressionBC bool
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	// Bit i set means memory type i can back the resource.
	TypeMask uint32
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageVertex
	BufferUsageIndex
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageColorAttachment
)

type Format int

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGB10A2Unorm
	FormatRGBA16Sfloat
)

func (f Format) IsSRGB() bool {
	return f == FormatRGBA8Srgb || f == FormatBGRA8Srgb
}

func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA16Sfloat:
		return 8
	case FormatUndefined:
		return 0
	default:
		return 4
	}
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "RGBA8_UNORM"
	case FormatRGBA8Srgb:
		return "RGBA8_SRGB"
	case FormatBGRA8Unorm:
		return "BGRA8_UNORM"
	case FormatBGRA8Srgb:
		return "BGRA8_SRGB"
	case FormatRGB10A2Unorm:
		return "RGB10A2_UNORM"
	case FormatRGBA16Sfloat:
		return "RGBA16_SFLOAT"
	default:
		return "UNDEFINED"
	}
}

type PresentMode int

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFifo
	PresentModeRelaxed
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeRelaxed:
		return "relaxed"
	default:
		return "immediate"
	}
}

func ParsePresentMode(s string) (PresentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mailbox":
		return PresentModeMailbox, nil
	case "fifo":
		return PresentModeFifo, nil
	case "relaxed":
		return PresentModeRelaxed, nil
	case "immediate":
		return PresentModeImmediate, nil
	}
	return 0, fmt.Errorf("unknown present mode %q", s)
}

// CompositeAlpha is a set of alpha compositing modes.
type CompositeAlpha uint32

const (
	CompositeAlphaOpaque CompositeAlpha = 1 << iota
	CompositeAlphaPreMultiplied
	CompositeAlphaPostMultiplied
	CompositeAlphaInherit
)

func (c CompositeAlpha) Contains(mode CompositeAlpha) bool {
	return mode != 0 && c&mode == mode
}

func (c CompositeAlpha) String() string {
	switch c {
	case CompositeAlphaOpaque:
		return "opaque"
	case CompositeAlphaPreMultiplied:
		return "pre-multiplied"
	case CompositeAlphaPostMultiplied:
		return "post-multiplied"
	case CompositeAlphaInherit:
		return "inherit"
	default:
		return fmt.Sprintf("composite-alpha(%#x)", uint32(c))
	}
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

type Rect struct {
	X, Y   int32
	Extent Extent2D
}

type ImageCountRange struct {
	Min uint32
	Max uint32
}

type SurfaceCapabilities struct {
	ImageCount ImageCountRange
	// Nil when the surface size follows the swapchain extent.
	CurrentExtent *Extent2D
	MinExtent     Extent2D
	MaxExtent     Extent2D
	Usage         ImageUsage
}

type SwapchainConfig struct {
	PresentMode    PresentMode
	CompositeAlpha CompositeAlpha
	Format         Format
	Extent         Extent2D
	ImageCount     uint32
	ImageLayers    uint32
	ImageUsage     ImageUsage
}

type ImageTiling int

const (
	ImageTilingOptimal ImageTiling = iota
	ImageTilingLinear
)

type ImageDesc struct {
	Extent    Extent2D
	Layers    uint32
	MipLevels uint32
	Samples   uint32
	Format    Format
	Tiling    ImageTiling
	Usage     ImageUsage
}

type SubresourceRange struct {
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// ColorRange covers the single mip level and layer of a plain 2D color image.
var ColorRange = SubresourceRange{LevelCount: 1, LayerCount: 1}

type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutTransferDstOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutColorAttachmentOptimal
	ImageLayoutPresentSrc
)

type Access uint32

const (
	AccessNone          Access = 0
	AccessTransferWrite Access = 1 << iota
	AccessTransferRead
	AccessShaderRead
	AccessColorAttachmentWrite
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageTransfer
	PipelineStageFragmentShader
	PipelineStageColorAttachmentOutput
	PipelineStageBottomOfPipe
)

type ImageBarrier struct {
	Image     Image
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess Access
	DstAccess Access
	Range     SubresourceRange
}

type BufferImageCopy struct {
	BufferOffset uint64
	// Row length in texels; zero means tightly packed.
	BufferRowLength   uint32
	BufferImageHeight uint32
	ImageOffsetX      int32
	ImageOffsetY      int32
	ImageExtent       Extent2D
}

type LoadOp int

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type StoreOp int

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

type AttachmentDesc struct {
	Format        Format
	Load          LoadOp
	Store         StoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

type ClearColor struct {
	R, G, B, A float32
}

type CommandPoolFlags uint32

const (
	CommandPoolTransient CommandPoolFlags = 1 << iota
	CommandPoolResetIndividual
)

type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

type Submission struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []SemaphoreWait
	SignalSemaphores []Semaphore
}

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

type WrapMode int

const (
	WrapClamp WrapMode = iota
	WrapRepeat
	WrapMirror
)

type SamplerInfo struct {
	MinFilter     Filter
	MagFilter     Filter
	MipFilter     Filter
	Wrap          WrapMode
	MaxAnisotropy float32
}
