// Package hal is the backend-neutral surface of the renderer. The gpu package drives a
// Backend through these interfaces; the vulkan package implements them on goki/vulkan and
// haltest implements them in memory.
package hal

// Handles are opaque to callers and only meaningful to the backend that created them.
type (
	Buffer      interface{}
	Memory      interface{}
	Image       interface{}
	ImageView   interface{}
	Sampler     interface{}
	RenderPass  interface{}
	Framebuffer interface{}
	Fence       interface{}
	Semaphore   interface{}
	Swapchain   interface{}
)

// Window is the part of a platform window the renderer reads.
type Window interface {
	FramebufferSize() (width, height uint32)
}

type Backend interface {
	Name() string
	CreateInstance(desc InstanceDescriptor) (Instance, error)
}

type InstanceDescriptor struct {
	ApplicationName string
	Validation      bool
}

type Instance interface {
	// Adapters lists the physical devices in driver order.
	Adapters() ([]*Adapter, error)
	CreateSurface(w Window) (Surface, error)
	DestroySurface(s Surface)
	Destroy()
}

type PhysicalDevice interface {
	// Open creates the logical device with len(priorities) queues of family and returns them.
	Open(family QueueFamily, priorities []float32) (Device, []Queue, error)
	Limits() Limits
	MemoryProperties() MemoryProperties
	Features() Features
}

type Surface interface {
	SupportsQueueFamily(pd PhysicalDevice, family QueueFamily) bool
	// Compatibility returns the capabilities, the advertised formats (nil when any format is
	// accepted), present modes and composite alpha modes for pd.
	Compatibility(pd PhysicalDevice) (SurfaceCapabilities, []Format, []PresentMode, CompositeAlpha, error)
}

type Device interface {
	WaitIdle() error

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	BufferRequirements(b Buffer) MemoryRequirements
	BindBufferMemory(mem Memory, offset uint64, b Buffer) error
	DestroyBuffer(b Buffer)

	AllocateMemory(typeIndex int, size uint64) (Memory, error)
	FreeMemory(mem Memory)
	// MapMemory exposes [offset, offset+size) of mem to the CPU.
	MapMemory(mem Memory, offset, size uint64) ([]byte, error)
	// UnmapMemory flushes pending CPU writes and releases the mapping.
	UnmapMemory(mem Memory) error

	CreateImage(desc ImageDesc) (Image, error)
	ImageRequirements(img Image) MemoryRequirements
	BindImageMemory(mem Memory, offset uint64, img Image) error
	DestroyImage(img Image)
	CreateImageView(img Image, format Format, rng SubresourceRange) (ImageView, error)
	DestroyImageView(v ImageView)

	CreateSampler(info SamplerInfo) (Sampler, error)
	DestroySampler(s Sampler)

	// CreateRenderPass builds a single-subpass render pass writing every attachment as color.
	CreateRenderPass(attachments []AttachmentDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(rp RenderPass, views []ImageView, extent Extent2D) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreateCommandPool(family QueueFamily, flags CommandPoolFlags) (CommandPool, error)
	DestroyCommandPool(p CommandPool)

	CreateFence(signaled bool) (Fence, error)
	// WaitForFence blocks until f is signaled or timeout nanoseconds pass (ErrTimeout).
	WaitForFence(f Fence, timeout uint64) error
	ResetFence(f Fence) error
	DestroyFence(f Fence)
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)

	CreateSwapchain(surface Surface, cfg SwapchainConfig) (Swapchain, []Image, error)
	DestroySwapchain(sc Swapchain)
	// AcquireImage returns the index of the next presentable image; signal is signaled when
	// the presentation engine has released it.
	AcquireImage(sc Swapchain, timeout uint64, signal Semaphore) (uint32, error)

	Destroy()
}

type Queue interface {
	Submit(s Submission, fence Fence) error
	Present(sc Swapchain, imageIndex uint32, wait []Semaphore) error
	WaitIdle() error
}

type CommandPool interface {
	Allocate() (CommandBuffer, error)
	Free(cb CommandBuffer)
}

type CommandBuffer interface {
	Begin(oneShot bool) error
	// Reset returns a recorded buffer to the initial state. The pool must allow resets.
	Reset() error
	Finish() error

	PipelineBarrier(src, dst PipelineStage, barriers ...ImageBarrier)
	CopyBufferToImage(src Buffer, dst Image, dstLayout ImageLayout, regions ...BufferImageCopy)
	CopyImageToBuffer(src Image, srcLayout ImageLayout, dst Buffer, regions ...BufferImageCopy)
	BeginRenderPass(rp RenderPass, fb Framebuffer, area Rect, clear []ClearColor)
	EndRenderPass()
}
