package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

type Surface struct {
	handle   vk.Surface
	instance vk.Instance
}

func (s *Surface) SupportsQueueFamily(pd hal.PhysicalDevice, family hal.QueueFamily) bool {
	var supportsPresent vk.Bool32 = vk.False
	res := vk.GetPhysicalDeviceSurfaceSupport(pd.(*PhysicalDevice).handle, uint32(family.ID), s.handle, &supportsPresent)
	return res == vk.Success && supportsPresent == vk.True
}

func (s *Surface) capabilities(pd *PhysicalDevice) (vk.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(pd.handle, s.handle, &caps), "surface capabilities"); err != nil {
		return caps, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return caps, nil
}

// Compatibility reports formats as nil when the surface advertises a single undefined format,
// which means any format is accepted.
func (s *Surface) Compatibility(hpd hal.PhysicalDevice) (hal.SurfaceCapabilities, []hal.Format, []hal.PresentMode, hal.CompositeAlpha, error) {
	pd := hpd.(*PhysicalDevice)
	caps, err := s.capabilities(pd)
	if err != nil {
		return hal.SurfaceCapabilities{}, nil, nil, 0, err
	}
	out := hal.SurfaceCapabilities{
		ImageCount: hal.ImageCountRange{Min: caps.MinImageCount, Max: caps.MaxImageCount},
		MinExtent:  hal.Extent2D{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxExtent:  hal.Extent2D{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		Usage:      fromBits[hal.ImageUsage](vk.ImageUsageFlagBits(caps.SupportedUsageFlags), imageUsageBits),
	}
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		out.CurrentExtent = &hal.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
	}

	var formatCount uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(pd.handle, s.handle, &formatCount, nil), "surface formats"); err != nil {
		return out, nil, nil, 0, err
	}
	surfaceFormats := make([]vk.SurfaceFormat, formatCount)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(pd.handle, s.handle, &formatCount, surfaceFormats), "surface formats"); err != nil {
		return out, nil, nil, 0, err
	}
	var formats []hal.Format
	for i := range surfaceFormats {
		surfaceFormats[i].Deref()
		if f, ok := fromVkFormat(surfaceFormats[i].Format); ok {
			formats = append(formats, f)
		}
	}
	if formatCount == 1 && surfaceFormats[0].Format == vk.FormatUndefined {
		formats = nil
	}

	var modeCount uint32
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(pd.handle, s.handle, &modeCount, nil), "surface present modes"); err != nil {
		return out, nil, nil, 0, err
	}
	vkModes := make([]vk.PresentMode, modeCount)
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(pd.handle, s.handle, &modeCount, vkModes), "surface present modes"); err != nil {
		return out, nil, nil, 0, err
	}
	var modes []hal.PresentMode
	for _, m := range vkModes {
		if mode, ok := fromVkPresentMode(m); ok {
			modes = append(modes, mode)
		}
	}

	alpha := fromBits[hal.CompositeAlpha](vk.CompositeAlphaFlagBits(caps.SupportedCompositeAlpha), compositeAlphaBits)
	return out, formats, modes, alpha, nil
}

type Swapchain struct {
	handle vk.Swapchain
	images []vk.Image
}

func (d *Device) CreateSwapchain(surface hal.Surface, cfg hal.SwapchainConfig) (hal.Swapchain, []hal.Image, error) {
	s := surface.(*Surface)
	caps, err := s.capabilities(d.physical)
	if err != nil {
		return nil, nil, err
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         s.handle,
		MinImageCount:   cfg.ImageCount,
		ImageFormat:     toVkFormat(cfg.Format),
		ImageColorSpace: vk.ColorSpaceSrgbNonlinear,
		ImageExtent: vk.Extent2D{
			Width:  cfg.Extent.Width,
			Height: cfg.Extent.Height,
		},
		ImageArrayLayers: max(cfg.ImageLayers, 1),
		ImageUsage:       vk.ImageUsageFlags(toBits(cfg.ImageUsage, imageUsageBits)),
		// Graphics and present share one queue family.
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   toBits(cfg.CompositeAlpha, compositeAlphaBits),
		PresentMode:      toVkPresentMode(cfg.PresentMode),
		Clipped:          vk.True,
	}

	var swapchainHandle vk.Swapchain
	if err := check(vk.CreateSwapchain(d.handle, &swapchainCreateInfo, nil, &swapchainHandle), "create swapchain"); err != nil {
		return nil, nil, err
	}

	var imageCount uint32
	if err := check(vk.GetSwapchainImages(d.handle, swapchainHandle, &imageCount, nil), "get swapchain images"); err != nil {
		vk.DestroySwapchain(d.handle, swapchainHandle, nil)
		return nil, nil, err
	}
	images := make([]vk.Image, imageCount)
	if err := check(vk.GetSwapchainImages(d.handle, swapchainHandle, &imageCount, images), "get swapchain images"); err != nil {
		vk.DestroySwapchain(d.handle, swapchainHandle, nil)
		return nil, nil, err
	}

	out := make([]hal.Image, imageCount)
	for i := range out {
		out[i] = images[i]
	}
	core.LogDebug("swapchain created: %dx%d %s %s images:%d", cfg.Extent.Width, cfg.Extent.Height, cfg.Format, cfg.PresentMode, imageCount)
	return &Swapchain{handle: swapchainHandle, images: images}, out, nil
}

func (d *Device) DestroySwapchain(sc hal.Swapchain) {
	if sc == nil {
		return
	}
	vk.DestroySwapchain(d.handle, sc.(*Swapchain).handle, nil)
}

// AcquireImage treats a suboptimal swapchain as success; the frame is presented and the
// caller learns about it from Present.
func (d *Device) AcquireImage(sc hal.Swapchain, timeout uint64, signal hal.Semaphore) (uint32, error) {
	var index uint32
	var fence vk.Fence
	res := vk.AcquireNextImage(d.handle, sc.(*Swapchain).handle, timeout, signal.(vk.Semaphore), fence, &index)
	if res == vk.Suboptimal {
		return index, nil
	}
	if err := check(res, "acquire next image"); err != nil {
		return 0, err
	}
	return index, nil
}
