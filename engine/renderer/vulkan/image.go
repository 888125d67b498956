package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

func (d *Device) CreateImage(desc hal.ImageDesc) (hal.Image, error) {
	samples := vk.SampleCount1Bit
	if desc.Samples > 1 {
		samples = vk.SampleCountFlagBits(desc.Samples)
	}
	var image vk.Image
	res := vk.CreateImage(d.handle, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    toVkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     max(desc.MipLevels, 1),
		ArrayLayers:   max(desc.Layers, 1),
		Samples:       samples,
		Tiling:        toVkTiling(desc.Tiling),
		Usage:         vk.ImageUsageFlags(toBits(desc.Usage, imageUsageBits)),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &image)
	if err := check(res, "create image"); err != nil {
		return nil, err
	}
	return image, nil
}

func (d *Device) ImageRequirements(img hal.Image) hal.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img.(vk.Image), &req)
	req.Deref()
	return requirements(req)
}

func (d *Device) BindImageMemory(mem hal.Memory, offset uint64, img hal.Image) error {
	return check(vk.BindImageMemory(d.handle, img.(vk.Image), mem.(*deviceMemory).handle, vk.DeviceSize(offset)), "bind image memory")
}

func (d *Device) DestroyImage(img hal.Image) {
	if img == nil {
		return
	}
	vk.DestroyImage(d.handle, img.(vk.Image), nil)
}

func (d *Device) CreateImageView(img hal.Image, format hal.Format, rng hal.SubresourceRange) (hal.ImageView, error) {
	var view vk.ImageView
	res := vk.CreateImageView(d.handle, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.(vk.Image),
		ViewType: vk.ImageViewType2d,
		Format:   toVkFormat(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: toVkRange(rng),
	}, nil, &view)
	if err := check(res, "create image view"); err != nil {
		return nil, err
	}
	return view, nil
}

func (d *Device) DestroyImageView(v hal.ImageView) {
	if v == nil {
		return
	}
	vk.DestroyImageView(d.handle, v.(vk.ImageView), nil)
}

func (d *Device) CreateSampler(info hal.SamplerInfo) (hal.Sampler, error) {
	anisotropy := vk.Bool32(vk.False)
	if info.MaxAnisotropy > 1 {
		anisotropy = vk.True
	}
	var sampler vk.Sampler
	res := vk.CreateSampler(d.handle, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               toVkFilter(info.MagFilter),
		MinFilter:               toVkFilter(info.MinFilter),
		MipmapMode:              toVkMipmapMode(info.MipFilter),
		AddressModeU:            toVkAddressMode(info.Wrap),
		AddressModeV:            toVkAddressMode(info.Wrap),
		AddressModeW:            toVkAddressMode(info.Wrap),
		AnisotropyEnable:        anisotropy,
		MaxAnisotropy:           max(info.MaxAnisotropy, 1),
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
	}, nil, &sampler)
	if err := check(res, "create sampler"); err != nil {
		return nil, err
	}
	return sampler, nil
}

func (d *Device) DestroySampler(s hal.Sampler) {
	if s == nil {
		return
	}
	vk.DestroySampler(d.handle, s.(vk.Sampler), nil)
}
