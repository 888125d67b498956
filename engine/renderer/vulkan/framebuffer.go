package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

func (d *Device) CreateFramebuffer(rp hal.RenderPass, views []hal.ImageView, extent hal.Extent2D) (hal.Framebuffer, error) {
	attachments := make([]vk.ImageView, len(views))
	for i, v := range views {
		attachments[i] = v.(vk.ImageView)
	}
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.(vk.RenderPass),
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.handle, &framebufferCreateInfo, nil, &framebuffer), "create framebuffer"); err != nil {
		return nil, err
	}
	return framebuffer, nil
}

func (d *Device) DestroyFramebuffer(fb hal.Framebuffer) {
	if fb == nil {
		return
	}
	vk.DestroyFramebuffer(d.handle, fb.(vk.Framebuffer), nil)
}
