package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

func (d *Device) CreateRenderPass(attachments []hal.AttachmentDesc) (hal.RenderPass, error) {
	attachmentDescriptions := make([]vk.AttachmentDescription, len(attachments))
	colorAttachmentReferences := make([]vk.AttachmentReference, len(attachments))
	for i, a := range attachments {
		attachmentDescriptions[i] = vk.AttachmentDescription{
			Format:         toVkFormat(a.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         toVkLoadOp(a.Load),
			StoreOp:        toVkStoreOp(a.Store),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  toVkLayout(a.InitialLayout),
			FinalLayout:    toVkLayout(a.FinalLayout),
		}
		colorAttachmentReferences[i] = vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentReferences)),
		PColorAttachments:    colorAttachmentReferences,
	}

	// Wait for the presentation engine to release the image before writing to it.
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var renderPass vk.RenderPass
	if err := check(vk.CreateRenderPass(d.handle, &renderpassCreateInfo, nil, &renderPass), "create render pass"); err != nil {
		return nil, err
	}
	return renderPass, nil
}

func (d *Device) DestroyRenderPass(rp hal.RenderPass) {
	if rp == nil {
		return
	}
	vk.DestroyRenderPass(d.handle, rp.(vk.RenderPass), nil)
}
