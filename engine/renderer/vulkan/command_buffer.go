package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

type CommandBufferState int

const (
	CommandBufferStateReady CommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateInRenderPass
	CommandBufferStateRecordingEnded
	CommandBufferStateNotAllocated
)

type CommandPool struct {
	handle vk.CommandPool
	device *Device
}

func (d *Device) CreateCommandPool(family hal.QueueFamily, flags hal.CommandPoolFlags) (hal.CommandPool, error) {
	var createFlags vk.CommandPoolCreateFlagBits
	if flags&hal.CommandPoolTransient != 0 {
		createFlags |= vk.CommandPoolCreateTransientBit
	}
	if flags&hal.CommandPoolResetIndividual != 0 {
		createFlags |= vk.CommandPoolCreateResetCommandBufferBit
	}
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(family.ID),
		Flags:            vk.CommandPoolCreateFlags(createFlags),
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(d.handle, &poolCreateInfo, nil, &pool), "create command pool"); err != nil {
		return nil, err
	}
	return &CommandPool{handle: pool, device: d}, nil
}

func (d *Device) DestroyCommandPool(p hal.CommandPool) {
	if p == nil {
		return
	}
	vk.DestroyCommandPool(d.handle, p.(*CommandPool).handle, nil)
}

func (p *CommandPool) Allocate() (hal.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, 1)
	err := p.device.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.AllocateCommandBuffers(p.device.handle, &vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        p.handle,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}, buffers), "allocate command buffer")
	})
	if err != nil {
		return nil, err
	}
	return &CommandBuffer{handle: buffers[0], state: CommandBufferStateReady}, nil
}

func (p *CommandPool) Free(cb hal.CommandBuffer) {
	if cb == nil {
		return
	}
	c := cb.(*CommandBuffer)
	p.device.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(p.device.handle, p.handle, 1, []vk.CommandBuffer{c.handle})
		return nil
	})
	c.handle = nil
	c.state = CommandBufferStateNotAllocated
}

type CommandBuffer struct {
	handle vk.CommandBuffer
	state  CommandBufferState
}

func (c *CommandBuffer) Begin(oneShot bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneShot {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := check(vk.BeginCommandBuffer(c.handle, beginInfo), "begin command buffer"); err != nil {
		return err
	}
	c.state = CommandBufferStateRecording
	return nil
}

func (c *CommandBuffer) Reset() error {
	if err := check(vk.ResetCommandBuffer(c.handle, 0), "reset command buffer"); err != nil {
		return err
	}
	c.state = CommandBufferStateReady
	return nil
}

func (c *CommandBuffer) Finish() error {
	if c.state == CommandBufferStateInRenderPass {
		return errors.New("command buffer finished inside a render pass")
	}
	if err := check(vk.EndCommandBuffer(c.handle), "end command buffer"); err != nil {
		return err
	}
	c.state = CommandBufferStateRecordingEnded
	return nil
}

func (c *CommandBuffer) PipelineBarrier(src, dst hal.PipelineStage, barriers ...hal.ImageBarrier) {
	imageBarriers := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		imageBarriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       toVkAccess(b.SrcAccess),
			DstAccessMask:       toVkAccess(b.DstAccess),
			OldLayout:           toVkLayout(b.OldLayout),
			NewLayout:           toVkLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               b.Image.(vk.Image),
			SubresourceRange:    toVkRange(b.Range),
		}
	}
	vk.CmdPipelineBarrier(c.handle, toVkStages(src), toVkStages(dst), 0,
		0, nil, 0, nil, uint32(len(imageBarriers)), imageBarriers)
}

func (c *CommandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, dstLayout hal.ImageLayout, regions ...hal.BufferImageCopy) {
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = toVkCopy(r)
	}
	vk.CmdCopyBufferToImage(c.handle, src.(vk.Buffer), dst.(vk.Image), toVkLayout(dstLayout), uint32(len(copies)), copies)
}

func (c *CommandBuffer) CopyImageToBuffer(src hal.Image, srcLayout hal.ImageLayout, dst hal.Buffer, regions ...hal.BufferImageCopy) {
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = toVkCopy(r)
	}
	vk.CmdCopyImageToBuffer(c.handle, src.(vk.Image), toVkLayout(srcLayout), dst.(vk.Buffer), uint32(len(copies)), copies)
}

func (c *CommandBuffer) BeginRenderPass(rp hal.RenderPass, fb hal.Framebuffer, area hal.Rect, clear []hal.ClearColor) {
	clearValues := make([]vk.ClearValue, len(clear))
	for i, cc := range clear {
		clearValues[i].SetColor([]float32{cc.R, cc.G, cc.B, cc.A})
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.(vk.RenderPass),
		Framebuffer: fb.(vk.Framebuffer),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: area.X, Y: area.Y},
			Extent: vk.Extent2D{Width: area.Extent.Width, Height: area.Extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.handle, &beginInfo, vk.SubpassContentsInline)
	c.state = CommandBufferStateInRenderPass
}

func (c *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.handle)
	c.state = CommandBufferStateRecording
}
