package haltest

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

type CommandPool struct {
	ID      int
	Flags   hal.CommandPoolFlags
	backend *Backend
	buffers []*CommandBuffer
}

type CommandBuffer struct {
	ID      int
	pool    *CommandPool
	backend *Backend
	state   cbState
	oneShot bool
	ops     []func() error
	inPass  bool
	frame   *Framebuffer
	// Fence of the last submission; the buffer is in use by the GPU while it is pending.
	fence *Fence
}

func (cb *CommandBuffer) inUse() bool {
	cb.backend.mu.Lock()
	defer cb.backend.mu.Unlock()
	return cb.fence != nil && cb.fence.pending
}

func (d *Device) CreateCommandPool(family hal.QueueFamily, flags hal.CommandPoolFlags) (hal.CommandPool, error) {
	if err := d.backend.fault("CreateCommandPool"); err != nil {
		return nil, err
	}
	p := &CommandPool{ID: d.backend.id(), Flags: flags, backend: d.backend}
	d.backend.created("pool", "create pool:%d family:%d", p.ID, family.ID)
	return p, nil
}

func (d *Device) DestroyCommandPool(p hal.CommandPool) {
	if p == nil {
		return
	}
	pool := p.(*CommandPool)
	for _, cb := range pool.buffers {
		d.backend.destroyed("cmdbuf", "free cmdbuf:%d", cb.ID)
	}
	pool.buffers = nil
	d.backend.destroyed("pool", "destroy pool:%d", pool.ID)
}

func (p *CommandPool) Allocate() (hal.CommandBuffer, error) {
	if err := p.backend.fault("Allocate"); err != nil {
		return nil, err
	}
	cb := &CommandBuffer{ID: p.backend.id(), pool: p, backend: p.backend}
	p.buffers = append(p.buffers, cb)
	p.backend.created("cmdbuf", "allocate cmdbuf:%d pool:%d", cb.ID, p.ID)
	return cb, nil
}

func (p *CommandPool) Free(c hal.CommandBuffer) {
	cb := c.(*CommandBuffer)
	i := slices.Index(p.buffers, cb)
	if i < 0 {
		return
	}
	p.buffers = slices.Delete(p.buffers, i, i+1)
	p.backend.destroyed("cmdbuf", "free cmdbuf:%d", cb.ID)
}

func (cb *CommandBuffer) Begin(oneShot bool) error {
	if err := cb.backend.fault("Begin"); err != nil {
		return err
	}
	if cb.inUse() {
		return fmt.Errorf("cmdbuf:%d re-recorded while its fence:%d is pending", cb.ID, cb.fence.ID)
	}
	if cb.state == cbRecording {
		return fmt.Errorf("cmdbuf:%d cannot begin while recording", cb.ID)
	}
	if cb.state == cbExecutable && cb.pool.Flags&hal.CommandPoolResetIndividual == 0 {
		return fmt.Errorf("cmdbuf:%d implicit reset needs a resettable pool", cb.ID)
	}
	cb.state, cb.oneShot, cb.ops, cb.inPass = cbRecording, oneShot, nil, false
	cb.backend.record("begin cmdbuf:%d", cb.ID)
	return nil
}

func (cb *CommandBuffer) Reset() error {
	if cb.inUse() {
		return fmt.Errorf("cmdbuf:%d reset while its fence:%d is pending", cb.ID, cb.fence.ID)
	}
	if cb.pool.Flags&hal.CommandPoolResetIndividual == 0 {
		return fmt.Errorf("cmdbuf:%d pool does not allow resets", cb.ID)
	}
	cb.state, cb.ops, cb.inPass = cbInitial, nil, false
	cb.backend.record("reset cmdbuf:%d", cb.ID)
	return nil
}

func (cb *CommandBuffer) Finish() error {
	if err := cb.backend.fault("Finish"); err != nil {
		return err
	}
	if cb.state != cbRecording {
		return fmt.Errorf("cmdbuf:%d finished while not recording", cb.ID)
	}
	if cb.inPass {
		return fmt.Errorf("cmdbuf:%d finished inside a render pass", cb.ID)
	}
	cb.state = cbExecutable
	cb.backend.record("finish cmdbuf:%d", cb.ID)
	return nil
}

func (cb *CommandBuffer) push(name string, op func() error) {
	if cb.state != cbRecording {
		cb.ops = append(cb.ops, func() error { return fmt.Errorf("%s recorded outside recording state", name) })
		return
	}
	cb.backend.record("cmd %s cmdbuf:%d", name, cb.ID)
	cb.ops = append(cb.ops, op)
}

func (cb *CommandBuffer) PipelineBarrier(src, dst hal.PipelineStage, barriers ...hal.ImageBarrier) {
	bs := slices.Clone(barriers)
	cb.push("barrier", func() error {
		for _, b := range bs {
			img := b.Image.(*Image)
			if b.OldLayout != hal.ImageLayoutUndefined && b.OldLayout != img.Layout {
				return fmt.Errorf("barrier on image:%d expects layout %d, image is in %d", img.ID, b.OldLayout, img.Layout)
			}
			img.Layout = b.NewLayout
		}
		return nil
	})
}

func (cb *CommandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, dstLayout hal.ImageLayout, regions ...hal.BufferImageCopy) {
	buf, img := src.(*Buffer), dst.(*Image)
	rs := slices.Clone(regions)
	cb.push("copy-buffer-to-image", func() error {
		if img.Layout != dstLayout || dstLayout != hal.ImageLayoutTransferDstOptimal {
			return fmt.Errorf("copy into image:%d in layout %d", img.ID, img.Layout)
		}
		return copyRegions(buf, img, rs, true)
	})
}

func (cb *CommandBuffer) CopyImageToBuffer(src hal.Image, srcLayout hal.ImageLayout, dst hal.Buffer, regions ...hal.BufferImageCopy) {
	img, buf := src.(*Image), dst.(*Buffer)
	rs := slices.Clone(regions)
	cb.push("copy-image-to-buffer", func() error {
		if img.Layout != srcLayout || srcLayout != hal.ImageLayoutTransferSrcOptimal {
			return fmt.Errorf("copy from image:%d in layout %d", img.ID, img.Layout)
		}
		return copyRegions(buf, img, rs, false)
	})
}

func copyRegions(buf *Buffer, img *Image, regions []hal.BufferImageCopy, toImage bool) error {
	if buf.memory == nil {
		return fmt.Errorf("buffer:%d has no memory bound", buf.ID)
	}
	bpp := uint64(img.Desc.Format.BytesPerPixel())
	width := uint64(img.Desc.Extent.Width)
	for _, r := range regions {
		rowLength := uint64(r.BufferRowLength)
		if rowLength == 0 {
			rowLength = uint64(r.ImageExtent.Width)
		}
		rowBytes := uint64(r.ImageExtent.Width) * bpp
		for y := uint64(0); y < uint64(r.ImageExtent.Height); y++ {
			bOff := buf.offset + r.BufferOffset + y*rowLength*bpp
			iOff := ((uint64(r.ImageOffsetY)+y)*width + uint64(r.ImageOffsetX)) * bpp
			if bOff+rowBytes > buf.offset+buf.Size || iOff+rowBytes > uint64(len(img.Pixels)) {
				return fmt.Errorf("copy region out of bounds for buffer:%d image:%d", buf.ID, img.ID)
			}
			if toImage {
				copy(img.Pixels[iOff:iOff+rowBytes], buf.memory.Data[bOff:bOff+rowBytes])
			} else {
				copy(buf.memory.Data[bOff:bOff+rowBytes], img.Pixels[iOff:iOff+rowBytes])
			}
		}
	}
	return nil
}

func (cb *CommandBuffer) BeginRenderPass(rp hal.RenderPass, fb hal.Framebuffer, area hal.Rect, clear []hal.ClearColor) {
	pass, frame := rp.(*RenderPass), fb.(*Framebuffer)
	colors := slices.Clone(clear)
	cb.inPass, cb.frame = true, frame
	cb.push(fmt.Sprintf("begin-renderpass framebuffer:%d", frame.ID), func() error {
		if frame.Pass != pass {
			return fmt.Errorf("framebuffer:%d was not built for renderpass:%d", frame.ID, pass.ID)
		}
		for i, v := range frame.Views {
			att := pass.Attachments[i]
			if att.Load == hal.LoadOpClear {
				if i >= len(colors) {
					return fmt.Errorf("missing clear value for attachment %d", i)
				}
				fill(v.Image, colors[i])
			}
			v.Image.Layout = hal.ImageLayoutColorAttachmentOptimal
		}
		return nil
	})
}

func (cb *CommandBuffer) EndRenderPass() {
	frame := cb.frame
	cb.inPass, cb.frame = false, nil
	cb.push("end-renderpass", func() error {
		if frame == nil {
			return fmt.Errorf("end-renderpass without a render pass")
		}
		for i, v := range frame.Views {
			v.Image.Layout = frame.Pass.Attachments[i].FinalLayout
		}
		return nil
	})
}

func fill(img *Image, c hal.ClearColor) {
	px := [4]byte{unorm(c.R), unorm(c.G), unorm(c.B), unorm(c.A)}
	if img.Desc.Format == hal.FormatBGRA8Srgb || img.Desc.Format == hal.FormatBGRA8Unorm {
		px[0], px[2] = px[2], px[0]
	}
	for i := 0; i+4 <= len(img.Pixels); i += 4 {
		copy(img.Pixels[i:i+4], px[:])
	}
}

func unorm(v float32) byte {
	return byte(min(max(v, 0), 1)*255 + 0.5)
}

// Queue implements hal.Queue.
type Queue struct {
	backend *Backend
	Family  int
	Index   int
}

func (q *Queue) Submit(s hal.Submission, fence hal.Fence) error {
	b := q.backend
	if err := b.fault("Submit"); err != nil {
		return err
	}
	for _, w := range s.WaitSemaphores {
		sem := w.Semaphore.(*Semaphore)
		if !sem.signaled {
			return fmt.Errorf("submit waits on unsignaled semaphore:%d", sem.ID)
		}
		sem.signaled = false
	}
	for _, c := range s.CommandBuffers {
		cb := c.(*CommandBuffer)
		if cb.state != cbExecutable {
			return fmt.Errorf("cmdbuf:%d submitted in state %d", cb.ID, cb.state)
		}
		if cb.inUse() {
			return fmt.Errorf("cmdbuf:%d submitted while its fence:%d is pending", cb.ID, cb.fence.ID)
		}
		for _, op := range cb.ops {
			if err := op(); err != nil {
				return err
			}
		}
	}
	for _, sem := range s.SignalSemaphores {
		sem.(*Semaphore).signaled = true
	}

	ids := make([]int, len(s.CommandBuffers))
	for i, c := range s.CommandBuffers {
		ids[i] = c.(*CommandBuffer).ID
	}
	if fence != nil {
		f := fence.(*Fence)
		b.mu.Lock()
		if f.signaled || f.pending {
			b.mu.Unlock()
			return fmt.Errorf("submit with fence:%d that is not reset", f.ID)
		}
		f.pending = true
		b.pending = append(b.pending, f)
		for _, c := range s.CommandBuffers {
			c.(*CommandBuffer).fence = f
		}
		b.mu.Unlock()
		b.record("submit cmdbufs:%v fence:%d", ids, f.ID)
	} else {
		b.record("submit cmdbufs:%v", ids)
	}
	return nil
}

func (q *Queue) Present(sc hal.Swapchain, imageIndex uint32, wait []hal.Semaphore) error {
	b := q.backend
	chain := sc.(*Swapchain)
	if err := b.fault("Present"); err != nil {
		return err
	}
	for _, s := range wait {
		sem := s.(*Semaphore)
		if !sem.signaled {
			return fmt.Errorf("present waits on unsignaled semaphore:%d", sem.ID)
		}
		sem.signaled = false
	}
	if int(imageIndex) >= len(chain.Images) || !chain.acquired[imageIndex] {
		return fmt.Errorf("present of image %d that was not acquired", imageIndex)
	}
	chain.acquired[imageIndex] = false
	chain.Presented = append(chain.Presented, imageIndex)
	b.record("present swapchain:%d image:%d", chain.ID, imageIndex)
	return nil
}

func (q *Queue) WaitIdle() error {
	q.backend.record("queue wait idle")
	q.backend.signalPending()
	return nil
}

func (b *Backend) pendingFences() []*Fence {
	out := b.pending
	b.pending = nil
	return out
}

// Swapchain implements hal.Swapchain.
type Swapchain struct {
	ID        int
	Config    hal.SwapchainConfig
	Images    []*Image
	Presented []uint32
	acquired  []bool
	next      int
}

func (d *Device) CreateSwapchain(surface hal.Surface, cfg hal.SwapchainConfig) (hal.Swapchain, []hal.Image, error) {
	b := d.backend
	if err := b.fault("CreateSwapchain"); err != nil {
		return nil, nil, err
	}
	if cfg.ImageCount == 0 {
		return nil, nil, errors.New("swapchain needs at least one image")
	}
	sc := &Swapchain{ID: b.id(), Config: cfg, acquired: make([]bool, cfg.ImageCount)}
	images := make([]hal.Image, cfg.ImageCount)
	for i := range images {
		img := newImage(b.id(), hal.ImageDesc{
			Extent:    cfg.Extent,
			Layers:    cfg.ImageLayers,
			MipLevels: 1,
			Samples:   1,
			Format:    cfg.Format,
			Usage:     cfg.ImageUsage,
		})
		img.swapchain = true
		sc.Images = append(sc.Images, img)
		images[i] = img
	}
	b.mu.Lock()
	b.swapchainConfigs = append(b.swapchainConfigs, cfg)
	b.swapchains = append(b.swapchains, sc)
	b.mu.Unlock()
	b.created("swapchain", "create swapchain:%d %s %s images:%d", sc.ID, cfg.PresentMode, cfg.Format, cfg.ImageCount)
	return sc, images, nil
}

func (d *Device) DestroySwapchain(sc hal.Swapchain) {
	if sc == nil {
		return
	}
	d.backend.destroyed("swapchain", "destroy swapchain:%d", sc.(*Swapchain).ID)
}

func (d *Device) AcquireImage(sc hal.Swapchain, timeout uint64, signal hal.Semaphore) (uint32, error) {
	b := d.backend
	chain := sc.(*Swapchain)
	if err := b.fault("AcquireImage"); err != nil {
		return 0, err
	}
	var idx uint32
	if len(b.AcquireOrder) > 0 {
		idx = b.AcquireOrder[chain.next%len(b.AcquireOrder)]
	} else {
		idx = uint32(chain.next % len(chain.Images))
	}
	chain.next++
	if int(idx) >= len(chain.Images) {
		return 0, fmt.Errorf("acquire order names image %d of %d", idx, len(chain.Images))
	}
	if chain.acquired[idx] {
		return 0, fmt.Errorf("image %d acquired twice without present", idx)
	}
	sem := signal.(*Semaphore)
	if sem.signaled {
		return 0, fmt.Errorf("acquire signals semaphore:%d that is already signaled", sem.ID)
	}
	sem.signaled = true
	chain.acquired[idx] = true
	b.record("acquire swapchain:%d image:%d", chain.ID, idx)
	return idx, nil
}
