package haltest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

type Memory struct {
	ID        int
	TypeIndex int
	Data      []byte
	mapped    bool
}

type Buffer struct {
	ID     int
	Size   uint64
	Usage  hal.BufferUsage
	memory *Memory
	offset uint64
}

type Image struct {
	ID     int
	Desc   hal.ImageDesc
	Layout hal.ImageLayout
	// Tightly packed texel storage.
	Pixels    []byte
	memory    *Memory
	swapchain bool
}

type ImageView struct {
	ID    int
	Image *Image
}

type Sampler struct {
	ID   int
	Info hal.SamplerInfo
}

type RenderPass struct {
	ID          int
	Attachments []hal.AttachmentDesc
}

type Framebuffer struct {
	ID     int
	Pass   *RenderPass
	Views  []*ImageView
	Extent hal.Extent2D
}

type Fence struct {
	ID       int
	signaled bool
	pending  bool
}

type Semaphore struct {
	ID       int
	signaled bool
}

// Device implements hal.Device.
type Device struct {
	backend *Backend
	spec    *AdapterSpec
}

var _ hal.Device = (*Device)(nil)

func (d *Device) WaitIdle() error {
	d.backend.record("wait idle")
	if err := d.backend.fault("WaitIdle"); err != nil {
		return err
	}
	d.backend.signalPending()
	return nil
}

func (d *Device) allTypes() uint32 {
	return uint32(1)<<len(d.spec.Memory.MemoryTypes) - 1
}

func (d *Device) CreateBuffer(size uint64, usage hal.BufferUsage) (hal.Buffer, error) {
	if err := d.backend.fault("CreateBuffer"); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, errors.New("buffer size must be positive")
	}
	buf := &Buffer{ID: d.backend.id(), Size: size, Usage: usage}
	d.backend.created("buffer", "create buffer:%d size:%d", buf.ID, size)
	return buf, nil
}

func (d *Device) BufferRequirements(b hal.Buffer) hal.MemoryRequirements {
	buf := b.(*Buffer)
	return hal.MemoryRequirements{
		Size:      alignUp(buf.Size, 64),
		Alignment: 64,
		TypeMask:  d.allTypes(),
	}
}

func (d *Device) BindBufferMemory(mem hal.Memory, offset uint64, b hal.Buffer) error {
	if err := d.backend.fault("BindBufferMemory"); err != nil {
		return err
	}
	buf, m := b.(*Buffer), mem.(*Memory)
	if offset+buf.Size > uint64(len(m.Data)) {
		return fmt.Errorf("buffer:%d does not fit memory:%d at offset %d", buf.ID, m.ID, offset)
	}
	buf.memory, buf.offset = m, offset
	d.backend.record("bind buffer:%d memory:%d offset:%d", buf.ID, m.ID, offset)
	return nil
}

func (d *Device) DestroyBuffer(b hal.Buffer) {
	if b == nil {
		return
	}
	d.backend.destroyed("buffer", "destroy buffer:%d", b.(*Buffer).ID)
}

func (d *Device) AllocateMemory(typeIndex int, size uint64) (hal.Memory, error) {
	if err := d.backend.fault("AllocateMemory"); err != nil {
		return nil, err
	}
	if typeIndex < 0 || typeIndex >= len(d.spec.Memory.MemoryTypes) {
		return nil, fmt.Errorf("memory type %d out of range", typeIndex)
	}
	m := &Memory{ID: d.backend.id(), TypeIndex: typeIndex, Data: make([]byte, size)}
	d.backend.created("memory", "allocate memory:%d type:%d size:%d", m.ID, typeIndex, size)
	return m, nil
}

func (d *Device) FreeMemory(mem hal.Memory) {
	if mem == nil {
		return
	}
	d.backend.destroyed("memory", "free memory:%d", mem.(*Memory).ID)
}

func (d *Device) MapMemory(mem hal.Memory, offset, size uint64) ([]byte, error) {
	if err := d.backend.fault("MapMemory"); err != nil {
		return nil, err
	}
	m := mem.(*Memory)
	if !d.spec.Memory.MemoryTypes[m.TypeIndex].Properties.Contains(hal.MemoryCPUVisible) {
		return nil, hal.ErrMapFailed
	}
	if m.mapped {
		return nil, fmt.Errorf("memory:%d already mapped", m.ID)
	}
	if offset+size > uint64(len(m.Data)) {
		return nil, fmt.Errorf("map range exceeds memory:%d", m.ID)
	}
	m.mapped = true
	d.backend.record("map memory:%d", m.ID)
	return m.Data[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(mem hal.Memory) error {
	m := mem.(*Memory)
	d.backend.record("unmap memory:%d", m.ID)
	if err := d.backend.fault("UnmapMemory"); err != nil {
		m.mapped = false
		return err
	}
	if !m.mapped {
		return fmt.Errorf("memory:%d is not mapped", m.ID)
	}
	m.mapped = false
	return nil
}

func (d *Device) CreateImage(desc hal.ImageDesc) (hal.Image, error) {
	if err := d.backend.fault("CreateImage"); err != nil {
		return nil, err
	}
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return nil, errors.New("image extent must be positive")
	}
	if desc.Extent.Width > d.spec.Limits.MaxImageDimension2D || desc.Extent.Height > d.spec.Limits.MaxImageDimension2D {
		return nil, fmt.Errorf("image extent %dx%d exceeds device limit", desc.Extent.Width, desc.Extent.Height)
	}
	img := newImage(d.backend.id(), desc)
	d.backend.created("image", "create image:%d %dx%d %s", img.ID, desc.Extent.Width, desc.Extent.Height, desc.Format)
	return img, nil
}

func newImage(id int, desc hal.ImageDesc) *Image {
	size := uint64(desc.Extent.Width) * uint64(desc.Extent.Height) * uint64(desc.Format.BytesPerPixel())
	return &Image{ID: id, Desc: desc, Layout: hal.ImageLayoutUndefined, Pixels: make([]byte, size)}
}

func (d *Device) ImageRequirements(i hal.Image) hal.MemoryRequirements {
	img := i.(*Image)
	return hal.MemoryRequirements{
		Size:      alignUp(uint64(len(img.Pixels)), 256),
		Alignment: 256,
		TypeMask:  d.allTypes(),
	}
}

func (d *Device) BindImageMemory(mem hal.Memory, offset uint64, i hal.Image) error {
	if err := d.backend.fault("BindImageMemory"); err != nil {
		return err
	}
	img, m := i.(*Image), mem.(*Memory)
	if offset+uint64(len(img.Pixels)) > uint64(len(m.Data)) {
		return fmt.Errorf("image:%d does not fit memory:%d", img.ID, m.ID)
	}
	img.memory = m
	d.backend.record("bind image:%d memory:%d offset:%d", img.ID, m.ID, offset)
	return nil
}

func (d *Device) DestroyImage(i hal.Image) {
	if i == nil {
		return
	}
	d.backend.destroyed("image", "destroy image:%d", i.(*Image).ID)
}

func (d *Device) CreateImageView(i hal.Image, format hal.Format, rng hal.SubresourceRange) (hal.ImageView, error) {
	if err := d.backend.fault("CreateImageView"); err != nil {
		return nil, err
	}
	img := i.(*Image)
	if format != img.Desc.Format {
		return nil, fmt.Errorf("view format %s does not match image format %s", format, img.Desc.Format)
	}
	v := &ImageView{ID: d.backend.id(), Image: img}
	d.backend.created("view", "create view:%d image:%d", v.ID, img.ID)
	return v, nil
}

func (d *Device) DestroyImageView(v hal.ImageView) {
	if v == nil {
		return
	}
	d.backend.destroyed("view", "destroy view:%d", v.(*ImageView).ID)
}

func (d *Device) CreateSampler(info hal.SamplerInfo) (hal.Sampler, error) {
	if err := d.backend.fault("CreateSampler"); err != nil {
		return nil, err
	}
	s := &Sampler{ID: d.backend.id(), Info: info}
	d.backend.created("sampler", "create sampler:%d", s.ID)
	return s, nil
}

func (d *Device) DestroySampler(s hal.Sampler) {
	if s == nil {
		return
	}
	d.backend.destroyed("sampler", "destroy sampler:%d", s.(*Sampler).ID)
}

func (d *Device) CreateRenderPass(attachments []hal.AttachmentDesc) (hal.RenderPass, error) {
	if err := d.backend.fault("CreateRenderPass"); err != nil {
		return nil, err
	}
	rp := &RenderPass{ID: d.backend.id(), Attachments: append([]hal.AttachmentDesc(nil), attachments...)}
	d.backend.created("renderpass", "create renderpass:%d", rp.ID)
	return rp, nil
}

func (d *Device) DestroyRenderPass(rp hal.RenderPass) {
	if rp == nil {
		return
	}
	d.backend.destroyed("renderpass", "destroy renderpass:%d", rp.(*RenderPass).ID)
}

func (d *Device) CreateFramebuffer(rp hal.RenderPass, views []hal.ImageView, extent hal.Extent2D) (hal.Framebuffer, error) {
	if err := d.backend.fault("CreateFramebuffer"); err != nil {
		return nil, err
	}
	pass := rp.(*RenderPass)
	if len(views) != len(pass.Attachments) {
		return nil, fmt.Errorf("framebuffer has %d views for %d attachments", len(views), len(pass.Attachments))
	}
	fb := &Framebuffer{ID: d.backend.id(), Pass: pass, Extent: extent}
	for i, v := range views {
		view := v.(*ImageView)
		if view.Image.Desc.Format != pass.Attachments[i].Format {
			return nil, fmt.Errorf("attachment %d format %s does not match view format %s", i, pass.Attachments[i].Format, view.Image.Desc.Format)
		}
		fb.Views = append(fb.Views, view)
	}
	d.backend.created("framebuffer", "create framebuffer:%d", fb.ID)
	return fb, nil
}

func (d *Device) DestroyFramebuffer(fb hal.Framebuffer) {
	if fb == nil {
		return
	}
	d.backend.destroyed("framebuffer", "destroy framebuffer:%d", fb.(*Framebuffer).ID)
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	if err := d.backend.fault("CreateFence"); err != nil {
		return nil, err
	}
	f := &Fence{ID: d.backend.id(), signaled: signaled}
	d.backend.created("fence", "create fence:%d signaled:%t", f.ID, signaled)
	return f, nil
}

func (d *Device) WaitForFence(f hal.Fence, timeout uint64) error {
	b := d.backend
	fence := f.(*Fence)
	b.record("wait fence:%d", fence.ID)
	if err := b.fault("WaitForFence"); err != nil {
		return err
	}

	b.mu.Lock()
	if fence.signaled {
		b.mu.Unlock()
		return nil
	}
	if !fence.pending {
		b.mu.Unlock()
		// Nothing was submitted with this fence; a real device would block forever.
		return hal.ErrTimeout
	}
	hold := b.hold
	b.mu.Unlock()

	if hold != nil {
		var expired <-chan time.Time
		if timeout <= math.MaxInt64 {
			timer := time.NewTimer(time.Duration(timeout))
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-hold:
		case <-expired:
			return hal.ErrTimeout
		}
	}
	if b.FenceDelay > 0 {
		time.Sleep(b.FenceDelay)
	}

	b.mu.Lock()
	fence.signaled, fence.pending = true, false
	b.mu.Unlock()
	b.record("signal fence:%d", fence.ID)
	return nil
}

func (d *Device) ResetFence(f hal.Fence) error {
	if err := d.backend.fault("ResetFence"); err != nil {
		return err
	}
	fence := f.(*Fence)
	d.backend.mu.Lock()
	pending := fence.pending
	fence.signaled = false
	d.backend.mu.Unlock()
	if pending {
		return fmt.Errorf("fence:%d reset while in use", fence.ID)
	}
	d.backend.record("reset fence:%d", fence.ID)
	return nil
}

func (d *Device) DestroyFence(f hal.Fence) {
	if f == nil {
		return
	}
	d.backend.destroyed("fence", "destroy fence:%d", f.(*Fence).ID)
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	if err := d.backend.fault("CreateSemaphore"); err != nil {
		return nil, err
	}
	s := &Semaphore{ID: d.backend.id()}
	d.backend.created("semaphore", "create semaphore:%d", s.ID)
	return s, nil
}

func (d *Device) DestroySemaphore(s hal.Semaphore) {
	if s == nil {
		return
	}
	d.backend.destroyed("semaphore", "destroy semaphore:%d", s.(*Semaphore).ID)
}

func (d *Device) Destroy() {
	d.backend.destroyed("device", "destroy device")
}

func (b *Backend) signalPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hold != nil {
		return
	}
	for _, f := range b.pendingFences() {
		if f.pending {
			f.signaled, f.pending = true, false
		}
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}
