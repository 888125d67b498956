package gpu

import (
	"image"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

// Gpu composes the device context, the surface, the upload worker and the swapchain into the
// single object the renderer talks to.
type Gpu struct {
	ctx          *Context
	window       hal.Window
	surface      hal.Surface
	queueGroup   *QueueGroup
	worker       *Worker
	swapchain    *Swapchain
	sampler      hal.Sampler
	presentModes []hal.PresentMode
	rebuilds     int
}

// ParsePresentModes converts configured mode names into present modes, keeping their order.
func ParsePresentModes(names []string) ([]hal.PresentMode, error) {
	modes := make([]hal.PresentMode, 0, len(names))
	for _, name := range names {
		m, err := hal.ParsePresentMode(name)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return modes, nil
}

// New brings up the GPU for window: context, surface, worker, swapchain and a default sampler.
func New(backend hal.Backend, window hal.Window, cfg config.Graphics) (*Gpu, error) {
	modes, err := ParsePresentModes(cfg.PresentModes)
	if err != nil {
		return nil, core.Fail("gpu: present modes", core.ErrSurfaceCapabilityUnsupported, err)
	}

	ctx, surface, qg, err := NewContext(backend, window, cfg)
	if err != nil {
		return nil, err
	}
	g := &Gpu{
		ctx:          ctx,
		window:       window,
		surface:      surface,
		queueGroup:   qg,
		presentModes: modes,
	}

	if g.worker, err = NewWorker(ctx, qg); err != nil {
		g.Destroy()
		return nil, err
	}
	if g.swapchain, err = g.newSwapchain(); err != nil {
		g.Destroy()
		return nil, err
	}
	g.sampler, err = ctx.Device.CreateSampler(hal.SamplerInfo{
		MinFilter:     hal.FilterLinear,
		MagFilter:     hal.FilterLinear,
		MipFilter:     hal.FilterLinear,
		Wrap:          hal.WrapClamp,
		MaxAnisotropy: g.maxAnisotropy(),
	})
	if err != nil {
		g.Destroy()
		return nil, core.Fail("gpu: create sampler", core.ErrResourceCreationFailed, err)
	}
	return g, nil
}

func (g *Gpu) maxAnisotropy() float32 {
	if !g.ctx.Features.SamplerAnisotropy {
		return 1
	}
	return min(16, g.ctx.Limits.MaxSamplerAnisotropy)
}

func (g *Gpu) newSwapchain() (*Swapchain, error) {
	width, height := g.window.FramebufferSize()
	return NewSwapchain(g.ctx, g.surface, g.queueGroup, SwapchainOptions{
		Extent:       hal.Extent2D{Width: width, Height: height},
		PresentModes: g.presentModes,
	})
}

// Clear sets the current frame's clear color.
func (g *Gpu) Clear(color hal.ClearColor) {
	if g.swapchain == nil {
		core.LogWarn("Clear called without a swapchain.")
		return
	}
	g.swapchain.Clear(color)
}

// Present presents the current frame. Any failure of the swapchain rebuilds it instead of
// being reported; only a failed rebuild is returned.
func (g *Gpu) Present() error {
	if g.swapchain == nil {
		return g.Rebuild()
	}
	if err := g.swapchain.Present(g.queueGroup); err != nil {
		core.LogWarn("Present failed, rebuilding the swapchain: %s", err)
		return g.Rebuild()
	}
	return nil
}

// Rebuild waits for the device to go idle and replaces the swapchain with one sized to the
// window's current framebuffer.
func (g *Gpu) Rebuild() error {
	g.ctx.waitIdle("gpu: rebuild")
	if g.swapchain != nil {
		g.swapchain.Destroy()
		g.swapchain = nil
	}
	sc, err := g.newSwapchain()
	if err != nil {
		return errors.WithMessage(err, "gpu: rebuild")
	}
	g.swapchain = sc
	g.rebuilds++
	return nil
}

// SetPresentPreferences replaces the present mode preference. It takes effect on the next Rebuild.
func (g *Gpu) SetPresentPreferences(modes []hal.PresentMode) {
	g.presentModes = modes
}

// UploadImage converts img to RGBA and uploads it as a texture.
func (g *Gpu) UploadImage(img image.Image) (*Texture, error) {
	return NewTexture(g.worker, img)
}

// UploadPixels uploads tightly packed RGBA8 rows as a texture.
func (g *Gpu) UploadPixels(pix []byte, width, height uint32) (*Texture, error) {
	return NewTextureFromPixels(g.worker, pix, width, height)
}

func (g *Gpu) Context() *Context           { return g.ctx }
func (g *Gpu) Worker() *Worker             { return g.worker }
func (g *Gpu) Swapchain() *Swapchain       { return g.swapchain }
func (g *Gpu) QueueGroup() *QueueGroup     { return g.queueGroup }
func (g *Gpu) DefaultSampler() hal.Sampler { return g.sampler }
func (g *Gpu) Rebuilds() int               { return g.rebuilds }

// Destroy releases the sampler, swapchain, worker and surface, then the creator's reference on
// the context. Textures still alive keep the device open until they are destroyed.
func (g *Gpu) Destroy() {
	if g.ctx == nil {
		return
	}
	g.ctx.waitIdle("gpu")
	if g.sampler != nil {
		g.ctx.Device.DestroySampler(g.sampler)
		g.sampler = nil
	}
	if g.swapchain != nil {
		g.swapchain.Destroy()
		g.swapchain = nil
	}
	if g.worker != nil {
		g.worker.Destroy()
		g.worker = nil
	}
	g.ctx.Instance.DestroySurface(g.surface)
	g.ctx.Release()
	g.ctx = nil
}
