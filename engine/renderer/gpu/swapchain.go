package gpu

import (
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/math"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

// DefaultPresentModes is the present mode preference used when none is configured.
var DefaultPresentModes = []hal.PresentMode{
	hal.PresentModeMailbox,
	hal.PresentModeFifo,
	hal.PresentModeRelaxed,
	hal.PresentModeImmediate,
}

var compositeAlphaPreference = []hal.CompositeAlpha{
	hal.CompositeAlphaOpaque,
	hal.CompositeAlphaInherit,
	hal.CompositeAlphaPreMultiplied,
	hal.CompositeAlphaPostMultiplied,
}

// DefaultSurfaceFormat is used when the surface does not advertise any format.
const DefaultSurfaceFormat = hal.FormatBGRA8Srgb

// FrameState tracks a frame slot through one cycle.
type FrameState int

const (
	FrameIdle FrameState = iota
	FrameRecording
	FrameSubmitted
	FramePresented
)

func (s FrameState) String() string {
	switch s {
	case FrameRecording:
		return "recording"
	case FrameSubmitted:
		return "submitted"
	case FramePresented:
		return "presented"
	default:
		return "idle"
	}
}

type SwapchainOptions struct {
	// Extent is used when the surface lets the swapchain choose its size.
	Extent hal.Extent2D
	// PresentModes in order of preference. Empty means DefaultPresentModes.
	PresentModes []hal.PresentMode
}

// Swapchain owns the presentable images and everything needed to clear and present them:
// views, a render pass, framebuffers, one command buffer per image and per-slot sync objects.
type Swapchain struct {
	ctx    *Context
	id     uuid.UUID
	handle hal.Swapchain
	config hal.SwapchainConfig

	images           []hal.Image
	views            []hal.ImageView
	framebuffers     []hal.Framebuffer
	renderPass       hal.RenderPass
	renderPassFormat hal.Format
	renderArea       hal.Rect

	commandPool    hal.CommandPool
	commandBuffers []hal.CommandBuffer
	imageAvailable []hal.Semaphore
	renderFinished []hal.Semaphore
	inFlight       []hal.Fence
	states         []FrameState
	clearColors    []hal.ClearColor

	framesInFlight int
	currentFrame   int
	timeout        uint64
}

func choosePresentMode(preferred, supported []hal.PresentMode) (hal.PresentMode, bool) {
	if len(preferred) == 0 {
		preferred = DefaultPresentModes
	}
	for _, m := range preferred {
		if slices.Contains(supported, m) {
			return m, true
		}
	}
	return 0, false
}

func chooseCompositeAlpha(supported hal.CompositeAlpha) (hal.CompositeAlpha, bool) {
	for _, a := range compositeAlphaPreference {
		if supported.Contains(a) {
			return a, true
		}
	}
	return 0, false
}

func chooseFormat(formats []hal.Format) hal.Format {
	for _, f := range formats {
		if f.IsSRGB() {
			return f
		}
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return DefaultSurfaceFormat
}

func chooseImageCount(mode hal.PresentMode, r hal.ImageCountRange) uint32 {
	want := uint32(2)
	if mode == hal.PresentModeMailbox {
		want = 3
	}
	high := r.Max
	if high == 0 {
		// no upper bound
		high = max(want, r.Min)
	}
	return math.Clamp(want, r.Min, high)
}

func chooseExtent(caps hal.SurfaceCapabilities, hint hal.Extent2D) hal.Extent2D {
	if caps.CurrentExtent != nil {
		return *caps.CurrentExtent
	}
	return hal.Extent2D{
		Width:  math.Clamp(hint.Width, caps.MinExtent.Width, caps.MaxExtent.Width),
		Height: math.Clamp(hint.Height, caps.MinExtent.Height, caps.MaxExtent.Height),
	}
}

// NewSwapchain negotiates a configuration with surface and builds the swapchain. The first
// frame slot is ready for Clear when it returns.
func NewSwapchain(ctx *Context, surface hal.Surface, qg *QueueGroup, opts SwapchainOptions) (*Swapchain, error) {
	caps, formats, modes, alphas, err := surface.Compatibility(ctx.Adapter.Physical)
	if err != nil {
		return nil, core.Fail("swapchain: query surface", core.ErrSurfaceCapabilityUnsupported, err)
	}
	core.LogDebug("Surface capabilities: %+v, formats %v, present modes %v", caps, formats, modes)

	mode, ok := choosePresentMode(opts.PresentModes, modes)
	if !ok {
		return nil, core.Fail("swapchain: present mode", core.ErrSurfaceCapabilityUnsupported,
			errors.Errorf("none of %v is supported by the surface (%v)", opts.PresentModes, modes))
	}
	alpha, ok := chooseCompositeAlpha(alphas)
	if !ok {
		return nil, core.Fail("swapchain: composite alpha", core.ErrSurfaceCapabilityUnsupported,
			errors.Errorf("surface advertises no composite alpha mode (%s)", alphas))
	}
	if caps.Usage&hal.ImageUsageColorAttachment == 0 {
		return nil, core.Fail("swapchain: image usage", core.ErrSurfaceCapabilityUnsupported,
			errors.New("surface images cannot be used as color attachments"))
	}

	format := chooseFormat(formats)
	extent := chooseExtent(caps, opts.Extent)
	cfg := hal.SwapchainConfig{
		PresentMode:    mode,
		CompositeAlpha: alpha,
		Format:         format,
		Extent:         extent,
		ImageCount:     chooseImageCount(mode, caps.ImageCount),
		ImageLayers:    1,
		ImageUsage:     hal.ImageUsageColorAttachment,
	}

	s := &Swapchain{
		ctx:              ctx,
		config:           cfg,
		renderPassFormat: format,
		renderArea:       hal.Rect{Extent: extent},
		framesInFlight:   int(cfg.ImageCount),
		timeout:          ctx.fenceTimeout,
	}
	if err := s.build(surface, qg); err != nil {
		s.destroyObjects()
		return nil, err
	}
	s.id = ctx.retain("swapchain")

	if err := s.prepareCurrentFrame(); err != nil {
		s.Destroy()
		return nil, err
	}
	core.LogInfo("Swapchain created: %dx%d %s, %s, %d images.", extent.Width, extent.Height, format, mode, len(s.images))
	return s, nil
}

func (s *Swapchain) build(surface hal.Surface, qg *QueueGroup) error {
	dev := s.ctx.Device

	handle, images, err := dev.CreateSwapchain(surface, s.config)
	if err != nil {
		return core.Fail("swapchain: create", core.ErrResourceCreationFailed, err)
	}
	s.handle, s.images = handle, images

	for _, img := range s.images {
		view, err := dev.CreateImageView(img, s.config.Format, hal.ColorRange)
		if err != nil {
			return core.Fail("swapchain: create image view", core.ErrResourceCreationFailed, err)
		}
		s.views = append(s.views, view)
	}

	s.renderPass, err = dev.CreateRenderPass([]hal.AttachmentDesc{{
		Format:        s.renderPassFormat,
		Load:          hal.LoadOpClear,
		Store:         hal.StoreOpStore,
		InitialLayout: hal.ImageLayoutUndefined,
		FinalLayout:   hal.ImageLayoutPresentSrc,
	}})
	if err != nil {
		return core.Fail("swapchain: create render pass", core.ErrResourceCreationFailed, err)
	}

	for _, view := range s.views {
		fb, err := dev.CreateFramebuffer(s.renderPass, []hal.ImageView{view}, s.config.Extent)
		if err != nil {
			return core.Fail("swapchain: create framebuffer", core.ErrResourceCreationFailed, err)
		}
		s.framebuffers = append(s.framebuffers, fb)
	}

	s.commandPool, err = dev.CreateCommandPool(qg.Family, hal.CommandPoolResetIndividual)
	if err != nil {
		return core.Fail("swapchain: create command pool", core.ErrResourceCreationFailed, err)
	}
	for range s.images {
		cb, err := s.commandPool.Allocate()
		if err != nil {
			return core.Fail("swapchain: allocate command buffer", core.ErrResourceCreationFailed, err)
		}
		s.commandBuffers = append(s.commandBuffers, cb)
	}

	for range s.framesInFlight {
		fence, err := dev.CreateFence(true)
		if err != nil {
			return core.Fail("swapchain: create fence", core.ErrFenceOrSemaphoreCreationFailed, err)
		}
		s.inFlight = append(s.inFlight, fence)

		available, err := dev.CreateSemaphore()
		if err != nil {
			return core.Fail("swapchain: create semaphore", core.ErrFenceOrSemaphoreCreationFailed, err)
		}
		s.imageAvailable = append(s.imageAvailable, available)

		finished, err := dev.CreateSemaphore()
		if err != nil {
			return core.Fail("swapchain: create semaphore", core.ErrFenceOrSemaphoreCreationFailed, err)
		}
		s.renderFinished = append(s.renderFinished, finished)
	}
	s.states = make([]FrameState, s.framesInFlight)
	s.clearColors = make([]hal.ClearColor, s.framesInFlight)
	return nil
}

// prepareCurrentFrame waits until the current slot's previous submission has completed, then
// resets its fence and starts recording its command buffer.
func (s *Swapchain) prepareCurrentFrame() error {
	dev := s.ctx.Device
	i := s.currentFrame
	if err := dev.WaitForFence(s.inFlight[i], s.timeout); err != nil {
		if errors.Is(err, hal.ErrTimeout) {
			return core.Fail("swapchain: wait frame fence", core.ErrDeviceTimeout, err)
		}
		return core.Fail("swapchain: wait frame fence", core.ErrSwapchainPresentFailed, err)
	}
	if err := dev.ResetFence(s.inFlight[i]); err != nil {
		return core.Fail("swapchain: reset frame fence", core.ErrSwapchainPresentFailed, err)
	}
	cb := s.commandBuffers[i]
	if err := cb.Reset(); err != nil {
		return core.Fail("swapchain: reset command buffer", core.ErrSwapchainPresentFailed, err)
	}
	if err := cb.Begin(false); err != nil {
		return core.Fail("swapchain: begin command buffer", core.ErrSwapchainPresentFailed, err)
	}
	s.states[i] = FrameIdle
	s.clearColors[i] = hal.ClearColor{A: 1}
	return nil
}

// Clear sets the color the current frame's image is cleared to when it is presented.
// The render pass itself is begun and ended inside Present, once the acquired image and its
// framebuffer are known, so no commands can be recorded into it between Clear and Present.
func (s *Swapchain) Clear(color hal.ClearColor) {
	s.clearColors[s.currentFrame] = color
	s.states[s.currentFrame] = FrameRecording
}

// Present acquires the next image, records the clearing render pass into the current slot's
// command buffer, submits it and queues the image for presentation. It then advances to the
// next slot and prepares it.
func (s *Swapchain) Present(qg *QueueGroup) error {
	dev := s.ctx.Device
	i := s.currentFrame
	cb := s.commandBuffers[i]

	index, err := dev.AcquireImage(s.handle, s.timeout, s.imageAvailable[i])
	if err != nil {
		if errors.Is(err, hal.ErrTimeout) {
			return core.Fail("swapchain: acquire image", core.ErrDeviceTimeout, err)
		}
		return core.Fail("swapchain: acquire image", core.ErrSwapchainAcquireFailed, err)
	}

	cb.BeginRenderPass(s.renderPass, s.framebuffers[index], s.renderArea, []hal.ClearColor{s.clearColors[i]})
	cb.EndRenderPass()
	if err := cb.Finish(); err != nil {
		return core.Fail("swapchain: finish command buffer", core.ErrSwapchainPresentFailed, err)
	}

	queue := qg.Queues[0]
	submission := hal.Submission{
		CommandBuffers: []hal.CommandBuffer{cb},
		WaitSemaphores: []hal.SemaphoreWait{{
			Semaphore: s.imageAvailable[i],
			Stage:     hal.PipelineStageColorAttachmentOutput,
		}},
		SignalSemaphores: []hal.Semaphore{s.renderFinished[i]},
	}
	if err := queue.Submit(submission, s.inFlight[i]); err != nil {
		return core.Fail("swapchain: submit", core.ErrSwapchainPresentFailed, err)
	}
	s.states[i] = FrameSubmitted

	if err := queue.Present(s.handle, index, []hal.Semaphore{s.renderFinished[i]}); err != nil {
		return core.Fail("swapchain: present", core.ErrSwapchainPresentFailed, err)
	}
	s.states[i] = FramePresented

	s.currentFrame = (s.currentFrame + 1) % s.framesInFlight
	return s.prepareCurrentFrame()
}

func (s *Swapchain) Format() hal.Format                 { return s.config.Format }
func (s *Swapchain) RenderPassFormat() hal.Format       { return s.renderPassFormat }
func (s *Swapchain) PresentMode() hal.PresentMode       { return s.config.PresentMode }
func (s *Swapchain) CompositeAlpha() hal.CompositeAlpha { return s.config.CompositeAlpha }
func (s *Swapchain) Extent() hal.Extent2D               { return s.config.Extent }
func (s *Swapchain) Config() hal.SwapchainConfig        { return s.config }
func (s *Swapchain) ImageCount() int                    { return len(s.images) }
func (s *Swapchain) FramesInFlight() int                { return s.framesInFlight }
func (s *Swapchain) CurrentFrame() int                  { return s.currentFrame }
func (s *Swapchain) RenderPass() hal.RenderPass         { return s.renderPass }

// State reports the state of frame slot i.
func (s *Swapchain) State(i int) FrameState { return s.states[i] }

// Destroy waits for the device to go idle and releases everything the swapchain owns.
func (s *Swapchain) Destroy() {
	if s.handle == nil {
		return
	}
	s.destroyObjects()
	s.ctx.release(s.id)
}

func (s *Swapchain) destroyObjects() {
	dev := s.ctx.Device
	s.ctx.waitIdle("swapchain")

	if s.commandPool != nil {
		dev.DestroyCommandPool(s.commandPool)
	}
	if s.renderPass != nil {
		dev.DestroyRenderPass(s.renderPass)
	}
	for _, f := range s.inFlight {
		dev.DestroyFence(f)
	}
	for _, sem := range s.renderFinished {
		dev.DestroySemaphore(sem)
	}
	for _, sem := range s.imageAvailable {
		dev.DestroySemaphore(sem)
	}
	for _, fb := range s.framebuffers {
		dev.DestroyFramebuffer(fb)
	}
	for _, v := range s.views {
		dev.DestroyImageView(v)
	}
	if s.handle != nil {
		dev.DestroySwapchain(s.handle)
	}

	s.handle, s.commandPool, s.renderPass = nil, nil, nil
	s.commandBuffers, s.inFlight, s.renderFinished, s.imageAvailable = nil, nil, nil, nil
	s.framebuffers, s.views, s.images = nil, nil, nil
}
