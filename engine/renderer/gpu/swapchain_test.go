package gpu

import (
	"fmt"
	"testing"
	"time"

	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwapchain(t *testing.T, b *haltest.Backend) (*Swapchain, *QueueGroup) {
	t.Helper()
	ctx, surface, qg := newTestContext(t, b)
	sc, err := NewSwapchain(ctx, surface, qg, SwapchainOptions{Extent: hal.Extent2D{Width: 800, Height: 600}})
	require.NoError(t, err)
	t.Cleanup(sc.Destroy)
	return sc, qg
}

func TestChoosePresentMode(t *testing.T) {
	all := []hal.PresentMode{hal.PresentModeImmediate, hal.PresentModeRelaxed, hal.PresentModeFifo, hal.PresentModeMailbox}
	cases := []struct {
		supported []hal.PresentMode
		want      hal.PresentMode
	}{
		{all, hal.PresentModeMailbox},
		{all[:3], hal.PresentModeFifo},
		{all[:2], hal.PresentModeRelaxed},
		{all[:1], hal.PresentModeImmediate},
		{[]hal.PresentMode{hal.PresentModeImmediate, hal.PresentModeMailbox}, hal.PresentModeMailbox},
	}
	for _, tc := range cases {
		got, ok := choosePresentMode(nil, tc.supported)
		assert.True(t, ok)
		assert.Equal(t, tc.want, got, "supported %v", tc.supported)
	}

	_, ok := choosePresentMode(nil, nil)
	assert.False(t, ok)

	got, ok := choosePresentMode([]hal.PresentMode{hal.PresentModeImmediate, hal.PresentModeFifo}, all)
	assert.True(t, ok)
	assert.Equal(t, hal.PresentModeImmediate, got, "configured preference wins")
}

func TestChooseCompositeAlpha(t *testing.T) {
	cases := []struct {
		supported hal.CompositeAlpha
		want      hal.CompositeAlpha
	}{
		{hal.CompositeAlphaOpaque | hal.CompositeAlphaInherit | hal.CompositeAlphaPreMultiplied | hal.CompositeAlphaPostMultiplied, hal.CompositeAlphaOpaque},
		{hal.CompositeAlphaInherit | hal.CompositeAlphaPreMultiplied | hal.CompositeAlphaPostMultiplied, hal.CompositeAlphaInherit},
		{hal.CompositeAlphaPreMultiplied | hal.CompositeAlphaPostMultiplied, hal.CompositeAlphaPreMultiplied},
		{hal.CompositeAlphaPostMultiplied, hal.CompositeAlphaPostMultiplied},
	}
	for _, tc := range cases {
		got, ok := chooseCompositeAlpha(tc.supported)
		assert.True(t, ok)
		assert.Equal(t, tc.want, got)
	}
	_, ok := chooseCompositeAlpha(0)
	assert.False(t, ok)
}

func TestChooseFormat(t *testing.T) {
	assert.Equal(t, hal.FormatBGRA8Srgb, chooseFormat([]hal.Format{hal.FormatBGRA8Unorm, hal.FormatBGRA8Srgb}))
	assert.Equal(t, hal.FormatRGBA8Unorm, chooseFormat([]hal.Format{hal.FormatRGBA8Unorm, hal.FormatRGB10A2Unorm}))
	assert.Equal(t, DefaultSurfaceFormat, chooseFormat(nil))
}

func TestChooseImageCount(t *testing.T) {
	assert.Equal(t, uint32(3), chooseImageCount(hal.PresentModeMailbox, hal.ImageCountRange{Min: 2, Max: 8}))
	assert.Equal(t, uint32(2), chooseImageCount(hal.PresentModeFifo, hal.ImageCountRange{Min: 2, Max: 8}))
	assert.Equal(t, uint32(2), chooseImageCount(hal.PresentModeMailbox, hal.ImageCountRange{Min: 1, Max: 2}))
	assert.Equal(t, uint32(4), chooseImageCount(hal.PresentModeFifo, hal.ImageCountRange{Min: 4, Max: 8}))
	assert.Equal(t, uint32(3), chooseImageCount(hal.PresentModeMailbox, hal.ImageCountRange{Min: 1}))
}

func TestChooseExtent(t *testing.T) {
	caps := hal.SurfaceCapabilities{
		MinExtent: hal.Extent2D{Width: 100, Height: 100},
		MaxExtent: hal.Extent2D{Width: 2000, Height: 1000},
	}
	assert.Equal(t, hal.Extent2D{Width: 640, Height: 480}, chooseExtent(caps, hal.Extent2D{Width: 640, Height: 480}))
	assert.Equal(t, hal.Extent2D{Width: 2000, Height: 100}, chooseExtent(caps, hal.Extent2D{Width: 5000, Height: 10}))

	caps.CurrentExtent = &hal.Extent2D{Width: 1024, Height: 768}
	assert.Equal(t, hal.Extent2D{Width: 1024, Height: 768}, chooseExtent(caps, hal.Extent2D{Width: 640, Height: 480}))
}

func TestNewSwapchainFifoOnlySurface(t *testing.T) {
	b := haltest.New()
	b.Surface.PresentModes = []hal.PresentMode{hal.PresentModeFifo}
	b.Surface.CompositeAlpha = hal.CompositeAlphaOpaque
	b.Surface.Caps.ImageCount = hal.ImageCountRange{Min: 2, Max: 3}

	sc, _ := newTestSwapchain(t, b)
	assert.Equal(t, hal.PresentModeFifo, sc.PresentMode())
	assert.Equal(t, hal.CompositeAlphaOpaque, sc.CompositeAlpha())
	assert.Equal(t, 2, sc.ImageCount())
	assert.Equal(t, 2, sc.FramesInFlight())
	assert.Equal(t, hal.Extent2D{Width: 800, Height: 600}, sc.Extent())
}

func TestNewSwapchainFormatMatchesRenderPass(t *testing.T) {
	b := haltest.New()
	sc, _ := newTestSwapchain(t, b)

	assert.Equal(t, hal.FormatBGRA8Srgb, sc.Format())
	assert.Equal(t, sc.Format(), sc.RenderPassFormat())
	assert.Equal(t, hal.PresentModeMailbox, sc.PresentMode())
	assert.Equal(t, 3, sc.ImageCount())
	assert.Equal(t, b.SwapchainConfigs()[0].Format, sc.RenderPass().(*haltest.RenderPass).Attachments[0].Format)
}

func TestNewSwapchainPreArmsFirstFrame(t *testing.T) {
	b := haltest.New()
	ctx, surface, qg := newTestContext(t, b)
	b.ResetEvents()

	sc, err := NewSwapchain(ctx, surface, qg, SwapchainOptions{})
	require.NoError(t, err)
	defer sc.Destroy()

	events := b.Events()
	n := len(events)
	require.GreaterOrEqual(t, n, 4)
	assert.Regexp(t, `^wait fence:\d+$`, events[n-4])
	assert.Regexp(t, `^reset fence:\d+$`, events[n-3])
	assert.Regexp(t, `^reset cmdbuf:\d+$`, events[n-2])
	assert.Regexp(t, `^begin cmdbuf:\d+$`, events[n-1])
	assert.Equal(t, 0, sc.CurrentFrame())
	assert.Equal(t, FrameIdle, sc.State(0))
}

func TestNewSwapchainUnsupportedSurface(t *testing.T) {
	cases := map[string]func(*haltest.Backend){
		"present mode":    func(b *haltest.Backend) { b.Surface.PresentModes = nil },
		"composite alpha": func(b *haltest.Backend) { b.Surface.CompositeAlpha = 0 },
		"usage":           func(b *haltest.Backend) { b.Surface.Caps.Usage = hal.ImageUsageTransferDst },
		"query":           func(b *haltest.Backend) { b.Fail("Compatibility", hal.ErrSurfaceLost) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := haltest.New()
			ctx, surface, qg := newTestContext(t, b)
			mutate(b)

			_, err := NewSwapchain(ctx, surface, qg, SwapchainOptions{})
			assert.ErrorIs(t, err, core.ErrSurfaceCapabilityUnsupported)
			assert.Equal(t, 0, b.CountEvents("create swapchain"))
		})
	}
}

func TestNewSwapchainCleansUpOnFailure(t *testing.T) {
	for _, op := range []string{"CreateSwapchain", "CreateImageView", "CreateRenderPass", "CreateFramebuffer", "CreateCommandPool", "Allocate", "CreateFence", "CreateSemaphore"} {
		t.Run(op, func(t *testing.T) {
			b := haltest.New()
			ctx, surface, qg := newTestContext(t, b)
			before := b.Live()
			b.Fail(op, hal.ErrOutOfMemory)

			_, err := NewSwapchain(ctx, surface, qg, SwapchainOptions{})
			assert.ErrorIs(t, err, hal.ErrOutOfMemory)
			assert.Equal(t, before, b.Live())
			assert.Equal(t, map[string]int{"context": 1}, ctx.Live())
		})
	}
}

func TestSwapchainFrameIndexCycles(t *testing.T) {
	b := haltest.New()
	sc, qg := newTestSwapchain(t, b)
	n := sc.FramesInFlight()
	require.Equal(t, 3, n)

	for round := 0; round < 3; round++ {
		for i := 0; i < n; i++ {
			assert.Equal(t, i, sc.CurrentFrame())
			sc.Clear(hal.ClearColor{R: 1, A: 1})
			assert.Equal(t, FrameRecording, sc.State(i))
			require.NoError(t, sc.Present(qg))
		}
		assert.Equal(t, 0, sc.CurrentFrame())
	}
	assert.Equal(t, 3*n, b.CountEvents("present swapchain"))
}

func TestSwapchainClearsAcquiredImage(t *testing.T) {
	b := haltest.New()
	b.AcquireOrder = []uint32{2, 0, 1}
	sc, qg := newTestSwapchain(t, b)
	chain := b.LastSwapchain()

	sc.Clear(hal.ClearColor{R: 1, A: 1})
	require.NoError(t, sc.Present(qg))
	assert.Equal(t, []byte{0, 0, 255, 255}, chain.Images[2].Pixels[:4], "BGRA red on the acquired image")
	assert.Equal(t, hal.ImageLayoutPresentSrc, chain.Images[2].Layout)
	assert.Equal(t, []uint32{2}, chain.Presented)

	require.NoError(t, sc.Present(qg))
	assert.Equal(t, []byte{0, 0, 0, 255}, chain.Images[0].Pixels[:4], "frames without Clear present black")
	assert.Equal(t, []uint32{2, 0}, chain.Presented)
}

func TestSwapchainPresentSequence(t *testing.T) {
	b := haltest.New()
	sc, qg := newTestSwapchain(t, b)
	b.ResetEvents()

	require.NoError(t, sc.Present(qg))
	events := b.Events()
	order := []string{"acquire swapchain", "cmd begin-renderpass", "cmd end-renderpass", "finish cmdbuf", "submit", "present swapchain", "wait fence", "reset fence", "reset cmdbuf", "begin cmdbuf"}
	require.Len(t, events, len(order))
	for i, prefix := range order {
		assert.Contains(t, events[i], prefix)
	}
	assert.Equal(t, FramePresented, sc.State(0))
	assert.Equal(t, FrameIdle, sc.State(1))
}

func TestSwapchainWaitsForFenceBeforeRecording(t *testing.T) {
	b := haltest.New()
	b.Surface.PresentModes = []hal.PresentMode{hal.PresentModeFifo}
	sc, qg := newTestSwapchain(t, b)
	require.Equal(t, 2, sc.FramesInFlight())
	b.ResetEvents()
	b.HoldFences()
	defer b.ReleaseFences()

	require.NoError(t, sc.Present(qg))
	var cmdbuf, fence int
	_, err := fmt.Sscanf(b.Events()[4], "submit cmdbufs:[%d] fence:%d", &cmdbuf, &fence)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sc.Present(qg) }()

	select {
	case err := <-done:
		t.Fatalf("present returned before slot 0's fence signaled: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	reset := fmt.Sprintf("reset cmdbuf:%d", cmdbuf)
	assert.Equal(t, 0, b.CountEvents(reset))

	b.ReleaseFences()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("present did not finish after the fence signaled")
	}

	signaled := b.EventIndex(fmt.Sprintf("signal fence:%d", fence), 0)
	require.NotEqual(t, -1, signaled)
	rerecord := b.EventIndex(reset, signaled)
	require.NotEqual(t, -1, rerecord)
	assert.Less(t, signaled, rerecord)
	assert.Equal(t, 0, sc.CurrentFrame())
}

func TestSwapchainPresentTimeout(t *testing.T) {
	b := haltest.New()
	b.Surface.PresentModes = []hal.PresentMode{hal.PresentModeFifo}
	cfg := config.Default().Graphics
	cfg.FenceTimeout = config.Duration(20 * time.Millisecond)
	ctx, surface, qg, err := NewContext(b, testWindow(), cfg)
	require.NoError(t, err)
	sc, err := NewSwapchain(ctx, surface, qg, SwapchainOptions{})
	require.NoError(t, err)

	b.HoldFences()
	require.NoError(t, sc.Present(qg))
	err = sc.Present(qg)
	assert.ErrorIs(t, err, core.ErrDeviceTimeout)
	b.ReleaseFences()

	sc.Destroy()
	ctx.Instance.DestroySurface(surface)
	ctx.Release()
	assert.Empty(t, b.Live())
}

func TestSwapchainDestroyOrder(t *testing.T) {
	b := haltest.New()
	ctx, surface, qg := newTestContext(t, b)
	sc, err := NewSwapchain(ctx, surface, qg, SwapchainOptions{})
	require.NoError(t, err)

	want := []string{"wait idle"}
	for _, cb := range sc.commandBuffers {
		want = append(want, fmt.Sprintf("free cmdbuf:%d", cb.(*haltest.CommandBuffer).ID))
	}
	want = append(want,
		fmt.Sprintf("destroy pool:%d", sc.commandPool.(*haltest.CommandPool).ID),
		fmt.Sprintf("destroy renderpass:%d", sc.renderPass.(*haltest.RenderPass).ID))
	for _, f := range sc.inFlight {
		want = append(want, fmt.Sprintf("destroy fence:%d", f.(*haltest.Fence).ID))
	}
	for _, sem := range sc.renderFinished {
		want = append(want, fmt.Sprintf("destroy semaphore:%d", sem.(*haltest.Semaphore).ID))
	}
	for _, sem := range sc.imageAvailable {
		want = append(want, fmt.Sprintf("destroy semaphore:%d", sem.(*haltest.Semaphore).ID))
	}
	for _, fb := range sc.framebuffers {
		want = append(want, fmt.Sprintf("destroy framebuffer:%d", fb.(*haltest.Framebuffer).ID))
	}
	for _, v := range sc.views {
		want = append(want, fmt.Sprintf("destroy view:%d", v.(*haltest.ImageView).ID))
	}
	want = append(want, fmt.Sprintf("destroy swapchain:%d", b.LastSwapchain().ID))

	b.ResetEvents()
	sc.Destroy()
	sc.Destroy()
	assert.Equal(t, want, b.Events())
	assert.Equal(t, map[string]int{"context": 1}, ctx.Live())
	assert.Equal(t, map[string]int{"instance": 1, "surface": 1, "device": 1}, b.Live())
}

func TestSwapchainPresentErrorKinds(t *testing.T) {
	cases := []struct {
		name  string
		op    string
		cause error
		kind  error
	}{
		{"acquire out of date", "AcquireImage", hal.ErrOutOfDate, core.ErrSwapchainAcquireFailed},
		{"acquire surface lost", "AcquireImage", hal.ErrSurfaceLost, core.ErrSwapchainAcquireFailed},
		{"acquire timeout", "AcquireImage", hal.ErrTimeout, core.ErrDeviceTimeout},
		{"submit device lost", "Submit", hal.ErrDeviceLost, core.ErrSwapchainPresentFailed},
		{"present suboptimal", "Present", hal.ErrSuboptimal, core.ErrSwapchainPresentFailed},
		{"present out of date", "Present", hal.ErrOutOfDate, core.ErrSwapchainPresentFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := haltest.New()
			cfg := config.Default().Graphics
			cfg.FenceTimeout = config.Duration(20 * time.Millisecond)
			ctx, surface, qg, err := NewContext(b, testWindow(), cfg)
			require.NoError(t, err)
			sc, err := NewSwapchain(ctx, surface, qg, SwapchainOptions{})
			require.NoError(t, err)
			defer func() {
				sc.Destroy()
				ctx.Instance.DestroySurface(surface)
				ctx.Release()
			}()

			sc.Clear(hal.ClearColor{R: 1, A: 1})
			b.Fail(tc.op, tc.cause)
			err = sc.Present(qg)

			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.ErrorIs(t, err, tc.cause)
			assert.Equal(t, 0, sc.CurrentFrame(), "a failed present keeps the frame")
		})
	}
}
