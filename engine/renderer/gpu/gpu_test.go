package gpu

import (
	"image"
	"strings"
	"testing"

	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGpu(t *testing.T, b *haltest.Backend, w *haltest.Window) *Gpu {
	t.Helper()
	g, err := New(b, w, config.Default().Graphics)
	require.NoError(t, err)
	t.Cleanup(g.Destroy)
	return g
}

func TestNewGpu(t *testing.T) {
	b := haltest.New()
	g := newTestGpu(t, b, testWindow())

	assert.NotNil(t, g.Context())
	assert.NotNil(t, g.Worker())
	assert.NotNil(t, g.Swapchain())
	assert.NotNil(t, g.DefaultSampler())
	assert.Len(t, g.QueueGroup().Queues, 1)
	assert.Equal(t, map[string]int{"context": 1, "worker": 1, "swapchain": 1}, g.Context().Live())

	sampler := g.DefaultSampler().(*haltest.Sampler)
	assert.Equal(t, hal.FilterLinear, sampler.Info.MagFilter)
	assert.Equal(t, hal.WrapClamp, sampler.Info.Wrap)
	assert.Equal(t, float32(16), sampler.Info.MaxAnisotropy)
}

func TestNewGpuIsAllOrNothing(t *testing.T) {
	for _, op := range []string{"CreateInstance", "CreateSurface", "Open", "CreateCommandPool", "CreateSwapchain", "CreateSampler"} {
		t.Run(op, func(t *testing.T) {
			b := haltest.New()
			b.Fail(op, hal.ErrOutOfMemory)

			g, err := New(b, testWindow(), config.Default().Graphics)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.NotEmpty(t, core.Stage(err))
			assert.Empty(t, b.Live())
		})
	}
}

func TestNewGpuRejectsUnknownPresentMode(t *testing.T) {
	b := haltest.New()
	cfg := config.Default().Graphics
	cfg.PresentModes = []string{"vsync"}

	_, err := New(b, testWindow(), cfg)
	assert.ErrorIs(t, err, core.ErrSurfaceCapabilityUnsupported)
	assert.Equal(t, 0, b.CountEvents("create instance"))
}

func TestGpuPresentRebuildsOnOutOfDate(t *testing.T) {
	b := haltest.New()
	g := newTestGpu(t, b, testWindow())
	old := g.Swapchain()

	g.Clear(hal.ClearColor{G: 1, A: 1})
	b.Fail("AcquireImage", hal.ErrOutOfDate)
	require.NoError(t, g.Present())

	assert.Equal(t, 1, g.Rebuilds())
	assert.Equal(t, 2, b.CountEvents("create swapchain"))
	assert.Equal(t, 1, b.CountEvents("destroy swapchain"))
	assert.NotSame(t, old, g.Swapchain())
	assert.Equal(t, 1, g.Context().Live()["swapchain"])

	require.NoError(t, g.Present())
	assert.Equal(t, 1, g.Rebuilds())
	assert.Equal(t, []uint32{0}, b.LastSwapchain().Presented)
}

func TestGpuPresentRebuildsOnPresentFailure(t *testing.T) {
	b := haltest.New()
	g := newTestGpu(t, b, testWindow())

	b.Fail("Present", hal.ErrSuboptimal)
	require.NoError(t, g.Present())
	assert.Equal(t, 1, g.Rebuilds())
	require.NoError(t, g.Present())
	assert.Equal(t, 1, g.Rebuilds())
}

func TestGpuRebuildFailureIsReported(t *testing.T) {
	b := haltest.New()
	g := newTestGpu(t, b, testWindow())

	b.Fail("AcquireImage", hal.ErrSurfaceLost)
	b.Fail("CreateSwapchain", hal.ErrSurfaceLost)
	err := g.Present()
	assert.ErrorIs(t, err, core.ErrResourceCreationFailed)
	assert.Nil(t, g.Swapchain())

	g.Clear(hal.ClearColor{A: 1})
	require.NoError(t, g.Present(), "the next present rebuilds")
	assert.NotNil(t, g.Swapchain())
	assert.Equal(t, 1, g.Rebuilds())
}

func TestGpuRebuildFollowsWindowSize(t *testing.T) {
	b := haltest.New()
	b.Surface.Caps.CurrentExtent = nil
	w := testWindow()
	g := newTestGpu(t, b, w)
	assert.Equal(t, hal.Extent2D{Width: 800, Height: 600}, g.Swapchain().Extent())

	w.Width, w.Height = 1920, 1080
	require.NoError(t, g.Rebuild())
	assert.Equal(t, hal.Extent2D{Width: 1920, Height: 1080}, g.Swapchain().Extent())
}

func TestGpuPresentPreferencesApplyOnRebuild(t *testing.T) {
	b := haltest.New()
	g := newTestGpu(t, b, testWindow())
	assert.Equal(t, hal.PresentModeMailbox, g.Swapchain().PresentMode())

	g.SetPresentPreferences([]hal.PresentMode{hal.PresentModeImmediate})
	assert.Equal(t, hal.PresentModeMailbox, g.Swapchain().PresentMode())
	require.NoError(t, g.Rebuild())
	assert.Equal(t, hal.PresentModeImmediate, g.Swapchain().PresentMode())
}

func TestGpuUploadImage(t *testing.T) {
	b := haltest.New()
	g := newTestGpu(t, b, testWindow())

	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	copy(src.Pix, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	tex, err := g.UploadImage(src)
	require.NoError(t, err)
	defer tex.Destroy()

	pix, err := tex.ReadPixels(g.Worker())
	require.NoError(t, err)
	assert.Equal(t, src.Pix, pix)
}

func TestGpuDestroyWithLiveTexture(t *testing.T) {
	b := haltest.New()
	g, err := New(b, testWindow(), config.Default().Graphics)
	require.NoError(t, err)
	ctx := g.Context()

	tex, err := g.UploadPixels(make([]byte, 16), 2, 2)
	require.NoError(t, err)

	g.Destroy()
	g.Destroy()
	assert.False(t, ctx.Destroyed())
	assert.Equal(t, 0, b.CountEvents("destroy device"))
	assert.Equal(t, map[string]int{"texture": 1, "chunk": 1}, ctx.Live())

	tex.Destroy()
	assert.True(t, ctx.Destroyed())
	surface := lastEvent(b, "destroy surface:")
	texImage := lastEvent(b, "destroy image:")
	device := lastEvent(b, "destroy device")
	instance := lastEvent(b, "destroy instance")
	require.NotEqual(t, -1, surface)
	assert.Less(t, surface, device)
	assert.Less(t, texImage, device)
	assert.Less(t, device, instance)
	assert.Empty(t, b.Live())
}

// lastEvent returns the index of the last event starting with prefix, or -1.
func lastEvent(b *haltest.Backend, prefix string) int {
	events := b.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if strings.HasPrefix(events[i], prefix) {
			return i
		}
	}
	return -1
}
