package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/gpu"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newHeadlessEngine builds an engine whose GPU runs on the in-memory backend and that has no window.
func newHeadlessEngine(t *testing.T, g *Game) (*Engine, *haltest.Backend) {
	t.Helper()
	e, err := New(filepath.Join(t.TempDir(), "missing.toml"), g)
	require.NoError(t, err)

	b := haltest.New()
	e.gpu, err = gpu.New(b, &haltest.Window{Width: 800, Height: 600}, e.cfg.Graphics)
	require.NoError(t, err)
	e.width, e.height = 800, 600
	t.Cleanup(func() { e.Shutdown() })
	return e, b
}

func TestNewLoadsDefaults(t *testing.T) {
	e, err := New(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)

	assert.Equal(t, EngineStageUninitialized, e.currentStage)
	assert.Equal(t, config.Default().Window.Width, e.width)
	assert.Equal(t, config.Default().Graphics.ClearColor, e.Config().Graphics.ClearColor)
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)

	assert.Error(t, e.Run(context.Background()))
}

func TestResizeSuspendsAndResumes(t *testing.T) {
	var resized [][2]uint32
	e, _ := newHeadlessEngine(t, &Game{
		FnOnResize: func(w, h uint32) error {
			resized = append(resized, [2]uint32{w, h})
			return nil
		},
	})
	e.events.Register(core.EventCodeResized, e, e.onResized)

	e.events.Fire(core.EventContext{Type: core.EventCodeResized, Data: &core.ResizeEvent{Width: 800, Height: 600}})
	assert.False(t, e.needsRebuild, "same size is ignored")

	e.events.Fire(core.EventContext{Type: core.EventCodeResized, Data: &core.ResizeEvent{Width: 0, Height: 0}})
	assert.True(t, e.isSuspended)
	assert.False(t, e.needsRebuild)

	e.events.Fire(core.EventContext{Type: core.EventCodeResized, Data: &core.ResizeEvent{Width: 1024, Height: 768}})
	assert.False(t, e.isSuspended)
	assert.True(t, e.needsRebuild)
	assert.Equal(t, [][2]uint32{{1024, 768}}, resized)
}

func TestQuitStopsTheLoop(t *testing.T) {
	e, _ := newHeadlessEngine(t, nil)
	e.events.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.isRunning = true

	e.events.Fire(core.EventContext{Type: core.EventCodeApplicationQuit})
	assert.False(t, e.isRunning)
}

func TestConfigReloadAppliesPresentModes(t *testing.T) {
	e, _ := newHeadlessEngine(t, nil)
	e.events.Register(core.EventCodeConfigReloaded, e, e.onConfigReloaded)
	require.Equal(t, hal.PresentModeMailbox, e.gpu.Swapchain().PresentMode())

	next := config.Default()
	next.Graphics.PresentModes = []string{"immediate", "fifo"}
	next.Log.Level = "debug"
	e.events.Fire(core.EventContext{Type: core.EventCodeConfigReloaded, Data: next})

	assert.Same(t, next, e.cfg)
	assert.True(t, e.needsRebuild)

	require.NoError(t, e.gpu.Rebuild())
	assert.Equal(t, hal.PresentModeImmediate, e.gpu.Swapchain().PresentMode())
}

func TestConfigReloadWithoutPresentationChange(t *testing.T) {
	e, b := newHeadlessEngine(t, nil)
	e.events.Register(core.EventCodeConfigReloaded, e, e.onConfigReloaded)
	configs := len(b.SwapchainConfigs())

	next := config.Default()
	next.Graphics.ClearColor = [4]float32{1, 0, 0, 1}
	e.events.Fire(core.EventContext{Type: core.EventCodeConfigReloaded, Data: next})

	assert.False(t, e.needsRebuild)
	assert.Equal(t, hal.ClearColor{R: 1, A: 1}, clearColor(e.cfg.Graphics.ClearColor))
	assert.Len(t, b.SwapchainConfigs(), configs)
}

func TestQueueReloadKeepsNewest(t *testing.T) {
	e, err := New(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)

	first, second := config.Default(), config.Default()
	e.queueReload(first)
	e.queueReload(second)

	require.Len(t, e.reloads, 1)
	assert.Same(t, second, <-e.reloads)
}

func TestShutdownReleasesGameThenGpu(t *testing.T) {
	var calls int
	e, b := newHeadlessEngine(t, &Game{
		FnShutdown: func() error {
			calls++
			return nil
		},
	})

	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, calls)
	assert.Nil(t, e.Gpu())
	assert.Empty(t, b.Live())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, calls)
}
