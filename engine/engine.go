package engine

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/platform"
	"github.com/spaghettifunk/anima2d/engine/renderer/gpu"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"github.com/spaghettifunk/anima2d/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	cfgPath      string
	cfg          *config.Config

	events  *core.EventBus
	window  *platform.Window
	gpu     *gpu.Gpu
	watcher *config.Watcher
	// Parsed configs handed over by the watcher goroutine; applied on the loop goroutine.
	reloads chan *config.Config

	clock   *core.Clock
	metrics *core.FrameMetrics

	isRunning     bool
	isSuspended   bool
	needsRebuild  bool
	width, height uint32
}

func New(cfgPath string, g *Game) (*Engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(core.ParseLogLevel(cfg.Log.Level))

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		cfgPath:      cfgPath,
		cfg:          cfg,
		events:       core.NewEventBus(),
		reloads:      make(chan *config.Config, 1),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
	}, nil
}

// Initialize opens the window and the GPU, registers the event handlers and starts watching
// the config file. A failure leaves nothing running.
func (e *Engine) Initialize() (err error) {
	e.currentStage = EngineStageInitializing
	defer func() {
		if err != nil {
			e.Shutdown()
		}
	}()

	e.events.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.events.Register(core.EventCodeKeyPressed, e, e.onKey)
	e.events.Register(core.EventCodeResized, e, e.onResized)
	e.events.Register(core.EventCodeConfigReloaded, e, e.onConfigReloaded)

	if e.window, err = platform.New(e.cfg.Window, e.events); err != nil {
		return err
	}
	e.width, e.height = e.window.FramebufferSize()

	backend := vulkan.New(e.window.RequiredInstanceExtensions())
	if e.gpu, err = gpu.New(backend, e.window, e.cfg.Graphics); err != nil {
		return err
	}

	e.watcher, err = config.Watch(e.cfgPath, e.queueReload)
	if err != nil {
		core.LogWarn("config hot reload disabled: %s", err)
		err = nil
	}

	if e.gameInstance != nil && e.gameInstance.FnInitialize != nil {
		if err = e.gameInstance.FnInitialize(e.gpu); err != nil {
			return errors.WithMessage(err, "game initialize")
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Gpu() *gpu.Gpu { return e.gpu }

func (e *Engine) Events() *core.EventBus { return e.events }

func (e *Engine) Config() *config.Config { return e.cfg }

// Run drives frames until the window closes, a quit event arrives or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	lastTime := e.clock.Elapsed()
	var sinceReport float64

	for e.isRunning {
		select {
		case <-ctx.Done():
			e.isRunning = false
			continue
		case cfg := <-e.reloads:
			e.events.Fire(core.EventContext{Type: core.EventCodeConfigReloaded, Data: cfg})
		default:
		}

		e.window.PollEvents()
		if e.window.ShouldClose() {
			e.isRunning = false
			continue
		}
		if e.isSuspended {
			e.window.WaitEvents()
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - lastTime

		if e.needsRebuild {
			e.needsRebuild = false
			if err := e.gpu.Rebuild(); err != nil {
				core.LogError("swapchain rebuild failed: %s", err)
			}
		}

		e.gpu.Clear(clearColor(e.cfg.Graphics.ClearColor))
		if e.gameInstance != nil && e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(e.gpu, delta); err != nil {
				return errors.WithMessage(err, "game update")
			}
		}
		if err := e.gpu.Present(); err != nil {
			// The next Present retries the rebuild.
			core.LogError("present failed: %s", err)
		}

		e.clock.Update()
		frameEnd := e.clock.Elapsed()
		e.metrics.Update(frameEnd - currentTime)
		sinceReport += delta
		if sinceReport >= 1 {
			sinceReport = 0
			core.LogDebug("fps: %.0f frame time: %.2fms rebuilds: %d", e.metrics.FPS(), e.metrics.FrameTime(), e.gpu.Rebuilds())
		}
		lastTime = currentTime
	}
	return nil
}

// Shutdown releases everything in reverse order of creation. It is safe to call more than once.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	var errs []error
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
		e.watcher = nil
	}
	if e.gameInstance != nil && e.gameInstance.FnShutdown != nil && e.gpu != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.gpu != nil {
		e.gpu.Destroy()
		e.gpu = nil
	}
	if e.window != nil {
		e.window.Destroy()
		e.window = nil
	}
	e.events.Shutdown()
	e.currentStage = EngineStageUninitialized
	return core.Join(errs...)
}

// queueReload runs on the watcher goroutine and keeps only the newest pending config.
func (e *Engine) queueReload(cfg *config.Config) {
	for {
		select {
		case e.reloads <- cfg:
			return
		default:
		}
		select {
		case <-e.reloads:
		default:
		}
	}
}

func clearColor(c [4]float32) hal.ClearColor {
	return hal.ClearColor{R: c[0], G: c[1], B: c[2], A: c[3]}
}

func (e *Engine) onEvent(ec core.EventContext) bool {
	if ec.Type == core.EventCodeApplicationQuit {
		core.LogInfo("EventCodeApplicationQuit received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onKey(ec core.EventContext) bool {
	ke, ok := ec.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ec.Type)
		return false
	}
	core.LogDebug("key %d pressed", ke.Key)
	return false
}

func (e *Engine) onResized(ec core.EventContext) bool {
	re, ok := ec.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ec.Type)
		return false
	}
	if re.Width == e.width && re.Height == e.height {
		return false
	}
	e.width, e.height = re.Width, re.Height
	core.LogDebug("Window resize: %d, %d", re.Width, re.Height)

	// Handle minimization
	if re.Width == 0 || re.Height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.needsRebuild = true
	if e.gameInstance != nil && e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(re.Width, re.Height); err != nil {
			core.LogError(err.Error())
		}
	}
	return false
}

func (e *Engine) onConfigReloaded(ec core.EventContext) bool {
	next, ok := ec.Data.(*config.Config)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ec.Type)
		return false
	}
	prev := e.cfg
	e.cfg = next
	core.SetLogLevel(core.ParseLogLevel(next.Log.Level))

	if prev.PresentationChanged(next) {
		modes, err := gpu.ParsePresentModes(next.Graphics.PresentModes)
		if err != nil {
			core.LogWarn("present modes not applied: %s", err)
			return false
		}
		e.gpu.SetPresentPreferences(modes)
		e.needsRebuild = true
		core.LogInfo("present modes changed to %v", next.Graphics.PresentModes)
	}
	if !slices.Equal(prev.Graphics.ClearColor[:], next.Graphics.ClearColor[:]) {
		core.LogDebug("clear color changed to %v", next.Graphics.ClearColor)
	}
	return false
}
