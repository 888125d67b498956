package platform

import (
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Window is a glfw window without a client API, ready to host a Vulkan surface.
// Input and resize callbacks are forwarded to the event bus.
type Window struct {
	handle *glfw.Window
	events *core.EventBus
}

func New(cfg config.Window, events *core.EventBus) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize glfw")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("glfw: Vulkan loader not found")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, boolHint(cfg.Resizable))
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	handle, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "failed to create window")
	}
	w := &Window{handle: handle, events: events}

	handle.SetKeyCallback(w.keyCallback)
	handle.SetFramebufferSizeCallback(w.framebufferSizeCallback)
	handle.SetCloseCallback(w.closeCallback)
	handle.SetPos(cfg.X, cfg.Y)
	handle.Show()

	core.LogInfo("window %q created (%dx%d)", cfg.Title, cfg.Width, cfg.Height)
	return w, nil
}

func boolHint(b bool) int {
	if b {
		return glfw.True
	}
	return glfw.False
}

func (w *Window) FramebufferSize() (uint32, uint32) {
	width, height := w.handle.GetFramebufferSize()
	return uint32(max(width, 0)), uint32(max(height, 0))
}

// RequiredInstanceExtensions lists the surface extensions glfw needs on this platform.
func (w *Window) RequiredInstanceExtensions() []string {
	return w.handle.GetRequiredInstanceExtensions()
}

func (w *Window) CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error) {
	return w.handle.CreateWindowSurface(instance, allocCallbacks)
}

func (w *Window) PollEvents() {
	glfw.PollEvents()
}

// WaitEvents blocks for input for at most a tenth of a second, used while minimized.
func (w *Window) WaitEvents() {
	glfw.WaitEventsTimeout(0.1)
}

func (w *Window) ShouldClose() bool {
	return w.handle.ShouldClose()
}

func (w *Window) Destroy() {
	w.handle.Destroy()
	glfw.Terminate()
}

func (w *Window) keyCallback(_ *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	ke := &core.KeyEvent{Key: int(key), Scancode: scancode, Mods: int(mods)}
	switch action {
	case glfw.Press:
		if key == glfw.KeyEscape {
			w.events.Fire(core.EventContext{Type: core.EventCodeApplicationQuit})
			return
		}
		w.events.Fire(core.EventContext{Type: core.EventCodeKeyPressed, Data: ke})
	case glfw.Release:
		w.events.Fire(core.EventContext{Type: core.EventCodeKeyReleased, Data: ke})
	}
}

func (w *Window) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	w.events.Fire(core.EventContext{
		Type: core.EventCodeResized,
		Data: &core.ResizeEvent{Width: uint32(max(width, 0)), Height: uint32(max(height, 0))},
	})
}

func (w *Window) closeCallback(_ *glfw.Window) {
	w.events.Fire(core.EventContext{Type: core.EventCodeApplicationQuit})
}
