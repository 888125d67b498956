package engine

import "github.com/spaghettifunk/anima2d/engine/renderer/gpu"

// Game hooks into the engine loop. Every hook is optional.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize runs once the GPU is up, before the first frame.
type Initialize func(g *gpu.Gpu) error

// Update runs every frame after the configured clear color is set and before Present.
type Update func(g *gpu.Gpu, deltaTime float64) error
type OnResize func(width uint32, height uint32) error

// Shutdown runs before the GPU is destroyed.
type Shutdown func() error
