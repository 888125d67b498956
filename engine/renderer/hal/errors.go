package hal

import "errors"

// Backend-level failures that callers react to.
var (
	ErrOutOfDate   = errors.New("surface out of date")
	ErrSuboptimal  = errors.New("swapchain suboptimal")
	ErrSurfaceLost = errors.New("surface lost")
	ErrDeviceLost  = errors.New("device lost")
	ErrTimeout     = errors.New("wait timed out")
	ErrOutOfMemory = errors.New("out of memory")
	ErrMapFailed   = errors.New("memory map failed")
)
