package core

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Error kinds. Every construction failure in the renderer matches exactly one of them through
// errors.Is.
var (
	ErrAdapterSelectionFailed         = errors.New("no suitable adapter")
	ErrDeviceOpenFailed               = errors.New("device open failed")
	ErrNoCompatibleMemoryType         = errors.New("no compatible memory type")
	ErrResourceCreationFailed         = errors.New("resource creation failed")
	ErrMappingAcquireFailed           = errors.New("memory mapping acquire failed")
	ErrMappingReleaseFailed           = errors.New("memory mapping release failed")
	ErrFenceOrSemaphoreCreationFailed = errors.New("fence or semaphore creation failed")
	ErrSwapchainAcquireFailed         = errors.New("swapchain image acquire failed")
	ErrSwapchainPresentFailed         = errors.New("swapchain present failed")
	ErrSubmitFailed                   = errors.New("queue submit failed")
	ErrSurfaceCapabilityUnsupported   = errors.New("surface capability unsupported")
	ErrDeviceTimeout                  = errors.New("device timeout")
	ErrInvalidImage                   = errors.New("invalid image data")
	ErrUnknown                        = errors.New("unknown")
)

// StageError tags a failure with the stage that produced it, e.g. "texture: create view".
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fail builds a StageError carrying a stack trace.
func Fail(stage string, kind error, cause error) error {
	return pkgerrors.WithStack(&StageError{Stage: stage, Kind: kind, Err: cause})
}

// Stage returns the stage of the first StageError in err's chain, or "" if there is none.
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}
