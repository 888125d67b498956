package gpu

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

// Worker runs one-shot command buffers on the graphics queue and blocks until they complete.
type Worker struct {
	ctx     *Context
	id      uuid.UUID
	pool    hal.CommandPool
	queue   hal.Queue
	timeout uint64

	// fences whose wait expired; destroyed once the device is idle
	abandoned []hal.Fence
}

func NewWorker(ctx *Context, qg *QueueGroup) (*Worker, error) {
	pool, err := ctx.Device.CreateCommandPool(qg.Family, hal.CommandPoolTransient)
	if err != nil {
		return nil, core.Fail("worker: create command pool", core.ErrResourceCreationFailed, err)
	}
	return &Worker{
		ctx:     ctx,
		id:      ctx.retain("worker"),
		pool:    pool,
		queue:   qg.Queues[0],
		timeout: ctx.fenceTimeout,
	}, nil
}

// Perform records commands through record, submits them and waits on a fresh fence.
// Nothing is submitted when record fails.
func (w *Worker) Perform(record func(cb hal.CommandBuffer) error) error {
	dev := w.ctx.Device

	cb, err := w.pool.Allocate()
	if err != nil {
		return core.Fail("worker: allocate command buffer", core.ErrResourceCreationFailed, err)
	}
	freeBuffer := true
	defer func() {
		if freeBuffer {
			w.pool.Free(cb)
		}
	}()

	if err := cb.Begin(true); err != nil {
		return core.Fail("worker: begin", core.ErrResourceCreationFailed, err)
	}
	if err := record(cb); err != nil {
		return errors.WithMessage(err, "worker: record")
	}
	if err := cb.Finish(); err != nil {
		return core.Fail("worker: finish", core.ErrResourceCreationFailed, err)
	}

	fence, err := dev.CreateFence(false)
	if err != nil {
		return core.Fail("worker: create fence", core.ErrFenceOrSemaphoreCreationFailed, err)
	}
	if err := w.queue.Submit(hal.Submission{CommandBuffers: []hal.CommandBuffer{cb}}, fence); err != nil {
		dev.DestroyFence(fence)
		return core.Fail("worker: submit", core.ErrSubmitFailed, err)
	}
	if err := dev.WaitForFence(fence, w.timeout); err != nil {
		// the buffer may still be executing
		freeBuffer = false
		w.abandoned = append(w.abandoned, fence)
		if errors.Is(err, hal.ErrTimeout) {
			return core.Fail("worker: wait", core.ErrDeviceTimeout, err)
		}
		return core.Fail("worker: wait", core.ErrSubmitFailed, err)
	}
	dev.DestroyFence(fence)
	return nil
}

// Destroy waits for the device to go idle and destroys the command pool with its buffers.
func (w *Worker) Destroy() {
	if w.pool == nil {
		return
	}
	w.ctx.waitIdle("worker")
	for _, f := range w.abandoned {
		w.ctx.Device.DestroyFence(f)
	}
	w.abandoned = nil
	w.ctx.Device.DestroyCommandPool(w.pool)
	w.pool = nil
	w.ctx.release(w.id)
}
