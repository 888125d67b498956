package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

type Queue struct {
	handle vk.Queue
	family uint32
	locks  *VulkanLockPool
}

func (q *Queue) Submit(s hal.Submission, fence hal.Fence) error {
	buffers := make([]vk.CommandBuffer, len(s.CommandBuffers))
	for i, cb := range s.CommandBuffers {
		buffers[i] = cb.(*CommandBuffer).handle
	}
	waits := make([]vk.Semaphore, len(s.WaitSemaphores))
	stages := make([]vk.PipelineStageFlags, len(s.WaitSemaphores))
	for i, w := range s.WaitSemaphores {
		waits[i] = w.Semaphore.(vk.Semaphore)
		stages[i] = toVkStages(w.Stage)
	}
	signals := make([]vk.Semaphore, len(s.SignalSemaphores))
	for i, sem := range s.SignalSemaphores {
		signals[i] = sem.(vk.Semaphore)
	}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	var f vk.Fence
	if fence != nil {
		f = fence.(vk.Fence)
	}
	return q.locks.SafeQueueCall(q.family, func() error {
		return check(vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, f), "queue submit")
	})
}

// Present returns hal.ErrSuboptimal or hal.ErrOutOfDate when the swapchain no longer matches
// the surface; the image was still queued in the suboptimal case.
func (q *Queue) Present(sc hal.Swapchain, imageIndex uint32, wait []hal.Semaphore) error {
	semaphores := make([]vk.Semaphore, len(wait))
	for i, s := range wait {
		semaphores[i] = s.(vk.Semaphore)
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(semaphores)),
		PWaitSemaphores:    semaphores,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.(*Swapchain).handle},
		PImageIndices:      []uint32{imageIndex},
	}
	return q.locks.SafeQueueCall(q.family, func() error {
		return check(vk.QueuePresent(q.handle, &presentInfo), "queue present")
	})
}

func (q *Queue) WaitIdle() error {
	return q.locks.SafeQueueCall(q.family, func() error {
		return check(vk.QueueWaitIdle(q.handle), "queue wait idle")
	})
}
