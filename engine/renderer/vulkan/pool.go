package vulkan

import "sync"

type LockGroup string

// Vulkan requires external synchronization for these object families.
const (
	CommandPoolManagement LockGroup = "command_pool_management"
	MemoryManagement      LockGroup = "memory_management"
	DeviceManagement      LockGroup = "device_management"
)

// VulkanLockPool hands out one mutex per lock group and per queue.
type VulkanLockPool struct {
	mu     sync.Mutex
	locks  map[LockGroup]*sync.Mutex
	queues map[uint32]*sync.Mutex // keyed by queue family index
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:  make(map[LockGroup]*sync.Mutex),
		queues: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) queueLock(family uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.queues[family]
	if !ok {
		l = &sync.Mutex{}
		vs.queues[family] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SafeQueueCall serializes fn against every other call on the same queue family.
func (vs *VulkanLockPool) SafeQueueCall(family uint32, fn func() error) error {
	l := vs.queueLock(family)
	l.Lock()
	defer l.Unlock()
	return fn()
}
