// Package gpu owns GPU resources and frame presentation: the device context, memory chunks,
// buffers, textures, one-shot workers, the swapchain and the Gpu façade composing them.
//
// Every resource holds a reference on its Context and must be destroyed explicitly. The device
// is released only after the last dependent is gone.
package gpu

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

// QueueGroup is the set of queues opened on one queue family.
type QueueGroup struct {
	Family hal.QueueFamily
	Queues []hal.Queue
}

// Context owns the instance, the selected adapter and the logical device.
type Context struct {
	Instance hal.Instance
	Adapter  *hal.Adapter
	Device   hal.Device
	Limits   hal.Limits
	Memory   hal.MemoryProperties
	Features hal.Features

	fenceTimeout uint64

	mu    sync.Mutex
	owner uuid.UUID
	live  map[uuid.UUID]string
	gone  bool
}

// NewContext creates the instance and surface for window, selects the first adapter able to
// render and present to it, and opens one graphics queue on that adapter.
func NewContext(backend hal.Backend, window hal.Window, cfg config.Graphics) (*Context, hal.Surface, *QueueGroup, error) {
	instance, err := backend.CreateInstance(hal.InstanceDescriptor{
		ApplicationName: cfg.ApplicationName,
		Validation:      cfg.Validation,
	})
	if err != nil {
		return nil, nil, nil, core.Fail("context: create instance", core.ErrAdapterSelectionFailed, err)
	}
	core.LogInfo("%s instance created.", backend.Name())

	surface, err := instance.CreateSurface(window)
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, core.Fail("context: create surface", core.ErrResourceCreationFailed, err)
	}

	fail := func(err error) (*Context, hal.Surface, *QueueGroup, error) {
		instance.DestroySurface(surface)
		instance.Destroy()
		return nil, nil, nil, err
	}

	adapters, err := instance.Adapters()
	if err != nil {
		return fail(core.Fail("context: enumerate adapters", core.ErrAdapterSelectionFailed, err))
	}
	adapter, family, ok := selectAdapter(adapters, surface, cfg.PowerPreference)
	if !ok {
		return fail(core.Fail("context: select adapter", core.ErrAdapterSelectionFailed,
			errors.Errorf("none of %d adapters has a queue family with graphics and present support", len(adapters))))
	}
	core.LogInfo("Selected adapter: '%s' (%s), queue family %d.", adapter.Info.Name, adapter.Info.DeviceType, family.ID)

	device, queues, err := adapter.Physical.Open(family, []float32{1.0})
	if err != nil {
		return fail(core.Fail("context: open device", core.ErrDeviceOpenFailed, err))
	}
	if len(queues) == 0 {
		device.Destroy()
		return fail(core.Fail("context: open device", core.ErrDeviceOpenFailed,
			errors.Errorf("queue family %d yielded no queues", family.ID)))
	}
	core.LogInfo("Logical device created.")

	c := &Context{
		Instance:     instance,
		Adapter:      adapter,
		Device:       device,
		Limits:       adapter.Physical.Limits(),
		Memory:       adapter.Physical.MemoryProperties(),
		Features:     adapter.Physical.Features(),
		fenceTimeout: cfg.FenceTimeout.Nanoseconds(),
		live:         make(map[uuid.UUID]string),
	}
	c.owner = c.retain("context")
	c.logCapabilities()

	return c, surface, &QueueGroup{Family: family, Queues: queues}, nil
}

// selectAdapter returns the first adapter, in preference order, with a queue family that
// supports graphics and can present to surface.
func selectAdapter(adapters []*hal.Adapter, surface hal.Surface, preference string) (*hal.Adapter, hal.QueueFamily, bool) {
	ordered := slices.Clone(adapters)
	if rank := preferenceRank(preference); rank != nil {
		slices.SortStableFunc(ordered, func(a, b *hal.Adapter) int {
			return rank(a.Info.DeviceType) - rank(b.Info.DeviceType)
		})
	}
	for _, adapter := range ordered {
		for _, family := range adapter.QueueFamilies {
			if family.Type.SupportsGraphics() && surface.SupportsQueueFamily(adapter.Physical, family) {
				return adapter, family, true
			}
			core.LogDebug("Adapter '%s' queue family %d skipped.", adapter.Info.Name, family.ID)
		}
	}
	return nil, hal.QueueFamily{}, false
}

func preferenceRank(preference string) func(hal.DeviceType) int {
	var first hal.DeviceType
	switch preference {
	case config.PowerPreferenceHighPerformance:
		first = hal.DeviceTypeDiscreteGpu
	case config.PowerPreferenceLowPower:
		first = hal.DeviceTypeIntegratedGpu
	default:
		return nil
	}
	return func(t hal.DeviceType) int {
		if t == first {
			return 0
		}
		return 1
	}
}

func (c *Context) logCapabilities() {
	info := c.Adapter.Info
	core.LogInfo("GPU type is %s, driver %s, API %s.", info.DeviceType, info.DriverVersion, info.APIVersion)
	core.LogDebug("Limits: %+v", c.Limits)
	for i, t := range c.Memory.MemoryTypes {
		core.LogDebug("Memory type %d: %s (heap %d)", i, t.Properties, t.HeapIndex)
	}
	for i, h := range c.Memory.MemoryHeaps {
		kind := "Shared System"
		if h.DeviceLocal {
			kind = "Local GPU"
		}
		core.LogInfo("Heap %d: %s memory: %.2f GiB", i, kind, float64(h.Size)/1024.0/1024.0/1024.0)
	}
	core.LogDebug("Features: %+v", c.Features)
}

// retain registers a dependent of kind and returns its handle for release.
func (c *Context) retain(kind string) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.New()
	c.live[id] = kind
	return id
}

// release drops the reference held by id. The last release tears the device down.
func (c *Context) release(id uuid.UUID) {
	c.mu.Lock()
	if _, ok := c.live[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.live, id)
	last := len(c.live) == 0 && !c.gone
	if last {
		c.gone = true
	}
	c.mu.Unlock()

	if last {
		c.teardown()
	}
}

// Release drops the creator's reference.
func (c *Context) Release() {
	c.release(c.owner)
}

// Live counts the holders of this context by kind.
func (c *Context) Live() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for _, kind := range c.live {
		out[kind]++
	}
	return out
}

// Destroyed reports whether the device and instance have been released.
func (c *Context) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gone
}

func (c *Context) waitIdle(stage string) {
	if err := c.Device.WaitIdle(); err != nil {
		core.LogWarn("%s: wait idle failed: %s", stage, err)
	}
}

func (c *Context) teardown() {
	c.waitIdle("context")
	c.Device.Destroy()
	c.Instance.Destroy()
	core.LogInfo("Device context destroyed.")
}

// String lists the live holders, for diagnostics.
func (c *Context) String() string {
	live := c.Live()
	parts := make([]string, 0, len(live))
	for _, kind := range slices.Sorted(maps.Keys(live)) {
		parts = append(parts, fmt.Sprintf("%s:%d", kind, live[kind]))
	}
	return "gpu.Context{" + strings.Join(parts, " ") + "}"
}
