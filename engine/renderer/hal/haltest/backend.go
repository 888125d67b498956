// Package haltest is an in-memory hal backend. It executes copies and render-pass clears on
// byte slices, validates image layouts and semaphore ordering, and records every call in an
// ordered event log so tests can assert on sequencing.
package haltest

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

type AdapterSpec struct {
	Info          hal.AdapterInfo
	QueueFamilies []hal.QueueFamily
	// Family IDs that can present to the surface.
	PresentFamilies []int
	Limits          hal.Limits
	Memory          hal.MemoryProperties
	Features        hal.Features
	// Queues yielded by Open; negative means as many as requested.
	QueueCount int
}

type SurfaceSpec struct {
	Caps           hal.SurfaceCapabilities
	Formats        []hal.Format
	PresentModes   []hal.PresentMode
	CompositeAlpha hal.CompositeAlpha
}

type fault struct {
	err       error
	remaining int // <0 forever
}

// Backend implements hal.Backend. Exported fields may be changed before CreateInstance.
type Backend struct {
	Adapters []*AdapterSpec
	Surface  SurfaceSpec
	// Order in which AcquireImage hands out image indices, cycled. Empty means round robin.
	AcquireOrder []uint32
	// Extra latency before a pending fence signals.
	FenceDelay time.Duration

	mu     sync.Mutex
	events []string
	faults map[string]*fault
	live   map[string]int
	nextID int
	hold   chan struct{}
	// Fences armed by Submit and not yet signaled.
	pending []*Fence

	swapchainConfigs []hal.SwapchainConfig
	swapchains       []*Swapchain
}

var _ hal.Backend = (*Backend)(nil)

func DefaultAdapter() *AdapterSpec {
	return &AdapterSpec{
		Info: hal.AdapterInfo{
			Name:          "Mock GPU",
			Vendor:        0x1af4,
			Device:        0x0001,
			DeviceType:    hal.DeviceTypeDiscreteGpu,
			DriverVersion: "1.0.0",
			APIVersion:    "1.3.0",
		},
		QueueFamilies: []hal.QueueFamily{
			{ID: 0, Type: hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer, MaxQueues: 1},
		},
		PresentFamilies: []int{0},
		Limits: hal.Limits{
			MaxImageDimension2D:              16384,
			OptimalBufferCopyPitchAlignment:  256,
			OptimalBufferCopyOffsetAlignment: 16,
			NonCoherentAtomSize:              64,
			BufferImageGranularity:           1024,
			MaxSamplerAnisotropy:             16,
			MaxMemoryAllocationCount:         4096,
		},
		Memory: hal.MemoryProperties{
			MemoryTypes: []hal.MemoryType{
				{Properties: hal.MemoryDeviceLocal, HeapIndex: 0},
				{Properties: hal.MemoryCPUVisible | hal.MemoryCoherent, HeapIndex: 1},
				{Properties: hal.MemoryCPUVisible | hal.MemoryCoherent | hal.MemoryCPUCached, HeapIndex: 1},
			},
			MemoryHeaps: []hal.MemoryHeap{
				{Size: 4 << 30, DeviceLocal: true},
				{Size: 8 << 30},
			},
		},
		Features:   hal.Features{SamplerAnisotropy: true},
		QueueCount: -1,
	}
}

func DefaultSurface() SurfaceSpec {
	return SurfaceSpec{
		Caps: hal.SurfaceCapabilities{
			ImageCount:    hal.ImageCountRange{Min: 2, Max: 3},
			CurrentExtent: &hal.Extent2D{Width: 800, Height: 600},
			MinExtent:     hal.Extent2D{Width: 1, Height: 1},
			MaxExtent:     hal.Extent2D{Width: 4096, Height: 4096},
			Usage:         hal.ImageUsageColorAttachment | hal.ImageUsageTransferDst,
		},
		Formats:        []hal.Format{hal.FormatBGRA8Unorm, hal.FormatBGRA8Srgb},
		PresentModes:   []hal.PresentMode{hal.PresentModeFifo, hal.PresentModeMailbox, hal.PresentModeImmediate},
		CompositeAlpha: hal.CompositeAlphaOpaque | hal.CompositeAlphaInherit,
	}
}

func New() *Backend {
	return &Backend{
		Adapters: []*AdapterSpec{DefaultAdapter()},
		Surface:  DefaultSurface(),
		faults:   make(map[string]*fault),
		live:     make(map[string]int),
	}
}

func (b *Backend) Name() string { return "haltest" }

func (b *Backend) CreateInstance(desc hal.InstanceDescriptor) (hal.Instance, error) {
	if err := b.fault("CreateInstance"); err != nil {
		return nil, err
	}
	b.created("instance", "create instance %q", desc.ApplicationName)
	return &Instance{backend: b}, nil
}

// Fail makes the next call of op return err. op is the hal method name, e.g. "CreateImageView".
func (b *Backend) Fail(op string, err error) {
	b.FailTimes(op, err, 1)
}

// FailTimes makes the next n calls of op fail; n < 0 fails forever.
func (b *Backend) FailTimes(op string, err error, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[op] = &fault{err: err, remaining: n}
}

func (b *Backend) fault(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.faults[op]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(b.faults, op)
		}
	}
	b.events = append(b.events, fmt.Sprintf("fault %s: %v", op, f.err))
	return f.err
}

// HoldFences keeps submitted fences unsignaled until ReleaseFences is called.
func (b *Backend) HoldFences() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hold == nil {
		b.hold = make(chan struct{})
	}
}

func (b *Backend) ReleaseFences() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hold != nil {
		close(b.hold)
		b.hold = nil
	}
}

// Events returns a copy of the call log.
func (b *Backend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

func (b *Backend) ResetEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// EventIndex returns the position of the first event at or after from equal to e, or -1.
func (b *Backend) EventIndex(e string, from int) int {
	events := b.Events()
	for i := from; i < len(events); i++ {
		if events[i] == e {
			return i
		}
	}
	return -1
}

// CountEvents counts events starting with prefix.
func (b *Backend) CountEvents(prefix string) int {
	n := 0
	for _, e := range b.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// Live returns the number of backend objects of each kind that are created and not destroyed.
func (b *Backend) Live() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := maps.Clone(b.live)
	maps.DeleteFunc(out, func(_ string, n int) bool { return n == 0 })
	return out
}

// SwapchainConfigs lists every config passed to CreateSwapchain, oldest first.
func (b *Backend) SwapchainConfigs() []hal.SwapchainConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.swapchainConfigs)
}

// LastSwapchain returns the most recently created swapchain.
func (b *Backend) LastSwapchain() *Swapchain {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.swapchains) == 0 {
		return nil
	}
	return b.swapchains[len(b.swapchains)-1]
}

func (b *Backend) record(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, fmt.Sprintf(format, args...))
}

func (b *Backend) id() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Backend) created(kind string, format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live[kind]++
	b.events = append(b.events, fmt.Sprintf(format, args...))
}

func (b *Backend) destroyed(kind string, format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live[kind]--
	b.events = append(b.events, fmt.Sprintf(format, args...))
}

// Instance implements hal.Instance.
type Instance struct {
	backend *Backend
}

func (in *Instance) Adapters() ([]*hal.Adapter, error) {
	if err := in.backend.fault("Adapters"); err != nil {
		return nil, err
	}
	out := make([]*hal.Adapter, 0, len(in.backend.Adapters))
	for _, spec := range in.backend.Adapters {
		out = append(out, &hal.Adapter{
			Info:          spec.Info,
			QueueFamilies: slices.Clone(spec.QueueFamilies),
			Physical:      &PhysicalDevice{backend: in.backend, spec: spec},
		})
	}
	return out, nil
}

func (in *Instance) CreateSurface(w hal.Window) (hal.Surface, error) {
	if err := in.backend.fault("CreateSurface"); err != nil {
		return nil, err
	}
	s := &Surface{backend: in.backend, ID: in.backend.id()}
	in.backend.created("surface", "create surface:%d", s.ID)
	return s, nil
}

func (in *Instance) DestroySurface(s hal.Surface) {
	if s == nil {
		return
	}
	in.backend.destroyed("surface", "destroy surface:%d", s.(*Surface).ID)
}

func (in *Instance) Destroy() {
	in.backend.destroyed("instance", "destroy instance")
}

// PhysicalDevice implements hal.PhysicalDevice.
type PhysicalDevice struct {
	backend *Backend
	spec    *AdapterSpec
}

func (pd *PhysicalDevice) Open(family hal.QueueFamily, priorities []float32) (hal.Device, []hal.Queue, error) {
	b := pd.backend
	if err := b.fault("Open"); err != nil {
		return nil, nil, err
	}
	count := len(priorities)
	if pd.spec.QueueCount >= 0 {
		count = min(count, pd.spec.QueueCount)
	}
	d := &Device{backend: b, spec: pd.spec}
	b.created("device", "open device %q family:%d queues:%d priority:%v", pd.spec.Info.Name, family.ID, count, priorities)
	queues := make([]hal.Queue, count)
	for i := range queues {
		queues[i] = &Queue{backend: b, Family: family.ID, Index: i}
	}
	return d, queues, nil
}

func (pd *PhysicalDevice) Limits() hal.Limits                     { return pd.spec.Limits }
func (pd *PhysicalDevice) MemoryProperties() hal.MemoryProperties { return pd.spec.Memory }
func (pd *PhysicalDevice) Features() hal.Features                 { return pd.spec.Features }

// Surface implements hal.Surface.
type Surface struct {
	backend *Backend
	ID      int
}

func (s *Surface) SupportsQueueFamily(pd hal.PhysicalDevice, family hal.QueueFamily) bool {
	return slices.Contains(pd.(*PhysicalDevice).spec.PresentFamilies, family.ID)
}

func (s *Surface) Compatibility(pd hal.PhysicalDevice) (hal.SurfaceCapabilities, []hal.Format, []hal.PresentMode, hal.CompositeAlpha, error) {
	if err := s.backend.fault("Compatibility"); err != nil {
		return hal.SurfaceCapabilities{}, nil, nil, 0, err
	}
	spec := s.backend.Surface
	return spec.Caps, slices.Clone(spec.Formats), slices.Clone(spec.PresentModes), spec.CompositeAlpha, nil
}

// Window implements hal.Window with a fixed framebuffer size that tests may change.
type Window struct {
	Width, Height uint32
}

func (w *Window) FramebufferSize() (uint32, uint32) { return w.Width, w.Height }
