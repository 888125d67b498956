// Package vulkan implements the hal interfaces on top of goki/vulkan.
package vulkan

import (
	"runtime"
	"slices"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// SurfaceWindow is a window that can host a Vulkan surface. platform.Window satisfies it.
type SurfaceWindow interface {
	hal.Window
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}

type Backend struct {
	// Instance extensions the windowing system needs, e.g. VK_KHR_xcb_surface.
	extensions []string
}

var _ hal.Backend = (*Backend)(nil)

var initOnce sync.Once
var initErr error

func New(requiredExtensions []string) *Backend {
	return &Backend{extensions: slices.Clone(requiredExtensions)}
}

func (b *Backend) Name() string { return "vulkan" }

func loadLoader() error {
	initOnce.Do(func() {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			initErr = errors.New("GetInstanceProcAddress is nil")
			return
		}
		vk.SetGetInstanceProcAddr(procAddr)
		initErr = vk.Init()
	})
	return initErr
}

func (b *Backend) CreateInstance(desc hal.InstanceDescriptor) (hal.Instance, error) {
	if err := loadLoader(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize vk")
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(desc.ApplicationName),
		PEngineName:        VulkanSafeString("Anima2D"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, b.extensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	layers := []string{}
	if desc.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if err := checkLayers([]string{validationLayer}); err != nil {
			return nil, err
		}
		layers = append(layers, validationLayer)
	}
	extensions = slices.Compact(slices.Sorted(slices.Values(extensions)))
	core.LogDebug("required instance extensions: %v", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var handle vk.Instance
	if err := check(vk.CreateInstance(&createInfo, nil, &handle), "create instance"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(handle); err != nil {
		vk.DestroyInstance(handle, nil)
		return nil, errors.Wrap(err, "init instance")
	}
	in := &Instance{handle: handle}
	core.LogInfo("Vulkan instance created.")

	if desc.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(handle, &debugCreateInfo, nil, &dbg)); err != nil {
			// Validation output is optional; keep the instance.
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			in.debug = dbg
			in.hasDebug = true
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return in, nil
}

func checkLayers(required []string) error {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "enumerate layers"); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, available), "enumerate layers"); err != nil {
		return err
	}
	names := make([]string, 0, count)
	for i := range available {
		available[i].Deref()
		names = append(names, cString(available[i].LayerName[:]))
	}
	for _, name := range required {
		if !slices.Contains(names, name) {
			return errors.Errorf("required validation layer is missing: %s", name)
		}
	}
	return nil
}

type Instance struct {
	handle   vk.Instance
	debug    vk.DebugReportCallback
	hasDebug bool
}

func (in *Instance) Adapters() ([]*hal.Adapter, error) {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(in.handle, &count, nil), "enumerate physical devices"); err != nil {
		return nil, err
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(in.handle, &count, devices), "enumerate physical devices"); err != nil {
		return nil, err
	}
	out := make([]*hal.Adapter, 0, count)
	for _, d := range devices[:count] {
		pd := newPhysicalDevice(d)
		out = append(out, &hal.Adapter{
			Info:          pd.info(),
			QueueFamilies: pd.queueFamilies(),
			Physical:      pd,
		})
	}
	return out, nil
}

func (in *Instance) CreateSurface(w hal.Window) (hal.Surface, error) {
	sw, ok := w.(SurfaceWindow)
	if !ok {
		return nil, errors.Errorf("window %T cannot create a Vulkan surface", w)
	}
	ptr, err := sw.CreateWindowSurface(in.handle, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create window surface")
	}
	return &Surface{handle: vk.SurfaceFromPointer(ptr), instance: in.handle}, nil
}

func (in *Instance) DestroySurface(s hal.Surface) {
	if s == nil {
		return
	}
	vk.DestroySurface(in.handle, s.(*Surface).handle, nil)
}

func (in *Instance) Destroy() {
	if in.hasDebug {
		vk.DestroyDebugReportCallback(in.handle, in.debug, nil)
		in.hasDebug = false
	}
	vk.DestroyInstance(in.handle, nil)
	core.LogInfo("Vulkan instance destroyed.")
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
