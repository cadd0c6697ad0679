package vulkan

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/platform"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type Options struct {
	ApplicationName string
	Width           uint32
	Height          uint32
	FramesInFlight  uint32
	Validation      bool
	RequireDiscrete bool
}

// Frame is what BeginFrame hands to the render pipeline.
type Frame struct {
	Index      uint32
	ImageIndex uint32
	Primary    gpu.CommandBuffer
}

/**
 * @brief Owns the Vulkan instance, surface, device and swapchain, plus the
 * per-frame primaries and synchronisation. It acquires and presents
 * swapchain images; what goes in between is recorded by the pipeline.
 */
type VulkanRenderer struct {
	platform *platform.Platform
	options  Options

	FrameNumber uint64
	context     *VulkanContext
	swapchain   *VulkanSwapchain

	cachedFramebufferWidth  uint32
	cachedFramebufferHeight uint32
	recreatingSwapchain     bool

	currentFrame uint32
	imageIndex   uint32

	primaries      []*VulkanCommandBuffer
	imageAvailable []vk.Semaphore
	queueComplete  []vk.Semaphore
	inFlight       []*VulkanFence
	// Fences of the frame currently using each swapchain image. Not owned.
	imagesInFlight []*VulkanFence
}

func New(p *platform.Platform, opts Options) *VulkanRenderer {
	if opts.FramesInFlight == 0 || opts.FramesInFlight > gpu.MaxFramesInFlight {
		opts.FramesInFlight = 2
	}
	return &VulkanRenderer{
		platform: p,
		options:  opts,
		context:  newContext(),
	}
}

func (vr *VulkanRenderer) Device() *VulkanDevice       { return vr.context.Device }
func (vr *VulkanRenderer) Swapchain() *VulkanSwapchain { return vr.swapchain }
func (vr *VulkanRenderer) FramesInFlight() uint32      { return vr.options.FramesInFlight }

func (vr *VulkanRenderer) Initialize() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogFatal("failed to initialize vk: %s", err)
		return err
	}

	vr.context.FramebufferWidth = vr.options.Width
	vr.context.FramebufferHeight = vr.options.Height

	if err := vr.createInstance(); err != nil {
		return err
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface, err := vr.platform.Window.CreateWindowSurface(vr.context.Instance, nil)
	if err != nil {
		core.LogError("Failed to create platform surface: %s", err)
		return err
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	// Device creation
	device, err := DeviceCreate(vr.context, vr.options.RequireDiscrete)
	if err != nil {
		core.LogError("Failed to create device!")
		return err
	}

	// Swapchain
	sc, err := device.SwapchainCreate(vr.context.FramebufferWidth, vr.context.FramebufferHeight)
	if err != nil {
		return err
	}
	vr.swapchain = sc

	if err := vr.createFrameResources(); err != nil {
		return err
	}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (vr *VulkanRenderer) createInstance() error {
	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(vr.options.ApplicationName),
		PEngineName:        VulkanSafeString("Umbra Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{"VK_KHR_surface"} // Generic surface extension
	requiredExtensions = append(requiredExtensions, vr.platform.GetRequiredExtensionNames()...)

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	if vr.options.Validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		core.LogDebug("Required extensions: %v", requiredExtensions)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers are only enabled on request, they are slow.
	var requiredLayers []string
	if vr.options.Validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		requiredLayers = []string{"VK_LAYER_KHRONOS_validation"}

		var availableCount uint32
		if err := vkError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&availableCount, nil)); err != nil {
			return err
		}
		availableLayers := make([]vk.LayerProperties, availableCount)
		if err := vkError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&availableCount, availableLayers)); err != nil {
			return err
		}

		// Verify all required layers are available.
		for _, required := range requiredLayers {
			found := false
			for j := range availableLayers {
				availableLayers[j].Deref()
				if required == cString(availableLayers[j].LayerName[:]) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("required validation layer is missing: %s", required)
			}
		}
		core.LogInfo("All required validation layers are present.")
	}

	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	var instance vk.Instance
	if err := vkError("vkCreateInstance", vk.CreateInstance(&createInfo, vr.context.Allocator, &instance)); err != nil {
		core.LogError(err.Error())
		return err
	}
	vr.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	// Debugger
	if vr.options.Validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vkError("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError(err.Error())
			return err
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func (vr *VulkanRenderer) createFrameResources() error {
	device := vr.context.Device
	n := vr.options.FramesInFlight
	vr.primaries = make([]*VulkanCommandBuffer, n)
	vr.imageAvailable = make([]vk.Semaphore, n)
	vr.queueComplete = make([]vk.Semaphore, n)
	vr.inFlight = make([]*VulkanFence, n)

	for i := uint32(0); i < n; i++ {
		cb, err := device.NewVulkanCommandBuffer(gpu.CommandBufferLevelPrimary)
		if err != nil {
			return err
		}
		vr.primaries[i] = cb

		semaphoreCreateInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}
		var available, complete vk.Semaphore
		if err := vkError("vkCreateSemaphore", vk.CreateSemaphore(device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &available)); err != nil {
			return err
		}
		vr.imageAvailable[i] = available
		if err := vkError("vkCreateSemaphore", vk.CreateSemaphore(device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &complete)); err != nil {
			return err
		}
		vr.queueComplete[i] = complete

		// Created signaled, as if the first frame had already been rendered.
		f, err := device.NewFence(true)
		if err != nil {
			return err
		}
		vr.inFlight[i] = f
	}
	vr.imagesInFlight = make([]*VulkanFence, vr.swapchain.ImageCount())
	core.LogDebug("Vulkan frame resources created for %d frames in flight.", n)
	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	device := vr.context.Device
	if device != nil && device.LogicalDevice != nil {
		_ = device.WaitIdle()

		// Destroy in the opposite order of creation.
		for i := range vr.inFlight {
			if vr.imageAvailable[i] != nil {
				vk.DestroySemaphore(device.LogicalDevice, vr.imageAvailable[i], vr.context.Allocator)
			}
			if vr.queueComplete[i] != nil {
				vk.DestroySemaphore(device.LogicalDevice, vr.queueComplete[i], vr.context.Allocator)
			}
			if vr.inFlight[i] != nil {
				vr.inFlight[i].Destroy()
			}
		}
		vr.imageAvailable = nil
		vr.queueComplete = nil
		vr.inFlight = nil
		vr.imagesInFlight = nil

		for _, cb := range vr.primaries {
			if cb != nil {
				device.FreeCommandBuffers(cb)
			}
		}
		vr.primaries = nil

		if vr.swapchain != nil {
			vr.swapchain.Destroy()
			vr.swapchain = nil
		}

		core.LogDebug("Destroying Vulkan device...")
		device.Destroy()
	}

	core.LogDebug("Destroying Vulkan surface...")
	if vr.context.Surface != nil {
		vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
		vr.context.Surface = nil
	}
	if vr.context.debugMessenger != nil {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
		vr.context.debugMessenger = nil
	}
	if vr.context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
		vr.context.Instance = nil
	}
	return nil
}

// Resized records a new framebuffer size. The swapchain is rebuilt at the next BeginFrame.
func (vr *VulkanRenderer) Resized(width, height uint32) {
	// Update the "framebuffer size generation", a counter which indicates when the
	// framebuffer size has been updated.
	vr.cachedFramebufferWidth = width
	vr.cachedFramebufferHeight = height
	vr.context.FramebufferSizeGeneration++
	core.LogDebug("Vulkan renderer backend->resized: w/h/gen: %d/%d/%d", width, height, vr.context.FramebufferSizeGeneration)
}

/**
 * @brief Waits for the frame slot to retire and acquires the next
 * swapchain image. Returns core.ErrSwapchainBooting when the swapchain
 * was, or has to be, recreated; the caller skips the frame.
 */
func (vr *VulkanRenderer) BeginFrame() (Frame, error) {
	device := vr.context.Device
	// Check if recreating swap chain and boot out.
	if vr.recreatingSwapchain {
		if err := device.WaitIdle(); err != nil {
			return Frame{}, err
		}
		core.LogInfo("Recreating swapchain, booting.")
		return Frame{}, core.ErrSwapchainBooting
	}

	// Check if the framebuffer has been resized. If so, a new swapchain must be created.
	if vr.context.FramebufferSizeGeneration != vr.context.FramebufferSizeLastGeneration {
		if err := vr.recreateSwapchain(); err != nil {
			return Frame{}, err
		}
		core.LogInfo("Resized, booting.")
		return Frame{}, core.ErrSwapchainBooting
	}

	// Wait for the execution of the current frame to complete. The fence being free will allow this one to move on.
	if err := vr.inFlight[vr.currentFrame].Wait(math.MaxUint64); err != nil {
		return Frame{}, err
	}

	// The acquire signals the semaphore the submission later waits on.
	imageIndex, err := vr.swapchain.AcquireNextImageIndex(math.MaxUint64, vr.imageAvailable[vr.currentFrame], vk.NullFence)
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			if rerr := vr.recreateSwapchain(); rerr != nil {
				return Frame{}, rerr
			}
		}
		return Frame{}, err
	}
	vr.imageIndex = imageIndex

	primary := vr.primaries[vr.currentFrame]
	if err := primary.Reset(); err != nil {
		return Frame{}, err
	}
	return Frame{Index: vr.currentFrame, ImageIndex: imageIndex, Primary: primary}, nil
}

// EndFrame submits the recorded primary and presents the acquired image.
func (vr *VulkanRenderer) EndFrame() error {
	if err := vr.submit(vr.primaries[vr.currentFrame]); err != nil {
		return err
	}
	return vr.present()
}

/**
 * @brief Gives the acquired image back without rendering to it. The
 * primary is re-recorded with a bare transition to the present layout,
 * so the acquire semaphore is still consumed and the frame slot keeps
 * its fence cycle.
 */
func (vr *VulkanRenderer) DropFrame() error {
	primary := vr.primaries[vr.currentFrame]
	if err := primary.Reset(); err != nil {
		return err
	}
	if err := primary.Begin(nil); err != nil {
		return err
	}
	img := vr.swapchain.Image(vr.imageIndex)
	if img != nil {
		primary.imageBarrier(img.Handle, img.Format(), 0, 1, gpu.ImageLayoutUndefined, gpu.ImageLayoutPresentSrc)
		img.SetLayout(0, gpu.ImageLayoutPresentSrc)
	}
	if err := primary.End(); err != nil {
		return err
	}
	core.LogDebug("Frame %d dropped, presenting image %d untouched.", vr.FrameNumber, vr.imageIndex)
	return vr.EndFrame()
}

func (vr *VulkanRenderer) submit(primary *VulkanCommandBuffer) error {
	device := vr.context.Device

	// Make sure the previous frame is not using this image (i.e. its fence is being waited on)
	if f := vr.imagesInFlight[vr.imageIndex]; f != nil && f != vr.inFlight[vr.currentFrame] {
		if err := f.Wait(math.MaxUint64); err != nil {
			return err
		}
	}
	// Mark the image fence as in-use by this frame.
	vr.imagesInFlight[vr.imageIndex] = vr.inFlight[vr.currentFrame]

	// Reset the fence for use on the next frame
	fence := vr.inFlight[vr.currentFrame]
	if err := fence.Reset(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{primary.Handle},
		// The semaphore(s) to be signaled when the queue is complete.
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{vr.queueComplete[vr.currentFrame]},
		// Wait semaphore ensures that the operation cannot begin until the image is available.
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{vr.imageAvailable[vr.currentFrame]},
		// Colour attachment writes wait for the semaphore, one frame is presented at a time.
		PWaitDstStageMask: []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
	}

	err := vr.context.locks.SafeQueueCall(uint32(device.GraphicsQueueIndex), func() error {
		return vkError("vkQueueSubmit", vk.QueueSubmit(device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle))
	})
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	return primary.MarkSubmitted()
}

func (vr *VulkanRenderer) present() error {
	err := vr.swapchain.Present(vr.queueComplete[vr.currentFrame], vr.imageIndex)
	// Increment (and loop) the index.
	vr.currentFrame = (vr.currentFrame + 1) % vr.options.FramesInFlight
	vr.FrameNumber++

	if errors.Is(err, errSwapchainStale) {
		// Out of date, suboptimal or resized: rebuild before the next frame.
		return vr.recreateSwapchain()
	}
	return err
}

func (vr *VulkanRenderer) recreateSwapchain() error {
	// If already being recreated, do not try again.
	if vr.recreatingSwapchain {
		core.LogDebug("recreate_swapchain called when already recreating. Booting.")
		return core.ErrSwapchainBooting
	}

	width, height := vr.context.FramebufferWidth, vr.context.FramebufferHeight
	if vr.cachedFramebufferWidth != 0 && vr.cachedFramebufferHeight != 0 {
		width, height = vr.cachedFramebufferWidth, vr.cachedFramebufferHeight
	}
	// Detect if the window is too small to be drawn to
	if width == 0 || height == 0 {
		core.LogDebug("recreate_swapchain called when window is < 1 in a dimension. Booting.")
		return core.ErrSwapchainBooting
	}

	// Mark as recreating if the dimensions are valid.
	vr.recreatingSwapchain = true
	defer func() { vr.recreatingSwapchain = false }()

	if err := vr.swapchain.Recreate(width, height); err != nil {
		return err
	}
	vr.imagesInFlight = make([]*VulkanFence, vr.swapchain.ImageCount())

	// Sync the framebuffer size with the cached sizes.
	extent := vr.swapchain.Extent()
	vr.context.FramebufferWidth = extent.Width
	vr.context.FramebufferHeight = extent.Height
	vr.cachedFramebufferWidth = 0
	vr.cachedFramebufferHeight = 0
	vr.context.FramebufferSizeLastGeneration = vr.context.FramebufferSizeGeneration
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
