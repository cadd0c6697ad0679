package vulkan

import (
	"errors"
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	m "github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// errSwapchainStale is returned by Present when the swapchain must be recreated before the next frame.
var errSwapchainStale = errors.New("swapchain out of date or suboptimal")

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

/**
 * @brief The presentation swapchain. Its images are wrapped as textures so
 * the swapchain render target can build framebuffers over them. Listeners
 * on Events() hear about every recreation.
 */
type VulkanSwapchain struct {
	object
	device *VulkanDevice

	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	PresentMode vk.PresentMode

	extent gpu.Extent2D
	images []*VulkanImage
	events *core.EventSystem
}

func (d *VulkanDevice) SwapchainCreate(width, height uint32) (*VulkanSwapchain, error) {
	sc := &VulkanSwapchain{
		device: d,
		events: core.NewEventSystem(),
	}
	if err := sc.create(width, height, nil); err != nil {
		return nil, err
	}
	sc.object = d.context.newObject(sc)
	return sc, nil
}

func (vs *VulkanSwapchain) Format() gpu.Format        { return gpuFormat(vs.ImageFormat.Format) }
func (vs *VulkanSwapchain) Extent() gpu.Extent2D      { return vs.extent }
func (vs *VulkanSwapchain) ImageCount() uint32        { return uint32(len(vs.images)) }
func (vs *VulkanSwapchain) Events() *core.EventSystem { return vs.events }

func (vs *VulkanSwapchain) ImageViews() []gpu.ImageView {
	views := make([]gpu.ImageView, len(vs.images))
	for i, img := range vs.images {
		views[i] = img.View()
	}
	return views
}

// Image returns the wrapped swapchain image at index, or nil.
func (vs *VulkanSwapchain) Image(index uint32) *VulkanImage {
	if int(index) >= len(vs.images) {
		return nil
	}
	return vs.images[index]
}

/**
 * @brief Builds a new swapchain from the old one, then tells every listener
 * the images, views and extent changed.
 */
func (vs *VulkanSwapchain) Recreate(width, height uint32) error {
	if err := vs.device.WaitIdle(); err != nil {
		return err
	}
	support, err := QuerySwapchainSupport(vs.device.PhysicalDevice, vs.device.context.Surface)
	if err != nil {
		return err
	}
	vs.device.SwapchainSupport = support

	old := vs.Handle
	oldImages := vs.images
	vs.images = nil
	if err := vs.create(width, height, old); err != nil {
		vs.images = oldImages
		return err
	}
	for _, img := range oldImages {
		img.Destroy()
	}
	if old != nil {
		vk.DestroySwapchain(vs.device.LogicalDevice, old, vs.device.context.Allocator)
	}

	data := core.EventContext{}
	data.Data.U32[0] = vs.extent.Width
	data.Data.U32[1] = vs.extent.Height
	data.Data.U32[2] = uint32(len(vs.images))
	vs.events.Fire(core.EVENT_CODE_SWAPCHAIN_RECREATED, vs, data)
	return nil
}

func (vs *VulkanSwapchain) Destroy() {
	_ = vs.device.WaitIdle()
	// Only destroy the views, not the images, since those are owned by the swapchain and are thus
	// destroyed when it is.
	for _, img := range vs.images {
		img.Destroy()
	}
	vs.images = nil
	if vs.Handle != nil {
		vk.DestroySwapchain(vs.device.LogicalDevice, vs.Handle, vs.device.context.Allocator)
		vs.Handle = nil
	}
	vs.events.Shutdown()
	vs.device.context.releaseObject(vs.object)
}

/**
 * @brief Acquires the next presentable image. An out of date swapchain
 * yields core.ErrSwapchainBooting; the caller recreates and skips the frame.
 */
func (vs *VulkanSwapchain) AcquireNextImageIndex(timeoutNs uint64, imageAvailable vk.Semaphore, fence vk.Fence) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(vs.device.LogicalDevice, vs.Handle, timeoutNs, imageAvailable, fence, &imageIndex)
	switch result {
	case vk.Success, vk.Suboptimal:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		return 0, fmt.Errorf("acquire next image: %w", core.ErrSwapchainBooting)
	}
	return 0, vkError("vkAcquireNextImage", result)
}

/**
 * @brief Returns the image to the swapchain for presentation. An out of
 * date or suboptimal swapchain yields errSwapchainStale.
 */
func (vs *VulkanSwapchain) Present(renderComplete vk.Semaphore, imageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	d := vs.device
	var result vk.Result
	_ = d.context.locks.SafeQueueCall(uint32(d.PresentQueueIndex), func() error {
		result = vk.QueuePresent(d.PresentQueue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return errSwapchainStale
	}
	return vkError("vkQueuePresent", result)
}

func (vs *VulkanSwapchain) create(width, height uint32, old vk.Swapchain) error {
	d := vs.device
	support := d.SwapchainSupport
	if len(support.Formats) == 0 {
		return fmt.Errorf("swapchain: surface reports no formats")
	}
	support.Capabilities.Deref()

	// Choose a swap surface format.
	vs.ImageFormat = support.Formats[0]
	for _, format := range support.Formats {
		format.Deref()
		// Preferred formats
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			vs.ImageFormat = format
			break
		}
	}

	vs.PresentMode = vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			vs.PresentMode = mode
			break
		}
	}

	extent := vk.Extent2D{Width: width, Height: height}
	current := support.Capabilities.CurrentExtent
	current.Deref()
	if current.Width != math.MaxUint32 {
		extent = current
	}
	// Clamp to the value allowed by the GPU.
	minExtent := support.Capabilities.MinImageExtent
	minExtent.Deref()
	maxExtent := support.Capabilities.MaxImageExtent
	maxExtent.Deref()
	extent.Width = m.Clamp(extent.Width, minExtent.Width, maxExtent.Width)
	extent.Height = m.Clamp(extent.Height, minExtent.Height, maxExtent.Height)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      vs.ImageFormat.Format,
		ImageColorSpace:  vs.ImageFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vs.PresentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	// Setup the queue family indices
	if d.GraphicsQueueIndex != d.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(d.GraphicsQueueIndex),
			uint32(d.PresentQueueIndex),
		}
	}

	var handle vk.Swapchain
	if err := vkError("vkCreateSwapchain", vk.CreateSwapchain(d.LogicalDevice, &swapchainCreateInfo, d.context.Allocator, &handle)); err != nil {
		core.LogError(err.Error())
		return err
	}

	var count uint32
	if err := vkError("vkGetSwapchainImages", vk.GetSwapchainImages(d.LogicalDevice, handle, &count, nil)); err != nil {
		vk.DestroySwapchain(d.LogicalDevice, handle, d.context.Allocator)
		return err
	}
	handles := make([]vk.Image, count)
	if err := vkError("vkGetSwapchainImages", vk.GetSwapchainImages(d.LogicalDevice, handle, &count, handles)); err != nil {
		vk.DestroySwapchain(d.LogicalDevice, handle, d.context.Allocator)
		return err
	}

	gpuExtent := gpu.Extent2D{Width: extent.Width, Height: extent.Height}
	images := make([]*VulkanImage, 0, count)
	for _, h := range handles {
		img, err := d.wrapSwapchainImage(h, vs.Format(), gpuExtent)
		if err != nil {
			for _, done := range images {
				done.Destroy()
			}
			vk.DestroySwapchain(d.LogicalDevice, handle, d.context.Allocator)
			return err
		}
		images = append(images, img)
	}

	vs.Handle = handle
	vs.images = images
	vs.extent = gpuExtent
	core.LogInfo("Swapchain created: %s, %d images, format %s.", gpuExtent, count, vs.Format())
	return nil
}
