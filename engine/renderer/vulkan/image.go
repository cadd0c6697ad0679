package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type VulkanImageView struct {
	object
	Handle vk.ImageView
	format gpu.Format
}

func (v *VulkanImageView) Format() gpu.Format { return v.format }

type VulkanSampler struct {
	object
	Handle vk.Sampler
}

/**
 * @brief A device-local 2D image with a view over all mips, one view per
 * mip and a linear sampler. Swapchain images are wrapped without owning
 * the image or its memory.
 */
type VulkanImage struct {
	object
	device *VulkanDevice
	desc   gpu.TextureDesc
	owned  bool

	Handle vk.Image
	Memory vk.DeviceMemory

	view     *VulkanImageView
	mipViews []*VulkanImageView
	sampler  *VulkanSampler
	layouts  []gpu.ImageLayout
}

func (d *VulkanDevice) NewTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	return d.ImageCreate(desc)
}

func (d *VulkanDevice) ImageCreate(desc gpu.TextureDesc) (*VulkanImage, error) {
	if desc.Extent.IsZero() {
		return nil, fmt.Errorf("image '%s': extent %s is empty", desc.Name, desc.Extent)
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	img := &VulkanImage{
		device:  d,
		desc:    desc,
		owned:   true,
		layouts: make([]gpu.ImageLayout, desc.MipLevels),
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if err := vkError("vkCreateImage", vk.CreateImage(d.LogicalDevice, &imageCreateInfo, d.context.Allocator, &handle)); err != nil {
		return nil, fmt.Errorf("image '%s': %w", desc.Name, err)
	}
	img.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memoryIndex := d.context.FindMemoryIndex(requirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if memoryIndex < 0 {
		img.Destroy()
		return nil, fmt.Errorf("image '%s': required memory type not found", desc.Name)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if err := vkError("vkAllocateMemory", vk.AllocateMemory(d.LogicalDevice, &allocateInfo, d.context.Allocator, &memory)); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image '%s': %w", desc.Name, err)
	}
	img.Memory = memory
	if err := vkError("vkBindImageMemory", vk.BindImageMemory(d.LogicalDevice, handle, memory, 0)); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image '%s': %w", desc.Name, err)
	}

	var err error
	if img.view, err = d.createImageView(handle, desc.Format, 0, desc.MipLevels); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image '%s': %w", desc.Name, err)
	}
	img.mipViews = make([]*VulkanImageView, desc.MipLevels)
	for mip := uint32(0); mip < desc.MipLevels; mip++ {
		if img.mipViews[mip], err = d.createImageView(handle, desc.Format, mip, 1); err != nil {
			img.Destroy()
			return nil, fmt.Errorf("image '%s' mip %d: %w", desc.Name, mip, err)
		}
	}
	if img.sampler, err = d.createSampler(desc.MipLevels); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image '%s': %w", desc.Name, err)
	}
	img.object = d.context.newObject(img)
	return img, nil
}

// wrapSwapchainImage adopts an image the swapchain owns. Only the view is destroyed with it.
func (d *VulkanDevice) wrapSwapchainImage(handle vk.Image, format gpu.Format, extent gpu.Extent2D) (*VulkanImage, error) {
	img := &VulkanImage{
		device: d,
		desc: gpu.TextureDesc{
			Name:      "swapchain",
			Extent:    extent,
			Format:    format,
			MipLevels: 1,
			Usage:     gpu.TextureUsageColorAttachment,
		},
		Handle:  handle,
		layouts: make([]gpu.ImageLayout, 1),
	}
	view, err := d.createImageView(handle, format, 0, 1)
	if err != nil {
		return nil, err
	}
	img.view = view
	img.mipViews = []*VulkanImageView{view}
	img.object = d.context.newObject(img)
	return img, nil
}

func (d *VulkanDevice) createImageView(image vk.Image, format gpu.Format, baseMip, mipCount uint32) (*VulkanImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   vkFormat(format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vkAspect(format),
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var handle vk.ImageView
	if err := vkError("vkCreateImageView", vk.CreateImageView(d.LogicalDevice, &viewCreateInfo, d.context.Allocator, &handle)); err != nil {
		return nil, err
	}
	v := &VulkanImageView{Handle: handle, format: format}
	v.object = d.context.newObject(v)
	return v, nil
}

func (d *VulkanDevice) destroyImageView(v *VulkanImageView) {
	if v == nil || v.Handle == nil {
		return
	}
	vk.DestroyImageView(d.LogicalDevice, v.Handle, d.context.Allocator)
	v.Handle = nil
	d.context.releaseObject(v.object)
}

func (d *VulkanDevice) createSampler(mipLevels uint32) (*VulkanSampler, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           d.Properties.Limits.MaxSamplerAnisotropy,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MaxLod:                  float32(mipLevels),
	}
	var handle vk.Sampler
	if err := vkError("vkCreateSampler", vk.CreateSampler(d.LogicalDevice, &samplerInfo, d.context.Allocator, &handle)); err != nil {
		return nil, err
	}
	s := &VulkanSampler{Handle: handle}
	s.object = d.context.newObject(s)
	return s, nil
}

func (i *VulkanImage) Name() string         { return i.desc.Name }
func (i *VulkanImage) Extent() gpu.Extent2D { return i.desc.Extent }
func (i *VulkanImage) Format() gpu.Format   { return i.desc.Format }
func (i *VulkanImage) MipLevels() uint32    { return i.desc.MipLevels }
func (i *VulkanImage) View() gpu.ImageView  { return i.view }
func (i *VulkanImage) Sampler() gpu.Sampler {
	if i.sampler == nil {
		return nil
	}
	return i.sampler
}

func (i *VulkanImage) MipView(level uint32) gpu.ImageView {
	if int(level) >= len(i.mipViews) {
		return nil
	}
	return i.mipViews[level]
}

func (i *VulkanImage) Layout(mip uint32) gpu.ImageLayout {
	if int(mip) >= len(i.layouts) {
		return gpu.ImageLayoutUndefined
	}
	return i.layouts[mip]
}

func (i *VulkanImage) SetLayout(mip uint32, layout gpu.ImageLayout) {
	if int(mip) < len(i.layouts) {
		i.layouts[mip] = layout
	}
}

func (i *VulkanImage) Destroy() {
	d := i.device
	if i.sampler != nil {
		vk.DestroySampler(d.LogicalDevice, i.sampler.Handle, d.context.Allocator)
		d.context.releaseObject(i.sampler.object)
		i.sampler = nil
	}
	for _, v := range i.mipViews {
		if v != i.view {
			d.destroyImageView(v)
		}
	}
	i.mipViews = nil
	d.destroyImageView(i.view)
	i.view = nil

	if i.owned {
		if i.Handle != nil {
			vk.DestroyImage(d.LogicalDevice, i.Handle, d.context.Allocator)
		}
		if i.Memory != nil {
			vk.FreeMemory(d.LogicalDevice, i.Memory, d.context.Allocator)
		}
	}
	i.Handle = nil
	i.Memory = nil
	d.context.releaseObject(i.object)
	i.object = object{}
}

/**
 * @brief Uploads tightly packed texels into mip 0 through a staging buffer.
 * The mip ends up in the shader read-only layout.
 */
func (d *VulkanDevice) WriteTexture(texture gpu.Texture, data []byte) error {
	img, ok := texture.(*VulkanImage)
	if !ok || img == nil {
		return fmt.Errorf("write texture: not a vulkan image")
	}
	extent := img.Extent()
	want := int(extent.Width) * int(extent.Height) * img.Format().Size()
	if len(data) != want {
		return fmt.Errorf("write texture '%s': got %d bytes, want %d", img.Name(), len(data), want)
	}

	staging, err := d.createBuffer(uint64(len(data)), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), 0)
	if err != nil {
		return fmt.Errorf("write texture '%s': %w", img.Name(), err)
	}
	defer staging.Destroy()
	if err := staging.Write(0, data); err != nil {
		return err
	}

	cb, err := d.AllocateAndBeginSingleUse()
	if err != nil {
		return err
	}
	cb.imageBarrier(img.Handle, img.Format(), 0, 1, img.Layout(0), gpu.ImageLayoutTransferDstOptimal)

	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vkAspect(img.Format()),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(cb.Handle, staging.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
	cb.imageBarrier(img.Handle, img.Format(), 0, 1, gpu.ImageLayoutTransferDstOptimal, gpu.ImageLayoutShaderReadOnlyOptimal)

	if err := d.EndSingleUse(cb); err != nil {
		return fmt.Errorf("write texture '%s': %w", img.Name(), err)
	}
	img.SetLayout(0, gpu.ImageLayoutShaderReadOnlyOptimal)
	return nil
}
