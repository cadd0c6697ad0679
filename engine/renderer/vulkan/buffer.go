package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

/**
 * @brief A host-visible, host-coherent buffer that stays mapped for its
 * whole life. Writes land in device-visible memory without a flush.
 */
type VulkanBuffer struct {
	object
	device *VulkanDevice

	Handle vk.Buffer
	Memory vk.DeviceMemory

	size   uint64
	usage  gpu.BufferUsage
	mapped unsafe.Pointer
}

func (d *VulkanDevice) NewBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	return d.createBuffer(size, vkBufferUsage(usage), usage)
}

func (d *VulkanDevice) createBuffer(size uint64, vkUsage vk.BufferUsageFlags, usage gpu.BufferUsage) (*VulkanBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("cannot create an empty buffer")
	}
	b := &VulkanBuffer{device: d, size: size, usage: usage}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vkUsage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := vkError("vkCreateBuffer", vk.CreateBuffer(d.LogicalDevice, &bufferInfo, d.context.Allocator, &handle)); err != nil {
		return nil, err
	}
	b.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, handle, &requirements)
	requirements.Deref()

	props := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	memoryIndex := d.context.FindMemoryIndex(requirements.MemoryTypeBits, props)
	if memoryIndex < 0 {
		b.Destroy()
		return nil, fmt.Errorf("buffer: %w: no host visible memory type", core.ErrOutOfResources)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if err := vkError("vkAllocateMemory", vk.AllocateMemory(d.LogicalDevice, &allocateInfo, d.context.Allocator, &memory)); err != nil {
		b.Destroy()
		return nil, err
	}
	b.Memory = memory

	if err := vkError("vkBindBufferMemory", vk.BindBufferMemory(d.LogicalDevice, handle, memory, 0)); err != nil {
		b.Destroy()
		return nil, err
	}

	var mapped unsafe.Pointer
	if err := vkError("vkMapMemory", vk.MapMemory(d.LogicalDevice, memory, 0, vk.DeviceSize(size), 0, &mapped)); err != nil {
		b.Destroy()
		return nil, err
	}
	b.mapped = mapped
	b.object = d.context.newObject(b)
	return b, nil
}

func (b *VulkanBuffer) Size() uint64           { return b.size }
func (b *VulkanBuffer) Usage() gpu.BufferUsage { return b.usage }

func (b *VulkanBuffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("buffer write of %d bytes at %d overflows buffer of %d bytes", len(data), offset, b.size)
	}
	if b.mapped == nil {
		return fmt.Errorf("buffer %d is not mapped", b.id)
	}
	if len(data) == 0 {
		return nil
	}
	vk.Memcopy(unsafe.Add(b.mapped, offset), data)
	return nil
}

func (b *VulkanBuffer) Destroy() {
	dev := b.device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(dev, b.Memory)
		b.mapped = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(dev, b.Handle, b.device.context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(dev, b.Memory, b.device.context.Allocator)
		b.Memory = nil
	}
	b.device.context.releaseObject(b.object)
	b.object = object{}
}
