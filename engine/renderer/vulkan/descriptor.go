package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type VulkanDescriptorSetLayout struct {
	object
	device   *VulkanDevice
	Handle   vk.DescriptorSetLayout
	bindings []gpu.DescriptorSetLayoutBinding
}

func (d *VulkanDevice) NewDescriptorSetLayout(bindings []gpu.DescriptorSetLayoutBinding) (gpu.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vkDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      vkShaderStages(b.Stages),
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var handle vk.DescriptorSetLayout
	if err := vkError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.LogicalDevice, &layoutInfo, d.context.Allocator, &handle)); err != nil {
		return nil, err
	}
	l := &VulkanDescriptorSetLayout{
		device:   d,
		Handle:   handle,
		bindings: append([]gpu.DescriptorSetLayoutBinding(nil), bindings...),
	}
	l.object = d.context.newObject(l)
	return l, nil
}

func (l *VulkanDescriptorSetLayout) Bindings() []gpu.DescriptorSetLayoutBinding { return l.bindings }

func (l *VulkanDescriptorSetLayout) Destroy() {
	if l.Handle != nil {
		vk.DestroyDescriptorSetLayout(l.device.LogicalDevice, l.Handle, l.device.context.Allocator)
		l.Handle = nil
	}
	l.device.context.releaseObject(l.object)
}

type VulkanDescriptorSet struct {
	object
	Handle vk.DescriptorSet
	layout *VulkanDescriptorSetLayout
}

func (s *VulkanDescriptorSet) Layout() gpu.DescriptorSetLayout { return s.layout }

/**
 * @brief A descriptor pool. Allocation failures caused by exhaustion or
 * fragmentation wrap core.ErrOutOfResources.
 */
type VulkanDescriptorPool struct {
	object
	device *VulkanDevice
	Handle vk.DescriptorPool
	sets   []*VulkanDescriptorSet
}

func (d *VulkanDevice) NewDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            vkDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var handle vk.DescriptorPool
	if err := vkError("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.LogicalDevice, &poolInfo, d.context.Allocator, &handle)); err != nil {
		return nil, err
	}
	p := &VulkanDescriptorPool{device: d, Handle: handle}
	p.object = d.context.newObject(p)
	return p, nil
}

func (p *VulkanDescriptorPool) Allocate(layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	l, ok := layout.(*VulkanDescriptorSetLayout)
	if !ok || l == nil {
		return nil, fmt.Errorf("descriptor pool %d: layout is not a vulkan layout", p.id)
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l.Handle},
	}
	handles := make([]vk.DescriptorSet, 1)
	err := p.device.context.locks.SafeCall(DescriptorManagement, func() error {
		return vkError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(p.device.LogicalDevice, &allocInfo, &handles[0]))
	})
	if err != nil {
		return nil, err
	}
	s := &VulkanDescriptorSet{Handle: handles[0], layout: l}
	s.object = p.device.context.newObject(s)
	p.sets = append(p.sets, s)
	return s, nil
}

// Reset returns every set to the pool. Sets allocated before are invalid afterwards.
func (p *VulkanDescriptorPool) Reset() error {
	err := p.device.context.locks.SafeCall(DescriptorManagement, func() error {
		return vkError("vkResetDescriptorPool", vk.ResetDescriptorPool(p.device.LogicalDevice, p.Handle, 0))
	})
	p.releaseSets()
	return err
}

func (p *VulkanDescriptorPool) releaseSets() {
	for _, s := range p.sets {
		p.device.context.releaseObject(s.object)
	}
	p.sets = nil
}

func (p *VulkanDescriptorPool) Destroy() {
	p.releaseSets()
	if p.Handle != nil {
		vk.DestroyDescriptorPool(p.device.LogicalDevice, p.Handle, p.device.context.Allocator)
		p.Handle = nil
	}
	p.device.context.releaseObject(p.object)
}

/**
 * @brief Applies descriptor writes in one vkUpdateDescriptorSets call.
 * Writes naming objects of another backend are skipped with an error log.
 */
func (d *VulkanDevice) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, ok := w.Set.(*VulkanDescriptorSet)
		if !ok || set == nil {
			core.LogError("descriptor write to binding %d skipped: set is not a vulkan set", w.Binding)
			continue
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.Handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  vkDescriptorType(w.Type),
			DescriptorCount: 1,
		}
		switch w.Type {
		case gpu.DescriptorTypeUniformBuffer, gpu.DescriptorTypeUniformBufferDynamic, gpu.DescriptorTypeStorageBuffer:
			buffer, ok := w.Buffer.(*VulkanBuffer)
			if !ok || buffer == nil {
				core.LogError("descriptor write to binding %d skipped: buffer is not a vulkan buffer", w.Binding)
				continue
			}
			rng := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buffer.Handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  rng,
			}}
		default:
			view, ok := w.View.(*VulkanImageView)
			if !ok || view == nil {
				core.LogError("descriptor write to binding %d skipped: view is not a vulkan view", w.Binding)
				continue
			}
			info := vk.DescriptorImageInfo{
				ImageView:   view.Handle,
				ImageLayout: vkImageLayout(w.Layout),
			}
			if sampler, ok := w.Sampler.(*VulkanSampler); ok && sampler != nil {
				info.Sampler = sampler.Handle
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		}
		vkWrites = append(vkWrites, write)
	}
	if len(vkWrites) == 0 {
		return
	}
	vk.UpdateDescriptorSets(d.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
}
