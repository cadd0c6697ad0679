package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
)

/**
 * @brief State shared by every Vulkan object the backend creates: the
 * instance, the presentation surface, the selected device and the
 * identifier pool every gpu.Object draws its ID from.
 */
type VulkanContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32
	// Bumped on every resize. A swapchain built at an older generation is stale.
	FramebufferSizeGeneration uint64
	// The generation the current swapchain was built at.
	FramebufferSizeLastGeneration uint64

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	ids   *core.IdentifierPool
	locks *VulkanLockPool
}

func newContext() *VulkanContext {
	return &VulkanContext{
		ids:   core.NewIdentifierPool(),
		locks: NewVulkanLockPool(),
	}
}

// object is the identity embedded in every backend resource.
type object struct {
	id uint64
}

func (o object) ID() uint64 { return o.id }

func (vc *VulkanContext) newObject(owner interface{}) object {
	return object{id: vc.ids.AcquireNewID(owner)}
}

func (vc *VulkanContext) releaseObject(o object) {
	if o.id == 0 {
		return
	}
	if err := vc.ids.ReleaseID(o.id); err != nil {
		core.LogDebug("release object %d: %s", o.id, err.Error())
	}
}

// FindMemoryIndex returns the first memory type allowed by typeFilter with all of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
