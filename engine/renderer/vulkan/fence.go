package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
)

var ErrFenceTimeout = errors.New("fence wait timed out")

/**
 * @brief Host-side mirror of a VkFence. signaled tracks what the host last
 * observed so that waiting on an already signaled fence and resetting an
 * unsignaled one are free.
 */
type VulkanFence struct {
	device   *VulkanDevice
	Handle   vk.Fence
	signaled bool
}

func (d *VulkanDevice) NewFence(signaled bool) (*VulkanFence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if err := vkError("vkCreateFence", vk.CreateFence(d.LogicalDevice, &info, d.context.Allocator, &handle)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanFence{device: d, Handle: handle, signaled: signaled}, nil
}

func (f *VulkanFence) Signaled() bool { return f.signaled }

// Wait blocks until the GPU signals the fence; a timeout wraps ErrFenceTimeout.
func (f *VulkanFence) Wait(timeoutNs uint64) error {
	if f.signaled {
		return nil
	}
	switch result := vk.WaitForFences(f.device.LogicalDevice, 1, []vk.Fence{f.Handle}, vk.True, timeoutNs); result {
	case vk.Success:
		f.signaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("fence wait timed out after %dns", timeoutNs)
		return fmt.Errorf("%w after %dns", ErrFenceTimeout, timeoutNs)
	default:
		err := vkError("vkWaitForFences", result)
		core.LogError(err.Error())
		return err
	}
}

// Reset returns a signaled fence to the unsignaled state before it is handed to a submit.
func (f *VulkanFence) Reset() error {
	if !f.signaled {
		return nil
	}
	if err := vkError("vkResetFences", vk.ResetFences(f.device.LogicalDevice, 1, []vk.Fence{f.Handle})); err != nil {
		core.LogError(err.Error())
		return err
	}
	f.signaled = false
	return nil
}

func (f *VulkanFence) Destroy() {
	if f.Handle != nil {
		vk.DestroyFence(f.device.LogicalDevice, f.Handle, f.device.context.Allocator)
		f.Handle = nil
	}
	f.signaled = false
}
