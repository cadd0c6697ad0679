package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestVkError(t *testing.T) {
	assert.NoError(t, vkError("vkQueueSubmit", vk.Success))
	assert.NoError(t, vkError("vkAcquireNextImageKHR", vk.Suboptimal))

	err := vkError("vkAllocateDescriptorSets", vk.ErrorOutOfPoolMemory)
	assert.ErrorIs(t, err, core.ErrOutOfResources)
	assert.ErrorContains(t, err, "vkAllocateDescriptorSets")

	err = vkError("vkCreateDevice", vk.ErrorDeviceLost)
	assert.NotErrorIs(t, err, core.ErrOutOfResources)
	assert.ErrorContains(t, err, "VK_ERROR_DEVICE_LOST")
	assert.Equal(t, "VkResult(-12345)", VulkanResultString(vk.Result(-12345)))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	assert.Equal(t, []string{"a\x00", "b\x00"}, VulkanSafeStrings([]string{"a", "b\x00"}))
	assert.Equal(t, "llvmpipe", cString([]byte{'l', 'l', 'v', 'm', 'p', 'i', 'p', 'e', 0, 0, 'x'}))
	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte{1, 2, 3}))
}

func TestRepackUint32(t *testing.T) {
	words := repackUint32([]byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00})
	assert.Equal(t, []uint32{0x07230203, 0x00010000}, words)
}
