package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	// A binding was handed to a collection that owns a different descriptor set index.
	ErrSetMismatch = errors.New("binding set location does not match the owning set")
	// A descriptor write needed an image layout the image is not in (missing barrier upstream).
	ErrInvalidImageLayout = errors.New("image is not in the required layout")
	// The descriptor pool (or another fixed GPU budget) has no room left.
	ErrOutOfResources = errors.New("out of gpu resources")
	// A mutating call was handed a nil or unallocated command buffer.
	ErrNilCommandBuffer = errors.New("command buffer is nil or not allocated")
	// A command was recorded while the command buffer was in the wrong state.
	ErrInvalidCommandBufferState = errors.New("command buffer is in an invalid state for this call")
	// A frame index at or beyond the number of frames in flight.
	ErrFrameIndexOutOfRange = errors.New("frame index out of range")
	// Recording of the current frame was abandoned before submission.
	ErrFrameAborted = errors.New("frame recording aborted")
)
