package frame

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/umbra/engine/containers"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

const (
	DefaultBindQueueSize   = 64
	DefaultUpdateQueueSize = 256
)

type bindRequest struct {
	material binding.Material
}

type bufferUpdate struct {
	buffer gpu.Buffer
	offset uint64
	data   []byte
}

type layoutChange struct {
	texture gpu.Texture
	mip     uint32
	old     gpu.ImageLayout
}

/**
 * @brief Everything recorded for one frame in flight that must either be
 * submitted together or thrown away together.
 *
 * Uniform writes are held back until Complete so an aborted frame never
 * touches memory the GPU can see. Image layouts changed while recording
 * are journalled and restored on Abort.
 */
type FrameContext struct {
	/** @brief The frame-in-flight index, in [0, framesInFlight). */
	Index uint32
	/** @brief The swapchain image this frame renders to. */
	ImageIndex uint32
	/** @brief The primary command buffer the frame is recorded into. */
	Primary gpu.CommandBuffer

	device  gpu.Device
	binds   *containers.RingQueue[bindRequest]
	updates *containers.RingQueue[bufferUpdate]

	// Secondaries to execute with this frame's submission.
	dependencies []gpu.CommandBuffer
	// Every command buffer allocated while recording this frame.
	transients []gpu.CommandBuffer
	journal    []layoutChange
}

func NewFrameContext(device gpu.Device, index uint32) *FrameContext {
	return &FrameContext{
		Index:   index,
		device:  device,
		binds:   containers.NewRingQueue[bindRequest](DefaultBindQueueSize),
		updates: containers.NewRingQueue[bufferUpdate](DefaultUpdateQueueSize),
	}
}

func (f *FrameContext) reset(imageIndex uint32, primary gpu.CommandBuffer) {
	f.ImageIndex = imageIndex
	f.Primary = primary
	f.binds.Clear()
	f.updates.Clear()
	f.dependencies = f.dependencies[:0]
	f.transients = f.transients[:0]
	f.journal = f.journal[:0]
}

func (f *FrameContext) enqueueBind(material binding.Material) error {
	if err := f.binds.Enqueue(bindRequest{material: material}); err != nil {
		return fmt.Errorf("%w: bind queue: %w", core.ErrOutOfResources, err)
	}
	return nil
}

func (f *FrameContext) PendingBinds() int { return f.binds.Len() }

/**
 * @brief Queues a host-visible buffer write (uniforms, overlay vertices)
 * that is applied only when the frame completes. The data is copied.
 */
func (f *FrameContext) QueueBufferUpdate(buffer gpu.Buffer, offset uint64, data []byte) error {
	if buffer == nil {
		return fmt.Errorf("buffer update has no buffer")
	}
	if offset+uint64(len(data)) > buffer.Size() {
		return fmt.Errorf("%w: buffer update [%d, %d) exceeds buffer of %d bytes", core.ErrOutOfResources, offset, offset+uint64(len(data)), buffer.Size())
	}
	u := bufferUpdate{buffer: buffer, offset: offset, data: append([]byte(nil), data...)}
	if err := f.updates.Enqueue(u); err != nil {
		return fmt.Errorf("%w: update queue: %w", core.ErrOutOfResources, err)
	}
	return nil
}

func (f *FrameContext) PendingBufferUpdates() int { return f.updates.Len() }

// Track marks a command buffer as owned by this frame; Abort frees it.
func (f *FrameContext) Track(cmd gpu.CommandBuffer) {
	f.transients = append(f.transients, cmd)
}

// AddDependency registers a secondary buffer to be submitted with the frame.
func (f *FrameContext) AddDependency(cmds ...gpu.CommandBuffer) {
	f.dependencies = append(f.dependencies, cmds...)
}

func (f *FrameContext) Dependencies() []gpu.CommandBuffer { return f.dependencies }

/**
 * @brief Records a layout barrier for every mip of texture on the primary
 * command buffer and updates the tracked layout. Mips already in layout
 * are left alone.
 */
func (f *FrameContext) TransitionImage(texture gpu.Texture, layout gpu.ImageLayout) error {
	if f.Primary == nil {
		return core.ErrNilCommandBuffer
	}
	if f.Primary.State() != gpu.COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("%w: image barrier needs a recording primary outside a render pass, state is %s", core.ErrInvalidCommandBufferState, f.Primary.State())
	}
	for mip := uint32(0); mip < texture.MipLevels(); mip++ {
		old := texture.Layout(mip)
		if old == layout {
			continue
		}
		f.Primary.PipelineBarrier(texture, mip, 1, old, layout)
		f.journal = append(f.journal, layoutChange{texture: texture, mip: mip, old: old})
		texture.SetLayout(mip, layout)
	}
	return nil
}

/**
 * @brief Applies the queued buffer writes and hands back the secondary
 * buffers this frame allocated, which the caller keeps alive until the
 * GPU retires the frame.
 */
func (f *FrameContext) Complete() ([]gpu.CommandBuffer, error) {
	for !f.updates.IsEmpty() {
		u, _ := f.updates.Dequeue()
		if err := u.buffer.Write(u.offset, u.data); err != nil {
			return nil, err
		}
	}
	f.binds.Clear()
	f.journal = f.journal[:0]
	owned := append([]gpu.CommandBuffer(nil), f.transients...)
	f.transients = f.transients[:0]
	return owned, nil
}

/**
 * @brief Throws the frame away: layouts are restored, secondaries freed,
 * queued writes dropped and the primary reset. The returned error wraps
 * both ErrFrameAborted and cause.
 */
func (f *FrameContext) Abort(cause error) error {
	for i := len(f.journal) - 1; i >= 0; i-- {
		c := f.journal[i]
		c.texture.SetLayout(c.mip, c.old)
	}
	f.journal = f.journal[:0]

	if len(f.transients) > 0 {
		f.device.FreeCommandBuffers(f.transients...)
	}
	f.transients = f.transients[:0]
	f.dependencies = f.dependencies[:0]
	f.binds.Clear()
	f.updates.Clear()

	var resetErr error
	if f.Primary != nil && f.Primary.State() != gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		resetErr = f.Primary.Reset()
	}

	err := fmt.Errorf("%w: %w", core.ErrFrameAborted, cause)
	if resetErr != nil {
		err = errors.Join(err, resetErr)
	}
	core.LogError("frame %d aborted: %s", f.Index, cause.Error())
	return err
}
