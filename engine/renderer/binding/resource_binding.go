// Package binding describes shader-visible resources and realizes them into
// cached descriptor sets.
package binding

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

/**
 * @brief One shader-visible resource slot. The set of implementations is
 * closed: UniformBufferBinding, StorageBufferBinding, TextureBinding,
 * StorageImageBinding and InputAttachmentBinding.
 */
type ResourceBinding interface {
	SetLocation() uint32
	BindingLocation() uint32
	DescriptorType() gpu.DescriptorType

	// DescriptorSet returns the set realized for frame, or nil.
	DescriptorSet(frame uint32) gpu.DescriptorSet
	SetDescriptorSet(frame uint32, set gpu.DescriptorSet)

	// IsDirty reports whether the resource changed since the set for frame was written.
	IsDirty(frame uint32) bool
	// MarkDirty flags the binding for a rewrite in every frame in flight.
	MarkDirty()

	// WriteCount is the number of descriptor writes UpdateDescriptorSet pushes.
	WriteCount() int
	// UpdateDescriptorSet pushes one write per array element into arena, targeting
	// set at BindingLocation()+index, and clears the dirty state for frame.
	UpdateDescriptorSet(arena *WriteArena, set gpu.DescriptorSet, frame uint32) error
	// ResourceHash combines set, binding, descriptor type and resource identity.
	ResourceHash() uint64

	base() *bindingBase
}

type bindingBase struct {
	set     uint32
	binding uint32
	kind    gpu.DescriptorType
	sets    [gpu.MaxFramesInFlight]gpu.DescriptorSet
	dirty   uint8
}

func newBindingBase(set, binding uint32, kind gpu.DescriptorType) bindingBase {
	return bindingBase{set: set, binding: binding, kind: kind}
}

func (b *bindingBase) SetLocation() uint32                { return b.set }
func (b *bindingBase) BindingLocation() uint32            { return b.binding }
func (b *bindingBase) DescriptorType() gpu.DescriptorType { return b.kind }
func (b *bindingBase) base() *bindingBase                 { return b }

func (b *bindingBase) DescriptorSet(frame uint32) gpu.DescriptorSet {
	if frame >= gpu.MaxFramesInFlight {
		return nil
	}
	return b.sets[frame]
}

func (b *bindingBase) SetDescriptorSet(frame uint32, set gpu.DescriptorSet) {
	if frame < gpu.MaxFramesInFlight {
		b.sets[frame] = set
	}
}

func (b *bindingBase) IsDirty(frame uint32) bool {
	return b.dirty&(1<<frame) != 0
}

func (b *bindingBase) MarkDirty() {
	b.dirty = 1<<gpu.MaxFramesInFlight - 1
}

func (b *bindingBase) markDirtyFrame(frame uint32) {
	b.dirty |= 1 << frame
}

func (b *bindingBase) clearDirty(frame uint32) {
	b.dirty &^= 1 << frame
}

// releaseDescriptorSets forgets every realized set.
func (b *bindingBase) releaseDescriptorSets() {
	b.sets = [gpu.MaxFramesInFlight]gpu.DescriptorSet{}
}

/**
 * @brief A uniform buffer range. A dynamic binding is written once with its
 * base range; the per-draw offset travels in the bind call instead.
 */
type UniformBufferBinding struct {
	bindingBase
	buffer        gpu.Buffer
	offset        uint64
	size          uint64
	dynamicOffset uint32
}

func NewUniformBufferBinding(set, binding uint32, buffer gpu.Buffer, offset, size uint64) *UniformBufferBinding {
	return &UniformBufferBinding{
		bindingBase: newBindingBase(set, binding, gpu.DescriptorTypeUniformBuffer),
		buffer:      buffer,
		offset:      offset,
		size:        size,
	}
}

// NewDynamicUniformBufferBinding binds a ring-buffered range whose offset is chosen at bind time.
func NewDynamicUniformBufferBinding(set, binding uint32, buffer gpu.Buffer, size uint64) *UniformBufferBinding {
	return &UniformBufferBinding{
		bindingBase: newBindingBase(set, binding, gpu.DescriptorTypeUniformBufferDynamic),
		buffer:      buffer,
		size:        size,
	}
}

func (b *UniformBufferBinding) IsDynamic() bool {
	return b.kind == gpu.DescriptorTypeUniformBufferDynamic
}

func (b *UniformBufferBinding) Buffer() gpu.Buffer { return b.buffer }
func (b *UniformBufferBinding) Offset() uint64     { return b.offset }
func (b *UniformBufferBinding) Size() uint64       { return b.size }

// SetBuffer points the binding at a new range.
func (b *UniformBufferBinding) SetBuffer(buffer gpu.Buffer, offset, size uint64) {
	b.buffer, b.offset, b.size = buffer, offset, size
	b.MarkDirty()
}

// DynamicOffset is the offset passed at bind time. Only meaningful for dynamic bindings.
func (b *UniformBufferBinding) DynamicOffset() uint32 { return b.dynamicOffset }

// SetDynamicOffset selects the ring-buffer region; it never dirties the descriptor.
func (b *UniformBufferBinding) SetDynamicOffset(offset uint32) {
	b.dynamicOffset = offset
}

func (b *UniformBufferBinding) WriteCount() int { return 1 }

func (b *UniformBufferBinding) UpdateDescriptorSet(arena *WriteArena, set gpu.DescriptorSet, frame uint32) error {
	arena.Push(gpu.DescriptorWrite{
		Set:     set,
		Binding: b.binding,
		Type:    b.kind,
		Buffer:  b.buffer,
		Offset:  b.offset,
		Range:   b.size,
	})
	b.clearDirty(frame)
	return nil
}

func (b *UniformBufferBinding) ResourceHash() uint64 { return hashBinding(b) }

type StorageBufferBinding struct {
	bindingBase
	buffer gpu.Buffer
	offset uint64
	size   uint64
}

func NewStorageBufferBinding(set, binding uint32, buffer gpu.Buffer, offset, size uint64) *StorageBufferBinding {
	return &StorageBufferBinding{
		bindingBase: newBindingBase(set, binding, gpu.DescriptorTypeStorageBuffer),
		buffer:      buffer,
		offset:      offset,
		size:        size,
	}
}

func (b *StorageBufferBinding) Buffer() gpu.Buffer { return b.buffer }

func (b *StorageBufferBinding) SetBuffer(buffer gpu.Buffer, offset, size uint64) {
	b.buffer, b.offset, b.size = buffer, offset, size
	b.MarkDirty()
}

func (b *StorageBufferBinding) WriteCount() int { return 1 }

func (b *StorageBufferBinding) UpdateDescriptorSet(arena *WriteArena, set gpu.DescriptorSet, frame uint32) error {
	arena.Push(gpu.DescriptorWrite{
		Set:     set,
		Binding: b.binding,
		Type:    b.kind,
		Buffer:  b.buffer,
		Offset:  b.offset,
		Range:   b.size,
	})
	b.clearDirty(frame)
	return nil
}

func (b *StorageBufferBinding) ResourceHash() uint64 { return hashBinding(b) }

// TextureBinding samples an ordered array of textures in shader-read-only layout.
type TextureBinding struct {
	bindingBase
	textures []gpu.Texture
}

func NewTextureBinding(set, binding uint32, textures ...gpu.Texture) *TextureBinding {
	return &TextureBinding{
		bindingBase: newBindingBase(set, binding, gpu.DescriptorTypeCombinedImageSampler),
		textures:    append([]gpu.Texture(nil), textures...),
	}
}

func (b *TextureBinding) Textures() []gpu.Texture { return b.textures }

// SetTextures swaps the bound textures.
func (b *TextureBinding) SetTextures(textures ...gpu.Texture) {
	b.textures = append(b.textures[:0], textures...)
	b.MarkDirty()
}

func (b *TextureBinding) WriteCount() int { return len(b.textures) }

func (b *TextureBinding) UpdateDescriptorSet(arena *WriteArena, set gpu.DescriptorSet, frame uint32) error {
	for i, t := range b.textures {
		arena.Push(gpu.DescriptorWrite{
			Set:     set,
			Binding: b.binding + uint32(i),
			Type:    b.kind,
			View:    t.View(),
			Sampler: t.Sampler(),
			Layout:  gpu.ImageLayoutShaderReadOnlyOptimal,
		})
	}
	b.clearDirty(frame)
	return nil
}

func (b *TextureBinding) ResourceHash() uint64 { return hashBinding(b) }

/**
 * @brief Read-write access to one mip level of each texture. Every texture's
 * target mip must already be in ImageLayoutGeneral when the set is written.
 */
type StorageImageBinding struct {
	bindingBase
	textures []gpu.Texture
	mip      uint32
}

func NewStorageImageBinding(set, binding uint32, mip uint32, textures ...gpu.Texture) *StorageImageBinding {
	return &StorageImageBinding{
		bindingBase: newBindingBase(set, binding, gpu.DescriptorTypeStorageImage),
		textures:    append([]gpu.Texture(nil), textures...),
		mip:         mip,
	}
}

func (b *StorageImageBinding) Textures() []gpu.Texture { return b.textures }
func (b *StorageImageBinding) MipLevel() uint32        { return b.mip }

func (b *StorageImageBinding) SetTextures(mip uint32, textures ...gpu.Texture) {
	b.textures = append(b.textures[:0], textures...)
	b.mip = mip
	b.MarkDirty()
}

func (b *StorageImageBinding) WriteCount() int { return len(b.textures) }

func (b *StorageImageBinding) UpdateDescriptorSet(arena *WriteArena, set gpu.DescriptorSet, frame uint32) error {
	// validate everything before the first push so a failure leaves the arena untouched
	for _, t := range b.textures {
		if b.mip >= t.MipLevels() {
			return fmt.Errorf("storage image '%s' has no mip %d (set %d, binding %d)", t.Name(), b.mip, b.set, b.binding)
		}
		if l := t.Layout(b.mip); l != gpu.ImageLayoutGeneral {
			return fmt.Errorf("%w: storage image '%s' mip %d is %s, want %s (set %d, binding %d)",
				core.ErrInvalidImageLayout, t.Name(), b.mip, l, gpu.ImageLayoutGeneral, b.set, b.binding)
		}
	}
	for i, t := range b.textures {
		arena.Push(gpu.DescriptorWrite{
			Set:     set,
			Binding: b.binding + uint32(i),
			Type:    b.kind,
			View:    t.MipView(b.mip),
			Layout:  gpu.ImageLayoutGeneral,
		})
	}
	b.clearDirty(frame)
	return nil
}

func (b *StorageImageBinding) ResourceHash() uint64 { return hashBinding(b) }

// InputAttachmentBinding reads attachments written by an earlier subpass.
type InputAttachmentBinding struct {
	bindingBase
	views []gpu.ImageView
}

func NewInputAttachmentBinding(set, binding uint32, views ...gpu.ImageView) *InputAttachmentBinding {
	return &InputAttachmentBinding{
		bindingBase: newBindingBase(set, binding, gpu.DescriptorTypeInputAttachment),
		views:       append([]gpu.ImageView(nil), views...),
	}
}

func (b *InputAttachmentBinding) Views() []gpu.ImageView { return b.views }

// SetViews rebinds the attachments, e.g. after the owning target was resized.
func (b *InputAttachmentBinding) SetViews(views ...gpu.ImageView) {
	b.views = append(b.views[:0], views...)
	b.MarkDirty()
}

func (b *InputAttachmentBinding) WriteCount() int { return len(b.views) }

func (b *InputAttachmentBinding) UpdateDescriptorSet(arena *WriteArena, set gpu.DescriptorSet, frame uint32) error {
	for i, v := range b.views {
		arena.Push(gpu.DescriptorWrite{
			Set:     set,
			Binding: b.binding + uint32(i),
			Type:    b.kind,
			View:    v,
			Layout:  gpu.ImageLayoutShaderReadOnlyOptimal,
		})
	}
	b.clearDirty(frame)
	return nil
}

func (b *InputAttachmentBinding) ResourceHash() uint64 { return hashBinding(b) }
