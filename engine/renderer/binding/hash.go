package binding

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type hasher struct {
	buf [8]byte
	h   hash.Hash64
}

func newHasher() *hasher {
	return &hasher{h: fnv.New64a()}
}

func (h *hasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.h.Write(h.buf[:])
}

func (h *hasher) id(o gpu.Object) {
	if o == nil {
		h.u64(0)
		return
	}
	h.u64(o.ID())
}

// hashBinding hashes the identity of what b points at, never the contents.
func hashBinding(b ResourceBinding) uint64 {
	h := newHasher()
	h.u64(uint64(b.SetLocation()))
	h.u64(uint64(b.BindingLocation()))
	h.u64(uint64(b.DescriptorType()))

	switch r := b.(type) {
	case *UniformBufferBinding:
		h.id(r.buffer)
		if !r.IsDynamic() {
			h.u64(r.offset)
		}
		h.u64(r.size)
	case *StorageBufferBinding:
		h.id(r.buffer)
		h.u64(r.offset)
		h.u64(r.size)
	case *TextureBinding:
		h.u64(uint64(len(r.textures)))
		for _, t := range r.textures {
			h.id(t)
		}
	case *StorageImageBinding:
		h.u64(uint64(r.mip))
		h.u64(uint64(len(r.textures)))
		for _, t := range r.textures {
			h.id(t)
		}
	case *InputAttachmentBinding:
		h.u64(uint64(len(r.views)))
		for _, v := range r.views {
			h.id(v)
		}
	default:
		panic(fmt.Sprintf("binding: unknown resource binding %T", b))
	}
	return h.h.Sum64()
}

// BindingFingerprint identifies the resources realized into one descriptor set.
type BindingFingerprint struct {
	Set  uint32
	Hash uint64
}

func (f BindingFingerprint) String() string {
	return fmt.Sprintf("set=%d hash=%016x", f.Set, f.Hash)
}

// ComputeFingerprint folds every binding's ResourceHash in binding order.
func ComputeFingerprint(group *PerSetBindings) BindingFingerprint {
	h := newHasher()
	h.u64(uint64(group.set))
	for _, b := range group.bindings {
		h.u64(b.ResourceHash())
	}
	return BindingFingerprint{Set: group.set, Hash: h.h.Sum64()}
}
