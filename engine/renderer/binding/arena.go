package binding

import "github.com/spaghettifunk/umbra/engine/renderer/gpu"

// DefaultArenaCapacity covers the largest descriptor fan-out of the built-in passes.
const DefaultArenaCapacity = 32

/**
 * @brief Reusable scratch space for descriptor writes. One arena is filled per
 * descriptor set and flushed with a single UpdateDescriptorSets call.
 */
type WriteArena struct {
	writes []gpu.DescriptorWrite
}

func NewWriteArena(capacity int) *WriteArena {
	if capacity <= 0 {
		capacity = DefaultArenaCapacity
	}
	return &WriteArena{writes: make([]gpu.DescriptorWrite, 0, capacity)}
}

// Reserve grows the backing store so that n more writes fit without reallocating.
func (a *WriteArena) Reserve(n int) {
	if need := len(a.writes) + n; need > cap(a.writes) {
		grown := make([]gpu.DescriptorWrite, len(a.writes), need)
		copy(grown, a.writes)
		a.writes = grown
	}
}

func (a *WriteArena) Push(w gpu.DescriptorWrite) {
	a.writes = append(a.writes, w)
}

func (a *WriteArena) Len() int { return len(a.writes) }
func (a *WriteArena) Cap() int { return cap(a.writes) }

// Writes is valid until the next Reset.
func (a *WriteArena) Writes() []gpu.DescriptorWrite { return a.writes }

// Reset drops the writes but keeps the storage.
func (a *WriteArena) Reset() {
	clear(a.writes)
	a.writes = a.writes[:0]
}
