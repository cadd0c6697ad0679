package binding

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"golang.org/x/exp/slices"
)

// Material is anything that owns bindings and the layout they are bound against.
type Material interface {
	Bindings() *BindingCollection
	PipelineLayout() gpu.PipelineLayout
}

type cacheKey struct {
	layout      uint64
	set         uint32
	fingerprint uint64
	frame       uint32
}

type Stats struct {
	CacheHits   uint64
	CacheMisses uint64
	// Number of ResourceBinding.UpdateDescriptorSet calls.
	DescriptorUpdates uint64
	// Number of BindDescriptorSets calls recorded.
	BindCalls uint64
}

/**
 * @brief Realizes binding collections into descriptor sets and binds them.
 * Sets are cached by (pipeline layout, set index, fingerprint, frame); entries
 * are never evicted, a changed resource simply misses. Sets that failed to
 * write, or were replaced while the recording still referenced them, go back
 * to a free list once no frame can read them.
 * Owned by a single render thread.
 */
type BindingManager struct {
	device         gpu.Device
	pool           gpu.DescriptorPool
	framesInFlight uint32

	cache map[cacheKey]gpu.DescriptorSet
	arena *WriteArena
	batch []gpu.DescriptorSet
	stats Stats

	// unused sets by set layout ID, handed out before the pool is asked
	free map[uint64][]gpu.DescriptorSet
	// replaced sets the last recording of that frame still references
	retired [gpu.MaxFramesInFlight][]gpu.DescriptorSet
	// IDs of the sets bound by the recording in progress
	bound map[uint64]struct{}
	// groups assigned a set, by set ID
	holders map[uint64][]*PerSetBindings
}

func NewBindingManager(device gpu.Device, pool gpu.DescriptorPool, framesInFlight uint32) *BindingManager {
	return &BindingManager{
		device:         device,
		pool:           pool,
		framesInFlight: framesInFlight,
		cache:          make(map[cacheKey]gpu.DescriptorSet),
		arena:          NewWriteArena(DefaultArenaCapacity),
		batch:          make([]gpu.DescriptorSet, 0, 4),
		free:           make(map[uint64][]gpu.DescriptorSet),
		bound:          make(map[uint64]struct{}),
		holders:        make(map[uint64][]*PerSetBindings),
	}
}

func (m *BindingManager) Stats() Stats           { return m.stats }
func (m *BindingManager) CacheSize() int         { return len(m.cache) }
func (m *BindingManager) ResetStats()            { m.stats = Stats{} }
func (m *BindingManager) FramesInFlight() uint32 { return m.framesInFlight }

// FreeSets is the number of allocated sets waiting to be reused.
func (m *BindingManager) FreeSets() int {
	n := 0
	for _, sets := range m.free {
		n += len(sets)
	}
	return n
}

/**
 * @brief Starts a new recording of frame. The GPU has finished the previous
 * use of frame, so sets replaced during it are unhooked from the collections
 * still holding them and become reusable.
 */
func (m *BindingManager) BeginFrame(frame uint32) {
	clear(m.bound)
	if frame >= gpu.MaxFramesInFlight {
		return
	}
	for _, ds := range m.retired[frame] {
		m.forget(ds, frame)
		m.release(ds)
	}
	m.retired[frame] = m.retired[frame][:0]
}

/**
 * @brief Makes sure every set of the material's collection has a written
 * descriptor set for frameIndex and binds them on cmd. Contiguous set indices
 * go out in a single BindDescriptorSets call carrying their dynamic offsets.
 * @param material The material to bind.
 * @param cmd A command buffer in the recording state.
 * @param frameIndex The frame in flight being recorded.
 * @returns An error wrapping core.ErrOutOfResources when the pool is exhausted;
 * the frame should be abandoned.
 */
func (m *BindingManager) BindResourcesForMaterial(material Material, cmd gpu.CommandBuffer, frameIndex uint32) error {
	if cmd == nil || cmd.State() == gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return fmt.Errorf("bind resources: %w", core.ErrNilCommandBuffer)
	}
	if !cmd.State().IsRecording() {
		return fmt.Errorf("bind resources: %w: command buffer is %s", core.ErrInvalidCommandBufferState, cmd.State())
	}
	if frameIndex >= m.framesInFlight {
		return fmt.Errorf("bind resources: %w: frame %d with %d frames in flight", core.ErrFrameIndexOutOfRange, frameIndex, m.framesInFlight)
	}
	if material == nil || material.Bindings() == nil {
		return nil
	}
	layout := material.PipelineLayout()
	if layout == nil {
		return fmt.Errorf("bind resources: material has no pipeline layout")
	}

	collection := material.Bindings()
	offsets := collection.DynamicOffsets()

	sets := m.batch[:0]
	var first, prev uint32
	dynStart, dynEnd := 0, 0
	for _, group := range collection.sets {
		if group.Len() == 0 {
			continue
		}
		ds, err := m.realize(layout, group, frameIndex)
		if err != nil {
			return err
		}
		m.bound[ds.ID()] = struct{}{}
		if len(sets) > 0 && group.set != prev+1 {
			cmd.BindDescriptorSets(layout, first, sets, offsets[dynStart:dynEnd])
			m.stats.BindCalls++
			sets = sets[:0]
			dynStart = dynEnd
		}
		if len(sets) == 0 {
			first = group.set
		}
		sets = append(sets, ds)
		dynEnd += collection.DynamicOffsetCount(group.set)
		prev = group.set
	}
	if len(sets) > 0 {
		cmd.BindDescriptorSets(layout, first, sets, offsets[dynStart:dynEnd])
		m.stats.BindCalls++
	}
	m.batch = sets[:0]
	return nil
}

// realize returns the descriptor set for group at frame, writing or allocating it as needed.
func (m *BindingManager) realize(layout gpu.PipelineLayout, group *PerSetBindings, frame uint32) (gpu.DescriptorSet, error) {
	if !group.NeedToUpdate(frame) {
		return group.bindings[0].DescriptorSet(frame), nil
	}

	fp := ComputeFingerprint(group)
	key := cacheKey{layout: layout.ID(), set: group.set, fingerprint: fp.Hash, frame: frame}

	if ds, ok := m.cache[key]; ok {
		dirty := false
		for _, b := range group.bindings {
			if b.IsDirty(frame) {
				dirty = true
				break
			}
		}
		if !dirty {
			m.stats.CacheHits++
			m.assign(group, frame, ds)
			return ds, nil
		}
		if _, inUse := m.bound[ds.ID()]; !inUse {
			// same resources, changed contents: rewrite the dirty slots in place
			if err := m.write(group, ds, frame, true); err != nil {
				return nil, err
			}
			m.stats.CacheMisses++
			m.assign(group, frame, ds)
			return ds, nil
		}
		// the recording already references ds, updating it would invalidate the command buffer
		fresh, err := m.allocate(ds.Layout(), group.set, frame)
		if err != nil {
			return nil, err
		}
		if err := m.write(group, fresh, frame, false); err != nil {
			m.release(fresh)
			return nil, err
		}
		m.cache[key] = fresh
		m.retired[frame] = append(m.retired[frame], ds)
		m.stats.CacheMisses++
		core.LogDebug("descriptor set %d replaced while bound (%s, frame=%d)", ds.ID(), fp, frame)
		m.assign(group, frame, fresh)
		return fresh, nil
	}

	setLayout := layout.SetLayout(group.set)
	if setLayout == nil {
		err := fmt.Errorf("%w: pipeline layout has no descriptor set %d", core.ErrSetMismatch, group.set)
		core.LogError(err.Error())
		return nil, err
	}
	ds, err := m.allocate(setLayout, group.set, frame)
	if err != nil {
		return nil, err
	}
	if err := m.write(group, ds, frame, false); err != nil {
		m.release(ds)
		return nil, err
	}
	m.cache[key] = ds
	m.stats.CacheMisses++
	core.LogDebug("descriptor set cache miss (%s, frame=%d)", fp, frame)
	m.assign(group, frame, ds)
	return ds, nil
}

// allocate takes a free set of layout, falling back to the pool.
func (m *BindingManager) allocate(layout gpu.DescriptorSetLayout, set, frame uint32) (gpu.DescriptorSet, error) {
	if free := m.free[layout.ID()]; len(free) > 0 {
		ds := free[len(free)-1]
		m.free[layout.ID()] = free[:len(free)-1]
		return ds, nil
	}
	ds, err := m.pool.Allocate(layout)
	if err != nil {
		err = fmt.Errorf("allocate descriptor set %d (frame %d): %w", set, frame, err)
		core.LogError(err.Error())
		return nil, err
	}
	return ds, nil
}

func (m *BindingManager) release(ds gpu.DescriptorSet) {
	id := ds.Layout().ID()
	m.free[id] = append(m.free[id], ds)
}

func (m *BindingManager) assign(group *PerSetBindings, frame uint32, ds gpu.DescriptorSet) {
	if holders := m.holders[ds.ID()]; !slices.Contains(holders, group) {
		m.holders[ds.ID()] = append(holders, group)
	}
	group.assign(frame, ds)
}

// forget clears ds from the frame slot of every binding still holding it.
func (m *BindingManager) forget(ds gpu.DescriptorSet, frame uint32) {
	for _, group := range m.holders[ds.ID()] {
		for _, b := range group.bindings {
			if held := b.DescriptorSet(frame); held != nil && held.ID() == ds.ID() {
				b.SetDescriptorSet(frame, nil)
			}
		}
	}
	delete(m.holders, ds.ID())
}

// write realizes the bindings of group into ds with a single device update.
// A failing binding leaves ds unwritten and every binding as dirty as before.
func (m *BindingManager) write(group *PerSetBindings, ds gpu.DescriptorSet, frame uint32, dirtyOnly bool) error {
	m.arena.Reset()
	m.arena.Reserve(group.MaxWriteCount())

	var updated []ResourceBinding
	for _, b := range group.bindings {
		if dirtyOnly && !b.IsDirty(frame) {
			continue
		}
		wasDirty := b.IsDirty(frame)
		if err := b.UpdateDescriptorSet(m.arena, ds, frame); err != nil {
			for _, u := range updated {
				u.base().markDirtyFrame(frame)
			}
			m.arena.Reset()
			core.LogError(err.Error())
			return err
		}
		if wasDirty {
			updated = append(updated, b)
		}
		m.stats.DescriptorUpdates++
	}
	if m.arena.Len() > 0 {
		m.device.UpdateDescriptorSets(m.arena.Writes())
	}
	m.arena.Reset()
	return nil
}

// CacheEntries returns the cached set count per set index, ordered by set.
func (m *BindingManager) CacheEntries() ([]uint32, map[uint32]int) {
	counts := make(map[uint32]int)
	for k := range m.cache {
		counts[k.set]++
	}
	sets := make([]uint32, 0, len(counts))
	for set := range counts {
		sets = append(sets, set)
	}
	slices.Sort(sets)
	return sets, counts
}

/**
 * @brief Empties the cache and resets the pool. Every collection bound
 * through the manager forgets its sets and realizes new ones on its next
 * bind. The device must be idle.
 */
func (m *BindingManager) Reset() error {
	for _, groups := range m.holders {
		for _, group := range groups {
			for _, b := range group.bindings {
				b.base().releaseDescriptorSets()
			}
		}
	}
	clear(m.holders)
	clear(m.cache)
	clear(m.free)
	clear(m.bound)
	for i := range m.retired {
		m.retired[i] = nil
	}
	if err := m.pool.Reset(); err != nil {
		core.LogError(err.Error())
		return err
	}
	return nil
}
