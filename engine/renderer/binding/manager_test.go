package binding

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMaterial struct {
	bindings *BindingCollection
	layout   gpu.PipelineLayout
}

func (m *testMaterial) Bindings() *BindingCollection       { return m.bindings }
func (m *testMaterial) PipelineLayout() gpu.PipelineLayout { return m.layout }

type fixture struct {
	device  *gputest.Device
	pool    gpu.DescriptorPool
	manager *BindingManager
	cmd     *gputest.CommandBuffer
}

func (f *fixture) allocated() uint32 {
	return f.pool.(*gputest.DescriptorPool).Allocated
}

func newFixture(t *testing.T, poolSize uint32) *fixture {
	d := gputest.NewDevice()
	pool, err := d.NewDescriptorPool(poolSize, nil)
	require.NoError(t, err)
	cmd := d.NewCommandBuffer(gpu.CommandBufferLevelPrimary)
	require.NoError(t, cmd.Begin(nil))
	return &fixture{device: d, pool: pool, manager: NewBindingManager(d, pool, 2), cmd: cmd}
}

func (f *fixture) material(setCount int, bindings ...ResourceBinding) *testMaterial {
	c := NewBindingCollection()
	for _, b := range bindings {
		if err := c.Add(b); err != nil {
			panic(err)
		}
	}
	return &testMaterial{bindings: c, layout: f.device.PipelineLayoutWithSets(setCount)}
}

func TestBindTwiceInOneFrameWritesOnce(t *testing.T) {
	f := newFixture(t, 8)
	tex := newTexture(f.device, "albedo", 1)
	m := f.material(1, NewTextureBinding(0, 0, tex))

	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))

	assert.Equal(t, uint64(1), f.manager.Stats().DescriptorUpdates)
	assert.Equal(t, 1, f.device.UpdateCalls)
	assert.Equal(t, 1, f.manager.CacheSize())

	binds := f.cmd.Find(gputest.OpBindDescriptorSets)
	require.Len(t, binds, 2)
	assert.Same(t, binds[0].Sets[0], binds[1].Sets[0])
}

func TestMarkDirtyForcesExactlyOneUpdate(t *testing.T) {
	f := newFixture(t, 8)
	buf := newBuffer(t, f.device)
	ub := NewUniformBufferBinding(0, 0, buf, 0, 64)
	tb := NewTextureBinding(0, 1, newTexture(f.device, "t", 1))
	m := f.material(1, ub, tb)

	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	base := f.manager.Stats().DescriptorUpdates
	assert.Equal(t, uint64(2), base)

	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Equal(t, base, f.manager.Stats().DescriptorUpdates)

	f.manager.BeginFrame(0)
	ub.MarkDirty()
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Equal(t, base+1, f.manager.Stats().DescriptorUpdates)

	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Equal(t, base+1, f.manager.Stats().DescriptorUpdates)

	// rewritten in place, no new set was allocated
	assert.Equal(t, 1, f.manager.CacheSize())
}

func TestFramesInFlightHaveTheirOwnSets(t *testing.T) {
	f := newFixture(t, 8)
	m := f.material(1, NewTextureBinding(0, 0, newTexture(f.device, "t", 1)))

	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 1))
	assert.Equal(t, 2, f.manager.CacheSize())

	group := m.bindings.Get(0)
	assert.NotNil(t, group.DescriptorSet(0))
	assert.NotNil(t, group.DescriptorSet(1))
	assert.NotEqual(t, group.DescriptorSet(0).ID(), group.DescriptorSet(1).ID())

	err := f.manager.BindResourcesForMaterial(m, f.cmd, 2)
	assert.True(t, errors.Is(err, core.ErrFrameIndexOutOfRange))
}

func TestSharedFingerprintHitsCache(t *testing.T) {
	f := newFixture(t, 8)
	tex := newTexture(f.device, "shared", 1)
	a := f.material(1, NewTextureBinding(0, 0, tex))
	b := &testMaterial{bindings: NewBindingCollection(), layout: a.layout}
	require.NoError(t, b.bindings.Add(NewTextureBinding(0, 0, tex)))

	require.NoError(t, f.manager.BindResourcesForMaterial(a, f.cmd, 0))
	require.NoError(t, f.manager.BindResourcesForMaterial(b, f.cmd, 0))

	s := f.manager.Stats()
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.Equal(t, uint64(1), s.CacheHits)
	assert.Equal(t, uint64(1), s.DescriptorUpdates)
	assert.Same(t, a.bindings.Get(0).DescriptorSet(0), b.bindings.Get(0).DescriptorSet(0))
}

func TestSwappedResourceMissesCache(t *testing.T) {
	f := newFixture(t, 8)
	tb := NewTextureBinding(0, 0, newTexture(f.device, "a", 1))
	m := f.material(1, tb)

	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	first := m.bindings.Get(0).DescriptorSet(0)

	tb.SetTextures(newTexture(f.device, "b", 1))
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	second := m.bindings.Get(0).DescriptorSet(0)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, f.manager.CacheSize())
	assert.Equal(t, uint64(2), f.manager.Stats().CacheMisses)
}

func TestContiguousSetsAreBatched(t *testing.T) {
	f := newFixture(t, 8)
	buf := newBuffer(t, f.device)

	d0 := NewDynamicUniformBufferBinding(0, 0, buf, 64)
	d0.SetDynamicOffset(64)
	d1 := NewDynamicUniformBufferBinding(1, 0, buf, 64)
	d1.SetDynamicOffset(128)
	d3 := NewDynamicUniformBufferBinding(3, 1, buf, 64)
	d3.SetDynamicOffset(192)
	m := f.material(4,
		d3,
		NewStorageBufferBinding(3, 0, buf, 0, 64),
		d1,
		d0,
		NewTextureBinding(1, 1, newTexture(f.device, "t", 1)),
	)

	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	binds := f.cmd.Find(gputest.OpBindDescriptorSets)
	require.Len(t, binds, 2)

	assert.Equal(t, uint32(0), binds[0].FirstSet)
	assert.Len(t, binds[0].Sets, 2)
	assert.Equal(t, []uint32{64, 128}, binds[0].DynamicOffsets)

	assert.Equal(t, uint32(3), binds[1].FirstSet)
	assert.Len(t, binds[1].Sets, 1)
	assert.Equal(t, []uint32{192}, binds[1].DynamicOffsets)
	assert.Equal(t, uint64(2), f.manager.Stats().BindCalls)

	// offsets change without touching descriptors
	d1.SetDynamicOffset(1024)
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	binds = f.cmd.Find(gputest.OpBindDescriptorSets)
	assert.Equal(t, []uint32{64, 1024}, binds[2].DynamicOffsets)
	assert.Equal(t, uint64(5), f.manager.Stats().DescriptorUpdates)
}

func TestPoolExhaustionIsOutOfResources(t *testing.T) {
	f := newFixture(t, 1)
	m := f.material(2,
		NewTextureBinding(0, 0, newTexture(f.device, "a", 1)),
		NewTextureBinding(1, 0, newTexture(f.device, "b", 1)),
	)

	err := f.manager.BindResourcesForMaterial(m, f.cmd, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrOutOfResources))
	assert.Equal(t, 0, f.cmd.Count(gputest.OpBindDescriptorSets))
}

func TestStorageImageFailureLeavesSetUnwritten(t *testing.T) {
	f := newFixture(t, 8)
	tex := newTexture(f.device, "storage", 2)
	tex.SetLayout(1, gpu.ImageLayoutColorAttachmentOptimal)
	buf := newBuffer(t, f.device)
	ub := NewUniformBufferBinding(0, 0, buf, 0, 64)
	ub.MarkDirty()
	m := f.material(1, ub, NewStorageImageBinding(0, 1, 1, tex))

	err := f.manager.BindResourcesForMaterial(m, f.cmd, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidImageLayout))
	assert.Empty(t, f.device.Writes)
	assert.Equal(t, 0, f.manager.CacheSize())
	assert.True(t, ub.IsDirty(0))

	tex.SetLayout(1, gpu.ImageLayoutGeneral)
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Len(t, f.device.Writes, 2)
}

func TestBindPreconditions(t *testing.T) {
	f := newFixture(t, 8)
	m := f.material(1, NewTextureBinding(0, 0, newTexture(f.device, "t", 1)))

	err := f.manager.BindResourcesForMaterial(m, nil, 0)
	assert.True(t, errors.Is(err, core.ErrNilCommandBuffer))

	idle := f.device.NewCommandBuffer(gpu.CommandBufferLevelSecondary)
	err = f.manager.BindResourcesForMaterial(m, idle, 0)
	assert.True(t, errors.Is(err, core.ErrInvalidCommandBufferState))

	f.device.FreeCommandBuffers(idle)
	err = f.manager.BindResourcesForMaterial(m, idle, 0)
	assert.True(t, errors.Is(err, core.ErrNilCommandBuffer))

	missing := f.material(1, NewTextureBinding(2, 0, newTexture(f.device, "t", 1)))
	err = f.manager.BindResourcesForMaterial(missing, f.cmd, 0)
	assert.True(t, errors.Is(err, core.ErrSetMismatch))
}

func TestRemovalInvalidatesRealizedSet(t *testing.T) {
	f := newFixture(t, 8)
	buf := newBuffer(t, f.device)
	m := f.material(1,
		NewStorageBufferBinding(0, 0, buf, 0, 16),
		NewStorageBufferBinding(0, 1, buf, 16, 16),
	)
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.False(t, m.bindings.Get(0).NeedToUpdate(0))

	require.True(t, m.bindings.Remove(0, 1))
	assert.True(t, m.bindings.Get(0).NeedToUpdate(0))
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Equal(t, 2, f.manager.CacheSize())
}

func TestResetDropsCache(t *testing.T) {
	f := newFixture(t, 1)
	m := f.material(1, NewTextureBinding(0, 0, newTexture(f.device, "t", 1)))
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))

	require.NoError(t, f.manager.Reset())
	assert.Equal(t, 0, f.manager.CacheSize())
	assert.True(t, m.bindings.Get(0).NeedToUpdate(0))
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))

	sets, counts := f.manager.CacheEntries()
	assert.Equal(t, []uint32{0}, sets)
	assert.Equal(t, 1, counts[0])
}

func TestFailedWritesReuseTheirSet(t *testing.T) {
	f := newFixture(t, 2)
	tex := newTexture(f.device, "storage", 2)
	tex.SetLayout(1, gpu.ImageLayoutColorAttachmentOptimal)
	buf := newBuffer(t, f.device)
	m := f.material(1, NewUniformBufferBinding(0, 0, buf, 0, 64), NewStorageImageBinding(0, 1, 1, tex))

	for i := 0; i < 10; i++ {
		err := f.manager.BindResourcesForMaterial(m, f.cmd, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrInvalidImageLayout))
		assert.False(t, errors.Is(err, core.ErrOutOfResources))
	}
	assert.Equal(t, uint32(1), f.allocated())
	assert.Equal(t, 1, f.manager.FreeSets())
	assert.Equal(t, 0, f.manager.CacheSize())

	tex.SetLayout(1, gpu.ImageLayoutGeneral)
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Equal(t, uint32(1), f.allocated())
	assert.Equal(t, 0, f.manager.FreeSets())
	assert.Equal(t, 1, f.manager.CacheSize())

	other := f.material(1, NewTextureBinding(0, 0, newTexture(f.device, "t", 1)))
	require.NoError(t, f.manager.BindResourcesForMaterial(other, f.cmd, 0))
	assert.Equal(t, uint32(2), f.allocated())
}

func TestDirtySetBoundThisFrameIsReplaced(t *testing.T) {
	f := newFixture(t, 8)
	tb := NewTextureBinding(0, 0, newTexture(f.device, "t", 1))
	m := f.material(1, tb)

	f.manager.BeginFrame(0)
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	first := m.bindings.Get(0).DescriptorSet(0)

	tb.MarkDirty()
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	second := m.bindings.Get(0).DescriptorSet(0)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 1, f.manager.CacheSize())
	assert.Equal(t, uint32(2), f.allocated())

	binds := f.cmd.Find(gputest.OpBindDescriptorSets)
	require.Len(t, binds, 2)
	assert.Equal(t, first.ID(), binds[0].Sets[0].ID())
	assert.Equal(t, second.ID(), binds[1].Sets[0].ID())

	// next recording of frame 0: second is not bound yet and is rewritten in place
	f.manager.BeginFrame(0)
	assert.Equal(t, 1, f.manager.FreeSets())
	tb.MarkDirty()
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Equal(t, second.ID(), m.bindings.Get(0).DescriptorSet(0).ID())

	// replaced again within the recording, this time from the free list
	tb.MarkDirty()
	require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
	assert.Equal(t, first.ID(), m.bindings.Get(0).DescriptorSet(0).ID())
	assert.Equal(t, uint32(2), f.allocated())
	assert.Equal(t, 0, f.manager.FreeSets())
}

func TestRecycledSetIsForgottenBySharers(t *testing.T) {
	f := newFixture(t, 8)
	tex := newTexture(f.device, "shared", 1)
	ta := NewTextureBinding(0, 0, tex)
	a := f.material(1, ta)
	b := &testMaterial{bindings: NewBindingCollection(), layout: a.layout}
	require.NoError(t, b.bindings.Add(NewTextureBinding(0, 0, tex)))

	f.manager.BeginFrame(0)
	require.NoError(t, f.manager.BindResourcesForMaterial(a, f.cmd, 0))
	require.NoError(t, f.manager.BindResourcesForMaterial(b, f.cmd, 0))
	old := b.bindings.Get(0).DescriptorSet(0)

	ta.MarkDirty()
	require.NoError(t, f.manager.BindResourcesForMaterial(a, f.cmd, 0))
	fresh := a.bindings.Get(0).DescriptorSet(0)
	assert.NotEqual(t, old.ID(), fresh.ID())
	assert.Equal(t, old.ID(), b.bindings.Get(0).DescriptorSet(0).ID())

	f.manager.BeginFrame(0)
	assert.True(t, b.bindings.Get(0).NeedToUpdate(0))
	assert.False(t, a.bindings.Get(0).NeedToUpdate(0))

	require.NoError(t, f.manager.BindResourcesForMaterial(b, f.cmd, 0))
	assert.Equal(t, fresh.ID(), b.bindings.Get(0).DescriptorSet(0).ID())
}

func TestResetKeepsBoundedPoolUsable(t *testing.T) {
	f := newFixture(t, 2)
	for i := 0; i < 20; i++ {
		// a new resource each round, as after a resize
		m := f.material(1, NewTextureBinding(0, 0, newTexture(f.device, "attachment", 1)))
		f.manager.BeginFrame(0)
		require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 0))
		require.NoError(t, f.manager.BindResourcesForMaterial(m, f.cmd, 1))
		require.NoError(t, f.manager.Reset())
	}
	assert.Equal(t, uint32(0), f.allocated())
	assert.Equal(t, 0, f.manager.CacheSize())
}
