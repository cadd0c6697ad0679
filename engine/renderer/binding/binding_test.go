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

func newBuffer(t *testing.T, d *gputest.Device) gpu.Buffer {
	b, err := d.NewBuffer(256, gpu.BufferUsageUniform)
	require.NoError(t, err)
	return b
}

func newTexture(d *gputest.Device, name string, mips uint32) *gputest.Texture {
	return d.CreateTexture(gpu.TextureDesc{
		Name:      name,
		Extent:    gpu.Extent2D{Width: 64, Height: 64},
		Format:    gpu.FormatR8G8B8A8Unorm,
		MipLevels: mips,
		Usage:     gpu.TextureUsageSampled | gpu.TextureUsageStorage,
	})
}

func TestCollectionScenarioCounts(t *testing.T) {
	d := gputest.NewDevice()
	c := NewBindingCollection()

	require.NoError(t, c.Add(NewUniformBufferBinding(0, 0, newBuffer(t, d), 0, 64)))
	require.NoError(t, c.Add(NewTextureBinding(0, 1, newTexture(d, "albedo", 1))))
	require.NoError(t, c.Add(NewUniformBufferBinding(1, 0, newBuffer(t, d), 0, 64)))

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, 3, c.CountAllBindings())
	assert.Equal(t, uint32(0), c.MinSetLocation())
	assert.Equal(t, uint32(1), c.MaxSetLocation())
}

func TestCollectionEnumerationOrder(t *testing.T) {
	d := gputest.NewDevice()
	c := NewBindingCollection()
	buf := newBuffer(t, d)

	// deliberately out of order
	locations := [][2]uint32{{2, 3}, {0, 4}, {2, 0}, {1, 1}, {0, 0}, {0, 2}, {1, 0}}
	for _, l := range locations {
		require.NoError(t, c.Add(NewStorageBufferBinding(l[0], l[1], buf, 0, 16)))
	}

	var prevSet int64 = -1
	c.Each(func(set uint32, group *PerSetBindings) bool {
		assert.Greater(t, int64(set), prevSet)
		prevSet = int64(set)
		var prevBinding int64 = -1
		for _, b := range group.Bindings() {
			assert.Equal(t, set, b.SetLocation())
			assert.Greater(t, int64(b.BindingLocation()), prevBinding)
			prevBinding = int64(b.BindingLocation())
		}
		return true
	})
	assert.Equal(t, 3, c.Count())
	assert.Equal(t, len(locations), c.CountAllBindings())
}

func TestCollectionEachStops(t *testing.T) {
	d := gputest.NewDevice()
	c := NewBindingCollection()
	for set := uint32(0); set < 4; set++ {
		require.NoError(t, c.Add(NewStorageBufferBinding(set, 0, newBuffer(t, d), 0, 16)))
	}
	visited := 0
	c.Each(func(set uint32, group *PerSetBindings) bool {
		visited++
		return set < 1
	})
	assert.Equal(t, 2, visited)
}

func TestAddOverwriteSemantics(t *testing.T) {
	d := gputest.NewDevice()
	c := NewBindingCollection()

	first := NewTextureBinding(0, 1, newTexture(d, "a", 1))
	second := NewTextureBinding(0, 2, newTexture(d, "b", 1))
	require.NoError(t, c.Add(first))
	require.NoError(t, c.Add(second))
	assert.Equal(t, 2, c.CountAllBindings())

	replacement := NewTextureBinding(0, 1, newTexture(d, "c", 1))
	require.NoError(t, c.Add(replacement))
	assert.Equal(t, 2, c.CountAllBindings())

	got, ok := c.Get(0).Get(1)
	require.True(t, ok)
	assert.Same(t, replacement, got)
	got, ok = c.Get(0).Get(2)
	require.True(t, ok)
	assert.Same(t, second, got)

	// adding the same binding again is a no-op
	require.NoError(t, c.Add(replacement))
	assert.Equal(t, 2, c.CountAllBindings())
}

func TestPerSetBindingsRejectsOtherSet(t *testing.T) {
	d := gputest.NewDevice()
	p := NewPerSetBindings(1)
	err := p.Add(NewStorageBufferBinding(0, 0, newBuffer(t, d), 0, 16))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSetMismatch))
	assert.Equal(t, 0, p.Len())
}

func TestRemoveDropsEmptyGroupsAndDynamicOffsets(t *testing.T) {
	d := gputest.NewDevice()
	c := NewBindingCollection()

	dyn0 := NewDynamicUniformBufferBinding(0, 0, newBuffer(t, d), 64)
	dyn0.SetDynamicOffset(256)
	dyn1 := NewDynamicUniformBufferBinding(1, 2, newBuffer(t, d), 64)
	dyn1.SetDynamicOffset(512)
	require.NoError(t, c.Add(dyn1))
	require.NoError(t, c.Add(dyn0))
	require.NoError(t, c.Add(NewTextureBinding(0, 1, newTexture(d, "t", 1))))

	assert.Equal(t, []uint32{256, 512}, c.DynamicOffsets())

	assert.True(t, c.Remove(1, 2))
	assert.Equal(t, 1, c.Count())
	assert.Nil(t, c.Get(1))
	assert.Equal(t, []uint32{256}, c.DynamicOffsets())

	assert.False(t, c.Remove(1, 2))
	assert.False(t, c.Remove(0, 7))
}

func TestDynamicOffsetsFollowTraversalOrder(t *testing.T) {
	d := gputest.NewDevice()
	c := NewBindingCollection()

	order := [][2]uint32{{2, 1}, {0, 3}, {2, 0}, {0, 1}}
	for i, l := range order {
		b := NewDynamicUniformBufferBinding(l[0], l[1], newBuffer(t, d), 64)
		b.SetDynamicOffset(uint32(i+1) * 100)
		require.NoError(t, c.Add(b))
	}
	// (0,1)=400 (0,3)=200 (2,0)=300 (2,1)=100
	assert.Equal(t, []uint32{400, 200, 300, 100}, c.DynamicOffsets())
	assert.Equal(t, 2, c.DynamicOffsetCount(0))
	assert.Equal(t, 0, c.DynamicOffsetCount(1))

	// replacing a dynamic binding with a static one drops its offset
	require.NoError(t, c.Add(NewUniformBufferBinding(0, 3, newBuffer(t, d), 0, 64)))
	assert.Equal(t, []uint32{400, 300, 100}, c.DynamicOffsets())
}

func TestRemoveAll(t *testing.T) {
	d := gputest.NewDevice()
	p := NewPerSetBindings(0)
	buf := newBuffer(t, d)
	for i := uint32(0); i < 6; i++ {
		require.NoError(t, p.Add(NewStorageBufferBinding(0, i, buf, 0, 16)))
	}

	removed := p.RemoveAll(func(b ResourceBinding) bool { return b.BindingLocation()%2 == 0 })
	assert.Equal(t, 3, removed)
	require.Equal(t, 3, p.Len())
	for i, b := range p.Bindings() {
		assert.Equal(t, uint32(2*i+1), b.BindingLocation())
	}

	c := NewBindingCollection()
	for set := uint32(0); set < 3; set++ {
		require.NoError(t, c.Add(NewTextureBinding(set, 0, newTexture(d, "t", 1))))
		require.NoError(t, c.Add(NewStorageBufferBinding(set, 1, buf, 0, 16)))
	}
	removed = c.RemoveAll(func(b ResourceBinding) bool {
		return b.DescriptorType() == gpu.DescriptorTypeCombinedImageSampler || b.SetLocation() == 2
	})
	assert.Equal(t, 4, removed)
	assert.Equal(t, 2, c.Count())
	assert.Equal(t, 2, c.CountAllBindings())
}

func TestUpdateDescriptorSetFanOut(t *testing.T) {
	d := gputest.NewDevice()
	layout := d.PipelineLayoutWithSets(1)
	pool, err := d.NewDescriptorPool(4, nil)
	require.NoError(t, err)
	set, err := pool.Allocate(layout.SetLayout(0))
	require.NoError(t, err)

	a, b, c := newTexture(d, "a", 1), newTexture(d, "b", 1), newTexture(d, "c", 1)
	tb := NewTextureBinding(0, 4, a, b, c)
	tb.MarkDirty()
	require.True(t, tb.IsDirty(0))

	arena := NewWriteArena(2)
	require.NoError(t, tb.UpdateDescriptorSet(arena, set, 0))
	require.Equal(t, 3, arena.Len())
	for i, w := range arena.Writes() {
		assert.Equal(t, uint32(4+i), w.Binding)
		assert.Equal(t, gpu.DescriptorTypeCombinedImageSampler, w.Type)
		assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, w.Layout)
		assert.Same(t, set, w.Set)
	}
	assert.Equal(t, a.View(), arena.Writes()[0].View)
	assert.Equal(t, c.View(), arena.Writes()[2].View)
	assert.False(t, tb.IsDirty(0))
	assert.True(t, tb.IsDirty(1))
}

func TestStorageImageRequiresGeneralLayout(t *testing.T) {
	d := gputest.NewDevice()
	layout := d.PipelineLayoutWithSets(1)
	pool, err := d.NewDescriptorPool(4, nil)
	require.NoError(t, err)
	set, err := pool.Allocate(layout.SetLayout(0))
	require.NoError(t, err)

	ok := newTexture(d, "ok", 4)
	bad := newTexture(d, "bad", 4)
	ok.SetLayout(2, gpu.ImageLayoutGeneral)
	bad.SetLayout(2, gpu.ImageLayoutColorAttachmentOptimal)

	sb := NewStorageImageBinding(0, 0, 2, ok, bad)
	sb.MarkDirty()
	arena := NewWriteArena(4)
	err = sb.UpdateDescriptorSet(arena, set, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidImageLayout))
	assert.Equal(t, 0, arena.Len())
	assert.True(t, sb.IsDirty(0))

	bad.SetLayout(2, gpu.ImageLayoutGeneral)
	require.NoError(t, sb.UpdateDescriptorSet(arena, set, 0))
	require.Equal(t, 2, arena.Len())
	assert.Equal(t, ok.MipView(2), arena.Writes()[0].View)
	assert.Equal(t, gpu.ImageLayoutGeneral, arena.Writes()[1].Layout)
}

func TestResourceHashIdentity(t *testing.T) {
	d := gputest.NewDevice()
	tex := newTexture(d, "t", 1)
	other := newTexture(d, "o", 1)

	a := NewTextureBinding(0, 1, tex)
	b := NewTextureBinding(0, 1, tex)
	assert.Equal(t, a.ResourceHash(), b.ResourceHash())
	assert.Equal(t, a.ResourceHash(), a.ResourceHash())

	// contents are not part of the identity
	a.MarkDirty()
	assert.Equal(t, a.ResourceHash(), b.ResourceHash())

	assert.NotEqual(t, a.ResourceHash(), NewTextureBinding(0, 2, tex).ResourceHash())
	assert.NotEqual(t, a.ResourceHash(), NewTextureBinding(1, 1, tex).ResourceHash())
	assert.NotEqual(t, a.ResourceHash(), NewTextureBinding(0, 1, other).ResourceHash())
	assert.NotEqual(t, a.ResourceHash(), NewStorageImageBinding(0, 1, 0, tex).ResourceHash())

	buf := newBuffer(t, d)
	dyn := NewDynamicUniformBufferBinding(0, 0, buf, 64)
	h := dyn.ResourceHash()
	dyn.SetDynamicOffset(128)
	assert.Equal(t, h, dyn.ResourceHash())
	assert.NotEqual(t, h, NewUniformBufferBinding(0, 0, buf, 0, 64).ResourceHash())
}

func TestFingerprintTracksIdentity(t *testing.T) {
	d := gputest.NewDevice()
	tex := newTexture(d, "t", 1)
	p := NewPerSetBindings(3)
	tb := NewTextureBinding(3, 0, tex)
	require.NoError(t, p.Add(tb))

	fp := p.Fingerprint()
	assert.Equal(t, uint32(3), fp.Set)
	assert.Equal(t, fp, p.Fingerprint())

	tb.SetTextures(newTexture(d, "swapped", 1))
	assert.NotEqual(t, fp.Hash, p.Fingerprint().Hash)

	tb.SetTextures(tex)
	assert.Equal(t, fp, p.Fingerprint())
}

func TestWriteArenaReuse(t *testing.T) {
	a := NewWriteArena(2)
	a.Push(gpu.DescriptorWrite{Binding: 1})
	a.Push(gpu.DescriptorWrite{Binding: 2})
	a.Reserve(3)
	assert.GreaterOrEqual(t, a.Cap(), 5)
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, uint32(2), a.Writes()[1].Binding)

	c := a.Cap()
	a.Reset()
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, c, a.Cap())
}
