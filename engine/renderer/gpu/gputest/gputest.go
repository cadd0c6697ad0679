// Package gputest is an in-memory implementation of the gpu interfaces.
// Command buffers record every call so tests can assert on what a frame
// would have submitted; no GPU is touched.
package gputest

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type object struct {
	id uint64
}

func (o object) ID() uint64 { return o.id }

type Device struct {
	ids *core.IdentifierPool

	mu sync.Mutex
	// Every descriptor write ever flushed, in order.
	Writes []gpu.DescriptorWrite
	// Number of UpdateDescriptorSets calls.
	UpdateCalls int

	Allocated    []*CommandBuffer
	Freed        []*CommandBuffer
	Textures     []*Texture
	Framebuffers []*Framebuffer
	RenderPasses []*RenderPass
	Pools        []*DescriptorPool

	// AllocateErr, when set, is returned by AllocateCommandBuffer.
	AllocateErr error
	// PoolCapacity is the MaxSets override used by NewDescriptorPool when non-zero.
	PoolCapacity uint32
}

func NewDevice() *Device {
	return &Device{ids: core.NewIdentifierPool()}
}

func (d *Device) nextID(owner interface{}) object {
	return object{id: d.ids.AcquireNewID(owner)}
}

func (d *Device) NewBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	b := &Buffer{usage: usage, Data: make([]byte, size)}
	b.object = d.nextID(b)
	return b, nil
}

func (d *Device) NewTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	return d.CreateTexture(desc), nil
}

// CreateTexture is NewTexture returning the concrete fake.
func (d *Device) CreateTexture(desc gpu.TextureDesc) *Texture {
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	t := &Texture{desc: desc, layouts: make([]gpu.ImageLayout, mips)}
	t.desc.MipLevels = mips
	t.object = d.nextID(t)
	t.view = &ImageView{format: desc.Format, Texture: t, Mip: -1}
	t.view.object = d.nextID(t.view)
	t.mipViews = make([]*ImageView, mips)
	for i := range t.mipViews {
		v := &ImageView{format: desc.Format, Texture: t, Mip: i}
		v.object = d.nextID(v)
		t.mipViews[i] = v
	}
	t.sampler = &Sampler{}
	t.sampler.object = d.nextID(t.sampler)

	d.mu.Lock()
	d.Textures = append(d.Textures, t)
	d.mu.Unlock()
	return t
}

func (d *Device) NewRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return nil, fmt.Errorf("render pass '%s' has no subpasses", desc.Name)
	}
	rp := &RenderPass{desc: desc}
	rp.object = d.nextID(rp)
	d.mu.Lock()
	d.RenderPasses = append(d.RenderPasses, rp)
	d.mu.Unlock()
	return rp, nil
}

func (d *Device) NewFramebuffer(pass gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	if pass == nil {
		return nil, fmt.Errorf("framebuffer requires a render pass")
	}
	if n := len(pass.Desc().Attachments); n != len(attachments) {
		return nil, fmt.Errorf("framebuffer has %d attachments, render pass '%s' expects %d", len(attachments), pass.Desc().Name, n)
	}
	fb := &Framebuffer{pass: pass, extent: extent, attachments: append([]gpu.ImageView(nil), attachments...)}
	fb.object = d.nextID(fb)
	d.mu.Lock()
	d.Framebuffers = append(d.Framebuffers, fb)
	d.mu.Unlock()
	return fb, nil
}

func (d *Device) NewDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	if d.PoolCapacity != 0 {
		maxSets = d.PoolCapacity
	}
	p := &DescriptorPool{device: d, Capacity: maxSets}
	p.object = d.nextID(p)
	d.mu.Lock()
	d.Pools = append(d.Pools, p)
	d.mu.Unlock()
	return p, nil
}

func (d *Device) NewDescriptorSetLayout(bindings []gpu.DescriptorSetLayoutBinding) (gpu.DescriptorSetLayout, error) {
	l := &DescriptorSetLayout{bindings: append([]gpu.DescriptorSetLayoutBinding(nil), bindings...)}
	l.object = d.nextID(l)
	return l, nil
}

func (d *Device) NewPipelineLayout(sets []gpu.DescriptorSetLayout) (gpu.PipelineLayout, error) {
	l := &PipelineLayout{sets: append([]gpu.DescriptorSetLayout(nil), sets...)}
	l.object = d.nextID(l)
	return l, nil
}

// PipelineLayoutWithSets builds a layout with setCount empty descriptor set layouts.
func (d *Device) PipelineLayoutWithSets(setCount int) gpu.PipelineLayout {
	sets := make([]gpu.DescriptorSetLayout, setCount)
	for i := range sets {
		sets[i], _ = d.NewDescriptorSetLayout(nil)
	}
	l, _ := d.NewPipelineLayout(sets)
	return l
}

func (d *Device) NewGraphicsPipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	if desc.Layout == nil {
		return nil, fmt.Errorf("pipeline '%s' has no layout", desc.Name)
	}
	p := &Pipeline{Desc: desc}
	p.object = d.nextID(p)
	return p, nil
}

// PipelineWithSets builds a pipeline over a fresh layout of setCount sets.
func (d *Device) PipelineWithSets(name string, setCount int) gpu.Pipeline {
	p, _ := d.NewGraphicsPipeline(gpu.PipelineDesc{Name: name, Layout: d.PipelineLayoutWithSets(setCount)})
	return p
}

func (d *Device) AllocateCommandBuffer(level gpu.CommandBufferLevel) (gpu.CommandBuffer, error) {
	if d.AllocateErr != nil {
		return nil, d.AllocateErr
	}
	return d.NewCommandBuffer(level), nil
}

// NewCommandBuffer is AllocateCommandBuffer returning the concrete fake.
func (d *Device) NewCommandBuffer(level gpu.CommandBufferLevel) *CommandBuffer {
	cb := &CommandBuffer{level: level, state: gpu.COMMAND_BUFFER_STATE_READY}
	cb.object = d.nextID(cb)
	d.mu.Lock()
	d.Allocated = append(d.Allocated, cb)
	d.mu.Unlock()
	return cb
}

func (d *Device) FreeCommandBuffers(buffers ...gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range buffers {
		if cb, ok := b.(*CommandBuffer); ok && cb != nil {
			cb.state = gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED
			d.Freed = append(d.Freed, cb)
		}
	}
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdateCalls++
	d.Writes = append(d.Writes, writes...)
}

func (d *Device) WriteTexture(texture gpu.Texture, data []byte) error {
	t, ok := texture.(*Texture)
	if !ok || t == nil {
		return fmt.Errorf("texture upload needs a gputest texture")
	}
	e := t.Extent()
	if want := int(e.Width) * int(e.Height) * t.Format().Size(); want != len(data) {
		return fmt.Errorf("texture '%s' expects %d bytes, got %d", t.Name(), want, len(data))
	}
	t.Data = append([]byte(nil), data...)
	t.layouts[0] = gpu.ImageLayoutShaderReadOnlyOptimal
	return nil
}

func (d *Device) WaitIdle() error { return nil }

// Live returns the allocated command buffers that have not been freed.
func (d *Device) Live() []*CommandBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []*CommandBuffer{}
	for _, cb := range d.Allocated {
		if cb.state != gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED {
			out = append(out, cb)
		}
	}
	return out
}

type Buffer struct {
	object
	usage gpu.BufferUsage
	Data  []byte
}

func (b *Buffer) Size() uint64           { return uint64(len(b.Data)) }
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }
func (b *Buffer) Destroy()               {}

func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > uint64(len(b.Data)) {
		return fmt.Errorf("write of %d bytes at %d overflows buffer of %d bytes", len(data), offset, len(b.Data))
	}
	copy(b.Data[offset:], data)
	return nil
}

type Sampler struct {
	object
}

type ImageView struct {
	object
	format gpu.Format
	// Texture the view was made from, nil for swapchain images.
	Texture *Texture
	// Mip is the single mip level covered, or -1 for every level.
	Mip int
}

func (v *ImageView) Format() gpu.Format { return v.format }

type Texture struct {
	object
	desc     gpu.TextureDesc
	layouts  []gpu.ImageLayout
	view     *ImageView
	mipViews []*ImageView
	sampler  *Sampler
	// Data holds the texels of the last WriteTexture.
	Data      []byte
	Destroyed bool
}

func (t *Texture) Name() string                       { return t.desc.Name }
func (t *Texture) Desc() gpu.TextureDesc              { return t.desc }
func (t *Texture) Extent() gpu.Extent2D               { return t.desc.Extent }
func (t *Texture) Format() gpu.Format                 { return t.desc.Format }
func (t *Texture) MipLevels() uint32                  { return t.desc.MipLevels }
func (t *Texture) View() gpu.ImageView                { return t.view }
func (t *Texture) MipView(level uint32) gpu.ImageView { return t.mipViews[level] }
func (t *Texture) Sampler() gpu.Sampler               { return t.sampler }
func (t *Texture) Layout(mip uint32) gpu.ImageLayout {
	return t.layouts[mip]
}
func (t *Texture) SetLayout(mip uint32, layout gpu.ImageLayout) {
	t.layouts[mip] = layout
}
func (t *Texture) Destroy() { t.Destroyed = true }

type RenderPass struct {
	object
	desc      gpu.RenderPassDesc
	Destroyed bool
}

func (r *RenderPass) Desc() gpu.RenderPassDesc { return r.desc }
func (r *RenderPass) Destroy()                 { r.Destroyed = true }

type Framebuffer struct {
	object
	pass        gpu.RenderPass
	extent      gpu.Extent2D
	attachments []gpu.ImageView
	Destroyed   bool
}

func (f *Framebuffer) RenderPass() gpu.RenderPass   { return f.pass }
func (f *Framebuffer) Extent() gpu.Extent2D         { return f.extent }
func (f *Framebuffer) Attachments() []gpu.ImageView { return f.attachments }
func (f *Framebuffer) Destroy()                     { f.Destroyed = true }

type DescriptorSetLayout struct {
	object
	bindings  []gpu.DescriptorSetLayoutBinding
	Destroyed bool
}

func (l *DescriptorSetLayout) Bindings() []gpu.DescriptorSetLayoutBinding { return l.bindings }
func (l *DescriptorSetLayout) Destroy()                                   { l.Destroyed = true }

type DescriptorSet struct {
	object
	layout gpu.DescriptorSetLayout
}

func (s *DescriptorSet) Layout() gpu.DescriptorSetLayout { return s.layout }

type PipelineLayout struct {
	object
	sets      []gpu.DescriptorSetLayout
	Destroyed bool
}

func (l *PipelineLayout) SetLayout(set uint32) gpu.DescriptorSetLayout {
	if int(set) >= len(l.sets) {
		return nil
	}
	return l.sets[set]
}

func (l *PipelineLayout) SetCount() uint32 { return uint32(len(l.sets)) }
func (l *PipelineLayout) Destroy()         { l.Destroyed = true }

type Pipeline struct {
	object
	Desc      gpu.PipelineDesc
	Destroyed bool
}

func (p *Pipeline) Layout() gpu.PipelineLayout { return p.Desc.Layout }
func (p *Pipeline) Destroy()                   { p.Destroyed = true }

type DescriptorPool struct {
	object
	device    *Device
	Capacity  uint32
	Allocated uint32
	Destroyed bool
}

func (p *DescriptorPool) Allocate(layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	if p.Allocated >= p.Capacity {
		return nil, fmt.Errorf("%w: descriptor pool exhausted after %d sets", core.ErrOutOfResources, p.Allocated)
	}
	p.Allocated++
	s := &DescriptorSet{layout: layout}
	s.object = p.device.nextID(s)
	return s, nil
}

func (p *DescriptorPool) Reset() error {
	p.Allocated = 0
	return nil
}

func (p *DescriptorPool) Destroy() { p.Destroyed = true }
