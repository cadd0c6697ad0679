package binding

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

/**
 * @brief The bindings of one descriptor set index, kept sorted by binding
 * location. Binding locations are unique; adding an existing one replaces it.
 */
type PerSetBindings struct {
	set      uint32
	bindings []ResourceBinding
	// frames whose realized set no longer matches the membership (after a removal)
	stale uint8
}

func NewPerSetBindings(set uint32) *PerSetBindings {
	return &PerSetBindings{set: set}
}

func (p *PerSetBindings) Set() uint32 { return p.set }
func (p *PerSetBindings) Len() int    { return len(p.bindings) }

// Bindings returns the bindings in ascending binding location. Do not modify.
func (p *PerSetBindings) Bindings() []ResourceBinding { return p.bindings }

func (p *PerSetBindings) search(binding uint32) int {
	return sort.Search(len(p.bindings), func(i int) bool {
		return p.bindings[i].BindingLocation() >= binding
	})
}

// Add inserts b, replacing any binding at the same location.
func (p *PerSetBindings) Add(b ResourceBinding) error {
	if b == nil {
		return fmt.Errorf("cannot add a nil binding to set %d", p.set)
	}
	if b.SetLocation() != p.set {
		err := fmt.Errorf("%w: binding %d declares set %d, collection holds set %d",
			core.ErrSetMismatch, b.BindingLocation(), b.SetLocation(), p.set)
		core.LogError(err.Error())
		return err
	}

	i := p.search(b.BindingLocation())
	if i < len(p.bindings) && p.bindings[i].BindingLocation() == b.BindingLocation() {
		p.bindings[i] = b
		return nil
	}
	p.bindings = append(p.bindings, nil)
	copy(p.bindings[i+1:], p.bindings[i:])
	p.bindings[i] = b
	return nil
}

// Get returns the binding at location binding.
func (p *PerSetBindings) Get(binding uint32) (ResourceBinding, bool) {
	i := p.search(binding)
	if i < len(p.bindings) && p.bindings[i].BindingLocation() == binding {
		return p.bindings[i], true
	}
	return nil, false
}

// Remove deletes the binding at location binding and reports whether one existed.
func (p *PerSetBindings) Remove(binding uint32) bool {
	i := p.search(binding)
	if i >= len(p.bindings) || p.bindings[i].BindingLocation() != binding {
		return false
	}
	p.bindings = append(p.bindings[:i], p.bindings[i+1:]...)
	p.stale = 1<<gpu.MaxFramesInFlight - 1
	return true
}

// RemoveAll deletes every binding matching pred and returns how many were removed.
func (p *PerSetBindings) RemoveAll(pred func(ResourceBinding) bool) int {
	var locations []uint32
	for _, b := range p.bindings {
		if pred(b) {
			locations = append(locations, b.BindingLocation())
		}
	}
	for _, loc := range locations {
		p.Remove(loc)
	}
	return len(locations)
}

// NeedToUpdate is true when some binding has no set for frame or is dirty for it.
func (p *PerSetBindings) NeedToUpdate(frame uint32) bool {
	if p.stale&(1<<frame) != 0 {
		return true
	}
	for _, b := range p.bindings {
		if b.DescriptorSet(frame) == nil || b.IsDirty(frame) {
			return true
		}
	}
	return false
}

// DescriptorSet returns the set shared by the bindings for frame, or nil while NeedToUpdate.
func (p *PerSetBindings) DescriptorSet(frame uint32) gpu.DescriptorSet {
	if len(p.bindings) == 0 || p.NeedToUpdate(frame) {
		return nil
	}
	return p.bindings[0].DescriptorSet(frame)
}

// Fingerprint is ComputeFingerprint(p).
func (p *PerSetBindings) Fingerprint() BindingFingerprint {
	return ComputeFingerprint(p)
}

func (p *PerSetBindings) assign(frame uint32, set gpu.DescriptorSet) {
	for _, b := range p.bindings {
		b.SetDescriptorSet(frame, set)
	}
	p.stale &^= 1 << frame
}

// MaxWriteCount is the number of descriptor writes realizing the whole set takes.
func (p *PerSetBindings) MaxWriteCount() int {
	n := 0
	for _, b := range p.bindings {
		n += b.WriteCount()
	}
	return n
}
