package binding

import (
	"fmt"
	"sort"
)

/**
 * @brief Every binding of a material or pass, grouped by descriptor set index
 * in ascending order. Dynamic uniform buffers are tracked on the side so their
 * offsets can be handed to the bind call in (set, binding) order.
 */
type BindingCollection struct {
	sets    []*PerSetBindings
	dynamic []*UniformBufferBinding
	offsets []uint32
}

func NewBindingCollection() *BindingCollection {
	return &BindingCollection{}
}

func (c *BindingCollection) searchSet(set uint32) int {
	return sort.Search(len(c.sets), func(i int) bool { return c.sets[i].set >= set })
}

// Get returns the group for set, or nil.
func (c *BindingCollection) Get(set uint32) *PerSetBindings {
	i := c.searchSet(set)
	if i < len(c.sets) && c.sets[i].set == set {
		return c.sets[i]
	}
	return nil
}

// Add routes b to the group of its set, creating the group when needed.
func (c *BindingCollection) Add(b ResourceBinding) error {
	if b == nil {
		return fmt.Errorf("cannot add a nil binding")
	}
	set := b.SetLocation()
	i := c.searchSet(set)
	if i == len(c.sets) || c.sets[i].set != set {
		c.sets = append(c.sets, nil)
		copy(c.sets[i+1:], c.sets[i:])
		c.sets[i] = NewPerSetBindings(set)
	}
	if err := c.sets[i].Add(b); err != nil {
		return err
	}

	// a replaced binding may have been dynamic
	c.removeDynamic(set, b.BindingLocation())
	if ub, ok := b.(*UniformBufferBinding); ok && ub.IsDynamic() {
		c.insertDynamic(ub)
	}
	return nil
}

// Remove deletes the binding at (set, binding) and drops the group once it is empty.
func (c *BindingCollection) Remove(set, binding uint32) bool {
	i := c.searchSet(set)
	if i == len(c.sets) || c.sets[i].set != set {
		return false
	}
	if !c.sets[i].Remove(binding) {
		return false
	}
	c.removeDynamic(set, binding)
	if c.sets[i].Len() == 0 {
		c.sets = append(c.sets[:i], c.sets[i+1:]...)
	}
	return true
}

// RemoveAll deletes every binding matching pred across all sets.
func (c *BindingCollection) RemoveAll(pred func(ResourceBinding) bool) int {
	type location struct{ set, binding uint32 }
	var matches []location
	for _, g := range c.sets {
		for _, b := range g.bindings {
			if pred(b) {
				matches = append(matches, location{g.set, b.BindingLocation()})
			}
		}
	}
	for _, m := range matches {
		c.Remove(m.set, m.binding)
	}
	return len(matches)
}

func dynamicLess(a *UniformBufferBinding, set, binding uint32) bool {
	if a.set != set {
		return a.set < set
	}
	return a.binding < binding
}

func (c *BindingCollection) insertDynamic(b *UniformBufferBinding) {
	i := sort.Search(len(c.dynamic), func(i int) bool { return !dynamicLess(c.dynamic[i], b.set, b.binding) })
	c.dynamic = append(c.dynamic, nil)
	copy(c.dynamic[i+1:], c.dynamic[i:])
	c.dynamic[i] = b
}

func (c *BindingCollection) removeDynamic(set, binding uint32) {
	for i, d := range c.dynamic {
		if d.set == set && d.binding == binding {
			c.dynamic = append(c.dynamic[:i], c.dynamic[i+1:]...)
			return
		}
	}
}

// Sets returns the groups in ascending set order. Do not modify.
func (c *BindingCollection) Sets() []*PerSetBindings { return c.sets }

// Each calls fn for every group in ascending set order until fn returns false.
func (c *BindingCollection) Each(fn func(set uint32, group *PerSetBindings) bool) {
	for _, g := range c.sets {
		if !fn(g.set, g) {
			return
		}
	}
}

// Count is the number of descriptor sets in use.
func (c *BindingCollection) Count() int { return len(c.sets) }

func (c *BindingCollection) CountAllBindings() int {
	n := 0
	for _, g := range c.sets {
		n += g.Len()
	}
	return n
}

// MinSetLocation returns the lowest set index, or 0 when empty.
func (c *BindingCollection) MinSetLocation() uint32 {
	if len(c.sets) == 0 {
		return 0
	}
	return c.sets[0].set
}

// MaxSetLocation returns the highest set index, or 0 when empty.
func (c *BindingCollection) MaxSetLocation() uint32 {
	if len(c.sets) == 0 {
		return 0
	}
	return c.sets[len(c.sets)-1].set
}

// DynamicOffsets returns the current dynamic offsets in ascending (set, binding)
// order. The slice is reused by the next call.
func (c *BindingCollection) DynamicOffsets() []uint32 {
	c.offsets = c.offsets[:0]
	for _, d := range c.dynamic {
		c.offsets = append(c.offsets, d.dynamicOffset)
	}
	return c.offsets
}

// DynamicOffsetCount is the number of dynamic bindings in set.
func (c *BindingCollection) DynamicOffsetCount(set uint32) int {
	n := 0
	for _, d := range c.dynamic {
		if d.set == set {
			n++
		}
	}
	return n
}

// MarkAllDirty dirties every binding, forcing a rewrite on the next bind.
func (c *BindingCollection) MarkAllDirty() {
	for _, g := range c.sets {
		for _, b := range g.bindings {
			b.MarkDirty()
		}
	}
}

// ReleaseDescriptorSets forgets every realized set, e.g. before the collection is discarded.
func (c *BindingCollection) ReleaseDescriptorSets() {
	for _, g := range c.sets {
		for _, b := range g.bindings {
			b.base().releaseDescriptorSets()
		}
	}
}
