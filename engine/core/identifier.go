package core

import (
	"fmt"
	"sync"
)

/**
 * @brief Hands out identifiers for GPU-facing objects. The identifier is what
 * binding hashes are computed from, so it has to stay stable for the lifetime
 * of the object and must not be reused while the object is alive.
 */
type IdentifierPool struct {
	mu     sync.Mutex
	owners map[uint64]interface{}
	next   uint64
}

func NewIdentifierPool() *IdentifierPool {
	return &IdentifierPool{
		owners: make(map[uint64]interface{}),
		next:   1,
	}
}

// AcquireNewID registers owner and returns its identifier. IDs start at 1; 0 means "none".
func (p *IdentifierPool) AcquireNewID(owner interface{}) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	p.owners[id] = owner
	return id
}

// ReleaseID forgets the owner of id. Released identifiers are never handed out again.
func (p *IdentifierPool) ReleaseID(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.owners[id]; !ok {
		err := fmt.Errorf("identifier_release_id: id '%d' is not in use. Nothing was done", id)
		return err
	}
	delete(p.owners, id)
	return nil
}

// Owner returns whatever acquired id, or nil.
func (p *IdentifierPool) Owner(id uint64) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owners[id]
}

// Len returns the number of identifiers currently in use.
func (p *IdentifierPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owners)
}
