package registry

import "github.com/calvinalkan/diskqueue/internal/storage"

// pool is a free list of reset storages, grouped by ring capacity so a
// reused storage always matches the prefix-rule capacity its new owner
// expects (§5, resource pools).
type pool struct {
	free map[uint64][]*storage.Storage
}

func newPool() *pool {
	return &pool{free: make(map[uint64][]*storage.Storage)}
}

// acquire returns a reset storage with the given capacity, or nil if none
// is available.
func (p *pool) acquire(capacity uint64) *storage.Storage {
	bucket := p.free[capacity]
	if len(bucket) == 0 {
		return nil
	}

	st := bucket[len(bucket)-1]
	p.free[capacity] = bucket[:len(bucket)-1]

	return st
}

// release returns a reset storage to the pool for later reuse.
func (p *pool) release(st *storage.Storage) {
	capacity := st.Capacity()
	p.free[capacity] = append(p.free[capacity], st)
}
