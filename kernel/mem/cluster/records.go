package cluster

import (
	"github.com/benbjohnson/immutable"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// record is the side-table entry for one live allocation.
type record struct {
	clusters   uint64
	generation uint64
}

// addrComparer orders physical addresses for the side table.
type addrComparer struct{}

func (addrComparer) Compare(a, b pmm.PhysAddr) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// records maps the base address of every live allocation to its length and
// generation. The underlying map is persistent, so a snapshot taken by
// Allocations stays valid while the allocator keeps changing.
type records struct {
	m       *immutable.SortedMap[pmm.PhysAddr, record]
	nextGen uint64
}

func newRecords() records {
	return records{m: immutable.NewSortedMap[pmm.PhysAddr, record](addrComparer{}), nextGen: 1}
}

func (r *records) get(base pmm.PhysAddr) (record, bool) {
	return r.m.Get(base)
}

// add registers a new allocation and returns its generation.
func (r *records) add(base pmm.PhysAddr, clusters uint64) uint64 {
	gen := r.nextGen
	r.nextGen++
	r.m = r.m.Set(base, record{clusters: clusters, generation: gen})
	return gen
}

func (r *records) remove(base pmm.PhysAddr) {
	r.m = r.m.Delete(base)
}

func (r *records) len() int {
	return r.m.Len()
}
