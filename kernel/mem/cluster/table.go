package cluster

import (
	"math"

	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

const (
	// NotPresent marks a cluster that is never allocatable: it is either
	// not backed by installed memory or not reported as usable.
	NotPresent = uint64(math.MaxUint64)

	// Free marks a cluster that is available for allocation.
	Free = uint64(0)
)

// Region describes a range of physical memory reported by the firmware
// memory map.
type Region struct {
	Base   pmm.PhysAddr
	Length mem.Size

	// Usable is set for regions the firmware reports as available RAM.
	Usable bool
}

// table is the cluster table: one 64-bit entry per cluster, stored in
// physical memory. Entries hold NotPresent, Free or the base address of the
// allocation that owns the cluster.
type table struct {
	entries     []uint64
	dataBase    pmm.PhysAddr
	clusterSize mem.Size
}

// addressOf returns the physical address of cluster n.
func (t *table) addressOf(n uint64) pmm.PhysAddr {
	return t.dataBase.Add(mem.Size(n) * t.clusterSize)
}

// clusterOf returns the index of the cluster containing addr. Addresses
// below the data region map to cluster 0.
func (t *table) clusterOf(addr pmm.PhysAddr) uint64 {
	if addr < t.dataBase {
		return 0
	}
	return uint64(addr-t.dataBase) / uint64(t.clusterSize)
}

// runLength counts the consecutive entries equal to owner starting at
// cluster n.
func (t *table) runLength(n uint64, owner uint64) uint64 {
	var count uint64
	for ; n < uint64(len(t.entries)) && t.entries[n] == owner; n++ {
		count++
	}
	return count
}

// populate marks every cluster that lies entirely within one of the usable
// regions and within [0, limit) as Free. All other clusters become
// NotPresent. It returns the number of free clusters.
func (t *table) populate(regions []Region, limit pmm.PhysAddr) uint64 {
	for i := range t.entries {
		t.entries[i] = NotPresent
	}

	var free uint64
	for _, region := range regions {
		if !region.Usable || region.Length == 0 {
			continue
		}

		start, end := region.Base, region.Base.Add(region.Length)
		if end < start {
			// The region wraps around the address space
			end = pmm.PhysAddr(math.MaxUint64)
		}
		if end > limit {
			end = limit
		}
		if end <= t.dataBase || start >= end {
			continue
		}

		first := uint64(0)
		if start > t.dataBase {
			first = uint64(mem.Size(start-t.dataBase).AlignUp(t.clusterSize)) / uint64(t.clusterSize)
		}
		last := uint64(end-t.dataBase) / uint64(t.clusterSize)
		if last > uint64(len(t.entries)) {
			last = uint64(len(t.entries))
		}

		for n := first; n < last; n++ {
			if t.entries[n] != Free {
				t.entries[n] = Free
				free++
			}
		}
	}

	return free
}
