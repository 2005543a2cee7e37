package cluster

import (
	"fmt"
	"io"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/kfmt"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// Stats summarizes the state of the cluster table.
type Stats struct {
	ClusterSize mem.Size

	// Cluster counts by state. Clusters == Used + Free + NotPresent.
	Clusters   uint64
	Used       uint64
	Free       uint64
	NotPresent uint64

	// Allocations is the number of live allocations.
	Allocations int

	// LargestFreeRun is the length, in clusters, of the longest run of
	// consecutive free clusters.
	LargestFreeRun uint64
}

// UsedBytes returns the number of bytes held by live allocations.
func (s Stats) UsedBytes() mem.Size { return mem.Size(s.Used) * s.ClusterSize }

// FreeBytes returns the number of bytes available for allocation.
func (s Stats) FreeBytes() mem.Size { return mem.Size(s.Free) * s.ClusterSize }

// Stats scans the table and returns a summary of its contents.
func (a *Allocator) Stats() Stats {
	ints := a.acquire()
	defer a.release(ints)

	stats := Stats{
		ClusterSize: a.table.clusterSize,
		Clusters:    uint64(len(a.table.entries)),
		Allocations: a.live.len(),
	}
	if !a.initialized {
		stats.NotPresent = stats.Clusters
		return stats
	}

	var run uint64
	for _, entry := range a.table.entries {
		switch entry {
		case Free:
			stats.Free++
			if run++; run > stats.LargestFreeRun {
				stats.LargestFreeRun = run
			}
			continue
		case NotPresent:
			stats.NotPresent++
		default:
			stats.Used++
		}
		run = 0
	}

	return stats
}

// Allocation describes a live allocation.
type Allocation struct {
	Base       pmm.PhysAddr
	Size       mem.Size
	Generation uint64
}

// Allocations returns the live allocations ordered by base address.
func (a *Allocator) Allocations() []Allocation {
	ints := a.acquire()
	snapshot := a.live.m
	a.release(ints)

	list := make([]Allocation, 0, snapshot.Len())
	for itr := snapshot.Iterator(); !itr.Done(); {
		base, rec, _ := itr.Next()
		list = append(list, Allocation{
			Base:       base,
			Size:       mem.Size(rec.clusters) * a.cfg.ClusterSize,
			Generation: rec.generation,
		})
	}
	return list
}

// Handle identifies one particular allocation. Unlike a bare address, a
// handle does not match a later allocation that reuses the same base.
type Handle struct {
	Addr       pmm.PhysAddr
	Generation uint64
}

// Lookup returns the handle of the live allocation based at ptr.
func (a *Allocator) Lookup(ptr pmm.PhysAddr) (Handle, bool) {
	ints := a.acquire()
	defer a.release(ints)

	return a.lookupLocked(ptr)
}

func (a *Allocator) lookupLocked(ptr pmm.PhysAddr) (Handle, bool) {
	rec, live := a.live.get(ptr)
	if !live {
		return Handle{}, false
	}
	return Handle{Addr: ptr, Generation: rec.generation}, true
}

// FreeHandle frees the allocation identified by h. It fails with
// ErrStaleHandle if that allocation has already been freed, even when its
// base address has since been handed out again.
func (a *Allocator) FreeHandle(h Handle) *kernel.Error {
	if h.Addr == 0 {
		return nil
	}

	ints := a.acquire()
	defer a.release(ints)

	if rec, live := a.live.get(h.Addr); !live || rec.generation != h.Generation {
		return ErrStaleHandle
	}
	return a.unallocLocked(h.Addr)
}

// DumpTable writes a run-length encoded listing of the table to w.
func (a *Allocator) DumpTable(w io.Writer) error {
	ints := a.acquire()
	entries := make([]uint64, len(a.table.entries))
	copy(entries, a.table.entries)
	initialized := a.initialized
	a.release(ints)

	if _, err := fmt.Fprintf(w, "cluster table at %s, data at %s, %d x %d bytes\n",
		a.cfg.TableAddress, a.table.dataBase, len(entries), uint64(a.cfg.ClusterSize)); err != nil {
		return err
	}
	if !initialized {
		_, err := fmt.Fprintln(w, "  (not initialized)")
		return err
	}

	pw := &kfmt.PrefixWriter{Sink: w, Prefix: []byte("  ")}
	for start := 0; start < len(entries); {
		end := start + 1
		for end < len(entries) && entries[end] == entries[start] {
			end++
		}

		var state string
		switch entries[start] {
		case Free:
			state = "free"
		case NotPresent:
			state = "not present"
		default:
			state = "owned by " + pmm.PhysAddr(entries[start]).String()
		}

		if _, err := fmt.Fprintf(pw, "[%6d, %6d) %s - %s %s\n", start, end,
			a.table.addressOf(uint64(start)), a.table.addressOf(uint64(end)), state); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// CheckInvariants verifies that the table and the allocation records agree:
// every owned cluster belongs to the contiguous run of a live allocation
// whose base it stores, and every live allocation owns exactly the clusters
// it was given.
func (a *Allocator) CheckInvariants() *kernel.Error {
	ints := a.acquire()
	defer a.release(ints)

	if !a.initialized {
		return nil
	}

	var owned, expected uint64
	t := &a.table
	for n, entry := range t.entries {
		if entry == Free || entry == NotPresent {
			continue
		}

		rec, live := a.live.get(pmm.PhysAddr(entry))
		first := t.clusterOf(pmm.PhysAddr(entry))
		if !live || uint64(n) < first || uint64(n) >= first+rec.clusters {
			return errTableCorrupted
		}
		owned++
	}

	for itr := a.live.m.Iterator(); !itr.Done(); {
		base, rec, _ := itr.Next()
		if t.runLength(t.clusterOf(base), uint64(base)) != rec.clusters {
			return errTableCorrupted
		}
		expected += rec.clusters
	}

	if owned != expected {
		return errTableCorrupted
	}
	return nil
}
