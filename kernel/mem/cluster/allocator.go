// Package cluster implements the kernel's physical memory allocator. Memory
// is handed out in runs of contiguous fixed-size clusters tracked by a table
// that lives in physical memory right before the region it describes.
package cluster

import (
	"log/slog"
	"unsafe"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/cpu"
	"github.com/redox-os/redox-sub002/kernel/kfmt"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/physmem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
	"github.com/redox-os/redox-sub002/kernel/mem/vmm"
	"github.com/redox-os/redox-sub002/kernel/sync"
)

// releaseTempFn restores a scratch page once a cluster has been zeroed or
// copied. Tests override it to simulate restore failures.
var releaseTempFn = (*vmm.TempMapping).Release

// Allocator manages the clusters of one data region. Every method that
// touches the table runs with interrupts masked and the allocator lock held,
// in that order.
type Allocator struct {
	lock sync.Spinlock

	cfg   Config
	ram   *physmem.RAM
	space *vmm.AddressSpace
	log   *slog.Logger

	table       table
	live        records
	initialized bool
}

// New creates an allocator for the given configuration. The table must fit
// in ram; space provides the scratch pages used to zero and copy clusters.
// The table contents are undefined until Init is called.
func New(cfg Config, ram *physmem.RAM, space *vmm.AddressSpace) (*Allocator, *kernel.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	entries, err := ram.Words(cfg.TableAddress, cfg.ClusterCount)
	if err != nil {
		return nil, errTableOutOfRange
	}

	return &Allocator{
		cfg:   cfg,
		ram:   ram,
		space: space,
		log:   kfmt.Logger("cluster"),
		table: table{
			entries:     entries,
			dataBase:    cfg.DataBase(),
			clusterSize: cfg.ClusterSize,
		},
		live: newRecords(),
	}, nil
}

// Config returns the configuration the allocator was created with.
func (a *Allocator) Config() Config {
	return a.cfg
}

// acquire masks interrupts and takes the allocator lock. The returned value
// must be passed to release.
func (a *Allocator) acquire() bool {
	ints := cpu.StartNoInts()
	a.lock.Acquire()
	return ints
}

func (a *Allocator) release(ints bool) {
	a.lock.Release()
	cpu.EndNoInts(ints)
}

// Init builds the cluster table from the firmware memory map. Clusters that
// lie entirely inside a usable region and inside installed memory become
// free; everything else is marked NotPresent. Init may only run once.
func (a *Allocator) Init(regions []Region) *kernel.Error {
	ints := a.acquire()
	defer a.release(ints)

	if a.initialized {
		return errAlreadyInitialized
	}

	free := a.table.populate(regions, pmm.PhysAddr(a.ram.Size()))
	a.initialized = true

	a.log.Info("cluster table initialized",
		"table", a.cfg.TableAddress,
		"data", a.table.dataBase,
		"clusters", len(a.table.entries),
		"free", free,
		"cluster_size", uint64(a.cfg.ClusterSize),
	)
	return nil
}

// AddressOf returns the physical address of cluster n.
func (a *Allocator) AddressOf(n uint64) pmm.PhysAddr {
	return a.table.addressOf(n)
}

// ClusterOf returns the index of the cluster containing addr. Addresses
// below the data region map to cluster 0.
func (a *Allocator) ClusterOf(addr pmm.PhysAddr) uint64 {
	return a.table.clusterOf(addr)
}

// Entry returns the raw table entry of cluster n. Out of range indices
// report NotPresent.
func (a *Allocator) Entry(n uint64) uint64 {
	ints := a.acquire()
	defer a.release(ints)

	if n >= uint64(len(a.table.entries)) || !a.initialized {
		return NotPresent
	}
	return a.table.entries[n]
}

// Alloc reserves at least size bytes of zero-filled physical memory and
// returns its base address. A zero size yields the null address.
func (a *Allocator) Alloc(size mem.Size) (pmm.PhysAddr, *kernel.Error) {
	return a.AllocAligned(size, 1)
}

// AllocAligned works like Alloc but the returned base address is a multiple
// of align, which must be a power of two.
func (a *Allocator) AllocAligned(size, align mem.Size) (pmm.PhysAddr, *kernel.Error) {
	ints := a.acquire()
	defer a.release(ints)

	return a.allocLocked(size, align)
}

func (a *Allocator) allocLocked(size, align mem.Size) (pmm.PhysAddr, *kernel.Error) {
	if size == 0 {
		return 0, nil
	}
	if !align.IsPowerOfTwo() {
		return 0, ErrBadAlignment
	}
	if !a.initialized {
		return 0, errNotInitialized
	}

	// First fit: a run may only start at an aligned cluster and is extended
	// by the free clusters that follow it.
	var (
		t             = &a.table
		start, count  uint64
		clusterSize   = t.clusterSize
		enough        bool
		totalClusters = uint64(len(t.entries))
	)
	for n := uint64(0); n < totalClusters; n++ {
		if t.entries[n] == Free && (count > 0 || t.addressOf(n).IsAligned(align)) {
			if count == 0 {
				start = n
			}
			count++
			if mem.Size(count)*clusterSize >= size {
				enough = true
				break
			}
		} else {
			count = 0
		}
	}

	if !enough {
		a.log.Debug("allocation failed", "size", uint64(size), "align", uint64(align))
		return 0, ErrOutOfMemory
	}

	base := t.addressOf(start)
	for n := start; n < start+count; n++ {
		t.entries[n] = uint64(base)
		if err := a.zeroCluster(t.addressOf(n)); err != nil {
			for m := start; m < start+count; m++ {
				t.entries[m] = Free
			}
			return 0, err
		}
	}
	a.live.add(base, count)

	return base, nil
}

// zeroCluster clears a cluster one page at a time through the write
// scratch page.
func (a *Allocator) zeroCluster(addr pmm.PhysAddr) *kernel.Error {
	for off := mem.Size(0); off < a.table.clusterSize; off += mem.PageSize {
		tm, err := a.space.MapTemporary(vmm.ScratchWrite, addr.Add(off).Frame(), vmm.FlagKernelWrite)
		if err != nil {
			return err
		}

		buf, err := tm.Bytes()
		if err == nil {
			mem.Memset(buf, 0)
		}

		if relErr := releaseTempFn(tm); err == nil {
			err = relErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// copyRegion copies size bytes from src to dst one page at a time. The
// source is mapped read-only and the destination kernel-writable.
func (a *Allocator) copyRegion(dst, src pmm.PhysAddr, size mem.Size) *kernel.Error {
	for off := mem.Size(0); off < size; off += mem.PageSize {
		if err := a.copyPage(dst.Add(off), src.Add(off), min(mem.PageSize, size-off)); err != nil {
			return err
		}
	}
	return nil
}

// copyPage copies size bytes between two frames. A failure to restore either
// scratch entry is reported unless an earlier error is already being returned.
func (a *Allocator) copyPage(dst, src pmm.PhysAddr, size mem.Size) (err *kernel.Error) {
	from, err := a.space.MapTemporary(vmm.ScratchRead, src.Frame(), vmm.FlagKernelRead)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := releaseTempFn(from); err == nil {
			err = relErr
		}
	}()

	to, err := a.space.MapTemporary(vmm.ScratchWrite, dst.Frame(), vmm.FlagKernelWrite)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := releaseTempFn(to); err == nil {
			err = relErr
		}
	}()

	srcBuf, err := from.Bytes()
	if err != nil {
		return err
	}
	dstBuf, err := to.Bytes()
	if err != nil {
		return err
	}

	mem.Memcopy(dstBuf[:size], srcBuf[:size])
	return nil
}

// AllocSize returns the size in bytes of the allocation based at ptr: the
// number of clusters in its run times the cluster size. It returns 0 for the
// null address and for addresses that do not start an allocation.
func (a *Allocator) AllocSize(ptr pmm.PhysAddr) mem.Size {
	ints := a.acquire()
	defer a.release(ints)

	return a.allocSizeLocked(ptr)
}

func (a *Allocator) allocSizeLocked(ptr pmm.PhysAddr) mem.Size {
	if ptr == 0 || !a.initialized {
		return 0
	}
	return mem.Size(a.table.runLength(a.table.clusterOf(ptr), uint64(ptr))) * a.table.clusterSize
}

// Unalloc returns the allocation based at ptr to the free pool. Freeing the
// null address is a no-op. Addresses that do not start a live allocation,
// including already freed ones, are rejected with ErrInvalidAddress.
func (a *Allocator) Unalloc(ptr pmm.PhysAddr) *kernel.Error {
	if ptr == 0 {
		return nil
	}

	ints := a.acquire()
	defer a.release(ints)

	return a.unallocLocked(ptr)
}

func (a *Allocator) unallocLocked(ptr pmm.PhysAddr) *kernel.Error {
	if _, live := a.live.get(ptr); !live {
		a.log.Debug("rejected free of unknown address", "addr", ptr)
		return ErrInvalidAddress
	}

	t := &a.table
	for n := t.clusterOf(ptr); n < uint64(len(t.entries)) && t.entries[n] == uint64(ptr); n++ {
		t.entries[n] = Free
	}
	a.live.remove(ptr)

	return nil
}

// UnallocType frees the allocation that starts at the value p points to.
func UnallocType[T any](a *Allocator, p *T) *kernel.Error {
	if p == nil {
		return nil
	}

	addr, ok := a.ram.AddressOf(unsafe.Pointer(p))
	if !ok {
		return ErrInvalidAddress
	}
	return a.Unalloc(addr)
}

// Realloc resizes the allocation based at ptr; see ReallocAligned.
func (a *Allocator) Realloc(ptr pmm.PhysAddr, size mem.Size) (pmm.PhysAddr, *kernel.Error) {
	return a.ReallocAligned(ptr, size, 1)
}

// ReallocAligned resizes the allocation based at ptr to hold at least size
// bytes at an address that is a multiple of align:
//
//   - a zero size frees ptr and returns the null address.
//   - a null ptr behaves like AllocAligned.
//   - if ptr is suitably aligned and its run already holds size bytes, ptr
//     is returned unchanged. Runs are never split.
//   - otherwise a new run is allocated, the first min(old, size) bytes are
//     copied over and ptr is freed. If the new run cannot be allocated, ptr
//     stays valid and the error is returned.
func (a *Allocator) ReallocAligned(ptr pmm.PhysAddr, size, align mem.Size) (pmm.PhysAddr, *kernel.Error) {
	ints := a.acquire()
	defer a.release(ints)

	return a.reallocLocked(ptr, size, align)
}

func (a *Allocator) reallocLocked(ptr pmm.PhysAddr, size, align mem.Size) (pmm.PhysAddr, *kernel.Error) {
	if size == 0 {
		if ptr == 0 {
			return 0, nil
		}
		return 0, a.unallocLocked(ptr)
	}
	if ptr == 0 {
		return a.allocLocked(size, align)
	}
	if !align.IsPowerOfTwo() {
		return 0, ErrBadAlignment
	}

	rec, live := a.live.get(ptr)
	if !live {
		return 0, ErrInvalidAddress
	}

	oldSize := mem.Size(rec.clusters) * a.table.clusterSize
	if size <= oldSize && ptr.IsAligned(align) {
		return ptr, nil
	}

	newPtr, err := a.allocLocked(size, align)
	if err != nil {
		return 0, err
	}

	if err = a.copyRegion(newPtr, ptr, min(oldSize, size)); err != nil {
		_ = a.unallocLocked(newPtr)
		return 0, err
	}

	return newPtr, a.unallocLocked(ptr)
}

// ReallocInplace reports whether the allocation based at ptr can hold size
// bytes without moving. It returns size if so and the current size of the
// allocation otherwise. The table is never modified.
func (a *Allocator) ReallocInplace(ptr pmm.PhysAddr, size mem.Size) mem.Size {
	ints := a.acquire()
	defer a.release(ints)

	if cur := a.allocSizeLocked(ptr); size > cur {
		return cur
	}
	return size
}

// MemoryUsed returns the number of bytes held by live allocations. It scans
// the whole table and is meant for diagnostics.
func (a *Allocator) MemoryUsed() mem.Size {
	return a.Stats().UsedBytes()
}

// MemoryFree returns the number of bytes available for allocation. It scans
// the whole table and is meant for diagnostics.
func (a *Allocator) MemoryFree() mem.Size {
	return a.Stats().FreeBytes()
}
