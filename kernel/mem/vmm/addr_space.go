// Package vmm implements the virtual memory manager of the emulated machine:
// 4-level page tables kept in physical frames, a software TLB and the
// scratch-page mechanism used to reach arbitrary physical frames.
package vmm

import (
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/physmem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
	"github.com/redox-os/redox-sub002/kernel/sync"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrPageFault is returned when an access violates the protection
	// flags of the page it touches.
	ErrPageFault = &kernel.Error{Module: "vmm", Message: "page protection violation"}

	errNoFrameAllocator  = &kernel.Error{Module: "vmm", Message: "no frame allocator available for page tables"}
	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errCrossesPage       = &kernel.Error{Module: "vmm", Message: "access crosses a page boundary"}
)

// AddressSpace describes a virtual address space: the top-most page table
// (PDT) plus the TLB entries cached for it. The emulated kernel runs on a
// single address space so the TLB is owned by it.
type AddressSpace struct {
	lock sync.Spinlock

	ram        *physmem.RAM
	allocFrame pmm.FrameAllocatorFn
	pdtFrame   pmm.Frame

	// tlb caches last-level entries by page. Entries stay cached until
	// flushed, exactly like a hardware TLB.
	tlb        map[Page]pageTableEntry
	flushCount uint64

	// scratchBusy tracks which scratch slots have a live TempMapping.
	scratchBusy [scratchSlotCount]bool
}

// NewAddressSpace allocates and clears a PDT frame using allocFn. The same
// function is used whenever a missing intermediate page table has to be
// created.
func NewAddressSpace(ram *physmem.RAM, allocFn pmm.FrameAllocatorFn) (*AddressSpace, *kernel.Error) {
	if allocFn == nil {
		return nil, errNoFrameAllocator
	}

	as := &AddressSpace{
		ram:        ram,
		allocFrame: allocFn,
		tlb:        make(map[Page]pageTableEntry),
	}

	var err *kernel.Error
	if as.pdtFrame, err = as.newTable(); err != nil {
		return nil, err
	}

	return as, nil
}

// PDT returns the physical frame of the top-most page table.
func (as *AddressSpace) PDT() pmm.Frame {
	return as.pdtFrame
}

// FlushCount returns the number of TLB entry flushes performed so far.
func (as *AddressSpace) FlushCount() uint64 {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.flushCount
}

// newTable allocates a frame for a page table and clears its contents.
func (as *AddressSpace) newTable() (pmm.Frame, *kernel.Error) {
	frame, err := as.allocFrame()
	if err != nil {
		return pmm.InvalidFrame, err
	}

	contents, err := as.ram.Frame(frame)
	if err != nil {
		return pmm.InvalidFrame, err
	}
	mem.Memset(contents, 0)

	return frame, nil
}
