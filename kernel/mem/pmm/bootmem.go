package pmm

import (
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
)

var errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}

// BootMemAllocator implements a rudimentary physical memory allocator which
// hands out the frames of a single reserved region in order. The kernel uses
// it for page-table frames: that region sits right below the cluster table,
// so the cluster allocator never sees these frames.
//
// Due to the way that the allocator works, it is not possible to free
// allocated frames.
type BootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// startFrame and endFrame delimit the region; endFrame is exclusive.
	startFrame, endFrame Frame
}

// Init sets up the allocator to hand out frames from [start, start+size).
// The start address is rounded up and the end address rounded down to the
// nearest frame boundary.
func (alloc *BootMemAllocator) Init(start PhysAddr, size mem.Size) {
	pageSizeMinus1 := uint64(mem.PageSize - 1)
	alloc.allocCount = 0
	alloc.startFrame = Frame(((uint64(start) + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
	alloc.endFrame = FrameFromAddress(start.Add(size))
	if alloc.endFrame < alloc.startFrame {
		alloc.endFrame = alloc.startFrame
	}
}

// AllocFrame reserves the next available frame of the region. It returns an
// error once the region is exhausted.
func (alloc *BootMemAllocator) AllocFrame() (Frame, *kernel.Error) {
	next := alloc.startFrame + Frame(alloc.allocCount)
	if next >= alloc.endFrame {
		return InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	return next, nil
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// Capacity returns the total number of frames in the region.
func (alloc *BootMemAllocator) Capacity() uint64 {
	return uint64(alloc.endFrame - alloc.startFrame)
}
