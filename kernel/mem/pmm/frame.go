// Package pmm contains the physical address types and the boot-time frame
// allocator used before the cluster allocator comes online.
package pmm

import (
	"fmt"
	"math"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
)

// PhysAddr is an address in the flat physical address space. It is kept
// distinct from virtual addresses and from plain integers so the two can
// never be mixed up silently.
type PhysAddr uint64

// Frame returns the frame that contains this address.
func (a PhysAddr) Frame() Frame {
	return Frame(uint64(a) >> mem.PageShift)
}

// Add returns the address offset bytes after a.
func (a PhysAddr) Add(offset mem.Size) PhysAddr {
	return a + PhysAddr(offset)
}

// IsAligned returns true if a is a multiple of align. The alignment must be
// a power of two.
func (a PhysAddr) IsAligned(align mem.Size) bool {
	return uint64(a)&(uint64(align)-1) == 0
}

// String implements fmt.Stringer.
func (a PhysAddr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Frame describes a physical memory page index.
type Frame uint64

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of this Frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(f << mem.PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address, rounding down addresses that are not page-aligned.
func FrameFromAddress(physAddr PhysAddr) Frame {
	return physAddr.Frame()
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)
