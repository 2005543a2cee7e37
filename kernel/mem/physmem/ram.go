// Package physmem emulates the machine's physical memory. The whole
// physical address space [0, Size) is backed by one host memory arena that
// lives outside the Go heap, so kernel data placed in it (page tables, the
// cluster table, allocations) is never moved or scanned by the garbage
// collector.
package physmem

import (
	"unsafe"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

var (
	// mapArenaFn and unmapArenaFn are overridden by tests to simulate
	// host mapping failures.
	mapArenaFn   = mapArena
	unmapArenaFn = unmapArena

	errZeroSize    = &kernel.Error{Module: "physmem", Message: "physical memory size must be non-zero"}
	errMapFailed   = &kernel.Error{Module: "physmem", Message: "unable to reserve host memory for the physical address space"}
	errOutOfRange  = &kernel.Error{Module: "physmem", Message: "physical address range lies outside installed memory"}
	errClosed      = &kernel.Error{Module: "physmem", Message: "physical memory has been released"}
	errUnmapFailed = &kernel.Error{Module: "physmem", Message: "unable to release host memory"}
)

// RAM is the physical address space of the emulated machine.
type RAM struct {
	data []byte
}

// New reserves size bytes of physical memory, rounded up to a whole number
// of pages. The memory is zero-filled.
func New(size mem.Size) (*RAM, *kernel.Error) {
	if size == 0 {
		return nil, errZeroSize
	}

	data, err := mapArenaFn(int(size.AlignUp(mem.PageSize)))
	if err != nil {
		return nil, errMapFailed
	}

	return &RAM{data: data}, nil
}

// Size returns the amount of installed physical memory.
func (r *RAM) Size() mem.Size {
	return mem.Size(len(r.data))
}

// Contains returns true if [addr, addr+size) lies inside installed memory.
func (r *RAM) Contains(addr pmm.PhysAddr, size mem.Size) bool {
	end := uint64(addr) + uint64(size)
	return end >= uint64(addr) && end <= uint64(len(r.data))
}

// Bytes returns the physical memory range [addr, addr+size) as a byte slice
// that aliases the underlying memory.
func (r *RAM) Bytes(addr pmm.PhysAddr, size mem.Size) ([]byte, *kernel.Error) {
	if r.data == nil {
		return nil, errClosed
	}
	if !r.Contains(addr, size) {
		return nil, errOutOfRange
	}

	return r.data[addr : uint64(addr)+uint64(size) : uint64(addr)+uint64(size)], nil
}

// Frame returns the contents of a physical frame.
func (r *RAM) Frame(frame pmm.Frame) ([]byte, *kernel.Error) {
	return r.Bytes(frame.Address(), mem.PageSize)
}

// Words returns the physical memory range [addr, addr+count*8) viewed as
// 64-bit words. The address must be 8-byte aligned.
func (r *RAM) Words(addr pmm.PhysAddr, count uint64) ([]uint64, *kernel.Error) {
	if count == 0 {
		return nil, nil
	}
	if !addr.IsAligned(8) {
		return nil, errOutOfRange
	}

	b, err := r.Bytes(addr, mem.Size(count<<mem.PointerShift))
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), count), nil
}

// AddressOf translates a host pointer into installed memory back to its
// physical address.
func (r *RAM) AddressOf(ptr unsafe.Pointer) (pmm.PhysAddr, bool) {
	if r.data == nil || ptr == nil {
		return 0, false
	}

	base := uintptr(unsafe.Pointer(&r.data[0]))
	p := uintptr(ptr)
	if p < base || p-base >= uintptr(len(r.data)) {
		return 0, false
	}

	return pmm.PhysAddr(p - base), true
}

// Close releases the host memory backing the physical address space. Any
// slice previously returned by Bytes, Frame or Words becomes invalid.
func (r *RAM) Close() *kernel.Error {
	if r.data == nil {
		return nil
	}

	data := r.data
	r.data = nil
	if err := unmapArenaFn(data); err != nil {
		return errUnmapFailed
	}
	return nil
}
