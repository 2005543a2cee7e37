package cluster

import (
	"unsafe"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/cpu"
	"github.com/redox-os/redox-sub002/kernel/kfmt"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// Memory owns a cluster allocation holding count values of type T. The
// values live in physical memory outside the Go heap, so T must not contain
// Go pointers.
type Memory[T any] struct {
	alloc  *Allocator
	handle Handle
	count  int
	owned  bool
}

// NewMemory allocates zeroed storage for count values of type T.
func NewMemory[T any](a *Allocator, count int) (*Memory[T], *kernel.Error) {
	return NewMemoryAligned[T](a, count, 1)
}

// NewMemoryAligned allocates zeroed storage for count values of type T at an
// address that is a multiple of align.
func NewMemoryAligned[T any](a *Allocator, count int, align mem.Size) (*Memory[T], *kernel.Error) {
	size, err := byteSize[T](count)
	if err != nil {
		return nil, err
	}

	h, err := a.renewHandle(Handle{}, 0, size, align)
	if err != nil {
		return nil, err
	}
	return &Memory[T]{alloc: a, handle: h, count: count, owned: true}, nil
}

// renewHandle resizes the allocation identified by h to size bytes, of which
// the first used bytes hold live data, and returns the handle of the result.
// Bytes past used are cleared. A zero handle allocates a fresh, already
// zeroed run. Everything runs in one critical section so the returned handle
// cannot be stale on arrival.
func (a *Allocator) renewHandle(h Handle, used, size, align mem.Size) (Handle, *kernel.Error) {
	ints := a.acquire()
	defer a.release(ints)

	if h.Addr != 0 {
		if cur, live := a.lookupLocked(h.Addr); !live || cur.Generation != h.Generation {
			return Handle{}, ErrStaleHandle
		}
	}

	addr, err := a.reallocLocked(h.Addr, size, align)
	if err != nil {
		return Handle{}, err
	}

	// A moved run carries over bytes of the old run past used, and a kept
	// run may hold values written before an earlier shrink.
	if h.Addr != 0 && size > used {
		if b, err := a.ram.Bytes(addr.Add(used), size-used); err == nil {
			mem.Memset(b, 0)
		}
	}

	nh, _ := a.lookupLocked(addr)
	return nh, nil
}

func elemSize[T any]() mem.Size {
	var zero T
	return mem.Size(unsafe.Sizeof(zero))
}

func byteSize[T any](count int) (mem.Size, *kernel.Error) {
	if count <= 0 || elemSize[T]() == 0 {
		return 0, ErrZeroLength
	}
	return elemSize[T]() * mem.Size(count), nil
}

// Address returns the physical address of the first element.
func (m *Memory[T]) Address() pmm.PhysAddr {
	return m.handle.Addr
}

// Len returns the number of elements.
func (m *Memory[T]) Len() int {
	return m.count
}

// Size returns the number of bytes occupied by the elements. The underlying
// allocation may be larger.
func (m *Memory[T]) Size() mem.Size {
	return elemSize[T]() * mem.Size(m.count)
}

// Slice returns the elements as a slice aliasing physical memory. It returns
// nil once the memory has been freed or relinquished.
func (m *Memory[T]) Slice() []T {
	if !m.owned {
		return nil
	}

	b, err := m.alloc.ram.Bytes(m.handle.Addr, m.Size())
	if err != nil {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), m.count)
}

// element returns a pointer to element i, aborting on out of range indices.
func (m *Memory[T]) element(i int) *T {
	if i < 0 || i >= m.count || !m.owned {
		kfmt.Panic(ErrIndexOutOfRange)
		return nil
	}
	return &m.Slice()[i]
}

// Read returns element i.
func (m *Memory[T]) Read(i int) T {
	if p := m.element(i); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Write stores v into element i.
func (m *Memory[T]) Write(i int, v T) {
	if p := m.element(i); p != nil {
		*p = v
	}
}

// Load is like Read but runs with interrupts masked so the value is not
// observed half-way through an update made by an interrupt handler.
func (m *Memory[T]) Load(i int) T {
	ints := cpu.StartNoInts()
	defer cpu.EndNoInts(ints)
	return m.Read(i)
}

// Store is like Write but runs with interrupts masked.
func (m *Memory[T]) Store(i int, v T) {
	ints := cpu.StartNoInts()
	defer cpu.EndNoInts(ints)
	m.Write(i, v)
}

// Renew resizes the storage to hold count elements; see RenewAligned.
func (m *Memory[T]) Renew(count int) *kernel.Error {
	return m.RenewAligned(count, 1)
}

// RenewAligned resizes the storage to hold count elements at an address that
// is a multiple of align. Existing elements are preserved up to the smaller
// of the two counts; new elements are zero. On failure the original storage
// is left untouched.
func (m *Memory[T]) RenewAligned(count int, align mem.Size) *kernel.Error {
	if !m.owned {
		return ErrStaleHandle
	}

	size, err := byteSize[T](count)
	if err != nil {
		return err
	}

	h, err := m.alloc.renewHandle(m.handle, m.Size(), size, align)
	if err != nil {
		return err
	}

	m.handle = h
	m.count = count
	return nil
}

// IntoRaw relinquishes ownership of the allocation and returns its address.
// The caller becomes responsible for freeing it with Unalloc.
func (m *Memory[T]) IntoRaw() pmm.PhysAddr {
	m.owned = false
	return m.handle.Addr
}

// Free releases the allocation. Only the first call has any effect.
func (m *Memory[T]) Free() *kernel.Error {
	if !m.owned {
		return nil
	}
	m.owned = false
	return m.alloc.FreeHandle(m.handle)
}
