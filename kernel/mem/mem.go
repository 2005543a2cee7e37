// Package mem defines the sizes and byte-level helpers shared by the
// physical and virtual memory managers.
package mem

const (
	// PointerShift is equal to log2(size of a page table or cluster table
	// entry). Both tables store 64-bit entries.
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Pages returns the number of pages that are required for storing this size.
func (s Size) Pages() uint64 {
	return uint64(s.AlignUp(PageSize) >> PageShift)
}

// AlignUp rounds s up to the nearest multiple of align. The alignment must
// be a power of two.
func (s Size) AlignUp(align Size) Size {
	return (s + (align - 1)) &^ (align - 1)
}

// IsPowerOfTwo returns true if s is a non-zero power of two.
func (s Size) IsPowerOfTwo() bool {
	return s != 0 && s&(s-1) == 0
}
