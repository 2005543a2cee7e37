package vmm

import "github.com/redox-os/redox-sub002/kernel/mem"

// Page describes a virtual memory page index.
type Page uint64

// Address returns the virtual address of the first byte of this Page.
func (p Page) Address() uint64 {
	return uint64(p) << mem.PageShift
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. Addresses that are not page-aligned are rounded down to the page
// that contains them.
func PageFromAddress(virtAddr uint64) Page {
	return Page((virtAddr &^ uint64(mem.PageSize-1)) >> mem.PageShift)
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uint64) mem.Size {
	return mem.Size(virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
