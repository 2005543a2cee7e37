package vmm

import (
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// lookupLocked resolves the last-level entry for a page the way the MMU
// does: cached TLB entries win over the page tables.
func (as *AddressSpace) lookupLocked(page Page) (pageTableEntry, *kernel.Error) {
	if pte, cached := as.tlb[page]; cached {
		return pte, nil
	}

	pte, err := as.lastLevelEntry(page, false)
	if err != nil {
		return 0, err
	}
	if pte == nil || !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	as.tlb[page] = *pte
	return *pte, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr uint64) (pmm.PhysAddr, *kernel.Error) {
	as.lock.Acquire()
	defer as.lock.Release()

	pte, err := as.lookupLocked(PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address().Add(PageOffset(virtAddr)), nil
}

// Access returns the bytes backing [virtAddr, virtAddr+size) after checking
// the page protection flags. The range must not cross a page boundary.
// Write accesses require FlagRW.
func (as *AddressSpace) Access(virtAddr uint64, size mem.Size, write bool) ([]byte, *kernel.Error) {
	if PageOffset(virtAddr)+size > mem.PageSize {
		return nil, errCrossesPage
	}

	as.lock.Acquire()
	defer as.lock.Release()

	pte, err := as.lookupLocked(PageFromAddress(virtAddr))
	if err != nil {
		return nil, err
	}
	if write && !pte.HasFlags(FlagRW) {
		return nil, ErrPageFault
	}

	return as.ram.Bytes(pte.Frame().Address().Add(PageOffset(virtAddr)), size)
}
