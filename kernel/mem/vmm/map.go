package vmm

import (
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate page tables are allocated using the address
// space's frame allocator. The TLB entry for the page is flushed.
func (as *AddressSpace) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.mapLocked(page, frame, flags)
}

func (as *AddressSpace) mapLocked(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pte, err := as.lastLevelEntry(page, true)
	if err != nil {
		return err
	}

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	as.flushLocked(page)
	return nil
}

// Unmap removes a mapping previously installed via a call to Map or
// MapTemporary and flushes its TLB entry.
func (as *AddressSpace) Unmap(page Page) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	pte, err := as.lastLevelEntry(page, false)
	if err != nil {
		return err
	}

	// Next table is not present; this is an invalid mapping
	if pte == nil || !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	pte.ClearFlags(FlagPresent)
	as.flushLocked(page)
	return nil
}

// RawEntry returns the raw last-level page table entry for a page. Pages
// whose intermediate tables do not exist report a zero entry.
func (as *AddressSpace) RawEntry(page Page) (uint64, *kernel.Error) {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.rawEntryLocked(page)
}

func (as *AddressSpace) rawEntryLocked(page Page) (uint64, *kernel.Error) {
	pte, err := as.lastLevelEntry(page, false)
	if err != nil || pte == nil {
		return 0, err
	}
	return uint64(*pte), nil
}

// SetRawEntry overwrites the last-level page table entry for a page with a
// value previously obtained by RawEntry. Like a store to a page table in
// memory, it does not flush the TLB; callers must invoke Flush.
func (as *AddressSpace) SetRawEntry(page Page, raw uint64) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.setRawEntryLocked(page, raw)
}

func (as *AddressSpace) setRawEntryLocked(page Page, raw uint64) *kernel.Error {
	pte, err := as.lastLevelEntry(page, raw != 0)
	if err != nil {
		return err
	}

	// Restoring an empty entry for a page without tables is a no-op
	if pte != nil {
		*pte = pageTableEntry(raw)
	}
	return nil
}

// Flush invalidates the TLB entry for a page.
func (as *AddressSpace) Flush(page Page) {
	as.lock.Acquire()
	as.flushLocked(page)
	as.lock.Release()
}

func (as *AddressSpace) flushLocked(page Page) {
	delete(as.tlb, page)
	as.flushCount++
}
