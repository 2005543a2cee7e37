package vmm

import (
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// ScratchSlot identifies one of the fixed virtual pages reserved for
// temporary mappings.
type ScratchSlot uint8

const (
	// ScratchWrite is the scratch page used for kernel-write mappings
	// (zero-filling and copy destinations).
	ScratchWrite ScratchSlot = iota

	// ScratchRead is the scratch page used for read-only copy sources.
	ScratchRead

	scratchSlotCount
)

var errScratchBusy = &kernel.Error{Module: "vmm", Message: "scratch page already holds a temporary mapping"}

// Page returns the virtual page reserved for this slot.
func (s ScratchSlot) Page() Page {
	return PageFromAddress(tempMappingAddr) - Page(s)
}

// TempMapping is a live temporary mapping of a physical frame into a scratch
// page. The previous state of the scratch page is restored by Release, which
// callers normally defer right after MapTemporary succeeds.
type TempMapping struct {
	as       *AddressSpace
	slot     ScratchSlot
	prev     uint64
	write    bool
	released bool
}

// MapTemporary maps frame into the given scratch page with the supplied
// flags (FlagPresent is always added). The raw entry previously installed
// for the scratch page is saved and put back by Release. A slot can only
// hold one mapping at a time.
func (as *AddressSpace) MapTemporary(slot ScratchSlot, frame pmm.Frame, flags PageTableEntryFlag) (*TempMapping, *kernel.Error) {
	as.lock.Acquire()
	defer as.lock.Release()

	if as.scratchBusy[slot] {
		return nil, errScratchBusy
	}

	page := slot.Page()
	prev, err := as.rawEntryLocked(page)
	if err != nil {
		return nil, err
	}

	if err = as.mapLocked(page, frame, flags|FlagPresent); err != nil {
		return nil, err
	}

	as.scratchBusy[slot] = true
	return &TempMapping{
		as:    as,
		slot:  slot,
		prev:  prev,
		write: flags&FlagRW != 0,
	}, nil
}

// Page returns the scratch page used by this mapping.
func (tm *TempMapping) Page() Page {
	return tm.slot.Page()
}

// Bytes returns the contents of the mapped frame as seen through the scratch
// page.
func (tm *TempMapping) Bytes() ([]byte, *kernel.Error) {
	if tm.released {
		return nil, ErrInvalidMapping
	}
	return tm.as.Access(tm.Page().Address(), mem.PageSize, tm.write)
}

// Release restores the scratch page's previous entry and flushes its TLB
// entry. Calling Release more than once has no effect.
func (tm *TempMapping) Release() *kernel.Error {
	if tm.released {
		return nil
	}

	as := tm.as
	as.lock.Acquire()
	defer as.lock.Release()

	page := tm.Page()
	err := as.setRawEntryLocked(page, tm.prev)
	as.flushLocked(page)
	as.scratchBusy[tm.slot] = false
	tm.released = true

	return err
}
