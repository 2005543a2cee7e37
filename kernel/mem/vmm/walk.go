package vmm

import (
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// tableEntries returns the entries stored in a page table frame.
func (as *AddressSpace) tableEntries(frame pmm.Frame) ([]uint64, *kernel.Error) {
	return as.ram.Words(frame.Address(), entriesPerTable)
}

// walk performs a page table walk for the given virtual address. It calls
// walkFn with the page table entry that corresponds to each page table level.
// After each level, the walk continues with the table that the (possibly
// updated) entry points to.
func (as *AddressSpace) walk(virtAddr uint64, walkFn pageTableWalker) *kernel.Error {
	tableFrame := as.pdtFrame

	for level := uint8(0); level < pageLevels; level++ {
		entries, err := as.tableEntries(tableFrame)
		if err != nil {
			return err
		}

		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte := (*pageTableEntry)(&entries[entryIndex])

		if !walkFn(level, pte) {
			return nil
		}

		tableFrame = pte.Frame()
	}

	return nil
}

// lastLevelEntry returns the final page table entry for a page, or nil if
// one of the intermediate tables is missing. When create is set, missing
// intermediate tables are allocated.
func (as *AddressSpace) lastLevelEntry(page Page, create bool) (*pageTableEntry, *kernel.Error) {
	var (
		entry *pageTableEntry
		err   *kernel.Error
	)

	walkErr := as.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			entry = pte
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		if !create {
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		var newTableFrame pmm.Frame
		if newTableFrame, err = as.newTable(); err != nil {
			return false
		}

		*pte = 0
		pte.SetFrame(newTableFrame)
		pte.SetFlags(FlagPresent | FlagRW)
		return true
	})

	if walkErr != nil {
		return nil, walkErr
	}
	return entry, err
}
