package vmm

const (
	// pageLevels indicates the number of page levels of the emulated MMU,
	// which follows the amd64 4-level layout.
	pageLevels = 4

	// entriesPerTable is the number of 64-bit entries stored in one page
	// table frame.
	entriesPerTable = 1 << 9

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. Bits 12-51 contain the
	// physical memory address.
	ptePhysPageMask = uint64(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings. It uses the following table
	// indices: 510, 511, 511, 511. Additional scratch slots occupy the
	// pages directly below it.
	tempMappingAddr = uint64(0xffffff7ffffff000)
)

var (
	// pageLevelBits defines the number of virtual address bits that correspond to each
	// page level. Each PageLevel uses 9 bits which amounts to 512 entries for each
	// page level.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the MMU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the MMU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// FlagKernelWrite is the flag set used for transient kernel mappings that
// need to be written to.
const FlagKernelWrite = FlagPresent | FlagRW | FlagNoExecute

// FlagKernelRead is the flag set used for transient read-only kernel mappings.
const FlagKernelRead = FlagPresent | FlagNoExecute
