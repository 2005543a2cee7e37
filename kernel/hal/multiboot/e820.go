package multiboot

import (
	"encoding/binary"

	"github.com/redox-os/redox-sub002/kernel"
)

// E820EntrySize is the size of one entry of a raw E820 memory map as stored
// by the real-mode loader: base u64, length u64, type u32, ACPI attributes
// u32.
const E820EntrySize = 24

var errE820OutOfRange = &kernel.Error{Module: "multiboot", Message: "E820 table offset lies outside the image"}

// ParseE820 decodes up to maxEntries entries of a raw E820 memory map that
// starts at offset within image. Scanning stops at the first entry that does
// not describe a region: one with a zero length or with a type outside the
// range defined by the BIOS interface.
func ParseE820(image []byte, offset, maxEntries int) ([]MemoryMapEntry, *kernel.Error) {
	if offset < 0 || offset > len(image) {
		return nil, errE820OutOfRange
	}

	var entries []MemoryMapEntry
	for cur := image[offset:]; len(entries) < maxEntries && len(cur) >= E820EntrySize; cur = cur[E820EntrySize:] {
		entryType := MemoryEntryType(binary.LittleEndian.Uint32(cur[16:]))
		if binary.LittleEndian.Uint64(cur[8:]) == 0 || entryType == 0 || entryType >= memUnknown {
			break
		}

		entries = append(entries, decodeEntry(cur))
	}

	return entries, nil
}
