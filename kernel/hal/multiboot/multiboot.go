// Package multiboot decodes the boot information handed to the kernel by a
// multiboot2 compliant boot loader: the firmware memory map and the kernel
// command line.
package multiboot

import (
	"encoding/binary"
	"strings"

	"github.com/redox-os/redox-sub002/kernel"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

const (
	// infoHeaderSize is the size of the {totalSize, reserved} header that
	// precedes the first tag.
	infoHeaderSize = 8

	// tagHeaderSize is the size of the {type, size} header that precedes
	// each tag's contents.
	tagHeaderSize = 8

	// mmapHeaderSize is the size of the {entrySize, entryVersion} header
	// that precedes the memory map entries.
	mmapHeaderSize = 8

	// mmapEntrySize is the size of the fields of a memory map entry that
	// we decode: base, length and type.
	mmapEntrySize = 20
)

var (
	errInfoTooShort = &kernel.Error{Module: "multiboot", Message: "multiboot info is truncated"}
	errBadTotalSize = &kernel.Error{Module: "multiboot", Message: "multiboot info size exceeds the supplied data"}
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBad indicates defective RAM.
	MemBad

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemBad:
		return "bad"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defies a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// Info provides access to a multiboot2 information blob.
type Info struct {
	data []byte
}

// NewInfo wraps the multiboot information in data. The blob starts with its
// total size; data may be longer than that but not shorter.
func NewInfo(data []byte) (*Info, *kernel.Error) {
	if len(data) < infoHeaderSize {
		return nil, errInfoTooShort
	}

	totalSize := binary.LittleEndian.Uint32(data)
	if totalSize < infoHeaderSize || int(totalSize) > len(data) {
		return nil, errBadTotalSize
	}

	return &Info{data: data[:totalSize]}, nil
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func (i *Info) VisitMemRegions(visitor MemRegionVisitor) {
	contents := i.findTagByType(tagMemoryMap)
	if len(contents) < mmapHeaderSize {
		return
	}

	entrySize := int(binary.LittleEndian.Uint32(contents))
	if entrySize < mmapEntrySize {
		return
	}

	var entry MemoryMapEntry
	for cur := contents[mmapHeaderSize:]; len(cur) >= entrySize; cur = cur[entrySize:] {
		entry = decodeEntry(cur)
		if !visitor(&entry) {
			return
		}
	}
}

// MemoryMap returns all memory map entries.
func (i *Info) MemoryMap() []MemoryMapEntry {
	var entries []MemoryMapEntry
	i.VisitMemRegions(func(entry *MemoryMapEntry) bool {
		entries = append(entries, *entry)
		return true
	})
	return entries
}

// decodeEntry reads a {base u64, length u64, type u32} memory map entry.
// Unknown entry types are reported as reserved.
func decodeEntry(b []byte) MemoryMapEntry {
	entry := MemoryMapEntry{
		PhysAddress: binary.LittleEndian.Uint64(b),
		Length:      binary.LittleEndian.Uint64(b[8:]),
		Type:        MemoryEntryType(binary.LittleEndian.Uint32(b[16:])),
	}

	if entry.Type == 0 || entry.Type >= memUnknown {
		entry.Type = MemReserved
	}
	return entry
}

// CmdLine returns the kernel command line or an empty string if the boot
// loader did not supply one.
func (i *Info) CmdLine() string {
	contents := i.findTagByType(tagBootCmdLine)

	// The command line is a C-style NULL-terminated string
	if end := strings.IndexByte(string(contents), 0); end != -1 {
		contents = contents[:end]
	}
	return string(contents)
}

// BootCmdLine returns the command line key-value pairs passed to the kernel.
func (i *Info) BootCmdLine() map[string]string {
	return ParseCmdLine(i.CmdLine())
}

// ParseCmdLine splits a command line into key-value pairs. Arguments of the
// form "foo=bar" map foo to bar; a bare "foo" maps foo to itself.
func ParseCmdLine(cmdLine string) map[string]string {
	kv := make(map[string]string)
	for _, pair := range strings.Fields(cmdLine) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			value = key
		}
		kv[key] = value
	}
	return kv
}

// findTagByType scans the multiboot info data looking for a tag of the
// specified type and returns its contents, excluding the tag header. It
// returns nil if the tag is not present.
func (i *Info) findTagByType(want tagType) []byte {
	for cur := i.data[infoHeaderSize:]; len(cur) >= tagHeaderSize; {
		curType := binary.LittleEndian.Uint32(cur)
		size := binary.LittleEndian.Uint32(cur[4:])
		if tagType(curType) == tagMbSectionEnd || size < tagHeaderSize || int(size) > len(cur) {
			return nil
		}

		if tagType(curType) == want {
			return cur[tagHeaderSize:size]
		}

		// Tags are aligned at 8-byte aligned addresses
		next := (int(size) + 7) &^ 7
		if next > len(cur) {
			return nil
		}
		cur = cur[next:]
	}

	return nil
}
