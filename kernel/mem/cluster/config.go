package cluster

import (
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// Config describes the geometry of the cluster table and the data region it
// manages.
type Config struct {
	// ClusterSize is the allocation granularity. It must be a power of two
	// and a multiple of mem.PageSize.
	ClusterSize mem.Size

	// ClusterCount is the number of table entries. A zero value asks
	// FitTo to derive it from the installed memory.
	ClusterCount uint64

	// TableAddress is the physical address of the first table entry. The
	// data region starts after the table.
	TableAddress pmm.PhysAddr
}

// DefaultConfig returns the configuration used when the boot command line
// does not override it: 4 KiB clusters with the table placed at 1.25 MiB,
// right after the default page-table region.
func DefaultConfig() Config {
	return Config{
		ClusterSize:  4 * mem.Kb,
		ClusterCount: 0,
		TableAddress: pmm.PhysAddr(mem.Mb + 256*mem.Kb),
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() *kernel.Error {
	switch {
	case !c.ClusterSize.IsPowerOfTwo() || c.ClusterSize < mem.PageSize:
		return errBadClusterSize
	case c.ClusterCount == 0:
		return errBadClusterCount
	case !c.TableAddress.IsAligned(8):
		return errBadTableAddress
	}
	return nil
}

// TableSize returns the number of bytes occupied by the table.
func (c Config) TableSize() mem.Size {
	return mem.Size(c.ClusterCount << mem.PointerShift)
}

// DataBase returns the physical address of cluster 0. The table is stored
// immediately before the region it describes; the base is rounded up to a
// cluster boundary so every cluster is page aligned.
func (c Config) DataBase() pmm.PhysAddr {
	end := mem.Size(c.TableAddress) + c.TableSize()
	return pmm.PhysAddr(end.AlignUp(c.ClusterSize))
}

// End returns the address right after the last cluster of the data region.
func (c Config) End() pmm.PhysAddr {
	return c.DataBase().Add(mem.Size(c.ClusterCount) * c.ClusterSize)
}

// FitTo returns a copy of c whose ClusterCount, if unset, is the largest
// count for which both the table and the data region fit in ramSize bytes
// of physical memory. A configuration that already carries a count is
// returned unchanged.
func (c Config) FitTo(ramSize mem.Size) Config {
	if c.ClusterCount != 0 || !c.ClusterSize.IsPowerOfTwo() || mem.Size(c.TableAddress) >= ramSize {
		return c
	}

	// Every cluster costs its own size plus one table entry; start from
	// that estimate and shrink until the rounded layout fits.
	avail := ramSize - mem.Size(c.TableAddress)
	c.ClusterCount = uint64(avail / (c.ClusterSize + 8))
	for c.ClusterCount > 0 && uint64(c.End()) > uint64(ramSize) {
		c.ClusterCount--
	}
	return c
}
