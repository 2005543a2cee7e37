// Package kmain brings up the memory subsystem of the emulated machine: it
// installs physical memory, builds the kernel address space and hands the
// firmware memory map to the cluster allocator.
package kmain

import (
	"io"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/hal/multiboot"
	"github.com/redox-os/redox-sub002/kernel/kfmt"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/cluster"
	"github.com/redox-os/redox-sub002/kernel/mem/physmem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
	"github.com/redox-os/redox-sub002/kernel/mem/vmm"
)

var (
	errNoMemoryMap   = &kernel.Error{Module: "kmain", Message: "boot loader did not supply a memory map"}
	errLayoutOverlap = &kernel.Error{Module: "kmain", Message: "page table region overlaps the cluster table"}

	log = kfmt.Logger("kmain")
)

// BootConfig collects everything the boot sequence needs to know about the
// machine.
type BootConfig struct {
	// RAMSize is the amount of installed physical memory.
	RAMSize mem.Size

	// MemoryMap is the firmware memory map.
	MemoryMap []multiboot.MemoryMapEntry

	// CmdLine is the kernel command line. Its options override the
	// fields below; see ParseBootOptions.
	CmdLine string

	// PageTableBase and PageTableSize delimit the physical region that
	// page tables are allocated from.
	PageTableBase pmm.PhysAddr
	PageTableSize mem.Size

	// Cluster configures the cluster allocator. A zero ClusterCount is
	// derived from RAMSize.
	Cluster cluster.Config

	// Output receives the kernel log. If nil, log output stays in the
	// early ring buffer.
	Output io.Writer
}

// DefaultBootConfig returns the configuration of a 64 MiB machine with a
// 256 KiB page-table region at 1 MiB followed by the cluster table.
func DefaultBootConfig() BootConfig {
	cfg := BootConfig{
		RAMSize:       64 * mem.Mb,
		PageTableBase: pmm.PhysAddr(mem.Mb),
		PageTableSize: 256 * mem.Kb,
		Cluster:       cluster.DefaultConfig(),
	}
	cfg.Cluster.TableAddress = cfg.PageTableBase.Add(cfg.PageTableSize)
	return cfg
}

// Kernel holds the memory subsystem of a booted machine.
type Kernel struct {
	Config BootConfig

	RAM        *physmem.RAM
	PageTables *pmm.BootMemAllocator
	Space      *vmm.AddressSpace
	Clusters   *cluster.Allocator
}

// Boot runs the boot sequence described by cfg.
func Boot(cfg BootConfig) (*Kernel, *kernel.Error) {
	if cfg.Output != nil {
		kfmt.SetOutputSink(cfg.Output)
	}

	cfg, err := ParseBootOptions(cfg, multiboot.ParseCmdLine(cfg.CmdLine))
	if err != nil {
		return nil, err
	}
	if len(cfg.MemoryMap) == 0 {
		return nil, errNoMemoryMap
	}

	ram, err := physmem.New(cfg.RAMSize)
	if err != nil {
		return nil, err
	}

	k := &Kernel{Config: cfg, RAM: ram, PageTables: &pmm.BootMemAllocator{}}
	if err = k.init(); err != nil {
		_ = ram.Close()
		return nil, err
	}

	stats := k.Clusters.Stats()
	log.Info("memory subsystem online",
		"ram", uint64(ram.Size()),
		"page_tables", k.PageTables.Capacity(),
		"clusters", stats.Clusters,
		"free", uint64(stats.FreeBytes()),
	)
	return k, nil
}

func (k *Kernel) init() *kernel.Error {
	cfg := &k.Config
	cfg.Cluster = cfg.Cluster.FitTo(k.RAM.Size())
	if cfg.PageTableBase.Add(cfg.PageTableSize) > cfg.Cluster.TableAddress {
		return errLayoutOverlap
	}

	k.PageTables.Init(cfg.PageTableBase, cfg.PageTableSize)

	var err *kernel.Error
	if k.Space, err = vmm.NewAddressSpace(k.RAM, k.PageTables.AllocFrame); err != nil {
		return err
	}
	if k.Clusters, err = cluster.New(cfg.Cluster, k.RAM, k.Space); err != nil {
		return err
	}

	regions := make([]cluster.Region, 0, len(cfg.MemoryMap))
	for _, entry := range cfg.MemoryMap {
		log.Debug("memory region",
			"base", pmm.PhysAddr(entry.PhysAddress),
			"length", entry.Length,
			"type", entry.Type.String(),
		)
		regions = append(regions, cluster.Region{
			Base:   pmm.PhysAddr(entry.PhysAddress),
			Length: mem.Size(entry.Length),
			Usable: entry.Type == multiboot.MemAvailable,
		})
	}

	return k.Clusters.Init(regions)
}

// Shutdown releases the physical memory of the machine.
func (k *Kernel) Shutdown() *kernel.Error {
	return k.RAM.Close()
}

// Kmain boots a machine with ramSize bytes of memory from a multiboot info
// blob. The memory map and command line are taken from the blob. Boot
// failures are fatal.
func Kmain(multibootInfo []byte, ramSize mem.Size) *Kernel {
	info, err := multiboot.NewInfo(multibootInfo)
	if err != nil {
		kfmt.Panic(err)
		return nil
	}

	cfg := DefaultBootConfig()
	cfg.RAMSize = ramSize
	cfg.MemoryMap = info.MemoryMap()
	cfg.CmdLine = info.CmdLine()

	k, err := Boot(cfg)
	if err != nil {
		kfmt.Panic(err)
	}
	return k
}
