package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/hal/multiboot"
	"github.com/redox-os/redox-sub002/kernel/kmain"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// byteSize is a YAML scalar holding a byte count or address. It accepts
// plain integers in any base understood by strconv and the suffixes KiB,
// MiB and GiB.
type byteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *byteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseByteSize(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*s = byteSize(v)
	return nil
}

func parseByteSize(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)

	multiplier := uint64(1)
	for suffix, m := range map[string]mem.Size{"KiB": mem.Kb, "MiB": mem.Mb, "GiB": mem.Gb} {
		if strings.HasSuffix(raw, suffix) {
			raw, multiplier = strings.TrimSpace(strings.TrimSuffix(raw, suffix)), uint64(m)
			break
		}
	}

	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, errors.Errorf("invalid size %q", raw)
	}
	return v * multiplier, nil
}

// regionSpec is one entry of a machine's memory map.
type regionSpec struct {
	Base   byteSize `yaml:"base"`
	Length byteSize `yaml:"length"`
	Type   string   `yaml:"type"`
}

// e820Spec points at a raw E820 table inside a physical memory image.
type e820Spec struct {
	Image      string   `yaml:"image"`
	Offset     byteSize `yaml:"offset"`
	MaxEntries int      `yaml:"max_entries"`
}

// machineSpec is the YAML description of an emulated machine.
type machineSpec struct {
	RAM     byteSize `yaml:"ram"`
	CmdLine string   `yaml:"cmdline"`

	PageTables struct {
		Base byteSize `yaml:"base"`
		Size byteSize `yaml:"size"`
	} `yaml:"page_tables"`

	Cluster struct {
		Size  byteSize `yaml:"size"`
		Count uint64   `yaml:"count"`
	} `yaml:"cluster"`

	// The memory map comes from exactly one of these sources.
	Regions   []regionSpec `yaml:"regions"`
	E820      *e820Spec    `yaml:"e820"`
	Multiboot string       `yaml:"multiboot"`
}

var regionTypes = map[string]multiboot.MemoryEntryType{
	"available": multiboot.MemAvailable,
	"reserved":  multiboot.MemReserved,
	"acpi":      multiboot.MemAcpiReclaimable,
	"nvs":       multiboot.MemNvs,
	"bad":       multiboot.MemBad,
}

// loadMachine reads a machine description.
func loadMachine(path string) (*machineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading machine description")
	}

	spec := &machineSpec{}
	if err = yaml.Unmarshal(data, spec); err != nil {
		return nil, errors.Wrapf(err, "parsing machine description %s", path)
	}
	return spec, nil
}

// memoryMap resolves the machine's memory map and, for multiboot sources,
// the command line embedded in the boot information.
func (m *machineSpec) memoryMap() ([]multiboot.MemoryMapEntry, string, error) {
	switch {
	case m.E820 != nil:
		image, err := os.ReadFile(m.E820.Image)
		if err != nil {
			return nil, "", errors.Wrap(err, "reading E820 image")
		}

		maxEntries := m.E820.MaxEntries
		if maxEntries <= 0 {
			maxEntries = 128
		}

		entries, kerr := multiboot.ParseE820(image, int(m.E820.Offset), maxEntries)
		if kerr != nil {
			return nil, "", errors.Wrap(kerr, "parsing E820 table")
		}
		return entries, "", nil

	case m.Multiboot != "":
		blob, err := os.ReadFile(m.Multiboot)
		if err != nil {
			return nil, "", errors.Wrap(err, "reading multiboot info")
		}

		info, kerr := multiboot.NewInfo(blob)
		if kerr != nil {
			return nil, "", errors.Wrap(kerr, "parsing multiboot info")
		}
		return info.MemoryMap(), info.CmdLine(), nil
	}

	entries := make([]multiboot.MemoryMapEntry, 0, len(m.Regions))
	for i, region := range m.Regions {
		entryType, ok := regionTypes[strings.ToLower(region.Type)]
		if !ok {
			return nil, "", errors.Errorf("region %d: unknown type %q", i, region.Type)
		}

		entries = append(entries, multiboot.MemoryMapEntry{
			PhysAddress: uint64(region.Base),
			Length:      uint64(region.Length),
			Type:        entryType,
		})
	}
	return entries, "", nil
}

// bootConfig translates the description into a kernel boot configuration.
func (m *machineSpec) bootConfig() (kmain.BootConfig, error) {
	cfg := kmain.DefaultBootConfig()

	entries, bootCmdLine, err := m.memoryMap()
	if err != nil {
		return cfg, err
	}
	cfg.MemoryMap = entries
	cfg.CmdLine = strings.TrimSpace(bootCmdLine + " " + m.CmdLine)

	if m.RAM != 0 {
		cfg.RAMSize = mem.Size(m.RAM)
	}
	if m.PageTables.Size != 0 {
		cfg.PageTableBase = pmm.PhysAddr(m.PageTables.Base)
		cfg.PageTableSize = mem.Size(m.PageTables.Size)
		cfg.Cluster.TableAddress = cfg.PageTableBase.Add(cfg.PageTableSize)
	}
	if m.Cluster.Size != 0 {
		cfg.Cluster.ClusterSize = mem.Size(m.Cluster.Size)
	}
	cfg.Cluster.ClusterCount = m.Cluster.Count

	return cfg, nil
}

// bootMachine loads the machine description named by the --file flag and
// boots it.
func bootMachine(cmd *cobra.Command, flags *globalFlags) (*kmain.Kernel, error) {
	spec, err := loadMachine(flags.machinePath)
	if err != nil {
		return nil, err
	}

	cfg, err := spec.bootConfig()
	if err != nil {
		return nil, err
	}
	cfg.Output = flags.logSink(cmd)

	k, kerr := kmain.Boot(cfg)
	if kerr != nil {
		return nil, errors.Wrap(kernel.AsError(kerr), "booting machine")
	}
	return k, nil
}
