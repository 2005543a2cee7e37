package kmain

import (
	"strconv"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
)

// Command line options understood by ParseBootOptions. Numeric values
// accept decimal, 0x-prefixed hex and 0-prefixed octal notation.
const (
	OptClusterSize   = "cluster_size"
	OptClusterCount  = "cluster_count"
	OptPageTableBase = "pt_base"
	OptPageTableSize = "pt_size"
)

var errBadOption = &kernel.Error{Module: "kmain", Message: "malformed numeric boot option"}

// ParseBootOptions applies the options in kv to cfg. Unknown keys are
// ignored. Moving or resizing the page-table region also moves the cluster
// table so that it directly follows the page tables.
func ParseBootOptions(cfg BootConfig, kv map[string]string) (BootConfig, *kernel.Error) {
	var (
		value    uint64
		err      *kernel.Error
		relocate bool
	)

	if value, err = parseOption(kv, OptClusterSize, uint64(cfg.Cluster.ClusterSize)); err != nil {
		return cfg, err
	}
	cfg.Cluster.ClusterSize = mem.Size(value)

	if value, err = parseOption(kv, OptClusterCount, cfg.Cluster.ClusterCount); err != nil {
		return cfg, err
	}
	cfg.Cluster.ClusterCount = value

	if value, err = parseOption(kv, OptPageTableBase, uint64(cfg.PageTableBase)); err != nil {
		return cfg, err
	}
	relocate = relocate || pmm.PhysAddr(value) != cfg.PageTableBase
	cfg.PageTableBase = pmm.PhysAddr(value)

	if value, err = parseOption(kv, OptPageTableSize, uint64(cfg.PageTableSize)); err != nil {
		return cfg, err
	}
	relocate = relocate || mem.Size(value) != cfg.PageTableSize
	cfg.PageTableSize = mem.Size(value)

	if relocate {
		cfg.Cluster.TableAddress = cfg.PageTableBase.Add(cfg.PageTableSize)
	}
	return cfg, nil
}

func parseOption(kv map[string]string, key string, def uint64) (uint64, *kernel.Error) {
	raw, ok := kv[key]
	if !ok {
		return def, nil
	}

	value, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		log.Warn("malformed boot option", "option", key, "value", raw)
		return 0, errBadOption
	}
	return value, nil
}
