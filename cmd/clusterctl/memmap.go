package main

import (
	"github.com/pkg/errors"
	"github.com/redox-os/redox-sub002/kernel/hal/multiboot"
	"github.com/spf13/cobra"
)

func newMemmapCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "memmap",
		Short: "Print the machine's memory map",
		Long: `The memmap command prints the firmware memory map of a machine and the
amount of memory it reports as usable. No kernel is booted.

Example:
  clusterctl memmap -f machine.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemmap(cmd, flags)
		},
	}
}

func runMemmap(cmd *cobra.Command, flags *globalFlags) error {
	spec, err := loadMachine(flags.machinePath)
	if err != nil {
		return err
	}

	entries, _, err := spec.memoryMap()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("machine description has no memory map")
	}

	var (
		p      = newPrinter()
		out    = cmd.OutOrStdout()
		usable uint64
	)
	p.Fprintf(out, "%-18s  %-18s  %16s  %s\n", "BASE", "END", "LENGTH", "TYPE")
	for _, entry := range entries {
		p.Fprintf(out, "0x%016x  0x%016x  %16d  %s\n",
			entry.PhysAddress, entry.PhysAddress+entry.Length, entry.Length, entry.Type)
		if entry.Type == multiboot.MemAvailable {
			usable += entry.Length
		}
	}
	p.Fprintf(out, "\n%d regions, %d bytes usable\n", len(entries), usable)
	return nil
}
