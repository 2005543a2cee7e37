package main

import (
	"io"

	"github.com/redox-os/redox-sub002/kernel/mem/cluster"
	"github.com/spf13/cobra"
)

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Boot a machine and report cluster statistics",
		Long: `The stats command boots the memory subsystem of a machine and prints
the layout and state of its cluster table.

Example:
  clusterctl stats -f machine.yaml
  clusterctl stats -f machine.yaml -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := bootMachine(cmd, flags)
			if err != nil {
				return err
			}
			defer k.Shutdown()

			printStats(cmd.OutOrStdout(), k.Clusters)
			return nil
		},
	}
}

func printStats(out io.Writer, alloc *cluster.Allocator) {
	var (
		p     = newPrinter()
		cfg   = alloc.Config()
		stats = alloc.Stats()
	)

	p.Fprintf(out, "Cluster table:     %s (%d bytes)\n", cfg.TableAddress, cfg.TableSize())
	p.Fprintf(out, "Data region:       %s - %s\n", cfg.DataBase(), cfg.End())
	p.Fprintf(out, "Cluster size:      %d bytes\n", stats.ClusterSize)
	p.Fprintf(out, "Clusters:          %d\n", stats.Clusters)
	p.Fprintf(out, "  used:            %d (%d bytes)\n", stats.Used, stats.UsedBytes())
	p.Fprintf(out, "  free:            %d (%d bytes)\n", stats.Free, stats.FreeBytes())
	p.Fprintf(out, "  not present:     %d\n", stats.NotPresent)
	p.Fprintf(out, "Live allocations:  %d\n", stats.Allocations)
	p.Fprintf(out, "Largest free run:  %d clusters\n", stats.LargestFreeRun)
}
