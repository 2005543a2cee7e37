package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redox-os/redox-sub002/kernel/kfmt"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// globalFlags holds the flags shared by every command.
type globalFlags struct {
	verbose     bool
	machinePath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "clusterctl",
		Short: "Inspect and exercise the cluster memory allocator",
		Long: `clusterctl boots the kernel memory subsystem on an emulated machine
described by a YAML file, then reports on or drives its cluster allocator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.verbose {
				kfmt.SetLevel(slog.LevelDebug)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Print kernel log output to stderr")
	rootCmd.PersistentFlags().StringVarP(&flags.machinePath, "file", "f", "", "Machine description (YAML)")
	_ = rootCmd.MarkPersistentFlagRequired("file")

	rootCmd.AddCommand(
		newMemmapCmd(flags),
		newStatsCmd(flags),
		newRunCmd(flags),
	)
	return rootCmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// logSink returns the writer that receives kernel log output.
func (f *globalFlags) logSink(cmd *cobra.Command) io.Writer {
	if f.verbose {
		return cmd.ErrOrStderr()
	}
	return io.Discard
}

// newPrinter returns a printer that groups digits in byte counts.
func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}
