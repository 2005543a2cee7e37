package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/cluster"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
	"github.com/spf13/cobra"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// stepSpec is one step of an allocation scenario.
type stepSpec struct {
	Op    string   `yaml:"op"`
	Name  string   `yaml:"name"`
	Size  byteSize `yaml:"size"`
	Align byteSize `yaml:"align"`

	// Repeat runs an alloc step this many times; the allocations are
	// named name#0, name#1 and so on.
	Repeat int `yaml:"repeat"`

	// ExpectError marks steps that are expected to fail.
	ExpectError bool `yaml:"expect_error"`
}

type scenarioSpec struct {
	Steps []stepSpec `yaml:"steps"`
}

func loadScenario(path string) (*scenarioSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading scenario")
	}

	spec := &scenarioSpec{}
	if err = yaml.Unmarshal(data, spec); err != nil {
		return nil, errors.Wrapf(err, "parsing scenario %s", path)
	}
	return spec, nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		scenarioPath string
		dump         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an allocation scenario",
		Long: `The run command boots a machine, executes the alloc, free, realloc and
check steps of a scenario file against its cluster allocator and prints
the outcome of every step followed by the final statistics.

Example:
  clusterctl run -f machine.yaml -s scenario.yaml
  clusterctl run -f machine.yaml -s scenario.yaml --dump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := loadScenario(scenarioPath)
			if err != nil {
				return err
			}

			k, err := bootMachine(cmd, flags)
			if err != nil {
				return err
			}
			defer k.Shutdown()

			out := cmd.OutOrStdout()
			r := &scenarioRunner{alloc: k.Clusters, out: out, p: newPrinter(), live: make(map[string]pmm.PhysAddr)}
			if err = r.run(scenario.Steps); err != nil {
				return err
			}

			io.WriteString(out, "\n")
			printStats(out, k.Clusters)
			if dump {
				io.WriteString(out, "\n")
				return errors.Wrap(k.Clusters.DumpTable(out), "dumping cluster table")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "Scenario file (YAML)")
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump the cluster table after the run")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

// scenarioRunner executes scenario steps, tracking live allocations by name.
type scenarioRunner struct {
	alloc *cluster.Allocator
	out   io.Writer
	p     *message.Printer
	live  map[string]pmm.PhysAddr
}

func (r *scenarioRunner) run(steps []stepSpec) error {
	for i, step := range steps {
		repeat := max(step.Repeat, 1)
		for n := 0; n < repeat; n++ {
			name := step.Name
			if step.Repeat > 0 {
				name = fmt.Sprintf("%s#%d", step.Name, n)
			}

			kerr, err := r.exec(step, name)
			if err != nil {
				return errors.Wrapf(err, "step %d", i+1)
			}

			switch {
			case kerr != nil && !step.ExpectError:
				return errors.Wrapf(kerr, "step %d (%s %s)", i+1, step.Op, name)
			case kerr == nil && step.ExpectError:
				return errors.Errorf("step %d (%s %s): expected an error", i+1, step.Op, name)
			}
		}
	}
	return nil
}

// exec runs a single step. Allocator failures are returned as kernel errors
// so the caller can match them against expectations; malformed steps yield
// a regular error.
func (r *scenarioRunner) exec(step stepSpec, name string) (*kernel.Error, error) {
	align := mem.Size(max(step.Align, 1))

	switch step.Op {
	case "alloc":
		if _, exists := r.live[name]; exists {
			return nil, errors.Errorf("allocation %q already exists", name)
		}

		addr, kerr := r.alloc.AllocAligned(mem.Size(step.Size), align)
		r.report("alloc", name, addr, kerr)
		if kerr == nil && addr != 0 {
			r.live[name] = addr
		}
		return kerr, nil

	case "free":
		addr, exists := r.live[name]
		if !exists {
			return nil, errors.Errorf("unknown allocation %q", name)
		}

		kerr := r.alloc.Unalloc(addr)
		if kerr == nil {
			delete(r.live, name)
		}
		r.p.Fprintf(r.out, "%-8s %-12s %s\n", "free", name, outcome(kerr))
		return kerr, nil

	case "realloc":
		addr, exists := r.live[name]
		if !exists {
			return nil, errors.Errorf("unknown allocation %q", name)
		}

		newAddr, kerr := r.alloc.ReallocAligned(addr, mem.Size(step.Size), align)
		r.report("realloc", name, newAddr, kerr)
		if kerr == nil {
			delete(r.live, name)
			if newAddr != 0 {
				r.live[name] = newAddr
			}
		}
		return kerr, nil

	case "check":
		kerr := r.alloc.CheckInvariants()
		r.p.Fprintf(r.out, "%-8s %-12s %s\n", "check", "", outcome(kerr))
		return kerr, nil
	}

	return nil, errors.Errorf("unknown operation %q", step.Op)
}

func (r *scenarioRunner) report(op, name string, addr pmm.PhysAddr, kerr *kernel.Error) {
	if kerr != nil {
		r.p.Fprintf(r.out, "%-8s %-12s %s\n", op, name, outcome(kerr))
		return
	}
	r.p.Fprintf(r.out, "%-8s %-12s %s (%d bytes)\n", op, name, addr, r.alloc.AllocSize(addr))
}

func outcome(kerr *kernel.Error) string {
	if kerr != nil {
		return "failed: " + kerr.Message
	}
	return "ok"
}
