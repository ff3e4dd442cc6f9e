package plugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"bugbase/internal/config"
)

// Overhead is the meta plugin measuring how much each behavior slows a
// program down relative to its plain success run. BeforeRun benchmarks
// the success baseline first and then every requested main plugin;
// AfterRun reads the accumulated benchmark log and prints the ratios.
type Overhead struct {
	// Out receives the report table, os.Stdout when nil.
	Out io.Writer
}

func (o *Overhead) Name() string { return "overhead" }

func (o *Overhead) BeforeRun(reg *Registry, requested []string) ([]Selection, error) {
	bench, ok := reg.Analysis("benchmark")
	if !ok {
		return nil, fmt.Errorf("overhead needs the benchmark plugin registered")
	}
	baseline, ok := reg.Main("success")
	if !ok {
		return nil, fmt.Errorf("overhead needs the success plugin registered")
	}

	out := []Selection{{Main: baseline, Analyses: []Analysis{bench}}}
	for _, name := range requested {
		if name == baseline.Name() {
			continue
		}
		m, ok := reg.Main(name)
		if !ok {
			return nil, fmt.Errorf("unknown main plugin %q", name)
		}
		out = append(out, Selection{Main: m, Analyses: []Analysis{bench}})
	}
	return out, nil
}

// AfterRun prints one line per (program, plugin) pairing with the mean
// and its overhead factor over the program's success baseline. For
// throughput-measured programs bigger means faster, so the ratio is
// inverted to stay a slowdown factor.
func (o *Overhead) AfterRun(_ context.Context, conf *config.Config) error {
	f, err := os.Open(conf.BenchmarkLog())
	if err != nil {
		return fmt.Errorf("reading benchmark log: %w", err)
	}
	defer f.Close()

	records, err := ReadRecords(f)
	if err != nil {
		return err
	}

	// Later records win: the log is append-only across batches.
	means := make(map[string]map[string]float64)
	for _, rec := range records {
		if means[rec.Program] == nil {
			means[rec.Program] = make(map[string]float64)
		}
		means[rec.Program][rec.Plugin] = rec.Mean
	}

	programs := make([]string, 0, len(means))
	for name := range means {
		programs = append(programs, name)
	}
	sort.Strings(programs)

	out := o.Out
	if out == nil {
		out = os.Stdout
	}
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROGRAM\tPLUGIN\tMEAN\tOVERHEAD")
	for _, name := range programs {
		baseline, ok := means[name]["success"]
		if !ok || baseline == 0 {
			fmt.Fprintf(w, "%s\t-\t-\tno baseline\n", name)
			continue
		}

		throughput := false
		if prog, ok := conf.Program(name); ok {
			throughput = prog.BenchmarkURL != ""
		}

		plugins := make([]string, 0, len(means[name]))
		for p := range means[name] {
			plugins = append(plugins, p)
		}
		sort.Strings(plugins)
		for _, p := range plugins {
			mean := means[name][p]
			ratio := mean / baseline
			if throughput && mean != 0 {
				ratio = baseline / mean
			}
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%.2fx\n", name, p, mean, ratio)
		}
	}
	return w.Flush()
}
