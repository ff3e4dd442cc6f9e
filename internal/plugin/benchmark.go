package plugin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bugbase/internal/stats"
	"bugbase/internal/trigger"
)

// Benchmark is the analysis plugin that replaces the trigger's run with
// its strategy's benchmark run and persists the timing statistics to the
// append-only benchmark log.
type Benchmark struct {
	// Progress receives sample-collection updates, nil to disable.
	Progress trigger.ProgressFunc
}

func (b *Benchmark) Name() string { return "benchmark" }

// PreTriggerRun swaps the trigger's run for the benchmark run of its
// launch strategy. It runs after the main plugin's hook, so the command
// and binary variant the main plugin selected are what gets timed.
func (b *Benchmark) PreTriggerRun(ctx context.Context, t *trigger.Trigger) error {
	limits := trigger.Limits{
		ExpectedResults: t.Conf.Benchmark.WantedResults,
		KeptRuns:        t.Conf.Benchmark.KeptRuns,
		MaximumTries:    t.Conf.Benchmark.MaximumTries,
	}
	bench := t.Strategy.Benchmark(t, limits)
	if err := bench.PreRun(ctx); err != nil {
		return err
	}
	setProgress(bench, b.Progress)
	t.OverrideRun(bench.Run)
	return nil
}

func setProgress(bench trigger.Benchmark, fn trigger.ProgressFunc) {
	if fn == nil {
		return
	}
	switch b := bench.(type) {
	case *trigger.PlainBenchmark:
		b.Progress = fn
	case *trigger.ServerBenchmark:
		b.Progress = fn
	case *trigger.ABBenchmark:
		b.Progress = fn
	}
}

func (b *Benchmark) PostTriggerRun(_ context.Context, t *trigger.Trigger) error {
	if len(t.Results) == 0 {
		return fmt.Errorf("%w: benchmark of %s produced no samples", ErrPluginFailure, t.Program.Name)
	}

	rec := Record{
		Program:  t.Program.Name,
		Plugin:   t.Plugin,
		Kept:     len(t.Results),
		Mean:     stats.Mean(t.Results),
		Stdev:    stats.Stdev(t.Results),
		Variance: stats.Variance(t.Results),
		Samples:  t.Results,
	}
	if err := AppendRecord(t.Conf.BenchmarkLog(), rec); err != nil {
		return err
	}
	t.Log.Info().
		Float64("mean", rec.Mean).
		Float64("stdev", rec.Stdev).
		Msg("benchmark recorded")
	return nil
}

func (b *Benchmark) PostTriggerClean(context.Context, *trigger.Trigger) error { return nil }

// Record is one line of the benchmark log.
type Record struct {
	Program  string
	Plugin   string
	Kept     int
	Mean     float64
	Stdev    float64
	Variance float64
	Samples  []float64
}

// AppendRecord appends one record to the benchmark log, creating the
// log and its directory when missing. One line per record:
//
//	program,plugin,kept,mean,stdev,variance s1 s2 ...
func AppendRecord(path string, rec Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("preparing benchmark log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening benchmark log: %w", err)
	}
	defer f.Close()

	raw := make([]string, len(rec.Samples))
	for i, s := range rec.Samples {
		raw[i] = strconv.FormatFloat(s, 'g', -1, 64)
	}
	_, err = fmt.Fprintf(f, "%s,%s,%d,%g,%g,%g %s\n",
		rec.Program, rec.Plugin, rec.Kept, rec.Mean, rec.Stdev, rec.Variance,
		strings.Join(raw, " "))
	if err != nil {
		return fmt.Errorf("writing benchmark log: %w", err)
	}
	return nil
}

// ReadRecords parses a benchmark log. Malformed lines are an error: the
// log is machine-written, a bad line means something else wrote to it.
func ReadRecords(r io.Reader) ([]Record, error) {
	var out []Record
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseRecord(line string) (Record, error) {
	fields := strings.SplitN(line, ",", 6)
	if len(fields) != 6 {
		return Record{}, fmt.Errorf("malformed benchmark record %q", line)
	}

	rec := Record{Program: fields[0], Plugin: fields[1]}
	var err error
	if rec.Kept, err = strconv.Atoi(fields[2]); err != nil {
		return Record{}, fmt.Errorf("malformed benchmark record %q: %w", line, err)
	}
	if rec.Mean, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return Record{}, fmt.Errorf("malformed benchmark record %q: %w", line, err)
	}
	if rec.Stdev, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return Record{}, fmt.Errorf("malformed benchmark record %q: %w", line, err)
	}

	rest := strings.Fields(fields[5])
	if len(rest) == 0 {
		return Record{}, fmt.Errorf("malformed benchmark record %q", line)
	}
	if rec.Variance, err = strconv.ParseFloat(rest[0], 64); err != nil {
		return Record{}, fmt.Errorf("malformed benchmark record %q: %w", line, err)
	}
	for _, s := range rest[1:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Record{}, fmt.Errorf("malformed benchmark record %q: %w", line, err)
		}
		rec.Samples = append(rec.Samples, v)
	}
	return rec, nil
}
