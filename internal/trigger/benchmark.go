package trigger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bugbase/internal/proc"
	"bugbase/internal/template"
)

// Limits bounds a benchmark run: how many timing samples to collect, how
// many trailing samples to keep (the leading ones are warm-up), and how
// many attempts to spend before declaring the benchmark failed.
type Limits struct {
	ExpectedResults int
	KeptRuns        int
	MaximumTries    int
}

// ProgressFunc reports sample collection progress, nil to disable.
type ProgressFunc func(done, total int)

// Benchmark is a timing/repetition policy bound to one Trigger. Run
// either fills the trigger's result payload and returns VerdictSuccess,
// or returns VerdictFailure once the retry ceiling is reached — never
// VerdictUnknown.
type Benchmark interface {
	PreRun(ctx context.Context) error
	Run(ctx context.Context) (Verdict, error)
}

// sampleSettleDelay separates consecutive client/server timing samples
// so the server's artifacts flush between runs.
const sampleSettleDelay = 2 * time.Second

// keepTrailing returns the trailing kept-runs window of samples.
func (l Limits) keepTrailing(samples []float64) []float64 {
	if l.KeptRuns >= len(samples) {
		return samples
	}
	return samples[len(samples)-l.KeptRuns:]
}

// PlainBenchmark times repeated invocations of the trigger command.
type PlainBenchmark struct {
	Trigger  *Trigger
	Limits   Limits
	Progress ProgressFunc
}

// PreRun swaps in the benchmark command variant, materializing a heavier
// workload file first when the catalog asks for one.
func (b *PlainBenchmark) PreRun(ctx context.Context) error {
	prog := b.Trigger.Program
	if prog.BenchmarkCmd == "" {
		return nil
	}

	vars := prog.Vars()
	if prog.BenchmarkWorkloadMiB > 0 {
		path, err := proc.CreateWorkloadFile(b.Trigger.Conf.Trigger.WorkloadDir, prog.BenchmarkWorkloadMiB)
		if err != nil {
			return err
		}
		vars["workload"] = path
		b.Trigger.AddJanitor(func() { _ = os.Remove(path) })
	}

	cmd, err := template.Substitute(prog.BenchmarkCmd, vars)
	if err != nil {
		return fmt.Errorf("benchmark command for %s: %w", prog.Name, err)
	}
	b.Trigger.Command = cmd
	return nil
}

func (b *PlainBenchmark) Run(ctx context.Context) (Verdict, error) {
	t := b.Trigger
	t.Log.Debug().Str("command", t.Command).Msg("benchmarking")

	var samples []float64
	tries := 0
	for len(samples) < b.Limits.ExpectedResults && tries < b.Limits.MaximumTries {
		if err := ctx.Err(); err != nil {
			return VerdictUnknown, err
		}
		tries++

		start := t.Clock.Now()
		res, err := t.Launcher.Run(ctx, t.Command)
		if err != nil {
			return VerdictUnknown, err // the harness itself failed to launch
		}
		elapsed := t.Clock.Since(start)

		if res.ExitCode != 0 {
			t.Log.Warn().Int("exit_code", res.ExitCode).Msg("benchmark attempt failed, retrying")
			continue
		}

		samples = append(samples, elapsed.Seconds())
		if b.Progress != nil {
			b.Progress(len(samples), b.Limits.ExpectedResults)
		}
	}

	if len(samples) < b.Limits.ExpectedResults {
		t.Log.Warn().Int("tries", tries).Msg("benchmark gave up")
		return VerdictFailure, nil
	}

	t.Results = b.Limits.keepTrailing(samples)
	t.Log.Debug().Floats64("samples", t.Results).Msg("benchmark samples collected")
	return VerdictSuccess, nil
}

// ServerBenchmark times full server+workers cycles, keeping only samples
// from runs whose classification came back clean so the numbers never
// include a run that did not behave.
type ServerBenchmark struct {
	Trigger  *Trigger
	Strategy *ServerStrategy
	Limits   Limits
	Progress ProgressFunc
}

// PreRun applies the catalog's benchmark iteration override, so a run
// lasts long enough to time meaningfully.
func (b *ServerBenchmark) PreRun(ctx context.Context) error {
	return nil
}

func (b *ServerBenchmark) Run(ctx context.Context) (Verdict, error) {
	t := b.Trigger
	iterations := b.Strategy.Iterations
	if t.Program.BenchmarkIterations > 0 {
		iterations = t.Program.BenchmarkIterations
	}

	var samples []float64
	tries := 0
	for len(samples) < b.Limits.ExpectedResults && tries < b.Limits.MaximumTries {
		if err := ctx.Err(); err != nil {
			return VerdictUnknown, err
		}
		tries++

		verdict, joinTime, err := b.Strategy.runOnce(ctx, t, iterations)
		if err != nil {
			t.Log.Warn().Err(err).Msg("benchmark attempt failed, retrying")
			continue
		}
		if verdict != VerdictSuccess {
			t.Log.Warn().Stringer("verdict", verdict).Msg("trigger did not behave, retrying")
			continue
		}

		samples = append(samples, joinTime.Seconds())
		if b.Progress != nil {
			b.Progress(len(samples), b.Limits.ExpectedResults)
		}
		t.Clock.Sleep(sampleSettleDelay)
	}

	if len(samples) < b.Limits.ExpectedResults {
		t.Log.Warn().Int("tries", tries).Msg("benchmark gave up")
		return VerdictFailure, nil
	}

	t.Results = b.Limits.keepTrailing(samples)
	return VerdictSuccess, nil
}

// abRequestCount is the number of requests one apache-bench sample makes.
const abRequestCount = 30000

// ABBenchmark measures requests-per-second with the apache-bench
// utility instead of timing the harness's own helpers.
type ABBenchmark struct {
	Trigger  *Trigger
	Strategy *ServerStrategy
	Limits   Limits
	Progress ProgressFunc
}

func (b *ABBenchmark) PreRun(ctx context.Context) error {
	return nil
}

func (b *ABBenchmark) Run(ctx context.Context) (Verdict, error) {
	t := b.Trigger
	url, err := template.Substitute(t.Program.BenchmarkURL, t.Program.Vars())
	if err != nil {
		return VerdictUnknown, fmt.Errorf("benchmark url for %s: %w", t.Program.Name, err)
	}

	for tries := 0; tries < b.Limits.MaximumTries; tries++ {
		if err := ctx.Err(); err != nil {
			return VerdictUnknown, err
		}

		rps, ok, err := b.sample(ctx, t, url)
		if err != nil {
			return VerdictUnknown, err
		}
		if !ok {
			t.Log.Warn().Msg("apache-bench attempt failed, retrying")
			continue
		}

		t.Results = []float64{rps}
		t.Log.Debug().Float64("requests_per_second", rps).Msg("benchmark sample collected")
		return VerdictSuccess, nil
	}
	return VerdictFailure, nil
}

func (b *ABBenchmark) sample(ctx context.Context, t *Trigger, url string) (float64, bool, error) {
	s := b.Strategy
	if s.scanLog {
		s.cleanErrorLog(t)
	}

	if _, err := t.Launcher.StartServer(ctx, t.Command); err != nil {
		return 0, false, err
	}

	t.Clock.Sleep(s.Delay)
	res, err := t.Launcher.Run(ctx, fmt.Sprintf("ab -n %d -c 1 %s", abRequestCount, url))
	s.stopServer(ctx, t)
	if err != nil {
		return 0, false, err // apache-bench itself is missing or broken
	}
	if res.ExitCode != 0 {
		t.logOutput(res.Output)
		return 0, false, nil
	}
	if verdict := s.Classify(t, nil, 0); verdict != VerdictSuccess {
		return 0, false, nil
	}

	rps, ok := parseRequestsPerSecond(res.Output)
	return rps, ok, nil
}

func (t *Trigger) logOutput(output []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		t.Log.Debug().Msg(scanner.Text())
	}
}

// parseRequestsPerSecond extracts the throughput figure from
// apache-bench output.
func parseRequestsPerSecond(output []byte) (float64, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Requests per second:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "Requests per second:"))
		if len(fields) == 0 {
			return 0, false
		}
		rps, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, false
		}
		return rps, true
	}
	return 0, false
}
