package trigger

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"bugbase/internal/config"
	"bugbase/internal/template"
)

// ServerStrategy runs the trigger command as a background server, drives
// it with concurrent helper workers, and classifies from the collected
// worker results (or from the server's error log, for log-scan
// scenarios).
//
// The ordering inside one run is fixed: server start, settle delay,
// worker start, worker join (bounded by Timeout), worker termination,
// server stop (best-effort, errors swallowed), result drain, second
// settle delay, classification.
type ServerStrategy struct {
	StopCmd string
	Delay   time.Duration
	Timeout time.Duration

	// NewHelpers builds a fresh set of workers for each run.
	NewHelpers func(iterations int) []Helper
	// Iterations is the per-worker iteration count handed to NewHelpers;
	// benchmark preparation may raise it.
	Iterations int
	// Workers is the number of helpers NewHelpers returns.
	Workers int

	// Classify reduces the drained results to a verdict. It receives the
	// per-worker iteration count actually used, which benchmark
	// preparation may have raised.
	Classify func(t *Trigger, results []Value, iterations int) Verdict

	scanLog bool
}

func newServerStrategy(prog *config.Program, vars template.Variables) (*ServerStrategy, error) {
	stopCmd, err := template.Substitute(prog.StopCmd, vars)
	if err != nil {
		return nil, fmt.Errorf("stop command for %s: %w", prog.Name, err)
	}

	s := &ServerStrategy{
		StopCmd: stopCmd,
		Delay:   prog.Delay,
		Timeout: prog.Timeout,
	}

	helper := prog.Helper
	if helper == nil {
		return nil, fmt.Errorf("%s: server trigger needs a helper section", prog.Name)
	}
	s.Workers = helper.Count
	if s.Workers == 0 {
		s.Workers = 1
	}
	s.Iterations = helper.Iterations

	switch helper.Kind {
	case "counter":
		addr := fmt.Sprintf("127.0.0.1:%d", prog.ListeningPort)
		key := helper.Key
		if key == "" {
			key = "test"
		}
		s.NewHelpers = func(iterations int) []Helper {
			helpers := make([]Helper, s.Workers)
			for i := range helpers {
				helpers[i] = &CounterClient{Addr: addr, Key: key, Iterations: iterations}
			}
			return helpers
		}
		s.Classify = func(t *Trigger, results []Value, iterations int) Verdict {
			return ClassifyCounter(t, results, s.Workers, int64(iterations*s.Workers))
		}

	case "url", "":
		url, err := template.Substitute(helper.URL, vars)
		if err != nil {
			return nil, fmt.Errorf("helper url for %s: %w", prog.Name, err)
		}
		var limiter *rate.Limiter
		if helper.RPS > 0 {
			limiter = rate.NewLimiter(rate.Limit(helper.RPS), helper.RPS)
		}
		extract := helper.Extract
		client := &http.Client{Timeout: 10 * time.Second}
		s.NewHelpers = func(iterations int) []Helper {
			helpers := make([]Helper, s.Workers)
			for i := range helpers {
				helpers[i] = &URLFetcher{
					URL:        url,
					Iterations: iterations,
					Client:     client,
					Limiter:    limiter,
					Extract:    extract,
				}
			}
			return helpers
		}

	default:
		return nil, fmt.Errorf("%s: unknown helper kind %q", prog.Name, helper.Kind)
	}

	if prog.ErrorPattern != "" {
		pattern, err := regexp.Compile(prog.ErrorPattern)
		if err != nil {
			return nil, fmt.Errorf("error pattern for %s: %w", prog.Name, err)
		}
		s.scanLog = true
		s.Classify = func(t *Trigger, _ []Value, _ int) Verdict {
			return classifyErrorLog(t, pattern)
		}
	}
	if s.Classify == nil {
		return nil, fmt.Errorf("%s: url trigger needs an error_pattern to classify", prog.Name)
	}
	return s, nil
}

func (s *ServerStrategy) Run(ctx context.Context, t *Trigger) (Verdict, error) {
	verdict, _, err := s.runOnce(ctx, t, s.Iterations)
	return verdict, err
}

// runOnce executes one full server+workers cycle and reports the
// verdict together with how long the worker join took (the timed sample
// for client/server benchmarks).
func (s *ServerStrategy) runOnce(ctx context.Context, t *Trigger, iterations int) (Verdict, time.Duration, error) {
	if s.scanLog {
		s.cleanErrorLog(t)
	}

	// Using t.Command here, not the catalog's start command, is required:
	// plugins rewrite it to select binary variants.
	srv, err := t.Launcher.StartServer(ctx, t.Command)
	if err != nil {
		return VerdictUnknown, 0, err
	}

	var joinTime time.Duration
	var pool *workerPool
	func() {
		defer s.stopServer(ctx, t) // server stop survives helper failures

		t.Clock.Sleep(s.Delay)

		helpers := s.NewHelpers(iterations)
		for _, h := range helpers {
			if p, ok := h.(preparer); ok {
				if err := p.Prepare(ctx); err != nil {
					t.Log.Warn().Err(err).Msg("helper preparation failed")
				}
			}
		}

		pool = startWorkers(ctx, t.Log, helpers)
		start := t.Clock.Now()
		pool.Join(s.Timeout)
		joinTime = t.Clock.Since(start)
		pool.Terminate()
	}()

	results := pool.Drain()
	t.Clock.Sleep(s.Delay)

	select {
	case <-srv.Done():
	default:
		t.Log.Debug().Msg("server still running after stop command")
	}

	return s.Classify(t, results, iterations), joinTime, nil
}

// stopServer runs the stop command best-effort; a server that is already
// gone (it was made to crash, after all) is not an error.
func (s *ServerStrategy) stopServer(ctx context.Context, t *Trigger) {
	res, err := t.Launcher.RunArgs(ctx, s.StopCmd)
	if err != nil {
		t.Log.Debug().Err(err).Msg("stop command failed")
		return
	}
	if res.ExitCode != 0 {
		t.Log.Debug().Int("exit_code", res.ExitCode).Msg("stop command exited non-zero")
	}
}

func (s *ServerStrategy) cleanErrorLog(t *Trigger) {
	for _, name := range []string{"logs/error_log", "logs/access_log"} {
		path := filepath.Join(t.Program.InstallDirectory, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			t.Log.Debug().Err(err).Str("path", path).Msg("could not clean log")
		}
	}
}

func (s *ServerStrategy) Benchmark(t *Trigger, limits Limits) Benchmark {
	if t.Program.BenchmarkURL != "" {
		return &ABBenchmark{Trigger: t, Strategy: s, Limits: limits}
	}
	return &ServerBenchmark{Trigger: t, Strategy: s, Limits: limits}
}

// ClassifyCounter implements the multi-worker result policy: a missing
// or invalid result means a worker died, which is the classified
// failure; all workers reporting but none observing the terminal value
// is ambiguous, because concurrent increments on the tested server
// legitimately race and under-count.
func ClassifyCounter(t *Trigger, results []Value, workers int, target int64) Verdict {
	if len(results) != workers {
		return VerdictFailure
	}
	for _, r := range results {
		if !r.Valid {
			return VerdictFailure
		}
	}
	for _, r := range results {
		if r.Num == target {
			return VerdictSuccess
		}
	}
	t.Log.Warn().Int64("target", target).Msg("no worker reached the terminal value")
	return VerdictUnknown
}

// classifyErrorLog scans the server's error log for the catalogued
// pattern. A missing log or no match means the bug did not fire.
func classifyErrorLog(t *Trigger, pattern *regexp.Regexp) Verdict {
	path := filepath.Join(t.Program.InstallDirectory, "logs/error_log")
	f, err := os.Open(path)
	if err != nil {
		return VerdictSuccess
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if pattern.MatchString(scanner.Text()) {
			t.Log.Debug().Str("line", scanner.Text()).Msg("error pattern found in error log")
			return VerdictFailure
		}
	}
	return VerdictSuccess
}
