// Package trigger drives one catalogued bug to reproduce and classifies
// the outcome.
//
// A Trigger owns the command to run, starts and stops a server process
// when the scenario needs one, fans out concurrent helper workers, and
// reduces whatever happened to a three-valued Verdict. The three values
// are distinct on purpose: a run that failed the way the catalog says it
// should is a reproduction, a run that failed any other way is something
// the harness does not understand and must be surfaced as such.
package trigger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"bugbase/internal/config"
	"bugbase/internal/proc"
	"bugbase/internal/template"
)

// Verdict is the tri-state classification of a trigger run.
type Verdict int

const (
	// VerdictUnknown means the program failed in a way the catalog does
	// not anticipate. Never fold this into VerdictFailure: the run must
	// be flagged, not counted.
	VerdictUnknown Verdict = iota
	// VerdictSuccess means the program exited cleanly.
	VerdictSuccess
	// VerdictFailure means the expected, classified failure: the bug
	// reproduced as designed.
	VerdictFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictFailure:
		return "expected-failure"
	default:
		return "unknown"
	}
}

// RunFunc is the signature of a trigger run. Analysis plugins may swap
// the trigger's run for their own (e.g. a benchmark strategy's).
type RunFunc func(ctx context.Context) (Verdict, error)

// Strategy is how a Trigger launches its target: a plain subprocess, or
// a server with concurrent helper workers. Each strategy also knows
// which benchmark variant fits it.
type Strategy interface {
	Run(ctx context.Context, t *Trigger) (Verdict, error)
	Benchmark(t *Trigger, limits Limits) Benchmark
}

// Trigger is one reproducible bug scenario bound to one target program.
// Construct a fresh Trigger per (bug, plugin) pairing; they are not
// reused across runs.
type Trigger struct {
	Program  *config.Program
	Conf     *config.Config
	Launcher *proc.Launcher
	Strategy Strategy
	Clock    Clock
	Log      zerolog.Logger

	// Command is rewritten by plugins before each run.
	Command string
	// Plugin is the name of the behavior driving this run, used in log
	// and report lines. Set by the run loop before dispatching.
	Plugin string
	// Results is the captured payload of the last run, nil when the run
	// produced none. Cleared at the start of every run.
	Results []float64

	override RunFunc
	janitors []func()
}

// AddJanitor registers fn to run at the very end of this run's cleanup,
// after every plugin cleanup hook.
func (t *Trigger) AddJanitor(fn func()) {
	t.janitors = append(t.janitors, fn)
}

// RunJanitors executes the registered janitors in reverse registration
// order and clears them.
func (t *Trigger) RunJanitors() {
	for i := len(t.janitors) - 1; i >= 0; i-- {
		t.janitors[i]()
	}
	t.janitors = nil
}

// New builds a Trigger for the given program. The command templates from
// the catalog are expanded here; missing placeholders are a hard error.
func New(prog *config.Program, conf *config.Config, launcher *proc.Launcher, log zerolog.Logger) (*Trigger, error) {
	t := &Trigger{
		Program:  prog,
		Conf:     conf,
		Launcher: launcher,
		Clock:    RealClock{},
		Log:      log.With().Str("program", prog.Name).Logger(),
	}

	vars := prog.Vars()
	var err error
	if prog.StartCmd != "" {
		t.Command, err = template.Substitute(prog.StartCmd, vars)
		if err != nil {
			return nil, fmt.Errorf("start command for %s: %w", prog.Name, err)
		}
		t.Strategy, err = newServerStrategy(prog, vars)
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	t.Command, err = template.Substitute(prog.FailureCmd, vars)
	if err != nil {
		return nil, fmt.Errorf("failure command for %s: %w", prog.Name, err)
	}
	t.Strategy = ExecStrategy{}
	return t, nil
}

// Run executes the trigger once and classifies the outcome. The result
// payload of any previous run is discarded first.
func (t *Trigger) Run(ctx context.Context) (Verdict, error) {
	t.Results = nil
	if t.override != nil {
		return t.override(ctx)
	}
	return t.Strategy.Run(ctx, t)
}

// OverrideRun replaces the trigger's run until the trigger is discarded.
func (t *Trigger) OverrideRun(fn RunFunc) {
	t.override = fn
}

// ExpandCommand substitutes the program's variables into a command
// template from the catalog.
func (t *Trigger) ExpandCommand(tmpl string) (string, error) {
	return template.Substitute(tmpl, t.Program.Vars())
}

// Classify maps a process exit code onto a Verdict given the declared
// expected-failure code. When expected is 0 the expected-failure case
// degenerates to clean success.
func Classify(code, expected int) Verdict {
	switch {
	case code == expected && code != 0:
		return VerdictFailure
	case code == 0:
		return VerdictSuccess
	default:
		return VerdictUnknown
	}
}

// CheckExit classifies a single exit code for this trigger's program.
func (t *Trigger) CheckExit(code int) Verdict {
	v := Classify(code, t.Program.ExpectedFailure)
	if v == VerdictUnknown {
		t.Log.Warn().
			Int("exit_code", code).
			Int("expected", t.Program.ExpectedFailure).
			Msg("unexpected exit code")
	}
	return v
}

// ExecStrategy runs the trigger command as a single subprocess and
// classifies its exit code. Used for input-driven bugs (pbzip2, curl,
// sqlite style scenarios).
type ExecStrategy struct{}

func (ExecStrategy) Run(ctx context.Context, t *Trigger) (Verdict, error) {
	res, err := t.Launcher.Run(ctx, t.Command)
	if err != nil {
		return VerdictUnknown, err
	}
	return t.CheckExit(res.ExitCode), nil
}

func (ExecStrategy) Benchmark(t *Trigger, limits Limits) Benchmark {
	return &PlainBenchmark{Trigger: t, Limits: limits}
}
