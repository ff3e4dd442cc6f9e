// Package orchestrator runs program × plugin batches and aggregates
// their outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bugbase/internal/config"
	"bugbase/internal/plugin"
	"bugbase/internal/proc"
	"bugbase/internal/template"
	"bugbase/internal/trigger"
)

// ErrNotInstalled marks a catalogued program whose install directory is
// missing. Pairs hitting it are skipped, not failed.
var ErrNotInstalled = errors.New("program not installed")

// PairResult is the outcome of one (program, main plugin) pairing.
type PairResult struct {
	Program string
	Plugin  string
	Verdict trigger.Verdict
	Err     error
}

// Skipped reports whether the pair never ran because the program is not
// installed.
func (p PairResult) Skipped() bool { return errors.Is(p.Err, ErrNotInstalled) }

// Failed reports whether the pair ran and did not behave: either the
// driving plugin rejected the run or the harness itself broke.
func (p PairResult) Failed() bool { return p.Err != nil && !p.Skipped() }

// Summary aggregates a batch.
type Summary struct {
	RunID string
	Pairs []PairResult
}

func (s *Summary) Failed() int {
	n := 0
	for _, p := range s.Pairs {
		if p.Failed() {
			n++
		}
	}
	return n
}

func (s *Summary) Skipped() int {
	n := 0
	for _, p := range s.Pairs {
		if p.Skipped() {
			n++
		}
	}
	return n
}

// Orchestrator drives the program × plugin loop. Pairs run sequentially:
// the external programs fight over ports, coredump paths and install
// directories, so parallelism across pairs is not worth the isolation
// work.
type Orchestrator struct {
	Conf *config.Config
	Reg  *plugin.Registry
	Log  zerolog.Logger
}

// Run executes every requested main plugin against every requested
// program. The name "all" expands to every installed catalogued program.
// When meta is non-empty that meta plugin selects the pairings and
// reports afterwards. Infrastructure failures are contained per pair:
// the batch always runs to completion.
func (o *Orchestrator) Run(ctx context.Context, programs, mains []string, analyses []string, meta string) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString()}
	log := o.Log.With().Str("run_id", sum.RunID).Logger()

	selections, metaPlugin, err := o.selections(mains, analyses, meta)
	if err != nil {
		return nil, err
	}

	expanded, err := o.expandPrograms(programs)
	if err != nil {
		return nil, err
	}

	for _, name := range expanded {
		for _, sel := range selections {
			res := o.runPair(ctx, log, name, sel)
			switch {
			case res.Skipped():
				log.Warn().Str("program", name).Msg("not installed, skipping")
			case res.Failed():
				log.Error().Err(res.Err).Str("program", name).Str("plugin", res.Plugin).Msg("pair failed")
			default:
				log.Info().Str("program", name).Str("plugin", res.Plugin).Stringer("verdict", res.Verdict).Msg("pair done")
			}
			sum.Pairs = append(sum.Pairs, res)
		}
	}

	if metaPlugin != nil {
		if err := metaPlugin.AfterRun(ctx, o.Conf); err != nil {
			return sum, fmt.Errorf("meta plugin %s: %w", metaPlugin.Name(), err)
		}
	}
	return sum, nil
}

func (o *Orchestrator) selections(mains, analyses []string, meta string) ([]plugin.Selection, plugin.Meta, error) {
	if meta != "" {
		m, ok := o.Reg.Meta(meta)
		if !ok {
			return nil, nil, fmt.Errorf("unknown meta plugin %q", meta)
		}
		sels, err := m.BeforeRun(o.Reg, mains)
		if err != nil {
			return nil, nil, err
		}
		return sels, m, nil
	}

	var riders []plugin.Analysis
	for _, name := range analyses {
		a, ok := o.Reg.Analysis(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown analysis plugin %q", name)
		}
		riders = append(riders, a)
	}

	var sels []plugin.Selection
	for _, name := range mains {
		m, ok := o.Reg.Main(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown main plugin %q", name)
		}
		sels = append(sels, plugin.Selection{Main: m, Analyses: riders})
	}
	if len(sels) == 0 {
		return nil, nil, errors.New("no main plugin selected")
	}
	return sels, nil, nil
}

func (o *Orchestrator) expandPrograms(programs []string) ([]string, error) {
	var out []string
	for _, name := range programs {
		if name == "all" {
			out = append(out, o.Conf.InstalledPrograms()...)
			continue
		}
		if _, ok := o.Conf.Program(name); !ok {
			return nil, fmt.Errorf("unknown program %q", name)
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.New("no program selected")
	}
	return out, nil
}

// runPair runs one program under one main plugin. The install directory
// is locked for the duration so concurrent harness invocations cannot
// trample each other's runs.
func (o *Orchestrator) runPair(ctx context.Context, log zerolog.Logger, name string, sel plugin.Selection) PairResult {
	res := PairResult{Program: name, Plugin: sel.Main.Name()}

	prog, ok := o.Conf.Program(name)
	if !ok {
		res.Err = fmt.Errorf("unknown program %q", name)
		return res
	}
	if !prog.Installed() {
		res.Err = fmt.Errorf("%s: %w", name, ErrNotInstalled)
		return res
	}

	env, err := template.SubstituteMap(prog.Env, prog.Vars())
	if err != nil {
		res.Err = fmt.Errorf("env for %s: %w", name, err)
		return res
	}

	lockPath := filepath.Join(prog.InstallDirectory, ".bugbase.lock")
	res.Err = proc.WithLock(lockPath, func() error {
		// Catalogued env applies process-wide for the pair, so the target
		// and every helper it spawns inherit it.
		return proc.WithEnv(env, func() error {
			launcher := &proc.Launcher{Log: log, Dir: prog.InstallDirectory}
			t, err := trigger.New(prog, o.Conf, launcher, log)
			if err != nil {
				return err
			}
			t.Plugin = sel.Main.Name()

			d := &plugin.Dispatcher{Main: sel.Main, Analyses: sel.Analyses, Log: log}
			res.Verdict, err = d.Run(ctx, t)
			return err
		})
	})
	return res
}
