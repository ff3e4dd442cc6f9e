// Package plugin implements the composable behaviors layered on top of
// a trigger run: selecting binary variants, checking that a run behaved
// as the behavior demands, timing runs, and reporting across a batch.
//
// Plugins are plain values registered once at startup. The registry is
// keyed by capability: main plugins own the verdict of a run, analysis
// plugins ride along a main plugin, install plugins describe build-time
// adjustments, and meta plugins compose whole batches.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"

	"bugbase/internal/config"
	"bugbase/internal/trigger"
)

// ErrPluginFailure marks a run that completed but did not do what the
// driving plugin demands. Distinct from infrastructure errors: a wrapped
// ErrPluginFailure counts against the batch, anything else flags it.
var ErrPluginFailure = errors.New("plugin check failed")

// Plugin is the least any plugin provides. Capabilities are expressed
// by also implementing Main, Analysis, Install or Meta.
type Plugin interface {
	Name() string
}

// Hooks are the per-run callbacks shared by main and analysis plugins.
// PostTriggerClean runs on every path, including after earlier hook
// failures; it must tolerate a run that never happened.
type Hooks interface {
	PreTriggerRun(ctx context.Context, t *trigger.Trigger) error
	PostTriggerRun(ctx context.Context, t *trigger.Trigger) error
	PostTriggerClean(ctx context.Context, t *trigger.Trigger) error
}

// Main plugins drive a trigger run and judge its verdict.
// CheckTriggerSuccess returns nil when the run behaved, an error
// wrapping ErrPluginFailure when it did not.
type Main interface {
	Plugin
	Hooks
	CheckTriggerSuccess(ctx context.Context, t *trigger.Trigger, v trigger.Verdict) error
}

// Analysis plugins observe and instrument a run owned by a main plugin.
// Every Main is structurally an Analysis too, so the registry treats the
// capabilities as exclusive: a plugin that judges verdicts never rides
// along as an analysis.
type Analysis interface {
	Plugin
	Hooks
}

// Install plugins describe build-time adjustments for target programs.
// The harness does not build targets itself; these are surfaced for the
// external build tooling and in plugin listings.
type Install interface {
	Plugin
	BuildEnv(prog *config.Program) map[string]string
}

// Selection pairs a main plugin with the analyses riding on its runs.
type Selection struct {
	Main     Main
	Analyses []Analysis
}

// Meta plugins compose a whole batch: BeforeRun decides which
// main/analysis pairings run, AfterRun reports across their results.
type Meta interface {
	Plugin
	BeforeRun(reg *Registry, requested []string) ([]Selection, error)
	AfterRun(ctx context.Context, conf *config.Config) error
}

// Registry holds registered plugins in registration order.
type Registry struct {
	order   []string
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin under its own name. Duplicate names are a
// programming error and rejected.
func (r *Registry) Register(p Plugin) error {
	name := p.Name()
	if _, dup := r.plugins[name]; dup {
		return fmt.Errorf("plugin %q registered twice", name)
	}
	r.plugins[name] = p
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for static startup registration.
func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

func (r *Registry) Main(name string) (Main, bool) {
	m, ok := r.plugins[name].(Main)
	return m, ok
}

// Analysis returns the named plugin as a rider. Main plugins do not
// qualify: letting one ride along another main would run two verdict
// owners on the same trigger.
func (r *Registry) Analysis(name string) (Analysis, bool) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	if _, isMain := p.(Main); isMain {
		return nil, false
	}
	a, ok := p.(Analysis)
	return a, ok
}

func (r *Registry) Meta(name string) (Meta, bool) {
	m, ok := r.plugins[name].(Meta)
	return m, ok
}

// Names returns every registered plugin name in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Capabilities describes what a registered plugin can do, for listings.
func (r *Registry) Capabilities(name string) []string {
	p, ok := r.plugins[name]
	if !ok {
		return nil
	}
	var caps []string
	if _, isMain := p.(Main); isMain {
		caps = append(caps, "main")
	} else if _, ok := p.(Analysis); ok {
		caps = append(caps, "analysis")
	}
	if _, ok := p.(Install); ok {
		caps = append(caps, "install")
	}
	if _, ok := p.(Meta); ok {
		caps = append(caps, "meta")
	}
	return caps
}

// useVariant swaps the program's executable for its suffixed build
// variant (e.g. memcached-fail) and returns the undo. The variant
// binary must exist: runs against the wrong build are worthless.
func useVariant(t *trigger.Trigger, variant string) (restore func(), err error) {
	prog := t.Program
	suffixed := prog.ExecutablePath() + "-" + variant
	if _, err := os.Stat(suffixed); err != nil {
		return nil, fmt.Errorf("%s: missing %s build variant: %w", prog.Name, variant, err)
	}
	orig := prog.Executable
	prog.Executable += "-" + variant
	return func() { prog.Executable = orig }, nil
}

// commandTemplate picks the catalog command a run should expand: server
// scenarios always use their start command, plain scenarios use the
// named alternative with the failure command as fallback.
func commandTemplate(prog *config.Program, alternative string) string {
	if prog.StartCmd != "" {
		return prog.StartCmd
	}
	if alternative != "" {
		return alternative
	}
	return prog.FailureCmd
}
