package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"bugbase/internal/trigger"
)

// Fail runs the program's fail variant with the triggering command and
// demands that the catalogued bug reproduced and left a coredump. The
// coredump is relocated under the results directory so consecutive runs
// cannot clobber it.
type Fail struct {
	restore  func()
	corePath string
}

func (f *Fail) Name() string { return "fail" }

func (f *Fail) PreTriggerRun(_ context.Context, t *trigger.Trigger) error {
	restore, err := useVariant(t, "fail")
	if err != nil {
		return err
	}
	f.restore = restore

	cmd, err := t.ExpandCommand(commandTemplate(t.Program, ""))
	if err != nil {
		return err
	}
	t.Command = cmd

	// The core file is named after the variant binary that will crash,
	// so the path is only known after the swap.
	f.corePath = t.Conf.CorePath(t.Program)
	if err := os.Remove(f.corePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing stale coredump: %w", err)
	}
	return nil
}

// CheckTriggerSuccess demands the catalogued failure and its coredump;
// a reproduction without a dump is no reproduction. The dump is moved
// to its per-program slot in the results directory right here, before
// any post hook runs against the trigger.
func (f *Fail) CheckTriggerSuccess(_ context.Context, t *trigger.Trigger, v trigger.Verdict) error {
	if v != trigger.VerdictFailure {
		return fmt.Errorf("%w: fail run of %s classified %s", ErrPluginFailure, t.Program.Name, v)
	}

	if _, err := os.Stat(f.corePath); err != nil {
		return fmt.Errorf("%w: %s reproduced but left no coredump at %s", ErrPluginFailure, t.Program.Name, f.corePath)
	}
	dest := filepath.Join(t.Conf.Trigger.ResultsDir, t.Program.Name, "core")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("preparing results directory: %w", err)
	}
	if err := os.Rename(f.corePath, dest); err != nil {
		return fmt.Errorf("relocating coredump: %w", err)
	}
	t.Log.Info().Str("core", dest).Msg("coredump saved")
	return nil
}

func (f *Fail) PostTriggerRun(context.Context, *trigger.Trigger) error { return nil }

func (f *Fail) PostTriggerClean(_ context.Context, t *trigger.Trigger) error {
	if f.restore != nil {
		f.restore()
		f.restore = nil
	}
	// A dump left behind by a rejected run is stale by definition.
	if f.corePath != "" {
		if err := os.Remove(f.corePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing leftover coredump: %w", err)
		}
	}
	return nil
}
