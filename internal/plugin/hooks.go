package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"bugbase/internal/trigger"
)

// Dispatcher runs the hook sequence of one trigger run: main pre-run,
// analysis pre-runs, the run itself, the main plugin's verdict check,
// post-runs, and cleanup. Cleanup is unconditional: every plugin's
// PostTriggerClean and every registered janitor runs no matter which
// earlier stage failed, janitors last, in reverse registration order.
type Dispatcher struct {
	Main     Main
	Analyses []Analysis
	Log      zerolog.Logger
}

// Run executes the full hook sequence for one trigger run. The returned
// verdict is the trigger's classification; the error is either an
// infrastructure failure or, wrapping ErrPluginFailure, a run the main
// plugin rejects.
func (d *Dispatcher) Run(ctx context.Context, t *trigger.Trigger) (trigger.Verdict, error) {
	defer d.clean(ctx, t)

	if err := d.Main.PreTriggerRun(ctx, t); err != nil {
		return trigger.VerdictUnknown, err
	}
	for _, a := range d.Analyses {
		if err := a.PreTriggerRun(ctx, t); err != nil {
			return trigger.VerdictUnknown, err
		}
	}

	v, err := t.Run(ctx)
	if err != nil {
		return trigger.VerdictUnknown, err
	}

	if err := d.Main.CheckTriggerSuccess(ctx, t, v); err != nil {
		return v, err
	}

	if err := d.Main.PostTriggerRun(ctx, t); err != nil {
		return v, err
	}
	for _, a := range d.Analyses {
		if err := a.PostTriggerRun(ctx, t); err != nil {
			return v, err
		}
	}
	return v, nil
}

// clean runs every cleanup hook. Failures are logged, never propagated:
// one plugin's broken cleanup must not stop the others.
func (d *Dispatcher) clean(ctx context.Context, t *trigger.Trigger) {
	if err := d.Main.PostTriggerClean(ctx, t); err != nil {
		d.Log.Warn().Err(err).Str("plugin", d.Main.Name()).Msg("cleanup hook failed")
	}
	for _, a := range d.Analyses {
		if err := a.PostTriggerClean(ctx, t); err != nil {
			d.Log.Warn().Err(err).Str("plugin", a.Name()).Msg("cleanup hook failed")
		}
	}
	t.RunJanitors()
}
