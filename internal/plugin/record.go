package plugin

import (
	"context"
	"fmt"

	"bugbase/internal/trigger"
)

// RecordPlugin reproduces the bug under a record/replay tool (rr-style)
// so the crash can be replayed in a debugger afterwards. The recording
// tool owns the crash artifacts, so unlike Fail no coredump handling
// happens here.
type RecordPlugin struct {
	restore func()
}

func (r *RecordPlugin) Name() string { return "record" }

func (r *RecordPlugin) PreTriggerRun(_ context.Context, t *trigger.Trigger) error {
	tool := t.Conf.Utilities.RecordTool
	if tool == "" {
		return fmt.Errorf("%w: no record_tool configured", ErrPluginFailure)
	}

	restore, err := useVariant(t, "fail")
	if err != nil {
		return err
	}
	r.restore = restore

	cmd, err := t.ExpandCommand(commandTemplate(t.Program, ""))
	if err != nil {
		return err
	}
	t.Command = fmt.Sprintf("%s record %s", tool, cmd)
	return nil
}

func (r *RecordPlugin) CheckTriggerSuccess(_ context.Context, t *trigger.Trigger, v trigger.Verdict) error {
	if v != trigger.VerdictFailure {
		return fmt.Errorf("%w: recorded run of %s classified %s", ErrPluginFailure, t.Program.Name, v)
	}
	return nil
}

func (r *RecordPlugin) PostTriggerRun(_ context.Context, t *trigger.Trigger) error {
	t.Log.Info().Str("tool", t.Conf.Utilities.RecordTool).Msg("reproduction recorded, replay with the record tool")
	return nil
}

func (r *RecordPlugin) PostTriggerClean(context.Context, *trigger.Trigger) error {
	if r.restore != nil {
		r.restore()
		r.restore = nil
	}
	return nil
}
