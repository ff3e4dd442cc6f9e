package plugin

import (
	"context"
	"fmt"

	"bugbase/internal/trigger"
)

// Success runs the program's success variant with the non-triggering
// command and demands a clean exit. It is the baseline every other
// behavior is compared against.
type Success struct {
	restore func()
}

func (s *Success) Name() string { return "success" }

func (s *Success) PreTriggerRun(_ context.Context, t *trigger.Trigger) error {
	restore, err := useVariant(t, "success")
	if err != nil {
		return err
	}
	s.restore = restore

	cmd, err := t.ExpandCommand(commandTemplate(t.Program, t.Program.SuccessCmd))
	if err != nil {
		return err
	}
	t.Command = cmd
	return nil
}

func (s *Success) CheckTriggerSuccess(_ context.Context, t *trigger.Trigger, v trigger.Verdict) error {
	if v != trigger.VerdictSuccess {
		return fmt.Errorf("%w: success run of %s classified %s", ErrPluginFailure, t.Program.Name, v)
	}
	return nil
}

func (s *Success) PostTriggerRun(context.Context, *trigger.Trigger) error { return nil }

func (s *Success) PostTriggerClean(context.Context, *trigger.Trigger) error {
	if s.restore != nil {
		s.restore()
		s.restore = nil
	}
	return nil
}
