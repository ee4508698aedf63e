package check

import (
	"context"

	"verimesh/internal/dataType"
)

// TerminationComplete verifies the agent process actually exited.
type TerminationComplete struct{}

func (TerminationComplete) Name() string { return "termination_process" }

func (TerminationComplete) Run(_ context.Context, req Request) dataType.CheckResult {
	name := TerminationComplete{}.Name()

	if !req.Capacity.ProcessExited {
		return fail(name, "agent process still running")
	}
	return pass(name, "agent process exited")
}
