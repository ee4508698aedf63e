package check

import (
	"context"

	"verimesh/internal/dataType"
)

// InitFeasibility verifies the claim carries everything initialization
// needs: a subject id and a resolvable requirement set.
type InitFeasibility struct{}

func (InitFeasibility) Name() string { return "initialization_feasibility" }

func (InitFeasibility) Run(_ context.Context, req Request) dataType.CheckResult {
	name := InitFeasibility{}.Name()

	if req.SubjectID == "" {
		return fail(name, "missing subject id")
	}
	for key, value := range req.Requirements {
		if value == "" {
			return fail(name, "empty requirement value for "+key)
		}
	}
	return pass(name, "initialization inputs complete")
}
