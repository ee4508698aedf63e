package check

import (
	"context"
	"fmt"

	"verimesh/internal/dataType"
)

// SpawnConstraints verifies the agent registry has room for one more.
type SpawnConstraints struct{}

func (SpawnConstraints) Name() string { return "spawning_constraints" }

func (SpawnConstraints) Run(_ context.Context, req Request) dataType.CheckResult {
	name := SpawnConstraints{}.Name()

	if req.Capacity.RegisteredAgents >= req.Capacity.MaxAgents {
		return fail(name, fmt.Sprintf("registry full: %d of %d agents", req.Capacity.RegisteredAgents, req.Capacity.MaxAgents))
	}
	return pass(name, fmt.Sprintf("%d of %d agent slots used", req.Capacity.RegisteredAgents, req.Capacity.MaxAgents))
}
