package check

import (
	"context"
	"fmt"

	"verimesh/internal/dataType"
)

// AgentTypeSupport verifies the claimed agent type is in the configured
// whitelist.
type AgentTypeSupport struct{}

func (AgentTypeSupport) Name() string { return "agent_type_support" }

func (AgentTypeSupport) Run(_ context.Context, req Request) dataType.CheckResult {
	name := AgentTypeSupport{}.Name()

	if req.AgentType == "" {
		return fail(name, "missing agent type")
	}
	for _, supported := range req.Capacity.SupportedAgentTypes {
		if req.AgentType == supported {
			return pass(name, fmt.Sprintf("agent type %q supported", req.AgentType))
		}
	}
	return fail(name, fmt.Sprintf("agent type %q not in supported set", req.AgentType))
}
