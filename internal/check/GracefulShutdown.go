package check

import (
	"context"

	"verimesh/internal/dataType"
)

// GracefulShutdown verifies the agent went down cooperatively rather
// than being killed.
type GracefulShutdown struct{}

func (GracefulShutdown) Name() string { return "graceful_shutdown" }

func (GracefulShutdown) Run(_ context.Context, req Request) dataType.CheckResult {
	name := GracefulShutdown{}.Name()

	if req.Capacity.ShutdownForced {
		return fail(name, "shutdown was forced, not graceful")
	}
	return pass(name, "agent shut down gracefully")
}
