package check

import (
	"context"
	"fmt"

	"verimesh/internal/dataType"
)

// ResourceCleanup verifies no allocations remain attributed to the
// terminated agent.
type ResourceCleanup struct{}

func (ResourceCleanup) Name() string { return "resource_cleanup" }

func (ResourceCleanup) Run(_ context.Context, req Request) dataType.CheckResult {
	name := ResourceCleanup{}.Name()

	if req.Capacity.CleanupPending > 0 {
		return fail(name, fmt.Sprintf("%d allocations still held", req.Capacity.CleanupPending))
	}
	return pass(name, "all allocations released")
}
