package check

import (
	"context"
	"fmt"
	"strings"

	"verimesh/internal/dataType"
)

// DependencyHandling verifies no other agent still depends on the one
// being terminated.
type DependencyHandling struct{}

func (DependencyHandling) Name() string { return "dependency_handling" }

func (DependencyHandling) Run(_ context.Context, req Request) dataType.CheckResult {
	name := DependencyHandling{}.Name()

	if len(req.Capacity.Dependents) > 0 {
		return fail(name, fmt.Sprintf("dependents not migrated: %s", strings.Join(req.Capacity.Dependents, ", ")))
	}
	return pass(name, "no remaining dependents")
}
