package check

import (
	"context"
	"fmt"
	"strconv"

	"verimesh/internal/dataType"
)

// ResourceAvailability verifies the requested memory and CPU fit the
// node's available capacity. Requirements default to zero when absent.
type ResourceAvailability struct{}

func (ResourceAvailability) Name() string { return "resource_availability" }

func (ResourceAvailability) Run(_ context.Context, req Request) dataType.CheckResult {
	name := ResourceAvailability{}.Name()

	memMB, err := requirementInt(req.Requirements, "memory_mb")
	if err != nil {
		return fail(name, err.Error())
	}
	cpuCores, err := requirementInt(req.Requirements, "cpu_cores")
	if err != nil {
		return fail(name, err.Error())
	}

	if memMB > req.Capacity.AvailableMemoryMB {
		return fail(name, fmt.Sprintf("requested %d MB, %d MB available", memMB, req.Capacity.AvailableMemoryMB))
	}
	if cpuCores > req.Capacity.AvailableCPUCores {
		return fail(name, fmt.Sprintf("requested %d cores, %d available", cpuCores, req.Capacity.AvailableCPUCores))
	}
	return pass(name, fmt.Sprintf("%d MB / %d cores within capacity", memMB, cpuCores))
}

func requirementInt(reqs map[string]string, key string) (int, error) {
	raw, ok := reqs[key]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s requirement: %q", key, raw)
	}
	return v, nil
}
