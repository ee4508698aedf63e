package check

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"verimesh/internal/dataType"
)

// StateConsistency compares state digests from before and after the
// termination. The digests must match: termination may remove the agent
// but must not disturb unrelated state.
type StateConsistency struct{}

func (StateConsistency) Name() string { return "state_consistency" }

func (StateConsistency) Run(_ context.Context, req Request) dataType.CheckResult {
	name := StateConsistency{}.Name()

	before := xxhash.Sum64String(req.Capacity.StateBefore)
	after := xxhash.Sum64String(req.Capacity.StateAfter)
	if before != after {
		return fail(name, fmt.Sprintf("state hash mismatch: %x != %x", before, after))
	}
	return pass(name, fmt.Sprintf("state hash %x unchanged", before))
}
