package check

import (
	"context"
	"fmt"

	"verimesh/internal/dataType"
)

// NetworkConnectivity verifies enough peers are reachable for the agent
// to participate in the mesh.
type NetworkConnectivity struct{}

func (NetworkConnectivity) Name() string { return "network_connectivity" }

func (NetworkConnectivity) Run(_ context.Context, req Request) dataType.CheckResult {
	name := NetworkConnectivity{}.Name()

	if req.Capacity.ActivePeers < req.Capacity.MinActivePeers {
		return fail(name, fmt.Sprintf("%d active peers, minimum %d", req.Capacity.ActivePeers, req.Capacity.MinActivePeers))
	}
	return pass(name, fmt.Sprintf("%d active peers", req.Capacity.ActivePeers))
}
