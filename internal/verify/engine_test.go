package verify

import (
	"testing"
	"time"

	"verimesh/internal/config"
	"verimesh/internal/dataType"
	"verimesh/internal/events"
	"verimesh/internal/gossip"
	"verimesh/internal/lifecycle"
	"verimesh/internal/registry"
)

func testConfig(nodeName string, threshold float64) *config.MainConfig {
	return &config.MainConfig{
		NodeName:             nodeName,
		Fanout:               3,
		GossipIntervalMs:     50,
		ValidationTimeoutMs:  5000,
		ConsensusThreshold:   threshold,
		MaxValidationHistory: 100,
		MaxAgents:            16,
		AvailableMemoryMB:    2048,
		AvailableCPUCores:    4,
		SupportedAgentTypes:  []string{"worker", "monitor"},
		MinActivePeers:       1,
	}
}

// newTestEngine builds an engine whose node knows the given peers. The
// in-memory network swallows outbound gossip; results from "peers" are
// injected with recordResult.
func newTestEngine(t *testing.T, cfg *config.MainConfig, peers []string) (*Engine, *registry.Registry, *events.Bus) {
	t.Helper()
	net := gossip.NewMemoryNetwork()
	reg := registry.NewRegistry(5*time.Second, nil, nil)
	for _, id := range append([]string{cfg.NodeName}, peers...) {
		if err := reg.AddPeer(id, "mem://"+id); err != nil {
			t.Fatal(err)
		}
		net.Attach(id, func(dataType.GossipMessage) {})
	}
	bus := events.NewBus()
	gsp := gossip.NewCoordinator(cfg, reg, net, nil, nil, nil)
	lifeval := lifecycle.NewValidator(cfg, nil, func() int { return len(reg.ActivePeers()) }, nil)
	return NewEngine(cfg, reg, gsp, lifeval, bus, nil, nil), reg, bus
}

func peerResult(taskID, nodeID string, passed bool) dataType.VerificationResult {
	return dataType.VerificationResult{
		TaskID:    taskID,
		NodeID:    nodeID,
		Passed:    passed,
		Timestamp: time.Now().Unix(),
	}
}

func TestStartVerificationValidatesInput(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig("node-a", 0.66), nil)
	if _, err := e.StartVerification("bogus_kind", "target", nil); err == nil {
		t.Error("expected error for unknown task kind")
	}
	if _, err := e.StartVerification(dataType.TaskAgentSpawning, "", nil); err == nil {
		t.Error("expected error for empty target")
	}
}

func TestVerificationCompletesOnQuorum(t *testing.T) {
	// 3 nodes at threshold 0.66: two matching results decide.
	cfg := testConfig("node-a", 0.66)
	e, _, bus := newTestEngine(t, cfg, []string{"node-b", "node-c"})
	completed := bus.Subscribe(events.TaskCompleted)

	taskID, err := e.StartVerification(dataType.TaskAgentSpawning, "agent-1", map[string]string{
		"agent_type": "worker",
		"memory_mb":  "512",
	})
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	// Local spawn check passed; one more passing peer reaches quorum.
	e.recordResult(peerResult(taskID, "node-b", true))

	task, ok := e.Task(taskID)
	if !ok || task.Status != dataType.TaskCompleted {
		t.Fatalf("task status = %s, want completed", task.Status)
	}
	outcome, closed := e.Verdict(taskID)
	if !closed || !outcome.Verdict {
		t.Errorf("verdict = %+v closed=%v, want positive verdict", outcome, closed)
	}

	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Error("expected taskCompleted event")
	}
}

func TestVerificationLateResultsAreIgnored(t *testing.T) {
	cfg := testConfig("node-a", 0.66)
	e, _, _ := newTestEngine(t, cfg, []string{"node-b", "node-c"})

	taskID, err := e.StartVerification(dataType.TaskAgentSpawning, "agent-1", map[string]string{
		"agent_type": "worker",
	})
	if err != nil {
		t.Fatal(err)
	}
	e.recordResult(peerResult(taskID, "node-b", true))

	outcome, _ := e.Verdict(taskID)
	// A contradicting result after the task closed changes nothing.
	e.recordResult(peerResult(taskID, "node-c", false))
	after, _ := e.Verdict(taskID)
	if outcome.Verdict != after.Verdict || outcome.Status != after.Status {
		t.Errorf("verdict changed after close: %+v -> %+v", outcome, after)
	}

	// A second result from the same node never counts either.
	e.recordResult(peerResult(taskID, "node-b", false))
}

func TestVerificationMajorityWins(t *testing.T) {
	// 5 nodes at threshold 0.6: three results decide, majority rules.
	cfg := testConfig("node-a", 0.6)
	e, _, _ := newTestEngine(t, cfg, []string{"node-b", "node-c", "node-d", "node-e"})
	e.SetStateProber(func() (string, bool) { return "consistent", true })

	taskID, err := e.StartVerification(dataType.TaskConsensusState, "mesh", nil)
	if err != nil {
		t.Fatal(err)
	}
	e.recordResult(peerResult(taskID, "node-b", false))
	e.recordResult(peerResult(taskID, "node-c", true))

	task, _ := e.Task(taskID)
	if task.Status != dataType.TaskCompleted {
		t.Fatalf("task status = %s, want completed", task.Status)
	}
	outcome, _ := e.Verdict(taskID)
	if !outcome.Verdict {
		t.Errorf("2 pass vs 1 fail should verify, got %+v", outcome)
	}
}

func TestVerificationTieFailsClosed(t *testing.T) {
	// 4 nodes at threshold 0.5: two results decide. A 1-1 split is a tie.
	cfg := testConfig("node-a", 0.5)
	e, _, _ := newTestEngine(t, cfg, []string{"node-b", "node-c", "node-d"})
	e.SetStateProber(func() (string, bool) { return "consistent", true })

	taskID, err := e.StartVerification(dataType.TaskConsensusState, "mesh", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Local result passed; one failing peer makes it 1-1.
	e.recordResult(peerResult(taskID, "node-b", false))

	task, _ := e.Task(taskID)
	if task.Status != dataType.TaskFailed {
		t.Fatalf("task status = %s, want failed on tie", task.Status)
	}
	outcome, _ := e.Verdict(taskID)
	if outcome.Verdict {
		t.Error("tie must not verify the claim")
	}
	if outcome.FailureReason == "" {
		t.Error("tie failure should carry a reason")
	}
}

func TestVerificationTimesOutWithoutQuorum(t *testing.T) {
	cfg := testConfig("node-a", 0.66)
	cfg.ValidationTimeoutMs = 50
	e, _, _ := newTestEngine(t, cfg, []string{"node-b", "node-c"})
	e.SetStateProber(func() (string, bool) { return "consistent", true })

	taskID, err := e.StartVerification(dataType.TaskConsensusState, "mesh", nil)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, _ := e.Task(taskID); task.Status == dataType.TaskFailed {
			outcome, _ := e.Verdict(taskID)
			if outcome.Verdict {
				t.Error("timed-out task must not verify")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := e.Task(taskID)
	t.Fatalf("task status = %s, want failed after timeout", task.Status)
}

func TestVerificationTaskFromPeerRunsLocalCheck(t *testing.T) {
	cfg := testConfig("node-a", 0.66)
	e, _, _ := newTestEngine(t, cfg, []string{"node-b", "node-c"})
	e.SetStateProber(func() (string, bool) { return "consistent", true })

	// A task initiated elsewhere is checked locally but not tallied here.
	e.onTaskMessage(dataType.GossipMessage{
		Type:       dataType.GossipTypeVerifyTask,
		OriginNode: "node-b",
		Content: `{"id":"7c9e6679-7425-40de-944b-e07fc1f90ae7",` +
			`"kind":"consensus_state","target":"mesh","initiator":"node-b",` +
			`"created_at":1700000000,"status":"pending"}`,
	})

	if _, ok := e.Task("7c9e6679-7425-40de-944b-e07fc1f90ae7"); ok {
		t.Error("non-initiator must not track the task state")
	}
}
