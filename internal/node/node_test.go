package node

import (
	"testing"
	"time"

	"verimesh/internal/config"
	"verimesh/internal/dataType"
	"verimesh/internal/gossip"
	"verimesh/internal/utils"
)

func testConfig() *config.MainConfig {
	return &config.MainConfig{
		Port:                 "26656",
		WebPath:              "/verimesh",
		NodeName:             "node-a",
		GlobalSecret:         "test-secret-key-1234",
		Peers: []config.Peer{
			{Name: "node-b", Address: "http://localhost:26657"},
			{Name: "node-c", Address: "http://localhost:26658"},
		},
		Fanout:               3,
		GossipIntervalMs:     50,
		ValidationTimeoutMs:  5000,
		ConsensusThreshold:   0.66,
		HeartbeatIntervalMs:  50,
		MaxValidationHistory: 100,
		MaxAgents:            16,
		AvailableMemoryMB:    2048,
		AvailableCPUCores:    4,
		SupportedAgentTypes:  []string{"worker"},
		MinActivePeers:       1,
	}
}

func TestNodeStartRegistersPeers(t *testing.T) {
	net := gossip.NewMemoryNetwork()
	for _, id := range []string{"node-b", "node-c"} {
		net.Attach(id, func(dataType.GossipMessage) {})
	}

	n := New(testConfig(), net, utils.NopManager())
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer n.Stop()

	peers := n.Registry.AllPeers()
	if len(peers) != 3 {
		t.Fatalf("registry has %d peers, want 3 (self + 2 configured)", len(peers))
	}
	if _, ok := n.Registry.Get("node-a"); !ok {
		t.Error("node should register itself")
	}
	if n.Registry.QuorumSize() != 3 {
		t.Errorf("QuorumSize = %d, want 3", n.Registry.QuorumSize())
	}
}

func TestNodeHeartbeatLoopPublishes(t *testing.T) {
	net := gossip.NewMemoryNetwork()
	received := make(chan dataType.GossipMessage, 16)
	net.Attach("node-b", func(msg dataType.GossipMessage) {
		select {
		case received <- msg:
		default:
		}
	})
	net.Attach("node-c", func(dataType.GossipMessage) {})

	n := New(testConfig(), net, utils.NopManager())
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer n.Stop()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-received:
			if msg.Type == dataType.GossipTypeHeartbeat && msg.OriginNode == "node-a" {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat reached the peer")
		}
	}
}

func TestNodeStopIsIdempotent(t *testing.T) {
	n := New(testConfig(), gossip.NewMemoryNetwork(), utils.NopManager())
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	n.Stop()
	n.Stop()
}
