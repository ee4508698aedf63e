package gossip

import (
	"errors"
	"sync"

	"verimesh/internal/dataType"
)

var ErrPeerUnreachable = errors.New("peer unreachable")

// Transport delivers a message to one peer. A nil return is the peer's
// acknowledgement; an error is a transient failure (timeout, unreachable)
// that the next round retries. The core never assumes anything about the
// wire: HTTP, a queue, and in-process delivery all satisfy this.
type Transport interface {
	Send(peer dataType.Node, msg dataType.GossipMessage) error
}

// MemoryNetwork is an in-process Transport for simulations and tests.
// Endpoints are registered per node id; partitions are simulated by
// cutting a node.
type MemoryNetwork struct {
	mu    sync.RWMutex
	inbox map[string]func(dataType.GossipMessage)
	cut   map[string]bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		inbox: make(map[string]func(dataType.GossipMessage)),
		cut:   make(map[string]bool),
	}
}

// Attach registers a node's inbound handler under its id.
func (n *MemoryNetwork) Attach(nodeID string, handler func(dataType.GossipMessage)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox[nodeID] = handler
}

// Cut makes a node unreachable until restored.
func (n *MemoryNetwork) Cut(nodeID string, unreachable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[nodeID] = unreachable
}

func (n *MemoryNetwork) Send(peer dataType.Node, msg dataType.GossipMessage) error {
	n.mu.RLock()
	handler, ok := n.inbox[peer.ID]
	unreachable := n.cut[peer.ID]
	n.mu.RUnlock()

	if !ok || unreachable {
		return ErrPeerUnreachable
	}
	handler(msg)
	return nil
}
