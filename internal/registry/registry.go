package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"verimesh/internal/dataType"
	"verimesh/internal/events"
)

var (
	ErrPeerExists   = errors.New("peer already registered")
	ErrPeerUnknown  = errors.New("unknown peer")
	ErrPeerBusy     = errors.New("peer has in-flight proposals")
	ErrQuorumBroken = errors.New("quorum size below minimum")
)

// MinQuorum is the smallest quorum for which agreement is meaningful.
const MinQuorum = 3

// Registry tracks known nodes, liveness, and failure state. Failed peers
// stay registered for audit but drop out of quorum arithmetic. A peer with
// in-flight proposals cannot be removed; its non-response is counted as an
// abstention by the consensus layer, never as a vote.
type Registry struct {
	mu               sync.RWMutex
	nodes            map[string]*dataType.Node
	inFlight         map[string]int // nodeID -> open proposals awaiting its vote
	heartbeatTimeout time.Duration
	bus              *events.Bus
	logger           *zap.Logger
}

func NewRegistry(heartbeatTimeout time.Duration, bus *events.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		nodes:            make(map[string]*dataType.Node),
		inFlight:         make(map[string]int),
		heartbeatTimeout: heartbeatTimeout,
		bus:              bus,
		logger:           logger,
	}
}

func (r *Registry) AddPeer(nodeID, endpoint string) error {
	r.mu.Lock()
	if _, exists := r.nodes[nodeID]; exists {
		r.mu.Unlock()
		return ErrPeerExists
	}
	now := time.Now().Unix()
	r.nodes[nodeID] = &dataType.Node{
		ID:            nodeID,
		Endpoint:      endpoint,
		Status:        dataType.NodeActive,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	r.mu.Unlock()

	r.logger.Info("peer added", zap.String("node", nodeID), zap.String("endpoint", endpoint))
	if r.bus != nil {
		r.bus.Publish(events.PeerAdded, nodeID)
	}
	return nil
}

func (r *Registry) RemovePeer(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[nodeID]; !exists {
		return ErrPeerUnknown
	}
	if r.inFlight[nodeID] > 0 {
		return ErrPeerBusy
	}
	delete(r.nodes, nodeID)
	delete(r.inFlight, nodeID)
	return nil
}

// MarkFailed transitions a peer straight to failed and reports it.
func (r *Registry) MarkFailed(nodeID string) error {
	r.mu.Lock()
	node, exists := r.nodes[nodeID]
	if !exists {
		r.mu.Unlock()
		return ErrPeerUnknown
	}
	already := node.Status == dataType.NodeFailed
	node.Status = dataType.NodeFailed
	r.mu.Unlock()

	if !already {
		r.logger.Warn("peer failed", zap.String("node", nodeID))
		if r.bus != nil {
			r.bus.Publish(events.PeerFailed, nodeID)
		}
	}
	return nil
}

// MarkSuspected demotes a peer after a transient send error. The gossip
// round keeps retrying suspected peers; only failed peers leave the pool.
func (r *Registry) MarkSuspected(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if node, exists := r.nodes[nodeID]; exists && node.Status == dataType.NodeActive {
		node.Status = dataType.NodeSuspected
	}
}

// Heartbeat records liveness and recovers a suspected peer to active.
// A failed peer does not rejoin implicitly.
func (r *Registry) Heartbeat(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, exists := r.nodes[nodeID]
	if !exists {
		return
	}
	node.LastHeartbeat = time.Now().Unix()
	if node.Status == dataType.NodeSuspected {
		node.Status = dataType.NodeActive
	}
}

// ActivePeers returns a copy of every non-failed peer.
func (r *Registry) ActivePeers() []dataType.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dataType.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		if node.Status != dataType.NodeFailed {
			out = append(out, *node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllPeers returns a copy of every registered peer, failed included.
func (r *Registry) AllPeers() []dataType.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dataType.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Get(nodeID string) (dataType.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if node, exists := r.nodes[nodeID]; exists {
		return *node, true
	}
	return dataType.Node{}, false
}

// QuorumSize is floor(2n/3)+1 over non-failed peers, floored at MinQuorum.
func (r *Registry) QuorumSize() int {
	n := len(r.ActivePeers())
	q := (2*n)/3 + 1
	if q < MinQuorum {
		q = MinQuorum
	}
	return q
}

// FaultTolerance is the number of Byzantine peers the current non-failed
// set can absorb: f = floor((n-1)/3).
func (r *Registry) FaultTolerance() int {
	n := len(r.ActivePeers())
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// AddInFlight pins a peer while a proposal awaits its vote.
func (r *Registry) AddInFlight(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight[nodeID]++
}

func (r *Registry) DoneInFlight(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[nodeID] > 0 {
		r.inFlight[nodeID]--
	}
}

// Sweep applies heartbeat-timeout failure detection:
// active -> suspected after one missed window, suspected -> failed after two.
func (r *Registry) Sweep() {
	now := time.Now()
	var failed []string

	r.mu.Lock()
	for _, node := range r.nodes {
		silence := now.Sub(time.Unix(node.LastHeartbeat, 0))
		switch node.Status {
		case dataType.NodeActive:
			if silence > r.heartbeatTimeout {
				node.Status = dataType.NodeSuspected
			}
		case dataType.NodeSuspected:
			if silence > 2*r.heartbeatTimeout {
				node.Status = dataType.NodeFailed
				failed = append(failed, node.ID)
			}
		}
	}
	r.mu.Unlock()

	for _, id := range failed {
		r.logger.Warn("peer failed after missed heartbeats", zap.String("node", id))
		if r.bus != nil {
			r.bus.Publish(events.PeerFailed, id)
		}
	}
}

// StartSweeper runs Sweep on the heartbeat interval until stopCh closes.
func (r *Registry) StartSweeper(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-stopCh:
			return
		}
	}
}
