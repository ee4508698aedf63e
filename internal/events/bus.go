package events

import "sync"

// Event names emitted by the mesh for external observers.
const (
	PeerAdded        = "peerAdded"
	PeerFailed       = "peerFailed"
	TaskStarted      = "taskStarted"
	TaskCompleted    = "taskCompleted"
	ConsensusReached = "consensusReached"
	AgentRegistered  = "agentRegistered"
	ViewChanged      = "viewChanged"
)

type Event struct {
	Name    string
	Payload any
}

// Bus is a per-node publish/subscribe channel fan-out. There is no global
// bus: every Node owns its own instance. Publish never blocks; a
// subscriber that falls behind loses events rather than stalling the
// publisher's loop.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a buffered channel receiving events with the given
// name. An empty name subscribes to every event.
func (b *Bus) Subscribe(name string) <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[name] = append(b.subs[name], ch)
	return ch
}

func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev := Event{Name: name, Payload: payload}
	for _, ch := range b.subs[name] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range b.subs[""] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts every subscriber channel. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan Event)
}
