package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	named := bus.Subscribe(PeerAdded)
	all := bus.Subscribe("")

	bus.Publish(PeerAdded, "node-1")
	bus.Publish(TaskStarted, "task-1")

	if ev := recv(t, named); ev.Payload != "node-1" {
		t.Errorf("named subscriber got %v, want node-1", ev.Payload)
	}
	if ev := recv(t, all); ev.Name != PeerAdded {
		t.Errorf("wildcard subscriber got %q first, want %q", ev.Name, PeerAdded)
	}
	if ev := recv(t, all); ev.Name != TaskStarted {
		t.Errorf("wildcard subscriber got %q second, want %q", ev.Name, TaskStarted)
	}

	select {
	case ev := <-named:
		t.Errorf("named subscriber received unrelated event %q", ev.Name)
	default:
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe(PeerFailed) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(PeerFailed, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(PeerAdded)
	bus.Close()

	if _, open := <-ch; open {
		t.Error("subscriber channel should be closed")
	}

	// Both must be no-ops after Close.
	bus.Publish(PeerAdded, "x")
	bus.Close()

	late := bus.Subscribe(PeerAdded)
	if _, open := <-late; open {
		t.Error("subscription after Close should return a closed channel")
	}
}
