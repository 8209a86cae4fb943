package events

import (
	"testing"
	"time"

	"grimm.is/rse/internal/clock"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe(10, EventPoolCreated)

	hub.EmitPool(EventPoolCreated, PoolData{Profile: "default", Pool: "PoolA"})

	select {
	case e := <-ch:
		if e.Type != EventPoolCreated {
			t.Errorf("expected EventPoolCreated, got %s", e.Type)
		}
		data, ok := e.Data.(PoolData)
		if !ok {
			t.Fatal("expected PoolData")
		}
		if data.Pool != "PoolA" {
			t.Errorf("expected pool PoolA, got %s", data.Pool)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHub_TypeFilteringAndGlobal(t *testing.T) {
	hub := NewHub(nil)
	filtersOnly := hub.Subscribe(10, EventFilterCreated, EventFilterDeleted)
	all := hub.Subscribe(10)

	hub.EmitPool(EventPoolCreated, PoolData{Pool: "p"})
	hub.EmitFilter(EventFilterCreated, FilterData{Filter: "f"})
	hub.EmitProfile(EventProfileCommitted, "default", "snap")
	hub.EmitFilter(EventFilterDeleted, FilterData{Filter: "f"})

	if got := len(filtersOnly); got != 2 {
		t.Errorf("filter subscriber got %d events, want 2", got)
	}
	if got := len(all); got != 4 {
		t.Errorf("global subscriber got %d events, want 4", got)
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub(nil)
	hub.Subscribe(1, EventProfileTainted)

	hub.EmitProfile(EventProfileTainted, "a", "")
	hub.EmitProfile(EventProfileTainted, "b", "")

	published, dropped := hub.Stats()
	if published != 2 || dropped != 1 {
		t.Errorf("Stats() = %d, %d; want 2, 1", published, dropped)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe(10)
	hub.Unsubscribe(ch)

	hub.EmitReferenceBroken("host1", "Mgr___Pool")
	if len(ch) != 0 {
		t.Error("unsubscribed channel should not receive events")
	}
}

func TestHub_UsesClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	hub := NewHub(clock.NewMockClock(at))
	ch := hub.Subscribe(1)

	hub.EmitProfile(EventProfileCommitted, "default", "")
	if e := <-ch; !e.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, at)
	}
}

func TestHub_NilIsSafe(t *testing.T) {
	var hub *Hub
	hub.EmitPool(EventPoolDeleted, PoolData{})
}
