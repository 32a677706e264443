package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"go.uber.org/zap"
)

func card(id string, caps ...string) a2a.AgentCard {
	c := a2a.AgentCard{AgentID: id, DisplayName: id, ProtocolVersion: a2a.ProtocolVersion}
	for _, name := range caps {
		c.Capabilities = append(c.Capabilities, a2a.Capability{Name: name})
	}
	return c
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	return NewService(opts, zap.NewNop())
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t, Options{})

	if err := svc.Register(a2a.AgentCard{AgentID: "empty"}); !errors.Is(err, ErrValidation) {
		t.Errorf("no capabilities: got %v, want ErrValidation", err)
	}
	if err := svc.Register(a2a.AgentCard{}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty id: got %v, want ErrValidation", err)
	}

	bad := card("old", "x")
	bad.ProtocolVersion = "0.9"
	if err := svc.Register(bad); !errors.Is(err, ErrValidation) {
		t.Errorf("version mismatch: got %v, want ErrValidation", err)
	}

	if err := svc.Register(card("ok", "x")); err != nil {
		t.Fatalf("valid card rejected: %v", err)
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	svc := newTestService(t, Options{})
	if err := svc.Heartbeat("ghost", a2a.StatusActive); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("got %v, want ErrNotRegistered", err)
	}
}

func TestDeregisterIdempotent(t *testing.T) {
	svc := newTestService(t, Options{})
	if err := svc.Register(card("a", "x")); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.Deregister("a")
	svc.Deregister("a") // no-op, no panic
	if svc.Registry().Len() != 0 {
		t.Errorf("got %d agents, want 0", svc.Registry().Len())
	}
}

func TestFindByCapabilityOrdering(t *testing.T) {
	svc := newTestService(t, Options{})
	for _, id := range []string{"busy", "idle-old", "idle-new"} {
		if err := svc.Register(card(id, "triage")); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := svc.Register(card("other", "billing")); err != nil {
		t.Fatalf("register other: %v", err)
	}

	// Stamp heartbeats in a known order.
	if err := svc.Heartbeat("idle-old", a2a.StatusActive); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := svc.Heartbeat("busy", a2a.StatusBusy); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := svc.Heartbeat("idle-new", a2a.StatusActive); err != nil {
		t.Fatal(err)
	}

	got := svc.FindByCapability("triage")
	if len(got) != 3 {
		t.Fatalf("got %d agents, want 3", len(got))
	}
	want := []string{"idle-new", "idle-old", "busy"}
	for i, w := range want {
		if got[i].AgentID != w {
			t.Errorf("position %d: got %s, want %s", i, got[i].AgentID, w)
		}
	}

	if found := svc.FindByCapability("surgery"); len(found) != 0 {
		t.Errorf("unknown capability: got %d agents, want 0", len(found))
	}
}

func TestSweepMarksUnreachableAndEvicts(t *testing.T) {
	svc := newTestService(t, Options{
		Liveness: 30 * time.Millisecond,
		Grace:    30 * time.Millisecond,
	})
	if err := svc.Register(card("flaky", "triage")); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Silent past the liveness window: excluded from resolution.
	time.Sleep(40 * time.Millisecond)
	svc.Sweep()
	if found := svc.FindByCapability("triage"); len(found) != 0 {
		t.Fatalf("unreachable agent still resolvable: %v", found)
	}
	d, ok := svc.Registry().Get("flaky")
	if !ok || d.Status != a2a.StatusUnreachable {
		t.Fatalf("got status %v, want unreachable", d.Status)
	}

	// A fresh heartbeat revives it.
	if err := svc.Heartbeat("flaky", a2a.StatusActive); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if found := svc.FindByCapability("triage"); len(found) != 1 {
		t.Fatalf("revived agent not resolvable")
	}

	// Silent past liveness+grace: evicted, and the id is free again.
	time.Sleep(70 * time.Millisecond)
	svc.Sweep() // marks unreachable
	svc.Sweep() // second pass may evict once grace elapsed
	time.Sleep(70 * time.Millisecond)
	svc.Sweep()
	if svc.Registry().Len() != 0 {
		t.Fatalf("got %d agents after grace, want 0", svc.Registry().Len())
	}
	if err := svc.Register(card("flaky", "triage")); err != nil {
		t.Fatalf("re-register after eviction: %v", err)
	}
}
