package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"go.uber.org/zap"
)

// capDropper drops the first n request deliveries for one capability,
// forcing the protocol engine's timeout/retry path.
type capDropper struct {
	a2a.Transport
	capability string
	drops      int32
}

func (d *capDropper) Deliver(ctx context.Context, to string, env *a2a.Envelope) error {
	if env.Request != nil && env.Request.Capability == d.capability &&
		atomic.AddInt32(&d.drops, -1) >= 0 {
		return nil
	}
	return d.Transport.Deliver(ctx, to, env)
}

type capFunc func(params map[string]any) (map[string]any, error)

type mesh struct {
	tr     a2a.Transport
	disc   *discovery.Service
	orch   *Engine
	ctx    context.Context
	cancel context.CancelFunc
}

func newMesh(t *testing.T, tr a2a.Transport, defaults a2a.Defaults) *mesh {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	disc := discovery.NewService(discovery.Options{}, zap.NewNop())
	proto := a2a.NewEngine("orchestrator", tr, defaults, zap.NewNop())
	proto.Start(ctx)
	orch := NewEngine(proto, disc, zap.NewNop())
	return &mesh{tr: tr, disc: disc, orch: orch, ctx: ctx, cancel: cancel}
}

// addAgent registers a capability-keyed fake agent on the mesh.
func (m *mesh) addAgent(t *testing.T, id string, caps map[string]capFunc) {
	t.Helper()
	card := a2a.AgentCard{AgentID: id, DisplayName: id, ProtocolVersion: a2a.ProtocolVersion}
	for name := range caps {
		card.Capabilities = append(card.Capabilities, a2a.Capability{Name: name})
	}
	if err := m.disc.Register(card); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}

	eng := a2a.NewEngine(id, m.tr, a2a.Defaults{}, zap.NewNop())
	eng.OnTask(func(_ context.Context, req *a2a.TaskRequest) *a2a.TaskResponse {
		fn, ok := caps[req.Capability]
		if !ok {
			return a2a.ErrorResponse(req.TaskID, "unknown capability "+req.Capability)
		}
		result, err := fn(req.Parameters)
		if err != nil {
			return a2a.ErrorResponse(req.TaskID, err.Error())
		}
		return a2a.SuccessResponse(req.TaskID, result)
	})
	eng.Start(m.ctx)
}

func waitTerminal(t *testing.T, orch *Engine, workflowID string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := orch.Status(workflowID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if snap.Overall != InstanceRunning {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s never reached a terminal state", workflowID)
	return Snapshot{}
}

func TestDefinitionValidate(t *testing.T) {
	cases := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{"valid", Definition{Type: "x", Steps: []Step{{ID: "a", Capability: "c"}}}, false},
		{"no steps", Definition{Type: "x"}, true},
		{"duplicate id", Definition{Type: "x", Steps: []Step{
			{ID: "a", Capability: "c"}, {ID: "a", Capability: "c"},
		}}, true},
		{"forward dep", Definition{Type: "x", Steps: []Step{
			{ID: "a", Capability: "c", DependsOn: []string{"b"}}, {ID: "b", Capability: "c"},
		}}, true},
	}
	for _, tc := range cases {
		err := tc.def.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: got err %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
	for _, def := range BuiltinFlows() {
		if err := def.Validate(); err != nil {
			t.Errorf("builtin %s: %v", def.Type, err)
		}
	}
}

func TestDependencyOrdering(t *testing.T) {
	tr := a2a.NewLocalTransport()
	m := newMesh(t, tr, a2a.Defaults{Timeout: time.Second})

	var mu sync.Mutex
	var order []string
	record := func(name string) capFunc {
		return func(map[string]any) (map[string]any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return map[string]any{name: "done"}, nil
		}
	}
	m.addAgent(t, "worker", map[string]capFunc{
		"first":  record("first"),
		"second": record("second"),
		"third":  record("third"),
	})

	def := Definition{
		Type: "chain",
		Steps: []Step{
			{ID: "s1", Capability: "first", Required: true},
			{ID: "s2", Capability: "second", DependsOn: []string{"s1"}, Required: true},
			{ID: "s3", Capability: "third", DependsOn: []string{"s2"}, Required: true},
		},
	}
	id, err := m.orch.StartWorkflow(m.ctx, def, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitTerminal(t, m.orch, id)
	if snap.Overall != InstanceCompleted {
		t.Fatalf("got %s, want completed (errors: %v)", snap.Overall, snap.StepErrors)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("got %d executions, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, order[i], want[i])
		}
	}
	// Results merged into the shared payload.
	if snap.Payload["third"] != "done" {
		t.Errorf("payload missing merged step result: %v", snap.Payload)
	}
}

func TestIndependentStepsRunConcurrently(t *testing.T) {
	tr := a2a.NewLocalTransport()
	m := newMesh(t, tr, a2a.Defaults{Timeout: 2 * time.Second})

	var active, peak int32
	slow := func(map[string]any) (map[string]any, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil, nil
	}
	m.addAgent(t, "worker", map[string]capFunc{"a": slow, "b": slow})

	def := Definition{
		Type: "fanout",
		Steps: []Step{
			{ID: "s1", Capability: "a", Required: true},
			{ID: "s2", Capability: "b", Required: true},
		},
	}
	id, err := m.orch.StartWorkflow(m.ctx, def, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitTerminal(t, m.orch, id)
	if snap.Overall != InstanceCompleted {
		t.Fatalf("got %s, want completed", snap.Overall)
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("independent steps never overlapped (peak %d)", peak)
	}
}

func TestNoCapableAgent(t *testing.T) {
	tr := a2a.NewLocalTransport()
	m := newMesh(t, tr, a2a.Defaults{Timeout: time.Second})

	def := Definition{
		Type:  "orphan",
		Steps: []Step{{ID: "s1", Capability: "nonexistent", Required: true}},
	}
	id, err := m.orch.StartWorkflow(m.ctx, def, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitTerminal(t, m.orch, id)
	if snap.Overall != InstanceFailed {
		t.Fatalf("got %s, want failed", snap.Overall)
	}
	if snap.StepStates["s1"] != StepFailed {
		t.Errorf("got step state %s, want failed", snap.StepStates["s1"])
	}
}

func TestRequiredStepExhaustsRetries(t *testing.T) {
	// Every delivery of the flaky capability is dropped; the step must fail
	// after max retries, dependents stay SKIPPED, the instance is FAILED.
	tr := &capDropper{Transport: a2a.NewLocalTransport(), capability: "flaky", drops: 100}
	defaults := a2a.Defaults{Timeout: 40 * time.Millisecond, MaxRetries: 3, Backoff: 5 * time.Millisecond}
	m := newMesh(t, tr, defaults)

	m.addAgent(t, "worker", map[string]capFunc{
		"flaky": func(map[string]any) (map[string]any, error) { return nil, nil },
		"after": func(map[string]any) (map[string]any, error) { return nil, nil },
	})

	def := Definition{
		Type: "doomed",
		Steps: []Step{
			{ID: "s1", Capability: "flaky", Required: true},
			{ID: "s2", Capability: "after", DependsOn: []string{"s1"}, Required: true},
		},
	}
	id, err := m.orch.StartWorkflow(m.ctx, def, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitTerminal(t, m.orch, id)
	if snap.Overall != InstanceFailed {
		t.Fatalf("got %s, want failed", snap.Overall)
	}
	if snap.StepStates["s1"] != StepFailed {
		t.Errorf("s1: got %s, want failed", snap.StepStates["s1"])
	}
	if snap.StepStates["s2"] != StepSkipped {
		t.Errorf("s2: got %s, want skipped", snap.StepStates["s2"])
	}
}

func TestOptionalFailureIsPartialCompletion(t *testing.T) {
	tr := a2a.NewLocalTransport()
	m := newMesh(t, tr, a2a.Defaults{Timeout: time.Second})

	m.addAgent(t, "worker", map[string]capFunc{
		"good": func(map[string]any) (map[string]any, error) { return nil, nil },
		"bad":  func(map[string]any) (map[string]any, error) { return nil, fmt.Errorf("nope") },
	})

	def := Definition{
		Type: "mixed",
		Steps: []Step{
			{ID: "s1", Capability: "good", Required: true},
			{ID: "s2", Capability: "bad", DependsOn: []string{"s1"}}, // optional
		},
	}
	id, err := m.orch.StartWorkflow(m.ctx, def, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitTerminal(t, m.orch, id)
	if snap.Overall != InstancePartiallyCompleted {
		t.Fatalf("got %s, want partially_completed", snap.Overall)
	}
}

func TestRegistrationWorkflowWithRetriedEnqueue(t *testing.T) {
	// Two-step registration flow: register_patient succeeds, the first
	// enqueue attempt times out, the retry succeeds, the workflow completes.
	tr := &capDropper{Transport: a2a.NewLocalTransport(), capability: a2a.CapEnqueue, drops: 1}
	defaults := a2a.Defaults{Timeout: 60 * time.Millisecond, MaxRetries: 2, Backoff: 5 * time.Millisecond}
	m := newMesh(t, tr, defaults)

	m.addAgent(t, "frontdesk", map[string]capFunc{
		a2a.CapRegisterPatient: func(map[string]any) (map[string]any, error) {
			return map[string]any{"patient_id": "p-1"}, nil
		},
	})
	var enqueued int32
	m.addAgent(t, "queue", map[string]capFunc{
		a2a.CapEnqueue: func(params map[string]any) (map[string]any, error) {
			atomic.AddInt32(&enqueued, 1)
			if params["patient_id"] != "p-1" {
				return nil, fmt.Errorf("payload missing patient_id")
			}
			return map[string]any{"ticket_number": "W-0042"}, nil
		},
	})

	def := Definition{
		Type: "registration",
		Steps: []Step{
			{ID: "register_patient", Capability: a2a.CapRegisterPatient, Required: true},
			{ID: "enqueue", Capability: a2a.CapEnqueue, DependsOn: []string{"register_patient"}, Required: true},
		},
	}
	id, err := m.orch.StartWorkflow(m.ctx, def, map[string]any{"first_name": "Ada"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitTerminal(t, m.orch, id)
	if snap.Overall != InstanceCompleted {
		t.Fatalf("got %s, want completed (errors: %v)", snap.Overall, snap.StepErrors)
	}
	if snap.Payload["ticket_number"] != "W-0042" {
		t.Errorf("got payload %v, want ticket_number W-0042", snap.Payload)
	}
	if atomic.LoadInt32(&enqueued) != 1 {
		t.Errorf("enqueue handled %d times, want exactly 1", enqueued)
	}
}

func TestWorkflowCeilingAbort(t *testing.T) {
	tr := a2a.NewLocalTransport()
	m := newMesh(t, tr, a2a.Defaults{Timeout: 5 * time.Second})

	m.addAgent(t, "worker", map[string]capFunc{
		"stall": func(map[string]any) (map[string]any, error) {
			time.Sleep(500 * time.Millisecond)
			return nil, nil
		},
		"never": func(map[string]any) (map[string]any, error) { return nil, nil },
	})

	def := Definition{
		Type:    "slow",
		Ceiling: 50 * time.Millisecond,
		Steps: []Step{
			{ID: "s1", Capability: "stall", Required: true},
			{ID: "s2", Capability: "never", DependsOn: []string{"s1"}, Required: true},
		},
	}
	id, err := m.orch.StartWorkflow(m.ctx, def, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitTerminal(t, m.orch, id)
	if snap.Overall != InstanceFailed {
		t.Fatalf("got %s, want failed", snap.Overall)
	}
	if snap.StepStates["s2"] != StepSkipped {
		t.Errorf("s2: got %s, want skipped", snap.StepStates["s2"])
	}
}
