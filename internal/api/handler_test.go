package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"github.com/opsmesh/opsmesh/internal/orchestrator"
	"github.com/opsmesh/opsmesh/internal/queue"
)

// newTestHandler creates a Handler wired with in-memory deps (no Postgres/Redis).
func newTestHandler(t *testing.T) (*Handler, http.Handler, *testMesh) {
	t.Helper()
	logger := zap.NewNop()

	transport := a2a.NewLocalTransport()
	disc := discovery.NewService(discovery.Options{}, logger)
	mgr := queue.NewManager(time.Minute, 15*time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = transport.Close() })

	proto := a2a.NewEngine("orchestrator", transport,
		a2a.Defaults{Timeout: 2 * time.Second, Backoff: 10 * time.Millisecond}, logger)
	proto.Start(ctx)
	flows := orchestrator.NewEngine(proto, disc, logger)
	for _, def := range orchestrator.BuiltinFlows() {
		if err := flows.RegisterFlow(def); err != nil {
			t.Fatalf("register flow: %v", err)
		}
	}

	h := NewHandler(disc, flows, mgr, nil, logger)
	return h, h.Router(), &testMesh{ctx: ctx, transport: transport, disc: disc}
}

// testMesh lets a test stand up stub agents behind the handler.
type testMesh struct {
	ctx       context.Context
	transport *a2a.LocalTransport
	disc      *discovery.Service
}

// addAgent registers a stub agent that answers every listed capability with
// the given result.
func (m *testMesh) addAgent(t *testing.T, id string, result map[string]any, caps ...string) {
	t.Helper()
	card := a2a.AgentCard{AgentID: id, DisplayName: id, ProtocolVersion: a2a.ProtocolVersion}
	for _, c := range caps {
		card.Capabilities = append(card.Capabilities, a2a.Capability{Name: c})
	}
	if err := m.disc.Register(card); err != nil {
		t.Fatalf("register stub %s: %v", id, err)
	}
	eng := a2a.NewEngine(id, m.transport, a2a.Defaults{}, zap.NewNop())
	eng.OnTask(func(_ context.Context, req *a2a.TaskRequest) *a2a.TaskResponse {
		return a2a.SuccessResponse(req.TaskID, result)
	})
	eng.Start(m.ctx)
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["agents"].(float64) != 0 {
		t.Errorf("expected 0 agents, got %v", body["agents"])
	}
}

func TestAgentRegistration(t *testing.T) {
	_, router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Register
	resp := postJSON(t, ts, "/api/agents", map[string]interface{}{
		"agent_id":     "lab",
		"display_name": "Lab Desk",
		"capabilities": []map[string]string{{"name": "order_lab_test"}},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Validation — no capabilities
	resp = postJSON(t, ts, "/api/agents", map[string]interface{}{"agent_id": "empty"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for empty card, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List — should have 1
	resp = getJSON(t, ts, "/api/agents")
	var agents []map[string]interface{}
	decodeJSON(t, resp, &agents)
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}

	// Capability search
	resp = getJSON(t, ts, "/api/capabilities/order_lab_test/agents")
	var found struct {
		Agents []map[string]interface{} `json:"agents"`
	}
	decodeJSON(t, resp, &found)
	if len(found.Agents) != 1 {
		t.Errorf("expected 1 capable agent, got %d", len(found.Agents))
	}

	// Heartbeat
	resp = postJSON(t, ts, "/api/agents/lab/heartbeat", map[string]string{"status": "busy"})
	if resp.StatusCode != 200 {
		t.Errorf("heartbeat: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/agents/ghost/heartbeat", map[string]string{"status": "active"})
	if resp.StatusCode != 404 {
		t.Errorf("unknown heartbeat: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Deregister
	resp = deleteReq(t, ts, "/api/agents/lab")
	if resp.StatusCode != 200 {
		t.Fatalf("deregister: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/agents")
	decodeJSON(t, resp, &agents)
	if len(agents) != 0 {
		t.Errorf("expected 0 agents after deregister, got %d", len(agents))
	}
}

func TestQueueEndpoints(t *testing.T) {
	_, router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Enqueue
	resp := postJSON(t, ts, "/api/queue/entries", map[string]string{
		"queue_type": "walk_in",
		"priority":   "high",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("enqueue: expected 201, got %d", resp.StatusCode)
	}
	var e queue.Entry
	decodeJSON(t, resp, &e)
	if !strings.HasPrefix(e.TicketNumber, "W-") {
		t.Errorf("ticket = %q, want W- prefix", e.TicketNumber)
	}

	// Missing queue type
	resp = postJSON(t, ts, "/api/queue/entries", map[string]string{"priority": "low"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing queue_type, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Lane status
	resp = getJSON(t, ts, "/api/queue/walk_in")
	var status map[string]interface{}
	decodeJSON(t, resp, &status)
	if status["waiting"].(float64) != 1 {
		t.Errorf("waiting = %v, want 1", status["waiting"])
	}

	// Call next, then serve to completion
	resp = postJSON(t, ts, "/api/queue/walk_in/call-next", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("call-next: expected 200, got %d", resp.StatusCode)
	}
	var called queue.Entry
	decodeJSON(t, resp, &called)
	if called.Status != queue.StatusCalled {
		t.Errorf("status = %s, want called", called.Status)
	}

	resp = postJSON(t, ts, "/api/queue/entries/"+called.EntryID+"/start", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = postJSON(t, ts, "/api/queue/entries/"+called.EntryID+"/complete", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("complete: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Completed is terminal
	resp = postJSON(t, ts, "/api/queue/entries/"+called.EntryID+"/cancel", nil)
	if resp.StatusCode != 409 {
		t.Errorf("cancel completed: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Empty lane
	resp = postJSON(t, ts, "/api/queue/emergency/call-next", nil)
	if resp.StatusCode != 404 {
		t.Errorf("empty call-next: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWorkflowEndpoints(t *testing.T) {
	_, router, mesh := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Unknown type
	resp := postJSON(t, ts, "/api/workflows", map[string]interface{}{
		"workflow_type": "discharge",
	})
	if resp.StatusCode != 404 {
		t.Fatalf("unknown type: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Stand up stub agents for the walk-in flow.
	mesh.addAgent(t, "frontdesk", map[string]any{"patient_id": "p-1"}, a2a.CapRegisterPatient)
	mesh.addAgent(t, "queue", map[string]any{"ticket_number": "W-0007"}, a2a.CapEnqueue)
	mesh.addAgent(t, "notification", map[string]any{"notified": true}, a2a.CapNotifyPatient)

	resp = postJSON(t, ts, "/api/workflows", map[string]interface{}{
		"workflow_type": "walkin_registration",
		"payload": map[string]string{
			"first_name": "Ada",
			"last_name":  "Lovelace",
		},
	})
	if resp.StatusCode != 202 {
		t.Fatalf("start: expected 202, got %d", resp.StatusCode)
	}
	var started map[string]string
	decodeJSON(t, resp, &started)
	id := started["workflow_id"]
	if id == "" {
		t.Fatal("expected non-empty workflow_id")
	}

	// Poll until terminal
	deadline := time.Now().Add(5 * time.Second)
	var snap orchestrator.Snapshot
	for time.Now().Before(deadline) {
		resp = getJSON(t, ts, "/api/workflows/"+id)
		decodeJSON(t, resp, &snap)
		if snap.Overall != orchestrator.InstanceRunning {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap.Overall != orchestrator.InstanceCompleted {
		t.Fatalf("overall = %s, want completed (errors: %v)", snap.Overall, snap.StepErrors)
	}
	if snap.Payload["ticket_number"] != "W-0007" {
		t.Errorf("payload ticket = %v, want W-0007", snap.Payload["ticket_number"])
	}

	// Unknown instance
	resp = getJSON(t, ts, "/api/workflows/nope")
	if resp.StatusCode != 404 {
		t.Errorf("unknown instance: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRecordsUnavailableWithoutStore(t *testing.T) {
	_, router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/patients")
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503 without persistence, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/appointments", map[string]string{"patient_id": "p-1"})
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503 without persistence, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
