package a2a

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler executes an inbound task request and produces its response.
type Handler func(ctx context.Context, req *TaskRequest) *TaskResponse

// Recorder persists protocol traffic for audit. The engine records on the
// caller side: every attempt of an outbound task and the response that
// resolved it, including locally synthesized timeout and abandon outcomes.
// Failures are logged, never propagated.
type Recorder interface {
	RecordRequest(ctx context.Context, req *TaskRequest) error
	RecordResponse(ctx context.Context, resp *TaskResponse) error
}

// Defaults are applied when a Send caller leaves a knob unset.
type Defaults struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Engine is one agent's endpoint on the task protocol. It dispatches
// requests to other agents, correlates responses by task id, enforces
// per-attempt deadlines, and retries with exponential backoff reusing the
// same task id so a late original response still wins.
type Engine struct {
	agentID   string
	transport Transport
	defaults  Defaults
	recorder  Recorder

	mu      sync.Mutex
	handler Handler
	pending map[string]*pendingTask

	logger *zap.Logger
}

type pendingTask struct {
	req      *TaskRequest
	done     chan *TaskResponse
	resolved bool
}

// NewEngine creates a protocol engine for one agent.
func NewEngine(agentID string, transport Transport, defaults Defaults, logger *zap.Logger) *Engine {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	if defaults.MaxRetries < 0 {
		defaults.MaxRetries = 0
	}
	if defaults.Backoff <= 0 {
		defaults.Backoff = 200 * time.Millisecond
	}
	return &Engine{
		agentID:   agentID,
		transport: transport,
		defaults:  defaults,
		pending:   make(map[string]*pendingTask),
		logger:    logger,
	}
}

// AgentID returns the local agent's id.
func (e *Engine) AgentID() string { return e.agentID }

// OnTask registers the function that serves inbound requests.
func (e *Engine) OnTask(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// SetRecorder attaches a traffic recorder.
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// Start begins consuming the agent's inbox. Cancel the context to stop.
func (e *Engine) Start(ctx context.Context) {
	inbox := e.transport.Inbox(ctx, e.agentID)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-inbox:
				if !ok {
					return
				}
				switch {
				case env.Request != nil:
					go e.serve(ctx, env.Request)
				case env.Response != nil:
					e.resolve(env.Response)
				}
			}
		}
	}()
}

// Send creates a TaskRequest and hands it to the transport, returning the
// correlation id immediately. The result is obtained later via Await.
func (e *Engine) Send(ctx context.Context, recipient, capability string, params map[string]any, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = e.defaults.Timeout
	}
	req := NewTaskRequest(e.agentID, recipient, capability, params, timeout, e.defaults.MaxRetries)

	e.mu.Lock()
	e.pending[req.TaskID] = &pendingTask{
		req:  req,
		done: make(chan *TaskResponse, 1),
	}
	e.mu.Unlock()

	e.recordRequest(ctx, req)

	if err := e.deliver(ctx, req); err != nil {
		e.take(req.TaskID)
		return "", fmt.Errorf("dispatch task %s: %w", req.TaskID, err)
	}

	e.logger.Debug("task dispatched",
		zap.String("task", req.TaskID),
		zap.String("recipient", recipient),
		zap.String("capability", capability))
	return req.TaskID, nil
}

// Await blocks until the task resolves or its deadline elapses. On timeout
// the engine resends the same request up to MaxRetries times with
// exponential backoff; after exhausting retries the caller receives a
// TIMEOUT response tagged exhausted_retries. Each task id resolves exactly
// once.
func (e *Engine) Await(ctx context.Context, taskID string) (*TaskResponse, error) {
	e.mu.Lock()
	p, ok := e.pending[taskID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown task %s", taskID)
	}

	attempt := p.req.Deadline.Sub(p.req.CreatedAt)
	timer := time.NewTimer(time.Until(p.req.Deadline))
	defer timer.Stop()

	for {
		select {
		case resp := <-p.done:
			return resp, nil

		case <-ctx.Done():
			e.Abandon(taskID)
			return nil, ctx.Err()

		case <-timer.C:
			if p.req.RetryCount >= p.req.MaxRetries {
				resp := TimeoutResponse(taskID, ReasonExhaustedRetries,
					fmt.Sprintf("no response after %d attempt(s)", p.req.RetryCount+1))
				if !e.take(taskID) {
					// A response won the race against the deadline.
					return <-p.done, nil
				}
				e.recordResponse(ctx, resp)
				e.logger.Warn("task exhausted retries",
					zap.String("task", taskID),
					zap.String("recipient", p.req.RecipientID))
				return resp, nil
			}

			p.req.RetryCount++
			backoff := e.defaults.Backoff * (1 << (p.req.RetryCount - 1))
			select {
			case resp := <-p.done:
				return resp, nil
			case <-ctx.Done():
				e.Abandon(taskID)
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			p.req.Deadline = time.Now().Add(attempt)
			e.recordRequest(ctx, p.req)
			if err := e.deliver(ctx, p.req); err != nil {
				e.logger.Warn("retry dispatch failed",
					zap.String("task", taskID), zap.Error(err))
			} else {
				e.logger.Debug("task retried",
					zap.String("task", taskID),
					zap.Int("retry", p.req.RetryCount))
			}
			timer.Reset(time.Until(p.req.Deadline))
		}
	}
}

// Call is Send followed by Await.
func (e *Engine) Call(ctx context.Context, recipient, capability string, params map[string]any, timeout time.Duration) (*TaskResponse, error) {
	taskID, err := e.Send(ctx, recipient, capability, params, timeout)
	if err != nil {
		return nil, err
	}
	return e.Await(ctx, taskID)
}

// Abandon marks an outstanding task resolved without a result so that its
// eventual late response is dropped. The audit trail records the task as
// failed with reason abandoned.
func (e *Engine) Abandon(taskID string) {
	if e.take(taskID) {
		e.recordResponse(context.Background(),
			FailureResponse(taskID, ReasonAbandoned, "abandoned by caller"))
		e.logger.Debug("task abandoned", zap.String("task", taskID))
	}
}

// Pending returns the number of unresolved outbound tasks.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// deliver sends a snapshot of the request so the recipient never observes
// retry bookkeeping mutations.
func (e *Engine) deliver(ctx context.Context, req *TaskRequest) error {
	cp := *req
	return e.transport.Deliver(ctx, req.RecipientID, &Envelope{Request: &cp})
}

// serve runs the local handler for an inbound request and returns the
// response to the sender.
func (e *Engine) serve(ctx context.Context, req *TaskRequest) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()

	var resp *TaskResponse
	if h == nil {
		resp = ErrorResponse(req.TaskID, fmt.Sprintf("agent %s has no task handler", e.agentID))
	} else {
		resp = h(ctx, req)
		if resp == nil {
			resp = ErrorResponse(req.TaskID, "handler returned no response")
		}
	}
	resp.TaskID = req.TaskID

	if err := e.transport.Deliver(ctx, req.SenderID, &Envelope{Response: resp}); err != nil {
		e.logger.Warn("response delivery failed",
			zap.String("task", req.TaskID),
			zap.String("sender", req.SenderID),
			zap.Error(err))
	}
}

// resolve hands an inbound response to the waiting caller. First response
// wins; duplicates and responses for unknown or abandoned tasks are dropped.
func (e *Engine) resolve(resp *TaskResponse) {
	e.mu.Lock()
	p, ok := e.pending[resp.TaskID]
	if !ok || p.resolved {
		e.mu.Unlock()
		e.logger.Debug("dropped duplicate or late response",
			zap.String("task", resp.TaskID))
		return
	}
	p.resolved = true
	delete(e.pending, resp.TaskID)
	e.mu.Unlock()

	e.recordResponse(context.Background(), resp)
	p.done <- resp
}

// take marks a task resolved locally. It returns false if the task was
// already resolved or never existed.
func (e *Engine) take(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[taskID]
	if !ok || p.resolved {
		return false
	}
	p.resolved = true
	delete(e.pending, taskID)
	return true
}

func (e *Engine) recordRequest(ctx context.Context, req *TaskRequest) {
	e.mu.Lock()
	rec := e.recorder
	e.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.RecordRequest(ctx, req); err != nil {
		e.logger.Warn("record request failed",
			zap.String("task", req.TaskID), zap.Error(err))
	}
}

func (e *Engine) recordResponse(ctx context.Context, resp *TaskResponse) {
	e.mu.Lock()
	rec := e.recorder
	e.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.RecordResponse(ctx, resp); err != nil {
		e.logger.Warn("record response failed",
			zap.String("task", resp.TaskID), zap.Error(err))
	}
}
