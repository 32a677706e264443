package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
)

// HandlerFunc serves one capability. The params map is the merged workflow
// payload; the returned map is merged back into it.
type HandlerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Refusal is a business-level decline, distinct from an internal fault. A
// handler returning a Refusal produces a FAILURE response; any other error
// produces an ERROR response.
type Refusal struct {
	Reason string
	Detail string
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Refuse builds a Refusal with a formatted detail.
func Refuse(reason, format string, args ...any) error {
	return &Refusal{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Options tune an agent's protocol defaults and heartbeat cadence.
type Options struct {
	Defaults          a2a.Defaults
	HeartbeatInterval time.Duration
}

// Agent is one mesh participant: an agent card, a protocol engine bound to
// the shared transport, and a heartbeat loop keeping discovery current.
type Agent struct {
	card     a2a.AgentCard
	proto    *a2a.Engine
	disc     *discovery.Service
	handlers map[string]HandlerFunc
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// New creates an agent with no capabilities. Register capabilities with
// Handle before Start.
func New(id, name string, transport a2a.Transport, disc *discovery.Service, opts Options, logger *zap.Logger) *Agent {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	a := &Agent{
		card: a2a.AgentCard{
			AgentID:         id,
			DisplayName:     name,
			ProtocolVersion: a2a.ProtocolVersion,
		},
		proto:    a2a.NewEngine(id, transport, opts.Defaults, logger),
		disc:     disc,
		handlers: make(map[string]HandlerFunc),
		interval: opts.HeartbeatInterval,
		logger:   logger,
	}
	a.proto.OnTask(a.dispatch)
	return a
}

// Handle declares a capability on the card and binds its handler.
func (a *Agent) Handle(c a2a.Capability, fn HandlerFunc) {
	a.card.Capabilities = append(a.card.Capabilities, c)
	a.handlers[c.Name] = fn
}

// Card returns the agent's published card.
func (a *Agent) Card() a2a.AgentCard { return a.card }

// Proto exposes the agent's protocol engine for outbound calls.
func (a *Agent) Proto() *a2a.Engine { return a.proto }

// ID returns the agent id.
func (a *Agent) ID() string { return a.card.AgentID }

// Start registers with discovery, begins serving the inbox and runs the
// heartbeat loop until Stop or context cancellation.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.disc.Register(a.card); err != nil {
		return fmt.Errorf("register agent %s: %w", a.card.AgentID, err)
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.proto.Start(ctx)
	go a.heartbeatLoop(ctx)
	a.logger.Info("agent started",
		zap.String("agent", a.card.AgentID),
		zap.Int("capabilities", len(a.card.Capabilities)))
	return nil
}

// Stop deregisters the agent and halts its loops.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.disc.Deregister(a.card.AgentID)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := a.disc.Heartbeat(a.card.AgentID, a2a.StatusActive)
			if errors.Is(err, discovery.ErrNotRegistered) {
				// Evicted after a silence window; re-register.
				if rerr := a.disc.Register(a.card); rerr != nil {
					a.logger.Warn("re-registration failed",
						zap.String("agent", a.card.AgentID), zap.Error(rerr))
				}
			}
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, req *a2a.TaskRequest) *a2a.TaskResponse {
	fn, ok := a.handlers[req.Capability]
	if !ok {
		return a2a.ErrorResponse(req.TaskID,
			fmt.Sprintf("agent %s does not provide %s", a.card.AgentID, req.Capability))
	}
	result, err := fn(ctx, req.Parameters)
	if err != nil {
		var refusal *Refusal
		if errors.As(err, &refusal) {
			return a2a.FailureResponse(req.TaskID, refusal.Reason, refusal.Detail)
		}
		a.logger.Error("handler fault",
			zap.String("agent", a.card.AgentID),
			zap.String("capability", req.Capability),
			zap.Error(err))
		return a2a.ErrorResponse(req.TaskID, err.Error())
	}
	return a2a.SuccessResponse(req.TaskID, result)
}

// param reads a required string parameter.
func param(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", Refuse("missing_parameter", "parameter %q is required", key)
	}
	return v, nil
}

// optParam reads an optional string parameter, returning def when absent.
func optParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
