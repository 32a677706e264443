package a2a

import (
	"context"
	"fmt"
	"sync"
)

// Envelope carries either a request or a response between agents.
type Envelope struct {
	Request  *TaskRequest  `json:"request,omitempty"`
	Response *TaskResponse `json:"response,omitempty"`
}

// Transport moves envelopes between agents. Deliver must not block on the
// recipient; a full inbox is an error, not a stall.
type Transport interface {
	Deliver(ctx context.Context, to string, env *Envelope) error
	Inbox(ctx context.Context, agentID string) <-chan *Envelope
	Close() error
}

const inboxSize = 64

// LocalTransport routes envelopes over in-process channels. It is the
// default transport for a single-process deployment and for tests.
type LocalTransport struct {
	mu     sync.RWMutex
	boxes  map[string]chan *Envelope
	closed bool
}

// NewLocalTransport creates an in-process transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{boxes: make(map[string]chan *Envelope)}
}

func (t *LocalTransport) box(agentID string) chan *Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.boxes[agentID]
	if !ok {
		b = make(chan *Envelope, inboxSize)
		t.boxes[agentID] = b
	}
	return b
}

// Deliver places an envelope in the recipient's inbox without blocking.
func (t *LocalTransport) Deliver(_ context.Context, to string, env *Envelope) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return fmt.Errorf("transport closed")
	}
	select {
	case t.box(to) <- env:
		return nil
	default:
		return fmt.Errorf("inbox full for agent %s", to)
	}
}

// Inbox returns the receive channel for an agent. The channel is created on
// first use so agents can subscribe before or after their first message.
func (t *LocalTransport) Inbox(_ context.Context, agentID string) <-chan *Envelope {
	return t.box(agentID)
}

// Close marks the transport closed. Inbox channels are left open so
// in-flight readers drain without panicking.
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
