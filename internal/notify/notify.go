package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Notification is a patient- or staff-facing message produced by the
// notification agent.
type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Priority  string `json:"priority,omitempty"`
}

// Notifier delivers notifications over one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Dispatcher fans a notification out to every registered channel. With no
// channels configured, sends are logged and dropped, which keeps the demo
// runnable without external credentials.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers []Notifier
	logger    *zap.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Register adds a delivery channel.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, n)
	d.logger.Info("registered notifier", zap.String("channel", n.Name()))
}

// Channels returns the names of registered channels.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Send delivers to all channels. It fails only if every channel failed.
func (d *Dispatcher) Send(ctx context.Context, n *Notification) error {
	d.mu.RLock()
	targets := make([]Notifier, len(d.notifiers))
	copy(targets, d.notifiers)
	d.mu.RUnlock()

	if len(targets) == 0 {
		d.logger.Info("notification dropped, no channels configured",
			zap.String("recipient", n.Recipient),
			zap.String("subject", n.Subject))
		return nil
	}

	failed := 0
	for _, target := range targets {
		if err := target.Send(ctx, n); err != nil {
			failed++
			d.logger.Error("notification delivery failed",
				zap.String("channel", target.Name()),
				zap.Error(err))
		}
	}
	if failed == len(targets) {
		return fmt.Errorf("notification failed on all %d channel(s)", failed)
	}
	return nil
}

// Recorder is an in-memory Notifier for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, *n)
	return nil
}

// Sent returns a copy of everything recorded.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}
