package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"github.com/opsmesh/opsmesh/internal/notify"
)

// composeTimeout bounds the optional drafting call so notification delivery
// never stalls on a slow model.
const composeTimeout = 10 * time.Second

// NewNotificationAgent builds the notification agent over a dispatcher.
// When params carry no message text and an assistant is on the mesh, the
// agent asks it to draft one; otherwise it falls back to a template.
func NewNotificationAgent(transport a2a.Transport, disc *discovery.Service, dispatcher *notify.Dispatcher, opts Options, logger *zap.Logger) *Agent {
	a := New("notification", "Notifications", transport, disc, opts, logger)

	a.Handle(a2a.Capability{
		Name:        a2a.CapNotifyPatient,
		Description: "Send a patient-facing message",
		Parameters: []a2a.Parameter{
			{Name: "patient_id", Type: "string"},
			{Name: "message", Type: "string"},
			{Name: "ticket_number", Type: "string"},
		},
		ResultSchema: map[string]string{"notified": "bool"},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		msg := optParam(params, "message", "")
		if msg == "" {
			msg = a.composeMessage(ctx, params)
		}
		n := &notify.Notification{
			Recipient: optParam(params, "patient_id", "patient"),
			Subject:   "Visit update",
			Body:      msg,
		}
		if err := dispatcher.Send(ctx, n); err != nil {
			return nil, err
		}
		return map[string]any{"notified": true, "channels": len(dispatcher.Channels())}, nil
	})

	a.Handle(a2a.Capability{
		Name:        a2a.CapNotifyStaff,
		Description: "Alert staff, used for emergency admissions",
		Parameters: []a2a.Parameter{
			{Name: "message", Type: "string"},
			{Name: "reason", Type: "string"},
			{Name: "ticket_number", Type: "string"},
		},
		ResultSchema: map[string]string{"notified": "bool"},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		msg := optParam(params, "message", "")
		if msg == "" {
			msg = fmt.Sprintf("Emergency admission: %s (ticket %s)",
				optParam(params, "reason", "unspecified"),
				optParam(params, "ticket_number", "pending"))
		}
		n := &notify.Notification{
			Recipient: "staff",
			Subject:   "Staff alert",
			Body:      msg,
			Priority:  "urgent",
		}
		if err := dispatcher.Send(ctx, n); err != nil {
			return nil, err
		}
		return map[string]any{"notified": true}, nil
	})

	return a
}

// composeMessage drafts patient wording through the assistant when one is
// registered, else falls back to a ticket template.
func (a *Agent) composeMessage(ctx context.Context, params map[string]any) string {
	fallback := fmt.Sprintf("You are in the queue. Your ticket is %s.",
		optParam(params, "ticket_number", "pending"))

	candidates := a.disc.FindByCapability(a2a.CapGenerateResponse)
	if len(candidates) == 0 {
		return fallback
	}
	prompt := fmt.Sprintf(
		"Tell the patient they are checked in with ticket %s and staff will call them.",
		optParam(params, "ticket_number", "pending"))
	resp, err := a.proto.Call(ctx, candidates[0].AgentID, a2a.CapGenerateResponse,
		map[string]any{"prompt": prompt}, composeTimeout)
	if err != nil || resp.Status != a2a.ResponseSuccess {
		a.logger.Warn("message drafting unavailable, using template")
		return fallback
	}
	if text, ok := resp.Result["text"].(string); ok && text != "" {
		return text
	}
	return fallback
}
