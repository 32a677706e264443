package agents

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"github.com/opsmesh/opsmesh/internal/queue"
)

// NewQueueAgent builds the queue agent over a shared queue manager.
func NewQueueAgent(transport a2a.Transport, disc *discovery.Service, mgr *queue.Manager, opts Options, logger *zap.Logger) *Agent {
	a := New("queue", "Queue Desk", transport, disc, opts, logger)

	a.Handle(a2a.Capability{
		Name:        a2a.CapEnqueue,
		Description: "Admit a patient into a service lane",
		Parameters: []a2a.Parameter{
			{Name: "queue_type", Type: "string", Required: true},
			{Name: "priority", Type: "string"},
			{Name: "patient_id", Type: "string"},
			{Name: "reason", Type: "string"},
		},
		ResultSchema: map[string]string{
			"ticket_number":          "string",
			"entry_id":               "string",
			"estimated_wait_minutes": "number",
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		qt, err := parseQueueType(optParam(params, "queue_type", string(queue.WalkIn)))
		if err != nil {
			return nil, err
		}
		prio, err := parsePriority(optParam(params, "priority", string(queue.PriorityMedium)))
		if err != nil {
			return nil, err
		}
		e := &queue.Entry{
			PatientID: optParam(params, "patient_id", ""),
			QueueType: qt,
			Priority:  prio,
			Reason:    optParam(params, "reason", ""),
		}
		if err := mgr.Enqueue(ctx, e); err != nil {
			return nil, err
		}
		return map[string]any{
			"ticket_number":          e.TicketNumber,
			"entry_id":               e.EntryID,
			"estimated_wait_minutes": e.EstimatedWait.Minutes(),
		}, nil
	})

	a.Handle(a2a.Capability{
		Name:        a2a.CapCallNext,
		Description: "Call the next waiting patient of a lane",
		Parameters: []a2a.Parameter{
			{Name: "queue_type", Type: "string", Required: true},
		},
		ResultSchema: map[string]string{
			"ticket_number": "string",
			"entry_id":      "string",
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		qt, err := parseQueueType(optParam(params, "queue_type", string(queue.WalkIn)))
		if err != nil {
			return nil, err
		}
		e, err := mgr.CallNext(ctx, qt)
		if errors.Is(err, queue.ErrEmptyQueue) {
			return nil, Refuse("queue_empty", "no waiting entries in %s", qt)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"ticket_number": e.TicketNumber,
			"entry_id":      e.EntryID,
			"patient_id":    e.PatientID,
		}, nil
	})

	a.Handle(a2a.Capability{
		Name:        a2a.CapQueueStatus,
		Description: "Report waiting entries and wait estimates for a lane",
		Parameters: []a2a.Parameter{
			{Name: "queue_type", Type: "string", Required: true},
		},
		ResultSchema: map[string]string{
			"waiting":                 "number",
			"in_service":              "number",
			"tickets":                 "array",
			"average_service_minutes": "number",
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		qt, err := parseQueueType(optParam(params, "queue_type", string(queue.WalkIn)))
		if err != nil {
			return nil, err
		}
		waiting := mgr.Waiting(qt)
		tickets := make([]any, len(waiting))
		for i, w := range waiting {
			tickets[i] = map[string]any{
				"ticket_number":          w.TicketNumber,
				"priority":               string(w.Priority),
				"estimated_wait_minutes": w.EstimatedWait.Minutes(),
			}
		}
		return map[string]any{
			"queue_type":              string(qt),
			"waiting":                 len(waiting),
			"in_service":              mgr.InService(qt),
			"tickets":                 tickets,
			"average_service_minutes": mgr.AverageService(qt).Minutes(),
		}, nil
	})

	return a
}

func parseQueueType(s string) (queue.Type, error) {
	switch qt := queue.Type(s); qt {
	case queue.WalkIn, queue.Appointment, queue.Emergency:
		return qt, nil
	default:
		return "", Refuse("invalid_parameter", "unknown queue_type %q", s)
	}
}

func parsePriority(s string) (queue.Priority, error) {
	switch p := queue.Priority(s); p {
	case queue.PriorityLow, queue.PriorityMedium, queue.PriorityHigh, queue.PriorityUrgent:
		return p, nil
	default:
		return "", Refuse("invalid_parameter", "unknown priority %q", s)
	}
}
