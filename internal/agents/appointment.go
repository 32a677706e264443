package agents

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"github.com/opsmesh/opsmesh/internal/store"
)

// AppointmentStore is the slice of persistence the appointment agent needs.
type AppointmentStore interface {
	SaveAppointment(ctx context.Context, a *store.Appointment) error
	GetAppointment(ctx context.Context, id string) (*store.Appointment, error)
	GetAppointmentByCode(ctx context.Context, code string) (*store.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id, status string) error
}

// NewAppointmentAgent builds the scheduling agent. It verifies confirmation
// codes during check-in and handles booking and cancellation.
func NewAppointmentAgent(transport a2a.Transport, disc *discovery.Service, st AppointmentStore, opts Options, logger *zap.Logger) *Agent {
	a := New("appointment", "Appointment Desk", transport, disc, opts, logger)

	a.Handle(a2a.Capability{
		Name:        a2a.CapVerifyAppointment,
		Description: "Verify a scheduled appointment and mark it checked in",
		Parameters: []a2a.Parameter{
			{Name: "appointment_id", Type: "string"},
			{Name: "confirmation_code", Type: "string"},
		},
		ResultSchema: map[string]string{
			"verified":   "bool",
			"patient_id": "string",
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		appt, err := lookupAppointment(ctx, st, params)
		if err != nil {
			return nil, err
		}
		switch appt.Status {
		case store.AppointmentCancelled:
			return nil, Refuse("appointment_cancelled", "appointment %s was cancelled", appt.ID)
		case store.AppointmentCompleted, store.AppointmentNoShow:
			return nil, Refuse("appointment_closed", "appointment %s is %s", appt.ID, appt.Status)
		}
		if err := st.UpdateAppointmentStatus(ctx, appt.ID, store.AppointmentCheckedIn); err != nil {
			return nil, err
		}
		return map[string]any{
			"verified":       true,
			"appointment_id": appt.ID,
			"patient_id":     appt.PatientID,
			"provider":       appt.Provider,
		}, nil
	})

	a.Handle(a2a.Capability{
		Name:        a2a.CapScheduleAppointment,
		Description: "Book an appointment and issue a confirmation code",
		Parameters: []a2a.Parameter{
			{Name: "patient_id", Type: "string", Required: true},
			{Name: "scheduled_at", Type: "string", Required: true},
			{Name: "provider", Type: "string"},
			{Name: "notes", Type: "string"},
		},
		ResultSchema: map[string]string{
			"appointment_id":    "string",
			"confirmation_code": "string",
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		patientID, err := param(params, "patient_id")
		if err != nil {
			return nil, err
		}
		when, err := param(params, "scheduled_at")
		if err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339, when)
		if err != nil {
			return nil, Refuse("invalid_parameter", "scheduled_at %q is not RFC 3339", when)
		}
		appt := &store.Appointment{
			PatientID:   patientID,
			Provider:    optParam(params, "provider", ""),
			Notes:       optParam(params, "notes", ""),
			ScheduledAt: at,
		}
		if err := st.SaveAppointment(ctx, appt); err != nil {
			return nil, err
		}
		return map[string]any{
			"appointment_id":    appt.ID,
			"confirmation_code": appt.ConfirmationCode,
		}, nil
	})

	a.Handle(a2a.Capability{
		Name:        a2a.CapCancelAppointment,
		Description: "Cancel a scheduled appointment",
		Parameters: []a2a.Parameter{
			{Name: "appointment_id", Type: "string"},
			{Name: "confirmation_code", Type: "string"},
		},
		ResultSchema: map[string]string{"cancelled": "bool"},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		appt, err := lookupAppointment(ctx, st, params)
		if err != nil {
			return nil, err
		}
		if appt.Status == store.AppointmentCompleted {
			return nil, Refuse("appointment_closed", "appointment %s already completed", appt.ID)
		}
		if err := st.UpdateAppointmentStatus(ctx, appt.ID, store.AppointmentCancelled); err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": true, "appointment_id": appt.ID}, nil
	})

	return a
}

// lookupAppointment resolves an appointment from either an id or a
// confirmation code parameter.
func lookupAppointment(ctx context.Context, st AppointmentStore, params map[string]any) (*store.Appointment, error) {
	if id := optParam(params, "appointment_id", ""); id != "" {
		appt, err := st.GetAppointment(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, Refuse("appointment_not_found", "no appointment %s", id)
		}
		return appt, err
	}
	code, err := param(params, "confirmation_code")
	if err != nil {
		return nil, Refuse("missing_parameter", "appointment_id or confirmation_code is required")
	}
	appt, err := st.GetAppointmentByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, Refuse("appointment_not_found", "no appointment with code %s", code)
	}
	return appt, err
}
