package agents

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"github.com/opsmesh/opsmesh/internal/store"
)

// FrontDeskStore is the slice of persistence the front desk needs.
type FrontDeskStore interface {
	SavePatient(ctx context.Context, p *store.Patient) error
	GetAppointmentByCode(ctx context.Context, code string) (*store.Appointment, error)
}

// NewFrontDesk builds the front desk agent. It owns patient intake:
// registering walk-in and emergency arrivals and checking in appointment
// holders by confirmation code.
func NewFrontDesk(transport a2a.Transport, disc *discovery.Service, st FrontDeskStore, opts Options, logger *zap.Logger) *Agent {
	a := New("frontdesk", "Front Desk", transport, disc, opts, logger)

	a.Handle(a2a.Capability{
		Name:        a2a.CapRegisterPatient,
		Description: "Create a patient record for a new arrival",
		Parameters: []a2a.Parameter{
			{Name: "first_name", Type: "string", Required: true},
			{Name: "last_name", Type: "string", Required: true},
			{Name: "date_of_birth", Type: "string"},
			{Name: "phone", Type: "string"},
			{Name: "email", Type: "string"},
		},
		ResultSchema: map[string]string{"patient_id": "string"},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		first, err := param(params, "first_name")
		if err != nil {
			return nil, err
		}
		last, err := param(params, "last_name")
		if err != nil {
			return nil, err
		}
		p := &store.Patient{
			FirstName:   first,
			LastName:    last,
			DateOfBirth: optParam(params, "date_of_birth", ""),
			Phone:       optParam(params, "phone", ""),
			Email:       optParam(params, "email", ""),
		}
		if err := st.SavePatient(ctx, p); err != nil {
			return nil, err
		}
		return map[string]any{"patient_id": p.ID}, nil
	})

	a.Handle(a2a.Capability{
		Name:        a2a.CapPatientCheckin,
		Description: "Check in an appointment holder by confirmation code",
		Parameters: []a2a.Parameter{
			{Name: "confirmation_code", Type: "string", Required: true},
		},
		ResultSchema: map[string]string{
			"appointment_id": "string",
			"patient_id":     "string",
		},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		code, err := param(params, "confirmation_code")
		if err != nil {
			return nil, err
		}
		appt, err := st.GetAppointmentByCode(ctx, code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, Refuse("appointment_not_found", "no appointment with code %s", code)
			}
			return nil, err
		}
		return map[string]any{
			"appointment_id":    appt.ID,
			"patient_id":        appt.PatientID,
			"confirmation_code": appt.ConfirmationCode,
		}, nil
	})

	return a
}
