package orchestrator

import (
	"time"

	"github.com/opsmesh/opsmesh/internal/a2a"
)

// Built-in workflow types.
const (
	FlowWalkInRegistration = "walkin_registration"
	FlowAppointmentCheckin = "appointment_checkin"
	FlowEmergencyAdmission = "emergency_admission"
)

// BuiltinFlows returns the standard patient flows. Targets are resolved by
// capability at execution time so the flows survive agent churn.
func BuiltinFlows() []Definition {
	return []Definition{
		{
			Type:    FlowWalkInRegistration,
			Ceiling: 2 * time.Minute,
			Steps: []Step{
				{
					ID:         "register_patient",
					Capability: a2a.CapRegisterPatient,
					Timeout:    15 * time.Second,
					Required:   true,
				},
				{
					ID:         "enqueue",
					Capability: a2a.CapEnqueue,
					DependsOn:  []string{"register_patient"},
					Timeout:    10 * time.Second,
					Required:   true,
				},
				{
					ID:         "notify_patient",
					Capability: a2a.CapNotifyPatient,
					DependsOn:  []string{"enqueue"},
					Timeout:    10 * time.Second,
				},
			},
		},
		{
			Type:    FlowAppointmentCheckin,
			Ceiling: 3 * time.Minute,
			Steps: []Step{
				{
					ID:         "patient_checkin",
					Capability: a2a.CapPatientCheckin,
					Timeout:    15 * time.Second,
					Required:   true,
				},
				{
					ID:         "verify_appointment",
					Capability: a2a.CapVerifyAppointment,
					DependsOn:  []string{"patient_checkin"},
					Timeout:    10 * time.Second,
					Required:   true,
				},
				{
					ID:         "enqueue",
					Capability: a2a.CapEnqueue,
					DependsOn:  []string{"verify_appointment"},
					Timeout:    10 * time.Second,
					Required:   true,
				},
				{
					ID:         "notify_patient",
					Capability: a2a.CapNotifyPatient,
					DependsOn:  []string{"enqueue"},
					Timeout:    10 * time.Second,
				},
			},
		},
		{
			// Emergency admission runs queue admission and staff alerting in
			// parallel once the patient record exists.
			Type:    FlowEmergencyAdmission,
			Ceiling: time.Minute,
			Steps: []Step{
				{
					ID:         "register_patient",
					Capability: a2a.CapRegisterPatient,
					Timeout:    10 * time.Second,
					Required:   true,
				},
				{
					ID:         "enqueue",
					Capability: a2a.CapEnqueue,
					DependsOn:  []string{"register_patient"},
					Timeout:    10 * time.Second,
					Required:   true,
				},
				{
					ID:         "notify_staff",
					Capability: a2a.CapNotifyStaff,
					DependsOn:  []string{"register_patient"},
					Timeout:    10 * time.Second,
				},
			},
		},
	}
}
