package a2a

// Well-known capability names in the hospital mesh. Agents may declare
// capabilities beyond this set; these are the ones the built-in workflows
// bind to.
const (
	CapRegisterPatient     = "register_patient"
	CapPatientCheckin      = "patient_checkin"
	CapVerifyAppointment   = "verify_appointment"
	CapScheduleAppointment = "schedule_appointment"
	CapCancelAppointment   = "cancel_appointment"
	CapEnqueue             = "enqueue"
	CapCallNext            = "call_next"
	CapQueueStatus         = "queue_status"
	CapNotifyPatient       = "notify_patient"
	CapNotifyStaff         = "notify_staff"
	CapGenerateResponse    = "generate_response"
)
