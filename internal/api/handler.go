package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"github.com/opsmesh/opsmesh/internal/orchestrator"
	"github.com/opsmesh/opsmesh/internal/queue"
	"github.com/opsmesh/opsmesh/internal/store"
)

// Records is the persistence surface the HTTP layer exposes. A nil Records
// disables the patient and appointment routes.
type Records interface {
	SavePatient(ctx context.Context, p *store.Patient) error
	GetPatient(ctx context.Context, id string) (*store.Patient, error)
	ListPatients(ctx context.Context) ([]*store.Patient, error)
	DeletePatient(ctx context.Context, id string) error

	SaveAppointment(ctx context.Context, a *store.Appointment) error
	GetAppointment(ctx context.Context, id string) (*store.Appointment, error)
	GetAppointmentByCode(ctx context.Context, code string) (*store.Appointment, error)
	ListAppointments(ctx context.Context) ([]*store.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id, status string) error

	ListTaskRecords(ctx context.Context, limit int) ([]*store.TaskRecord, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	disc    *discovery.Service
	flows   *orchestrator.Engine
	queue   *queue.Manager
	records Records
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(disc *discovery.Service, flows *orchestrator.Engine, mgr *queue.Manager, records Records, logger *zap.Logger) *Handler {
	return &Handler{
		disc:    disc,
		flows:   flows,
		queue:   mgr,
		records: records,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Discovery routes
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.registerAgent)
		r.Delete("/agents/{id}", h.deregisterAgent)
		r.Post("/agents/{id}/heartbeat", h.heartbeat)
		r.Get("/capabilities/{name}/agents", h.findByCapability)

		// Workflow routes
		r.Get("/workflows", h.listWorkflows)
		r.Post("/workflows", h.startWorkflow)
		r.Get("/workflows/{id}", h.workflowStatus)

		// Queue routes
		r.Post("/queue/entries", h.enqueue)
		r.Get("/queue/entries/{id}", h.getEntry)
		r.Post("/queue/entries/{id}/start", h.startService)
		r.Post("/queue/entries/{id}/complete", h.completeService)
		r.Post("/queue/entries/{id}/cancel", h.cancelEntry)
		r.Get("/queue/{type}", h.queueStatus)
		r.Post("/queue/{type}/call-next", h.callNext)

		// Record routes
		r.Get("/patients", h.listPatients)
		r.Post("/patients", h.createPatient)
		r.Get("/patients/{id}", h.getPatient)
		r.Delete("/patients/{id}", h.deletePatient)
		r.Get("/appointments", h.listAppointments)
		r.Post("/appointments", h.createAppointment)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Get("/tasks", h.listTasks)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"agents":    h.disc.Registry().Len(),
		"workflows": h.flows.Flows(),
	})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.disc.Registry().List())
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var card a2a.AgentCard
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.disc.Register(card); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, discovery.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (h *Handler) deregisterAgent(w http.ResponseWriter, r *http.Request) {
	h.disc.Deregister(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

type heartbeatRequest struct {
	Status a2a.AgentStatus `json:"status"`
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Status == "" {
		req.Status = a2a.StatusActive
	}
	if err := h.disc.Heartbeat(id, req.Status); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, discovery.ErrNotRegistered) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) findByCapability(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	agents := h.disc.FindByCapability(name)
	writeJSON(w, http.StatusOK, map[string]any{
		"capability": name,
		"agents":     agents,
	})
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflow_types": h.flows.Flows()})
}

type startWorkflowRequest struct {
	WorkflowType string         `json:"workflow_type"`
	Payload      map[string]any `json:"payload"`
}

func (h *Handler) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.WorkflowType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workflow_type is required"})
		return
	}
	id, err := h.flows.StartFlow(context.WithoutCancel(r.Context()), req.WorkflowType, req.Payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrUnknownWorkflow) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": id,
		"status":      "started",
	})
}

func (h *Handler) workflowStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.flows.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var e queue.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if e.QueueType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "queue_type is required"})
		return
	}
	if err := h.queue.Enqueue(r.Context(), &e); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrDuplicateTicket) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	qt := queue.Type(chi.URLParam(r, "type"))
	waiting := h.queue.Waiting(qt)
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_type":      qt,
		"waiting":         len(waiting),
		"entries":         waiting,
		"average_service": h.queue.AverageService(qt).String(),
	})
}

func (h *Handler) callNext(w http.ResponseWriter, r *http.Request) {
	qt := queue.Type(chi.URLParam(r, "type"))
	e, err := h.queue.CallNext(r.Context(), qt)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrEmptyQueue) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) startService(w http.ResponseWriter, r *http.Request) {
	h.transitionEntry(w, r, h.queue.StartService)
}

func (h *Handler) completeService(w http.ResponseWriter, r *http.Request) {
	h.transitionEntry(w, r, h.queue.CompleteService)
}

func (h *Handler) cancelEntry(w http.ResponseWriter, r *http.Request) {
	h.transitionEntry(w, r, h.queue.Cancel)
}

func (h *Handler) transitionEntry(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, queue.ErrEntryNotFound):
			status = http.StatusNotFound
		case errors.Is(err, queue.ErrInvalidTransition):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	e, err := h.queue.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	patients, err := h.records.ListPatients(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (h *Handler) createPatient(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	var p store.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if p.FirstName == "" || p.LastName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "first_name and last_name are required"})
		return
	}
	if err := h.records.SavePatient(r.Context(), &p); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	p, err := h.records.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePatient(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	if err := h.records.DeletePatient(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	appts, err := h.records.ListAppointments(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	var a store.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if a.PatientID == "" || a.ScheduledAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "patient_id and scheduled_at are required"})
		return
	}
	if err := h.records.SaveAppointment(r.Context(), &a); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	a, err := h.records.GetAppointment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		// Fall back to confirmation code lookup.
		a, err = h.records.GetAppointmentByCode(r.Context(), id)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	tasks, err := h.records.ListTaskRecords(r.Context(), 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
