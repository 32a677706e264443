package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type partitions the queue into independent service lanes.
type Type string

const (
	WalkIn      Type = "walk_in"
	Appointment Type = "appointment"
	Emergency   Type = "emergency"
)

// Priority orders entries within a lane.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Status is an entry's position in its service lifecycle.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusCalled     Status = "called"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// validTransitions defines allowed status transitions.
var validTransitions = map[Status][]Status{
	StatusWaiting:    {StatusCalled, StatusInProgress, StatusCancelled},
	StatusCalled:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

var (
	ErrDuplicateTicket   = errors.New("duplicate ticket number")
	ErrEmptyQueue        = errors.New("queue is empty")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEntryNotFound     = errors.New("queue entry not found")
)

// Entry is one patient's place in the queue.
type Entry struct {
	EntryID       string        `json:"entry_id"`
	TicketNumber  string        `json:"ticket_number"`
	PatientID     string        `json:"patient_id,omitempty"`
	QueueType     Type          `json:"queue_type"`
	Priority      Priority      `json:"priority"`
	Status        Status        `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CalledAt      *time.Time    `json:"called_at,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// Persister receives write-through copies of entries as they change.
// Persistence failures never fail the in-memory operation.
type Persister interface {
	SaveQueueEntry(ctx context.Context, e *Entry) error
}

// Manager maintains the waiting set ordered by priority descending and
// creation time ascending within a priority band. All operations are
// linearized behind one mutex.
type Manager struct {
	mu        sync.Mutex
	entries   map[string]*Entry // by entry id
	byTicket  map[string]string // ticket number -> entry id
	waiting   map[Type][]*Entry // ordered per lane
	avg       map[Type]time.Duration
	completed map[Type]int

	minWait    time.Duration
	defaultAvg time.Duration
	persister  Persister
	logger     *zap.Logger
}

// NewManager creates a queue manager. minWait clamps wait estimates from
// below; defaultAvg seeds the estimate before any service has completed.
func NewManager(minWait, defaultAvg time.Duration, logger *zap.Logger) *Manager {
	if defaultAvg <= 0 {
		defaultAvg = 15 * time.Minute
	}
	return &Manager{
		entries:    make(map[string]*Entry),
		byTicket:   make(map[string]string),
		waiting:    make(map[Type][]*Entry),
		avg:        make(map[Type]time.Duration),
		completed:  make(map[Type]int),
		minWait:    minWait,
		defaultAvg: defaultAvg,
		logger:     logger,
	}
}

// SetPersister attaches a write-through store.
func (m *Manager) SetPersister(p Persister) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persister = p
}

// Enqueue admits an entry into its lane.
func (m *Manager) Enqueue(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.TicketNumber == "" {
		e.TicketNumber = NewTicketNumber(e.QueueType)
		for _, dup := m.byTicket[e.TicketNumber]; dup; _, dup = m.byTicket[e.TicketNumber] {
			e.TicketNumber = NewTicketNumber(e.QueueType)
		}
	} else if _, dup := m.byTicket[e.TicketNumber]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTicket, e.TicketNumber)
	}
	if e.EntryID == "" {
		e.EntryID = uuid.New().String()
	}
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Status = StatusWaiting

	m.entries[e.EntryID] = e
	m.byTicket[e.TicketNumber] = e.EntryID
	m.waiting[e.QueueType] = append(m.waiting[e.QueueType], e)
	m.sortLane(e.QueueType)
	m.recomputeWaits(e.QueueType)
	m.save(ctx, e)

	m.logger.Info("enqueued",
		zap.String("ticket", e.TicketNumber),
		zap.String("queue_type", string(e.QueueType)),
		zap.String("priority", string(e.Priority)))
	return nil
}

// CallNext pops the highest-priority, oldest-in-band waiting entry of the
// lane and transitions it to CALLED.
func (m *Manager) CallNext(ctx context.Context, qt Type) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lane := m.waiting[qt]
	if len(lane) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyQueue, qt)
	}
	e := lane[0]
	m.waiting[qt] = lane[1:]

	now := time.Now()
	e.Status = StatusCalled
	e.CalledAt = &now
	m.recomputeWaits(qt)
	m.save(ctx, e)

	m.logger.Info("called next",
		zap.String("ticket", e.TicketNumber),
		zap.String("queue_type", string(qt)))
	cp := *e
	return &cp, nil
}

// StartService transitions an entry to IN_PROGRESS.
func (m *Manager) StartService(ctx context.Context, entryID string) error {
	return m.transition(ctx, entryID, StatusInProgress)
}

// CompleteService transitions an entry to COMPLETED and folds its service
// duration into the lane's rolling average.
func (m *Manager) CompleteService(ctx context.Context, entryID string) error {
	return m.transition(ctx, entryID, StatusCompleted)
}

// Cancel transitions any non-terminal entry to CANCELLED.
func (m *Manager) Cancel(ctx context.Context, entryID string) error {
	return m.transition(ctx, entryID, StatusCancelled)
}

// Get returns a copy of an entry.
func (m *Manager) Get(entryID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return *e, nil
}

// GetByTicket returns a copy of an entry looked up by ticket number.
func (m *Manager) GetByTicket(ticket string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTicket[ticket]
	if !ok {
		return Entry{}, fmt.Errorf("%w: ticket %s", ErrEntryNotFound, ticket)
	}
	return *m.entries[id], nil
}

// Waiting returns copies of the waiting entries of a lane in call order.
func (m *Manager) Waiting(qt Type) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	lane := m.waiting[qt]
	out := make([]Entry, len(lane))
	for i, e := range lane {
		out[i] = *e
	}
	return out
}

// List returns copies of all entries, newest first.
func (m *Manager) List() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// InService counts a lane's IN_PROGRESS entries. A lane may have several
// entries in service at once, one per provider working it.
func (m *Manager) InService(qt Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.QueueType == qt && e.Status == StatusInProgress {
			n++
		}
	}
	return n
}

// AverageService returns the rolling average service duration for a lane.
func (m *Manager) AverageService(qt Type) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laneAvg(qt)
}

func (m *Manager) transition(ctx context.Context, entryID string, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if !allowed(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}

	// Leaving the waiting set changes everyone else's estimate.
	wasWaiting := e.Status == StatusWaiting
	now := time.Now()
	e.Status = to
	switch to {
	case StatusInProgress:
		e.StartedAt = &now
	case StatusCompleted:
		e.CompletedAt = &now
		if e.StartedAt != nil {
			m.foldService(e.QueueType, now.Sub(*e.StartedAt))
		}
	}
	if wasWaiting {
		m.removeFromLane(e)
		m.recomputeWaits(e.QueueType)
	}
	m.save(ctx, e)
	return nil
}

func allowed(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (m *Manager) sortLane(qt Type) {
	lane := m.waiting[qt]
	sort.SliceStable(lane, func(i, j int) bool {
		pi, pj := priorityRank[lane[i].Priority], priorityRank[lane[j].Priority]
		if pi != pj {
			return pi > pj
		}
		return lane[i].CreatedAt.Before(lane[j].CreatedAt)
	})
}

func (m *Manager) removeFromLane(e *Entry) {
	lane := m.waiting[e.QueueType]
	for i, w := range lane {
		if w.EntryID == e.EntryID {
			m.waiting[e.QueueType] = append(lane[:i], lane[i+1:]...)
			return
		}
	}
}

// recomputeWaits refreshes estimates for every waiting entry of a lane:
// rank ahead times the rolling average, clamped to the floor.
func (m *Manager) recomputeWaits(qt Type) {
	avg := m.laneAvg(qt)
	for i, e := range m.waiting[qt] {
		wait := time.Duration(i) * avg
		if wait < m.minWait {
			wait = m.minWait
		}
		e.EstimatedWait = wait
	}
}

func (m *Manager) laneAvg(qt Type) time.Duration {
	if m.completed[qt] == 0 {
		return m.defaultAvg
	}
	return m.avg[qt]
}

func (m *Manager) foldService(qt Type, dur time.Duration) {
	n := m.completed[qt]
	m.avg[qt] = (m.avg[qt]*time.Duration(n) + dur) / time.Duration(n+1)
	m.completed[qt] = n + 1
}

func (m *Manager) save(ctx context.Context, e *Entry) {
	if m.persister == nil {
		return
	}
	cp := *e
	if err := m.persister.SaveQueueEntry(ctx, &cp); err != nil {
		m.logger.Warn("queue write-through failed",
			zap.String("ticket", e.TicketNumber), zap.Error(err))
	}
}
