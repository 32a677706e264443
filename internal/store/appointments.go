package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Appointment statuses follow the scheduling lifecycle.
const (
	AppointmentScheduled = "scheduled"
	AppointmentCheckedIn = "checked_in"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
	AppointmentNoShow    = "no_show"
)

// Appointment is a scheduled visit with a human-readable confirmation code.
type Appointment struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patient_id"`
	ConfirmationCode string    `json:"confirmation_code"`
	Provider         string    `json:"provider,omitempty"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	Status           string    `json:"status"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const codeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewConfirmationCode generates a code like "ABCD-1234". Ambiguous
// letters I and O are excluded.
func NewConfirmationCode() string {
	buf := make([]byte, 4)
	for i := range buf {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeLetters))))
		buf[i] = codeLetters[n.Int64()]
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(10000))
	return fmt.Sprintf("%s-%04d", buf, n.Int64())
}

// SaveAppointment upserts an appointment. Missing ID and confirmation
// code are generated.
func (s *Store) SaveAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ConfirmationCode == "" {
		a.ConfirmationCode = NewConfirmationCode()
	}
	if a.Status == "" {
		a.Status = AppointmentScheduled
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, confirmation_code, provider, scheduled_at, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			confirmation_code = EXCLUDED.confirmation_code,
			provider = EXCLUDED.provider,
			scheduled_at = EXCLUDED.scheduled_at,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.PatientID, a.ConfirmationCode, a.Provider,
		a.ScheduledAt, a.Status, a.Notes, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save appointment %s: %w", a.ID, err)
	}
	return nil
}

// GetAppointment retrieves a single appointment by ID.
func (s *Store) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.scanAppointment(s.db.QueryRow(ctx, appointmentSelect+` WHERE id = $1`, id), id)
}

// GetAppointmentByCode retrieves an appointment by confirmation code.
func (s *Store) GetAppointmentByCode(ctx context.Context, code string) (*Appointment, error) {
	return s.scanAppointment(s.db.QueryRow(ctx, appointmentSelect+` WHERE confirmation_code = $1`, code), code)
}

const appointmentSelect = `
	SELECT id, patient_id, confirmation_code, COALESCE(provider,''),
	       scheduled_at, status, COALESCE(notes,''), created_at, updated_at
	FROM appointments`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAppointment(row rowScanner, key string) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.PatientID, &a.ConfirmationCode, &a.Provider,
		&a.ScheduledAt, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", key, err)
	}
	return &a, nil
}

// ListAppointments returns all appointments ordered by scheduled time.
func (s *Store) ListAppointments(ctx context.Context) ([]*Appointment, error) {
	rows, err := s.db.Query(ctx, appointmentSelect+` ORDER BY scheduled_at`)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID, &a.PatientID, &a.ConfirmationCode, &a.Provider,
			&a.ScheduledAt, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, &a)
	}
	return appts, nil
}

// UpdateAppointmentStatus moves an appointment to a new status.
func (s *Store) UpdateAppointmentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE appointments SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update appointment %s: %w", id, err)
	}
	return nil
}
