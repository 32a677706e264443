package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Patient is a registered patient record.
type Patient struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth string    `json:"date_of_birth,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SavePatient upserts a patient record. A missing ID is generated.
func (s *Store) SavePatient(ctx context.Context, p *Patient) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, date_of_birth, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			date_of_birth = EXCLUDED.date_of_birth,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.Email, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save patient %s: %w", p.ID, err)
	}
	return nil
}

// GetPatient retrieves a single patient by ID.
func (s *Store) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, COALESCE(date_of_birth,''),
		       COALESCE(phone,''), COALESCE(email,''), created_at, updated_at
		FROM patients WHERE id = $1`, id)

	var p Patient
	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return &p, nil
}

// ListPatients returns all patients ordered by registration time.
func (s *Store) ListPatients(ctx context.Context) ([]*Patient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, first_name, last_name, COALESCE(date_of_birth,''),
		       COALESCE(phone,''), COALESCE(email,''), created_at, updated_at
		FROM patients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(
			&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth,
			&p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, &p)
	}
	return patients, nil
}

// DeletePatient removes a patient record.
func (s *Store) DeletePatient(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient %s: %w", id, err)
	}
	return nil
}
