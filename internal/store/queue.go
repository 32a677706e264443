package store

import (
	"context"
	"fmt"
	"time"

	"github.com/opsmesh/opsmesh/internal/queue"
)

// SaveQueueEntry upserts a write-through copy of a queue entry.
// Implements queue.Persister.
func (s *Store) SaveQueueEntry(ctx context.Context, e *queue.Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO queue_entries (entry_id, ticket_number, patient_id, queue_type, priority, status, reason, created_at, called_at, started_at, completed_at, estimated_wait_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (entry_id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			called_at = EXCLUDED.called_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			estimated_wait_ms = EXCLUDED.estimated_wait_ms`,
		e.EntryID, e.TicketNumber, e.PatientID, string(e.QueueType),
		string(e.Priority), string(e.Status), e.Reason, e.CreatedAt,
		e.CalledAt, e.StartedAt, e.CompletedAt, e.EstimatedWait.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("save queue entry %s: %w", e.EntryID, err)
	}
	return nil
}

// ListQueueEntries returns persisted entries for one lane, oldest first.
func (s *Store) ListQueueEntries(ctx context.Context, queueType queue.Type) ([]*queue.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entry_id, ticket_number, COALESCE(patient_id,''), queue_type, priority, status,
		       COALESCE(reason,''), created_at, called_at, started_at, completed_at, estimated_wait_ms
		FROM queue_entries WHERE queue_type = $1 ORDER BY created_at`, string(queueType))
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var out []*queue.Entry
	for rows.Next() {
		var (
			e      queue.Entry
			waitMS int64
		)
		if err := rows.Scan(
			&e.EntryID, &e.TicketNumber, &e.PatientID, &e.QueueType, &e.Priority,
			&e.Status, &e.Reason, &e.CreatedAt, &e.CalledAt, &e.StartedAt,
			&e.CompletedAt, &waitMS,
		); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.EstimatedWait = time.Duration(waitMS) * time.Millisecond
		out = append(out, &e)
	}
	return out, nil
}
