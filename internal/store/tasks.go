package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsmesh/opsmesh/internal/a2a"
)

// TaskRecord is one audited task exchange joined across request and response.
type TaskRecord struct {
	TaskID      string    `json:"task_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Capability  string    `json:"capability_name"`
	RetryCount  int       `json:"retry_count"`
	Status      string    `json:"status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordRequest logs an outbound task request. Retried attempts update the
// retry count on the original row. Implements a2a.Recorder.
func (s *Store) RecordRequest(ctx context.Context, req *a2a.TaskRequest) error {
	params, err := json.Marshal(req.Parameters)
	if err != nil {
		return fmt.Errorf("marshal task params %s: %w", req.TaskID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO task_log (task_id, sender_id, recipient_id, capability_name, parameters, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			retry_count = EXCLUDED.retry_count`,
		req.TaskID, req.SenderID, req.RecipientID, req.Capability,
		params, req.RetryCount, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record task request %s: %w", req.TaskID, err)
	}
	return nil
}

// RecordResponse logs the resolving response for a task. Implements
// a2a.Recorder.
func (s *Store) RecordResponse(ctx context.Context, resp *a2a.TaskResponse) error {
	result, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("marshal task result %s: %w", resp.TaskID, err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE task_log SET
			status = $2,
			reason = $3,
			error_detail = $4,
			result = $5,
			completed_at = $6
		WHERE task_id = $1`,
		resp.TaskID, string(resp.Status), resp.Reason, resp.ErrorDetail,
		result, resp.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record task response %s: %w", resp.TaskID, err)
	}
	return nil
}

// ListTaskRecords returns recent task exchanges, newest first.
func (s *Store) ListTaskRecords(ctx context.Context, limit int) ([]*TaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT task_id, sender_id, recipient_id, capability_name, retry_count,
		       COALESCE(status,''), COALESCE(reason,''), COALESCE(error_detail,''), created_at
		FROM task_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		var r TaskRecord
		if err := rows.Scan(
			&r.TaskID, &r.SenderID, &r.RecipientID, &r.Capability, &r.RetryCount,
			&r.Status, &r.Reason, &r.ErrorDetail, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		out = append(out, &r)
	}
	return out, nil
}
