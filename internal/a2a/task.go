package a2a

import (
	"time"

	"github.com/google/uuid"
)

// ResponseStatus is the outcome of a task attempt.
type ResponseStatus string

const (
	ResponseSuccess ResponseStatus = "success"
	ResponseFailure ResponseStatus = "failure"
	ResponseError   ResponseStatus = "error"
	// ResponseTimeout is synthesized locally when a deadline elapses;
	// it never travels over the wire.
	ResponseTimeout ResponseStatus = "timeout"
)

// Failure reasons attached to synthesized responses.
const (
	ReasonExhaustedRetries = "exhausted_retries"
	ReasonNoCapableAgent   = "no_capable_agent"
	ReasonAbandoned        = "abandoned"
)

// TaskRequest asks another agent to perform one capability. The TaskID is
// the correlation key; retries resend the same request with the same id so
// that a late original response can still resolve the call.
type TaskRequest struct {
	TaskID     string         `json:"task_id"`
	SenderID   string         `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Capability string         `json:"capability_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Deadline   time.Time      `json:"deadline"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// TaskResponse resolves a TaskRequest. Exactly one response is delivered to
// the caller per task id; duplicates and late arrivals are dropped.
type TaskResponse struct {
	TaskID      string         `json:"task_id"`
	Status      ResponseStatus `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// NewTaskRequest builds a request with a fresh correlation id and a deadline
// of now+timeout.
func NewTaskRequest(sender, recipient, capability string, params map[string]any, timeout time.Duration, maxRetries int) *TaskRequest {
	now := time.Now()
	return &TaskRequest{
		TaskID:      uuid.New().String(),
		SenderID:    sender,
		RecipientID: recipient,
		Capability:  capability,
		Parameters:  params,
		CreatedAt:   now,
		Deadline:    now.Add(timeout),
		MaxRetries:  maxRetries,
	}
}

// SuccessResponse builds a success resolution for req.
func SuccessResponse(taskID string, result map[string]any) *TaskResponse {
	return &TaskResponse{
		TaskID:      taskID,
		Status:      ResponseSuccess,
		Result:      result,
		CompletedAt: time.Now(),
	}
}

// FailureResponse builds a failure resolution with a machine-readable reason.
func FailureResponse(taskID, reason, detail string) *TaskResponse {
	return &TaskResponse{
		TaskID:      taskID,
		Status:      ResponseFailure,
		Reason:      reason,
		ErrorDetail: detail,
		CompletedAt: time.Now(),
	}
}

// ErrorResponse builds an error resolution for a handler fault.
func ErrorResponse(taskID, detail string) *TaskResponse {
	return &TaskResponse{
		TaskID:      taskID,
		Status:      ResponseError,
		ErrorDetail: detail,
		CompletedAt: time.Now(),
	}
}

// TimeoutResponse builds the locally synthesized resolution for a task
// whose attempts all went unanswered.
func TimeoutResponse(taskID, reason, detail string) *TaskResponse {
	return &TaskResponse{
		TaskID:      taskID,
		Status:      ResponseTimeout,
		Reason:      reason,
		ErrorDetail: detail,
		CompletedAt: time.Now(),
	}
}

// Heartbeat is the liveness message an agent sends to discovery.
type Heartbeat struct {
	AgentID   string      `json:"agent_id"`
	Status    AgentStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}
