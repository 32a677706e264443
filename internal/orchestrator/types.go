package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// StepStatus tracks one step's execution state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// InstanceStatus is the overall state of a workflow instance.
type InstanceStatus string

const (
	InstanceRunning            InstanceStatus = "running"
	InstanceCompleted          InstanceStatus = "completed"
	InstanceFailed             InstanceStatus = "failed"
	InstancePartiallyCompleted InstanceStatus = "partially_completed"
)

// Step binds one unit of work to a target capability. An empty Target means
// the agent is resolved through discovery at execution time.
type Step struct {
	ID         string        `json:"step_id"`
	Capability string        `json:"capability_name"`
	Target     string        `json:"target,omitempty"`
	DependsOn  []string      `json:"depends_on,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Required   bool          `json:"required"`
}

// Definition is an ordered, dependency-constrained set of steps executed
// toward one business outcome.
type Definition struct {
	Type    string        `json:"workflow_type"`
	Steps   []Step        `json:"steps"`
	Ceiling time.Duration `json:"ceiling,omitempty"`
}

// Validate checks step ids are unique and every dependency names an
// earlier-declared step, which also rules out cycles.
func (d *Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("workflow type is empty")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Type)
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, st := range d.Steps {
		if st.ID == "" {
			return fmt.Errorf("workflow %s: step with empty id", d.Type)
		}
		if seen[st.ID] {
			return fmt.Errorf("workflow %s: duplicate step %s", d.Type, st.ID)
		}
		if st.Capability == "" {
			return fmt.Errorf("workflow %s: step %s has no capability", d.Type, st.ID)
		}
		for _, dep := range st.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("workflow %s: step %s depends on unknown or later step %s", d.Type, st.ID, dep)
			}
		}
		seen[st.ID] = true
	}
	return nil
}

// Instance is one run of a definition. Step states and the shared payload
// are guarded by the instance mutex; once Overall reaches a terminal value
// the instance is never mutated again.
type Instance struct {
	ID         string
	Definition Definition

	mu         sync.Mutex
	stepStates map[string]StepStatus
	stepErrors map[string]string
	payload    map[string]any
	overall    InstanceStatus
	startedAt  time.Time
	finishedAt time.Time
}

func newInstance(id string, def Definition, payload map[string]any) *Instance {
	states := make(map[string]StepStatus, len(def.Steps))
	for _, st := range def.Steps {
		states[st.ID] = StepPending
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Instance{
		ID:         id,
		Definition: def,
		stepStates: states,
		stepErrors: make(map[string]string),
		payload:    payload,
		overall:    InstanceRunning,
		startedAt:  time.Now(),
	}
}

func (in *Instance) state(stepID string) StepStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stepStates[stepID]
}

func (in *Instance) setState(stepID string, s StepStatus) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stepStates[stepID] = s
}

func (in *Instance) fail(stepID, detail string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stepStates[stepID] = StepFailed
	in.stepErrors[stepID] = detail
}

// complete marks the step done and merges its result into the shared
// workflow payload so later steps see it.
func (in *Instance) complete(stepID string, result map[string]any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stepStates[stepID] = StepCompleted
	for k, v := range result {
		in.payload[k] = v
	}
}

func (in *Instance) paramsSnapshot() map[string]any {
	in.mu.Lock()
	defer in.mu.Unlock()
	cp := make(map[string]any, len(in.payload))
	for k, v := range in.payload {
		cp[k] = v
	}
	return cp
}

func (in *Instance) finish(status InstanceStatus) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.overall = status
	in.finishedAt = time.Now()
}

// Snapshot is a read-only view of an instance.
type Snapshot struct {
	WorkflowID string                `json:"workflow_id"`
	Type       string                `json:"workflow_type"`
	Overall    InstanceStatus        `json:"overall_status"`
	StepStates map[string]StepStatus `json:"step_states"`
	StepErrors map[string]string     `json:"step_errors,omitempty"`
	Payload    map[string]any        `json:"payload,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// Snapshot copies the instance state. It never mutates.
func (in *Instance) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	states := make(map[string]StepStatus, len(in.stepStates))
	for k, v := range in.stepStates {
		states[k] = v
	}
	errs := make(map[string]string, len(in.stepErrors))
	for k, v := range in.stepErrors {
		errs[k] = v
	}
	payload := make(map[string]any, len(in.payload))
	for k, v := range in.payload {
		payload[k] = v
	}
	snap := Snapshot{
		WorkflowID: in.ID,
		Type:       in.Definition.Type,
		Overall:    in.overall,
		StepStates: states,
		StepErrors: errs,
		Payload:    payload,
		StartedAt:  in.startedAt,
	}
	if !in.finishedAt.IsZero() {
		t := in.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}
