package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"go.uber.org/zap"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrUnknownInstance = errors.New("unknown workflow instance")
)

// Engine drives workflow instances: it resolves each step's target through
// discovery, dispatches the step over the task protocol, and advances the
// dependency graph as resolutions arrive. Independent steps run
// concurrently; dependent steps run strictly after their dependencies.
type Engine struct {
	proto *a2a.Engine
	disc  *discovery.Service

	mu        sync.RWMutex
	flows     map[string]Definition
	instances map[string]*Instance

	logger *zap.Logger
}

// NewEngine creates a workflow engine on top of a task protocol engine and
// a discovery service.
func NewEngine(proto *a2a.Engine, disc *discovery.Service, logger *zap.Logger) *Engine {
	return &Engine{
		proto:     proto,
		disc:      disc,
		flows:     make(map[string]Definition),
		instances: make(map[string]*Instance),
		logger:    logger,
	}
}

// RegisterFlow adds a named definition that StartFlow can launch.
func (o *Engine) RegisterFlow(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flows[def.Type] = def
	o.logger.Info("registered workflow",
		zap.String("workflow_type", def.Type),
		zap.Int("steps", len(def.Steps)))
	return nil
}

// Flows returns the registered workflow types.
func (o *Engine) Flows() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.flows))
	for t := range o.flows {
		out = append(out, t)
	}
	return out
}

// StartFlow launches a registered workflow type with an initial payload.
func (o *Engine) StartFlow(ctx context.Context, workflowType string, payload map[string]any) (string, error) {
	o.mu.RLock()
	def, ok := o.flows[workflowType]
	o.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowType)
	}
	return o.StartWorkflow(ctx, def, payload)
}

// StartWorkflow creates an instance and schedules its root steps
// immediately. It returns the workflow id without waiting for completion.
func (o *Engine) StartWorkflow(ctx context.Context, def Definition, payload map[string]any) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	inst := newInstance(uuid.New().String(), def, payload)

	o.mu.Lock()
	o.instances[inst.ID] = inst
	o.mu.Unlock()

	o.logger.Info("workflow started",
		zap.String("workflow", inst.ID),
		zap.String("workflow_type", def.Type))
	go o.run(ctx, inst)
	return inst.ID, nil
}

// Status returns a read-only snapshot of an instance.
func (o *Engine) Status(workflowID string) (Snapshot, error) {
	o.mu.RLock()
	inst, ok := o.instances[workflowID]
	o.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownInstance, workflowID)
	}
	return inst.Snapshot(), nil
}

type stepOutcome struct {
	stepID string
	result map[string]any
	err    string
	failed bool
}

// run advances the instance until no step can make progress, then settles
// the overall status. The definition's ceiling, when set, bounds the whole
// instance.
func (o *Engine) run(ctx context.Context, inst *Instance) {
	if inst.Definition.Ceiling > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inst.Definition.Ceiling)
		defer cancel()
	}

	done := make(chan stepOutcome, len(inst.Definition.Steps))
	running := 0

	for {
		// Schedule every step whose dependencies are settled.
		for _, st := range inst.Definition.Steps {
			if inst.state(st.ID) != StepPending {
				continue
			}
			switch o.depsState(inst, st) {
			case depsReady:
				inst.setState(st.ID, StepRunning)
				running++
				go func(st Step) {
					done <- o.runStep(ctx, inst, st)
				}(st)
			case depsBlocked:
				inst.setState(st.ID, StepSkipped)
				o.logger.Info("step skipped",
					zap.String("workflow", inst.ID),
					zap.String("step", st.ID))
			}
		}

		if running == 0 {
			break
		}

		select {
		case out := <-done:
			running--
			if out.failed {
				inst.fail(out.stepID, out.err)
				o.logger.Warn("step failed",
					zap.String("workflow", inst.ID),
					zap.String("step", out.stepID),
					zap.String("detail", out.err))
			} else {
				inst.complete(out.stepID, out.result)
				o.logger.Info("step completed",
					zap.String("workflow", inst.ID),
					zap.String("step", out.stepID))
			}

		case <-ctx.Done():
			o.abort(inst)
			return
		}
	}

	inst.finish(o.settle(inst))
	o.logger.Info("workflow finished",
		zap.String("workflow", inst.ID),
		zap.String("overall", string(inst.Snapshot().Overall)))
}

type depsVerdict int

const (
	depsWaiting depsVerdict = iota
	depsReady
	depsBlocked
)

// depsState decides whether a step may run. A dependency is satisfied when
// COMPLETED, or when SKIPPED and the dependency was optional. A FAILED
// dependency, or a SKIPPED required one, blocks the step permanently.
func (o *Engine) depsState(inst *Instance, st Step) depsVerdict {
	byID := make(map[string]Step, len(inst.Definition.Steps))
	for _, s := range inst.Definition.Steps {
		byID[s.ID] = s
	}
	for _, depID := range st.DependsOn {
		dep := byID[depID]
		switch inst.state(depID) {
		case StepCompleted:
		case StepSkipped:
			if dep.Required {
				return depsBlocked
			}
		case StepFailed:
			return depsBlocked
		default:
			return depsWaiting
		}
	}
	return depsReady
}

// runStep resolves the target agent and drives one task call to resolution.
func (o *Engine) runStep(ctx context.Context, inst *Instance, st Step) stepOutcome {
	target := st.Target
	if target == "" {
		candidates := o.disc.FindByCapability(st.Capability)
		if len(candidates) == 0 {
			return stepOutcome{
				stepID: st.ID,
				failed: true,
				err:    fmt.Sprintf("%s: no agent provides %s", a2a.ReasonNoCapableAgent, st.Capability),
			}
		}
		target = candidates[0].AgentID
	}

	taskID, err := o.proto.Send(ctx, target, st.Capability, inst.paramsSnapshot(), st.Timeout)
	if err != nil {
		return stepOutcome{stepID: st.ID, failed: true, err: err.Error()}
	}
	resp, err := o.proto.Await(ctx, taskID)
	if err != nil {
		return stepOutcome{stepID: st.ID, failed: true, err: err.Error()}
	}

	if resp.Status != a2a.ResponseSuccess {
		detail := resp.ErrorDetail
		if resp.Reason != "" {
			detail = resp.Reason + ": " + detail
		}
		return stepOutcome{stepID: st.ID, failed: true, err: detail}
	}
	return stepOutcome{stepID: st.ID, result: resp.Result}
}

// abort handles a ceiling overrun: pending steps are skipped, unresolved
// running steps are recorded as failed, and their late responses are
// discarded by the protocol engine's dedup rule. Abandoned step goroutines
// drain into the buffered outcome channel and exit on their own.
func (o *Engine) abort(inst *Instance) {
	for _, st := range inst.Definition.Steps {
		switch inst.state(st.ID) {
		case StepPending:
			inst.setState(st.ID, StepSkipped)
		case StepRunning:
			inst.fail(st.ID, "abandoned: workflow deadline exceeded")
		}
	}
	inst.finish(InstanceFailed)
	o.logger.Warn("workflow aborted",
		zap.String("workflow", inst.ID),
		zap.Duration("ceiling", inst.Definition.Ceiling))
}

// settle derives the terminal overall status: FAILED if any required step
// did not complete, PARTIALLY_COMPLETED if only optional steps fell away,
// COMPLETED otherwise.
func (o *Engine) settle(inst *Instance) InstanceStatus {
	snap := inst.Snapshot()
	optionalLoss := false
	for _, st := range inst.Definition.Steps {
		switch snap.StepStates[st.ID] {
		case StepCompleted:
		case StepFailed, StepSkipped:
			if st.Required {
				return InstanceFailed
			}
			optionalLoss = true
		default:
			return InstanceFailed
		}
	}
	if optionalLoss {
		return InstancePartiallyCompleted
	}
	return InstanceCompleted
}
