// Package workflow drives multi-agent pipelines: template expansion into
// ordered steps, step-by-step execution through agent invocations, handoff
// validation between consecutive steps, and the workflow state machine.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
	"github.com/nexus-kamuy/orchestrator/internal/config"
	"github.com/nexus-kamuy/orchestrator/internal/events"
	"github.com/nexus-kamuy/orchestrator/internal/metrics"
	"github.com/nexus-kamuy/orchestrator/internal/models"
	"github.com/nexus-kamuy/orchestrator/internal/templates"
	"github.com/nexus-kamuy/orchestrator/internal/tracing"
)

// Recorder persists terminal workflow snapshots. Implementations are expected
// to enqueue asynchronously and never block the orchestrator.
type Recorder interface {
	RecordWorkflow(w *models.Workflow)
}

// StateTransitionError rejects an illegal state machine action.
type StateTransitionError struct {
	WorkflowID string
	Current    models.WorkflowStatus
	Action     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("workflow %s: action %q not allowed from state %q", e.WorkflowID, e.Action, e.Current)
}

// ErrUnknownWorkflowType is returned by Create when the type has no template
// and the generic fallback is disabled.
var ErrUnknownWorkflowType = fmt.Errorf("unknown workflow type")

// Orchestrator owns active workflows and their execution history. All state
// mutation happens under one lock; agent invocations run off the lock so
// pause, cancel and progress calls stay responsive during long steps.
type Orchestrator struct {
	agents    *agent.Registry
	catalogue *templates.Registry
	bus       *events.Bus
	logger    *zap.Logger
	now       func() time.Time

	stepTimeout time.Duration
	historyCap  int
	fallback    bool
	recorder    Recorder

	mu        sync.Mutex
	workflows map[string]*models.Workflow
	history   []*models.Workflow
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRecorder attaches a persistence sink for terminal workflows.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// New builds an orchestrator over the given agent registry and template
// catalogue.
func New(agents *agent.Registry, catalogue *templates.Registry, bus *events.Bus, cfg config.WorkflowConfig, fallback bool, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	stepTimeout := cfg.DefaultStepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Minute
	}
	historyCap := cfg.HistoryLimit
	if historyCap <= 0 {
		historyCap = 1000
	}
	o := &Orchestrator{
		agents:      agents,
		catalogue:   catalogue,
		bus:         bus,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		stepTimeout: stepTimeout,
		historyCap:  historyCap,
		fallback:    fallback,
		workflows:   make(map[string]*models.Workflow),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create expands the named template into a pending workflow. Unknown types
// degrade to a single generic analysis step when the fallback is enabled.
func (o *Orchestrator) Create(name, workflowType, requester, target string, objectives []string, agentRequirements map[string]interface{}) (*models.Workflow, error) {
	if name == "" {
		name = "unnamed_workflow"
	}
	if workflowType == "" {
		return nil, fmt.Errorf("workflow type is required")
	}

	var steps []models.WorkflowStep
	if entry, ok := o.catalogue.Find(workflowType, ""); ok {
		steps = entry.Template.Expand(target, objectives)
	} else if o.fallback {
		steps = templates.GenericSteps(target, objectives)
	} else {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, workflowType)
	}
	if err := auditDependencies(steps); err != nil {
		return nil, err
	}

	w := models.NewWorkflow(uuid.New().String(), name, workflowType, requester, target, objectives, steps)
	if len(agentRequirements) > 0 {
		w.Metadata = map[string]interface{}{"agent_requirements": agentRequirements}
	}

	o.mu.Lock()
	o.workflows[w.ID] = w
	o.mu.Unlock()

	o.logger.Info("Workflow created",
		zap.String("workflow_id", w.ID),
		zap.String("workflow_type", workflowType),
		zap.Int("steps", len(steps)),
		zap.Strings("participating_agents", w.ParticipatingAgents()),
	)
	return o.snapshotByID(w.ID), nil
}

// ExecuteResult summarizes one Execute run.
type ExecuteResult struct {
	WorkflowID  string                `json:"workflow_id"`
	Status      models.WorkflowStatus `json:"status"`
	StepsRun    int                   `json:"steps_run"`
	FailedSteps []string              `json:"failed_steps,omitempty"`
}

// Execute runs the pipeline from the current step. A pending workflow is
// started first; a running one (resumed after pause) continues in place.
// Failed critical steps abort the run; non-critical failures are recorded
// and the pipeline moves on. The loop stops early if the workflow leaves
// the running state between steps.
func (o *Orchestrator) Execute(ctx context.Context, workflowID string) (*ExecuteResult, error) {
	o.mu.Lock()
	w, ok := o.workflows[workflowID]
	if !ok {
		o.mu.Unlock()
		return nil, models.ErrWorkflowNotFound
	}

	ctx, span := tracing.StartWorkflowSpan(ctx, workflowID, w.WorkflowType)
	defer span.End()

	switch w.Status {
	case models.WorkflowPending:
		w.Start(o.now())
		metrics.WorkflowsStarted.WithLabelValues(w.WorkflowType).Inc()
		o.publish(w.ID, events.TypeWorkflowStarted, "", "workflow started", map[string]interface{}{
			"workflow_type": w.WorkflowType,
			"steps":         len(w.Steps),
		})
	case models.WorkflowRunning:
		// resume after pause
	default:
		o.mu.Unlock()
		return nil, &StateTransitionError{WorkflowID: workflowID, Current: w.Status, Action: "execute"}
	}

	result := &ExecuteResult{WorkflowID: workflowID}
	for w.Status == models.WorkflowRunning {
		step := w.CurrentStep()
		if step == nil {
			break
		}
		stepCopy := *step

		o.mu.Unlock()
		res := o.runStep(ctx, workflowID, stepCopy)
		o.mu.Lock()

		if w.Status == models.WorkflowCancelled {
			// Cancelled mid-flight: the workflow is already terminal, the
			// in-flight result is dropped.
			break
		}

		result.StepsRun++
		w.RecordStep(res, o.now())
		if res.Success {
			metrics.StepExecutions.WithLabelValues(stepCopy.AgentRole, "success").Inc()
			o.publish(w.ID, events.TypeStepCompleted, stepCopy.AgentRole, stepCopy.StepName, map[string]interface{}{
				"step_id": stepCopy.StepID,
			})
		} else {
			result.FailedSteps = append(result.FailedSteps, stepCopy.StepID)
			metrics.StepExecutions.WithLabelValues(stepCopy.AgentRole, "failure").Inc()
			o.publish(w.ID, events.TypeStepFailed, stepCopy.AgentRole, stepCopy.StepName, map[string]interface{}{
				"step_id": stepCopy.StepID,
				"error":   res.Error,
			})
			o.logger.Warn("Workflow step failed",
				zap.String("workflow_id", workflowID),
				zap.String("step_id", stepCopy.StepID),
				zap.Bool("critical", stepCopy.Critical),
				zap.String("error", res.Error),
			)
		}

		w.Advance(o.now())
		if !res.Success && stepCopy.Critical {
			w.Fail(map[string]interface{}{
				"step_id": stepCopy.StepID,
				"error":   res.Error,
			}, o.now())
			break
		}
	}

	// A cancellation that raced the run was already finalized by ManageState;
	// only transitions made here are finalized here.
	switch {
	case w.Status == models.WorkflowRunning && w.CurrentStep() == nil:
		w.Complete(o.now())
		o.finalizeLocked(w)
	case w.Status == models.WorkflowFailed:
		o.finalizeLocked(w)
	}
	result.Status = w.Status
	o.mu.Unlock()
	return result, nil
}

// runStep invokes the agent bound to the step with a deadline derived from
// the step timeout. Called without the orchestrator lock held.
func (o *Orchestrator) runStep(ctx context.Context, workflowID string, step models.WorkflowStep) models.StepResult {
	started := o.now()
	res := models.StepResult{
		StepID:    step.StepID,
		StepName:  step.StepName,
		AgentRole: step.AgentRole,
		StartedAt: started,
	}

	a, ok := o.agents.Get(step.AgentRole)
	if !ok {
		res.Error = fmt.Sprintf("agent role %q not registered", step.AgentRole)
		res.CompletedAt = o.now()
		return res
	}

	timeout := o.stepTimeout
	if step.TimeoutMinutes > 0 {
		timeout = time.Duration(step.TimeoutMinutes) * time.Minute
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stepCtx, span := tracing.StartTaskSpan(stepCtx, step.StepID, step.AgentRole)
	defer span.End()

	out, err := a.Execute(stepCtx, agent.Invocation{
		TaskID:     fmt.Sprintf("%s_%s", workflowID, step.StepID),
		StepID:     step.StepID,
		StepName:   step.StepName,
		TaskType:   step.StepType,
		Parameters: step.Parameters,
	})
	res.CompletedAt = o.now()
	elapsed := res.CompletedAt.Sub(started)

	if err != nil {
		res.Error = err.Error()
		o.agents.RecordOutcome(step.AgentRole, false, elapsed)
		return res
	}
	res.Success = out.Success
	res.Outputs = out.Outputs
	res.Artifacts = out.Artifacts
	res.Metadata = out.Metadata
	res.Error = out.Error
	o.agents.RecordOutcome(step.AgentRole, out.Success, elapsed)
	return res
}

// ManageState applies a lifecycle action: pause (from running), resume (from
// paused), cancel (from any non-terminal state), retry (from failed or
// cancelled, resetting to pending at step 0). Illegal actions return a
// StateTransitionError with no side effects.
func (o *Orchestrator) ManageState(workflowID, action string) (*models.Workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workflows[workflowID]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}

	reject := func() (*models.Workflow, error) {
		return nil, &StateTransitionError{WorkflowID: workflowID, Current: w.Status, Action: action}
	}

	switch action {
	case "pause":
		if w.Status != models.WorkflowRunning {
			return reject()
		}
		w.Pause(o.now())
	case "resume":
		if w.Status != models.WorkflowPaused {
			return reject()
		}
		w.Resume(o.now())
	case "cancel":
		if w.Status.Terminal() {
			return reject()
		}
		w.Cancel(o.now())
		o.finalizeLocked(w)
	case "retry":
		if w.Status != models.WorkflowFailed && w.Status != models.WorkflowCancelled {
			return reject()
		}
		w.Reset(o.now())
	default:
		return nil, fmt.Errorf("workflow %s: unknown action %q", workflowID, action)
	}

	o.publish(w.ID, events.TypeStateChanged, "", action, map[string]interface{}{
		"status": string(w.Status),
	})
	o.logger.Info("Workflow state changed",
		zap.String("workflow_id", workflowID),
		zap.String("action", action),
		zap.String("status", string(w.Status)),
	)
	return snapshot(w), nil
}

// Get returns a snapshot of an active workflow.
func (o *Orchestrator) Get(workflowID string) (*models.Workflow, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workflows[workflowID]
	if !ok {
		return nil, false
	}
	return snapshot(w), true
}

// History returns snapshots of terminal workflow runs, oldest first.
func (o *Orchestrator) History() []*models.Workflow {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.Workflow, len(o.history))
	for i, w := range o.history {
		out[i] = snapshot(w)
	}
	return out
}

// finalizeLocked records terminal-state bookkeeping: metrics, the capped
// execution history, and the optional persistence sink.
func (o *Orchestrator) finalizeLocked(w *models.Workflow) {
	duration := 0.0
	if w.StartTime != nil && w.EndTime != nil {
		duration = w.EndTime.Sub(*w.StartTime).Seconds()
	}
	metrics.RecordWorkflowMetrics(w.WorkflowType, string(w.Status), duration)
	o.publish(w.ID, events.TypeWorkflowFinished, "", string(w.Status), map[string]interface{}{
		"workflow_type": w.WorkflowType,
		"steps_total":   len(w.Steps),
	})

	entry := snapshot(w)
	o.history = append(o.history, entry)
	if len(o.history) > o.historyCap {
		o.history = o.history[len(o.history)-o.historyCap:]
	}
	if o.recorder != nil {
		o.recorder.RecordWorkflow(entry)
	}
}

func (o *Orchestrator) publish(scope, eventType, agentRole, message string, payload map[string]interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(scope, events.Event{
		Type:      eventType,
		AgentRole: agentRole,
		Message:   message,
		Payload:   payload,
	})
}

func (o *Orchestrator) snapshotByID(id string) *models.Workflow {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.workflows[id]; ok {
		return snapshot(w)
	}
	return nil
}

// snapshot deep-copies the mutable parts of a workflow so callers can hold
// the result without racing the orchestrator.
func snapshot(w *models.Workflow) *models.Workflow {
	c := *w
	c.Steps = make([]models.WorkflowStep, len(w.Steps))
	copy(c.Steps, w.Steps)
	c.Objectives = append([]string(nil), w.Objectives...)
	c.StepResults = make(map[string]models.StepResult, len(w.StepResults))
	for k, v := range w.StepResults {
		c.StepResults[k] = v
	}
	if w.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(w.Metadata))
		for k, v := range w.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
