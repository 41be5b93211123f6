package models

import (
	"fmt"
	"time"
)

// WorkflowStatus is the workflow state machine state.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the workflow reached a final state.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// WorkflowStep is a workflow-scoped task template bound to an agent role.
type WorkflowStep struct {
	StepID         string                 `json:"step_id" yaml:"step_id"`
	StepName       string                 `json:"step_name" yaml:"step_name"`
	AgentRole      string                 `json:"agent_role" yaml:"agent_role"`
	StepType       string                 `json:"step_type" yaml:"step_type"`
	Parameters     map[string]interface{} `json:"parameters,omitempty" yaml:"parameters"`
	Dependencies   []string               `json:"dependencies,omitempty" yaml:"dependencies"`
	RequiredInputs []string               `json:"required_inputs,omitempty" yaml:"required_inputs"`
	TimeoutMinutes int                    `json:"timeout_minutes" yaml:"timeout_minutes"`
	RetryOnFailure bool                   `json:"retry_on_failure" yaml:"retry_on_failure"`
	Critical       bool                   `json:"critical" yaml:"critical"`
}

// Task materializes a schedulable task from this step.
func (s *WorkflowStep) Task(workflowID, requester string) *Task {
	t := NewTask(fmt.Sprintf("%s_%s", workflowID, s.StepID), "Workflow Step: "+s.StepName, s.StepType, requester)
	if s.Critical {
		t.Priority = PriorityHigh
	}
	t.AssignedAgent = s.AgentRole
	t.Requirements = s.Parameters
	t.ExpectedDuration = s.TimeoutMinutes
	if !s.RetryOnFailure {
		t.MaxRetries = 0
	}
	return t
}

// StepResult is the recorded outcome of one executed workflow step.
type StepResult struct {
	StepID      string                 `json:"step_id"`
	StepName    string                 `json:"step_name"`
	AgentRole   string                 `json:"agent_role"`
	Success     bool                   `json:"success"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	Artifacts   []string               `json:"artifacts,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Workflow is an ordered multi-agent pipeline with run state.
type Workflow struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	WorkflowType string         `json:"workflow_type"`
	Requester    string         `json:"requester"`
	Target       string         `json:"target"`
	Objectives   []string       `json:"objectives"`
	Steps        []WorkflowStep `json:"steps"`

	CurrentStepIndex int                   `json:"current_step_index"`
	Status           WorkflowStatus        `json:"status"`
	StepResults      map[string]StepResult `json:"step_results"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	EstimatedDuration int                    `json:"estimated_duration,omitempty"` // minutes
	ActualDuration    int                    `json:"actual_duration,omitempty"`    // minutes, derived
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// NewWorkflow builds a pending workflow and derives the duration estimate
// from the step timeouts.
func NewWorkflow(id, name, workflowType, requester, target string, objectives []string, steps []WorkflowStep) *Workflow {
	now := time.Now().UTC()
	w := &Workflow{
		ID:           id,
		Name:         name,
		WorkflowType: workflowType,
		Requester:    requester,
		Target:       target,
		Objectives:   objectives,
		Steps:        steps,
		Status:       WorkflowPending,
		StepResults:  make(map[string]StepResult),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, s := range steps {
		w.EstimatedDuration += s.TimeoutMinutes
	}
	return w
}

// ParticipatingAgents returns the distinct agent roles across steps, in
// first-appearance order.
func (w *Workflow) ParticipatingAgents() []string {
	seen := make(map[string]bool, len(w.Steps))
	var roles []string
	for _, s := range w.Steps {
		if !seen[s.AgentRole] {
			seen[s.AgentRole] = true
			roles = append(roles, s.AgentRole)
		}
	}
	return roles
}

// CurrentStep returns the step at the current index, or nil past the end.
func (w *Workflow) CurrentStep() *WorkflowStep {
	if w.CurrentStepIndex >= 0 && w.CurrentStepIndex < len(w.Steps) {
		return &w.Steps[w.CurrentStepIndex]
	}
	return nil
}

// Progress returns fractional completion in [0,1].
func (w *Workflow) Progress() float64 {
	if len(w.Steps) == 0 {
		return 0
	}
	return float64(w.CurrentStepIndex) / float64(len(w.Steps))
}

// Start moves the workflow to running at step 0.
func (w *Workflow) Start(now time.Time) {
	w.Status = WorkflowRunning
	w.StartTime = &now
	w.CurrentStepIndex = 0
	w.UpdatedAt = now
}

// RecordStep stores a step result. Only successful steps advance the index;
// failed non-critical steps are recorded in place and the pipeline moves on
// by calling Skip.
func (w *Workflow) RecordStep(res StepResult, now time.Time) {
	w.StepResults[res.StepID] = res
	w.UpdatedAt = now
}

// Advance moves the index forward one step.
func (w *Workflow) Advance(now time.Time) {
	if w.CurrentStepIndex < len(w.Steps) {
		w.CurrentStepIndex++
		w.UpdatedAt = now
	}
}

// Complete marks the workflow completed and derives the actual duration.
func (w *Workflow) Complete(now time.Time) {
	w.Status = WorkflowCompleted
	w.EndTime = &now
	w.computeDuration()
	w.UpdatedAt = now
}

// Fail marks the workflow failed, recording the failing step index.
func (w *Workflow) Fail(details map[string]interface{}, now time.Time) {
	w.Status = WorkflowFailed
	w.EndTime = &now
	if w.Metadata == nil {
		w.Metadata = make(map[string]interface{})
	}
	w.Metadata["error_details"] = details
	w.Metadata["failed_at_step"] = w.CurrentStepIndex
	w.computeDuration()
	w.UpdatedAt = now
}

// Cancel marks the workflow cancelled.
func (w *Workflow) Cancel(now time.Time) {
	w.Status = WorkflowCancelled
	w.EndTime = &now
	w.computeDuration()
	w.UpdatedAt = now
}

// Pause and Resume toggle the running<->paused side transition. Transition
// legality is enforced by the orchestrator, not here.
func (w *Workflow) Pause(now time.Time)  { w.Status = WorkflowPaused; w.UpdatedAt = now }
func (w *Workflow) Resume(now time.Time) { w.Status = WorkflowRunning; w.UpdatedAt = now }

// Reset returns a terminal workflow to pending at step 0 for a retry run.
func (w *Workflow) Reset(now time.Time) {
	w.Status = WorkflowPending
	w.CurrentStepIndex = 0
	w.StartTime = nil
	w.EndTime = nil
	w.ActualDuration = 0
	w.StepResults = make(map[string]StepResult)
	w.UpdatedAt = now
}

func (w *Workflow) computeDuration() {
	if w.StartTime != nil && w.EndTime != nil {
		w.ActualDuration = int(w.EndTime.Sub(*w.StartTime).Minutes())
	}
}
