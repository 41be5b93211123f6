package workflow

import (
	"time"

	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// StepProgress is the per-step line of a progress report.
type StepProgress struct {
	StepID    string `json:"step_id"`
	StepName  string `json:"step_name"`
	AgentRole string `json:"agent_role"`
	Status    string `json:"status"` // completed, failed, running, pending
}

// Progress is a point-in-time view of pipeline completion.
type Progress struct {
	WorkflowID         string                `json:"workflow_id"`
	Status             models.WorkflowStatus `json:"status"`
	PercentComplete    float64               `json:"percent_complete"`
	CompletedSteps     int                   `json:"completed_steps"`
	TotalSteps         int                   `json:"total_steps"`
	CurrentStep        *models.WorkflowStep  `json:"current_step,omitempty"`
	Elapsed            time.Duration         `json:"elapsed"`
	EstimatedRemaining time.Duration         `json:"estimated_remaining"`
	Steps              []StepProgress        `json:"steps"`
}

// TrackProgress reports completion percentage, the current step, elapsed and
// estimated-remaining time (linear extrapolation from elapsed over fraction
// complete), and a per-step status list.
func (o *Orchestrator) TrackProgress(workflowID string) (*Progress, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workflows[workflowID]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}

	p := &Progress{
		WorkflowID:      workflowID,
		Status:          w.Status,
		TotalSteps:      len(w.Steps),
		CompletedSteps:  w.CurrentStepIndex,
		PercentComplete: w.Progress() * 100,
	}
	if p.CompletedSteps > p.TotalSteps {
		p.CompletedSteps = p.TotalSteps
	}

	if cur := w.CurrentStep(); cur != nil {
		step := *cur
		p.CurrentStep = &step
	}

	if w.StartTime != nil {
		end := o.now()
		if w.EndTime != nil {
			end = *w.EndTime
		}
		p.Elapsed = end.Sub(*w.StartTime)
		fraction := w.Progress()
		if fraction > 0 && fraction < 1 && !w.Status.Terminal() {
			total := time.Duration(float64(p.Elapsed) / fraction)
			p.EstimatedRemaining = total - p.Elapsed
		}
	}

	p.Steps = make([]StepProgress, len(w.Steps))
	for i, s := range w.Steps {
		line := StepProgress{StepID: s.StepID, StepName: s.StepName, AgentRole: s.AgentRole, Status: "pending"}
		if res, ok := w.StepResults[s.StepID]; ok {
			if res.Success {
				line.Status = "completed"
			} else {
				line.Status = "failed"
			}
		} else if i == w.CurrentStepIndex && w.Status == models.WorkflowRunning {
			line.Status = "running"
		}
		p.Steps[i] = line
	}
	return p, nil
}
