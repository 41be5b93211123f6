package workflow

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/events"
	"github.com/nexus-kamuy/orchestrator/internal/metrics"
	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// HandoffCheck is one entry of the handoff validation checklist.
type HandoffCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Handoff packages a completed step's outputs for the next step's agent,
// together with the validation checklist outcome.
type Handoff struct {
	WorkflowID string                 `json:"workflow_id"`
	FromStep   string                 `json:"from_step"`
	ToStep     string                 `json:"to_step"`
	FromAgent  string                 `json:"from_agent"`
	ToAgent    string                 `json:"to_agent"`
	Context    map[string]interface{} `json:"context"`
	Checks     []HandoffCheck         `json:"checks"`
	Accepted   bool                   `json:"accepted"`
}

// CoordinateHandoff validates the transfer of the current step's results to
// the next step. Three checks must all pass: the current step completed
// successfully, every required input of the next step is present in the
// transferred outputs, and the target agent is currently available. Failed
// checks are returned without mutating workflow state.
func (o *Orchestrator) CoordinateHandoff(workflowID, currentStepID, nextStepID string) (*Handoff, error) {
	o.mu.Lock()
	w, ok := o.workflows[workflowID]
	if !ok {
		o.mu.Unlock()
		return nil, models.ErrWorkflowNotFound
	}

	var current, next *models.WorkflowStep
	for i := range w.Steps {
		switch w.Steps[i].StepID {
		case currentStepID:
			current = &w.Steps[i]
		case nextStepID:
			next = &w.Steps[i]
		}
	}
	if current == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("workflow %s: unknown step %q", workflowID, currentStepID)
	}
	if next == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("workflow %s: unknown step %q", workflowID, nextStepID)
	}

	result, hasResult := w.StepResults[currentStepID]
	currentCopy := *current
	nextCopy := *next
	o.mu.Unlock()

	h := &Handoff{
		WorkflowID: workflowID,
		FromStep:   currentStepID,
		ToStep:     nextStepID,
		FromAgent:  currentCopy.AgentRole,
		ToAgent:    nextCopy.AgentRole,
	}

	successCheck := HandoffCheck{Name: "step_successful", Passed: hasResult && result.Success}
	if !hasResult {
		successCheck.Detail = "no result recorded for current step"
	} else if !result.Success {
		successCheck.Detail = result.Error
	}

	inputCheck := HandoffCheck{Name: "required_inputs_present", Passed: true}
	var missing []string
	for _, input := range nextCopy.RequiredInputs {
		if _, ok := result.Outputs[input]; !ok {
			missing = append(missing, input)
		}
	}
	if len(missing) > 0 {
		inputCheck.Passed = false
		inputCheck.Detail = "missing outputs: " + strings.Join(missing, ", ")
	}

	agentCheck := HandoffCheck{Name: "target_agent_available"}
	if profile, ok := o.agents.Profile(nextCopy.AgentRole); ok {
		agentCheck.Passed = profile.Availability.Status == "available"
		if !agentCheck.Passed {
			agentCheck.Detail = fmt.Sprintf("agent %s status is %q", nextCopy.AgentRole, profile.Availability.Status)
		}
	} else {
		agentCheck.Detail = fmt.Sprintf("agent %s not registered", nextCopy.AgentRole)
	}

	h.Checks = []HandoffCheck{successCheck, inputCheck, agentCheck}
	h.Accepted = true
	for _, c := range h.Checks {
		if !c.Passed {
			h.Accepted = false
			metrics.HandoffValidationFailures.WithLabelValues(c.Name).Inc()
		}
	}

	if !h.Accepted {
		o.logger.Warn("Handoff rejected",
			zap.String("workflow_id", workflowID),
			zap.String("from_step", currentStepID),
			zap.String("to_step", nextStepID),
		)
		return h, nil
	}

	h.Context = map[string]interface{}{
		"outputs":   result.Outputs,
		"artifacts": result.Artifacts,
		"metadata":  result.Metadata,
		"from_step": currentStepID,
	}
	o.publish(workflowID, events.TypeHandoff, nextCopy.AgentRole, "handoff accepted", map[string]interface{}{
		"from_step":  currentStepID,
		"to_step":    nextStepID,
		"from_agent": currentCopy.AgentRole,
		"to_agent":   nextCopy.AgentRole,
	})
	return h, nil
}
