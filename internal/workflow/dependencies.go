package workflow

import (
	"fmt"

	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// auditDependencies rejects step lists whose dependencies reference unknown
// steps or steps that appear later in the pipeline. Template expansion only
// produces backward references, so a violation means a malformed custom
// template slipped through.
func auditDependencies(steps []models.WorkflowStep) error {
	seen := make(map[string]struct{}, len(steps))
	for i := range steps {
		for _, dep := range steps[i].Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("step %s depends on %q which is not an earlier step", steps[i].StepID, dep)
			}
		}
		seen[steps[i].StepID] = struct{}{}
	}
	return nil
}

// StepDependencies reports, for each step of a workflow, which dependencies
// already have a successful result and which are still outstanding.
func (o *Orchestrator) StepDependencies(workflowID string) (map[string][]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workflows[workflowID]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}

	outstanding := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		var blocked []string
		for _, dep := range s.Dependencies {
			if res, ok := w.StepResults[dep]; !ok || !res.Success {
				blocked = append(blocked, dep)
			}
		}
		outstanding[s.StepID] = blocked
	}
	return outstanding, nil
}
