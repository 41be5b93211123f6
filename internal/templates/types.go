package templates

import (
	"fmt"
	"strings"

	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// DefaultStepTimeoutMinutes applies to steps that do not declare a timeout.
const DefaultStepTimeoutMinutes = 60

// Template captures a named workflow definition as loaded from YAML or the
// built-in catalogue. Steps run as a strict linear pipeline: each expanded
// step depends on its immediate predecessor.
type Template struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Version     string         `yaml:"version"`
	Steps       []StepTemplate `yaml:"steps"`
	Metadata    map[string]any `yaml:"metadata"`
}

// StepTemplate defines one step of a workflow template.
type StepTemplate struct {
	Name           string         `yaml:"name"`
	Agent          string         `yaml:"agent"`
	Type           string         `yaml:"type"`
	Parameters     map[string]any `yaml:"parameters"`
	RequiredInputs []string       `yaml:"required_inputs"`
	TimeoutMinutes int            `yaml:"timeout_minutes"`
	RetryOnFailure *bool          `yaml:"retry_on_failure"`
	Critical       bool           `yaml:"critical"`
}

// StepByName returns a pointer to the step with the supplied name, if present.
func (t *Template) StepByName(name string) *StepTemplate {
	for i := range t.Steps {
		if t.Steps[i].Name == name {
			return &t.Steps[i]
		}
	}
	return nil
}

// Expand materializes the template into concrete workflow steps for the given
// target and objectives. Step ids are positional and derived from the step
// name; every step after the first depends on its predecessor.
func (t *Template) Expand(target string, objectives []string) []models.WorkflowStep {
	steps := make([]models.WorkflowStep, 0, len(t.Steps))
	for i, st := range t.Steps {
		params := map[string]interface{}{
			"target":     target,
			"objectives": objectives,
			"step_index": i,
		}
		for k, v := range st.Parameters {
			params[k] = v
		}

		timeout := st.TimeoutMinutes
		if timeout <= 0 {
			timeout = DefaultStepTimeoutMinutes
		}
		retry := true
		if st.RetryOnFailure != nil {
			retry = *st.RetryOnFailure
		}

		step := models.WorkflowStep{
			StepID:         StepID(i, st.Name),
			StepName:       st.Name,
			AgentRole:      st.Agent,
			StepType:       st.Type,
			Parameters:     params,
			RequiredInputs: cloneStrings(st.RequiredInputs),
			TimeoutMinutes: timeout,
			RetryOnFailure: retry,
			Critical:       st.Critical,
		}
		if i > 0 {
			step.Dependencies = []string{steps[i-1].StepID}
		}
		steps = append(steps, step)
	}
	return steps
}

// StepID builds the positional step identifier for a step name.
func StepID(index int, name string) string {
	return fmt.Sprintf("step-%d-%s", index+1, strings.ReplaceAll(name, " ", "-"))
}

// GenericSteps is the fallback expansion for unknown workflow types: a single
// analysis step assigned to the bug hunter role.
func GenericSteps(target string, objectives []string) []models.WorkflowStep {
	return []models.WorkflowStep{
		{
			StepID:    "generic-step-1",
			StepName:  "Initial Analysis",
			AgentRole: "bug_hunter",
			StepType:  "analysis",
			Parameters: map[string]interface{}{
				"target":     target,
				"objectives": objectives,
			},
			TimeoutMinutes: DefaultStepTimeoutMinutes,
			RetryOnFailure: true,
		},
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
