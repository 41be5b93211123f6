package templates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
)

// ValidationIssue captures a single validation failure with a stable code for metrics.
type ValidationIssue struct {
	Code    string
	Message string
}

// ValidationError aggregates template validation failures.
type ValidationError struct {
	Issues []ValidationIssue
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "template validation failed"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0].Message
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Issues), strings.Join(msgs, "; "))
}

// Messages returns just the human-readable text for each issue.
func (e *ValidationError) Messages() []string {
	if e == nil {
		return nil
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return msgs
}

var knownAgentRoles = map[string]struct{}{
	agent.RoleRTDev:             {},
	agent.RoleBugHunter:         {},
	agent.RoleBurpsuiteOperator: {},
	agent.RoleDaedelu5:          {},
	agent.RoleNexusKamuy:        {},
}

// ValidateTemplate performs structural checks and returns a ValidationError
// when problems exist.
func ValidateTemplate(tpl *Template) error {
	if tpl == nil {
		return &ValidationError{Issues: []ValidationIssue{{Code: "template_nil", Message: "template is nil"}}}
	}

	var issues []ValidationIssue

	if strings.TrimSpace(tpl.Name) == "" {
		issues = append(issues, ValidationIssue{Code: "template_name_missing", Message: "template name is required"})
	}
	if len(tpl.Steps) == 0 {
		issues = append(issues, ValidationIssue{Code: "template_steps_empty", Message: "at least one step is required"})
	}

	seen := make(map[string]struct{}, len(tpl.Steps))
	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		if strings.TrimSpace(step.Name) == "" {
			issues = append(issues, ValidationIssue{Code: "step_name_missing", Message: fmt.Sprintf("step at index %d is missing a name", i)})
			continue
		}
		if _, dup := seen[step.Name]; dup {
			issues = append(issues, ValidationIssue{Code: "step_name_duplicate", Message: fmt.Sprintf("duplicate step name '%s'", step.Name)})
			continue
		}
		seen[step.Name] = struct{}{}

		if strings.TrimSpace(step.Agent) == "" {
			issues = append(issues, ValidationIssue{Code: "step_agent_missing", Message: fmt.Sprintf("step '%s' is missing an agent role", step.Name)})
		} else if _, ok := knownAgentRoles[step.Agent]; !ok {
			issues = append(issues, ValidationIssue{Code: "agent_role_unknown", Message: fmt.Sprintf("unknown agent role '%s' at step '%s'", step.Agent, step.Name)})
		}
		if strings.TrimSpace(step.Type) == "" {
			issues = append(issues, ValidationIssue{Code: "step_type_missing", Message: fmt.Sprintf("step '%s' is missing a step type", step.Name)})
		}
		if step.TimeoutMinutes < 0 {
			issues = append(issues, ValidationIssue{Code: "step_timeout_negative", Message: fmt.Sprintf("timeout_minutes cannot be negative at step '%s'", step.Name)})
		}
		for _, input := range step.RequiredInputs {
			if strings.TrimSpace(input) == "" {
				issues = append(issues, ValidationIssue{Code: "required_input_empty", Message: fmt.Sprintf("step '%s' has an empty required input", step.Name)})
				break
			}
		}
	}

	if len(issues) > 0 {
		sort.Slice(issues, func(i, j int) bool {
			if issues[i].Code == issues[j].Code {
				return issues[i].Message < issues[j].Message
			}
			return issues[i].Code < issues[j].Code
		})
		return &ValidationError{Issues: issues}
	}
	return nil
}
