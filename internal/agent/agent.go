// Package agent defines the capability-provider seam: an Agent executes
// tasks of certain types behind a single Execute method, and a Registry
// maps roles to implementations and their capability profiles. Real tool
// integrations plug in here; the bundled SimAgent provides configurable
// stand-ins.
package agent

import "context"

// Invocation is the opaque unit of work handed to an agent.
type Invocation struct {
	TaskID     string                 `json:"task_id,omitempty"`
	StepID     string                 `json:"step_id,omitempty"`
	StepName   string                 `json:"step_name,omitempty"`
	TaskType   string                 `json:"task_type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Result is the outcome of an agent execution.
type Result struct {
	Success   bool                   `json:"success"`
	Outputs   map[string]interface{} `json:"outputs,omitempty"`
	Artifacts []string               `json:"artifacts,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Agent is an external capability provider identified by a role.
// Execute may block for a long time; implementations must honor context
// cancellation.
type Agent interface {
	Role() string
	Execute(ctx context.Context, inv Invocation) (Result, error)
}
