package agent

import (
	"context"
	"fmt"
	"time"
)

// SimAgent is a configurable stand-in for a real capability provider.
// It returns canned outputs per task type and honors context
// cancellation, which also makes it the standard test double.
type SimAgent struct {
	role    string
	latency time.Duration
	// fail lists task types that should return an unsuccessful result.
	fail map[string]bool
	// outputs overrides the canned output per task type.
	outputs map[string]map[string]interface{}
}

// NewSimAgent creates a simulated agent for a role.
func NewSimAgent(role string) *SimAgent {
	return &SimAgent{
		role:    role,
		fail:    make(map[string]bool),
		outputs: make(map[string]map[string]interface{}),
	}
}

// WithLatency sets an artificial execution delay.
func (s *SimAgent) WithLatency(d time.Duration) *SimAgent {
	s.latency = d
	return s
}

// FailOn marks task types whose execution reports failure.
func (s *SimAgent) FailOn(taskTypes ...string) *SimAgent {
	for _, t := range taskTypes {
		s.fail[t] = true
	}
	return s
}

// RespondWith sets the canned outputs for a task type.
func (s *SimAgent) RespondWith(taskType string, outputs map[string]interface{}) *SimAgent {
	s.outputs[taskType] = outputs
	return s
}

// Role returns the agent's role.
func (s *SimAgent) Role() string { return s.role }

// Execute returns the canned result for the invocation's task type.
func (s *SimAgent) Execute(ctx context.Context, inv Invocation) (Result, error) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if s.fail[inv.TaskType] {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("%s failed for task type %s", s.role, inv.TaskType),
		}, nil
	}

	outputs := s.outputs[inv.TaskType]
	if outputs == nil {
		outputs = map[string]interface{}{
			"status":    "done",
			"task_type": inv.TaskType,
			"agent":     s.role,
		}
	}
	return Result{
		Success:   true,
		Outputs:   outputs,
		Artifacts: []string{fmt.Sprintf("%s_%s_report", s.role, inv.TaskType)},
		Metadata:  map[string]interface{}{"agent": s.role},
	}, nil
}
