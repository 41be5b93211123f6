package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// TaskDefinition describes a composite task to decompose across agents.
type TaskDefinition struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Target     string                 `json:"target,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Coordination records a multi-agent decomposition and its assignments.
type Coordination struct {
	ID                  string            `json:"coordination_id"`
	TaskName            string            `json:"task_name"`
	StartedAt           time.Time         `json:"started_at"`
	Status              string            `json:"coordination_status"`
	ParticipatingAgents []string          `json:"participating_agents"`
	Subtasks            []*models.Task    `json:"subtasks"`
	AgentAssignments    map[string]string `json:"agent_assignments"` // subtask id -> role
}

type subtaskTemplate struct {
	name      string
	taskType  string
	priority  models.TaskPriority
	preferred string
}

// CoordinateMultiAgentTask decomposes a composite task into subtasks and
// delegates each one. The first subtask with no capable agent aborts the
// coordination; already-delegated subtasks are not rolled back.
func (c *Coordinator) CoordinateMultiAgentTask(def TaskDefinition) (*Coordination, error) {
	coord := &Coordination{
		ID:               uuid.New().String(),
		TaskName:         def.Name,
		StartedAt:        c.now().UTC(),
		Status:           "active",
		AgentAssignments: make(map[string]string),
	}
	if coord.TaskName == "" {
		coord.TaskName = "unnamed_task"
	}

	for _, tpl := range decompose(def) {
		task := models.NewTask(uuid.New().String(), tpl.name, tpl.taskType, "coordinator")
		task.Priority = tpl.priority
		task.Requirements = map[string]interface{}{"target": def.Target}
		for k, v := range def.Parameters {
			task.Requirements[k] = v
		}
		coord.Subtasks = append(coord.Subtasks, task)

		delegation, err := c.Delegate(task, Criteria{PreferredAgent: tpl.preferred})
		if err != nil {
			coord.Status = "failed"
			c.logger.Error("Multi-agent coordination aborted",
				zap.String("coordination_id", coord.ID),
				zap.String("subtask_id", task.ID),
				zap.Error(err),
			)
			return coord, fmt.Errorf("coordinate: failed to assign subtask %s: %w", task.ID, err)
		}

		coord.AgentAssignments[task.ID] = delegation.SelectedAgent
		if !contains(coord.ParticipatingAgents, delegation.SelectedAgent) {
			coord.ParticipatingAgents = append(coord.ParticipatingAgents, delegation.SelectedAgent)
		}
	}

	c.mu.Lock()
	c.coordinations[coord.ID] = coord
	c.mu.Unlock()

	c.logger.Info("Multi-agent task coordination initiated",
		zap.String("coordination_id", coord.ID),
		zap.Strings("participating_agents", coord.ParticipatingAgents),
	)
	return coord, nil
}

// Coordination returns a stored coordination record.
func (c *Coordinator) Coordination(id string) (*Coordination, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	coord, ok := c.coordinations[id]
	return coord, ok
}

// decompose expands a composite definition into subtask templates. The
// comprehensive_security_assessment type gets the full four-stage
// breakdown; unknown types degrade to a single generic subtask.
func decompose(def TaskDefinition) []subtaskTemplate {
	if def.Type == "comprehensive_security_assessment" {
		return []subtaskTemplate{
			{name: "Target Reconnaissance", taskType: "security_analysis", priority: models.PriorityHigh, preferred: agent.RoleBugHunter},
			{name: "Vulnerability Scanning", taskType: "vulnerability_scanning", priority: models.PriorityHigh, preferred: agent.RoleBurpsuiteOperator},
			{name: "Compliance Review", taskType: "compliance_audit", priority: models.PriorityMedium, preferred: agent.RoleDaedelu5},
			{name: "Report Generation", taskType: "reporting", priority: models.PriorityLow, preferred: agent.RoleNexusKamuy},
		}
	}
	return []subtaskTemplate{
		{name: "Generic Task Execution", taskType: def.Type, priority: models.PriorityMedium},
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
