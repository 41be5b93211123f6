// Package coordinator matches tasks to agent roles, delegates them into
// per-agent queues, balances workload, and monitors agent health. Agent
// selection combines capability matching with a load/performance score.
package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
	"github.com/nexus-kamuy/orchestrator/internal/metrics"
	"github.com/nexus-kamuy/orchestrator/internal/models"
	"github.com/nexus-kamuy/orchestrator/internal/registry"
	"github.com/nexus-kamuy/orchestrator/internal/taskqueue"
)

var (
	// ErrNoSuitableAgent is returned when no registered agent can serve
	// a task.
	ErrNoSuitableAgent = errors.New("no suitable agent for task")

	// ErrStrategyNotImplemented marks rebalance strategies that are
	// declared extension points rather than silent no-ops.
	ErrStrategyNotImplemented = errors.New("rebalance strategy not implemented")
)

// maxSuitableLoad is the load ceiling above which an agent is excluded
// from the suitable set.
const maxSuitableLoad = 0.9

// Criteria narrows agent selection for a delegation.
type Criteria struct {
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	PreferredAgent       string   `json:"preferred_agent,omitempty"`
}

// Delegation is the result of assigning a task to an agent queue.
type Delegation struct {
	TaskID        string  `json:"task_id"`
	SelectedAgent string  `json:"selected_agent"`
	QueuePosition int     `json:"queue_position"`
	Score         float64 `json:"score"`
}

// Coordinator owns the role-to-queue mapping and the delegation logic.
type Coordinator struct {
	agents       *agent.Registry
	tasks        *registry.TaskRegistry
	queueCap     int
	logger       *zap.Logger
	now          func() time.Time

	mu            sync.Mutex
	queues        map[string]*taskqueue.Queue
	coordinations map[string]*Coordination
}

// New creates a coordinator. Queues are created lazily per role with the
// given default capacity.
func New(agents *agent.Registry, tasks *registry.TaskRegistry, queueCapacity int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		agents:        agents,
		tasks:         tasks,
		queueCap:      queueCapacity,
		logger:        logger,
		now:           time.Now,
		queues:        make(map[string]*taskqueue.Queue),
		coordinations: make(map[string]*Coordination),
	}
}

// Queue returns the task queue for a role, creating it on first use.
func (c *Coordinator) Queue(role string) *taskqueue.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueLocked(role)
}

func (c *Coordinator) queueLocked(role string) *taskqueue.Queue {
	q, ok := c.queues[role]
	if !ok {
		q = taskqueue.New(role, c.queueCap, c.logger)
		c.queues[role] = q
	}
	return q
}

// DiscoverCapabilities returns the capability profile for each requested
// role merged with a live queue-depth snapshot. Unknown roles are skipped
// with a warning.
func (c *Coordinator) DiscoverCapabilities(roles []string) map[string]*agent.CapabilityProfile {
	out := make(map[string]*agent.CapabilityProfile, len(roles))
	for _, role := range roles {
		p, ok := c.agents.Profile(role)
		if !ok {
			c.logger.Warn("Skipping unknown agent role", zap.String("role", role))
			continue
		}
		st := c.Queue(role).Status()
		p.Availability.QueueLength = st.Pending
		p.Availability.LastChecked = c.now().UTC()
		out[role] = p
	}
	return out
}

// FindSuitable returns the roles able to serve the task, in deterministic
// role order. A role is suitable when its task type matches (exact
// primary function or fuzzy specialization match), it holds at least one
// required capability if any are demanded, and its load is below 90%.
func (c *Coordinator) FindSuitable(task *models.Task, criteria Criteria) []string {
	var suitable []string
	for _, role := range c.agents.Roles() {
		p, ok := c.agents.Profile(role)
		if !ok {
			continue
		}

		match := p.CanServe(task.TaskType)
		if !match {
			for _, spec := range p.Specializations {
				if fuzzyMatch(spec, task.TaskType) {
					match = true
					break
				}
			}
		}
		if match && len(criteria.RequiredCapabilities) > 0 {
			match = false
			for _, cap := range criteria.RequiredCapabilities {
				if p.CanServe(cap) {
					match = true
					break
				}
			}
		}
		if !match {
			continue
		}
		if p.Availability.Status != "" && p.Availability.Status != "available" {
			continue
		}
		if p.Availability.CurrentLoad >= maxSuitableLoad {
			continue
		}
		suitable = append(suitable, role)
	}
	return suitable
}

// fuzzyMatch reports whether either string contains the other.
func fuzzyMatch(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// SelectOptimal picks the best candidate by scoring load, reliability,
// latency, and specialization matches. With a single candidate, it wins
// outright. Ties keep the first-seen candidate, so the result is
// deterministic for fixed inputs.
func (c *Coordinator) SelectOptimal(suitable []string, task *models.Task, criteria Criteria) (string, float64, error) {
	if len(suitable) == 0 {
		return "", 0, ErrNoSuitableAgent
	}
	if len(suitable) == 1 {
		return suitable[0], c.scoreAgent(suitable[0], task), nil
	}

	best := ""
	bestScore := -1.0
	for _, role := range suitable {
		score := c.scoreAgent(role, task)
		if score > bestScore {
			best = role
			bestScore = score
		}
	}
	return best, bestScore, nil
}

// scoreAgent computes the selection score: lower load and response time
// and higher success rate raise it, plus a 10 point bonus per
// specialization keyword appearing in the task type.
func (c *Coordinator) scoreAgent(role string, task *models.Task) float64 {
	p, ok := c.agents.Profile(role)
	if !ok {
		return 0
	}

	score := (1.0 - p.Availability.CurrentLoad) * 30
	score += p.Performance.SuccessRate * 40

	latency := (5000 - p.Performance.AvgResponseMs) / 5000
	if latency < 0 {
		latency = 0
	}
	score += latency * 20

	for _, spec := range p.Specializations {
		if strings.Contains(task.TaskType, spec) {
			score += 10
		}
	}
	return score
}

// Delegate finds a capable agent for the task and enqueues it. A
// preferred agent that is in the suitable set always wins over scoring.
func (c *Coordinator) Delegate(task *models.Task, criteria Criteria) (*Delegation, error) {
	if task == nil || task.ID == "" {
		return nil, fmt.Errorf("delegate: task with id is required")
	}

	suitable := c.FindSuitable(task, criteria)
	if len(suitable) == 0 {
		metrics.RecordDelegation("none", "no_suitable_agent")
		return nil, fmt.Errorf("%w: task_type %q", ErrNoSuitableAgent, task.TaskType)
	}

	selected := ""
	score := 0.0
	if criteria.PreferredAgent != "" {
		for _, role := range suitable {
			if role == criteria.PreferredAgent {
				selected = role
				score = c.scoreAgent(role, task)
				break
			}
		}
	}
	if selected == "" {
		var err error
		selected, score, err = c.SelectOptimal(suitable, task, criteria)
		if err != nil {
			return nil, err
		}
	}

	if _, registered := c.tasks.Get(task.ID); !registered {
		c.tasks.Register(task)
	}

	queue := c.Queue(selected)
	queue.Add(task.ID)
	position := queue.Position(task.ID)

	metrics.RecordDelegation(selected, "ok")
	metrics.AgentSelectionScore.WithLabelValues(selected).Observe(score)
	c.logger.Info("Task delegated",
		zap.String("task_id", task.ID),
		zap.String("agent_role", selected),
		zap.Int("queue_position", position),
		zap.Float64("score", score),
	)

	return &Delegation{
		TaskID:        task.ID,
		SelectedAgent: selected,
		QueuePosition: position,
		Score:         score,
	}, nil
}

// QueueStatuses returns the status of every queue keyed by role.
func (c *Coordinator) QueueStatuses() map[string]taskqueue.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]taskqueue.Status, len(c.queues))
	for role, q := range c.queues {
		out[role] = q.Status()
	}
	return out
}
