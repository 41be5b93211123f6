// Package taskqueue provides per-agent bounded-concurrency task queues.
// A queue tracks task ids through pending, running, completed, and failed
// partitions; Start is the single admission gate enforcing the concurrency
// cap.
package taskqueue

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/metrics"
)

type taskState int

const (
	statePending taskState = iota
	stateRunning
	stateCompleted
	stateFailed
)

// Status is a point-in-time snapshot of queue occupancy.
type Status struct {
	AgentRole         string `json:"agent_role"`
	Pending           int    `json:"pending"`
	Running           int    `json:"running"`
	Completed         int    `json:"completed"`
	Failed            int    `json:"failed"`
	CapacityUsed      int    `json:"capacity_used"`
	CapacityAvailable int    `json:"capacity_available"`
}

// Queue is a per-agent holding structure. All methods are safe for
// concurrent use.
type Queue struct {
	agentRole     string
	maxConcurrent int
	logger        *zap.Logger

	mu      sync.Mutex
	pending []string // FIFO order preserved for position reporting
	states  map[string]taskState
	running int
}

// New creates a queue for an agent role. maxConcurrent below 1 is raised
// to 1.
func New(agentRole string, maxConcurrent int, logger *zap.Logger) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		agentRole:     agentRole,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		states:        make(map[string]taskState),
	}
}

// AgentRole returns the role this queue serves.
func (q *Queue) AgentRole() string { return q.agentRole }

// MaxConcurrent returns the admission cap.
func (q *Queue) MaxConcurrent() int { return q.maxConcurrent }

// Add appends the task to pending. A task id already tracked in any
// partition is left untouched.
func (q *Queue) Add(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, tracked := q.states[taskID]; tracked {
		return
	}
	q.states[taskID] = statePending
	q.pending = append(q.pending, taskID)

	q.logger.Debug("Task queued",
		zap.String("agent_role", q.agentRole),
		zap.String("task_id", taskID),
		zap.Int("pending", len(q.pending)),
	)
}

// Start moves a pending task to running. It fails, without mutating
// state, if the task is not pending or the running partition is at
// capacity. This is the sole admission-control gate.
func (q *Queue) Start(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, tracked := q.states[taskID]
	if !tracked {
		metrics.QueueUnknownTask.WithLabelValues(q.agentRole, "start").Inc()
		return false
	}
	if state != statePending {
		metrics.QueueAdmissionRejections.WithLabelValues(q.agentRole).Inc()
		return false
	}
	if q.running >= q.maxConcurrent {
		metrics.QueueAdmissionRejections.WithLabelValues(q.agentRole).Inc()
		q.logger.Debug("Admission rejected, queue at capacity",
			zap.String("agent_role", q.agentRole),
			zap.String("task_id", taskID),
			zap.Int("max_concurrent", q.maxConcurrent),
		)
		return false
	}

	q.states[taskID] = stateRunning
	q.running++
	q.removePendingLocked(taskID)
	metrics.QueueRunningTasks.WithLabelValues(q.agentRole).Set(float64(q.running))
	return true
}

// Complete moves a running task to completed. Tasks not in running are
// left untouched.
func (q *Queue) Complete(taskID string) {
	q.finish(taskID, stateCompleted, "complete")
}

// Fail moves a running task to failed. Tasks not in running are left
// untouched.
func (q *Queue) Fail(taskID string) {
	q.finish(taskID, stateFailed, "fail")
}

func (q *Queue) finish(taskID string, terminal taskState, op string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, tracked := q.states[taskID]
	if !tracked {
		metrics.QueueUnknownTask.WithLabelValues(q.agentRole, op).Inc()
		return
	}
	if state != stateRunning {
		return
	}
	q.states[taskID] = terminal
	q.running--
	metrics.QueueRunningTasks.WithLabelValues(q.agentRole).Set(float64(q.running))
}

// Requeue returns a running task to pending, used by the retry policy.
// Tasks not in running are left untouched.
func (q *Queue) Requeue(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, tracked := q.states[taskID]
	if !tracked || state != stateRunning {
		return
	}
	q.states[taskID] = statePending
	q.running--
	q.pending = append(q.pending, taskID)
	metrics.QueueRunningTasks.WithLabelValues(q.agentRole).Set(float64(q.running))
}

// Position returns the 1-based position of a task in the pending
// partition, or 0 if the task is not pending.
func (q *Queue) Position(taskID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, id := range q.pending {
		if id == taskID {
			return i + 1
		}
	}
	return 0
}

// PendingTasks returns the pending task ids in queue order.
func (q *Queue) PendingTasks() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.pending))
	copy(out, q.pending)
	return out
}

// RemovePending removes a pending task from the queue entirely, used by
// workload rebalancing to move a task to another queue. Returns false if
// the task is not pending.
func (q *Queue) RemovePending(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, tracked := q.states[taskID]
	if !tracked || state != statePending {
		return false
	}
	delete(q.states, taskID)
	q.removePendingLocked(taskID)
	return true
}

// Status reports current partition counts and capacity headroom.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{
		AgentRole:         q.agentRole,
		Pending:           len(q.pending),
		Running:           q.running,
		CapacityUsed:      q.running,
		CapacityAvailable: q.maxConcurrent - q.running,
	}
	for _, s := range q.states {
		switch s {
		case stateCompleted:
			st.Completed++
		case stateFailed:
			st.Failed++
		}
	}
	return st
}

func (q *Queue) removePendingLocked(taskID string) {
	for i, id := range q.pending {
		if id == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}
