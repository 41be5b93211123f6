// Package models defines the core task, workflow, and collaboration types
// shared by the scheduler, coordinator, and orchestrator.
package models

import (
	"errors"
	"time"
)

var (
	// ErrTaskNotFound is returned when a task id is not registered
	ErrTaskNotFound = errors.New("task not found")

	// ErrWorkflowNotFound is returned when a workflow id is not registered
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidPriority is returned for an unknown priority value
	ErrInvalidPriority = errors.New("invalid task priority")
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskPriority is the scheduling priority class of a task.
type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// ParsePriority validates a priority string.
func ParsePriority(s string) (TaskPriority, error) {
	switch TaskPriority(s) {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return TaskPriority(s), nil
	}
	return "", ErrInvalidPriority
}

// Task is a schedulable unit of work. Identity is immutable after creation;
// lifecycle fields are mutated by the task queue and scheduler only.
type Task struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	TaskType      string                 `json:"task_type"`
	Priority      TaskPriority           `json:"priority"`
	Status        TaskStatus             `json:"status"`
	AssignedAgent string                 `json:"assigned_agent,omitempty"`
	Requester     string                 `json:"requester"`
	Requirements  map[string]interface{} `json:"requirements,omitempty"`
	Dependencies  []string               `json:"dependencies,omitempty"`
	BlockingTasks []string               `json:"blocking_tasks,omitempty"`

	ExpectedDuration int  `json:"expected_duration,omitempty"` // minutes
	ActualDuration   int  `json:"actual_duration,omitempty"`   // minutes, derived
	RetryCount       int  `json:"retry_count"`
	MaxRetries       int  `json:"max_retries"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Results      map[string]interface{} `json:"results,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewTask builds a task with defaults applied (medium priority, 3 retries).
func NewTask(id, title, taskType, requester string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         id,
		Title:      title,
		TaskType:   taskType,
		Priority:   PriorityMedium,
		Status:     TaskPending,
		Requester:  requester,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Start marks the task running and records the assigned agent.
func (t *Task) Start(agentRole string, now time.Time) {
	t.AssignedAgent = agentRole
	t.Status = TaskRunning
	t.StartTime = &now
	t.UpdatedAt = now
}

// Complete records a successful result and the derived duration.
func (t *Task) Complete(results map[string]interface{}, now time.Time) {
	t.Status = TaskCompleted
	t.EndTime = &now
	t.Results = results
	t.computeDuration()
	t.UpdatedAt = now
}

// Fail records error details and applies the retry policy. It returns true
// when the task was requeued as pending; false means the retry budget is
// exhausted and the task is terminally failed. RetryCount never exceeds
// MaxRetries.
func (t *Task) Fail(errorDetails map[string]interface{}, retry bool, now time.Time) bool {
	t.ErrorDetails = errorDetails
	if retry && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = TaskPending
		t.UpdatedAt = now
		return true
	}
	t.Status = TaskFailed
	t.EndTime = &now
	t.computeDuration()
	t.UpdatedAt = now
	return false
}

// Cancel marks the task cancelled with a reason.
func (t *Task) Cancel(reason string, now time.Time) {
	t.Status = TaskCancelled
	t.EndTime = &now
	if t.Metadata == nil {
		t.Metadata = make(map[string]interface{})
	}
	t.Metadata["cancellation_reason"] = reason
	t.computeDuration()
	t.UpdatedAt = now
}

func (t *Task) computeDuration() {
	if t.StartTime != nil && t.EndTime != nil {
		t.ActualDuration = int(t.EndTime.Sub(*t.StartTime).Minutes())
	}
}
