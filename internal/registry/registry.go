// Package registry provides the shared in-memory task store. Components
// receive the store by injection rather than through package globals so
// independent engine instances can coexist in tests.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// TaskRegistry is a concurrency-safe store of tasks keyed by id.
type TaskRegistry struct {
	mu     sync.RWMutex
	tasks  map[string]*models.Task
	logger *zap.Logger
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry(logger *zap.Logger) *TaskRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskRegistry{
		tasks:  make(map[string]*models.Task),
		logger: logger,
	}
}

// Register stores a task. An existing task with the same id is replaced.
func (r *TaskRegistry) Register(task *models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		r.logger.Debug("Replacing registered task", zap.String("task_id", task.ID))
	}
	r.tasks[task.ID] = task
}

// Get returns the task with the given id.
func (r *TaskRegistry) Get(id string) (*models.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	return t, ok
}

// Remove deletes a task from the registry.
func (r *TaskRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// List returns all tasks ordered by creation time, oldest first.
func (r *TaskRegistry) List() []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListByStatus returns tasks in the given status, ordered as in List.
func (r *TaskRegistry) ListByStatus(status models.TaskStatus) []*models.Task {
	all := r.List()
	out := all[:0]
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of registered tasks.
func (r *TaskRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// DependenciesMet reports whether every dependency of the task has
// completed, along with the ids of the unmet dependencies. Dependencies
// that reference unknown tasks are treated as unmet.
func (r *TaskRegistry) DependenciesMet(task *models.Task) (bool, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var blocking []string
	for _, dep := range task.Dependencies {
		d, ok := r.tasks[dep]
		if !ok || d.Status != models.TaskCompleted {
			blocking = append(blocking, dep)
		}
	}
	return len(blocking) == 0, blocking
}
