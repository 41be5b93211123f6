// Package scheduler decides when and in what order tasks become eligible
// for execution, independent of which agent runs them. It maintains a
// global priority heap ordered by descending priority score with
// deterministic tie-breaking, resolves dependency and resource readiness,
// and supports reordering under several optimization strategies.
package scheduler

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/config"
	"github.com/nexus-kamuy/orchestrator/internal/metrics"
	"github.com/nexus-kamuy/orchestrator/internal/models"
	"github.com/nexus-kamuy/orchestrator/internal/registry"
)

// EntryStatus is the lifecycle state of a schedule entry.
type EntryStatus string

const (
	EntryScheduled EntryStatus = "scheduled"
	EntryCompleted EntryStatus = "completed"
	EntryCancelled EntryStatus = "cancelled"
)

// Entry wraps a scheduled task with its computed score and execution time.
// Entries are owned by the scheduler; callers receive copies.
type Entry struct {
	ScheduleID    string             `json:"schedule_id"`
	Task          *models.Task       `json:"task"`
	ExecutionTime time.Time          `json:"execution_time"`
	PriorityScore float64            `json:"priority_score"`
	Resources     map[string]float64 `json:"resources,omitempty"`
	Status        EntryStatus        `json:"status"`

	seq uint64 // insertion order, final tie-breaker
}

// Request describes a scheduling request.
type Request struct {
	Task             *models.Task
	ExecutionTime    *time.Time // defaults to now
	PriorityOverride models.TaskPriority
	Resources        map[string]float64
}

// Scheduled is the result of a successful Schedule call.
type Scheduled struct {
	ScheduleID    string    `json:"schedule_id"`
	TaskID        string    `json:"task_id"`
	ExecutionTime time.Time `json:"execution_time"`
	PriorityScore float64   `json:"priority_score"`
	QueuePosition int       `json:"queue_position"`
}

// PriorityUpdate changes one task's priority class.
type PriorityUpdate struct {
	TaskID      string              `json:"task_id"`
	NewPriority models.TaskPriority `json:"new_priority"`
	Reason      string              `json:"reason,omitempty"`
}

// UpdateResult reports the outcome of one item in a priority update batch.
type UpdateResult struct {
	TaskID   string  `json:"task_id"`
	Updated  bool    `json:"updated"`
	NewScore float64 `json:"new_score,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Readiness describes whether a task may run and what blocks it.
type Readiness struct {
	TaskID              string        `json:"task_id"`
	Ready               bool          `json:"ready"`
	BlockingTasks       []string      `json:"blocking_tasks,omitempty"`
	BlockingResources   []string      `json:"blocking_resources,omitempty"`
	EstimatedResolution time.Duration `json:"estimated_resolution,omitempty"`
}

// Scheduler owns the global priority structure. All methods are safe for
// concurrent use.
type Scheduler struct {
	registry *registry.TaskRegistry
	cfg      config.SchedulingConfig
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry // task id -> active entry
	order   entryHeap
	nextSeq uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler backed by the given task registry.
func New(reg *registry.TaskRegistry, cfg config.SchedulingConfig, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		registry: reg,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule computes the priority score for a task and inserts it into the
// global priority structure. The task is registered in the shared task
// store when not already present.
func (s *Scheduler) Schedule(req Request) (*Scheduled, error) {
	if req.Task == nil {
		return nil, fmt.Errorf("schedule: task is required")
	}
	if req.Task.ID == "" {
		return nil, fmt.Errorf("schedule: task id is required")
	}
	if req.PriorityOverride != "" {
		if _, err := models.ParsePriority(string(req.PriorityOverride)); err != nil {
			return nil, fmt.Errorf("schedule: %w: %q", err, req.PriorityOverride)
		}
		req.Task.Priority = req.PriorityOverride
	}

	now := s.now()
	execTime := now
	if req.ExecutionTime != nil {
		execTime = *req.ExecutionTime
	}

	if _, ok := s.registry.Get(req.Task.ID); !ok {
		s.registry.Register(req.Task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[req.Task.ID]; exists {
		return nil, fmt.Errorf("schedule: task %s is already scheduled", req.Task.ID)
	}

	entry := &Entry{
		ScheduleID:    uuid.New().String(),
		Task:          req.Task,
		ExecutionTime: execTime,
		PriorityScore: s.score(req.Task.Priority, execTime, req.Resources, now),
		Resources:     req.Resources,
		Status:        EntryScheduled,
		seq:           s.nextSeq,
	}
	s.nextSeq++

	s.entries[req.Task.ID] = entry
	heap.Push(&s.order, entry)

	metrics.TasksScheduled.WithLabelValues(string(req.Task.Priority)).Inc()
	metrics.ScheduledTasksGauge.Set(float64(len(s.entries)))

	s.logger.Info("Task scheduled",
		zap.String("task_id", req.Task.ID),
		zap.String("priority", string(req.Task.Priority)),
		zap.Float64("score", entry.PriorityScore),
		zap.Time("execution_time", execTime),
	)

	return &Scheduled{
		ScheduleID:    entry.ScheduleID,
		TaskID:        req.Task.ID,
		ExecutionTime: execTime,
		PriorityScore: entry.PriorityScore,
		QueuePosition: s.positionLocked(entry),
	}, nil
}

// UpdatePriorities recomputes scores for the referenced tasks and rebuilds
// the priority structure. Unknown task ids fail per item without aborting
// the batch.
func (s *Scheduler) UpdatePriorities(updates []PriorityUpdate) []UpdateResult {
	now := s.now()
	results := make([]UpdateResult, 0, len(updates))

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, u := range updates {
		entry, ok := s.entries[u.TaskID]
		if !ok {
			metrics.PriorityUpdates.WithLabelValues("unknown_task").Inc()
			results = append(results, UpdateResult{
				TaskID: u.TaskID,
				Error:  models.ErrTaskNotFound.Error(),
			})
			continue
		}
		if _, err := models.ParsePriority(string(u.NewPriority)); err != nil {
			metrics.PriorityUpdates.WithLabelValues("invalid_priority").Inc()
			results = append(results, UpdateResult{
				TaskID: u.TaskID,
				Error:  fmt.Sprintf("%v: %q", err, u.NewPriority),
			})
			continue
		}

		entry.Task.Priority = u.NewPriority
		entry.Task.UpdatedAt = now
		entry.PriorityScore = s.score(u.NewPriority, entry.ExecutionTime, entry.Resources, now)
		changed = true

		metrics.PriorityUpdates.WithLabelValues("ok").Inc()
		results = append(results, UpdateResult{
			TaskID:   u.TaskID,
			Updated:  true,
			NewScore: entry.PriorityScore,
		})
		s.logger.Info("Task priority updated",
			zap.String("task_id", u.TaskID),
			zap.String("priority", string(u.NewPriority)),
			zap.String("reason", u.Reason),
			zap.Float64("score", entry.PriorityScore),
		)
	}

	if changed {
		// Scores mutate in place, so a full rebuild restores heap order.
		heap.Init(&s.order)
		metrics.QueueReorders.Inc()
	}
	return results
}

// Position returns the 1-based rank of a task among all scheduled entries.
func (s *Scheduler) Position(taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[taskID]
	if !ok {
		return 0, models.ErrTaskNotFound
	}
	return s.positionLocked(entry), nil
}

// positionLocked counts entries that sort ahead of e: strictly higher
// score, or equal score with earlier-or-equal execution time. The entry
// counts itself, yielding a 1-based rank.
func (s *Scheduler) positionLocked(e *Entry) int {
	pos := 0
	for _, other := range s.order {
		if other.PriorityScore > e.PriorityScore {
			pos++
		} else if other.PriorityScore == e.PriorityScore && !other.ExecutionTime.After(e.ExecutionTime) {
			pos++
		}
	}
	return pos
}

// ResolveDependencies reports whether a task is execution-ready: every
// dependency completed and every declared resource requirement currently
// satisfiable. Blocked tasks get an estimated resolution time of 30
// minutes per blocking dependency or 10 minutes per blocking resource,
// whichever is larger.
func (s *Scheduler) ResolveDependencies(taskID string) (*Readiness, error) {
	task, ok := s.registry.Get(taskID)
	if !ok {
		return nil, models.ErrTaskNotFound
	}

	_, blockingTasks := s.registry.DependenciesMet(task)

	s.mu.Lock()
	var blockingResources []string
	if entry, scheduled := s.entries[taskID]; scheduled && len(entry.Resources) > 0 {
		available := s.availableResourcesLocked(taskID)
		for resource, req := range entry.Resources {
			if req > available[resource] {
				blockingResources = append(blockingResources, resource)
			}
		}
	}
	s.mu.Unlock()

	r := &Readiness{
		TaskID:            taskID,
		Ready:             len(blockingTasks) == 0 && len(blockingResources) == 0,
		BlockingTasks:     blockingTasks,
		BlockingResources: blockingResources,
	}
	if !r.Ready {
		taskWait := time.Duration(len(blockingTasks)) * 30 * time.Minute
		resourceWait := time.Duration(len(blockingResources)) * 10 * time.Minute
		if taskWait > resourceWait {
			r.EstimatedResolution = taskWait
		} else {
			r.EstimatedResolution = resourceWait
		}
	}
	return r, nil
}

// availableResourcesLocked computes per-type headroom: the configured pool
// minus demand claimed by entries whose tasks are currently running. The
// excluded task's own claim does not count against it.
func (s *Scheduler) availableResourcesLocked(excludeTaskID string) map[string]float64 {
	available := map[string]float64{
		"cpu":     s.cfg.CPUPool,
		"memory":  s.cfg.MemoryPool,
		"disk":    s.cfg.DiskPool,
		"network": s.cfg.NetworkPool,
	}
	for id, entry := range s.entries {
		if id == excludeTaskID || entry.Task.Status != models.TaskRunning {
			continue
		}
		for resource, req := range entry.Resources {
			available[resource] -= req
		}
	}
	return available
}

// NextReady returns the highest-ranked entry whose execution time has
// arrived and whose dependencies and resources are satisfied. Repeated
// calls without state changes return the same entry.
func (s *Scheduler) NextReady() (*Entry, bool) {
	now := s.now()

	s.mu.Lock()
	candidates := s.sortedEntriesLocked()
	s.mu.Unlock()

	for _, e := range candidates {
		if e.ExecutionTime.After(now) {
			continue
		}
		readiness, err := s.ResolveDependencies(e.Task.ID)
		if err != nil || !readiness.Ready {
			continue
		}
		copied := *e
		return &copied, true
	}
	return nil, false
}

// Complete removes a task's entry after successful execution.
func (s *Scheduler) Complete(taskID string) error {
	return s.remove(taskID, EntryCompleted)
}

// Cancel removes a task's entry without executing it.
func (s *Scheduler) Cancel(taskID string) error {
	return s.remove(taskID, EntryCancelled)
}

func (s *Scheduler) remove(taskID string, status EntryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[taskID]
	if !ok {
		return models.ErrTaskNotFound
	}
	entry.Status = status
	delete(s.entries, taskID)
	for i, e := range s.order {
		if e.Task.ID == taskID {
			heap.Remove(&s.order, i)
			break
		}
	}
	metrics.ScheduledTasksGauge.Set(float64(len(s.entries)))
	return nil
}

// Entry returns a copy of the active entry for a task.
func (s *Scheduler) Entry(taskID string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[taskID]
	if !ok {
		return nil, false
	}
	copied := *entry
	return &copied, true
}

// Entries returns copies of all active entries in rank order.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sortedEntriesLocked()
	out := make([]*Entry, len(sorted))
	for i, e := range sorted {
		copied := *e
		out[i] = &copied
	}
	return out
}

func (s *Scheduler) sortedEntriesLocked() []*Entry {
	sorted := make([]*Entry, len(s.order))
	copy(sorted, s.order)
	sortEntries(sorted)
	return sorted
}
