package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// Recurrence is a parsed repetition pattern.
type Recurrence struct {
	Pattern  string        `json:"pattern"`
	Interval time.Duration `json:"interval"`
}

// ParseRecurrence parses a repetition pattern. Supported forms are
// "@hourly", "@daily", "@weekly", "@monthly" and "every N minutes|hours|days".
// Unrecognized patterns fall back to hourly.
func ParseRecurrence(pattern string) Recurrence {
	p := strings.ToLower(strings.TrimSpace(pattern))
	switch p {
	case "@hourly":
		return Recurrence{Pattern: p, Interval: time.Hour}
	case "@daily":
		return Recurrence{Pattern: p, Interval: 24 * time.Hour}
	case "@weekly":
		return Recurrence{Pattern: p, Interval: 7 * 24 * time.Hour}
	case "@monthly":
		return Recurrence{Pattern: p, Interval: 30 * 24 * time.Hour}
	}

	fields := strings.Fields(p)
	if len(fields) == 3 && fields[0] == "every" {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			switch strings.TrimSuffix(fields[2], "s") {
			case "minute":
				return Recurrence{Pattern: p, Interval: time.Duration(n) * time.Minute}
			case "hour":
				return Recurrence{Pattern: p, Interval: time.Duration(n) * time.Hour}
			case "day":
				return Recurrence{Pattern: p, Interval: time.Duration(n) * 24 * time.Hour}
			}
		}
	}

	return Recurrence{Pattern: "@hourly", Interval: time.Hour}
}

// Next returns the first occurrence strictly after the given time.
func (r Recurrence) Next(after time.Time) time.Time {
	return after.Add(r.Interval)
}

// Occurrences returns the next n occurrences after the given time.
func (r Recurrence) Occurrences(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := after
	for i := 0; i < n; i++ {
		t = r.Next(t)
		out = append(out, t)
	}
	return out
}

// RecurringTask is a template that materializes fresh tasks on a
// repetition schedule.
type RecurringTask struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	TaskType   string             `json:"task_type"`
	Priority   models.TaskPriority `json:"priority"`
	Requester  string             `json:"requester"`
	Resources  map[string]float64 `json:"resources,omitempty"`
	Recurrence Recurrence         `json:"recurrence"`
	NextRun    time.Time          `json:"next_run"`
	CreatedAt  time.Time          `json:"created_at"`
}

// RecurringScheduler manages recurring task templates on top of a
// Scheduler. Materialized tasks enter the normal priority structure.
type RecurringScheduler struct {
	scheduler *Scheduler
	logger    *zap.Logger

	templates map[string]*RecurringTask
}

// NewRecurringScheduler wraps a scheduler with recurring-template support.
// The caller is responsible for serializing access; in practice this runs
// from a single maintenance goroutine.
func NewRecurringScheduler(s *Scheduler, logger *zap.Logger) *RecurringScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecurringScheduler{
		scheduler: s,
		logger:    logger,
		templates: make(map[string]*RecurringTask),
	}
}

// Register creates a recurring template. The first occurrence is one
// interval after registration.
func (rs *RecurringScheduler) Register(title, taskType, requester, pattern string, priority models.TaskPriority, resources map[string]float64) (*RecurringTask, error) {
	if title == "" || taskType == "" {
		return nil, fmt.Errorf("recurring: title and task_type are required")
	}
	if priority == "" {
		priority = models.PriorityMedium
	} else if _, err := models.ParsePriority(string(priority)); err != nil {
		return nil, err
	}

	now := rs.scheduler.now()
	rec := ParseRecurrence(pattern)
	rt := &RecurringTask{
		ID:         uuid.New().String(),
		Title:      title,
		TaskType:   taskType,
		Priority:   priority,
		Requester:  requester,
		Resources:  resources,
		Recurrence: rec,
		NextRun:    rec.Next(now),
		CreatedAt:  now,
	}
	rs.templates[rt.ID] = rt

	rs.logger.Info("Recurring task registered",
		zap.String("recurring_id", rt.ID),
		zap.String("pattern", rec.Pattern),
		zap.Time("next_run", rt.NextRun),
	)
	return rt, nil
}

// Remove deletes a recurring template.
func (rs *RecurringScheduler) Remove(id string) bool {
	if _, ok := rs.templates[id]; !ok {
		return false
	}
	delete(rs.templates, id)
	return true
}

// Templates returns the registered recurring templates.
func (rs *RecurringScheduler) Templates() []*RecurringTask {
	out := make([]*RecurringTask, 0, len(rs.templates))
	for _, rt := range rs.templates {
		out = append(out, rt)
	}
	return out
}

// MaterializeDue schedules a concrete task for every template whose next
// run has arrived, advancing each template past the given time. It
// returns the newly scheduled results.
func (rs *RecurringScheduler) MaterializeDue(now time.Time) []*Scheduled {
	var out []*Scheduled
	for _, rt := range rs.templates {
		for !rt.NextRun.After(now) {
			task := models.NewTask(uuid.New().String(), rt.Title, rt.TaskType, rt.Requester)
			task.Priority = rt.Priority
			task.Metadata = map[string]interface{}{"recurring_id": rt.ID}

			execTime := rt.NextRun
			scheduled, err := rs.scheduler.Schedule(Request{
				Task:          task,
				ExecutionTime: &execTime,
				Resources:     rt.Resources,
			})
			if err != nil {
				rs.logger.Error("Failed to materialize recurring task",
					zap.String("recurring_id", rt.ID),
					zap.Error(err),
				)
			} else {
				out = append(out, scheduled)
			}
			rt.NextRun = rt.Recurrence.Next(rt.NextRun)
		}
	}
	return out
}
