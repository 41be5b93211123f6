package scheduler

import (
	"time"

	"github.com/nexus-kamuy/orchestrator/internal/models"
)

// Analytics is an aggregate snapshot of the current schedule.
type Analytics struct {
	TotalScheduled  int                            `json:"total_scheduled"`
	ByPriority      map[models.TaskPriority]int    `json:"by_priority"`
	AverageScore    float64                        `json:"average_score"`
	HighestScore    float64                        `json:"highest_score"`
	NextExecution   *time.Time                     `json:"next_execution,omitempty"`
	ResourceDemand  map[string]float64             `json:"resource_demand"`
	ResourceHeadroom map[string]float64            `json:"resource_headroom"`
}

// Analytics computes aggregates over all active schedule entries.
func (s *Scheduler) Analytics() Analytics {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := Analytics{
		ByPriority:     make(map[models.TaskPriority]int),
		ResourceDemand: make(map[string]float64),
	}

	total := 0.0
	for _, e := range s.order {
		a.TotalScheduled++
		a.ByPriority[e.Task.Priority]++
		total += e.PriorityScore
		if e.PriorityScore > a.HighestScore {
			a.HighestScore = e.PriorityScore
		}
		if a.NextExecution == nil || e.ExecutionTime.Before(*a.NextExecution) {
			t := e.ExecutionTime
			a.NextExecution = &t
		}
		for resource, req := range e.Resources {
			a.ResourceDemand[resource] += req
		}
	}
	if a.TotalScheduled > 0 {
		a.AverageScore = total / float64(a.TotalScheduled)
	}
	a.ResourceHeadroom = s.availableResourcesLocked("")
	return a
}
