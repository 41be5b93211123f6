package scheduler

import (
	"sort"
	"time"

	"github.com/nexus-kamuy/orchestrator/internal/models"
)

const (
	urgencyHorizonSeconds = 86400 // one day
	urgencyFloor          = 0.1
	discountFloor         = 0.5
)

func basePriorityWeight(p models.TaskPriority) float64 {
	switch p {
	case models.PriorityUrgent:
		return 100
	case models.PriorityHigh:
		return 75
	case models.PriorityMedium:
		return 50
	case models.PriorityLow:
		return 25
	default:
		return 50
	}
}

// score computes base_weight x time_urgency x resource_discount. Urgency
// decays linearly over the next day, clamped to [0.1, 1.0]; tasks due now
// or overdue score the full factor. The resource discount penalizes heavy
// weighted demand, clamped to a floor of 0.5.
func (s *Scheduler) score(priority models.TaskPriority, executionTime time.Time, resources map[string]float64, now time.Time) float64 {
	base := basePriorityWeight(priority)

	secondsUntil := executionTime.Sub(now).Seconds()
	urgency := 1.0 - secondsUntil/urgencyHorizonSeconds
	if urgency < urgencyFloor {
		urgency = urgencyFloor
	}
	if urgency > 1.0 {
		urgency = 1.0
	}

	discount := 1.0
	if len(resources) > 0 {
		discount = 1.0 - s.weightedDemand(resources)/100
		if discount < discountFloor {
			discount = discountFloor
		}
	}

	return base * urgency * discount
}

func (s *Scheduler) weightedDemand(resources map[string]float64) float64 {
	total := 0.0
	for resource, amount := range resources {
		total += amount * s.resourceWeight(resource)
	}
	return total
}

func (s *Scheduler) resourceWeight(resource string) float64 {
	switch resource {
	case "cpu":
		return s.cfg.CPUWeight
	case "memory":
		return s.cfg.MemoryWeight
	case "disk":
		return s.cfg.DiskWeight
	case "network":
		return s.cfg.NetworkWeight
	default:
		return 1.0
	}
}

// entryHeap orders entries by descending score, ties broken by earlier
// execution time, then insertion order. The final tie-breaker keeps
// repeated reads reproducible.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return entryBefore(h[i], h[j]) }

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*Entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func entryBefore(a, b *Entry) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.ExecutionTime.Equal(b.ExecutionTime) {
		return a.ExecutionTime.Before(b.ExecutionTime)
	}
	return a.seq < b.seq
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entryBefore(entries[i], entries[j])
	})
}
