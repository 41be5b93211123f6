// Package allocator assigns shares of a finite resource pool to pending
// tasks under interchangeable strategies. Starvation is silent: tasks may
// receive partial or zero allocation when the pool runs out.
package allocator

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/scheduler"
)

// Allocation strategies.
const (
	FairShare     = "fair_share"
	PriorityBased = "priority_based"
	DeadlineAware = "deadline_aware"
)

// Result holds per-task allocations and per-resource utilization.
type Result struct {
	Strategy    string                        `json:"strategy"`
	Allocations map[string]map[string]float64 `json:"allocations"` // task id -> resource -> amount
	Utilization map[string]float64            `json:"utilization"` // resource -> percent of pool allocated
}

// Allocator divides resource pools across scheduled entries.
type Allocator struct {
	logger *zap.Logger
}

// New creates an allocator.
func New(logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{logger: logger}
}

// Allocate divides the pool across the given entries using the named
// strategy. Entries without resource requirements receive an empty
// allocation map.
func (a *Allocator) Allocate(entries []*scheduler.Entry, pool map[string]float64, strategy string) (*Result, error) {
	result := &Result{
		Strategy:    strategy,
		Allocations: make(map[string]map[string]float64, len(entries)),
		Utilization: make(map[string]float64, len(pool)),
	}

	switch strategy {
	case FairShare:
		a.fairShare(entries, pool, result)
	case PriorityBased:
		ordered := make([]*scheduler.Entry, len(entries))
		copy(ordered, entries)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].PriorityScore > ordered[j].PriorityScore
		})
		a.greedy(ordered, pool, result)
	case DeadlineAware:
		ordered := make([]*scheduler.Entry, len(entries))
		copy(ordered, entries)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].ExecutionTime.Before(ordered[j].ExecutionTime)
		})
		a.greedy(ordered, pool, result)
	default:
		return nil, fmt.Errorf("allocate: unknown strategy %q", strategy)
	}

	allocated := make(map[string]float64, len(pool))
	for _, alloc := range result.Allocations {
		for resource, amount := range alloc {
			allocated[resource] += amount
		}
	}
	for resource, total := range pool {
		if total > 0 {
			result.Utilization[resource] = allocated[resource] / total * 100
		}
	}

	a.logger.Debug("Resources allocated",
		zap.String("strategy", strategy),
		zap.Int("tasks", len(entries)),
		zap.Any("utilization", result.Utilization),
	)
	return result, nil
}

// fairShare divides each pool evenly across the task count and clips each
// task to min(requested, share).
func (a *Allocator) fairShare(entries []*scheduler.Entry, pool map[string]float64, result *Result) {
	if len(entries) == 0 {
		return
	}
	share := make(map[string]float64, len(pool))
	for resource, total := range pool {
		share[resource] = total / float64(len(entries))
	}
	for _, e := range entries {
		alloc := make(map[string]float64, len(e.Resources))
		for resource, requested := range e.Resources {
			s, pooled := share[resource]
			if !pooled {
				continue
			}
			if requested < s {
				alloc[resource] = requested
			} else {
				alloc[resource] = s
			}
		}
		result.Allocations[e.Task.ID] = alloc
	}
}

// greedy walks entries in the given order and grants up to each request
// from whatever remains; exhausted resource types yield zero for later
// tasks.
func (a *Allocator) greedy(ordered []*scheduler.Entry, pool map[string]float64, result *Result) {
	remaining := make(map[string]float64, len(pool))
	for resource, total := range pool {
		remaining[resource] = total
	}
	for _, e := range ordered {
		alloc := make(map[string]float64, len(e.Resources))
		for resource, requested := range e.Resources {
			left, pooled := remaining[resource]
			if !pooled {
				continue
			}
			grant := requested
			if grant > left {
				grant = left
			}
			alloc[resource] = grant
			remaining[resource] = left - grant
		}
		result.Allocations[e.Task.ID] = alloc
	}
}
