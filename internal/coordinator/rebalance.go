package coordinator

import "fmt"

// Rebalance strategies.
const (
	RebalanceEvenDistribution = "even_distribution"
	RebalanceCapabilityBased  = "capability_based"
	RebalancePriorityBased    = "priority_based"
)

// Move records one task relocated between queues during rebalancing.
type Move struct {
	TaskID    string `json:"task_id"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Reason    string `json:"reason"`
}

// BalanceWorkload redistributes pending tasks across queues. Only
// even_distribution is implemented: it moves excess pending tasks from
// queues above the mean to queues below it, without re-checking
// capability fit. The capability_based and priority_based strategies are
// declared extension points and return ErrStrategyNotImplemented.
func (c *Coordinator) BalanceWorkload(strategy string) ([]Move, error) {
	switch strategy {
	case RebalanceEvenDistribution:
		return c.evenDistribution(), nil
	case RebalanceCapabilityBased, RebalancePriorityBased:
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotImplemented, strategy)
	default:
		return nil, fmt.Errorf("balance workload: unknown strategy %q", strategy)
	}
}

func (c *Coordinator) evenDistribution() []Move {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queues) == 0 {
		return nil
	}

	totalPending := 0
	for _, q := range c.queues {
		totalPending += len(q.PendingTasks())
	}
	target := totalPending / len(c.queues)

	var moves []Move
	// Deterministic iteration keeps the plan reproducible.
	roles := c.agents.Roles()
	for _, from := range roles {
		fromQ, ok := c.queues[from]
		if !ok {
			continue
		}
		pending := fromQ.PendingTasks()
		excess := len(pending) - target - 1
		if excess <= 0 {
			continue
		}

		// Move oldest excess tasks to queues below target.
		idx := 0
		for _, to := range roles {
			if excess == 0 {
				break
			}
			if to == from {
				continue
			}
			toQ, ok := c.queues[to]
			if !ok || len(toQ.PendingTasks()) >= target {
				continue
			}
			for excess > 0 && len(toQ.PendingTasks()) < target && idx < len(pending) {
				taskID := pending[idx]
				idx++
				if !fromQ.RemovePending(taskID) {
					continue
				}
				toQ.Add(taskID)
				moves = append(moves, Move{
					TaskID:    taskID,
					FromAgent: from,
					ToAgent:   to,
					Reason:    "load_balancing",
				})
				excess--
			}
		}
	}
	return moves
}
