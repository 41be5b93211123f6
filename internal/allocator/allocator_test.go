package allocator

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nexus-kamuy/orchestrator/internal/models"
	"github.com/nexus-kamuy/orchestrator/internal/scheduler"
)

func entry(id string, score float64, execTime time.Time, resources map[string]float64) *scheduler.Entry {
	return &scheduler.Entry{
		ScheduleID:    "sched-" + id,
		Task:          models.NewTask(id, "task "+id, "analysis", "tester"),
		ExecutionTime: execTime,
		PriorityScore: score,
		Resources:     resources,
		Status:        scheduler.EntryScheduled,
	}
}

func TestFairShare(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	now := time.Now()
	entries := []*scheduler.Entry{
		entry("t1", 50, now, map[string]float64{"cpu": 10, "memory": 80}),
		entry("t2", 50, now, map[string]float64{"cpu": 60}),
	}
	pool := map[string]float64{"cpu": 100, "memory": 100}

	res, err := a.Allocate(entries, pool, FairShare)
	require.NoError(t, err)

	// Fair share per task is 50; requests below it pass through, above it clip.
	assert.Equal(t, 10.0, res.Allocations["t1"]["cpu"])
	assert.Equal(t, 50.0, res.Allocations["t1"]["memory"])
	assert.Equal(t, 50.0, res.Allocations["t2"]["cpu"])

	assert.InDelta(t, 60.0, res.Utilization["cpu"], 0.001)
	assert.InDelta(t, 50.0, res.Utilization["memory"], 0.001)
}

func TestPriorityBased(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	now := time.Now()
	entries := []*scheduler.Entry{
		entry("low", 25, now, map[string]float64{"cpu": 50}),
		entry("high", 90, now, map[string]float64{"cpu": 80}),
	}
	pool := map[string]float64{"cpu": 100}

	res, err := a.Allocate(entries, pool, PriorityBased)
	require.NoError(t, err)

	// High score is served first; the low task gets the remainder.
	assert.Equal(t, 80.0, res.Allocations["high"]["cpu"])
	assert.Equal(t, 20.0, res.Allocations["low"]["cpu"])
	assert.InDelta(t, 100.0, res.Utilization["cpu"], 0.001)
}

func TestPriorityBasedExhaustion(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	now := time.Now()
	entries := []*scheduler.Entry{
		entry("first", 90, now, map[string]float64{"cpu": 100}),
		entry("second", 80, now, map[string]float64{"cpu": 30}),
	}
	res, err := a.Allocate(entries, map[string]float64{"cpu": 100}, PriorityBased)
	require.NoError(t, err)

	// Starvation is silent: the second task receives zero, not an error.
	assert.Equal(t, 100.0, res.Allocations["first"]["cpu"])
	assert.Equal(t, 0.0, res.Allocations["second"]["cpu"])
}

func TestDeadlineAware(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	now := time.Now()
	entries := []*scheduler.Entry{
		entry("later", 99, now.Add(2*time.Hour), map[string]float64{"cpu": 70}),
		entry("sooner", 10, now, map[string]float64{"cpu": 70}),
	}
	res, err := a.Allocate(entries, map[string]float64{"cpu": 100}, DeadlineAware)
	require.NoError(t, err)

	// Earlier execution time wins regardless of score.
	assert.Equal(t, 70.0, res.Allocations["sooner"]["cpu"])
	assert.Equal(t, 30.0, res.Allocations["later"]["cpu"])
}

func TestUnknownStrategy(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	_, err := a.Allocate(nil, map[string]float64{"cpu": 100}, "wishful")
	assert.Error(t, err)
}

func TestUnpooledResourceIgnored(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	now := time.Now()
	entries := []*scheduler.Entry{
		entry("t1", 50, now, map[string]float64{"gpu": 4}),
	}
	res, err := a.Allocate(entries, map[string]float64{"cpu": 100}, FairShare)
	require.NoError(t, err)
	_, granted := res.Allocations["t1"]["gpu"]
	assert.False(t, granted)
}

// Conservation: allocations never exceed the pool, for any inputs.
func TestAllocationConservation(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	rng := rand.New(rand.NewSource(21))
	now := time.Now()

	for trial := 0; trial < 50; trial++ {
		var entries []*scheduler.Entry
		n := 1 + rng.Intn(10)
		for i := 0; i < n; i++ {
			entries = append(entries, entry(
				fmt.Sprintf("t%d", i),
				rng.Float64()*100,
				now.Add(time.Duration(rng.Intn(120))*time.Minute),
				map[string]float64{
					"cpu":    rng.Float64() * 80,
					"memory": rng.Float64() * 80,
				},
			))
		}
		pool := map[string]float64{
			"cpu":    20 + rng.Float64()*100,
			"memory": 20 + rng.Float64()*100,
		}

		for _, strategy := range []string{FairShare, PriorityBased, DeadlineAware} {
			res, err := a.Allocate(entries, pool, strategy)
			require.NoError(t, err)

			total := make(map[string]float64)
			for _, alloc := range res.Allocations {
				for resource, amount := range alloc {
					require.GreaterOrEqual(t, amount, 0.0)
					total[resource] += amount
				}
			}
			for resource, sum := range total {
				require.LessOrEqual(t, sum, pool[resource]+1e-9,
					"trial %d strategy %s overallocated %s", trial, strategy, resource)
			}
		}
	}
}
