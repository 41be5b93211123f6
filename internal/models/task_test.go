package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	for _, s := range []string{"urgent", "high", "medium", "low"} {
		p, err := ParsePriority(s)
		require.NoError(t, err)
		assert.Equal(t, TaskPriority(s), p)
	}
	_, err := ParsePriority("catastrophic")
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestTaskLifecycle(t *testing.T) {
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	task := NewTask("t-1", "Port scan", "scan", "operator")
	assert.Equal(t, TaskPending, task.Status)

	task.Start("bug_hunter", now)
	assert.Equal(t, TaskRunning, task.Status)
	assert.Equal(t, "bug_hunter", task.AssignedAgent)

	task.Complete(map[string]interface{}{"open_ports": []int{80, 443}}, now.Add(12*time.Minute))
	assert.Equal(t, TaskCompleted, task.Status)
	assert.True(t, task.Status.Terminal())
	assert.Equal(t, 12, task.ActualDuration)
}

func TestFailRetryBound(t *testing.T) {
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	task := NewTask("t-1", "Exploit attempt", "exploit", "operator")
	require.Equal(t, 3, task.MaxRetries)

	// Each failure within the budget requeues as pending.
	for i := 1; i <= task.MaxRetries; i++ {
		task.Start("bug_hunter", now)
		requeued := task.Fail(map[string]interface{}{"attempt": i}, true, now)
		assert.True(t, requeued)
		assert.Equal(t, TaskPending, task.Status)
		assert.Equal(t, i, task.RetryCount)
	}

	// The failure past the budget is terminal, and the count stays bounded.
	task.Start("bug_hunter", now)
	requeued := task.Fail(map[string]interface{}{"attempt": 4}, true, now)
	assert.False(t, requeued)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, task.MaxRetries, task.RetryCount)

	// Repeating the terminal failure never increments further.
	requeued = task.Fail(map[string]interface{}{"attempt": 5}, true, now)
	assert.False(t, requeued)
	assert.Equal(t, task.MaxRetries, task.RetryCount)
}

func TestFailWithoutRetry(t *testing.T) {
	now := time.Now().UTC()
	task := NewTask("t-1", "Scan", "scan", "operator")
	task.Start("bug_hunter", now)

	requeued := task.Fail(map[string]interface{}{"reason": "target unreachable"}, false, now)
	assert.False(t, requeued)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Zero(t, task.RetryCount)
}

func TestCancelRecordsReason(t *testing.T) {
	now := time.Now().UTC()
	task := NewTask("t-1", "Scan", "scan", "operator")
	task.Cancel("superseded by new engagement scope", now)

	assert.Equal(t, TaskCancelled, task.Status)
	assert.Equal(t, "superseded by new engagement scope", task.Metadata["cancellation_reason"])
}
