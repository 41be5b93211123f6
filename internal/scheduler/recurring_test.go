package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nexus-kamuy/orchestrator/internal/models"
	"github.com/nexus-kamuy/orchestrator/internal/registry"
)

func TestParseRecurrence(t *testing.T) {
	cases := []struct {
		pattern  string
		interval time.Duration
	}{
		{"@hourly", time.Hour},
		{"@daily", 24 * time.Hour},
		{"@weekly", 7 * 24 * time.Hour},
		{"@monthly", 30 * 24 * time.Hour},
		{"every 15 minutes", 15 * time.Minute},
		{"every 1 minute", time.Minute},
		{"every 6 hours", 6 * time.Hour},
		{"every 2 days", 48 * time.Hour},
		{"EVERY 30 MINUTES", 30 * time.Minute},
		// Unrecognized patterns fall back to hourly.
		{"whenever", time.Hour},
		{"every -3 hours", time.Hour},
		{"every five minutes", time.Hour},
		{"", time.Hour},
	}
	for _, tc := range cases {
		rec := ParseRecurrence(tc.pattern)
		assert.Equal(t, tc.interval, rec.Interval, "pattern %q", tc.pattern)
	}
}

func TestRecurrenceOccurrences(t *testing.T) {
	rec := ParseRecurrence("every 10 minutes")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	occ := rec.Occurrences(start, 3)
	require.Len(t, occ, 3)
	assert.Equal(t, start.Add(10*time.Minute), occ[0])
	assert.Equal(t, start.Add(20*time.Minute), occ[1])
	assert.Equal(t, start.Add(30*time.Minute), occ[2])
}

func TestRecurringRegisterAndMaterialize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewTaskRegistry(zaptest.NewLogger(t))
	s := New(reg, testConfig(), zaptest.NewLogger(t), WithClock(func() time.Time { return now }))
	rs := NewRecurringScheduler(s, zaptest.NewLogger(t))

	rt, err := rs.Register("nightly scan", "vulnerability_scan", "ops", "every 1 hours", models.PriorityHigh, nil)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), rt.NextRun)

	// Nothing due yet.
	assert.Empty(t, rs.MaterializeDue(now))

	// Two intervals elapsed: two occurrences materialize.
	scheduled := rs.MaterializeDue(now.Add(2 * time.Hour))
	require.Len(t, scheduled, 2)
	assert.NotEqual(t, scheduled[0].TaskID, scheduled[1].TaskID)
	assert.Equal(t, now.Add(3*time.Hour), rt.NextRun)

	for _, sc := range scheduled {
		tk, ok := reg.Get(sc.TaskID)
		require.True(t, ok)
		assert.Equal(t, models.PriorityHigh, tk.Priority)
		assert.Equal(t, rt.ID, tk.Metadata["recurring_id"])
	}
}

func TestRecurringValidation(t *testing.T) {
	now := time.Now()
	reg := registry.NewTaskRegistry(zaptest.NewLogger(t))
	s := New(reg, testConfig(), zaptest.NewLogger(t), WithClock(func() time.Time { return now }))
	rs := NewRecurringScheduler(s, zaptest.NewLogger(t))

	_, err := rs.Register("", "scan", "ops", "@daily", "", nil)
	assert.Error(t, err)

	_, err = rs.Register("scan", "scan", "ops", "@daily", "colossal", nil)
	assert.ErrorIs(t, err, models.ErrInvalidPriority)

	rt, err := rs.Register("scan", "scan", "ops", "@daily", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, rt.Priority)

	assert.True(t, rs.Remove(rt.ID))
	assert.False(t, rs.Remove(rt.ID))
}
