package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
	"github.com/nexus-kamuy/orchestrator/internal/config"
	"github.com/nexus-kamuy/orchestrator/internal/events"
	"github.com/nexus-kamuy/orchestrator/internal/models"
	"github.com/nexus-kamuy/orchestrator/internal/templates"
)

func checkByName(t *testing.T, h *Handoff, name string) HandoffCheck {
	t.Helper()
	for _, c := range h.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found", name)
	return HandoffCheck{}
}

func TestCoordinateHandoffAccepted(t *testing.T) {
	f := newFixture(t)

	w, err := f.orch.Create("assessment", "security_assessment", "operator", "host", nil, nil)
	require.NoError(t, err)
	_, err = f.orch.Execute(context.Background(), w.ID)
	require.NoError(t, err)

	h, err := f.orch.CoordinateHandoff(w.ID, "step-1-reconnaissance", "step-2-vulnerability_analysis")
	require.NoError(t, err)
	assert.True(t, h.Accepted)
	assert.Equal(t, "bug_hunter", h.FromAgent)
	assert.Equal(t, "bug_hunter", h.ToAgent)
	for _, c := range h.Checks {
		assert.True(t, c.Passed, c.Name)
	}
	require.NotNil(t, h.Context)
	assert.Equal(t, "step-1-reconnaissance", h.Context["from_step"])
	assert.NotEmpty(t, h.Context["artifacts"])
}

func TestCoordinateHandoffRejectsFailedStep(t *testing.T) {
	f := newFixture(t)
	f.sims["bug_hunter"].FailOn("scan")

	w, err := f.orch.Create("assessment", "security_assessment", "operator", "host", nil, nil)
	require.NoError(t, err)
	_, err = f.orch.Execute(context.Background(), w.ID)
	require.NoError(t, err)

	h, err := f.orch.CoordinateHandoff(w.ID, "step-1-reconnaissance", "step-2-vulnerability_analysis")
	require.NoError(t, err)
	assert.False(t, h.Accepted)
	assert.False(t, checkByName(t, h, "step_successful").Passed)
	assert.Nil(t, h.Context)

	// The rejection left the workflow untouched.
	final, _ := f.orch.Get(w.ID)
	assert.Equal(t, models.WorkflowCompleted, final.Status)
}

func TestCoordinateHandoffRequiredInputs(t *testing.T) {
	dir := t.TempDir()
	doc := `
name: input_chain
steps:
  - name: discovery
    agent: burpsuite_operator
    type: scan
  - name: review
    agent: bug_hunter
    type: analysis
    required_inputs:
      - endpoints
      - auth_tokens
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chain.yaml"), []byte(doc), 0o644))
	catalogue := templates.NewRegistry()
	require.NoError(t, catalogue.LoadDirectory(dir))

	f := newFixture(t)
	orch := New(f.agents, catalogue, f.bus, config.WorkflowConfig{}, false, zaptest.NewLogger(t))

	run := func() *models.Workflow {
		w, err := orch.Create("chain", "input_chain", "operator", "api.local", nil, nil)
		require.NoError(t, err)
		_, err = orch.Execute(context.Background(), w.ID)
		require.NoError(t, err)
		return w
	}

	// Default canned outputs lack the declared inputs.
	w := run()
	h, err := orch.CoordinateHandoff(w.ID, "step-1-discovery", "step-2-review")
	require.NoError(t, err)
	assert.False(t, h.Accepted)
	check := checkByName(t, h, "required_inputs_present")
	assert.False(t, check.Passed)
	assert.Contains(t, check.Detail, "endpoints")
	assert.Contains(t, check.Detail, "auth_tokens")

	// With the producing agent emitting both outputs the handoff passes.
	f.sims["burpsuite_operator"].RespondWith("scan", map[string]interface{}{
		"endpoints":   []string{"/login", "/admin"},
		"auth_tokens": 2,
	})
	w = run()
	h, err = orch.CoordinateHandoff(w.ID, "step-1-discovery", "step-2-review")
	require.NoError(t, err)
	assert.True(t, h.Accepted)
}

func TestCoordinateHandoffTargetAgentUnavailable(t *testing.T) {
	f := newFixture(t)

	// Re-register the reporting agent with a busy availability status.
	for _, profile := range agent.DefaultProfiles() {
		if profile.Role == "nexus_kamuy" {
			profile.Availability.Status = "busy"
			f.agents.Register(f.sims["nexus_kamuy"], profile)
		}
	}

	w, err := f.orch.Create("assessment", "security_assessment", "operator", "host", nil, nil)
	require.NoError(t, err)
	_, err = f.orch.Execute(context.Background(), w.ID)
	require.NoError(t, err)

	h, err := f.orch.CoordinateHandoff(w.ID, "step-3-infrastructure_review", "step-4-report_generation")
	require.NoError(t, err)
	assert.False(t, h.Accepted)
	check := checkByName(t, h, "target_agent_available")
	assert.False(t, check.Passed)
	assert.Contains(t, check.Detail, "busy")
}

func TestCoordinateHandoffUnknownStep(t *testing.T) {
	f := newFixture(t)
	w, err := f.orch.Create("assessment", "security_assessment", "operator", "host", nil, nil)
	require.NoError(t, err)

	_, err = f.orch.CoordinateHandoff(w.ID, "step-1-reconnaissance", "step-9-ghost")
	assert.Error(t, err)
	_, err = f.orch.CoordinateHandoff("missing", "a", "b")
	assert.ErrorIs(t, err, models.ErrWorkflowNotFound)
}

func TestCoordinateHandoffEmitsEvent(t *testing.T) {
	f := newFixture(t)

	w, err := f.orch.Create("assessment", "security_assessment", "operator", "host", nil, nil)
	require.NoError(t, err)
	_, err = f.orch.Execute(context.Background(), w.ID)
	require.NoError(t, err)

	_, err = f.orch.CoordinateHandoff(w.ID, "step-1-reconnaissance", "step-2-vulnerability_analysis")
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for {
		evts := f.bus.ReplaySince(w.ID, 0)
		found := false
		for _, e := range evts {
			if e.Type == events.TypeHandoff {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handoff event not published")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
