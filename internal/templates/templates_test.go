package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
)

func TestBuiltinCatalogue(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"security_assessment", "penetration_test", "infrastructure_deployment"} {
		entry, ok := r.Find(name, "")
		require.True(t, ok, "builtin %s missing", name)
		assert.Equal(t, "builtin", entry.SourcePath)
		assert.NoError(t, ValidateTemplate(entry.Template))
	}

	entry, _ := r.Find("security_assessment", "")
	require.Len(t, entry.Template.Steps, 4)
	assert.Equal(t, agent.RoleBugHunter, entry.Template.Steps[0].Agent)
	assert.Equal(t, agent.RoleNexusKamuy, entry.Template.Steps[3].Agent)

	entry, _ = r.Find("penetration_test", "")
	assert.Len(t, entry.Template.Steps, 6)
}

func TestExpandLinearPipeline(t *testing.T) {
	r := NewRegistry()
	entry, ok := r.Find("security_assessment", "")
	require.True(t, ok)

	steps := entry.Template.Expand("10.0.0.5", []string{"find injection points"})
	require.Len(t, steps, 4)

	assert.Equal(t, "step-1-reconnaissance", steps[0].StepID)
	assert.Equal(t, "step-2-vulnerability_analysis", steps[1].StepID)
	assert.Empty(t, steps[0].Dependencies)
	for i := 1; i < len(steps); i++ {
		assert.Equal(t, []string{steps[i-1].StepID}, steps[i].Dependencies)
	}

	for i, s := range steps {
		assert.Equal(t, "10.0.0.5", s.Parameters["target"])
		assert.Equal(t, i, s.Parameters["step_index"])
		assert.Equal(t, DefaultStepTimeoutMinutes, s.TimeoutMinutes)
		assert.True(t, s.RetryOnFailure)
		assert.False(t, s.Critical)
	}
}

func TestExpandStepOverrides(t *testing.T) {
	no := false
	tpl := &Template{
		Name: "custom",
		Steps: []StepTemplate{
			{Name: "deep scan", Agent: agent.RoleBugHunter, Type: "scan", TimeoutMinutes: 15, Critical: true, RetryOnFailure: &no},
		},
	}

	steps := tpl.Expand("app.local", nil)
	require.Len(t, steps, 1)
	assert.Equal(t, "step-1-deep-scan", steps[0].StepID)
	assert.Equal(t, 15, steps[0].TimeoutMinutes)
	assert.True(t, steps[0].Critical)
	assert.False(t, steps[0].RetryOnFailure)
}

func TestGenericSteps(t *testing.T) {
	steps := GenericSteps("host", []string{"triage"})
	require.Len(t, steps, 1)
	assert.Equal(t, "generic-step-1", steps[0].StepID)
	assert.Equal(t, "Initial Analysis", steps[0].StepName)
	assert.Equal(t, agent.RoleBugHunter, steps[0].AgentRole)
	assert.Equal(t, "analysis", steps[0].StepType)
}

func TestLoadDirectoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := `
name: api_hardening
description: custom pipeline
version: "1"
steps:
  - name: endpoint_discovery
    agent: burpsuite_operator
    type: scan
    timeout_minutes: 20
  - name: auth_review
    agent: bug_hunter
    type: analysis
    critical: true
    required_inputs:
      - endpoints
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api_hardening.yaml"), []byte(doc), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadDirectory(dir))

	entry, ok := r.Find("api_hardening", "1")
	require.True(t, ok)
	assert.NotEmpty(t, entry.ContentHash)
	require.Len(t, entry.Template.Steps, 2)
	assert.True(t, entry.Template.Steps[1].Critical)
	assert.Equal(t, []string{"endpoints"}, entry.Template.Steps[1].RequiredInputs)

	steps := entry.Template.Expand("api.local", nil)
	assert.Equal(t, 20, steps[0].TimeoutMinutes)
	assert.Equal(t, []string{"endpoints"}, steps[1].RequiredInputs)
}

func TestLoadDirectoryRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	doc := `
name: broken
steps:
  - name: scan
    agent: ghost_role
    type: scan
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(doc), 0o644))

	r := NewRegistry()
	err := r.LoadDirectory(dir)
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
	assert.Contains(t, err.Error(), "ghost_role")

	_, ok := r.Find("broken", "")
	assert.False(t, ok)
}

func TestLoadDirectoryStrictDecoding(t *testing.T) {
	dir := t.TempDir()
	doc := `
name: strict
steps:
  - name: scan
    agent: bug_hunter
    type: scan
    not_a_field: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strict.yaml"), []byte(doc), 0o644))

	r := NewRegistry()
	err := r.LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_a_field")
}

func TestValidateTemplate(t *testing.T) {
	err := ValidateTemplate(&Template{})
	require.Error(t, err)
	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	codes := make([]string, 0, len(vErr.Issues))
	for _, issue := range vErr.Issues {
		codes = append(codes, issue.Code)
	}
	assert.Contains(t, codes, "template_name_missing")
	assert.Contains(t, codes, "template_steps_empty")

	err = ValidateTemplate(&Template{
		Name: "dup",
		Steps: []StepTemplate{
			{Name: "scan", Agent: agent.RoleBugHunter, Type: "scan"},
			{Name: "scan", Agent: agent.RoleBugHunter, Type: "scan"},
		},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "duplicate step name"))
}

func TestDiskTemplateOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	doc := `
name: security_assessment
steps:
  - name: quick_scan
    agent: bug_hunter
    type: scan
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.yaml"), []byte(doc), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadDirectory(dir))

	entry, ok := r.Find("security_assessment", "")
	require.True(t, ok)
	assert.NotEqual(t, "builtin", entry.SourcePath)
	assert.Len(t, entry.Template.Steps, 1)
}
