package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	require.Len(t, profiles, 5)

	byRole := make(map[string]*CapabilityProfile)
	for _, p := range profiles {
		byRole[p.Role] = p
	}

	bh := byRole[RoleBugHunter]
	require.NotNil(t, bh)
	assert.True(t, bh.CanServe("vulnerability_scanning"))
	assert.False(t, bh.CanServe("code_generation"))
	assert.Equal(t, 5000.0, bh.Performance.AvgResponseMs)

	burp := byRole[RoleBurpsuiteOperator]
	require.NotNil(t, burp)
	assert.Equal(t, 0.8, burp.Availability.CurrentLoad)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	for _, p := range DefaultProfiles() {
		r.Register(NewSimAgent(p.Role), p)
	}

	a, ok := r.Get(RoleDaedelu5)
	require.True(t, ok)
	assert.Equal(t, RoleDaedelu5, a.Role())

	_, ok = r.Get("ghost")
	assert.False(t, ok)

	roles := r.Roles()
	assert.Equal(t, []string{
		RoleBugHunter, RoleBurpsuiteOperator, RoleDaedelu5, RoleNexusKamuy, RoleRTDev,
	}, roles)
}

func TestRegistryProfileIsCopy(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register(NewSimAgent(RoleRTDev), DefaultProfiles()[0])

	p, ok := r.Profile(RoleRTDev)
	require.True(t, ok)
	p.Availability.CurrentLoad = 0.99

	p2, _ := r.Profile(RoleRTDev)
	assert.NotEqual(t, 0.99, p2.Availability.CurrentLoad)
}

func TestRegistryUpdates(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register(NewSimAgent(RoleBugHunter), &CapabilityProfile{
		PrimaryFunctions: []string{"vulnerability_scanning"},
		Performance:      Performance{SuccessRate: 1.0, AvgResponseMs: 1000},
	})

	r.UpdateAvailability(RoleBugHunter, 0.5, 4)
	p, _ := r.Profile(RoleBugHunter)
	assert.Equal(t, 0.5, p.Availability.CurrentLoad)
	assert.Equal(t, 4, p.Availability.QueueLength)

	r.UpdateResources(RoleBugHunter, ResourceUsage{MemoryPercent: 85})
	p, _ = r.Profile(RoleBugHunter)
	assert.Equal(t, 85.0, p.Resources.MemoryPercent)

	r.RecordOutcome(RoleBugHunter, false, 2*time.Second)
	p, _ = r.Profile(RoleBugHunter)
	assert.Less(t, p.Performance.SuccessRate, 1.0)
	assert.InDelta(t, 1.0-p.Performance.SuccessRate, p.Performance.ErrorRate, 0.0001)
	assert.Greater(t, p.Performance.AvgResponseMs, 1000.0)

	// Unknown roles are ignored.
	r.UpdateAvailability("ghost", 1, 1)
	r.RecordOutcome("ghost", true, time.Second)
}

func TestSimAgentExecute(t *testing.T) {
	a := NewSimAgent(RoleBugHunter).
		FailOn("web_testing").
		RespondWith("vulnerability_scanning", map[string]interface{}{"findings": 3})

	res, err := a.Execute(context.Background(), Invocation{TaskType: "vulnerability_scanning"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Outputs["findings"])
	assert.NotEmpty(t, res.Artifacts)

	res, err = a.Execute(context.Background(), Invocation{TaskType: "web_testing"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestSimAgentCancellation(t *testing.T) {
	a := NewSimAgent(RoleRTDev).WithLatency(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Execute(ctx, Invocation{TaskType: "code_generation"})
	assert.ErrorIs(t, err, context.Canceled)
}
