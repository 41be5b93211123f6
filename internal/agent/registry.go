package agent

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry maps agent roles to implementations and capability profiles.
// Profiles are mutable snapshots refreshed by availability updates.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]Agent
	profiles map[string]*CapabilityProfile
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:   make(map[string]Agent),
		profiles: make(map[string]*CapabilityProfile),
		logger:   logger,
	}
}

// Register binds an agent implementation and its profile. The profile's
// role field is forced to match the agent's role.
func (r *Registry) Register(a Agent, profile *CapabilityProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := a.Role()
	profile.Role = role
	r.agents[role] = a
	r.profiles[role] = profile
	r.logger.Info("Agent registered",
		zap.String("role", role),
		zap.Strings("primary_functions", profile.PrimaryFunctions),
	)
}

// Get returns the agent implementation for a role.
func (r *Registry) Get(role string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[role]
	return a, ok
}

// Profile returns a copy of the capability profile for a role.
func (r *Registry) Profile(role string) (*CapabilityProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[role]
	if !ok {
		return nil, false
	}
	copied := *p
	return &copied, true
}

// Roles returns all registered roles in sorted order, keeping iteration
// deterministic for selection ties.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// UpdateAvailability refreshes the load snapshot for a role.
func (r *Registry) UpdateAvailability(role string, load float64, queueLength int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[role]
	if !ok {
		return
	}
	p.Availability.CurrentLoad = load
	p.Availability.QueueLength = queueLength
	p.Availability.LastChecked = time.Now().UTC()
}

// UpdateResources refreshes the resource usage snapshot for a role.
func (r *Registry) UpdateResources(role string, usage ResourceUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.profiles[role]; ok {
		p.Resources = usage
	}
}

// RecordOutcome folds a single execution outcome into the role's rolling
// performance snapshot using an exponential moving average.
func (r *Registry) RecordOutcome(role string, success bool, elapsed time.Duration) {
	const alpha = 0.2

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[role]
	if !ok {
		return
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.Performance.SuccessRate = (1-alpha)*p.Performance.SuccessRate + alpha*outcome
	p.Performance.ErrorRate = 1 - p.Performance.SuccessRate
	p.Performance.AvgResponseMs = (1-alpha)*p.Performance.AvgResponseMs + alpha*float64(elapsed.Milliseconds())
}
