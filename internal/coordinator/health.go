package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
)

// Health classification thresholds.
const (
	memoryDegradedPercent = 80.0
	slowResponseMs        = 5000.0
	highErrorRate         = 0.05
)

// AgentHealth is the health classification for one agent.
type AgentHealth struct {
	Role        string              `json:"agent_role"`
	Status      string              `json:"status"` // healthy or degraded
	Severity    string              `json:"severity,omitempty"`
	Issues      []string            `json:"issues,omitempty"`
	Resources   agent.ResourceUsage `json:"resource_usage"`
	Performance agent.Performance   `json:"performance_metrics"`
}

// Alert flags a performance concern discovered during monitoring.
type Alert struct {
	Agent    string `json:"agent"`
	Type     string `json:"alert_type"`
	Severity string `json:"severity"`
	Details  string `json:"details"`
}

// HealthReport aggregates per-agent health into an overall system state.
type HealthReport struct {
	MonitoringID    string                 `json:"monitoring_id"`
	MonitoredAt     time.Time              `json:"monitored_at"`
	AgentsMonitored int                    `json:"agents_monitored"`
	Health          map[string]AgentHealth `json:"health_status"`
	Alerts          []Alert                `json:"performance_alerts"`
	Overall         string                 `json:"overall_system_health"` // healthy, degraded, critical
}

// MonitorHealth classifies each requested agent and aggregates overall
// system health: healthy with zero unhealthy agents, degraded while fewer
// than half are unhealthy, critical otherwise. Unknown roles are skipped.
func (c *Coordinator) MonitorHealth(roles []string) *HealthReport {
	report := &HealthReport{
		MonitoringID: uuid.New().String(),
		MonitoredAt:  c.now().UTC(),
		Health:       make(map[string]AgentHealth, len(roles)),
	}

	unhealthy := 0
	for _, role := range roles {
		p, ok := c.agents.Profile(role)
		if !ok {
			c.logger.Warn("Skipping unknown agent role in health check", zap.String("role", role))
			continue
		}
		report.AgentsMonitored++

		h := AgentHealth{
			Role:        role,
			Status:      "healthy",
			Resources:   p.Resources,
			Performance: p.Performance,
		}
		if p.Resources.MemoryPercent > memoryDegradedPercent {
			h.Status = "degraded"
			h.Severity = "medium"
			h.Issues = append(h.Issues, "High memory usage detected")
		}
		report.Health[role] = h

		if h.Status != "healthy" {
			unhealthy++
			report.Alerts = append(report.Alerts, Alert{
				Agent:    role,
				Type:     "health_degraded",
				Severity: h.Severity,
				Details:  fmt.Sprintf("memory at %.1f%%", p.Resources.MemoryPercent),
			})
		}
		if p.Performance.AvgResponseMs > slowResponseMs {
			report.Alerts = append(report.Alerts, Alert{
				Agent:    role,
				Type:     "slow_response",
				Severity: "medium",
				Details:  fmt.Sprintf("Response time: %.0fms", p.Performance.AvgResponseMs),
			})
		}
		if p.Performance.ErrorRate > highErrorRate {
			report.Alerts = append(report.Alerts, Alert{
				Agent:    role,
				Type:     "high_error_rate",
				Severity: "high",
				Details:  fmt.Sprintf("Error rate: %.1f%%", p.Performance.ErrorRate*100),
			})
		}
	}

	switch {
	case unhealthy == 0:
		report.Overall = "healthy"
	case float64(unhealthy) < float64(report.AgentsMonitored)/2:
		report.Overall = "degraded"
	default:
		report.Overall = "critical"
	}
	return report
}
