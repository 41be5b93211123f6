package agent

import "time"

// Known agent roles.
const (
	RoleRTDev             = "rt_dev"
	RoleBugHunter         = "bug_hunter"
	RoleBurpsuiteOperator = "burpsuite_operator"
	RoleDaedelu5          = "daedelu5"
	RoleNexusKamuy        = "nexus_kamuy"
)

// Availability is a point-in-time load snapshot for an agent.
type Availability struct {
	Status      string    `json:"status"`
	CurrentLoad float64   `json:"current_load"` // 0..1
	MaxCapacity int       `json:"max_capacity"`
	QueueLength int       `json:"queue_length"`
	LastChecked time.Time `json:"last_checked"`
}

// Performance is a rolling performance snapshot for an agent.
type Performance struct {
	AvgResponseMs float64 `json:"average_response_time_ms"`
	SuccessRate   float64 `json:"success_rate"` // 0..1
	ErrorRate     float64 `json:"error_rate"`   // 0..1
	Throughput    int     `json:"throughput"`   // tasks per hour
}

// ResourceUsage is a simulated or reported host resource snapshot used
// for health classification.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// CapabilityProfile describes what an agent role can do and how it is
// currently performing.
type CapabilityProfile struct {
	Role                 string        `json:"role"`
	PrimaryFunctions     []string      `json:"primary_functions"`
	Specializations      []string      `json:"specializations"`
	SupportedTools       []string      `json:"supported_tools,omitempty"`
	IntegrationPlatforms []string      `json:"integration_platforms,omitempty"`
	Availability         Availability  `json:"availability"`
	Performance          Performance   `json:"performance"`
	Resources            ResourceUsage `json:"resources"`
}

// CanServe reports whether the profile's primary functions include the
// task type exactly.
func (p *CapabilityProfile) CanServe(taskType string) bool {
	for _, fn := range p.PrimaryFunctions {
		if fn == taskType {
			return true
		}
	}
	return false
}

// DefaultProfiles returns the built-in capability catalog for the five
// known agent roles.
func DefaultProfiles() []*CapabilityProfile {
	base := Availability{Status: "available", CurrentLoad: 0.3, MaxCapacity: 5, QueueLength: 2}
	perf := Performance{AvgResponseMs: 1500, SuccessRate: 0.95, ErrorRate: 0.05, Throughput: 15}

	rtDev := perf
	rtDev.AvgResponseMs = 2000
	rtDev.Throughput = 8

	bugHunter := perf
	bugHunter.AvgResponseMs = 5000
	bugHunter.Throughput = 5

	burp := base
	burp.CurrentLoad = 0.8
	burp.QueueLength = 5

	return []*CapabilityProfile{
		{
			Role:                 RoleRTDev,
			PrimaryFunctions:     []string{"code_generation", "infrastructure_orchestration", "ci_pipeline_management"},
			Specializations:      []string{"devops", "automation", "infrastructure_as_code"},
			SupportedTools:       []string{"python", "rust", "go", "terraform", "docker"},
			IntegrationPlatforms: []string{"mcp_nexus", "rtpi_pen"},
			Availability:         base,
			Performance:          rtDev,
		},
		{
			Role:                 RoleBugHunter,
			PrimaryFunctions:     []string{"vulnerability_scanning", "web_testing", "security_analysis", "report_generation"},
			Specializations:      []string{"web_security", "network_security", "penetration_testing"},
			SupportedTools:       []string{"nmap", "nikto", "sqlmap", "custom_scanners"},
			IntegrationPlatforms: []string{"attack_node", "rtpi_pen"},
			Availability:         base,
			Performance:          bugHunter,
		},
		{
			Role:                 RoleBurpsuiteOperator,
			PrimaryFunctions:     []string{"web_scanning", "api_testing", "vulnerability_assessment"},
			Specializations:      []string{"web_application_security", "api_security", "manual_testing"},
			SupportedTools:       []string{"burpsuite_professional", "burpsuite_enterprise"},
			IntegrationPlatforms: []string{"attack_node"},
			Availability:         burp,
			Performance:          perf,
		},
		{
			Role:                 RoleDaedelu5,
			PrimaryFunctions:     []string{"infrastructure_management", "compliance_auditing", "policy_enforcement", "self_healing"},
			Specializations:      []string{"infrastructure_as_code", "compliance", "automation", "security_hardening"},
			SupportedTools:       []string{"terraform", "ansible", "docker", "kubernetes"},
			IntegrationPlatforms: []string{"rtpi_pen", "mcp_nexus"},
			Availability:         base,
			Performance:          perf,
		},
		{
			Role:                 RoleNexusKamuy,
			PrimaryFunctions:     []string{"workflow_orchestration", "agent_coordination", "task_scheduling", "collaboration"},
			Specializations:      []string{"orchestration", "coordination", "management", "reporting"},
			SupportedTools:       []string{"workflow_engine", "task_scheduler", "communication_bus"},
			IntegrationPlatforms: []string{"mcp_nexus", "rtpi_pen", "attack_node"},
			Availability:         base,
			Performance:          perf,
		},
	}
}
