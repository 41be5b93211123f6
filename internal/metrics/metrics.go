package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics
	TasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_tasks_scheduled_total",
			Help: "Total number of tasks accepted by the scheduler",
		},
		[]string{"priority"},
	)

	PriorityUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_priority_updates_total",
			Help: "Total number of task priority updates",
		},
		[]string{"status"},
	)

	QueueReorders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_queue_reorders_total",
			Help: "Total number of full priority queue rebuilds",
		},
	)

	ScheduledTasksGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexus_scheduled_tasks",
			Help: "Number of entries currently in the priority queue",
		},
	)

	// Task queue metrics
	QueueAdmissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_queue_admission_rejections_total",
			Help: "Start calls rejected by capacity or missing pending entry",
		},
		[]string{"agent_role"},
	)

	QueueUnknownTask = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_queue_unknown_task_total",
			Help: "Queue operations that referenced an untracked task id",
		},
		[]string{"agent_role", "operation"},
	)

	QueueRunningTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_queue_running_tasks",
			Help: "Number of running tasks per agent queue",
		},
		[]string{"agent_role"},
	)

	// Coordinator metrics
	TaskDelegations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_task_delegations_total",
			Help: "Total number of task delegations",
		},
		[]string{"agent_role", "status"},
	)

	AgentSelectionScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_agent_selection_score",
			Help:    "Selection score of the chosen agent",
			Buckets: []float64{10, 25, 50, 75, 100, 150},
		},
		[]string{"agent_role"},
	)

	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_workflows_started_total",
			Help: "Total number of workflow pipelines started",
		},
		[]string{"workflow_type"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_workflows_completed_total",
			Help: "Total number of workflows reaching a terminal state",
		},
		[]string{"workflow_type", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_workflow_duration_seconds",
			Help:    "Workflow pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_type"},
	)

	StepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_workflow_steps_total",
			Help: "Total number of executed workflow steps",
		},
		[]string{"agent_role", "status"},
	)

	HandoffValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_handoff_validation_failures_total",
			Help: "Handoff validation checks that did not pass",
		},
		[]string{"check"},
	)

	// Template metrics
	TemplatesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_templates_loaded_total",
			Help: "Workflow templates loaded into the registry",
		},
		[]string{"template"},
	)

	TemplateValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_template_validation_errors_total",
			Help: "Template validation failures grouped by issue code",
		},
		[]string{"code"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_sessions_created_total",
			Help: "Total number of collaboration sessions created",
		},
	)

	SessionMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_session_messages_total",
			Help: "Messages appended to session communication logs",
		},
		[]string{"type"},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_session_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_session_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexus_session_cache_size",
			Help: "Current number of sessions in the local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_session_cache_evictions_total",
			Help: "Total number of sessions evicted from the local cache",
		},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_circuit_breaker_trips_total",
			Help: "Transitions of a circuit breaker into the open state",
		},
		[]string{"name"},
	)

	// History writer metrics
	HistoryWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexus_history_write_queue_depth",
			Help: "Pending records in the async history write queue",
		},
	)

	HistoryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_history_write_errors_total",
			Help: "Failed history persistence attempts",
		},
	)
)

// RecordWorkflowMetrics records terminal-state metrics for a workflow.
func RecordWorkflowMetrics(workflowType, status string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(workflowType, status).Inc()
	if durationSeconds > 0 {
		WorkflowDuration.WithLabelValues(workflowType).Observe(durationSeconds)
	}
}

// RecordDelegation records the outcome of a delegation attempt.
func RecordDelegation(agentRole, status string) {
	TaskDelegations.WithLabelValues(agentRole, status).Inc()
}
