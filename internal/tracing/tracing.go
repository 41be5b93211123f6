// Package tracing wires OTLP trace export for the orchestrator. Spans are
// emitted around workflow execution, task delegation, and session writes.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/config"
)

const defaultServiceName = "nexus-orchestrator"

var tracer oteltrace.Tracer = otel.Tracer(defaultServiceName)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Initialize configures the global tracer provider from config. When tracing
// is disabled it still installs a no-op tracer handle so the Start helpers
// never panic, and returns a no-op shutdown.
func Initialize(cfg config.TracingConfig, logger *zap.Logger) (ShutdownFunc, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	tracer = otel.Tracer(serviceName)

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	sampler := trace.AlwaysSample()
	if cfg.SamplingRate > 0 && cfg.SamplingRate < 1 {
		sampler = trace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(serviceName)

	logger.Info("Tracing initialized",
		zap.String("endpoint", endpoint),
		zap.Float64("sampling_rate", cfg.SamplingRate),
	)
	return tp.Shutdown, nil
}

// StartSpan creates a span under the global tracer.
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, name)
}

// StartWorkflowSpan creates a span for one workflow execution.
func StartWorkflowSpan(ctx context.Context, workflowID, workflowType string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "workflow.execute")
	span.SetAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.type", workflowType),
	)
	return ctx, span
}

// StartTaskSpan creates a span for one task delegation.
func StartTaskSpan(ctx context.Context, taskID, agentRole string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "task.delegate")
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("agent.role", agentRole),
	)
	return ctx, span
}
