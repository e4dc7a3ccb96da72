package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "convoy"

// StartMergeSpan starts a span for one signal merge against a run.
func StartMergeSpan(ctx context.Context, runID, source string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "merge",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("signal.source", source),
		),
	)
}

// StartLaunchSpan starts a span for an agent launch.
func StartLaunchSpan(ctx context.Context, runID, repoID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "launch",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("repo.id", repoID),
		),
	)
}

// StartOverrideSpan starts a span for a manual override action.
func StartOverrideSpan(ctx context.Context, runID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "override",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("override.action", action),
		),
	)
}
