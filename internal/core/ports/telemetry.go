package ports

import (
	"context"
	"io"
)

// Tracer is the entry point for creating spans around stage execution.
//
//go:generate mockgen -source=telemetry.go -destination=mocks/mock_telemetry.go -package=mocks
type Tracer interface {
	// Start creates a new span.
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	// EmitPlan signals that a set of stages is planned for execution.
	EmitPlan(ctx context.Context, stageNames []string, deps map[string][]string, targets []string)
	// Shutdown flushes and stops the tracer.
	Shutdown(ctx context.Context) error
}

// Span represents one stage execution.
type Span interface {
	io.Writer
	// End completes the span.
	End()
	// RecordError records an error for the span.
	RecordError(err error)
	// SetAttribute adds a key-value pair to the span.
	SetAttribute(key string, value any)
}

// SpanConfig holds configuration for a starting span.
type SpanConfig struct{}

// SpanOption is a functional option for configuring a span.
type SpanOption func(*SpanConfig)
