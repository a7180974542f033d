package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"github.com/blazinghq/kiln/internal/core/ports"
)

// Bridge is an sdktrace.SpanProcessor feeding stage spans to a Renderer.
// Each span maps to one rendered stage row, keyed by span ID.
type Bridge struct {
	renderer ports.Renderer
}

// NewBridge returns a new Bridge.
func NewBridge(renderer ports.Renderer) *Bridge {
	return &Bridge{renderer: renderer}
}

// OnStart forwards span start to the renderer.
func (b *Bridge) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	if b.renderer == nil {
		return
	}

	sc := s.SpanContext()
	if !sc.IsValid() {
		return
	}

	b.renderer.OnStageStart(
		sc.SpanID().String(),
		parentSpanID(parent),
		s.Name(),
		s.StartTime(),
	)
}

// OnEnd forwards span completion to the renderer, converting an error
// status back into an error value.
func (b *Bridge) OnEnd(s sdktrace.ReadOnlySpan) {
	if b.renderer == nil {
		return
	}

	sc := s.SpanContext()
	if !sc.IsValid() {
		return
	}

	b.renderer.OnStageComplete(
		sc.SpanID().String(),
		s.EndTime(),
		statusError(s),
	)
}

// ForceFlush implements sdktrace.SpanProcessor. The bridge holds no state.
func (b *Bridge) ForceFlush(_ context.Context) error {
	return nil
}

// Shutdown implements sdktrace.SpanProcessor. The bridge holds no state.
func (b *Bridge) Shutdown(_ context.Context) error {
	return nil
}

// parentSpanID extracts the parent span ID from ctx, or "" for a root span.
func parentSpanID(ctx context.Context) string {
	if parent := trace.SpanFromContext(ctx); parent.SpanContext().IsValid() {
		return parent.SpanContext().SpanID().String()
	}
	return ""
}

// statusError converts an error span status into an error value.
func statusError(s sdktrace.ReadOnlySpan) error {
	if s.Status().Code != codes.Error {
		return nil
	}
	desc := s.Status().Description
	if desc == "" {
		desc = "stage failed"
	}
	return errors.New(desc)
}
