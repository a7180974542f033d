package telemetry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"github.com/blazinghq/kiln/internal/adapters/telemetry"
)

func TestOTelTracer_WithRenderer(t *testing.T) {
	rend := &fakeRenderer{}
	tracer := telemetry.NewOTelTracer("test-tracer").WithRenderer(rend)

	tracer.EmitPlan(t.Context(), []string{"base", "builder"}, map[string][]string{"builder": {"base"}}, []string{"builder"})

	assert.Equal(t, 1, rend.count("plan"), "plan delivery is synchronous")

	_, span := tracer.Start(t.Context(), "base")
	_, err := span.Write([]byte("pulling rootfs"))
	require.NoError(t, err)

	// Batched output arrives via the async log channel
	time.Sleep(100 * time.Millisecond)

	assert.Positive(t, rend.count("log"))

	span.End()
}

func TestBridgeWithProvider(t *testing.T) {
	rend := &fakeRenderer{}
	bridge := telemetry.NewBridge(rend)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(bridge))
	tracer := tp.Tracer("test-bridge")

	_, span := tracer.Start(t.Context(), "base")

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rend.count("start"))

	span.End()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rend.count("complete"))
}

func TestOTelSpan_Attributes(t *testing.T) {
	tracer := telemetry.NewOTelTracer("test")
	_, span := tracer.Start(t.Context(), "builder")

	// Every supported type plus the fmt fallback must be accepted
	span.SetAttribute("stage", "builder")
	span.SetAttribute("steps", 4)
	span.SetAttribute("bytes", int64(123))
	span.SetAttribute("elapsed", 12.34)
	span.SetAttribute("cached", true)
	span.SetAttribute("targets", []string{"dev", "prod"})
	span.SetAttribute("other", complex(1, 1))

	span.End()
}

func TestTracer_NoRenderer(t *testing.T) {
	tracer := telemetry.NewOTelTracer("test")

	tracer.EmitPlan(t.Context(), []string{"base"}, map[string][]string{}, []string{})

	_, span := tracer.Start(t.Context(), "base")

	// Without a renderer, writes land as span events and report full length
	n, err := span.Write([]byte("log"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	span.End()
}

func TestBridge_NoRendererWithProvider(t *testing.T) {
	bridge := telemetry.NewBridge(nil)
	require.NotNil(t, bridge)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(bridge))
	tracer := tp.Tracer("test")

	_, span := tracer.Start(t.Context(), "base")
	span.End()
}

func TestOTelTracer_Shutdown(t *testing.T) {
	tracer := telemetry.NewOTelTracer("test")

	require.NoError(t, tracer.Shutdown(t.Context()))
}

func TestOTelSpan_RecordError(t *testing.T) {
	tracer := telemetry.NewOTelTracer("test")

	_, span := tracer.Start(t.Context(), "builder")
	span.RecordError(errors.New("resolver exited with status 1"))
	span.End()
}

func TestOTelTracer_LogBatching(t *testing.T) {
	rend := &fakeRenderer{}
	tracer := telemetry.NewOTelTracer("test").WithRenderer(rend)

	_, span := tracer.Start(t.Context(), "builder")

	for range 10 {
		_, _ = span.Write([]byte("installing packages\n"))
	}

	span.End()

	time.Sleep(100 * time.Millisecond)

	assert.Positive(t, rend.count("log"))
	assert.NotEmpty(t, rend.captured())
}
