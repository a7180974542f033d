package ports

import (
	"context"
	"time"
)

// Renderer is the abstraction for build output rendering.
//
//go:generate mockgen -source=renderer.go -destination=mocks/mock_renderer.go -package=mocks
// It decouples telemetry collection from presentation, so the same event
// stream can drive interactive output or linear CI logs.
type Renderer interface {
	// Start initializes the renderer and begins its lifecycle.
	Start(ctx context.Context) error

	// Stop signals the renderer to stop accepting new events and flush any
	// buffered output.
	Stop() error

	// Wait blocks until the renderer has fully terminated.
	Wait() error

	// OnPlanEmit is called when the scheduler has planned the stage DAG.
	OnPlanEmit(stages []string, deps map[string][]string, targets []string)

	// OnStageStart is called when a stage begins building.
	OnStageStart(spanID, parentID, name string, startTime time.Time)

	// OnStageLog is called when a stage emits output.
	// data may contain partial lines or ANSI sequences.
	OnStageLog(spanID string, data []byte)

	// OnStageComplete is called when a stage finishes.
	// err is nil if the stage succeeded.
	OnStageComplete(spanID string, endTime time.Time, err error)
}
