// Package app implements the application layer for kiln.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/blazinghq/kiln/internal/adapters/linear"
	"github.com/blazinghq/kiln/internal/adapters/telemetry"
	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"github.com/blazinghq/kiln/internal/engine/launcher"
	"github.com/blazinghq/kiln/internal/engine/scheduler"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// App represents the main application logic.
type App struct {
	configLoader ports.ConfigLoader
	executor     ports.Executor
	logger       ports.Logger
	store        ports.SnapshotStore
	hasher       ports.Hasher
	copier       ports.TreeCopier
	installer    ports.Installer
	watcher      ports.Watcher

	stdout io.Writer
	stderr io.Writer
}

// New creates a new App instance.
func New(
	loader ports.ConfigLoader,
	executor ports.Executor,
	log ports.Logger,
	store ports.SnapshotStore,
	hasher ports.Hasher,
	copier ports.TreeCopier,
	installer ports.Installer,
	watcher ports.Watcher,
) *App {
	return &App{
		configLoader: loader,
		executor:     executor,
		logger:       log,
		store:        store,
		hasher:       hasher,
		copier:       copier,
		installer:    installer,
		watcher:      watcher,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}
}

// WithOutput redirects the renderer's streams.
// This is primarily used for testing.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	return a
}

// BuildOptions configuration for the Build method.
type BuildOptions struct {
	NoCache     bool
	Parallelism int
}

// Build executes the pipeline for the specified target stages.
func (a *App) Build(ctx context.Context, targetNames []string, opts BuildOptions) error {
	pipeline, err := a.configLoader.Load(".")
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}

	if len(targetNames) == 0 {
		return domain.ErrNoStagesSpecified
	}

	return a.build(ctx, pipeline, targetNames, opts)
}

// build runs the scheduler against an already loaded pipeline, streaming
// progress through the renderer.
func (a *App) build(ctx context.Context, pipeline *domain.Pipeline, targetNames []string, opts BuildOptions) error {
	renderer := linear.NewRenderer(a.stdout, a.stderr)

	// Bridge OTel spans to the renderer and register the provider globally
	// so the tracer adapter picks it up.
	bridge := telemetry.NewBridge(renderer)
	setupOTel(bridge)

	tracer := telemetry.NewOTelTracer("kiln").WithRenderer(renderer)
	defer func() {
		_ = tracer.Shutdown(ctx)
	}()

	sched := scheduler.NewScheduler(
		a.executor,
		a.store,
		a.hasher,
		a.copier,
		a.installer,
		tracer,
		a.logger,
	)

	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		return renderer.Wait()
	})

	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(a.stderr, "Scheduler panic: %v\n", r)
			}
			_ = renderer.Stop()
		}()

		if err := sched.Run(ctx, pipeline, targetNames, parallelism, opts.NoCache); err != nil {
			return errors.Join(domain.ErrBuildExecutionFailed, err)
		}
		return nil
	})

	return g.Wait()
}

// DevOptions configuration for the Dev method.
type DevOptions struct {
	NoCache     bool
	Parallelism int
}

// Dev builds the development stage and serves it under the reload
// supervisor until ctx is canceled.
func (a *App) Dev(ctx context.Context, opts DevOptions) error {
	pipeline, err := a.configLoader.Load(".")
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}

	if err := a.build(ctx, pipeline, []string{domain.StageDev}, BuildOptions(opts)); err != nil {
		return err
	}

	snap, err := a.store.Latest(domain.StageDev)
	if err != nil {
		return err
	}

	supervisor := launcher.NewSupervisor(a.watcher, a.copier, a.logger)
	return supervisor.Run(ctx, pipeline, snap)
}

// ServeOptions configuration for the Serve method.
type ServeOptions struct {
	Workers     int
	NoCache     bool
	Parallelism int
}

// Serve builds the production stage and runs its worker pool until ctx is
// canceled or a worker fails.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	pipeline, err := a.configLoader.Load(".")
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}

	buildOpts := BuildOptions{NoCache: opts.NoCache, Parallelism: opts.Parallelism}
	if err := a.build(ctx, pipeline, []string{domain.StageProd}, buildOpts); err != nil {
		return err
	}

	snap, err := a.store.Latest(domain.StageProd)
	if err != nil {
		return err
	}

	runner := launcher.NewRunner(a.logger, opts.Workers)
	return runner.Run(ctx, snap)
}

// Import registers a rootfs directory as an importable stage base.
func (a *App) Import(_ context.Context, ref, rootfs string) error {
	snap, err := a.store.ImportBase(ref, rootfs)
	if err != nil {
		return err
	}
	a.logger.Info(fmt.Sprintf("imported %s (%s)", ref, snap.Digest))
	return nil
}

// CleanOptions configuration for the Clean method.
type CleanOptions struct {
	Store bool
	Cache bool
}

// Clean removes the snapshot store and caches based on the provided options.
func (a *App) Clean(_ context.Context, options CleanOptions) error {
	root := a.workspaceRoot()

	var errs error
	remove := func(path string, name string) {
		a.logger.Info(fmt.Sprintf("removing %s...", name))
		if err := os.RemoveAll(filepath.Join(root, path)); err != nil {
			errs = errors.Join(errs, zerr.Wrap(err, fmt.Sprintf("failed to remove %s", name)))
			return
		}
		a.logger.Info(fmt.Sprintf("removed %s", name))
	}

	if options.Store {
		remove(domain.DefaultStorePath(), "snapshot store")
		remove(domain.DefaultTmpPath(), "build roots")
	}

	if options.Cache {
		remove(domain.DefaultInstallerCachePath(), "installer cache")
	}

	return errs
}

// workspaceRoot locates the directory holding the pipeline descriptor,
// falling back to the working directory.
func (a *App) workspaceRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	root, err := a.configLoader.DiscoverRoot(cwd)
	if err != nil {
		return cwd
	}
	return root
}

// setupOTel configures the OpenTelemetry SDK with the renderer bridge.
func setupOTel(bridge *telemetry.Bridge) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bridge),
	)
	otel.SetTracerProvider(tp)
}
