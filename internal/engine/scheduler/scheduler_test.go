package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/require"
	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"github.com/blazinghq/kiln/internal/core/ports/mocks"
	"github.com/blazinghq/kiln/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

type schedulerTestMocks struct {
	executor  *mocks.MockExecutor
	store     *mocks.MockSnapshotStore
	hasher    *mocks.MockHasher
	copier    *mocks.MockTreeCopier
	installer *mocks.MockInstaller
	tracer    *mocks.MockTracer
	logger    *mocks.MockLogger
}

// setupSchedulerTest creates a scheduler and common mocks.
func setupSchedulerTest(t *testing.T) (*scheduler.Scheduler, schedulerTestMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := schedulerTestMocks{
		executor:  mocks.NewMockExecutor(ctrl),
		store:     mocks.NewMockSnapshotStore(ctrl),
		hasher:    mocks.NewMockHasher(ctrl),
		copier:    mocks.NewMockTreeCopier(ctrl),
		installer: mocks.NewMockInstaller(ctrl),
		tracer:    mocks.NewMockTracer(ctrl),
		logger:    mocks.NewMockLogger(ctrl),
	}

	// Default optimistic mocks to reduce noise in specific tests.
	mockSpan := mocks.NewMockSpan(ctrl)
	mockSpan.EXPECT().End().AnyTimes()
	mockSpan.EXPECT().RecordError(gomock.Any()).AnyTimes()
	mockSpan.EXPECT().SetAttribute(gomock.Any(), gomock.Any()).AnyTimes()

	// Start has variadic signature: Start(ctx, name, ...opts).
	m.tracer.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, _ ...ports.SpanOption) (context.Context, ports.Span) {
			return ctx, mockSpan
		},
	).AnyTimes()
	m.tracer.EXPECT().EmitPlan(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	m.logger.EXPECT().Info(gomock.Any()).AnyTimes()
	m.logger.EXPECT().Warn(gomock.Any()).AnyTimes()
	m.logger.EXPECT().Error(gomock.Any()).AnyTimes()

	s := scheduler.NewScheduler(m.executor, m.store, m.hasher, m.copier, m.installer, m.tracer, m.logger)
	return s, m
}

// expectCacheMiss wires the hashing and store mocks for an all-miss build.
func expectCacheMiss(m schedulerTestMocks) {
	m.hasher.EXPECT().HashStage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("hash", nil).AnyTimes()
	m.store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	m.store.EXPECT().Commit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(snap domain.Snapshot, buildRoot string) (*domain.Snapshot, error) {
			snap.Digest = "digest-" + snap.Stage
			snap.RootDir = buildRoot
			return &snap, nil
		},
	).AnyTimes()
	m.copier.EXPECT().CopyTree(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// createPipelineHelper constructs a pipeline from a simple map of
// dependencies. The first dependency becomes the stage's base, the rest
// become copy-from edges.
func createPipelineHelper(t *testing.T, deps map[string][]string) *domain.Pipeline {
	t.Helper()
	p := domain.NewPipeline()
	p.SetRoot(t.TempDir())
	p.SetInputs("pyproject.toml", "uv.lock", "src")

	addStage := func(name string, myDeps []string) {
		stage := &domain.Stage{
			Name:         name,
			Instructions: []domain.Instruction{{Kind: domain.KindRun, Argv: []string{"echo", name}}},
		}
		if len(myDeps) > 0 {
			stage.From = myDeps[0]
			stage.CopyFrom = myDeps[1:]
		}
		require.NoError(t, p.AddStage(stage))
	}

	for name, myDeps := range deps {
		addStage(name, myDeps)
	}
	for _, myDeps := range deps {
		for _, d := range myDeps {
			if !p.HasStage(d) {
				addStage(d, nil)
			}
		}
	}

	require.NoError(t, p.Validate())
	return p
}

// argvMatcher implements gomock.Matcher for a run instruction's argv.
type argvMatcher struct {
	name string
}

func (m argvMatcher) Matches(x interface{}) bool {
	argv, ok := x.([]string)
	if !ok || len(argv) != 2 {
		return false
	}
	return argv[0] == "echo" && argv[1] == m.name
}

func (m argvMatcher) String() string {
	return "stage command echoes " + m.name
}

func matchStage(name string) gomock.Matcher {
	return argvMatcher{name: name}
}

func TestScheduler_DiamondDependency(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// prod and dev both extend builder, builder extends base.
		// Execution order must be base -> builder -> (dev, prod parallel).
		deps := map[string][]string{
			"prod":    {"builder"},
			"dev":     {"builder"},
			"builder": {"base"},
		}
		p := createPipelineHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectCacheMiss(m)

		baseCall := m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("base"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Return(nil).Times(1)

		builderCall := m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("builder"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Return(nil).Times(1).After(baseCall)

		m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("dev"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Return(nil).Times(1).After(builderCall)

		m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("prod"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Return(nil).Times(1).After(builderCall)

		err := s.Run(context.Background(), p, []string{"all"}, 4, false)
		require.NoError(t, err)
	})
}

func TestScheduler_FailurePropagation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// builder fails. prod must not run.
		deps := map[string][]string{
			"prod": {"builder"},
		}
		p := createPipelineHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectCacheMiss(m)

		failureErr := errors.New("boom")
		m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("builder"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Return(failureErr).Times(1)

		m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("prod"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Times(0)

		err := s.Run(context.Background(), p, []string{"all"}, 4, false)
		require.Error(t, err)
		require.ErrorContains(t, err, domain.ErrStageExecutionFailed.Error())
	})
}

func TestScheduler_CacheHit(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// base is cached. Its command must not run, and builder must seed
		// its build root from the cached snapshot.
		deps := map[string][]string{
			"builder": {"base"},
		}
		p := createPipelineHelper(t, deps)
		s, m := setupSchedulerTest(t)

		m.hasher.EXPECT().HashStage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("hash", nil).AnyTimes()

		cached := &domain.Snapshot{Stage: "base", InputHash: "hash", Digest: "base-digest", RootDir: "/store/roots/base-digest"}
		m.store.EXPECT().Get("base", "hash").Return(cached, nil).Times(1)
		m.store.EXPECT().Get("builder", "hash").Return(nil, nil).Times(1)
		m.store.EXPECT().Commit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(snap domain.Snapshot, buildRoot string) (*domain.Snapshot, error) {
				snap.Digest = "digest-" + snap.Stage
				snap.RootDir = buildRoot
				return &snap, nil
			},
		).Times(1)

		m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("base"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Times(0)

		// builder seeds from the cached base rootfs.
		m.copier.EXPECT().CopyTree(cached.RootDir, gomock.Any()).Return(nil).Times(1)
		m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("builder"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).Return(nil).Times(1)

		err := s.Run(context.Background(), p, []string{"all"}, 2, false)
		require.NoError(t, err)
	})
}

func TestScheduler_UnresolvedBase(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// base extends an imported reference that was never imported.
		// The run must fail before any stage executes.
		p := domain.NewPipeline()
		p.SetRoot(t.TempDir())
		require.NoError(t, p.AddStage(&domain.Stage{
			Name: "base",
			From: "python:3.12-slim",
			Instructions: []domain.Instruction{
				{Kind: domain.KindRun, Argv: []string{"echo", "base"}},
			},
		}))
		require.NoError(t, p.Validate())

		s, m := setupSchedulerTest(t)

		m.store.EXPECT().ResolveBase("python:3.12-slim").
			Return(nil, domain.ErrBaseNotFound).Times(1)
		m.executor.EXPECT().Execute(
			gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
		).Times(0)

		err := s.Run(context.Background(), p, []string{"all"}, 1, false)
		require.Error(t, err)
		require.ErrorContains(t, err, domain.ErrBaseNotFound.Error())
	})
}

func TestScheduler_TargetSelection(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Building only builder must pull in base but never touch dev or prod.
		deps := map[string][]string{
			"prod":    {"builder"},
			"dev":     {"builder"},
			"builder": {"base"},
		}
		p := createPipelineHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectCacheMiss(m)

		m.executor.EXPECT().Execute(
			gomock.Any(), matchStage("base"), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
		).Return(nil).Times(1)
		m.executor.EXPECT().Execute(
			gomock.Any(), matchStage("builder"), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
		).Return(nil).Times(1)
		m.executor.EXPECT().Execute(
			gomock.Any(), matchStage("dev"), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
		).Times(0)
		m.executor.EXPECT().Execute(
			gomock.Any(), matchStage("prod"), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(),
		).Times(0)

		err := s.Run(context.Background(), p, []string{"builder"}, 4, false)
		require.NoError(t, err)
	})
}

func TestScheduler_UnknownTarget(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := createPipelineHelper(t, map[string][]string{"base": {}})
		s, _ := setupSchedulerTest(t)

		err := s.Run(context.Background(), p, []string{"missing"}, 1, false)
		require.Error(t, err)
		require.ErrorContains(t, err, domain.ErrStageNotFound.Error())
	})
}

func TestScheduler_Cancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := createPipelineHelper(t, map[string][]string{"base": {}})
		s, m := setupSchedulerTest(t)

		m.hasher.EXPECT().HashStage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("hash", nil).AnyTimes()
		m.store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

		m.executor.EXPECT().Execute(
			gomock.Any(),
			matchStage("base"),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
			gomock.Any(),
		).DoAndReturn(
			func(ctx context.Context, _ []string, _ string, _ []string, _, _ interface{}) error {
				<-ctx.Done()
				return ctx.Err()
			},
		).Times(1)

		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Run(ctx, p, []string{"all"}, 4, false)
		}()

		synctest.Wait()

		cancel()
		synctest.Wait()

		err := <-errCh
		require.Error(t, err)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestScheduler_EmptyPipeline(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := createPipelineHelper(t, map[string][]string{})
		s, _ := setupSchedulerTest(t)

		err := s.Run(context.Background(), p, []string{"all"}, 1, false)
		require.NoError(t, err)
	})
}
