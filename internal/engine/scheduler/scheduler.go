// Package scheduler executes the stage DAG with bounded parallelism.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// StageStatus represents the status of a stage.
type StageStatus string

const (
	// StatusPending indicates the stage is waiting to be built.
	StatusPending StageStatus = "Pending"
	// StatusRunning indicates the stage is currently building.
	StatusRunning StageStatus = "Running"
	// StatusCompleted indicates the stage has finished successfully.
	StatusCompleted StageStatus = "Completed"
	// StatusFailed indicates the stage build failed.
	StatusFailed StageStatus = "Failed"
)

// Scheduler manages the execution of stages in the pipeline DAG.
type Scheduler struct {
	executor  ports.Executor
	store     ports.SnapshotStore
	hasher    ports.Hasher
	copier    ports.TreeCopier
	installer ports.Installer
	tracer    ports.Tracer
	logger    ports.Logger

	mu          sync.RWMutex
	stageStatus map[string]StageStatus
}

// NewScheduler creates a new Scheduler with the given dependencies.
func NewScheduler(
	executor ports.Executor,
	store ports.SnapshotStore,
	hasher ports.Hasher,
	copier ports.TreeCopier,
	installer ports.Installer,
	tracer ports.Tracer,
	logger ports.Logger,
) *Scheduler {
	return &Scheduler{
		executor:    executor,
		store:       store,
		hasher:      hasher,
		copier:      copier,
		installer:   installer,
		tracer:      tracer,
		logger:      logger,
		stageStatus: make(map[string]StageStatus),
	}
}

func (s *Scheduler) initStageStatuses(stages []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stage := range stages {
		s.stageStatus[stage] = StatusPending
	}
}

func (s *Scheduler) updateStatus(name string, status StageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageStatus[name] = status
}

// Run builds the target stages and everything they depend on, with the
// specified parallelism. If targetNames contains "all", every stage in the
// pipeline is built. If noCache is true, cached snapshots are ignored and
// every stage rebuilds.
func (s *Scheduler) Run(
	ctx context.Context,
	pipeline *domain.Pipeline,
	targetNames []string,
	parallelism int,
	noCache bool,
) error {
	// Explicitly validate to ensure the execution order is populated.
	if err := pipeline.Validate(); err != nil {
		return err
	}

	state, err := s.newRunState(ctx, pipeline, targetNames, parallelism, noCache)
	if err != nil {
		return err
	}

	// Filter the pipeline's full topological order down to this run.
	plannedStages := make([]string, 0, len(state.allStages))
	stageSet := make(map[string]bool, len(state.allStages))
	for _, name := range state.allStages {
		stageSet[name] = true
	}
	for stage := range pipeline.Walk() {
		if stageSet[stage.Name] {
			plannedStages = append(plannedStages, stage.Name)
		}
	}

	depMap := make(map[string][]string)
	for _, name := range plannedStages {
		stage, _ := pipeline.GetStage(name)
		depMap[name] = stage.Dependencies(pipeline.HasStage)
	}

	s.tracer.EmitPlan(ctx, plannedStages, depMap, targetNames)

	// Resolve every external base reference before any stage starts. An
	// unresolved base is fatal up front, not halfway through the build.
	ctx, span := s.tracer.Start(ctx, "Resolving Bases")
	err = state.resolveBases()
	span.End()

	if err != nil {
		return err
	}

	s.initStageStatuses(state.allStages)

	return state.runExecutionLoop()
}

type result struct {
	stage   string
	err     error
	skipped bool
	snap    *domain.Snapshot
}

// stageJob carries everything a worker needs, captured at schedule time so
// workers never touch the loop's shared state.
type stageJob struct {
	stage   domain.Stage
	base    *domain.Snapshot            // nil for scratch stages
	sources map[string]*domain.Snapshot // copy-from stage snapshots
}

type schedulerRunState struct {
	pipeline    *domain.Pipeline
	inDegree    map[string]int
	stages      map[string]domain.Stage
	ready       []string
	active      int
	resultsCh   chan result
	errs        error
	ctx         context.Context
	parallelism int
	s           *Scheduler
	allStages   []string
	noCache     bool

	// snapshots accumulates completed stage snapshots and resolved bases.
	// Only the execution loop goroutine writes to it.
	snapshots map[string]*domain.Snapshot
	bases     map[string]*domain.Snapshot
}

func (s *Scheduler) newRunState(
	ctx context.Context,
	pipeline *domain.Pipeline,
	targetNames []string,
	parallelism int,
	noCache bool,
) (*schedulerRunState, error) {
	stagesToRun, allStages, err := s.resolveStagesToRun(pipeline, targetNames)
	if err != nil {
		return nil, err
	}

	stageCount := len(stagesToRun)
	inDegree := make(map[string]int, stageCount)
	stages := make(map[string]domain.Stage, stageCount)

	for name := range stagesToRun {
		stage, _ := pipeline.GetStage(name)
		stages[name] = stage

		degree := 0
		for _, dep := range stage.Dependencies(pipeline.HasStage) {
			if stagesToRun[dep] {
				degree++
			}
		}
		inDegree[name] = degree
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	return &schedulerRunState{
		pipeline:    pipeline,
		inDegree:    inDegree,
		stages:      stages,
		ready:       ready,
		resultsCh:   make(chan result, parallelism),
		ctx:         ctx,
		parallelism: parallelism,
		s:           s,
		allStages:   allStages,
		noCache:     noCache,
		snapshots:   make(map[string]*domain.Snapshot),
		bases:       make(map[string]*domain.Snapshot),
	}, nil
}

// resolveBases resolves each distinct external base reference through the
// snapshot store.
func (state *schedulerRunState) resolveBases() error {
	for name := range state.stages {
		stage := state.stages[name]
		if stage.From == "" || state.pipeline.HasStage(stage.From) {
			continue
		}
		if _, done := state.bases[stage.From]; done {
			continue
		}
		snap, err := state.s.store.ResolveBase(stage.From)
		if err != nil {
			return err
		}
		state.bases[stage.From] = snap
	}
	return nil
}

func (state *schedulerRunState) runExecutionLoop() error {
	for !state.isDone() {
		state.schedule()

		if state.isDone() {
			break
		}

		if state.ctx.Err() != nil && state.active == 0 {
			return errors.Join(state.errs, state.ctx.Err())
		}

		select {
		case res := <-state.resultsCh:
			state.handleResult(res)
		case <-state.ctx.Done():
		}
	}

	if state.ctx.Err() != nil {
		state.errs = errors.Join(state.errs, state.ctx.Err())
	}

	return state.errs
}

func (s *Scheduler) resolveStagesToRun(
	pipeline *domain.Pipeline,
	targetNames []string,
) (map[string]bool, []string, error) {
	if slices.Contains(targetNames, "all") {
		return s.resolveAllStages(pipeline)
	}
	return s.resolveTargetStages(pipeline, targetNames)
}

func (s *Scheduler) resolveAllStages(
	pipeline *domain.Pipeline,
) (map[string]bool, []string, error) {
	stagesToRun := make(map[string]bool)
	allStages := make([]string, 0, pipeline.StageCount())
	for stage := range pipeline.Walk() {
		stagesToRun[stage.Name] = true
		allStages = append(allStages, stage.Name)
	}
	return stagesToRun, allStages, nil
}

func (s *Scheduler) resolveTargetStages(
	pipeline *domain.Pipeline,
	targetNames []string,
) (map[string]bool, []string, error) {
	for _, name := range targetNames {
		if !pipeline.HasStage(name) {
			return nil, nil, zerr.With(domain.ErrStageNotFound, "stage", name)
		}
	}

	return s.collectDependencies(pipeline, targetNames)
}

func (s *Scheduler) collectDependencies(
	pipeline *domain.Pipeline,
	targets []string,
) (map[string]bool, []string, error) {
	stagesToRun := make(map[string]bool)
	var allStages []string

	queue := make([]string, len(targets))
	copy(queue, targets)

	visited := make(map[string]bool)
	for _, t := range targets {
		visited[t] = true
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if !stagesToRun[current] {
			stagesToRun[current] = true
			allStages = append(allStages, current)
		}

		stage, _ := pipeline.GetStage(current)
		for _, dep := range stage.Dependencies(pipeline.HasStage) {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	return stagesToRun, allStages, nil
}

func (state *schedulerRunState) isDone() bool {
	return state.active == 0 && len(state.ready) == 0
}

func (state *schedulerRunState) schedule() {
	for len(state.ready) > 0 && state.active < state.parallelism && state.ctx.Err() == nil {
		name := state.ready[0]
		state.ready = state.ready[1:]

		state.active++
		state.s.updateStatus(name, StatusRunning)

		job := state.newJob(name)
		go state.executeStage(job)
	}
}

// newJob snapshots the dependency state a stage needs. Called from the loop
// goroutine only, after every dependency has completed.
func (state *schedulerRunState) newJob(name string) stageJob {
	stage := state.stages[name]

	job := stageJob{
		stage:   stage,
		sources: make(map[string]*domain.Snapshot, len(stage.CopyFrom)),
	}

	if stage.From != "" {
		if state.pipeline.HasStage(stage.From) {
			job.base = state.snapshots[stage.From]
		} else {
			job.base = state.bases[stage.From]
		}
	}

	for _, src := range stage.CopyFrom {
		job.sources[src] = state.snapshots[src]
	}

	return job
}

func (state *schedulerRunState) executeStage(job stageJob) {
	// Execute within a function so the span is ended BEFORE the result is
	// sent. This prevents races where the scheduler loop finishes before
	// the span is recorded.
	res := func() result {
		ctx, span := state.s.tracer.Start(state.ctx, job.stage.Name)
		defer span.End()

		baseDigest := ""
		if job.base != nil {
			baseDigest = job.base.Digest
		}

		hash, err := state.s.hasher.HashStage(&job.stage, baseDigest, state.pipeline.Root(), stageInputs(state.pipeline, &job.stage))
		if err != nil {
			err = zerr.Wrap(err, domain.ErrInputHashComputationFailed.Error())
			span.RecordError(err)
			return result{stage: job.stage.Name, err: err}
		}

		if !state.noCache {
			cached, err := state.s.store.Get(job.stage.Name, hash)
			if err != nil {
				span.RecordError(err)
				return result{stage: job.stage.Name, err: err}
			}
			if cached != nil {
				span.SetAttribute("kiln.cached", true)
				return result{stage: job.stage.Name, skipped: true, snap: cached}
			}
		}

		snap, err := state.s.buildStage(ctx, state.pipeline, job, hash, span)
		if err != nil {
			span.RecordError(err)
			return result{stage: job.stage.Name, err: err}
		}

		return result{stage: job.stage.Name, snap: snap}
	}()

	state.resultsCh <- res
}

// stageInputs lists the root-relative file inputs a stage consumes: sources
// of context copies plus the manifest and lock file for sync instructions.
func stageInputs(pipeline *domain.Pipeline, stage *domain.Stage) []string {
	var inputs []string
	seen := make(map[string]bool)

	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			inputs = append(inputs, path)
		}
	}

	for _, inst := range stage.Instructions {
		switch inst.Kind {
		case domain.KindCopy:
			if inst.FromStage == "" {
				add(inst.Src)
			}
		case domain.KindSync:
			add(pipeline.Manifest())
			add(pipeline.Lockfile())
		case domain.KindRun, domain.KindEnv, domain.KindWorkDir, domain.KindExpose:
		}
	}

	return inputs
}

// buildState is the mutable execution state threaded through a stage's
// instructions.
type buildState struct {
	buildRoot string
	workDir   string
	env       map[string]string
}

// buildStage materializes a stage: seed the build root from its base, apply
// each instruction, then commit the result to the store.
func (s *Scheduler) buildStage(
	ctx context.Context,
	pipeline *domain.Pipeline,
	job stageJob,
	inputHash string,
	span ports.Span,
) (*domain.Snapshot, error) {
	tmpRoot := filepath.Join(pipeline.Root(), domain.DefaultTmpPath())
	if err := os.MkdirAll(tmpRoot, domain.DirPerm); err != nil {
		return nil, zerr.Wrap(err, domain.ErrStoreCreateFailed.Error())
	}

	buildRoot, err := os.MkdirTemp(tmpRoot, job.stage.Name+"-*")
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrStoreCreateFailed.Error())
	}
	// The build root is consumed by the commit rename. It only survives a
	// failed stage, where it must not leak.
	defer func() {
		_ = os.RemoveAll(buildRoot)
	}()

	bs := &buildState{
		buildRoot: buildRoot,
		workDir:   buildRoot,
		env:       make(map[string]string),
	}

	if job.base != nil {
		if err := s.copier.CopyTree(job.base.RootDir, buildRoot); err != nil {
			return nil, err
		}
		maps.Copy(bs.env, job.base.Env)
	}
	maps.Copy(bs.env, pipeline.Runtime().Environ())

	for _, inst := range job.stage.Instructions {
		if err := s.applyInstruction(ctx, pipeline, job, bs, inst, span); err != nil {
			if inst.BestEffort {
				s.logger.Warn(fmt.Sprintf("%s: optional step failed, continuing: %v", job.stage.Name, err))
				continue
			}
			return nil, err
		}
	}

	workDir, err := filepath.Rel(buildRoot, bs.workDir)
	if err != nil || workDir == "." {
		workDir = ""
	}

	snap := domain.Snapshot{
		Stage:     job.stage.Name,
		InputHash: inputHash,
		WorkDir:   workDir,
		Env:       bs.env,
		Entry:     job.stage.Entry,
		Identity:  job.stage.Identity,
	}
	return s.store.Commit(snap, buildRoot)
}

func (s *Scheduler) applyInstruction(
	ctx context.Context,
	pipeline *domain.Pipeline,
	job stageJob,
	bs *buildState,
	inst domain.Instruction,
	span ports.Span,
) error {
	switch inst.Kind {
	case domain.KindRun:
		return s.executor.Execute(ctx, inst.Argv, bs.workDir, environ(bs.env), span, span)

	case domain.KindCopy:
		return s.applyCopy(pipeline, job, bs, inst)

	case domain.KindEnv:
		bs.env[inst.Key] = inst.Value
		return nil

	case domain.KindWorkDir:
		bs.workDir = rootedPath(bs.buildRoot, inst.Dir)
		if err := os.MkdirAll(bs.workDir, domain.DirPerm); err != nil {
			return zerr.Wrap(err, domain.ErrStageExecutionFailed.Error())
		}
		return nil

	case domain.KindExpose:
		span.SetAttribute("kiln.port", inst.Port)
		return nil

	case domain.KindSync:
		return s.applySync(ctx, pipeline, bs, inst)
	}

	return nil
}

func (s *Scheduler) applyCopy(
	pipeline *domain.Pipeline,
	job stageJob,
	bs *buildState,
	inst domain.Instruction,
) error {
	var src string
	if inst.FromStage == "" {
		src = filepath.Join(pipeline.Root(), inst.Src)
	} else {
		source, ok := job.sources[inst.FromStage]
		if !ok {
			return zerr.With(domain.ErrStageNotFound, "stage", inst.FromStage)
		}
		src = rootedPath(source.RootDir, inst.Src)
	}

	if _, err := os.Stat(src); err != nil {
		return zerr.With(domain.ErrCopySourceMissing, "src", inst.Src)
	}

	return s.copier.CopyTree(src, rootedPath(bs.buildRoot, inst.Dst))
}

// applySync verifies the lock file against the manifest, then installs the
// locked dependency set into the stage's environment directory.
func (s *Scheduler) applySync(
	ctx context.Context,
	pipeline *domain.Pipeline,
	bs *buildState,
	inst domain.Instruction,
) error {
	if err := s.installer.Check(ctx, bs.workDir); err != nil {
		return err
	}

	var cacheDir string
	if pipeline.CacheDir() != "" {
		cacheDir = pipeline.CacheDir()
		if err := os.MkdirAll(cacheDir, domain.DirPerm); err != nil {
			// A missing download cache slows the build down, it never
			// fails it.
			s.logger.Warn(fmt.Sprintf("cache directory unavailable: %v", err))
			cacheDir = ""
		}
	}

	return s.installer.Sync(ctx, ports.SyncOptions{
		EnvDir:          filepath.Join(bs.workDir, domain.EnvDirName),
		WorkDir:         bs.workDir,
		CacheDir:        cacheDir,
		Dev:             inst.Dev,
		CompileBytecode: pipeline.Runtime().CompileBytecode,
	})
}

// rootedPath resolves an image-absolute path against the build root.
func rootedPath(buildRoot, path string) string {
	return filepath.Join(buildRoot, strings.TrimPrefix(path, "/"))
}

// environ flattens an environment map into sorted "KEY=VALUE" form.
func environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

func (state *schedulerRunState) handleResult(res result) {
	state.active--

	if res.err != nil {
		enhancedErr := zerr.With(zerr.Wrap(res.err, domain.ErrStageExecutionFailed.Error()), "stage", res.stage)
		state.errs = errors.Join(state.errs, enhancedErr)
		state.s.updateStatus(res.stage, StatusFailed)
		return
	}

	state.handleSuccess(res)
}

func (state *schedulerRunState) handleSuccess(res result) {
	state.s.updateStatus(res.stage, StatusCompleted)
	state.snapshots[res.stage] = res.snap

	for _, dep := range state.pipeline.Dependents(res.stage) {
		if _, ok := state.stages[dep]; ok {
			state.inDegree[dep]--
			if state.inDegree[dep] == 0 {
				state.ready = append(state.ready, dep)
			}
		}
	}
}
