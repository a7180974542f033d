// Package domain contains the core domain models for the staged build pipeline.
package domain

import (
	"iter"

	"go.trai.ch/zerr"
)

// Pipeline represents the validated directed acyclic graph of build stages.
type Pipeline struct {
	stages         map[string]Stage
	executionOrder []string

	root     string
	manifest string
	lockfile string
	source   string
	cacheDir string
	runtime  RuntimeEnv
}

// NewPipeline creates a new empty Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		stages: make(map[string]Stage),
	}
}

// SetRoot sets the absolute project root the pipeline builds from.
func (p *Pipeline) SetRoot(root string) { p.root = root }

// Root returns the project root.
func (p *Pipeline) Root() string { return p.root }

// SetInputs records the root-relative paths of the dependency manifest, the
// lock file and the application source tree.
func (p *Pipeline) SetInputs(manifest, lockfile, source string) {
	p.manifest = manifest
	p.lockfile = lockfile
	p.source = source
}

// Manifest returns the root-relative path of the dependency manifest.
func (p *Pipeline) Manifest() string { return p.manifest }

// Lockfile returns the root-relative path of the dependency lock file.
func (p *Pipeline) Lockfile() string { return p.lockfile }

// Source returns the root-relative path of the application source tree.
func (p *Pipeline) Source() string { return p.source }

// SetCacheDir sets the shared download cache directory for the installer.
func (p *Pipeline) SetCacheDir(dir string) { p.cacheDir = dir }

// CacheDir returns the shared download cache directory.
func (p *Pipeline) CacheDir() string { return p.cacheDir }

// SetRuntime sets the immutable runtime environment baked into every stage.
func (p *Pipeline) SetRuntime(env RuntimeEnv) { p.runtime = env }

// Runtime returns the pipeline's runtime environment.
func (p *Pipeline) Runtime() RuntimeEnv { return p.runtime }

// AddStage adds a stage to the pipeline.
// It returns an error if a stage with the same name already exists.
func (p *Pipeline) AddStage(s *Stage) error {
	if _, exists := p.stages[s.Name]; exists {
		return zerr.With(ErrStageAlreadyExists, "stage", s.Name)
	}
	p.stages[s.Name] = *s
	return nil
}

// GetStage returns the stage with the given name.
func (p *Pipeline) GetStage(name string) (Stage, bool) {
	s, ok := p.stages[name]
	return s, ok
}

// HasStage reports whether a stage with the given name exists.
func (p *Pipeline) HasStage(name string) bool {
	_, ok := p.stages[name]
	return ok
}

// StageCount returns the number of stages in the pipeline.
func (p *Pipeline) StageCount() int { return len(p.stages) }

// Validate checks for cycles and dangling references using a topological
// sort. It populates the execution order if successful.
func (p *Pipeline) Validate() error {
	p.executionOrder = make([]string, 0, len(p.stages))
	visited := make(map[string]int) // 0: unvisited, 1: visiting, 2: visited
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		visited[name] = 1
		path = append(path, name)

		stage, exists := p.stages[name]
		if !exists {
			return zerr.With(ErrStageNotFound, "stage", name)
		}

		for _, dep := range stage.Dependencies(p.HasStage) {
			if visited[dep] == 1 {
				return p.buildCycleError(path, dep)
			}
			if visited[dep] == 0 {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[name] = 2
		path = path[:len(path)-1]
		p.executionOrder = append(p.executionOrder, name)
		return nil
	}

	for name := range p.stages {
		if visited[name] == 0 {
			if err := visit(name); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Pipeline) buildCycleError(path []string, dep string) error {
	cyclePath := ""
	startIdx := -1
	for i, node := range path {
		if node == dep {
			startIdx = i
			break
		}
	}
	for i := startIdx; i < len(path); i++ {
		cyclePath += path[i] + " -> "
	}
	cyclePath += dep
	return zerr.With(ErrCycleDetected, "cycle", cyclePath)
}

// Walk returns an iterator that yields stages in execution order.
// It assumes Validate() has been called and returned nil.
func (p *Pipeline) Walk() iter.Seq[Stage] {
	return func(yield func(Stage) bool) {
		for _, name := range p.executionOrder {
			if !yield(p.stages[name]) {
				return
			}
		}
	}
}

// Dependents returns the names of stages that depend on the given stage,
// either through From or through a copy-from edge.
func (p *Pipeline) Dependents(name string) []string {
	var out []string
	for _, candidate := range p.executionOrder {
		stage := p.stages[candidate]
		for _, dep := range stage.Dependencies(p.HasStage) {
			if dep == name {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}
