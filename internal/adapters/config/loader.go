// Package config provides the pipeline descriptor loader for kiln.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Loader implements ports.ConfigLoader using a YAML descriptor.
type Loader struct {
	Logger ports.Logger
}

// NewLoader creates a new Loader with the given logger.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{Logger: logger}
}

var validStageNameRegex = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

// Defaults applied when an entry declares a command but omits the bind.
const (
	defaultEntryHost = "0.0.0.0"
	defaultEntryPort = 8000
)

// Load reads the descriptor starting from cwd and returns the validated pipeline.
func (l *Loader) Load(cwd string) (*domain.Pipeline, error) {
	root, err := l.DiscoverRoot(cwd)
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(root, domain.KilnFileName)

	var kilnfile Kilnfile
	if err := readAndUnmarshalYAML(configPath, &kilnfile); err != nil {
		return nil, err
	}

	p := domain.NewPipeline()
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve project root")
	}
	p.SetRoot(absRoot)
	p.SetInputs(
		defaultString(kilnfile.Manifest, "pyproject.toml"),
		defaultString(kilnfile.Lockfile, "uv.lock"),
		defaultString(kilnfile.Source, "src"),
	)
	p.SetCacheDir(defaultString(kilnfile.Cache, filepath.Join(absRoot, domain.DefaultInstallerCachePath())))
	p.SetRuntime(resolveRuntime(kilnfile.Runtime))

	// First pass: collect stage names to verify references later.
	stageNames := make(map[string]bool, len(kilnfile.Stages))
	for name := range kilnfile.Stages {
		stageNames[name] = true
	}

	// Second pass: build stages and add to the pipeline.
	for name := range kilnfile.Stages {
		dto := kilnfile.Stages[name]
		if !validStageNameRegex.MatchString(name) {
			return nil, zerr.With(domain.ErrInvalidStageName, "stage", name)
		}

		stage, err := buildStage(name, dto, stageNames)
		if err != nil {
			return nil, err
		}

		if err := p.AddStage(stage); err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	// A pipeline that syncs dependencies needs its manifest and lock file
	// present up front, not halfway through a build.
	if pipelineSyncs(p) {
		lf := domain.Lockfile{ManifestPath: p.Manifest(), LockPath: p.Lockfile()}
		if _, _, err := lf.Resolve(absRoot); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// pipelineSyncs reports whether any stage installs dependencies.
func pipelineSyncs(p *domain.Pipeline) bool {
	for stage := range p.Walk() {
		for _, inst := range stage.Instructions {
			if inst.Kind == domain.KindSync {
				return true
			}
		}
	}
	return false
}

// DiscoverRoot walks up from cwd to find the directory containing kiln.yaml.
func (l *Loader) DiscoverRoot(cwd string) (string, error) {
	currentDir := cwd
	for {
		configPath := filepath.Join(currentDir, domain.KilnFileName)
		if _, err := os.Stat(configPath); err == nil {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return "", zerr.With(domain.ErrConfigNotFound, "cwd", cwd)
}

func buildStage(name string, dto *StageDTO, stageNames map[string]bool) (*domain.Stage, error) {
	stage := &domain.Stage{
		Name: name,
		From: dto.From,
		Env:  dto.Env,
	}

	// Stage-level env becomes deterministic leading instructions.
	keys := make([]string, 0, len(dto.Env))
	for k := range dto.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stage.Instructions = append(stage.Instructions, domain.Instruction{
			Kind: domain.KindEnv, Key: k, Value: dto.Env[k],
		})
	}

	seenFrom := make(map[string]bool)
	for _, step := range dto.Steps {
		inst, err := buildInstruction(name, step, stageNames)
		if err != nil {
			return nil, err
		}
		stage.Instructions = append(stage.Instructions, inst)

		if inst.Kind == domain.KindCopy && inst.FromStage != "" && !seenFrom[inst.FromStage] {
			stage.CopyFrom = append(stage.CopyFrom, inst.FromStage)
			seenFrom[inst.FromStage] = true
		}
	}

	if dto.Entry != nil {
		stage.Entry = &domain.EntryCommand{
			Argv:   dto.Entry.Cmd,
			Host:   defaultString(dto.Entry.Host, defaultEntryHost),
			Port:   dto.Entry.Port,
			Reload: dto.Entry.Reload,
		}
		if stage.Entry.Port == 0 {
			stage.Entry.Port = defaultEntryPort
		}
	}

	if dto.Identity != nil {
		stage.Identity = &domain.Identity{
			User:  dto.Identity.User,
			Group: dto.Identity.Group,
			UID:   dto.Identity.UID,
			GID:   dto.Identity.GID,
		}
	}

	return stage, nil
}

func buildInstruction(stageName string, step *StepDTO, stageNames map[string]bool) (domain.Instruction, error) {
	switch {
	case len(step.Run) > 0:
		return domain.Instruction{
			Kind:       domain.KindRun,
			Argv:       step.Run,
			BestEffort: step.BestEffort,
		}, nil

	case step.Copy != nil:
		if step.Copy.From != "" && !stageNames[step.Copy.From] {
			return domain.Instruction{}, zerr.With(
				zerr.With(domain.ErrStageNotFound, "stage", step.Copy.From),
				"referenced_by", stageName,
			)
		}
		return domain.Instruction{
			Kind:      domain.KindCopy,
			Src:       step.Copy.Src,
			Dst:       defaultString(step.Copy.Dst, step.Copy.Src),
			FromStage: step.Copy.From,
		}, nil

	case step.Sync != nil:
		return domain.Instruction{
			Kind:       domain.KindSync,
			Dev:        step.Sync.Dev,
			BestEffort: step.BestEffort,
		}, nil

	case step.WorkingDir != "":
		return domain.Instruction{Kind: domain.KindWorkDir, Dir: step.WorkingDir}, nil

	case step.Expose != 0:
		return domain.Instruction{Kind: domain.KindExpose, Port: step.Expose}, nil
	}

	return domain.Instruction{}, zerr.With(domain.ErrConfigParseFailed, "stage", stageName)
}

func resolveRuntime(dto *RuntimeDTO) domain.RuntimeEnv {
	env := domain.DefaultRuntimeEnv()
	if dto == nil {
		return env
	}
	if dto.Unbuffered != nil {
		env.UnbufferedOutput = *dto.Unbuffered
	}
	if dto.CompileBytecode != nil {
		env.CompileBytecode = *dto.CompileBytecode
	}
	return env
}

func defaultString(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

func readAndUnmarshalYAML(path string, out any) error {
	data, err := os.ReadFile(path) //nolint:gosec // Path discovered by the loader itself
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrConfigReadFailed.Error()), "path", path)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrConfigParseFailed.Error()), "path", path)
	}

	return nil
}
