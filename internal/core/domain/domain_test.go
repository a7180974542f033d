package domain_test

import (
	"slices"
	"testing"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addStage(t *testing.T, p *domain.Pipeline, name, from string, copyFrom ...string) {
	t.Helper()
	require.NoError(t, p.AddStage(&domain.Stage{Name: name, From: from, CopyFrom: copyFrom}))
}

func TestPipeline_Cycle(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*testing.T, *domain.Pipeline)
		wantErr     bool
		errContains string
	}{
		{
			name: "Self Cycle",
			setup: func(t *testing.T, p *domain.Pipeline) {
				addStage(t, p, "a", "a")
			},
			wantErr:     true,
			errContains: "cycle detected",
		},
		{
			name: "Two Stage Cycle",
			setup: func(t *testing.T, p *domain.Pipeline) {
				addStage(t, p, "a", "b")
				addStage(t, p, "b", "a")
			},
			wantErr:     true,
			errContains: "cycle detected",
		},
		{
			name: "Copy From Cycle",
			setup: func(t *testing.T, p *domain.Pipeline) {
				addStage(t, p, "a", "", "b")
				addStage(t, p, "b", "", "c")
				addStage(t, p, "c", "", "a")
			},
			wantErr:     true,
			errContains: "cycle detected",
		},
		{
			name: "Linear Chain",
			setup: func(t *testing.T, p *domain.Pipeline) {
				addStage(t, p, "base", "")
				addStage(t, p, "builder", "base")
				addStage(t, p, "dev", "base", "builder")
			},
			wantErr: false,
		},
		{
			name: "External Base Ignored",
			setup: func(t *testing.T, p *domain.Pipeline) {
				// From names that are not stages are imported bases, not
				// dependency edges.
				addStage(t, p, "base", "python-slim")
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.NewPipeline()
			tt.setup(t, p)

			err := p.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorContains(t, err, tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPipeline_WalkOrder(t *testing.T) {
	p := domain.NewPipeline()
	addStage(t, p, "base", "python-slim")
	addStage(t, p, "builder", "base")
	addStage(t, p, "dev", "base", "builder")
	addStage(t, p, "prod", "base", "builder")
	require.NoError(t, p.Validate())

	var order []string
	for stage := range p.Walk() {
		order = append(order, stage.Name)
	}

	require.Len(t, order, 4)
	idx := func(name string) int { return slices.Index(order, name) }
	assert.Less(t, idx("base"), idx("builder"))
	assert.Less(t, idx("builder"), idx("dev"))
	assert.Less(t, idx("builder"), idx("prod"))
}

func TestPipeline_Dependents(t *testing.T) {
	p := domain.NewPipeline()
	addStage(t, p, "base", "python-slim")
	addStage(t, p, "builder", "base")
	addStage(t, p, "dev", "base", "builder")
	addStage(t, p, "prod", "base", "builder")
	require.NoError(t, p.Validate())

	assert.ElementsMatch(t, []string{"builder", "dev", "prod"}, p.Dependents("base"))
	assert.ElementsMatch(t, []string{"dev", "prod"}, p.Dependents("builder"))
	assert.Empty(t, p.Dependents("prod"))
}

func TestPipeline_AddStageDuplicate(t *testing.T) {
	p := domain.NewPipeline()
	addStage(t, p, "base", "")

	err := p.AddStage(&domain.Stage{Name: "base"})
	require.Error(t, err)
	assert.ErrorContains(t, err, domain.ErrStageAlreadyExists.Error())
}

func TestStage_Dependencies(t *testing.T) {
	isStage := func(name string) bool {
		return name == "base" || name == "builder"
	}

	t.Run("deduplicates from and copy-from", func(t *testing.T) {
		s := &domain.Stage{Name: "dev", From: "base", CopyFrom: []string{"builder", "base", "builder"}}
		assert.Equal(t, []string{"base", "builder"}, s.Dependencies(isStage))
	})

	t.Run("external base is not a dependency", func(t *testing.T) {
		s := &domain.Stage{Name: "base", From: "python-slim"}
		assert.Empty(t, s.Dependencies(isStage))
	})
}

func TestIdentity_IsRoot(t *testing.T) {
	tests := []struct {
		name     string
		identity domain.Identity
		want     bool
	}{
		{name: "uid zero", identity: domain.Identity{User: "app", UID: 0}, want: true},
		{name: "root user", identity: domain.Identity{User: "root", UID: 10001}, want: true},
		{name: "regular user", identity: domain.Identity{User: "app", UID: 10001}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.identity.IsRoot())
		})
	}
}

func TestRuntimeEnv_Environ(t *testing.T) {
	env := domain.DefaultRuntimeEnv().Environ()
	assert.Equal(t, "1", env["PYTHONUNBUFFERED"])
	assert.Equal(t, "1", env["UV_COMPILE_BYTECODE"])

	env = domain.RuntimeEnv{}.Environ()
	assert.Empty(t, env)
}

func TestSnapshot_Environ(t *testing.T) {
	snap := &domain.Snapshot{Env: map[string]string{"A": "1", "B": "2"}}
	assert.ElementsMatch(t, []string{"A=1", "B=2"}, snap.Environ())
}
