package config

// Kilnfile represents the structure of the kiln.yaml pipeline descriptor.
type Kilnfile struct {
	Version  string               `yaml:"version"`
	Manifest string               `yaml:"manifest"`
	Lockfile string               `yaml:"lockfile"`
	Source   string               `yaml:"source"`
	Cache    string               `yaml:"cache"`
	Runtime  *RuntimeDTO          `yaml:"runtime"`
	Stages   map[string]*StageDTO `yaml:"stages"`
}

// RuntimeDTO holds the process-wide flags baked into every stage.
type RuntimeDTO struct {
	Unbuffered      *bool `yaml:"unbuffered"`
	CompileBytecode *bool `yaml:"compileBytecode"`
}

// StageDTO represents a stage definition in the descriptor.
type StageDTO struct {
	From     string            `yaml:"from"`
	Steps    []*StepDTO        `yaml:"steps"`
	Env      map[string]string `yaml:"env"`
	Entry    *EntryDTO         `yaml:"entry"`
	Identity *IdentityDTO      `yaml:"identity"`
}

// StepDTO represents a single build step. Exactly one of the step fields
// should be set.
type StepDTO struct {
	Run        []string `yaml:"run,omitempty"`
	Copy       *CopyDTO `yaml:"copy,omitempty"`
	Sync       *SyncDTO `yaml:"sync,omitempty"`
	WorkingDir string   `yaml:"workingDir,omitempty"`
	Expose     int      `yaml:"expose,omitempty"`
	BestEffort bool     `yaml:"bestEffort,omitempty"`
}

// CopyDTO copies a path into the stage, either from the source context or
// from another stage's snapshot.
type CopyDTO struct {
	Src  string `yaml:"src"`
	Dst  string `yaml:"dst"`
	From string `yaml:"from,omitempty"`
}

// SyncDTO triggers a dependency sync through the installer.
type SyncDTO struct {
	Dev bool `yaml:"dev,omitempty"`
}

// EntryDTO declares the command a stage's snapshot launches.
type EntryDTO struct {
	Cmd    []string `yaml:"cmd"`
	Host   string   `yaml:"host,omitempty"`
	Port   int      `yaml:"port,omitempty"`
	Reload bool     `yaml:"reload,omitempty"`
}

// IdentityDTO declares the execution identity a stage switches to.
type IdentityDTO struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`
	UID   int    `yaml:"uid"`
	GID   int    `yaml:"gid"`
}
