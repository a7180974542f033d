package domain

// InstructionKind discriminates the instruction variants a stage may contain.
type InstructionKind uint8

const (
	// KindRun executes a command inside the stage's build root.
	KindRun InstructionKind = iota
	// KindCopy copies a path from the source context or another stage's snapshot.
	KindCopy
	// KindEnv sets an environment variable for the remainder of the stage
	// and bakes it into the resulting snapshot.
	KindEnv
	// KindWorkDir changes the working directory for subsequent instructions.
	KindWorkDir
	// KindExpose declares the port the stage's entry command listens on.
	KindExpose
	// KindSync resolves and installs the declared dependency set into the
	// stage's environment directory via the installer.
	KindSync
)

// Instruction is a single build step within a stage.
// Exactly the fields relevant to its Kind are populated.
type Instruction struct {
	Kind InstructionKind

	// Argv is the command for KindRun.
	Argv []string

	// Src, Dst and FromStage describe a KindCopy. An empty FromStage copies
	// from the pipeline's source context.
	Src       string
	Dst       string
	FromStage string

	// Key and Value carry a KindEnv assignment.
	Key   string
	Value string

	// Dir is the target of a KindWorkDir.
	Dir string

	// Port is the declared port for KindExpose.
	Port int

	// Dev controls whether a KindSync includes development-only dependencies.
	Dev bool

	// BestEffort marks an instruction whose failure degrades instead of
	// aborting the stage. Used for optional debug tooling in the dev stage.
	BestEffort bool
}

// EntryCommand is the process a built snapshot launches at container start.
type EntryCommand struct {
	Argv []string
	Host string
	Port int
	// Reload enables the in-process restart supervisor on source change.
	Reload bool
}

// Canonical stage names the launchers target. Pipelines may declare any
// stage names, but dev and serve operate on these two.
const (
	StageDev  = "dev"
	StageProd = "prod"
)

// Identity is the execution identity a stage switches to before placing
// application files. Prod stages must declare a non-root identity.
type Identity struct {
	User  string
	Group string
	UID   int
	GID   int
}

// IsRoot reports whether the identity resolves to the privileged default.
func (id Identity) IsRoot() bool {
	return id.UID == 0 || id.User == "root"
}

// Stage is one named phase of the pipeline producing a filesystem snapshot.
type Stage struct {
	Name string

	// From references the stage this one extends, or a base rootfs imported
	// into the snapshot store. Empty means scratch.
	From string

	Instructions []Instruction

	// CopyFrom lists the stage names referenced by copy instructions.
	// These form the additional DAG edges beyond From.
	CopyFrom []string

	// Entry is the command the resulting snapshot declares, if any.
	Entry *EntryCommand

	// Identity, when set, is recorded in the snapshot manifest and applied
	// by the launcher. Stages without one inherit the build user.
	Identity *Identity

	// Env holds the environment baked into the snapshot, merged over the
	// base snapshot's environment.
	Env map[string]string
}

// Dependencies returns the names of all stages this stage needs built first:
// its From (when it names a stage) plus every copy-from source.
func (s *Stage) Dependencies(isStage func(string) bool) []string {
	var deps []string
	seen := make(map[string]bool)
	if s.From != "" && isStage(s.From) {
		deps = append(deps, s.From)
		seen[s.From] = true
	}
	for _, from := range s.CopyFrom {
		if !seen[from] {
			deps = append(deps, from)
			seen[from] = true
		}
	}
	return deps
}
