package domain

import "time"

// Snapshot is the immutable output of one stage: a committed rootfs plus the
// manifest data downstream stages and the launchers need.
type Snapshot struct {
	// Stage is the name of the stage that produced this snapshot, or the
	// imported base reference for external bases.
	Stage string `json:"stage"`

	// InputHash is the cache key: a digest over the stage definition, the
	// base snapshot digest and every file input the stage consumes.
	InputHash string `json:"input_hash"`

	// Digest is the content digest of the committed rootfs.
	Digest string `json:"digest"`

	// RootDir is the absolute path of the committed rootfs inside the store.
	RootDir string `json:"root_dir"`

	// WorkDir is the working directory of the entry command, relative to
	// the rootfs.
	WorkDir string `json:"work_dir,omitempty"`

	// Env is the environment baked into the snapshot.
	Env map[string]string `json:"env,omitempty"`

	// Entry is the declared entry command, if any.
	Entry *EntryCommand `json:"entry,omitempty"`

	// Identity is the execution identity recorded for the snapshot, if any.
	Identity *Identity `json:"identity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Environ flattens the snapshot environment into "KEY=VALUE" form,
// deterministically ordered by the caller if required.
func (s *Snapshot) Environ() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	return out
}
