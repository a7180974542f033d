package domain

import "go.trai.ch/zerr"

var (
	// ErrStageAlreadyExists is returned when adding a stage with a name that already exists.
	ErrStageAlreadyExists = zerr.New("stage already exists")

	// ErrStageNotFound is returned when a stage references another stage that doesn't exist.
	ErrStageNotFound = zerr.New("stage not found")

	// ErrCycleDetected is returned when a cycle is detected between stages.
	ErrCycleDetected = zerr.New("cycle detected")

	// ErrNoStagesSpecified is returned when no target stages are specified for the build command.
	ErrNoStagesSpecified = zerr.New("no stages specified")

	// ErrBaseNotFound is returned when a stage's base reference cannot be
	// resolved against the snapshot store. This is the fatal pull-failure case.
	ErrBaseNotFound = zerr.New("base reference not found in store")

	// ErrLockDrift is returned when the lock file no longer matches the
	// dependency manifest. Signals dependency drift and aborts the build.
	ErrLockDrift = zerr.New("lock file out of date with manifest")

	// ErrLockfileMissing is returned when the declared lock file does not exist.
	ErrLockfileMissing = zerr.New("lock file not found")

	// ErrManifestMissing is returned when the declared manifest does not exist.
	ErrManifestMissing = zerr.New("manifest not found")

	// ErrCopySourceMissing is returned when a copy instruction's source path does not exist.
	ErrCopySourceMissing = zerr.New("copy source not found")

	// ErrRootIdentity is returned when a production snapshot declares, or
	// would default to, the privileged identity.
	ErrRootIdentity = zerr.New("production stage must declare a non-root identity")

	// ErrNoEntryCommand is returned when launching a snapshot that declares no entry command.
	ErrNoEntryCommand = zerr.New("snapshot declares no entry command")

	// ErrSnapshotNotFound is returned when a requested snapshot is not in the store.
	ErrSnapshotNotFound = zerr.New("snapshot not found")

	// ErrBuildExecutionFailed is returned when the pipeline execution fails.
	ErrBuildExecutionFailed = zerr.New("build execution failed")

	// ErrStageExecutionFailed is returned when a single stage fails.
	ErrStageExecutionFailed = zerr.New("stage execution failed")

	// ErrInputHashComputationFailed is returned when a stage's input hash cannot be computed.
	ErrInputHashComputationFailed = zerr.New("failed to compute input hash")

	// ErrConfigReadFailed is returned when the pipeline descriptor cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read pipeline descriptor")

	// ErrConfigParseFailed is returned when the pipeline descriptor cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse pipeline descriptor")

	// ErrConfigNotFound is returned when no pipeline descriptor can be found.
	ErrConfigNotFound = zerr.New("could not find kiln.yaml")

	// ErrInvalidStageName is returned when a stage name contains invalid characters.
	ErrInvalidStageName = zerr.New("invalid stage name")

	// ErrStoreCreateFailed is returned when the snapshot store directory cannot be created.
	ErrStoreCreateFailed = zerr.New("failed to create snapshot store directory")

	// ErrStoreReadFailed is returned when the snapshot index cannot be read.
	ErrStoreReadFailed = zerr.New("failed to read snapshot index")

	// ErrStoreWriteFailed is returned when the snapshot index cannot be written.
	ErrStoreWriteFailed = zerr.New("failed to write snapshot index")

	// ErrCommitFailed is returned when committing a build root to the store fails.
	ErrCommitFailed = zerr.New("failed to commit snapshot")

	// ErrSyncFailed is returned when the dependency installer fails.
	ErrSyncFailed = zerr.New("dependency sync failed")

	// ErrFileOpenFailed is returned when a file cannot be opened.
	ErrFileOpenFailed = zerr.New("failed to open file")

	// ErrFileHashFailed is returned when hashing a file fails.
	ErrFileHashFailed = zerr.New("failed to hash file content")

	// ErrPathStatFailed is returned when stating a path fails.
	ErrPathStatFailed = zerr.New("failed to stat path")

	// ErrCopyFailed is returned when copying a tree between stages fails.
	ErrCopyFailed = zerr.New("failed to copy tree")

	// ErrIdentityResolutionFailed is returned when a declared identity
	// cannot be resolved to system credentials.
	ErrIdentityResolutionFailed = zerr.New("failed to resolve identity")

	// ErrWorkerStartFailed is returned when the process runner cannot start a worker.
	ErrWorkerStartFailed = zerr.New("failed to start worker process")

	// ErrWorkerExited is returned when a production worker exits with a failure status.
	ErrWorkerExited = zerr.New("worker process exited")
)
