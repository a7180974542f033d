package domain

// RuntimeEnv is the process-wide configuration baked into every image at
// build time. It is constructed once from the pipeline descriptor, passed
// explicitly into stage execution and the launchers, and never mutated.
type RuntimeEnv struct {
	// UnbufferedOutput disables interpreter output buffering so log lines
	// are flushed immediately for container log collection.
	UnbufferedOutput bool

	// CompileBytecode precompiles library bytecode at install time to
	// reduce cold-start latency.
	CompileBytecode bool
}

// DefaultRuntimeEnv returns the runtime environment every stage starts from.
func DefaultRuntimeEnv() RuntimeEnv {
	return RuntimeEnv{
		UnbufferedOutput: true,
		CompileBytecode:  true,
	}
}

// Environ renders the runtime flags as environment variable assignments.
func (r RuntimeEnv) Environ() map[string]string {
	env := make(map[string]string, 2)
	if r.UnbufferedOutput {
		env["PYTHONUNBUFFERED"] = "1"
	}
	if r.CompileBytecode {
		env["UV_COMPILE_BYTECODE"] = "1"
	}
	return env
}
