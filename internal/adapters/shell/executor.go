// Package shell provides a shell-based executor for running stage commands.
package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/blazinghq/kiln/internal/core/ports"
	"github.com/creack/pty"
	"go.trai.ch/zerr"
)

// Process represents a running command.
type Process interface {
	Wait() error
}

type ptyProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	ioDone <-chan struct{}
}

func (p *ptyProcess) Wait() error {
	// Wait for the command to exit, then for the IO copy loop to drain
	// whatever the PTY still buffered.
	err := p.cmd.Wait()
	<-p.ioDone
	return err
}

// Executor implements ports.Executor using os/exec and pty.
type Executor struct {
	logger ports.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor(logger ports.Logger) *Executor {
	return &Executor{logger: logger}
}

// Start launches argv in a PTY and returns a Process to wait on. Output
// flows both to the structural logger and to the given writers.
func (e *Executor) Start(
	ctx context.Context,
	argv []string,
	workDir string,
	env []string,
	stdout, stderr io.Writer,
) (Process, error) {
	stdoutLog := &lineLogger{logger: e.logger, level: "info"}
	stderrLog := &lineLogger{logger: e.logger, level: "error"}

	return launch(ctx, launchSpec{
		argv:    argv,
		workDir: workDir,
		env:     env,
		stdout:  io.MultiWriter(stdoutLog, stdout),
		stderr:  io.MultiWriter(stderrLog, stderr),
		flush:   []*lineLogger{stdoutLog, stderrLog},
	})
}

// launchSpec carries everything launch needs to set a command up. The PTY
// merges the child's streams, so stderr only exists for the final flush of
// its line buffer.
type launchSpec struct {
	argv    []string
	workDir string
	env     []string
	stdout  io.Writer
	stderr  io.Writer
	flush   []*lineLogger
}

func launch(ctx context.Context, spec launchSpec) (Process, error) {
	if len(spec.argv) == 0 {
		return nil, nil
	}

	name := spec.argv[0]
	cmdEnv := resolveEnvironment(os.Environ(), spec.env)

	// Resolve the executable against the merged PATH, not the process's
	// own, so stage environments stay hermetic.
	executable := name
	if !filepath.IsAbs(name) {
		if lp, err := lookPath(name, cmdEnv); err == nil {
			executable = lp
		}
	}

	cmd := exec.CommandContext(ctx, executable, spec.argv[1:]...) //nolint:gosec // argv comes from the descriptor
	if len(cmd.Args) > 0 {
		cmd.Args[0] = name
	}
	if spec.workDir != "" {
		cmd.Dir = spec.workDir
	}
	cmd.Env = cmdEnv

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to start pty")
	}

	ioDone := make(chan struct{})
	go func() {
		defer close(ioDone)
		defer func() { _ = ptmx.Close() }()
		defer func() {
			// Emit any partial trailing line once IO stops
			for _, l := range spec.flush {
				_ = l.Close()
			}
		}()

		// The PTY merges both streams; copy to the stdout path.
		_, _ = io.Copy(spec.stdout, ptmx)
	}()

	return &ptyProcess{
		cmd:    cmd,
		ptmx:   ptmx,
		ioDone: ioDone,
	}, nil
}

// Execute runs argv and waits for it to complete.
func (e *Executor) Execute(
	ctx context.Context,
	argv []string,
	workDir string,
	env []string,
	stdout, stderr io.Writer,
) error {
	proc, err := e.Start(ctx, argv, workDir, env, stdout, stderr)
	if err != nil {
		return err
	}
	if proc == nil {
		return nil // Empty command
	}

	if err := proc.Wait(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return zerr.With(zerr.Wrap(err, "command failed"), "exit_code", exitCode)
	}

	return nil
}

// lineLogger feeds complete output lines to the structural logger,
// buffering partial lines between writes.
type lineLogger struct {
	logger ports.Logger
	level  string
	buf    []byte
}

func (w *lineLogger) Write(p []byte) (n int, err error) {
	w.buf = append(w.buf, p...)

	for {
		line, rest, found := bytes.Cut(w.buf, []byte{'\n'})
		if !found {
			break
		}
		w.logLine(line)
		w.buf = rest
	}

	return len(p), nil
}

func (w *lineLogger) Close() error {
	if len(w.buf) > 0 {
		w.logLine(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *lineLogger) logLine(line []byte) {
	// PTYs terminate lines with \r\n
	msg := strings.TrimSuffix(string(line), "\r")

	if w.level == "info" {
		w.logger.Info(msg)
	} else {
		w.logger.Error(zerr.New(msg))
	}
}

// allowListedEnvVars are the system environment variables that are allowed to
// be inherited by a stage command. This keeps stage execution hermetic and
// reproducible while still allowing basic system tools to function.
var allowListedEnvVars = map[string]struct{}{
	"HOME": {},
	"TERM": {},
	"USER": {},
	"PATH": {},
}

// resolveEnvironment merges environment variables with the defined priority:
// allow-listed system env first, then the stage environment, whose PATH is
// prepended to the system PATH rather than replacing it.
func resolveEnvironment(sysEnv, stageEnv []string) []string {
	envMap := filterSystemEnv(sysEnv)
	applyStageEnv(envMap, stageEnv)

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	return result
}

func filterSystemEnv(sysEnv []string) map[string]string {
	envMap := make(map[string]string)
	for _, entry := range sysEnv {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if _, allowed := allowListedEnvVars[k]; allowed {
			envMap[k] = v
		}
	}
	return envMap
}

func applyStageEnv(envMap map[string]string, stageEnv []string) {
	for _, entry := range stageEnv {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if k == "PATH" {
			if sysPath, exists := envMap["PATH"]; exists && sysPath != "" {
				envMap[k] = v + string(os.PathListSeparator) + sysPath
			} else {
				envMap[k] = v
			}
			continue
		}
		envMap[k] = v
	}
}

// lookPath searches for an executable in the directories named by the PATH
// entry of the given environment.
func lookPath(file string, env []string) (string, error) {
	var path string
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			path = strings.TrimPrefix(e, "PATH=")
			break
		}
	}

	if path == "" {
		return "", exec.ErrNotFound
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		candidate := filepath.Join(dir, file)
		if err := findExecutable(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", exec.ErrNotFound
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0o111 != 0 {
		return nil
	}
	return os.ErrPermission
}
