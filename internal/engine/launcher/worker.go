// Package launcher runs built snapshots as local processes.
package launcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/blazinghq/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// DefaultGracePeriod is how long a worker gets to shut down after SIGTERM
// before it is killed.
const DefaultGracePeriod = 10 * time.Second

// worker is one running entry command process. done is closed once the
// process has exited and err holds its exit status, so any number of
// supervisors can wait on the same worker.
type worker struct {
	cmd  *exec.Cmd
	err  error
	done chan struct{}
}

// startWorker launches the snapshot's entry command inside its rootfs.
// A non-nil credential drops the process to that identity.
func startWorker(snap *domain.Snapshot, cred *syscall.Credential, stdout, stderr *os.File) (*worker, error) {
	entry := snap.Entry
	if entry == nil || len(entry.Argv) == 0 {
		return nil, zerr.With(domain.ErrNoEntryCommand, "stage", snap.Stage)
	}

	workDir := filepath.Join(snap.RootDir, snap.WorkDir)

	argv := slices.Clone(entry.Argv)
	argv = append(argv, "--host", entry.Host, "--port", strconv.Itoa(entry.Port))

	//nolint:gosec // Argv comes from the validated snapshot manifest
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = workerEnvironment(snap, workDir)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		// Each worker leads its own process group so a signal reaches its
		// children too.
		Setpgid:    true,
		Credential: cred,
	}

	if err := cmd.Start(); err != nil {
		return nil, zerr.Wrap(err, domain.ErrWorkerStartFailed.Error())
	}

	w := &worker{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		w.err = cmd.Wait()
		close(w.done)
	}()
	return w, nil
}

// workerEnvironment builds the process environment: the snapshot's baked
// environment with the rootfs environment directory resolved onto PATH.
func workerEnvironment(snap *domain.Snapshot, workDir string) []string {
	env := snap.Environ()

	envBin := filepath.Join(workDir, domain.EnvDirName, "bin")
	path := envBin + string(os.PathListSeparator) + os.Getenv("PATH")

	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if len(kv) >= 5 && kv[:5] == "PATH=" {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "PATH="+path)
	slices.Sort(out)
	return out
}

// signal delivers sig to the worker's process group.
func (w *worker) signal(sig syscall.Signal) {
	if w.cmd.Process == nil {
		return
	}
	// Negative pid targets the group.
	_ = syscall.Kill(-w.cmd.Process.Pid, sig)
}

// shutdown sends SIGTERM and waits up to grace for the worker to exit,
// escalating to SIGKILL.
func (w *worker) shutdown(grace time.Duration) {
	w.signal(syscall.SIGTERM)

	select {
	case <-w.done:
	case <-time.After(grace):
		w.signal(syscall.SIGKILL)
		<-w.done
	}
}
