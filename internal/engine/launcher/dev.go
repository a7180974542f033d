package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blazinghq/kiln/internal/adapters/watcher"
	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Supervisor runs a development snapshot and restarts its entry command
// whenever the project source changes.
type Supervisor struct {
	watcher ports.Watcher
	copier  ports.TreeCopier
	logger  ports.Logger

	grace time.Duration
}

// NewSupervisor creates a new development Supervisor.
func NewSupervisor(w ports.Watcher, copier ports.TreeCopier, logger ports.Logger) *Supervisor {
	return &Supervisor{
		watcher: w,
		copier:  copier,
		logger:  logger,
		grace:   DefaultGracePeriod,
	}
}

// Run launches the snapshot's entry command and supervises it until ctx is
// canceled. When the entry declares reload, the snapshot runs from a
// throwaway copy of its rootfs, source changes are synced into that copy
// and the process is restarted. The committed rootfs in the store is never
// touched, so a cache hit keeps serving the content committed under its hash.
func (s *Supervisor) Run(ctx context.Context, pipeline *domain.Pipeline, snap *domain.Snapshot) error {
	if snap.Entry == nil || len(snap.Entry.Argv) == 0 {
		return zerr.With(domain.ErrNoEntryCommand, "stage", snap.Stage)
	}

	if snap.Entry.Reload {
		runRoot, cleanup, err := s.materializeRunRoot(pipeline, snap)
		if err != nil {
			return err
		}
		defer cleanup()

		runSnap := *snap
		runSnap.RootDir = runRoot
		snap = &runSnap
	}

	w, err := startWorker(snap, nil, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	s.logger.Info(fmt.Sprintf("serving %s on %s:%d (pid %d)",
		snap.Stage, snap.Entry.Host, snap.Entry.Port, w.cmd.Process.Pid))

	if !snap.Entry.Reload {
		return s.superviseOnce(ctx, w)
	}

	sourceDir := filepath.Join(pipeline.Root(), pipeline.Source())
	if err := s.watcher.Start(ctx, sourceDir); err != nil {
		w.shutdown(s.grace)
		return err
	}
	defer func() {
		_ = s.watcher.Stop()
	}()

	restartCh := make(chan []string, 1)
	debouncer := watcher.NewDebouncer(watcher.DefaultDebounceWindow, func(paths []string) {
		select {
		case restartCh <- paths:
		default:
			// A restart is already pending. The next cycle picks up the
			// current source state anyway.
		}
	})
	go func() {
		for event := range s.watcher.Events() {
			debouncer.Add(event.Path)
		}
	}()

	return s.superviseLoop(ctx, pipeline, snap, w, sourceDir, restartCh)
}

// materializeRunRoot copies the snapshot's rootfs into a temp directory
// under the workspace tmp path. Reload cycles edit this copy only.
func (s *Supervisor) materializeRunRoot(pipeline *domain.Pipeline, snap *domain.Snapshot) (string, func(), error) {
	tmpRoot := filepath.Join(pipeline.Root(), domain.DefaultTmpPath())
	if err := os.MkdirAll(tmpRoot, domain.DirPerm); err != nil {
		return "", nil, zerr.Wrap(err, domain.ErrStoreCreateFailed.Error())
	}

	runRoot, err := os.MkdirTemp(tmpRoot, "dev-*")
	if err != nil {
		return "", nil, zerr.Wrap(err, domain.ErrStoreCreateFailed.Error())
	}
	cleanup := func() {
		_ = os.RemoveAll(runRoot)
	}

	if err := s.copier.CopyTree(snap.RootDir, runRoot); err != nil {
		cleanup()
		return "", nil, err
	}
	return runRoot, cleanup, nil
}

// superviseOnce waits for the worker to finish, shutting it down when ctx
// is canceled.
func (s *Supervisor) superviseOnce(ctx context.Context, w *worker) error {
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		w.shutdown(s.grace)
		return nil
	case <-w.done:
		if w.err != nil {
			return zerr.Wrap(w.err, domain.ErrWorkerExited.Error())
		}
		return nil
	}
}

func (s *Supervisor) superviseLoop(
	ctx context.Context,
	pipeline *domain.Pipeline,
	snap *domain.Snapshot,
	w *worker,
	sourceDir string,
	restartCh <-chan []string,
) error {
	running := w

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			if running != nil {
				running.shutdown(s.grace)
			}
			return nil

		case paths := <-restartCh:
			s.logger.Info(fmt.Sprintf("detected %d change(s), restarting", len(paths)))

			if running != nil {
				running.shutdown(s.grace)
				running = nil
			}

			// Refresh the source tree inside the run copy before relaunch,
			// so the restarted process sees the edit that triggered it.
			target := filepath.Join(snap.RootDir, snap.WorkDir, pipeline.Source())
			if err := s.copier.CopyTree(sourceDir, target); err != nil {
				s.logger.Warn(fmt.Sprintf("source sync failed: %v", err))
			}

			next, err := startWorker(snap, nil, os.Stdout, os.Stderr)
			if err != nil {
				return err
			}
			running = next

		case <-waitChan(running):
			// The process died on its own. Keep watching so the next source
			// change brings it back.
			if running.err != nil {
				s.logger.Warn(fmt.Sprintf("process exited: %v, waiting for changes", running.err))
			} else {
				s.logger.Info("process exited, waiting for changes")
			}
			running = nil
		}
	}
}

// waitChan exposes the worker's exit channel, or a nil channel that never
// fires when no worker is running.
func waitChan(w *worker) <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.done
}
