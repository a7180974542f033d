package launcher

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// DefaultWorkerCount is the number of entry processes a Runner forks when
// no explicit count is given.
const DefaultWorkerCount = 1

// Runner launches a production snapshot as a fixed pool of worker
// processes under the snapshot's non-root identity.
type Runner struct {
	logger ports.Logger

	workers int
	grace   time.Duration
}

// NewRunner creates a Runner forking the given number of workers. A count
// below one falls back to DefaultWorkerCount.
func NewRunner(logger ports.Logger, workers int) *Runner {
	if workers < 1 {
		workers = DefaultWorkerCount
	}
	return &Runner{
		logger:  logger,
		workers: workers,
		grace:   DefaultGracePeriod,
	}
}

// Run forks the worker pool and blocks until ctx is canceled or a worker
// exits with a failure. A failed worker tears down its siblings.
func (r *Runner) Run(ctx context.Context, snap *domain.Snapshot) error {
	if snap.Entry == nil || len(snap.Entry.Argv) == 0 {
		return zerr.With(domain.ErrNoEntryCommand, "stage", snap.Stage)
	}
	if snap.Identity == nil || snap.Identity.IsRoot() {
		return zerr.With(domain.ErrRootIdentity, "stage", snap.Stage)
	}

	cred, err := resolveCredential(snap.Identity)
	if err != nil {
		return err
	}

	pool := make([]*worker, 0, r.workers)
	for i := range r.workers {
		w, err := startWorker(snap, cred, os.Stdout, os.Stderr)
		if err != nil {
			r.terminate(pool)
			return err
		}
		r.logger.Info(fmt.Sprintf("worker %d/%d started (pid %d)", i+1, r.workers, w.cmd.Process.Pid))
		pool = append(pool, w)
	}
	r.logger.Info(fmt.Sprintf("serving %s on %s:%d with %d worker(s) as %s",
		snap.Stage, snap.Entry.Host, snap.Entry.Port, r.workers, snap.Identity.User))

	return r.supervise(ctx, pool)
}

// supervise waits for the first worker exit or context cancellation, then
// shuts the remaining pool down.
func (r *Runner) supervise(ctx context.Context, pool []*worker) error {
	exited := make(chan *worker, len(pool))
	for _, w := range pool {
		go func() {
			<-w.done
			exited <- w
		}()
	}

	select {
	case <-ctx.Done():
		r.logger.Info("shutting down")
		r.terminate(pool)
		return nil
	case w := <-exited:
		r.terminate(pool)
		if w.err != nil {
			return zerr.Wrap(w.err, domain.ErrWorkerExited.Error())
		}
		// A production worker must not exit on its own, even cleanly.
		return zerr.New(domain.ErrWorkerExited.Error())
	}
}

// terminate shuts every worker in the pool down in parallel and waits for
// all of them to finish.
func (r *Runner) terminate(pool []*worker) {
	done := make(chan struct{}, len(pool))
	for _, w := range pool {
		go func() {
			w.shutdown(r.grace)
			done <- struct{}{}
		}()
	}
	for range pool {
		<-done
	}
}

// resolveCredential maps the snapshot identity to process credentials.
// It only returns a credential when the current process is privileged
// enough to apply it. Unprivileged runs keep the caller's identity, which
// already satisfies the non-root requirement.
func resolveCredential(id *domain.Identity) (*syscall.Credential, error) {
	if os.Geteuid() != 0 {
		return nil, nil
	}

	uid, gid := id.UID, id.GID
	if uid == 0 && id.User != "" {
		u, err := user.Lookup(id.User)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrIdentityResolutionFailed.Error()), "user", id.User)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return nil, zerr.Wrap(err, domain.ErrIdentityResolutionFailed.Error())
		}
		if gid == 0 {
			gid, err = strconv.Atoi(u.Gid)
			if err != nil {
				return nil, zerr.Wrap(err, domain.ErrIdentityResolutionFailed.Error())
			}
		}
	}
	if uid == 0 {
		return nil, zerr.With(domain.ErrRootIdentity, "user", id.User)
	}

	return &syscall.Credential{
		Uid: uint32(uid), //nolint:gosec
		Gid: uint32(gid), //nolint:gosec
	}, nil
}
