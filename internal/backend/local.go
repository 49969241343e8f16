package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/me/qsync/pkg/model"
)

// Local runs jobs as processes on this machine. At most slots jobs run at
// once; the others wait in QUEUED.
type Local struct {
	logger  *slog.Logger
	workDir string
	slots   int64
	sem     *semaphore.Weighted

	mu   sync.Mutex
	jobs map[string]*localJob
}

type localJob struct {
	id     string
	state  model.JobState
	info   *model.TerminationInfo
	cancel context.CancelFunc
	// aborted is set by TerminateAll before the job is cancelled.
	aborted bool
	done    chan struct{}
}

// NewLocal creates a Local backend. Jobs without a working directory run in
// workDir, or in the current directory when workDir is empty. slots <= 0
// means one slot per CPU.
func NewLocal(workDir string, slots int, logger *slog.Logger) *Local {
	if slots <= 0 {
		slots = runtime.NumCPU()
	}
	return &Local{
		logger:  logger.With("component", "local-backend"),
		workDir: workDir,
		slots:   int64(slots),
		sem:     semaphore.NewWeighted(int64(slots)),
		jobs:    make(map[string]*localJob),
	}
}

// Name returns "local".
func (l *Local) Name() string {
	return "local"
}

// Submit validates the native options and queues the job for execution.
// A command that cannot be started is reported as FAILED, not as an error.
func (l *Local) Submit(_ context.Context, job *model.Job) (string, error) {
	if job.RemoteCommand == "" {
		return "", errors.New("local backend: empty command")
	}
	opts, err := parseNativeOptions(job.NativeOptions)
	if err != nil {
		return "", fmt.Errorf("local backend: %w", err)
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	lj := &localJob{
		id:     id,
		state:  model.JobStateQueued,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	l.mu.Lock()
	l.jobs[id] = lj
	l.mu.Unlock()

	go l.run(ctx, lj, job, opts)

	l.logger.Debug("job queued", "id", id, "command", job.RemoteCommand, "source", job.Source)
	return id, nil
}

// run waits for a slot, runs the process and records how it ended.
func (l *Local) run(ctx context.Context, lj *localJob, job *model.Job, opts nativeOptions) {
	defer close(lj.done)
	defer lj.cancel()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		// Terminated while still queued.
		l.finish(lj, model.JobStateDone, &model.TerminationInfo{WasAborted: true})
		return
	}
	defer l.sem.Release(1)

	dir := opts.workDir
	if dir == "" {
		dir = job.WorkDir
	}
	if dir == "" {
		dir = l.workDir
	}

	cmd := exec.CommandContext(ctx, job.RemoteCommand, job.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "JOB_ID="+lj.id)
	cmd.Env = append(cmd.Env, opts.env...)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := os.OpenFile(outputPath(opts.stdout, lj.id, dir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Warn("open stdout", "id", lj.id, "error", err)
		l.finish(lj, model.JobStateFailed, nil)
		return
	}
	defer stdout.Close()
	cmd.Stdout = stdout

	stderr, err := os.OpenFile(outputPath(opts.stderr, lj.id, dir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Warn("open stderr", "id", lj.id, "error", err)
		l.finish(lj, model.JobStateFailed, nil)
		return
	}
	defer stderr.Close()
	cmd.Stderr = stderr

	l.mu.Lock()
	if lj.aborted {
		l.mu.Unlock()
		l.finish(lj, model.JobStateDone, &model.TerminationInfo{WasAborted: true})
		return
	}
	lj.state = model.JobStateRunning
	l.mu.Unlock()

	if err := cmd.Start(); err != nil {
		l.logger.Info("job could not start", "id", lj.id, "command", job.RemoteCommand, "error", err)
		l.finish(lj, model.JobStateFailed, nil)
		return
	}

	if err := cmd.Wait(); err != nil && cmd.ProcessState == nil {
		l.logger.Warn("wait for job", "id", lj.id, "error", err)
		l.finish(lj, model.JobStateFailed, nil)
		return
	}
	info := terminationInfo(cmd.ProcessState)

	l.mu.Lock()
	info.WasAborted = lj.aborted
	l.mu.Unlock()

	l.logger.Debug("job finished", "id", lj.id, "exit_status", info.ExitStatus, "signal", info.Signal, "aborted", info.WasAborted)
	l.finish(lj, model.JobStateDone, info)
}

func (l *Local) finish(lj *localJob, state model.JobState, info *model.TerminationInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lj.state = state
	lj.info = info
}

// terminationInfo converts a process state into termination info.
func terminationInfo(ps *os.ProcessState) *model.TerminationInfo {
	info := &model.TerminationInfo{}
	if ps == nil {
		return info
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		info.HasSignal = true
		info.Signal = ws.Signal().String()
		return info
	}
	info.HasExited = ps.Exited()
	info.ExitStatus = ps.ExitCode()
	return info
}

func (l *Local) lookup(id string) (*localJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lj, ok := l.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return lj, nil
}

// Synchronize waits until every job in ids has finished, timeout elapses,
// or ctx is cancelled.
func (l *Local) Synchronize(ctx context.Context, ids []string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, id := range ids {
		lj, err := l.lookup(id)
		if err != nil {
			return err
		}
		select {
		case <-lj.done:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status returns the state of job id.
func (l *Local) Status(_ context.Context, id string) (model.JobState, error) {
	lj, err := l.lookup(id)
	if err != nil {
		return model.JobStateUndetermined, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return lj.state, nil
}

// Wait returns a copy of the termination info of a DONE job.
func (l *Local) Wait(_ context.Context, id string) (*model.TerminationInfo, error) {
	lj, err := l.lookup(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lj.state != model.JobStateDone || lj.info == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotTerminated, id, lj.state)
	}
	info := *lj.info
	return &info, nil
}

// TerminateAll kills every job that has not finished yet.
func (l *Local) TerminateAll(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, lj := range l.jobs {
		if lj.state.IsTerminal() || lj.aborted {
			continue
		}
		lj.aborted = true
		lj.cancel()
		n++
	}
	if n > 0 {
		l.logger.Info("terminated jobs", "count", n)
	}
	return nil
}

// Slots returns the number of jobs that may run at once.
func (l *Local) Slots() int {
	return int(l.slots)
}

// Active returns the number of jobs that have not finished.
func (l *Local) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, lj := range l.jobs {
		if !lj.state.IsTerminal() {
			n++
		}
	}
	return n
}
