package backend

import (
	"context"
	"errors"
	"time"

	"github.com/me/qsync/pkg/model"
)

var (
	// ErrNotTerminated is returned by Wait when no termination info is available.
	ErrNotTerminated = errors.New("job has not terminated")
	// ErrUnknownJob is returned for job ids the connection does not own.
	ErrUnknownJob = errors.New("unknown job")
)

// Connection is a session with a cluster scheduler.
// A connection owns every job submitted through it.
type Connection interface {
	// Name returns the backend identifier ("local", "remote", ...).
	Name() string

	// Submit hands a job to the scheduler and returns the id it assigned.
	// Each call yields a fresh id, even for the same job.
	Submit(ctx context.Context, job *model.Job) (string, error)

	// Synchronize blocks until all ids are terminal or timeout elapses.
	// A timeout is not an error.
	Synchronize(ctx context.Context, ids []string, timeout time.Duration) error

	// Status returns the current state of one job without blocking.
	Status(ctx context.Context, id string) (model.JobState, error)

	// Wait returns the termination info of a finished job without blocking.
	// It returns ErrNotTerminated when the info is not available.
	Wait(ctx context.Context, id string) (*model.TerminationInfo, error)

	// TerminateAll cancels every job owned by the connection. Calling it
	// again is harmless.
	TerminateAll(ctx context.Context) error
}
