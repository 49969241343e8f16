package store

import (
	"context"
	"time"

	"github.com/me/qsync/pkg/model"
)

// Store defines the run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, id string, state model.RunState, succeeded bool, at time.Time) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)

	// Attempts
	RecordSubmit(ctx context.Context, runID string, job *model.Job, at time.Time) error
	RecordOutcome(ctx context.Context, runID string, outcome model.Outcome, at time.Time) error
	ListAttempts(ctx context.Context, runID string) ([]*model.Attempt, error)
	ListFailedAttempts(ctx context.Context, opts model.ListOptions) ([]*model.Attempt, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
