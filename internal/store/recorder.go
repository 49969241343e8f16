package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/me/qsync/pkg/model"
)

// RunRecorder records the submissions and outcomes of one run. It satisfies
// pool.Recorder.
type RunRecorder struct {
	store Store
	runID string
	now   func() time.Time
}

// StartRun creates a ledger run and returns a recorder bound to it.
func StartRun(ctx context.Context, st Store, backend, policy string, jobs int) (*RunRecorder, error) {
	run := &model.Run{
		ID:        "run_" + uuid.New().String(),
		StartedAt: time.Now(),
		Backend:   backend,
		Policy:    policy,
		Jobs:      jobs,
		State:     model.RunStateRunning,
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return &RunRecorder{store: st, runID: run.ID, now: time.Now}, nil
}

// RunID returns the ledger id of the run.
func (r *RunRecorder) RunID() string {
	return r.runID
}

// RecordSubmit records a new attempt for job.
func (r *RunRecorder) RecordSubmit(ctx context.Context, job *model.Job) error {
	return r.store.RecordSubmit(ctx, r.runID, job, r.now())
}

// RecordOutcome records how an attempt ended.
func (r *RunRecorder) RecordOutcome(ctx context.Context, o model.Outcome) error {
	return r.store.RecordOutcome(ctx, r.runID, o, r.now())
}

// Finish closes the run with state.
func (r *RunRecorder) Finish(ctx context.Context, state model.RunState, succeeded bool) error {
	return r.store.FinishRun(ctx, r.runID, state, succeeded, r.now())
}
