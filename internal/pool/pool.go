// Package pool submits batches of jobs to a scheduler connection and
// synchronizes on their completion.
//
// A Pool is single-goroutine: one polling round snapshots the in-flight job
// ids, waits on the connection for at most the poll interval, then classifies
// every job in the snapshot. Failures are routed through a Policy, which can
// stop synchronization, let it proceed, or resubmit the job.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/me/qsync/internal/backend"
	"github.com/me/qsync/pkg/model"
)

// terminateTimeout bounds the cleanup call made after an error.
const terminateTimeout = 30 * time.Second

// Recorder receives every submission and classification made by a Pool.
type Recorder interface {
	RecordSubmit(ctx context.Context, job *model.Job) error
	RecordOutcome(ctx context.Context, outcome model.Outcome) error
}

// Stats counts what happened during a run.
type Stats struct {
	Submitted   int // submission attempts, resubmissions included
	Resubmitted int
	Succeeded   int
	Failures    int // failure classifications, recovered ones included
	Failed      int // jobs that failed permanently
	Elapsed     time.Duration
}

// Option configures optional Pool dependencies.
type Option func(*Pool)

// WithRecorder sets a recorder notified of submissions and outcomes.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) {
		p.recorder = r
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// Pool tracks the jobs of one synchronization run.
type Pool struct {
	conn     backend.Connection
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	// current holds the jobs believed to be in flight, keyed by job id.
	// order lists the same ids in submission order.
	current map[string]*model.Job
	order   []string

	allSucceeded bool
	shouldStop   bool
	failed       []*model.Job
	stats        Stats
}

// New creates a Pool submitting through conn.
func New(conn backend.Connection, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		conn:         conn,
		logger:       logger,
		now:          time.Now,
		current:      make(map[string]*model.Job),
		allSucceeded: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) logf(format string, args ...any) {
	p.logger.Info(fmt.Sprintf(format, args...))
}

// Submit hands job to the connection and tracks it under the returned id.
// Connection errors are returned unchanged apart from wrapping; they are
// not retried.
func (p *Pool) Submit(ctx context.Context, job *model.Job) (string, error) {
	return p.submit(ctx, job, "submitted")
}

func (p *Pool) submit(ctx context.Context, job *model.Job, verb string) (string, error) {
	id, err := p.conn.Submit(ctx, job)
	if err != nil {
		return "", fmt.Errorf("submit job specified at %s: %w", job.Label(), err)
	}
	job.ID = id
	job.Attempts++
	p.current[id] = job
	p.order = append(p.order, id)
	p.stats.Submitted++

	p.logf("job specified at %s %s with id %s", job.Label(), verb, id)
	if p.recorder != nil {
		if err := p.recorder.RecordSubmit(ctx, job); err != nil {
			p.logger.Warn("record submission", "job_id", id, "error", err)
		}
	}
	return id, nil
}

// RunAll submits jobs, then waits for all of them. It returns true when
// every job succeeded. On error every job known to the connection is
// terminated before the error is returned.
func (p *Pool) RunAll(ctx context.Context, jobs []*model.Job, policy Policy, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return false, fmt.Errorf("illegal poll interval %s", interval)
	}
	for _, job := range jobs {
		if _, err := p.Submit(ctx, job); err != nil {
			return false, p.abort(ctx, err)
		}
	}
	if err := p.WaitAll(ctx, policy, interval); err != nil {
		return false, p.abort(ctx, err)
	}
	return p.allSucceeded, nil
}

// abort terminates all jobs after cause and returns cause.
func (p *Pool) abort(ctx context.Context, cause error) error {
	p.logf("synchronization aborted: %v", cause)
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()
	if err := p.Terminate(tctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// WaitAll polls until no job is in flight or a Stop policy fired.
// A nil policy means Proceed.
func (p *Pool) WaitAll(ctx context.Context, policy Policy, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("illegal poll interval %s", interval)
	}
	if policy == nil {
		policy = Proceed{}
	}

	start := p.now()
	for len(p.current) > 0 && !p.shouldStop {
		// Resubmissions during the round append to p.order, so the round
		// works on a copy.
		ids := slices.Clone(p.order)
		p.logf("synchronizing %d jobs, see you in %s", len(ids), interval)

		if err := p.conn.Synchronize(ctx, ids, interval); err != nil {
			return fmt.Errorf("synchronize: %w", err)
		}
		for _, id := range ids {
			if err := p.poll(ctx, id, policy); err != nil {
				return err
			}
		}
	}
	p.stats.Elapsed = p.now().Sub(start)
	p.summarize()
	return nil
}

// poll classifies one job of the current round.
func (p *Pool) poll(ctx context.Context, id string, policy Policy) error {
	job, ok := p.current[id]
	if !ok {
		return nil
	}

	state, err := p.conn.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("status of job %s: %w", id, err)
	}

	switch state {
	case model.JobStateDone:
		info, err := p.conn.Wait(ctx, id)
		if err != nil {
			p.logf("job specified at %s with id %s is done but its exit status is unknown: %v", job.Label(), id, err)
			return p.handleFailure(ctx, id, model.ReasonStatusAmbiguous, nil, policy)
		}
		reason := info.Classify()
		switch reason {
		case "":
			p.logf("job specified at %s with id %s is done", job.Label(), id)
			p.remove(id)
			p.stats.Succeeded++
			p.record(ctx, model.Outcome{Job: job, JobID: id, Info: info})
			return nil
		case model.ReasonAborted:
			p.logf("job specified at %s with id %s aborted", job.Label(), id)
		case model.ReasonSignaled:
			p.logf("job specified at %s with id %s received signal %s", job.Label(), id, info.Signal)
		case model.ReasonNonzeroExit:
			p.logf("job specified at %s with id %s exited with status %d", job.Label(), id, info.ExitStatus)
		}
		return p.handleFailure(ctx, id, reason, info, policy)
	case model.JobStateFailed:
		p.logf("job specified at %s with id %s could not be run by the scheduler", job.Label(), id)
		return p.handleFailure(ctx, id, model.ReasonSchedulerFailure, nil, policy)
	}
	return nil
}

// handleFailure counts the failure and applies the policy's decision.
func (p *Pool) handleFailure(ctx context.Context, id string, reason model.FailureReason, info *model.TerminationInfo, policy Policy) error {
	job := p.current[id]
	p.remove(id)
	job.FailureCount++
	p.allSucceeded = false
	p.stats.Failures++

	action := policy.Decide(job)
	p.record(ctx, model.Outcome{Job: job, JobID: id, Reason: reason, Info: info, Action: action})

	switch action {
	case model.ActionResubmit:
		if _, err := p.submit(ctx, job, "resubmitted"); err != nil {
			p.fail(job)
			return err
		}
		p.stats.Resubmitted++
	case model.ActionStop:
		p.fail(job)
		p.shouldStop = true
	default:
		p.fail(job)
	}
	return nil
}

func (p *Pool) fail(job *model.Job) {
	p.failed = append(p.failed, job)
	p.stats.Failed = len(p.failed)
}

func (p *Pool) remove(id string) {
	delete(p.current, id)
	p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == id })
}

func (p *Pool) record(ctx context.Context, o model.Outcome) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordOutcome(ctx, o); err != nil {
		p.logger.Warn("record outcome", "job_id", o.JobID, "error", err)
	}
}

// summarize logs the final state of the run.
func (p *Pool) summarize() {
	elapsed := p.stats.Elapsed.Round(time.Second)
	switch {
	case p.allSucceeded:
		p.logf("all jobs completed successfully in %s, you're welcome", elapsed)
		return
	case len(p.failed) == 0 && len(p.current) == 0:
		p.logf("all jobs completed in %s after %d failed attempts were resubmitted", elapsed, p.stats.Resubmitted)
		return
	}

	if len(p.failed) > 0 {
		list := make([]string, 0, len(p.failed))
		for _, job := range p.failed {
			list = append(list, fmt.Sprintf("%s with id %s", job.Label(), job.ID))
		}
		p.logf("sorry, the following jobs have failed: %s", strings.Join(list, ", "))
	}
	if len(p.current) > 0 {
		list := make([]string, 0, len(p.order))
		for _, id := range p.order {
			list = append(list, fmt.Sprintf("%s with id %s", p.current[id].Label(), id))
		}
		p.logf("synchronization stopped, still running: %s", strings.Join(list, ", "))
	}
}

// Terminate cancels every job known to the connection and forgets the
// in-flight set. Calling it twice is harmless.
func (p *Pool) Terminate(ctx context.Context) error {
	p.logf("terminating remaining jobs")
	err := p.conn.TerminateAll(ctx)
	clear(p.current)
	p.order = p.order[:0]
	if err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	return nil
}

// AllSucceeded reports whether every classified job succeeded.
func (p *Pool) AllSucceeded() bool {
	return p.allSucceeded
}

// ShouldStop reports whether a Stop policy ended synchronization.
func (p *Pool) ShouldStop() bool {
	return p.shouldStop
}

// Failed returns the jobs that failed permanently, in failure order.
func (p *Pool) Failed() []*model.Job {
	return slices.Clone(p.failed)
}

// InFlight returns the jobs still in flight, in submission order.
func (p *Pool) InFlight() []*model.Job {
	jobs := make([]*model.Job, 0, len(p.order))
	for _, id := range p.order {
		jobs = append(jobs, p.current[id])
	}
	return jobs
}

// Stats returns the run counters.
func (p *Pool) Stats() Stats {
	return p.stats
}
