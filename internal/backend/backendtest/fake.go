// Package backendtest provides an in-memory scheduler connection whose job
// outcomes are scripted by the test.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/me/qsync/internal/backend"
	"github.com/me/qsync/pkg/model"
)

// Behavior scripts what happens to one submission.
type Behavior struct {
	// State is reported once the job has finished. Empty means DONE.
	State model.JobState
	// Info is returned by Wait for a DONE job.
	Info *model.TerminationInfo
	// WaitErr makes Wait fail even though the job is DONE.
	WaitErr error
	// AfterRounds is the number of Synchronize calls before the job finishes.
	AfterRounds int
	// Never keeps the job RUNNING until Complete is called.
	Never bool
}

// Success finishes after rounds polls with exit status 0.
func Success(rounds int) Behavior {
	return Behavior{Info: &model.TerminationInfo{HasExited: true}, AfterRounds: rounds}
}

// Exit finishes after rounds polls with the given exit status.
func Exit(status, rounds int) Behavior {
	return Behavior{Info: &model.TerminationInfo{HasExited: true, ExitStatus: status}, AfterRounds: rounds}
}

// SchedulerFailure reports FAILED after rounds polls.
func SchedulerFailure(rounds int) Behavior {
	return Behavior{State: model.JobStateFailed, AfterRounds: rounds}
}

// Script chooses the behavior of a submission. attempt counts from 1.
type Script func(job *model.Job, attempt int) Behavior

// Submission records one Submit call.
type Submission struct {
	ID      string
	Source  string
	Attempt int
}

type fakeJob struct {
	behavior  Behavior
	submitted int // round at submission
	forced    *Behavior
}

// Fake implements backend.Connection in memory. It never sleeps: each
// Synchronize call counts as one elapsed round.
type Fake struct {
	Script Script
	// SubmitErr, when set, is consulted before each submission.
	SubmitErr func(job *model.Job) error
	// SyncErr, when set, is returned by Synchronize.
	SyncErr error
	// OnSync runs after every Synchronize call with the round number.
	OnSync func(f *Fake, round int)
	// MaxRounds bounds Synchronize calls; 0 means 1000.
	MaxRounds int

	mu          sync.Mutex
	next        int
	round       int
	jobs        map[string]*fakeJob
	attempts    map[string]int
	submissions []Submission
	terminated  int
	statusCalls []string
}

var _ backend.Connection = (*Fake)(nil)

// New creates a Fake that runs script for every submission.
func New(script Script) *Fake {
	return &Fake{
		Script:   script,
		jobs:     make(map[string]*fakeJob),
		attempts: make(map[string]int),
	}
}

// BySource returns a script that looks behaviors up by job source. Each
// source maps to one behavior per attempt; the last one repeats.
func BySource(behaviors map[string][]Behavior) Script {
	return func(job *model.Job, attempt int) Behavior {
		list := behaviors[job.Source]
		if len(list) == 0 {
			return Success(0)
		}
		if attempt > len(list) {
			return list[len(list)-1]
		}
		return list[attempt-1]
	}
}

// Name returns "fake".
func (f *Fake) Name() string {
	return "fake"
}

// Submit assigns the next id and records the submission.
func (f *Fake) Submit(_ context.Context, job *model.Job) (string, error) {
	if f.SubmitErr != nil {
		if err := f.SubmitErr(job); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	id := fmt.Sprintf("fake-%d", f.next)
	f.attempts[job.Source]++
	attempt := f.attempts[job.Source]

	b := Success(0)
	if f.Script != nil {
		b = f.Script(job, attempt)
	}
	f.jobs[id] = &fakeJob{behavior: b, submitted: f.round}
	f.submissions = append(f.submissions, Submission{ID: id, Source: job.Source, Attempt: attempt})
	return id, nil
}

// Synchronize advances the round counter.
func (f *Fake) Synchronize(ctx context.Context, ids []string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.SyncErr != nil {
		return f.SyncErr
	}

	f.mu.Lock()
	f.round++
	round := f.round
	limit := f.MaxRounds
	f.mu.Unlock()

	if limit == 0 {
		limit = 1000
	}
	if round > limit {
		return fmt.Errorf("fake: more than %d rounds", limit)
	}
	if f.OnSync != nil {
		f.OnSync(f, round)
	}
	return nil
}

// effective returns the behavior in force and whether the job has finished.
func (f *Fake) effective(fj *fakeJob) (Behavior, bool) {
	if fj.forced != nil {
		return *fj.forced, true
	}
	b := fj.behavior
	if b.Never {
		return b, false
	}
	return b, f.round-fj.submitted >= b.AfterRounds
}

// Status reports RUNNING until the scripted round is reached.
func (f *Fake) Status(_ context.Context, id string) (model.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, id)

	fj, ok := f.jobs[id]
	if !ok {
		return model.JobStateUndetermined, fmt.Errorf("%w: %s", backend.ErrUnknownJob, id)
	}
	b, finished := f.effective(fj)
	if !finished {
		return model.JobStateRunning, nil
	}
	if b.State == "" {
		return model.JobStateDone, nil
	}
	return b.State, nil
}

// Wait returns the scripted termination info of a finished job.
func (f *Fake) Wait(_ context.Context, id string) (*model.TerminationInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fj, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownJob, id)
	}
	b, finished := f.effective(fj)
	if !finished || b.Info == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotTerminated, id)
	}
	if b.WaitErr != nil {
		return nil, b.WaitErr
	}
	info := *b.Info
	return &info, nil
}

// TerminateAll counts the call and aborts every unfinished job.
func (f *Fake) TerminateAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
	for _, fj := range f.jobs {
		if _, finished := f.effective(fj); !finished {
			fj.forced = &Behavior{Info: &model.TerminationInfo{WasAborted: true}}
		}
	}
	return nil
}

// Complete forces job id to finish with b on the next status query.
func (f *Fake) Complete(id string, b Behavior) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fj, ok := f.jobs[id]
	if !ok {
		return errors.New("fake: unknown job " + id)
	}
	b.Never = false
	fj.forced = &b
	return nil
}

// Submissions returns every Submit call in order.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

// IDsFor returns the ids assigned to submissions of source, in order.
func (f *Fake) IDsFor(source string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, s := range f.submissions {
		if s.Source == source {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Rounds returns the number of Synchronize calls so far.
func (f *Fake) Rounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.round
}

// Terminated returns the number of TerminateAll calls.
func (f *Fake) Terminated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// StatusCalls returns the ids passed to Status, in call order.
func (f *Fake) StatusCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusCalls...)
}
