package model

// JobState is the status of a submitted job as reported by a scheduler connection.
type JobState string

const (
	JobStateUndetermined JobState = "UNDETERMINED"
	JobStateQueued       JobState = "QUEUED"
	JobStateOnHold       JobState = "ON_HOLD"
	JobStateRunning      JobState = "RUNNING"
	JobStateSuspended    JobState = "SUSPENDED"
	JobStateDone         JobState = "DONE"
	JobStateFailed       JobState = "FAILED"
)

// String returns the string representation of the job state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job will not change state without resubmission.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateDone, JobStateFailed:
		return true
	}
	return false
}

// FailureReason classifies a terminal state that is not a success.
type FailureReason string

const (
	ReasonAborted          FailureReason = "aborted"
	ReasonSignaled         FailureReason = "signaled"
	ReasonNonzeroExit      FailureReason = "nonzero-exit"
	ReasonSchedulerFailure FailureReason = "scheduler-failure"
	// ReasonStatusAmbiguous is used when a job is DONE but its termination
	// info cannot be fetched.
	ReasonStatusAmbiguous FailureReason = "status-ambiguous"
)

// String returns the string representation of the failure reason.
func (r FailureReason) String() string {
	return string(r)
}

// Action is the disposition a failure policy picks for a failed job.
type Action string

const (
	ActionStop     Action = "stop"
	ActionProceed  Action = "proceed"
	ActionResubmit Action = "resubmit"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}
