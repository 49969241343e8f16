package model

import "time"

// RunState is the lifecycle state of a ledger run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateSucceeded RunState = "SUCCEEDED"
	RunStateFailed    RunState = "FAILED"
	RunStateStopped   RunState = "STOPPED"
	RunStateAborted   RunState = "ABORTED"
)

func (s RunState) String() string {
	return string(s)
}

// AttemptState is the state of one submission attempt in the ledger.
type AttemptState string

const (
	AttemptSubmitted AttemptState = "SUBMITTED"
	AttemptSucceeded AttemptState = "SUCCEEDED"
	AttemptFailed    AttemptState = "FAILED"
)

func (s AttemptState) String() string {
	return string(s)
}

// Run is one qsync invocation recorded in the ledger.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Backend    string     `json:"backend"`
	Policy     string     `json:"policy"`
	Jobs       int        `json:"jobs"`
	Succeeded  bool       `json:"succeeded"`
	State      RunState   `json:"state"`
}

// Attempt is one submission of a job within a run.
type Attempt struct {
	ID          int64         `json:"id"`
	RunID       string        `json:"run_id"`
	Source      string        `json:"source"`
	Command     string        `json:"command"`
	JobID       string        `json:"job_id"`
	Attempt     int           `json:"attempt"`
	State       AttemptState  `json:"state"`
	Reason      FailureReason `json:"reason,omitempty"`
	Action      Action        `json:"action,omitempty"`
	ExitStatus  *int          `json:"exit_status,omitempty"`
	Signal      string        `json:"signal,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// ListOptions holds pagination parameters for ledger queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
