package model

import (
	"fmt"
	"strings"
)

// Job describes one schedulable unit of work.
//
// Everything except ID, FailureCount and Attempts is fixed once the job has
// been produced by a job source. Those three fields are owned by the pool.
type Job struct {
	RemoteCommand string   `json:"remote_command" yaml:"command"`
	Args          []string `json:"args,omitempty" yaml:"args,omitempty"`
	NativeOptions string   `json:"native_options,omitempty" yaml:"native,omitempty"`
	WorkDir       string   `json:"work_dir,omitempty" yaml:"workdir,omitempty"`
	Source        string   `json:"source,omitempty" yaml:"source,omitempty"`

	ID           string `json:"id,omitempty" yaml:"-"`
	FailureCount int    `json:"failure_count" yaml:"-"`
	Attempts     int    `json:"attempts" yaml:"-"`
}

// CommandLine renders the command and its arguments for display.
func (j *Job) CommandLine() string {
	parts := make([]string, 0, len(j.Args)+1)
	parts = append(parts, j.RemoteCommand)
	for _, a := range j.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Label returns the source label, falling back to the job id.
func (j *Job) Label() string {
	if j.Source != "" {
		return j.Source
	}
	return j.ID
}

// TerminationInfo describes how a finished job ended.
type TerminationInfo struct {
	HasExited  bool   `json:"has_exited"`
	ExitStatus int    `json:"exit_status"`
	HasSignal  bool   `json:"has_signal"`
	Signal     string `json:"signal,omitempty"`
	WasAborted bool   `json:"was_aborted"`
}

// Succeeded reports whether the job exited with status 0, without a signal,
// and was not aborted.
func (t *TerminationInfo) Succeeded() bool {
	return t != nil && !t.WasAborted && !t.HasSignal && t.ExitStatus == 0
}

// Classify returns the failure reason for a finished job, or "" on success.
// Abort takes precedence over signal, and signal over exit status.
func (t *TerminationInfo) Classify() FailureReason {
	switch {
	case t == nil:
		return ReasonStatusAmbiguous
	case t.WasAborted:
		return ReasonAborted
	case t.HasSignal:
		return ReasonSignaled
	case t.ExitStatus != 0:
		return ReasonNonzeroExit
	}
	return ""
}

// Outcome is the result of classifying one terminal job.
// Reason is empty and Action is unset when the job succeeded.
type Outcome struct {
	Job    *Job             `json:"job"`
	JobID  string           `json:"job_id"`
	Reason FailureReason    `json:"reason,omitempty"`
	Info   *TerminationInfo `json:"info,omitempty"`
	Action Action           `json:"action,omitempty"`
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.Reason == ""
}
