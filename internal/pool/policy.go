package pool

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/me/qsync/pkg/model"
)

// ErrIllegalMaxTries is returned for a resubmission cap below 1.
var ErrIllegalMaxTries = errors.New("illegal number of resubmissions")

// Policy decides what happens to a job whose terminal state is not a success.
// The pool has already removed the job from the in-flight set and counted
// the failure when Decide is called; the policy only picks the action.
type Policy interface {
	Decide(job *model.Job) model.Action
	String() string
}

// Stop ends synchronization after the current polling round.
type Stop struct{}

// Decide always returns ActionStop.
func (Stop) Decide(*model.Job) model.Action { return model.ActionStop }

func (Stop) String() string { return "stop" }

// Proceed records the failure and keeps synchronizing the other jobs.
type Proceed struct{}

// Decide always returns ActionProceed.
func (Proceed) Decide(*model.Job) model.Action { return model.ActionProceed }

func (Proceed) String() string { return "proceed" }

// Resubmit submits a failed job again until it has failed MaxTries times,
// then defers to Fallback.
type Resubmit struct {
	MaxTries int
	Fallback Policy
}

// NewResubmit validates maxTries and returns a Resubmit policy.
// A nil fallback means Proceed.
func NewResubmit(maxTries int, fallback Policy) (Resubmit, error) {
	if maxTries < 1 {
		return Resubmit{}, fmt.Errorf("%w: %d", ErrIllegalMaxTries, maxTries)
	}
	return Resubmit{MaxTries: maxTries, Fallback: fallback}, nil
}

// Decide resubmits while job.FailureCount is below MaxTries.
func (r Resubmit) Decide(job *model.Job) model.Action {
	if job.FailureCount >= r.MaxTries {
		return r.fallback().Decide(job)
	}
	return model.ActionResubmit
}

func (r Resubmit) String() string {
	return fmt.Sprintf("resubmit:%d:%s", r.MaxTries, r.fallback())
}

func (r Resubmit) fallback() Policy {
	if r.Fallback == nil {
		return Proceed{}
	}
	return r.Fallback
}

// ParsePolicy parses a policy expression:
//
//	stop
//	proceed
//	resubmit:N            (falls back to proceed)
//	resubmit:N:<policy>
func ParsePolicy(expr string) (Policy, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	head, rest, _ := strings.Cut(expr, ":")

	switch head {
	case "stop", "proceed":
		if rest != "" {
			return nil, fmt.Errorf("policy %q takes no arguments", head)
		}
		if head == "stop" {
			return Stop{}, nil
		}
		return Proceed{}, nil
	case "resubmit":
		countStr, fallbackExpr, hasFallback := strings.Cut(rest, ":")
		n, err := strconv.Atoi(countStr)
		if err != nil {
			return nil, fmt.Errorf("policy %q: resubmission count: %w", expr, err)
		}
		var fallback Policy = Proceed{}
		if hasFallback {
			if fallback, err = ParsePolicy(fallbackExpr); err != nil {
				return nil, err
			}
		}
		r, err := NewResubmit(n, fallback)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown failure policy %q (want stop, proceed or resubmit:N[:fallback])", expr)
}
