package pool

import (
	"errors"
	"testing"

	"github.com/me/qsync/pkg/model"
)

func TestResubmit_Decide(t *testing.T) {
	r := Resubmit{MaxTries: 2, Fallback: Stop{}}
	job := &model.Job{}

	job.FailureCount = 1
	if got := r.Decide(job); got != model.ActionResubmit {
		t.Errorf("after 1 failure: %s, want resubmit", got)
	}
	job.FailureCount = 2
	if got := r.Decide(job); got != model.ActionStop {
		t.Errorf("after 2 failures: %s, want stop", got)
	}
}

func TestResubmit_NilFallbackProceeds(t *testing.T) {
	r := Resubmit{MaxTries: 1}
	if got := r.Decide(&model.Job{FailureCount: 1}); got != model.ActionProceed {
		t.Errorf("Decide = %s, want proceed", got)
	}
	if got := r.String(); got != "resubmit:1:proceed" {
		t.Errorf("String = %q", got)
	}
}

func TestNewResubmit_IllegalMaxTries(t *testing.T) {
	for _, n := range []int{0, -3} {
		if _, err := NewResubmit(n, nil); !errors.Is(err, ErrIllegalMaxTries) {
			t.Errorf("NewResubmit(%d) err = %v, want ErrIllegalMaxTries", n, err)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{expr: "stop", want: "stop"},
		{expr: "proceed", want: "proceed"},
		{expr: " Proceed ", want: "proceed"},
		{expr: "resubmit:3", want: "resubmit:3:proceed"},
		{expr: "resubmit:2:stop", want: "resubmit:2:stop"},
		{expr: "resubmit:2:resubmit:1:stop", want: "resubmit:2:resubmit:1:stop"},
		{expr: "resubmit", wantErr: true},
		{expr: "resubmit:0", wantErr: true},
		{expr: "resubmit:x", wantErr: true},
		{expr: "resubmit:2:retry", wantErr: true},
		{expr: "stop:1", wantErr: true},
		{expr: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := ParsePolicy(tt.expr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePolicy: %v", err)
			}
			if p.String() != tt.want {
				t.Errorf("String = %q, want %q", p.String(), tt.want)
			}
		})
	}
}
