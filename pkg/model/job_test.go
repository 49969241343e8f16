package model

import "testing"

func TestJob_CommandLine(t *testing.T) {
	j := &Job{RemoteCommand: "echo", Args: []string{"hello world", "x", ""}}
	want := `echo "hello world" x ""`
	if got := j.CommandLine(); got != want {
		t.Errorf("CommandLine() = %q, want %q", got, want)
	}
}

func TestJob_Label(t *testing.T) {
	j := &Job{ID: "42"}
	if got := j.Label(); got != "42" {
		t.Errorf("Label() = %q, want %q", got, "42")
	}
	j.Source = "jobs.txt:3"
	if got := j.Label(); got != "jobs.txt:3" {
		t.Errorf("Label() = %q, want %q", got, "jobs.txt:3")
	}
}
