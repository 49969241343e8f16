package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		wantErr error
		ok      bool
	}{
		{"defaults", func(c *RunConfig) {}, nil, true},
		{"zero interval", func(c *RunConfig) { c.PollInterval = 0 }, ErrIllegalInterval, false},
		{"zero interval forced", func(c *RunConfig) { c.PollInterval = 0; c.ForceInterval = true }, ErrIllegalInterval, false},
		{"short interval", func(c *RunConfig) { c.PollInterval = 10 }, ErrUnsafeInterval, false},
		{"short interval forced", func(c *RunConfig) { c.PollInterval = 1; c.ForceInterval = true }, nil, true},
		{"eleven seconds", func(c *RunConfig) { c.PollInterval = 11 }, nil, true},
		{"negative resubmit", func(c *RunConfig) { c.Resubmit = -1 }, ErrIllegalResubmit, false},
		{"resubmit twice", func(c *RunConfig) { c.Resubmit = 2; c.Policy = "resubmit:3" }, nil, false},
		{"remote without server", func(c *RunConfig) { c.Backend = "remote" }, nil, false},
		{"remote with server", func(c *RunConfig) { c.Backend = "remote"; c.Server = "http://h:8080" }, nil, true},
		{"unknown backend", func(c *RunConfig) { c.Backend = "pbs" }, nil, false},
		{"negative slots", func(c *RunConfig) { c.Slots = -2 }, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunConfig_PolicyExpr(t *testing.T) {
	tests := []struct {
		policy   string
		resubmit int
		want     string
	}{
		{"", 0, "proceed"},
		{"stop", 0, "stop"},
		{"proceed", 3, "resubmit:3:proceed"},
		{"stop", 2, "resubmit:2:stop"},
		{"resubmit:4:stop", 0, "resubmit:4:stop"},
	}
	for _, tt := range tests {
		cfg := RunConfig{Policy: tt.policy, Resubmit: tt.resubmit}
		if got := cfg.PolicyExpr(); got != tt.want {
			t.Errorf("PolicyExpr(%q, %d) = %q, want %q", tt.policy, tt.resubmit, got, tt.want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qsync.yaml")
	content := "poll_interval: 5\nforce_interval: true\non_failure: stop\nresubmit: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultRunConfig()
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.PollInterval != 5 || !cfg.ForceInterval || cfg.Policy != "stop" || cfg.Resubmit != 2 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Backend != "local" || cfg.LogFormat != "plain" {
		t.Errorf("defaults not kept: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := DefaultRunConfig()
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolveDBPath_Explicit(t *testing.T) {
	cfg := RunConfig{DBPath: ":memory:"}
	got, err := cfg.ResolveDBPath()
	if err != nil {
		t.Fatal(err)
	}
	if got != ":memory:" {
		t.Errorf("ResolveDBPath() = %q, want :memory:", got)
	}
}
