package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MinSafeInterval is the largest poll interval, in seconds, that still needs
// ForceInterval. Shorter intervals put too much load on the scheduler.
const MinSafeInterval = 10

var (
	// ErrIllegalInterval is returned for poll intervals below one second.
	ErrIllegalInterval = errors.New("illegal interval")
	// ErrUnsafeInterval is returned for short poll intervals without ForceInterval.
	ErrUnsafeInterval = errors.New("unwise interval")
	// ErrIllegalResubmit is returned for a negative resubmission count.
	ErrIllegalResubmit = errors.New("illegal number of resubmissions")
)

// RunConfig holds configuration for one qsync run.
// Every field can be set from a YAML file and overridden by command-line flags.
type RunConfig struct {
	PollInterval  int    `yaml:"poll_interval"`  // Seconds between status polls (default 60)
	ForceInterval bool   `yaml:"force_interval"` // Accept intervals of MinSafeInterval seconds or less
	Policy        string `yaml:"on_failure"`     // stop, proceed, or a full policy expression
	Resubmit      int    `yaml:"resubmit"`       // Resubmit failed jobs at most N times (0 = never)
	LogFile       string `yaml:"log_file"`       // Log destination (default stderr)
	LogLevel      string `yaml:"log_level"`      // debug, info, warn, error
	LogFormat     string `yaml:"log_format"`     // plain, text, json
	Backend       string `yaml:"backend"`        // local or remote
	Server        string `yaml:"server"`         // Gateway URL for the remote backend
	Slots         int    `yaml:"slots"`          // Concurrent jobs for the local backend (0 = CPUs)
	DBPath        string `yaml:"db"`             // Ledger path (default ~/.qsync/qsync.db)
	NoLedger      bool   `yaml:"no_ledger"`      // Do not record runs
}

// DefaultRunConfig returns sensible defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		PollInterval: 60,
		Policy:       "proceed",
		LogLevel:     "info",
		LogFormat:    "plain",
		Backend:      "local",
	}
}

// LoadFile reads a YAML config file on top of cfg.
// Keys missing from the file keep the values already in cfg.
func LoadFile(path string, cfg *RunConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects illegal settings before any job is submitted.
func (c RunConfig) Validate() error {
	if c.PollInterval < 1 {
		return fmt.Errorf("%w: %d", ErrIllegalInterval, c.PollInterval)
	}
	if c.PollInterval <= MinSafeInterval && !c.ForceInterval {
		return fmt.Errorf("%w: %d (use --force-interval if you want this anyway)", ErrUnsafeInterval, c.PollInterval)
	}
	if c.Resubmit < 0 {
		return fmt.Errorf("%w: %d", ErrIllegalResubmit, c.Resubmit)
	}
	if c.Resubmit > 0 && strings.HasPrefix(strings.ToLower(c.Policy), "resubmit") {
		return fmt.Errorf("config: --resubmit-on-failure cannot be combined with policy %q", c.Policy)
	}
	switch c.Backend {
	case "local":
		if c.Slots < 0 {
			return fmt.Errorf("config: illegal number of slots: %d", c.Slots)
		}
	case "remote":
		if c.Server == "" {
			return errors.New("config: the remote backend needs a server URL")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}

// PolicyExpr combines Policy and Resubmit into one failure policy expression.
func (c RunConfig) PolicyExpr() string {
	base := c.Policy
	if base == "" {
		base = "proceed"
	}
	if c.Resubmit > 0 {
		return fmt.Sprintf("resubmit:%d:%s", c.Resubmit, base)
	}
	return base
}

// ResolveDBPath returns the ledger path, defaulting to ~/.qsync/qsync.db.
// The directory is created when needed.
func (c RunConfig) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".qsync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create %s: %w", dir, err)
	}
	return filepath.Join(dir, "qsync.db"), nil
}

// ServerConfig holds configuration for the qsync scheduler gateway.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: plain, text, json
	Slots     int    // Concurrent jobs (0 = number of CPUs)
	WorkDir   string // Default working directory for jobs
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}
