package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/qsync/internal/backend"
	"github.com/me/qsync/internal/config"
	"github.com/me/qsync/internal/pool"
	"github.com/me/qsync/internal/source"
	"github.com/me/qsync/internal/store"
	"github.com/me/qsync/pkg/model"
)

// ErrJobsFailed is returned by run when not every job succeeded.
var ErrJobsFailed = errors.New("not all jobs succeeded")

// terminateTimeout bounds the final cleanup of remaining jobs.
const terminateTimeout = 30 * time.Second

// runFlags holds the raw flag values of the run command.
type runFlags struct {
	configFile    string
	stopOnFailure bool
	proceed       bool
	resubmit      int
	policy        string
	logFile       string
	interval      int
	forceInterval bool
	backend       string
	server        string
	slots         int
	db            string
	noLedger      bool
	dryRun        bool
}

// connectionFactory builds the backend for a run. Tests replace it.
var connectionFactory = defaultConnection

func newRunCmd() *cobra.Command {
	var f runFlags
	defaults := config.DefaultRunConfig()

	cmd := &cobra.Command{
		Use:   "run [job-file...]",
		Short: "Submit all jobs and wait for them to finish",
		Long: `Submits one job per line of each command file (or per entry of each
.yaml/.yml job list) and polls until every job has finished.

A command line may start with native scheduler options separated from the
command by "--", for example:

    -wd /scratch -o out.$JOB_ID -- ./align.sh sample1.fq

With no job files, commands are read from standard input. The exit status
is 1 when any job did not succeed.

Jobs are terminated only while some of them are still in flight: when a stop
policy ends synchronization early, or when submission, polling or a signal
aborts the run. A run that finishes with failures leaves the scheduler alone,
so other clients sharing a remote gateway keep their jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRunConfig(cmd, f)
			if err != nil {
				return err
			}
			return runJobs(cmd, cfg, args, f.dryRun)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "YAML config file; flags override its values")
	fl.BoolVarP(&f.stopOnFailure, "stop-on-failure", "s", false, "Stop synchronizing when a job fails")
	fl.BoolVarP(&f.proceed, "proceed-on-failure", "p", false, "Keep synchronizing the other jobs when a job fails (default)")
	fl.IntVarP(&f.resubmit, "resubmit-on-failure", "r", 0, "Resubmit a failed job until it has failed N times")
	fl.StringVar(&f.policy, "policy", "", "Failure policy: stop, proceed or resubmit:N[:policy]")
	fl.StringVarP(&f.logFile, "log-file", "l", "", "Append log messages to FILE instead of stderr")
	fl.IntVarP(&f.interval, "interval", "i", defaults.PollInterval, "Seconds between status polls")
	fl.BoolVar(&f.forceInterval, "force-interval", false, fmt.Sprintf("Accept poll intervals of %d seconds or less", config.MinSafeInterval))
	fl.StringVar(&f.backend, "backend", defaults.Backend, "Scheduler backend: local or remote")
	fl.StringVar(&f.server, "server", defaultServer(), "Gateway URL for the remote backend (or QSYNC_SERVER env)")
	fl.IntVar(&f.slots, "slots", 0, "Concurrent jobs for the local backend (0 = number of CPUs)")
	fl.StringVar(&f.db, "db", "", "Ledger database path (default ~/.qsync/qsync.db)")
	fl.BoolVar(&f.noLedger, "no-ledger", false, "Do not record the run in the ledger")
	fl.BoolVar(&f.dryRun, "dry-run", false, "Parse job files and print the jobs without submitting")
	cmd.MarkFlagsMutuallyExclusive("stop-on-failure", "proceed-on-failure", "policy")

	return cmd
}

// resolveRunConfig layers defaults, the config file and explicitly set flags.
func resolveRunConfig(cmd *cobra.Command, f runFlags) (config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if f.server != "" {
		cfg.Server = f.server
	}
	if f.configFile != "" {
		if err := config.LoadFile(f.configFile, &cfg); err != nil {
			return cfg, err
		}
	}

	fl := cmd.Flags()
	switch {
	case fl.Changed("stop-on-failure") && f.stopOnFailure:
		cfg.Policy = "stop"
	case fl.Changed("proceed-on-failure") && f.proceed:
		cfg.Policy = "proceed"
	case fl.Changed("policy"):
		cfg.Policy = f.policy
	}
	if fl.Changed("resubmit-on-failure") {
		cfg.Resubmit = f.resubmit
	}
	if fl.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if fl.Changed("interval") {
		cfg.PollInterval = f.interval
	}
	if fl.Changed("force-interval") {
		cfg.ForceInterval = f.forceInterval
	}
	if fl.Changed("backend") {
		cfg.Backend = f.backend
	}
	if fl.Changed("server") {
		cfg.Server = f.server
	}
	if fl.Changed("slots") {
		cfg.Slots = f.slots
	}
	if fl.Changed("db") {
		cfg.DBPath = f.db
	}
	if fl.Changed("no-ledger") {
		cfg.NoLedger = f.noLedger
	}
	if fl.Changed("log-level") || flagDebug {
		cfg.LogLevel = flagLogLevel
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runJobs(cmd *cobra.Command, cfg config.RunConfig, paths []string, dryRun bool) error {
	policy, err := pool.ParsePolicy(cfg.PolicyExpr())
	if err != nil {
		return err
	}

	jobs, err := source.Load(paths, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return errors.New("no jobs to run")
	}

	if dryRun {
		printJobs(cmd.OutOrStdout(), jobs, cfg, policy)
		return nil
	}

	var logOut io.Writer = cmd.ErrOrStderr()
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	runLogger := newLogger(logOut, cfg.LogLevel, cfg.LogFormat)

	conn, err := connectionFactory(cfg, runLogger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pool.Option
	rec, closeLedger := openLedger(ctx, cfg, conn.Name(), policy.String(), len(jobs), runLogger)
	defer closeLedger()
	if rec != nil {
		opts = append(opts, pool.WithRecorder(rec))
	}

	p := pool.New(conn, runLogger, opts...)
	interval := time.Duration(cfg.PollInterval) * time.Second
	runLogger.Debug("starting run", "jobs", len(jobs), "policy", policy.String(), "backend", conn.Name(), "interval", interval)

	ok, runErr := p.RunAll(ctx, jobs, policy, interval)
	if runErr == nil && !ok && len(p.InFlight()) > 0 {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
		if err := p.Terminate(tctx); err != nil {
			runLogger.Error("terminate remaining jobs", "error", err)
		}
		cancel()
	}

	if rec != nil {
		state := runState(p, ok, runErr)
		if err := rec.Finish(context.WithoutCancel(ctx), state, ok); err != nil {
			runLogger.Warn("record run result", "run_id", rec.RunID(), "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if !ok {
		return ErrJobsFailed
	}
	return nil
}

func runState(p *pool.Pool, ok bool, err error) model.RunState {
	switch {
	case err != nil:
		return model.RunStateAborted
	case ok:
		return model.RunStateSucceeded
	case p.ShouldStop():
		return model.RunStateStopped
	}
	return model.RunStateFailed
}

// defaultConnection builds the backend named by cfg.Backend.
func defaultConnection(cfg config.RunConfig, logger *slog.Logger) (backend.Connection, error) {
	reg := backend.NewRegistry(logger)
	reg.Register(backend.NewLocal("", cfg.Slots, logger))
	if cfg.Server != "" {
		reg.Register(backend.NewRemote(cfg.Server, logger))
	}
	return reg.Get(cfg.Backend)
}

// openLedger starts a ledger run. Ledger problems are logged and the run
// continues unrecorded.
func openLedger(ctx context.Context, cfg config.RunConfig, backendName, policy string, jobs int, logger *slog.Logger) (*store.RunRecorder, func()) {
	noop := func() {}
	if cfg.NoLedger {
		return nil, noop
	}
	path, err := cfg.ResolveDBPath()
	if err != nil {
		logger.Warn("ledger disabled", "error", err)
		return nil, noop
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		logger.Warn("ledger disabled", "path", path, "error", err)
		return nil, noop
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		logger.Warn("ledger disabled", "path", path, "error", err)
		return nil, noop
	}
	rec, err := store.StartRun(ctx, st, backendName, policy, jobs)
	if err != nil {
		st.Close()
		logger.Warn("ledger disabled", "path", path, "error", err)
		return nil, noop
	}
	logger.Debug("recording run", "run_id", rec.RunID(), "path", path)
	return rec, func() { st.Close() }
}

func printJobs(w io.Writer, jobs []*model.Job, cfg config.RunConfig, policy pool.Policy) {
	fmt.Fprintf(w, "%d jobs, backend %s, policy %s, poll interval %ds\n", len(jobs), cfg.Backend, policy, cfg.PollInterval)
	for _, j := range jobs {
		line := j.CommandLine()
		if j.NativeOptions != "" {
			line = j.NativeOptions + " -- " + line
		}
		fmt.Fprintf(w, "  %s: %s\n", j.Source, line)
	}
}
