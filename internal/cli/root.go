// Package cli implements the qsync command line.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/qsync/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// defaultServer returns the gateway URL from QSYNC_SERVER, if set.
func defaultServer() string {
	return os.Getenv("QSYNC_SERVER")
}

// NewRootCmd creates the root cobra command for the qsync CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qsync",
		Short: "qsync submits batches of jobs and waits for all of them",
		Long: `qsync submits every job of one or more job files to a scheduler, then polls
until all of them have finished. Failed jobs are handled by a failure policy:
stop synchronizing, proceed with the others, or resubmit.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = newLogger(cmd.ErrOrStderr(), flagLogLevel, flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "plain", "Log format (plain, text, json)")

	root.AddCommand(
		newRunCmd(),
		newHistoryCmd(),
		newCancelCmd(),
		newVersionCmd(),
	)

	return root
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	return logging.NewLoggerWithWriter(logging.ParseLevel(level), format, w)
}
