package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/qsync/internal/backend"
)

func newCancelCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Terminate every job of a qsync gateway",
		Long: `Asks the gateway to terminate all of its jobs, including jobs submitted by
other qsync clients. Their synchronizing clients see them as aborted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return errors.New("no gateway URL (use --server or QSYNC_SERVER)")
			}
			r := backend.NewRemote(server, logger)
			if err := r.TerminateAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All jobs of %s terminated.\n", server)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServer(), "Gateway URL (or QSYNC_SERVER env)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the qsync version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qsync %s\n", Version)
		},
	}
}
