package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/me/qsync/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		// The run log already lists the failed jobs.
		if !errors.Is(err, cli.ErrJobsFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
