package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/qsync/internal/config"
	"github.com/me/qsync/internal/store"
	"github.com/me/qsync/pkg/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

func newHistoryCmd() *cobra.Command {
	var dbPath string
	var limit int
	var failed bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs, or failed attempts, from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultRunConfig()
			cfg.DBPath = dbPath
			path, err := cfg.ResolveDBPath()
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(path, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate ledger: %w", err)
			}

			opts := model.ListOptions{Limit: limit}
			out := cmd.OutOrStdout()
			if failed {
				attempts, err := st.ListFailedAttempts(cmd.Context(), opts)
				if err != nil {
					return fmt.Errorf("list failed attempts: %w", err)
				}
				renderAttempts(out, attempts, time.Now())
				return nil
			}

			runs, total, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			renderRuns(out, runs, total, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Ledger database path (default ~/.qsync/qsync.db)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show (max 100)")
	cmd.Flags().BoolVar(&failed, "failed", false, "List failed attempts instead of runs")
	return cmd
}

func renderRuns(w io.Writer, runs []*model.Run, total int, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.ID,
			styleRunState(r.State),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			duration,
			strconv.Itoa(r.Jobs),
			r.Backend,
			r.Policy,
		})
	}
	renderTable(w, []string{"RUN", "STATE", "STARTED", "DURATION", "JOBS", "BACKEND", "POLICY"}, rows)
	if total > len(runs) {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("(%d of %s runs shown)", len(runs), humanize.Comma(int64(total)))))
	}
}

func renderAttempts(w io.Writer, attempts []*model.Attempt, now time.Time) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No failed attempts recorded.")
		return
	}

	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		when := "-"
		if a.FinishedAt != nil {
			when = humanize.RelTime(*a.FinishedAt, now, "ago", "from now")
		}
		detail := string(a.Reason)
		switch {
		case a.Signal != "":
			detail += " (" + a.Signal + ")"
		case a.ExitStatus != nil && *a.ExitStatus != 0:
			detail += fmt.Sprintf(" (%d)", *a.ExitStatus)
		}
		rows = append(rows, []string{
			a.Source,
			a.JobID,
			humanize.Ordinal(a.Attempt),
			failStyle.Render(detail),
			string(a.Action),
			when,
			a.Command,
		})
	}
	renderTable(w, []string{"SOURCE", "JOB", "ATTEMPT", "REASON", "ACTION", "FINISHED", "COMMAND"}, rows)
}

func styleRunState(s model.RunState) string {
	switch s {
	case model.RunStateSucceeded:
		return okStyle.Render(s.String())
	case model.RunStateFailed, model.RunStateAborted:
		return failStyle.Render(s.String())
	case model.RunStateStopped:
		return warnStyle.Render(s.String())
	}
	return s.String()
}

// renderTable writes left-aligned columns sized to their widest cell.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if style != nil {
				c = style.Render(c)
			}
			if i < len(cells)-1 {
				c += strings.Repeat(" ", widths[i]-lipgloss.Width(c)+2)
			}
			parts[i] = c
		}
		return strings.Join(parts, "")
	}

	fmt.Fprintln(w, line(headers, &headerStyle))
	for _, row := range rows {
		fmt.Fprintln(w, line(row, nil))
	}
}
