package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/grantila/compd/internal/shell/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent wrapped runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openHistory(a.cfg.History.DSN)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), store.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println(mutedStyle.Render("No runs recorded. Enable recording with --history."))
				return nil
			}
			cmd.Println(renderRuns(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the readiness checks of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openHistory(a.cfg.History.DSN)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(renderRuns([]store.Run{*run}))
			if len(run.Checks) > 0 {
				cmd.Println(renderChecks(run.Checks))
			}
			return nil
		},
	})

	return cmd
}

// openHistory opens the history database, creating its directory.
func openHistory(dsn string) (*store.SQLiteStore, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create history directory: %w", err)
		}
	}
	return store.NewSQLiteStore(dsn)
}

func renderRuns(runs []store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Command,
			r.ComposeFile,
			r.DockerHost,
			runDuration(r),
			exitStatus(r.ExitCode),
			r.Error,
		})
	}
	return renderTable([]string{"ID", "STARTED", "COMMAND", "FILE", "HOST", "DURATION", "EXIT", "ERROR"}, rows)
}

func renderChecks(checks []store.Check) string {
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		ports := make([]string, 0, len(c.Ports))
		for _, p := range c.Ports {
			ports = append(ports, strconv.Itoa(p))
		}

		status := successStyle.Render("ready")
		if c.Error != "" {
			status = errorStyle.Render(c.Error)
		}

		rows = append(rows, []string{
			c.Service,
			c.Detector,
			strings.Join(ports, ","),
			strconv.FormatBool(c.Final),
			c.Duration.Round(time.Millisecond).String(),
			status,
		})
	}
	return renderTable([]string{"SERVICE", "DETECTOR", "PORTS", "FINAL", "DURATION", "RESULT"}, rows)
}

func runDuration(r store.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

func exitStatus(code *int) string {
	switch {
	case code == nil:
		return mutedStyle.Render("running")
	case *code == 0:
		return successStyle.Render("0")
	default:
		return errorStyle.Render(strconv.Itoa(*code))
	}
}
