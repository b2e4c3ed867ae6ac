package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pysugar/shelflife/internal/app"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/tbdb"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the TBDB connection, quota and job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				c := cmd.Context()
				conn, err := a.Connections.Instance(c)
				if err != nil {
					return err
				}
				quota, err := tbdb.QuotaStatus(c, a.Cache, a.Connections)
				if err != nil {
					return err
				}
				stats, err := a.Queue.Stats(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(conn, quota, stats, time.Now()))
				return nil
			})
		},
	}
}

func renderStatus(conn *models.Connection, quota *models.QuotaSnapshot, stats map[models.JobState]int64, now time.Time) string {
	rows := [][]string{
		{"Registered", yesNo(conn.Registered())},
		{"Connected", yesNo(conn.Connected())},
		{"Status", string(conn.Status)},
		{"Verified", yesNo(conn.Verified(now))},
		{"API", conn.APIBaseURL},
	}
	if conn.ExpiresAt != nil {
		rows = append(rows, []string{"Token expires", conn.ExpiresAt.Local().Format(time.RFC3339)})
	}
	if conn.LastError != "" {
		rows = append(rows, []string{"Last error", conn.LastError})
	}
	if quota != nil {
		rows = append(rows,
			[]string{"Quota", fmt.Sprintf("%d / %d (%s%%)", quota.Remaining, quota.Limit, quota.Percentage.StringFixed(1))},
		)
		if !quota.ResetAt.IsZero() {
			rows = append(rows, []string{"Quota resets", quota.ResetAt.Local().Format(time.RFC3339)})
		}
	}
	for _, st := range []models.JobState{models.JobPending, models.JobRunning, models.JobFailed, models.JobDiscarded, models.JobDone} {
		rows = append(rows, []string{"Jobs " + string(st), strconv.FormatInt(stats[st], 10)})
	}
	return renderTable([]string{"TBDB", ""}, rows, nil)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
