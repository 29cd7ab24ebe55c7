package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type jobRecord struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	SourceID  string `json:"source_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show recent conversion jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Jobs []jobRecord `json:"jobs"`
			}
			path := "/api/jobs"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			if err := ctx.getJSON(path, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(out, "No jobs recorded.")
				return nil
			}

			headers := []string{"ID", "MEDIA", "STATUS", "ATTEMPTS", "UPDATED", "ERROR"}
			aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					shortID(job.SourceID),
					job.Status,
					strconv.Itoa(job.Attempts),
					relativeTime(job.UpdatedAt),
					job.Error,
				})
			}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to show")
	return cmd
}

func relativeTime(stamp string) string {
	if stamp == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return stamp
	}
	return humanize.Time(parsed)
}
