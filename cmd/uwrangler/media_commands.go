package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type mediaListResponse struct {
	Entries    []mediaEntry `json:"entries"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	TotalItems int          `json:"total_items"`
	TotalPages int          `json:"total_pages"`
}

type mediaEntry struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Filename      string   `json:"filename"`
	Kind          string   `json:"kind"`
	ByteSize      int64    `json:"byte_size"`
	FirstSeen     string   `json:"first_seen"`
	Geometries    []string `json:"geometries"`
	ArtifactCount int      `json:"artifact_count"`
	ArtifactBytes int64    `json:"artifact_bytes"`
	ServedTotal   int64    `json:"served_total"`
	JobStatus     string   `json:"job_status,omitempty"`
	JobError      string   `json:"job_error,omitempty"`
}

func newMediaCommand(ctx *commandContext) *cobra.Command {
	var search string
	var sortBy string
	var desc bool
	var page int
	var perPage int

	cmd := &cobra.Command{
		Use:   "media",
		Short: "List ingested media and their cached renditions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if search != "" {
				query.Set("search", search)
			}
			if sortBy != "" {
				query.Set("sort", sortBy)
			}
			if desc {
				query.Set("desc", "1")
			}
			if page > 0 {
				query.Set("page", strconv.Itoa(page))
			}
			if perPage > 0 {
				query.Set("per_page", strconv.Itoa(perPage))
			}

			var result mediaListResponse
			if err := ctx.getJSON("/api/media?"+query.Encode(), &result); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(result.Entries) == 0 {
				fmt.Fprintln(out, "No media found.")
				return nil
			}

			headers := []string{"NAME", "KIND", "SIZE", "GEOMETRIES", "SERVED", "STATUS", "ID"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft}
			rows := make([][]string, 0, len(result.Entries))
			for _, entry := range result.Entries {
				rows = append(rows, []string{
					entry.Name,
					entry.Kind,
					humanize.IBytes(uint64(entry.ByteSize)),
					strings.Join(entry.Geometries, " "),
					strconv.FormatInt(entry.ServedTotal, 10),
					mediaStatus(entry),
					shortID(entry.ID),
				})
			}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			if result.TotalPages > 1 {
				fmt.Fprintf(out, "Page %d of %d (%d items)\n", result.Page, result.TotalPages, result.TotalItems)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Filter by name substring")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort key (name, size, date, served)")
	cmd.Flags().BoolVar(&desc, "desc", false, "Sort in descending order")
	cmd.Flags().IntVar(&page, "page", 0, "Page number")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "Items per page")
	return cmd
}

func mediaStatus(entry mediaEntry) string {
	if entry.JobStatus == "failed" && entry.JobError != "" {
		return "failed: " + entry.JobError
	}
	if entry.JobStatus != "" && entry.JobStatus != "succeeded" {
		return entry.JobStatus
	}
	if entry.ArtifactCount == 0 {
		return "pending"
	}
	return "ready"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
