package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type statusResponse struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid"`
	DBPath     string `json:"db_path"`
	SourceDir  string `json:"source_dir"`
	CacheRoot  string `json:"cache_root"`
	StreamAddr string `json:"stream_addr"`
	QueueDepth int    `json:"queue_depth"`
	Cache      struct {
		Sources       int   `json:"sources"`
		Artifacts     int   `json:"artifacts"`
		ArtifactBytes int64 `json:"artifact_bytes"`
		MaxBytes      int64 `json:"max_bytes"`
		MaxArtifacts  int   `json:"max_artifacts"`
	} `json:"cache"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and cache status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status statusResponse
			if err := ctx.getJSON("/api/status", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			runningKind := statusOK
			if !status.Running {
				runningKind = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, yesNo(status.Running), colorize))
			fmt.Fprintln(out, renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", status.PID), colorize))
			fmt.Fprintln(out, renderStatusLine("Stream address", statusInfo, status.StreamAddr, colorize))
			fmt.Fprintln(out, renderStatusLine("Source dir", statusInfo, status.SourceDir, colorize))
			fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DBPath, colorize))

			queueKind := statusOK
			if status.QueueDepth > 0 {
				queueKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Queued jobs", queueKind, fmt.Sprintf("%d", status.QueueDepth), colorize))

			fmt.Fprintln(out, renderSectionHeader("Cache", colorize))
			fmt.Fprintln(out, renderStatusLine("Root", statusInfo, status.CacheRoot, colorize))
			fmt.Fprintln(out, renderStatusLine("Media", statusInfo, fmt.Sprintf("%d", status.Cache.Sources), colorize))
			artifacts := fmt.Sprintf("%d", status.Cache.Artifacts)
			if status.Cache.MaxArtifacts > 0 {
				artifacts = fmt.Sprintf("%d of %d", status.Cache.Artifacts, status.Cache.MaxArtifacts)
			}
			fmt.Fprintln(out, renderStatusLine("Artifacts", statusInfo, artifacts, colorize))
			usage := humanize.IBytes(uint64(status.Cache.ArtifactBytes))
			if status.Cache.MaxBytes > 0 {
				usage = fmt.Sprintf("%s of %s", usage, humanize.IBytes(uint64(status.Cache.MaxBytes)))
			}
			fmt.Fprintln(out, renderStatusLine("Size", statusInfo, usage, colorize))
			return nil
		},
	}
}
