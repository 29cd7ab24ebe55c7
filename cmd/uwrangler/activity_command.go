package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type activityEvent struct {
	Time     string `json:"time"`
	Session  string `json:"session"`
	Kind     string `json:"kind"`
	Client   string `json:"client"`
	Geometry string `json:"geometry,omitempty"`
	Name     string `json:"name,omitempty"`
	Frames   int    `json:"frames,omitempty"`
	Dropped  int    `json:"dropped,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func newActivityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "activity",
		Short: "Show recent stream client activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Events []activityEvent `json:"events"`
			}
			if err := ctx.getJSON("/api/activity", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Events) == 0 {
				fmt.Fprintln(out, "No stream activity recorded.")
				return nil
			}

			headers := []string{"WHEN", "SESSION", "EVENT", "CLIENT", "GEOMETRY", "NAME", "DETAIL"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft}
			rows := make([][]string, 0, len(resp.Events))
			for _, event := range resp.Events {
				detail := event.Detail
				if event.Kind == "stream" {
					detail = strconv.Itoa(event.Frames) + " frames"
					if event.Dropped > 0 {
						detail += ", " + strconv.Itoa(event.Dropped) + " dropped"
					}
				}
				rows = append(rows, []string{
					relativeTime(event.Time),
					event.Session,
					event.Kind,
					event.Client,
					event.Geometry,
					event.Name,
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}
}
