package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconvertCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconvert <name-or-id>",
		Short: "Queue a fresh conversion for a known media entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, name, err := resolveMedia(ctx, args[0])
			if err != nil {
				return err
			}
			if err := ctx.doJSON("POST", "/api/media/"+id+"/convert", nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversion queued for %s (%s)\n", name, shortID(id))
			return nil
		},
	}
}
