package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Trigger an immediate source directory scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.doJSON("POST", "/api/scan", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan requested")
			return nil
		},
	}
}
