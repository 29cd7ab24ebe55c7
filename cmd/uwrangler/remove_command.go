package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name-or-id>",
		Short: "Remove a media entry and its cached renditions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, name, err := resolveMedia(ctx, args[0])
			if err != nil {
				return err
			}
			if err := ctx.doJSON("DELETE", "/api/media/"+id, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s)\n", name, shortID(id))
			return nil
		},
	}
}

// resolveMedia maps a user-supplied name, full ID, or unambiguous ID prefix
// to one media entry.
func resolveMedia(ctx *commandContext, ref string) (id, name string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("empty media reference")
	}

	var result mediaListResponse
	query := url.Values{"per_page": {"1000"}}
	if err := ctx.getJSON("/api/media?"+query.Encode(), &result); err != nil {
		return "", "", err
	}

	var matches []mediaEntry
	for _, entry := range result.Entries {
		if entry.ID == ref || strings.EqualFold(entry.Name, ref) {
			return entry.ID, entry.Name, nil
		}
		if strings.HasPrefix(entry.ID, ref) {
			matches = append(matches, entry)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0].ID, matches[0].Name, nil
	case 0:
		return "", "", fmt.Errorf("no media matches %q", ref)
	default:
		return "", "", fmt.Errorf("%q is ambiguous (%d matches)", ref, len(matches))
	}
}
