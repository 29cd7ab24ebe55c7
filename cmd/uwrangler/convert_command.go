package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"uwrangler/internal/fileutil"
	"uwrangler/internal/logging"
	"uwrangler/internal/media"
	"uwrangler/internal/pipeline"
	"uwrangler/internal/store"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "convert <path>",
		Short: "Ingest a media file and convert it for every configured geometry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}
			if _, ok := media.KindForPath(absPath); !ok {
				return fmt.Errorf("unsupported file extension %q", filepath.Ext(absPath))
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			staged, err := stageIntoSourceDir(absPath, cfg.Paths.SourceDir)
			if err != nil {
				return err
			}

			if !local {
				// Hand the file to a running daemon when one is reachable.
				if err := ctx.doJSON("POST", "/api/scan", nil); err == nil {
					fmt.Fprintf(out, "Staged %s; daemon scan requested\n", filepath.Base(staged))
					return nil
				}
				fmt.Fprintln(out, "Daemon unreachable; converting locally")
			}

			return convertLocally(cmd, ctx, staged)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Convert in-process instead of handing off to the daemon")
	return cmd
}

// stageIntoSourceDir copies the file into the watched source directory so the
// scheduler keeps tracking it. A path already inside the directory stays put.
func stageIntoSourceDir(path, sourceDir string) (string, error) {
	if filepath.Dir(path) == filepath.Clean(sourceDir) {
		return path, nil
	}
	dst := filepath.Join(sourceDir, filepath.Base(path))
	if err := fileutil.CopyVerified(path, dst); err != nil {
		return "", fmt.Errorf("stage file: %w", err)
	}
	return dst, nil
}

func convertLocally(cmd *cobra.Command, ctx *commandContext, path string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := logging.NewNop()

	st, err := store.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	pipe, err := pipeline.New(cfg, nil, st, logger)
	if err != nil {
		return err
	}

	hash, err := media.HashFile(path)
	if err != nil {
		return err
	}
	kind, _ := media.KindForPath(path)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	src := store.Source{
		ID:        hash,
		Name:      media.DisplayName(filepath.Base(path)),
		Filename:  filepath.Base(path),
		Kind:      kind,
		ByteSize:  info.Size(),
		FirstSeen: time.Now().UTC(),
	}
	if _, err := st.UpsertSource(cmd.Context(), src); err != nil {
		return err
	}

	outcomes, convErr := pipe.Convert(cmd.Context(), &src, path)
	pipeline.SortOutcomes(outcomes)

	out := cmd.OutOrStdout()
	headers := []string{"GEOMETRY", "STATUS", "FRAMES", "SIZE", "ERROR"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		size := ""
		if outcome.Bytes > 0 {
			size = humanize.IBytes(uint64(outcome.Bytes))
		}
		rows = append(rows, []string{
			outcome.Geometry,
			outcome.Status,
			fmt.Sprintf("%d", outcome.Frames),
			size,
			outcome.Error,
		})
	}
	fmt.Fprintln(out, renderTable(headers, rows, aligns))
	if convErr != nil {
		return convErr
	}
	fmt.Fprintf(out, "Converted %s (%s)\n", src.Name, shortID(src.ID))
	return nil
}
