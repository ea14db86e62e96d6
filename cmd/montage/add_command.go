package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"montage/internal/queueaccess"
)

var manifestExtensions = map[string]struct{}{
	".yaml": {},
	".yml":  {},
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <manifest>",
		Short: "Add a storyboard manifest to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := resolveManifestPath(args[0])
			if err != nil {
				return err
			}

			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				resp, err := access.Enqueue(runCtx, absPath)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty enqueue response")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued storyboard #%d (%s) with %d scenes\n",
					resp.Board.ID, resp.Board.Title, resp.Board.SceneCount)
				return nil
			})
		},
	}
}

// resolveManifestPath validates that the argument names a readable manifest
// file and returns its absolute path.
func resolveManifestPath(arg string) (string, error) {
	absPath, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("manifest does not exist: %s", absPath)
		}
		return "", fmt.Errorf("inspect manifest: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", absPath)
	}

	ext := strings.ToLower(filepath.Ext(info.Name()))
	if _, ok := manifestExtensions[ext]; !ok {
		return "", fmt.Errorf("unsupported manifest extension %q", ext)
	}
	return absPath, nil
}
