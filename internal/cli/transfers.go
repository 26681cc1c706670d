package cli

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rescale/remotesh/internal/pathutil"
	"github.com/rescale/remotesh/internal/progress"
	"github.com/rescale/remotesh/internal/transfer"
)

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get REMOTE... LOCAL",
		Short: "Download remote files",
		Long: `Download one or more remote files.

With a single REMOTE, LOCAL may name the destination file or an existing
directory. With several, LOCAL must be a directory. Downloads run
concurrently, up to [transfers] max_concurrent at a time.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotes := args[:len(args)-1]
			local, err := pathutil.ResolveAbsolutePath(args[len(args)-1])
			if err != nil {
				return fmt.Errorf("invalid local path: %w", err)
			}
			localIsDir := isDir(local)
			if len(remotes) > 1 && !localIsDir {
				return fmt.Errorf("%s is not a directory", local)
			}

			dests := []string{local}
			if localIsDir {
				if dests, err = pathutil.DownloadDestinations(remotes, local); err != nil {
					return err
				}
			}

			env, err := openRemote(GetContext())
			if err != nil {
				return err
			}
			defer env.Close()

			return runTransfers(env, len(remotes), func(i int) (*transfer.TransferTask, error) {
				return env.coord.Download(remotes[i], dests[i])
			})
		},
	}
	return cmd
}

// newPutCmd creates the 'put' command.
func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put LOCAL... REMOTE",
		Short: "Upload local files",
		Long: `Upload one or more local files.

With several LOCAL files, REMOTE is treated as a directory. A missing local
file is reported before anything is sent.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			locals, remote := args[:len(args)-1], args[len(args)-1]
			for i, l := range locals {
				abs, err := pathutil.ResolveAbsolutePath(l)
				if err != nil {
					return fmt.Errorf("invalid local path %s: %w", l, err)
				}
				if _, err := os.Stat(abs); err != nil {
					return fmt.Errorf("%w: %s", transfer.ErrLocalFileNotFound, l)
				}
				locals[i] = abs
			}

			env, err := openRemote(GetContext())
			if err != nil {
				return err
			}
			defer env.Close()

			return runTransfers(env, len(locals), func(i int) (*transfer.TransferTask, error) {
				dest := remote
				if len(locals) > 1 {
					dest = path.Join(remote, filepath.Base(locals[i]))
				}
				return env.coord.Upload(locals[i], dest)
			})
		},
	}
	return cmd
}

// runTransfers starts n tasks, renders their progress, and returns an
// error if any of them failed.
func runTransfers(env *remoteEnv, n int, start func(i int) (*transfer.TransferTask, error)) error {
	ctx := GetContext()
	renderer := progress.New(n, quiet)

	started := 0
	var startErr error
	for i := 0; i < n; i++ {
		if _, err := start(i); err != nil {
			startErr = err
			break
		}
		started++
	}

	succeeded := progress.Follow(ctx, env.events, renderer, started)
	renderer.Wait()

	if startErr != nil {
		return startErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed := started - succeeded; failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, started)
	}
	return nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
