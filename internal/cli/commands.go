package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/remotesh/internal/session"
)

// newExecCmd creates the 'exec' command.
func newExecCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "exec COMMAND...",
		Short: "Run a command on the remote host",
		Long: `Run a command on the remote host and print its output.

The command runs through the session's command queue in the login directory,
or in --dir when given. Output is printed as a whole once the command ends.

Example:
  remotesh exec -- df -h /scratch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			env, err := openRemote(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if dir != "" {
				if _, err := env.mgr.ListDirectory(dir); err != nil {
					return err
				}
			}
			c, err := env.mgr.Submit(strings.Join(args, " "))
			if err != nil {
				return err
			}
			res, err := awaitCommand(ctx, env.events, c.ID)
			if res.Output != nil {
				printOutput(cmd.OutOrStdout(), res.Output.Output)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Remote working directory")
	return cmd
}

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List a remote directory",
		Long: `List a remote directory (default: the login directory).

The listing is parsed into records; use --raw to print the remote output
unchanged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			env, err := openRemote(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := env.mgr.ListDirectory(path)
			if err != nil {
				return err
			}
			res, err := awaitCommand(ctx, env.events, c.ID)
			if err != nil {
				return err
			}
			if raw || res.Listing == nil {
				printOutput(cmd.OutOrStdout(), res.Output.Output)
				return nil
			}
			printListing(cmd.OutOrStdout(), res.Listing)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the unparsed ls output")
	return cmd
}

// newShellCmd creates the 'shell' command.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Read commands from stdin and run them remotely",
		Long: `Start a line-oriented session. Each line is submitted to the remote host
in the current directory and its output printed when it finishes.

Built-ins:
  cd [DIR]   change directory (no argument: login directory, "..": parent)
  pwd        print the current directory
  exit       end the session`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			env, err := openRemote(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			in := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprintf(os.Stderr, "%s:%s$ ", env.mgr.Target(), env.mgr.CurrentPath())
				if !in.Scan() {
					fmt.Fprintln(os.Stderr)
					return in.Err()
				}
				line := strings.TrimSpace(in.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				id, err := runShellLine(env.mgr, line, out)
				if err != nil {
					return err
				}
				if id == 0 {
					continue
				}
				res, err := awaitCommand(ctx, env.events, id)
				if res.Output != nil {
					printOutput(out, res.Output.Output)
				}
				switch {
				case errors.Is(err, session.ErrNotConnected), ctx.Err() != nil:
					return err
				case err != nil:
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			}
		},
	}
}

// runShellLine submits one shell line and returns the command ID to wait
// for, or 0 when the line was handled locally.
func runShellLine(mgr *session.Manager, line string, out io.Writer) (uint64, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "pwd":
		if len(fields) == 1 {
			fmt.Fprintln(out, mgr.CurrentPath())
			return 0, nil
		}
	case "cd":
		var err error
		switch {
		case len(fields) == 1 || fields[1] == "~":
			_, err = mgr.NavigateHome()
		case fields[1] == "..":
			_, err = mgr.NavigateUp()
		default:
			_, err = mgr.ListDirectory(strings.TrimSpace(strings.TrimPrefix(line, "cd")))
		}
		return 0, err
	}
	c, err := mgr.Submit(line)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}
