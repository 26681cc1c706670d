package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/remotesh/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the remotesh profile",
		Long: `Profile management commands for remotesh.

Commands:
  init  - Interactive profile setup
  show  - Display the effective profile
  test  - Connect, probe and disconnect
  path  - Show the profile path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func profilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultProfilePath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the profile interactively",
		Long: `Interactive profile setup.

The password is not part of the profile. Supply it through REMOTESH_PASSWORD
or --ask-password, or use key authentication.

Use --force to overwrite an existing profile.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := profilePath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Profile already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view it.")
					return nil
				}
			}

			fmt.Fprintln(out, "remotesh Profile Setup")
			fmt.Fprintln(out, "======================")
			fmt.Fprintln(out)

			cfg, err := promptProfile(bufio.NewReader(cmd.InOrStdin()), out)
			if err != nil {
				return err
			}
			if err := config.SaveProfile(cfg, path); err != nil {
				return fmt.Errorf("failed to save profile: %w", err)
			}
			GetLogger().Info().Str("path", path).Msg("Profile saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Profile saved to: %s\n", path)
			fmt.Fprintln(out, "Test it with: remotesh config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing profile")
	return cmd
}

// promptProfile asks for each setting, keeping the default on empty input.
func promptProfile(r *bufio.Reader, out io.Writer) (*config.Profile, error) {
	cfg := config.NewProfile()

	for attempt := 0; cfg.Connection.Host == ""; attempt++ {
		if attempt == 3 {
			return nil, errors.New("host is required")
		}
		cfg.Connection.Host = ask(r, out, "Host (required)", "")
		if cfg.Connection.Host == "" {
			fmt.Fprintln(out, "  Error: host is required")
		}
	}
	cfg.Connection.User = ask(r, out, "User", currentUser())
	cfg.Connection.Port = askInt(r, out, "Port", cfg.Connection.Port)
	cfg.Connection.IdentityFile = ask(r, out, "Identity file (empty for ssh defaults)", "")

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Transport Settings (press Enter for defaults)")
	fmt.Fprintln(out, "---------------------------------------------")
	cfg.Transport.Backend = strings.ToLower(ask(r, out, "Backend (exec|native)", cfg.Transport.Backend))
	cfg.Transport.ConnectTimeoutSeconds = askInt(r, out, "Connect timeout seconds", cfg.Transport.ConnectTimeoutSeconds)
	cfg.Transport.CommandTimeoutSeconds = askInt(r, out, "Command timeout seconds", cfg.Transport.CommandTimeoutSeconds)
	cfg.Transfers.MaxConcurrent = askInt(r, out, "Max concurrent transfers", cfg.Transfers.MaxConcurrent)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return cfg, nil
}

func ask(r *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	input, _ := r.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

func askInt(r *bufio.Reader, out io.Writer, label string, def int) int {
	input := ask(r, out, label, strconv.Itoa(def))
	v, err := strconv.Atoi(input)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective profile",
		Long: `Display the profile after flag overrides.

Priority: flags > profile file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadProfile(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load profile: %w", err)
			}
			applyOverrides(cfg)
			printProfile(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printProfile(w io.Writer, cfg *config.Profile) {
	fmt.Fprintln(w, "Current Profile")
	fmt.Fprintln(w, "===============")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Connection:")
	fmt.Fprintf(w, "  Host:          %s\n", orNotSet(cfg.Connection.Host))
	fmt.Fprintf(w, "  User:          %s\n", orNotSet(cfg.Connection.User))
	fmt.Fprintf(w, "  Port:          %d\n", cfg.Connection.Port)
	fmt.Fprintf(w, "  Identity file: %s\n", orNotSet(cfg.Connection.IdentityFile))
	if _, ok := os.LookupEnv(PasswordEnv); ok {
		fmt.Fprintf(w, "  Password:      <set via %s>\n", PasswordEnv)
	} else {
		fmt.Fprintln(w, "  Password:      <not set>")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Transport:")
	fmt.Fprintf(w, "  Backend:         %s\n", cfg.Transport.Backend)
	if cfg.Transport.Backend == config.BackendExec {
		fmt.Fprintf(w, "  ssh / scp:       %s / %s\n", cfg.Transport.SSHPath, cfg.Transport.SCPPath)
		fmt.Fprintf(w, "  sshpass:         %s\n", cfg.Transport.SSHPassPath)
	}
	fmt.Fprintf(w, "  Connect timeout: %s\n", cfg.ConnectTimeout())
	fmt.Fprintf(w, "  Command timeout: %s\n", cfg.CommandTimeout())
	fmt.Fprintf(w, "  Progress poll:   %s\n", cfg.ProgressInterval())
	fmt.Fprintf(w, "  Strict host key: %t\n", cfg.Transport.StrictHostKeyChecking)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Transfers:")
	fmt.Fprintf(w, "  Max concurrent: %d\n", cfg.Transfers.MaxConcurrent)
}

func orNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openRemote(GetContext())
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			defer env.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Connected to %s (home %s)\n", env.mgr.Target(), env.mgr.HomePath())
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the profile path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := profilePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
