// Package cli provides the command-line interface for remotesh.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rescale/remotesh/internal/config"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/version"
)

// defaultLogFile is the --log-file value when the flag is given bare.
const defaultLogFile = "default"

var (
	// Global flags
	cfgFile      string
	host         string
	user         string
	port         int
	backend      string
	identityFile string
	askPassword  bool
	metricsAddr  string
	verbose      bool
	quiet        bool
	logFile      string
	notifyDesk   bool

	// Global logger
	logger    *logging.Logger
	logCloser io.Closer

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "remotesh",
		Short: "Run commands and move files on a remote host over ssh",
		Long: `remotesh ` + version.Version + ` - Built: ` + version.BuildTime + `
Manages one remote session over ssh: commands run one at a time in the
session's working directory, directory listings are parsed, and file
transfers run concurrently with progress reporting.

Connection settings come from the profile (remotesh config init) and can be
overridden with --host, --user and --port. The password is read from
REMOTESH_PASSWORD, or prompted for with --ask-password; it is never stored.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logFile == defaultLogFile {
				if p, err := config.DefaultLogPath(); err == nil {
					logFile = p
				} else {
					logFile = ""
				}
			}
			if logFile != "" {
				logger, logCloser = logging.NewFileLogger(os.Stderr, logging.FileConfig{Path: logFile})
			} else {
				logger = logging.NewDefaultCLILogger()
			}
			logging.SetVerbose(verbose)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Profile path (default ~/.config/remotesh/remotesh.conf)")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Remote host (overrides profile)")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Remote user (overrides profile)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "SSH port (overrides profile; out-of-range values fall back to 22)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Transport backend: exec or native (overrides profile)")
	rootCmd.PersistentFlags().StringVarP(&identityFile, "identity", "i", "", "Private key file (overrides profile)")
	rootCmd.PersistentFlags().BoolVar(&askPassword, "ask-password", false, "Prompt for the password when REMOTESH_PASSWORD is unset")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Hide transfer progress bars")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file, rotated (bare flag uses the default log directory)")
	rootCmd.PersistentFlags().Lookup("log-file").NoOptDefVal = defaultLogFile
	rootCmd.PersistentFlags().BoolVar(&notifyDesk, "notify", false, "Show desktop notifications for finished transfers and lost sessions")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a completion script for remotesh.

QUICK TEST (current session only):
  source <(remotesh completion bash)`,
	}
	rootCmd.AddCommand(completionCmd)
	completionCmd.AddCommand(
		&cobra.Command{
			Use:   "bash",
			Short: "Generate bash completion script",
			RunE: func(cmd *cobra.Command, args []string) error {
				return rootCmd.GenBashCompletion(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "zsh",
			Short: "Generate zsh completion script",
			RunE: func(cmd *cobra.Command, args []string) error {
				return rootCmd.GenZshCompletion(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "fish",
			Short: "Generate fish completion script",
			RunE: func(cmd *cobra.Command, args []string) error {
				return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
			},
		},
		&cobra.Command{
			Use:   "powershell",
			Short: "Generate PowerShell completion script",
			RunE: func(cmd *cobra.Command, args []string) error {
				return rootCmd.GenPowerShellCompletion(cmd.OutOrStdout())
			},
		},
	)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C does not kill the process mid-cleanup.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, disconnecting...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	if logCloser != nil {
		_ = logCloser.Close()
	}

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context, cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
