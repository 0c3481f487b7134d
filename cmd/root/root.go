package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/keytrail/pkg/logging"
)

type rootFlags struct {
	debugMode   bool
	logFilePath string
	logFile     io.Closer
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "keytrail",
		Short: "keytrail - editor interaction telemetry",
		Long:  "keytrail collects keystroke and autocomplete statistics from an editor and reports them to a collector",
		Example: `  keytrail serve
  keytrail nvim
  keytrail history -n 5`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging before anything else so logs never reach the editor pipe
			flags.setupLogging(cmd.ErrOrStderr())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		// If no subcommand is specified, show help
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Path to debug log file (default: ~/.keytrail/keytrail.debug.log; only used with --debug)")

	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	cmd.AddGroup(&cobra.Group{ID: "advanced", Title: "Advanced Commands:"})

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newNvimCmd())
	cmd.AddCommand(newDeviceIDCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(defaultToServe(rootCmd, args))
	setContextRecursive(ctx, rootCmd)

	if err := rootCmd.Execute(); err != nil {
		return processErr(ctx, err, stderr, rootCmd)
	}
	return nil
}

func setContextRecursive(ctx context.Context, cmd *cobra.Command) {
	cmd.SetContext(ctx)
	for _, child := range cmd.Commands() {
		setContextRecursive(ctx, child)
	}
}

// defaultToServe prepends "serve" to the argument list when no subcommand is
// specified so that an editor can spawn a bare "keytrail". Help flags
// (--help / -h) are left alone.
func defaultToServe(rootCmd *cobra.Command, args []string) []string {
	for _, arg := range args {
		switch {
		case arg == "--":
			return append([]string{"serve"}, args...)
		case arg == "--help" || arg == "-h":
			return args
		case strings.HasPrefix(arg, "-"):
			continue
		case isSubcommand(rootCmd, arg):
			return args
		default:
			// Unknown words are left for cobra to report.
			return args
		}
	}

	return append([]string{"serve"}, args...)
}

// isSubcommand reports whether name matches a registered subcommand or alias.
func isSubcommand(cmd *cobra.Command, name string) bool {
	switch name {
	case "help", "completion", "__complete", "__completeNoDesc":
		return true
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == name || sub.HasAlias(name) {
			return true
		}
	}
	return false
}

func processErr(ctx context.Context, err error, stderr io.Writer, rootCmd *cobra.Command) error {
	if ctx.Err() != nil {
		return ctx.Err()
	} else if _, ok := errors.AsType[RuntimeError](err); ok {
		// Runtime errors have already been printed by the command itself
	} else {
		// Command line usage errors - show the error and usage
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr)
		if strings.HasPrefix(err.Error(), "unknown command ") || strings.HasPrefix(err.Error(), "accepts ") {
			_ = rootCmd.Usage()
		}
	}

	return err
}

// setupLogging configures slog logging behavior.
// When --debug is enabled, logs are written to a rotating file <dataDir>/keytrail.debug.log,
// or to the file specified by --log-file, falling back to stderr.
func (f *rootFlags) setupLogging(stderr io.Writer) {
	logger, closer := logging.Setup(logging.Options{
		Debug:    f.debugMode,
		Path:     f.logFilePath,
		Fallback: stderr,
	})
	f.logFile = closer
	slog.SetDefault(logger)
}

// RuntimeError wraps runtime errors to distinguish them from usage errors
type RuntimeError struct {
	Err error
}

func (e RuntimeError) Error() string {
	return e.Err.Error()
}

func (e RuntimeError) Unwrap() error {
	return e.Err
}
