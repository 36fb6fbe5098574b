package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tagsync/internal/config"
	"github.com/roach88/tagsync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath  string
	Database    string
	EnginePath  string
	DatabaseDir string
	ArchiveDir  string
	LogLevel    string
	Maintenance bool

	// Config is resolved before any subcommand runs.
	Config config.Config

	// StartEngine allows overriding how the engine is launched (for testing).
	// If nil, the perftags subprocess is started.
	StartEngine EngineStarter
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tagsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// Execute runs the CLI with os.Args and returns the process exit code.
// Errors are reported on stderr, or on stdout as a JSON response when
// --format json is in effect.
func Execute(ctx context.Context) int {
	return execute(ctx, &RootOptions{}, os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr, Verbose: opts.Verbose}
	if !isValidFormat(formatter.Format) {
		formatter.Format = "text"
	}
	_ = formatter.Error(ErrorCode(err), err.Error(), nil)
	return GetExitCode(err)
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tagsync",
		Short: "tagsync - keep a tag index engine and its SQLite store in step",
		Long: `tagsync applies tag pairing changes to a SQLite store and the perftags
index engine inside one cross-store transaction.

Settings come from built-in defaults, then the --config file (YAML or JSONC),
then command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("TAGSYNC_CONFIG"), "config file (.yaml, .yml, .json or .jsonc)")
	flags.StringVar(&opts.Database, "db", "", "path to SQLite database")
	flags.StringVar(&opts.EnginePath, "engine", "", "path to the perftags executable")
	flags.StringVar(&opts.DatabaseDir, "engine-db", "", "engine database directory")
	flags.StringVar(&opts.ArchiveDir, "archive-dir", "", "copy every engine command and payload here")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.BoolVar(&opts.Maintenance, "maintenance", false, "let the engine run maintenance on exit")

	// Add subcommands
	cmd.AddCommand(newPairingCommand(opts, "insert", "Add tag pairings"))
	cmd.AddCommand(newPairingCommand(opts, "toggle", "Flip tag pairings"))
	cmd.AddCommand(newPairingCommand(opts, "delete", "Remove tag pairings"))
	cmd.AddCommand(NewDeleteTagsCommand(opts))
	cmd.AddCommand(NewDeleteTaggablesCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTagsCommand(opts))
	cmd.AddCommand(NewNameCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// resolve loads the configuration and installs the process logger.
func (opts *RootOptions) resolve(cmd *cobra.Command) error {
	overrides := config.Overrides{
		Database:    opts.Database,
		LogLevel:    opts.LogLevel,
		EnginePath:  opts.EnginePath,
		DatabaseDir: opts.DatabaseDir,
		ArchiveDir:  opts.ArchiveDir,
	}
	if cmd.Flags().Changed("maintenance") {
		overrides.Maintenance = &opts.Maintenance
	}

	cfg, err := config.Load(opts.ConfigPath, overrides)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	opts.Config = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(logging.New(os.Stderr, level))
	slog.Debug("configuration resolved", "source", cfg.Source, "db", cfg.Database)
	return nil
}

// formatter returns an OutputFormatter writing to cmd's streams.
func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
