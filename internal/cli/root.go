package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/shufflesync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "text" | "json"; empty keeps the configured format
	ConfigFile string
	EnvFile    string

	// Driver and DSN override store.driver and store.dsn.
	Driver string
	DSN    string

	// LogWriter receives slog output. Defaults to the command's stderr.
	LogWriter io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the shufflesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "shufflesync",
		Short: "Collaborative shuffle sessions and shared lists",
		Long: `shufflesync runs the collaborative session and shared-list core.

Use "serve" to expose it over HTTP and WebSocket, the "session" and "list"
commands to operate on a local database directly, and "scenario" to run
YAML scenarios against in-process replicas.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.LogFormat != "" && !slices.Contains(ValidFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log format (json|text)")
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.EnvFile, "env-file", "", "dotenv file with SHUFFLESYNC_* variables")
	flags.StringVar(&opts.Driver, "driver", "", "store driver (memory|sqlite3|sqlite|postgres)")
	flags.StringVar(&opts.DSN, "db", "", "store DSN, e.g. a SQLite file path")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// loadConfig resolves configuration and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.Options{File: o.ConfigFile, EnvFile: o.EnvFile})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Driver != "" {
		cfg.Store.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Store.DSN = o.DSN
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid flags", err)
	}
	return cfg, nil
}

func (o *RootOptions) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	w := o.LogWriter
	if w == nil {
		w = cmd.ErrOrStderr()
	}
	return cfg.Log.NewLogger(w)
}
