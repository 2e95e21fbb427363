package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ordersync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Config    string
	LogFormat string // "json" | "text"
}

// ValidFormats defines the allowed output and log formats.
var ValidFormats = []string{"text", "json"}

// Error codes reported by OutputFormatter.Error.
const (
	ErrCodeGeneric    = "E001"
	ErrCodeNotFound   = "E005"
	ErrCodeConfig     = "E101"
	ErrCodeStore      = "E201"
	ErrCodeQueueEntry = "E202"
	ErrCodePayload    = "E301"
)

// NewRootCommand creates the root command for the ordersync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ordersync",
		Short: "ordersync - POS order lifecycle sync",
		Long: `ordersync keeps a tenant's live orders in sync with the order service.

It follows the realtime feed, queues writes while offline and replays them
in order, and tracks kitchen ticket printing.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !slices.Contains(ValidFormats, opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default $"+config.EnvConfig+")")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewNormalizeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Logger builds the structured logger for w. Verbose enables debug level.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if o.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig resolves --config or the environment and validates the file.
// A missing or unreadable file is a command error; a schema violation is
// a failure.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err == nil {
		return cfg, nil
	}
	if config.IsValidation(err) {
		return nil, WrapExitError(ExitFailure, "invalid config", err)
	}
	return nil, WrapExitError(ExitCommandError, "cannot load config", err)
}
