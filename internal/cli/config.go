package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ordersync/internal/config"
)

// ConfigSummary is the output of config validate.
type ConfigSummary struct {
	Path          string `json:"path"`
	Tenant        string `json:"tenant"`
	APIBaseURL    string `json:"api_base_url"`
	RealtimeURL   string `json:"realtime_url"`
	DBPath        string `json:"db_path"`
	MaxRetries    int    `json:"max_retries"`
	PrintTimeout  string `json:"print_timeout"`
	Notifications string `json:"notifications"`
}

func (s ConfigSummary) RenderText(w io.Writer) {
	fmt.Fprintf(w, "✓ %s is valid\n", s.Path)
	fmt.Fprintf(w, "  tenant:        %s\n", s.Tenant)
	fmt.Fprintf(w, "  api:           %s\n", s.APIBaseURL)
	fmt.Fprintf(w, "  realtime:      %s\n", s.RealtimeURL)
	fmt.Fprintf(w, "  queue:         %s (max %d retries)\n", s.DBPath, s.MaxRetries)
	fmt.Fprintf(w, "  print timeout: %s\n", s.PrintTimeout)
	fmt.Fprintf(w, "  notifications: %s\n", s.Notifications)
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with ordersync configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file against the schema",
		Long: `Decode the config file over the defaults and validate it against the
embedded schema.

Exit codes:
  0 - Valid
  1 - Schema violation
  2 - File missing or unreadable`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(rootOpts, cmd)
		},
	})

	return cmd
}

func runConfigValidate(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(GetExitCode(err), ErrCodeConfig, "config is not valid", err)
	}

	notifications := "log"
	if cfg.AMQPURL != "" {
		notifications = "log + amqp exchange " + cfg.AMQPExchange
	}
	return f.Success(ConfigSummary{
		Path:          config.Resolve(opts.Config),
		Tenant:        cfg.Tenant,
		APIBaseURL:    cfg.APIBaseURL,
		RealtimeURL:   cfg.RealtimeURL,
		DBPath:        cfg.DBPath,
		MaxRetries:    cfg.MaxRetries,
		PrintTimeout:  cfg.PrintTimeout.String(),
		Notifications: notifications,
	})
}
