package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ordersync/internal/api"
	"github.com/roach88/ordersync/internal/config"
	"github.com/roach88/ordersync/internal/notify"
	"github.com/roach88/ordersync/internal/session"
	"github.com/roach88/ordersync/internal/store"
	"github.com/roach88/ordersync/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string

	// Dialer overrides the realtime dialer (for testing).
	// If nil, a WebSocketDialer for the configured URL is used.
	Dialer transport.Dialer
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync session for the configured tenant",
		Long: `Connect to the realtime feed for the configured tenant and keep its
orders in sync until interrupted.

Writes queued while offline are restored from the SQLite database and
replayed once the connection is up.

Example:
  ordersync run --config ./ordersync.yaml
  ORDERSYNC_CONFIG=/etc/ordersync.yaml ordersync run --log-format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides queue.db_path)")

	return cmd
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}

	logger := opts.Logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	logger.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	sink, closeSink, err := buildSink(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect notifications", err)
	}
	defer closeSink()

	client := api.New(cfg.APIBaseURL, cfg.Tenant,
		api.WithToken(cfg.APIToken),
		api.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		api.WithLogger(logger),
	)

	dialer := opts.Dialer
	if dialer == nil {
		header := http.Header{}
		if cfg.APIToken != "" {
			header.Set("Authorization", "Bearer "+cfg.APIToken)
		}
		dialer = transport.WebSocketDialer{URL: cfg.RealtimeURL, Header: header}
	}

	sess, err := session.New(session.Config{
		Tenant:       cfg.Tenant,
		Dialer:       dialer,
		Poller:       client,
		Remote:       client,
		Persister:    st.QueuePersister(cfg.Tenant),
		Sink:         sink,
		Transport:    cfg.Realtime,
		MaxRetries:   cfg.MaxRetries,
		PrintTimeout: cfg.PrintTimeout,
		NotifyCap:    cfg.ItemsReadyCap,
		Logger:       logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build session", err)
	}
	defer sess.Teardown()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Init(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start session", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session started for tenant %s (%s).\n", cfg.Tenant, sess.Transport().Status())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	err = sess.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "session error", err)
	}

	logger.Info("session stopped",
		"orders", sess.Orders().Len(),
		"queued", sess.Queue().Len(),
		"queue_status", sess.QueueStatus(),
	)
	return nil
}

// buildSink logs every notification and also publishes to AMQP when an
// exchange is configured.
func buildSink(cfg *config.Config, logger *slog.Logger) (notify.Sink, func(), error) {
	sinks := notify.Fanout{notify.LogSink{Logger: logger}}
	if cfg.AMQPURL == "" {
		return sinks, func() {}, nil
	}

	pub, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing notifications", "exchange", cfg.AMQPExchange)
	closeFn := func() {
		if err := pub.Close(); err != nil {
			logger.Warn("error closing amqp", "error", err)
		}
	}
	return append(sinks, pub), closeFn, nil
}
