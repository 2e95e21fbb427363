package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/queue"
	"github.com/roach88/ordersync/internal/store"
)

// QueueOptions holds flags shared by the queue subcommands.
type QueueOptions struct {
	*RootOptions
	Database   string
	MaxRetries int
}

// QueueSummary is one persisted tenant queue.
type QueueSummary struct {
	Tenant    string    `json:"tenant"`
	Entries   int       `json:"entries"`
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueList is the output of queue list.
type QueueList struct {
	Queues []QueueSummary `json:"queues"`
}

func (l QueueList) RenderText(w io.Writer) {
	if len(l.Queues) == 0 {
		fmt.Fprintln(w, "No queued writes.")
		return
	}
	for _, q := range l.Queues {
		fmt.Fprintf(w, "%-24s %4d entries  seq %-6d %s\n", q.Tenant, q.Entries, q.Seq, q.UpdatedAt.Format(time.RFC3339))
	}
}

// QueueEntry is one queued write as shown by queue show.
type QueueEntry struct {
	model.QueuedWrite
	Parked bool `json:"parked"`
}

// QueueDetail is the output of queue show.
type QueueDetail struct {
	Tenant  string       `json:"tenant"`
	Status  queue.Status `json:"status"`
	Entries []QueueEntry `json:"entries"`
}

func (d QueueDetail) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Tenant %s: %d queued (%s)\n", d.Tenant, len(d.Entries), d.Status)
	for i, e := range d.Entries {
		mark := " "
		if e.Parked {
			mark = "!"
		}
		fmt.Fprintf(w, "%s %2d. %-18s %-14s order=%s retries=%d\n", mark, i+1, e.Kind, e.LocalID, orDash(e.OrderID), e.RetryCount)
		if e.LastError != "" {
			fmt.Fprintf(w, "       last error: %s\n", e.LastError)
		}
	}
}

// QueueAction reports the outcome of retry, discard or clear.
type QueueAction struct {
	Tenant  string `json:"tenant"`
	Action  string `json:"action"`
	LocalID string `json:"local_id,omitempty"`
	Removed int    `json:"removed,omitempty"`
}

func (a QueueAction) RenderText(w io.Writer) {
	switch {
	case a.LocalID != "":
		fmt.Fprintf(w, "%s %s for tenant %s\n", a.Action, a.LocalID, a.Tenant)
	default:
		fmt.Fprintf(w, "%s %d queued writes for tenant %s\n", a.Action, a.Removed, a.Tenant)
	}
}

// NewQueueCommand creates the queue command and its subcommands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair persisted offline queues",
		Long: `Inspect and repair the offline write queues persisted in the SQLite
database. Do not run these while a session for the same tenant is running.

Examples:
  ordersync queue list --db ./ordersync.db
  ordersync queue show tenant-1
  ordersync queue retry tenant-1 0190f6c1-...
  ordersync queue clear tenant-1`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default queue.db_path from config)")
	cmd.PersistentFlags().IntVar(&opts.MaxRetries, "max-retries", queue.DefaultMaxRetries, "retry cap used to mark parked writes")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List tenants with persisted queues",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				return listQueues(ctx, st)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <tenant>",
		Short:         "Show a tenant's queued writes in replay order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				q, err := loadQueue(ctx, opts, st, args[0])
				if err != nil {
					return nil, err
				}
				return queueDetail(args[0], q, opts.MaxRetries), nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "retry <tenant> <local-id>",
		Short:         "Reset a parked write so the next session retries it",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				return entryAction(ctx, opts, st, args[0], args[1], "retried", (*queue.Queue).Retry)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "discard <tenant> <local-id>",
		Short:         "Drop one queued write",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				return entryAction(ctx, opts, st, args[0], args[1], "discarded", (*queue.Queue).Discard)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "clear <tenant>",
		Short:         "Drop every queued write of a tenant",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				q, err := loadQueue(ctx, opts, st, args[0])
				if err != nil {
					return nil, err
				}
				n := q.Len()
				if err := q.Clear(ctx); err != nil {
					return nil, WrapExitError(ExitCommandError, "failed to clear queue", err)
				}
				return QueueAction{Tenant: args[0], Action: "cleared", Removed: n}, nil
			})
		},
	})

	return cmd
}

// withStore opens the database, runs fn and renders its result. An
// ExitError from fn is reported with its own code.
func withStore(opts *QueueOptions, cmd *cobra.Command, fn func(context.Context, *store.Store) (any, error)) error {
	f := opts.formatter(cmd)

	path := opts.Database
	if path == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return f.Fail(GetExitCode(err), ErrCodeConfig, "no --db given and config unavailable", err)
		}
		path = cfg.DBPath
	}
	f.VerboseLog("opening database %s", path)

	st, err := store.Open(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := fn(ctx, st)
	if err != nil {
		code := ErrCodeStore
		if GetExitCode(err) == ExitFailure {
			code = ErrCodeQueueEntry
		}
		return f.Fail(GetExitCode(err), code, err.Error(), nil)
	}
	return f.Success(result)
}

func listQueues(ctx context.Context, st *store.Store) (QueueList, error) {
	recs, err := st.Queues(ctx)
	if err != nil {
		return QueueList{}, WrapExitError(ExitCommandError, "failed to list queues", err)
	}
	out := QueueList{Queues: make([]QueueSummary, 0, len(recs))}
	for _, r := range recs {
		out.Queues = append(out.Queues, QueueSummary{
			Tenant:    r.TenantID,
			Entries:   r.Entries,
			Seq:       r.Seq,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

// loadQueue restores a tenant's queue without a submitter: nothing drains.
func loadQueue(ctx context.Context, opts *QueueOptions, st *store.Store, tenant string) (*queue.Queue, error) {
	q := queue.New(st.QueuePersister(tenant), nil,
		queue.WithTenant(tenant),
		queue.WithMaxRetries(opts.MaxRetries),
		queue.WithLogger(opts.Logger(io.Discard)),
	)
	if _, err := q.Load(ctx); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load queue", err)
	}
	return q, nil
}

func queueDetail(tenant string, q *queue.Queue, maxRetries int) QueueDetail {
	d := QueueDetail{Tenant: tenant, Status: q.Status(), Entries: []QueueEntry{}}
	for _, w := range q.Entries() {
		d.Entries = append(d.Entries, QueueEntry{QueuedWrite: w, Parked: w.RetryCount >= maxRetries})
	}
	return d
}

func entryAction(
	ctx context.Context,
	opts *QueueOptions,
	st *store.Store,
	tenant, localID, action string,
	op func(*queue.Queue, context.Context, string) (bool, error),
) (any, error) {
	q, err := loadQueue(ctx, opts, st, tenant)
	if err != nil {
		return nil, err
	}
	found, err := op(q, ctx, localID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to save queue", err)
	}
	if !found {
		return nil, NewExitError(ExitFailure, fmt.Sprintf("no queued write %s for tenant %s", localID, tenant))
	}
	return QueueAction{Tenant: tenant, Action: action, LocalID: localID}, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
