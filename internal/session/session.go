// Package session wires one tenant's transport, engine, offline queue and
// print machine together.
//
// A Session has an explicit lifecycle: Init restores the queue and connects,
// Run supervises the engine loop and the drain worker, and Teardown cancels
// everything the session owns. A new tenant gets a new Session only after
// the previous one is torn down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ordersync/internal/api"
	"github.com/roach88/ordersync/internal/course"
	"github.com/roach88/ordersync/internal/engine"
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/notify"
	"github.com/roach88/ordersync/internal/orderstore"
	"github.com/roach88/ordersync/internal/printstatus"
	"github.com/roach88/ordersync/internal/queue"
	"github.com/roach88/ordersync/internal/schedule"
	"github.com/roach88/ordersync/internal/transport"
)

// Remote is the order service as the session uses it. *api.Client
// implements it.
type Remote interface {
	Send(ctx context.Context, r api.Request, idempotencyKey string) (*model.Order, error)
	Submit(ctx context.Context, w model.QueuedWrite) (*model.Order, error)
	Reprint(ctx context.Context, orderID string) error
	GenerateScanToPay(ctx context.Context, orderID, checkID string) (api.ScanToPaySession, error)
	SubmitScanToPay(ctx context.Context, orderID, checkID string, p api.ScanToPayPayment) (*model.Order, error)
}

// Config collects a session's collaborators and knobs. Tenant, Dialer,
// Remote and Persister are required.
type Config struct {
	Tenant    string
	Dialer    transport.Dialer
	Poller    transport.Poller
	Remote    Remote
	Persister queue.Persister

	Scheduler    schedule.Scheduler
	Sink         notify.Sink
	IDs          engine.IDGenerator
	Transport    transport.Config
	MaxRetries   int
	PrintTimeout time.Duration
	NotifyCap    int
	Logger       *slog.Logger
}

// Session is one tenant context.
type Session struct {
	tenant string
	remote Remote
	sink   notify.Sink
	logger *slog.Logger

	timers  *schedule.Group
	orders  *orderstore.Store
	tracker *course.Tracker
	engine  *engine.Engine
	queue   *queue.Queue
	conn    *transport.Manager

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wasOnline bool
	unsubs    []func()
	tornDown  bool
}

// New builds a session. Nothing connects or loads until Init.
func New(cfg Config) (*Session, error) {
	switch {
	case cfg.Tenant == "":
		return nil, errors.New("session: tenant is required")
	case cfg.Dialer == nil:
		return nil, errors.New("session: dialer is required")
	case cfg.Remote == nil:
		return nil, errors.New("session: remote is required")
	case cfg.Persister == nil:
		return nil, errors.New("session: persister is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real{}
	}
	if cfg.Sink == nil {
		cfg.Sink = notify.Discard
	}
	if cfg.IDs == nil {
		cfg.IDs = engine.UUIDv7Generator{}
	}
	if cfg.Transport == (transport.Config{}) {
		cfg.Transport = transport.DefaultConfig()
	}
	if cfg.PrintTimeout <= 0 {
		cfg.PrintTimeout = printstatus.DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("tenant", cfg.Tenant)

	s := &Session{
		tenant:  cfg.Tenant,
		remote:  cfg.Remote,
		sink:    cfg.Sink,
		logger:  logger,
		timers:  schedule.NewGroup(cfg.Scheduler),
		orders:  orderstore.New(),
		tracker: course.NewTracker(cfg.NotifyCap),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.engine = engine.New(s.orders, s.tracker, s.timers,
		engine.WithSink(cfg.Sink),
		engine.WithTenant(cfg.Tenant),
		engine.WithLogger(logger),
		engine.WithPrintTimeout(cfg.PrintTimeout),
	)
	s.queue = queue.New(cfg.Persister, cfg.Remote,
		queue.WithMaxRetries(cfg.MaxRetries),
		queue.WithIDs(cfg.IDs.Generate),
		queue.WithClock(s.timers.Now),
		queue.WithOnSynced(s.synced),
		queue.WithOnParked(s.parked),
		queue.WithLogger(logger),
		queue.WithTenant(cfg.Tenant),
	)

	opts := []transport.Option{
		transport.WithConfig(cfg.Transport),
		transport.WithLogger(logger),
	}
	if cfg.Poller != nil {
		opts = append(opts, transport.WithPoller(cfg.Poller))
	}
	s.conn = transport.NewManager(cfg.Dialer, s.timers, opts...)
	return s, nil
}

// Init restores persisted writes, rebuilds their placeholders and connects.
// A restored queue is drained as soon as the connection is up.
func (s *Session) Init(ctx context.Context) error {
	n, err := s.queue.Load(ctx)
	if err != nil {
		return fmt.Errorf("init session %s: %w", s.tenant, err)
	}
	for _, w := range s.queue.Entries() {
		if w.Kind == model.WriteCreateOrder {
			s.orders.Upsert(placeholder(w))
		}
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs,
		s.conn.SubscribeAll(s.engine.Inbound),
		s.conn.OnStatus(s.statusChanged),
	)
	s.mu.Unlock()

	s.conn.Connect(s.ctx, s.tenant)
	s.logger.Info("session initialized",
		"queued", n,
		"online", s.conn.IsOnline(),
		"status", s.conn.Status(),
	)
	if n > 0 && s.conn.IsOnline() {
		s.queue.TriggerDrain()
	}
	return nil
}

// Run supervises the engine loop and the drain worker until ctx is
// cancelled or Teardown is called.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return engine.ErrStopped
	}
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := s.engine.Run(gctx)
		// the drain worker must not outlive the loop it reports into
		cancel()
		return err
	})
	g.Go(func() error {
		return s.queue.Run(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Teardown disconnects, stops the engine and cancels every timer the
// session owns. Safe to call more than once.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	s.conn.Disconnect()
	s.engine.Stop()
	s.timers.StopAll()
	s.cancel()
	s.logger.Info("session torn down")
}

// statusChanged triggers a drain on every offline to online edge.
func (s *Session) statusChanged(c transport.StatusChange) {
	s.mu.Lock()
	edge := c.Online && !s.wasOnline
	s.wasOnline = c.Online
	s.mu.Unlock()

	s.logger.Debug("connection status", "status", c.Status, "online", c.Online, "failures", c.Failures)
	if edge && s.queue.Len() > 0 {
		s.queue.TriggerDrain()
	}
}

// synced runs on the drain worker; store changes go through the engine.
func (s *Session) synced(w model.QueuedWrite, o *model.Order) {
	if o == nil {
		return
	}
	order := *o
	s.engine.Dispatch(func() {
		if w.Kind == model.WriteCreateOrder {
			s.engine.ReplaceLocal(w.LocalID, order)
			return
		}
		s.orders.Upsert(order)
	})
}

func (s *Session) parked(w model.QueuedWrite) {
	n := notify.Notification{
		Kind:     notify.KindWriteParked,
		TenantID: s.tenant,
		OrderID:  w.OrderID,
		At:       s.timers.Now(),
		Data:     w,
	}
	if err := s.sink.Notify(s.ctx, n); err != nil {
		s.logger.Warn("notification not delivered", "kind", n.Kind, "error", err)
	}
}

// Tenant returns the tenant id.
func (s *Session) Tenant() string { return s.tenant }

// Orders returns the tenant's order store for views and subscriptions.
func (s *Session) Orders() *orderstore.Store { return s.orders }

// Queue returns the offline write queue.
func (s *Session) Queue() *queue.Queue { return s.queue }

// Transport returns the realtime connection manager.
func (s *Session) Transport() *transport.Manager { return s.conn }

// Engine returns the tenant event loop.
func (s *Session) Engine() *engine.Engine { return s.engine }

// IsOnline reports whether writes go straight to the remote service.
func (s *Session) IsOnline() bool { return s.conn.IsOnline() }

// QueueStatus is idle, syncing or has_failed.
func (s *Session) QueueStatus() queue.Status { return s.queue.Status() }

// PrintStatus returns an order's print state.
func (s *Session) PrintStatus(orderID string) model.PrintStatus {
	return s.engine.Prints().Status(orderID)
}

// PrintFailure returns why an order's ticket failed, or nil.
func (s *Session) PrintFailure(orderID string) error {
	return s.engine.Prints().Failure(orderID)
}

// Throttle returns the derived throttle record of an order.
func (s *Session) Throttle(orderID string) (model.Throttle, bool) {
	o, ok := s.orders.Get(orderID)
	if !ok {
		return model.Throttle{}, false
	}
	return course.ThrottleOf(o), true
}

// Notifications is a snapshot of the buffered notices, most recent first.
type Notifications struct {
	Completions  []course.Complete          `json:"course_completions"`
	ReadyBatches []model.ItemsReadyBatch    `json:"items_ready"`
	Payments     []model.ScanToPayCompleted `json:"payments"`
}

func (s *Session) Notifications() Notifications {
	return Notifications{
		Completions:  s.tracker.Completions(),
		ReadyBatches: s.tracker.ReadyBatches(),
		Payments:     s.tracker.Payments(),
	}
}

// DismissNotifications clears every buffered notice for an order.
func (s *Session) DismissNotifications(orderID string) {
	s.tracker.Dismiss(orderID)
}
