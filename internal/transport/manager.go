// Package transport keeps one realtime connection per tenant alive.
//
// The Manager dials, joins the tenant room, sends heartbeats and fans
// inbound events out to subscribers. Failed connections are retried with
// exponential backoff; after MaxFailures consecutive failures the manager
// falls back to fixed-interval polling and probes the socket on each poll.
// Failures never reach callers: they show up as status transitions.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/schedule"
	"github.com/roach88/ordersync/internal/syncerr"
)

// Status is the connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusPolling      Status = "polling"
)

// Outbound frame names.
const (
	EventJoin      = "join"
	EventHeartbeat = "heartbeat"
)

// Frame is one JSON message on the wire.
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Conn is an established realtime connection.
type Conn interface {
	Read(ctx context.Context) (Frame, error)
	Write(ctx context.Context, f Frame) error
	Close() error
}

// Dialer opens a connection for a tenant.
type Dialer interface {
	Dial(ctx context.Context, tenantID string) (Conn, error)
}

// Poller fetches active order snapshots while the socket is down.
type Poller interface {
	Poll(ctx context.Context, tenantID string) ([]map[string]any, error)
}

// Handler receives an inbound event.
type Handler func(event string, payload map[string]any)

// StatusChange is delivered to OnStatus listeners.
type StatusChange struct {
	Status   Status
	Online   bool
	Failures int
}

// Config holds the timing knobs.
type Config struct {
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	MaxFailures       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		BackoffInitial:    time.Second,
		BackoffMax:        30 * time.Second,
		MaxFailures:       5,
		PollInterval:      30 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		DialTimeout:       10 * time.Second,
	}
}

// Backoff returns the delay before retry n (1-based): initial doubled per
// failure, capped at max.
func (c Config) Backoff(n int) time.Duration {
	d := c.BackoffInitial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	return min(d, c.BackoffMax)
}

// Manager owns the realtime connection of one tenant at a time.
type Manager struct {
	dialer Dialer
	poller Poller
	sched  schedule.Scheduler
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	tenantID  string
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	status    Status
	failures  int
	reachable bool
	dialing   bool
	conn      Conn
	retry     schedule.Timer
	heartbeat schedule.Timer
	poll      schedule.Timer
	emitted   StatusChange

	hmu       sync.Mutex
	handlers  map[string]map[int]Handler
	all       map[int]Handler
	statusFns map[int]func(StatusChange)
	nextID    int
}

// Option configures a Manager.
type Option func(*Manager)

func WithConfig(c Config) Option {
	return func(m *Manager) { m.cfg = c }
}

func WithPoller(p Poller) Option {
	return func(m *Manager) { m.poller = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a disconnected manager. Timers come from s.
func NewManager(d Dialer, s schedule.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		dialer:    d,
		sched:     s,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		status:    StatusDisconnected,
		reachable: true,
		handlers:  make(map[string]map[int]Handler),
		all:       make(map[int]Handler),
		statusFns: make(map[int]func(StatusChange)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.emitted = StatusChange{Status: StatusDisconnected}
	return m
}

// Connect joins tenantID's room. Connecting to the tenant already joined
// re-sends the join frame; connecting to another tenant tears the old
// connection down first. Blocks for at most one dial attempt.
func (m *Manager) Connect(ctx context.Context, tenantID string) {
	m.mu.Lock()
	if m.tenantID == tenantID && m.tenantID != "" {
		conn, gen := m.conn, m.gen
		if conn != nil {
			connCtx := m.ctx
			m.mu.Unlock()
			if err := conn.Write(connCtx, joinFrame(tenantID)); err != nil {
				m.logger.Warn("rejoin failed", "tenant", tenantID, "error", err)
				conn.Close()
			}
			return
		}
		stopTimer(&m.retry)
		m.mu.Unlock()
		m.attempt(gen)
		return
	}

	stale := m.resetLocked()
	m.gen++
	gen := m.gen
	m.tenantID = tenantID
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.status = StatusConnecting
	change := m.changeLocked()
	m.mu.Unlock()

	closeConn(stale)
	m.emitStatus(change)
	m.attempt(gen)
}

// Disconnect closes the connection and cancels every timer.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	stale := m.resetLocked()
	m.gen++
	m.tenantID = ""
	m.status = StatusDisconnected
	change := m.changeLocked()
	m.mu.Unlock()

	closeConn(stale)
	m.emitStatus(change)
}

// SetNetworkReachable records OS-level connectivity. Regaining it triggers
// an immediate connection attempt.
func (m *Manager) SetNetworkReachable(reachable bool) {
	m.mu.Lock()
	m.reachable = reachable
	change := m.changeLocked()
	retryNow := reachable && m.tenantID != "" && m.conn == nil
	gen := m.gen
	if retryNow {
		stopTimer(&m.retry)
	}
	m.mu.Unlock()

	m.emitStatus(change)
	if retryNow {
		m.attempt(gen)
	}
}

// IsOnline reports a live, reachable connection. Polling is offline.
func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onlineLocked()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Failures returns the consecutive failure count.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// TenantID returns the joined tenant, or "".
func (m *Manager) TenantID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenantID
}

// attempt dials once. Concurrent attempts collapse into one.
func (m *Manager) attempt(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.tenantID == "" || m.dialing || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	ctx, tenantID := m.ctx, m.tenantID
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, err := m.dialer.Dial(dctx, tenantID)
	cancel()
	if err == nil {
		if werr := conn.Write(ctx, joinFrame(tenantID)); werr != nil {
			conn.Close()
			conn, err = nil, werr
		}
	}

	m.mu.Lock()
	m.dialing = false
	if gen != m.gen {
		m.mu.Unlock()
		closeConn(conn)
		return
	}
	if err != nil {
		m.failLocked(gen, syncerr.Transport("dial failed", err))
		change := m.changeLocked()
		m.mu.Unlock()
		m.emitStatus(change)
		return
	}

	m.conn = conn
	m.failures = 0
	m.status = StatusConnected
	stopTimer(&m.retry)
	stopTimer(&m.poll)
	m.heartbeat = m.sched.Every(m.cfg.HeartbeatInterval, func() { m.beat(gen) })
	change := m.changeLocked()
	m.mu.Unlock()

	m.logger.Info("realtime connected", "tenant", tenantID)
	m.emitStatus(change)
	go m.readLoop(ctx, gen, conn)
}

// failLocked counts a failure and schedules the next attempt: a backoff
// retry, or the poll loop once MaxFailures is reached.
func (m *Manager) failLocked(gen uint64, err error) {
	m.failures++
	if m.failures >= m.cfg.MaxFailures {
		if m.status != StatusPolling {
			m.logger.Warn("realtime unavailable, polling",
				"tenant", m.tenantID,
				"failures", m.failures,
				"interval", m.cfg.PollInterval,
				"error", err,
			)
		}
		m.status = StatusPolling
		stopTimer(&m.retry)
		if m.poll == nil {
			m.poll = m.sched.Every(m.cfg.PollInterval, func() { m.pollTick(gen) })
		}
		return
	}

	delay := m.cfg.Backoff(m.failures)
	m.logger.Info("realtime connection failed",
		"tenant", m.tenantID,
		"failures", m.failures,
		"retry_in", delay,
		"error", err,
	)
	m.status = StatusReconnecting
	stopTimer(&m.retry)
	m.retry = m.sched.AfterFunc(delay, func() { m.attempt(gen) })
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		f, err := conn.Read(ctx)
		if err != nil {
			m.dropped(gen, conn, err)
			return
		}
		if f.Event == "" {
			continue
		}
		m.mu.Lock()
		current := gen == m.gen && m.conn == conn
		m.mu.Unlock()
		if !current {
			return
		}
		m.dispatch(f.Event, f.Data)
	}
}

func (m *Manager) dropped(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	stopTimer(&m.heartbeat)
	m.failLocked(gen, syncerr.Transport("connection lost", err))
	change := m.changeLocked()
	m.mu.Unlock()

	conn.Close()
	m.emitStatus(change)
}

func (m *Manager) beat(gen uint64) {
	m.mu.Lock()
	conn, ctx := m.conn, m.ctx
	current := gen == m.gen
	m.mu.Unlock()
	if !current || conn == nil {
		return
	}
	if err := conn.Write(ctx, Frame{Event: EventHeartbeat}); err != nil {
		m.logger.Debug("heartbeat failed", "error", err)
		// the read loop sees the closed connection and reconnects
		conn.Close()
	}
}

// pollTick fetches snapshots, then probes the socket once.
func (m *Manager) pollTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.status != StatusPolling {
		m.mu.Unlock()
		return
	}
	ctx, tenantID := m.ctx, m.tenantID
	m.mu.Unlock()

	if m.poller != nil {
		snapshots, err := m.poller.Poll(ctx, tenantID)
		if err != nil {
			m.logger.Debug("poll failed", "tenant", tenantID, "error", err)
		}
		for _, s := range snapshots {
			m.dispatch(model.EventOrderUpdated, s)
		}
	}
	m.attempt(gen)
}

// resetLocked stops timers and detaches the connection. The caller closes
// the returned conn outside the lock.
func (m *Manager) resetLocked() Conn {
	stopTimer(&m.retry)
	stopTimer(&m.heartbeat)
	stopTimer(&m.poll)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.failures = 0
	return conn
}

func (m *Manager) onlineLocked() bool {
	return m.reachable && m.status == StatusConnected && m.conn != nil
}

func (m *Manager) changeLocked() StatusChange {
	return StatusChange{Status: m.status, Online: m.onlineLocked(), Failures: m.failures}
}

func stopTimer(t *schedule.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func closeConn(c Conn) {
	if c != nil {
		c.Close()
	}
}

func joinFrame(tenantID string) Frame {
	return Frame{Event: EventJoin, Data: map[string]any{"tenantId": tenantID}}
}
