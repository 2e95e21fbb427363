package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordersync/internal/api"
	"github.com/roach88/ordersync/internal/engine"
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/notify"
	"github.com/roach88/ordersync/internal/queue"
	"github.com/roach88/ordersync/internal/schedule"
	"github.com/roach88/ordersync/internal/store"
	"github.com/roach88/ordersync/internal/syncerr"
	"github.com/roach88/ordersync/internal/transport"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeConn struct {
	frames chan transport.Frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan transport.Frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return transport.Frame{}, errors.New("closed")
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Write(context.Context, transport.Frame) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	failing bool
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	d.failing = v
	d.mu.Unlock()
}

// push delivers a server event on the live connection.
func (d *fakeDialer) push(event string, data map[string]any) {
	d.mu.Lock()
	c := d.conns[len(d.conns)-1]
	d.mu.Unlock()
	c.frames <- transport.Frame{Event: event, Data: data}
}

// fakeRemote answers sends and submits through one function.
type fakeRemote struct {
	mu      sync.Mutex
	sent    []api.Request
	queued  []model.QueuedWrite
	reprint []string
	answer  func(kind model.WriteKind, orderID string, payload map[string]any, localID string) (*model.Order, error)
}

func (r *fakeRemote) reply(kind model.WriteKind, orderID string, payload map[string]any, localID string) (*model.Order, error) {
	if r.answer == nil {
		return nil, nil
	}
	return r.answer(kind, orderID, payload, localID)
}

func (r *fakeRemote) Send(_ context.Context, req api.Request, key string) (*model.Order, error) {
	r.mu.Lock()
	r.sent = append(r.sent, req)
	r.mu.Unlock()
	return r.reply(req.Kind, req.OrderID, req.Payload, key)
}

func (r *fakeRemote) Submit(_ context.Context, w model.QueuedWrite) (*model.Order, error) {
	r.mu.Lock()
	r.queued = append(r.queued, w)
	r.mu.Unlock()
	return r.reply(w.Kind, w.OrderID, w.Payload, w.LocalID)
}

func (r *fakeRemote) Reprint(_ context.Context, orderID string) error {
	r.mu.Lock()
	r.reprint = append(r.reprint, orderID)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) GenerateScanToPay(context.Context, string, string) (api.ScanToPaySession, error) {
	return api.ScanToPaySession{Token: "tok"}, nil
}

func (r *fakeRemote) SubmitScanToPay(context.Context, string, string, api.ScanToPayPayment) (*model.Order, error) {
	return nil, nil
}

func (r *fakeRemote) counts() (sent, queued int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent), len(r.queued)
}

type sinkRecorder struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (s *sinkRecorder) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return nil
}

func (s *sinkRecorder) kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Kind
	for _, n := range s.items {
		out = append(out, n.Kind)
	}
	return out
}

type harness struct {
	sess   *Session
	clock  *schedule.Manual
	dialer *fakeDialer
	remote *fakeRemote
	sink   *sinkRecorder
	db     *store.Store
}

func openDB(t *testing.T, path string) *store.Store {
	t.Helper()
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newHarness(t *testing.T, online bool, db *store.Store, mutate ...func(*Config)) *harness {
	t.Helper()
	if db == nil {
		db = openDB(t, filepath.Join(t.TempDir(), "queue.db"))
	}
	h := &harness{
		clock:  schedule.NewManual(epoch),
		dialer: &fakeDialer{failing: !online},
		remote: &fakeRemote{},
		sink:   &sinkRecorder{},
		db:     db,
	}
	cfg := Config{
		Tenant:    "tenant-1",
		Dialer:    h.dialer,
		Remote:    h.remote,
		Persister: db.QueuePersister("tenant-1"),
		Scheduler: h.clock,
		Sink:      h.sink,
		IDs:       engine.NewFixedGenerator("local-1", "local-2", "local-3", "local-4"),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	sess, err := New(cfg)
	require.NoError(t, err)
	h.sess = sess
	return h
}

// start runs Init and the Run loop, tearing down on cleanup.
func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sess.Init(context.Background()))

	done := make(chan error, 1)
	go func() { done <- h.sess.Run(context.Background()) }()
	t.Cleanup(func() {
		h.sess.Teardown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("Run did not return after Teardown")
		}
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "tenant is required")

	_, err = New(Config{Tenant: "t"})
	assert.ErrorContains(t, err, "dialer is required")
}

func TestCreateOrderOffline_PlaceholderReplacedAfterReconnect(t *testing.T) {
	h := newHarness(t, false, nil)
	h.remote.answer = func(kind model.WriteKind, _ string, _ map[string]any, localID string) (*model.Order, error) {
		if kind != model.WriteCreateOrder {
			return nil, errors.New("unexpected write " + string(kind))
		}
		return &model.Order{
			ID:          "ord-100",
			LocalID:     localID,
			Status:      model.StatusReceived,
			TotalAmount: decimal.RequireFromString("23.44"),
		}, nil
	}
	h.start(t)
	ctx := context.Background()
	require.False(t, h.sess.IsOnline())

	// an existing order ahead of the placeholder fixes its slot at index 1
	require.NoError(t, h.sess.Engine().Do(ctx, func() {
		h.sess.Orders().Upsert(model.Order{ID: "ord-1", Status: model.StatusReceived})
	}))

	ph, err := h.sess.CreateOrder(ctx, map[string]any{"tableName": "T4", "totalAmount": "99"})
	require.NoError(t, err)
	assert.Equal(t, "local-1", ph.ID)
	assert.Equal(t, "local-1", ph.LocalID)
	assert.Equal(t, model.StatusReceived, ph.Status)
	assert.True(t, ph.TotalAmount.IsZero())
	assert.True(t, ph.IsQueued)
	assert.Equal(t, "T4", ph.TableName)
	assert.Equal(t, 1, h.sess.Queue().Len())

	recs, err := h.db.Queues(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Entries, "queue persisted per tenant")

	h.dialer.setFailing(false)
	h.clock.Advance(time.Second)
	require.True(t, h.sess.IsOnline())

	require.Eventually(t, func() bool { return h.sess.Queue().Len() == 0 }, waitFor, tick)
	require.Eventually(t, func() bool {
		all := h.sess.Orders().All()
		return len(all) == 2 && all[1].ID == "ord-100"
	}, waitFor, tick)

	o := h.sess.Orders().All()[1]
	assert.False(t, o.IsQueued)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("23.44")))
	_, stale := h.sess.Orders().Get("local-1")
	assert.False(t, stale)
	assert.Equal(t, queue.StatusIdle, h.sess.QueueStatus())
}

func TestQueuedCreateHandsOverToServerID(t *testing.T) {
	h := newHarness(t, false, nil)
	h.remote.answer = func(kind model.WriteKind, _ string, _ map[string]any, localID string) (*model.Order, error) {
		if kind == model.WriteCreateOrder {
			return &model.Order{ID: "ord-100", LocalID: localID, Status: model.StatusInPreparation}, nil
		}
		return nil, nil
	}
	h.start(t)
	ctx := context.Background()

	ph, err := h.sess.CreateOrder(ctx, map[string]any{"tableName": "T4"})
	require.NoError(t, err)
	require.NoError(t, h.sess.UpdateStatus(ctx, ph.ID, model.StatusInPreparation))
	require.Equal(t, model.PrintPrinting, h.sess.PrintStatus(ph.ID))
	require.NoError(t, h.sess.BulkUpdateStatus(ctx, []string{ph.ID}, model.StatusReadyForPickup))
	require.Equal(t, 3, h.sess.Queue().Len())

	h.dialer.setFailing(false)
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.sess.Queue().Len() == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.sess.PrintStatus("ord-100") == model.PrintPrinting }, waitFor, tick)
	assert.Equal(t, model.PrintNone, h.sess.PrintStatus(ph.ID))

	h.remote.mu.Lock()
	submitted := append([]model.QueuedWrite(nil), h.remote.queued...)
	h.remote.mu.Unlock()
	require.Len(t, submitted, 3)
	assert.Equal(t, "ord-100", submitted[1].OrderID)
	assert.Equal(t, []any{"ord-100"}, submitted[2].Payload["orderIds"])

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return h.sess.PrintStatus("ord-100") == model.PrintFailed }, waitFor, tick)
	assert.Equal(t, syncerr.CodePrintTimeout, syncerr.CodeOf(h.sess.PrintFailure("ord-100")))
	assert.Equal(t, model.PrintNone, h.sess.PrintStatus(ph.ID))

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	var failed []string
	for _, n := range h.sink.items {
		if n.Kind == notify.KindPrintFailed {
			failed = append(failed, n.OrderID)
		}
	}
	assert.Equal(t, []string{"ord-100"}, failed)
}

func TestWritesWhileOnlineGoDirect(t *testing.T) {
	h := newHarness(t, true, nil)
	h.start(t)
	ctx := context.Background()
	require.True(t, h.sess.IsOnline())

	h.dialer.push(model.EventOrderNew, map[string]any{
		"id": "ord-1", "status": "confirmed",
		"checks": []any{map[string]any{"id": "chk-1", "selections": []any{}}},
	})
	require.Eventually(t, func() bool { _, ok := h.sess.Orders().Get("ord-1"); return ok }, waitFor, tick)

	require.NoError(t, h.sess.UpdateStatus(ctx, "ord-1", model.StatusInPreparation))

	sent, queued := h.remote.counts()
	assert.Equal(t, 1, sent)
	assert.Zero(t, queued)
	assert.Zero(t, h.sess.Queue().Len())

	o, _ := h.sess.Orders().Get("ord-1")
	assert.Equal(t, model.StatusInPreparation, o.Status)
	assert.Equal(t, model.PrintPrinting, h.sess.PrintStatus("ord-1"), "forward move into preparation prints")

	require.NoError(t, h.sess.UpdateStatus(ctx, "ord-1", model.StatusReceived))
	assert.Equal(t, model.PrintNone, h.sess.PrintStatus("ord-1"), "recall resets print status")
}

func TestPrintTimeoutNotifies(t *testing.T) {
	h := newHarness(t, true, nil)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.sess.Engine().Do(ctx, func() {
		h.sess.Orders().Upsert(model.Order{ID: "ord-1", Status: model.StatusReceived})
	}))
	require.NoError(t, h.sess.UpdateStatus(ctx, "ord-1", model.StatusInPreparation))

	h.clock.Advance(30 * time.Second)

	require.Eventually(t, func() bool { return h.sess.PrintStatus("ord-1") == model.PrintFailed }, waitFor, tick)
	assert.Contains(t, h.sink.kinds(), notify.KindPrintFailed)
}

func TestDirectWriteRejectedIsReturned(t *testing.T) {
	h := newHarness(t, true, nil)
	h.remote.answer = func(model.WriteKind, string, map[string]any, string) (*model.Order, error) {
		return nil, syncerr.WriteFailure("bad request", 400, nil)
	}
	h.start(t)

	err := h.sess.AddNote(context.Background(), "ord-1", "no onions")
	assert.True(t, syncerr.IsWriteFailure(err))
	assert.Zero(t, h.sess.Queue().Len(), "rejected writes are not queued")
}

func TestDirectWriteConflictCountsAsApplied(t *testing.T) {
	h := newHarness(t, true, nil)
	h.remote.answer = func(model.WriteKind, string, map[string]any, string) (*model.Order, error) {
		return nil, syncerr.WriteConflict("already applied", 409)
	}
	h.start(t)
	ctx := context.Background()
	require.NoError(t, h.sess.Engine().Do(ctx, func() {
		h.sess.Orders().Upsert(model.Order{ID: "ord-1", Status: model.StatusReceived})
	}))

	require.NoError(t, h.sess.AddNote(ctx, "ord-1", "no onions"))

	o, ok := h.sess.Orders().Get("ord-1")
	require.True(t, ok)
	assert.Equal(t, "no onions", o.Notes)
	assert.Zero(t, h.sess.Queue().Len())
	sent, queued := h.remote.counts()
	assert.Equal(t, 1, sent)
	assert.Zero(t, queued)
}

func TestDirectWriteNetworkFailureIsQueued(t *testing.T) {
	h := newHarness(t, true, nil)
	calls := 0
	h.remote.answer = func(model.WriteKind, string, map[string]any, string) (*model.Order, error) {
		calls++
		if calls == 1 {
			return nil, syncerr.WriteFailure("POST /orders/ord-1/notes", 0, errors.New("connection reset"))
		}
		return nil, nil
	}
	h.start(t)

	require.NoError(t, h.sess.AddNote(context.Background(), "ord-1", "no onions"))

	require.Eventually(t, func() bool { return h.sess.Queue().Len() == 0 }, waitFor, tick)
	_, queued := h.remote.counts()
	assert.Equal(t, 1, queued, "queued write drained while online")
}

func TestWritesQueueBehindExistingEntries(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.sess.Engine().Do(ctx, func() {
		h.sess.Orders().Upsert(model.Order{
			ID: "ord-1", Status: model.StatusInPreparation,
			Courses: []model.Course{{ID: "c-1", SortOrder: 1, FireStatus: model.FirePending}},
		})
	}))

	require.NoError(t, h.sess.FireCourse(ctx, "ord-1", "c-1"))
	require.NoError(t, h.sess.HoldCourse(ctx, "ord-1", "c-1"))

	assert.Equal(t, 2, h.sess.Queue().Len())
	entries := h.sess.Queue().Entries()
	assert.Equal(t, model.WriteFireCourse, entries[0].Kind)
	assert.Equal(t, model.WriteHoldCourse, entries[1].Kind)

	o, _ := h.sess.Orders().Get("ord-1")
	assert.Equal(t, model.FirePending, o.CourseByID("c-1").FireStatus, "hold is the explicit reset")
}

func TestInitRestoresPersistedQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	first := newHarness(t, false, openDB(t, path))
	first.start(t)
	_, err := first.sess.CreateOrder(ctx, map[string]any{"tableName": "T9"})
	require.NoError(t, err)
	first.sess.Teardown()

	second := newHarness(t, true, openDB(t, path))
	second.remote.answer = func(_ model.WriteKind, _ string, _ map[string]any, localID string) (*model.Order, error) {
		return &model.Order{ID: "ord-7", LocalID: localID, Status: model.StatusReceived}, nil
	}
	second.start(t)

	require.Eventually(t, func() bool { return second.sess.Queue().Len() == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { _, ok := second.sess.Orders().Get("ord-7"); return ok }, waitFor, tick)
	assert.Len(t, second.sess.Orders().All(), 1, "restored placeholder was replaced, not duplicated")
}

func TestParkedWriteNotifies(t *testing.T) {
	h := newHarness(t, true, nil, func(c *Config) { c.MaxRetries = 1 })
	h.remote.answer = func(model.WriteKind, string, map[string]any, string) (*model.Order, error) {
		return nil, syncerr.WriteFailure("POST", 0, errors.New("connection reset"))
	}
	h.start(t)

	require.NoError(t, h.sess.AddNote(context.Background(), "ord-1", "x"))

	require.Eventually(t, func() bool {
		for _, k := range h.sink.kinds() {
			if k == notify.KindWriteParked {
				return true
			}
		}
		return false
	}, waitFor, tick)
	assert.Equal(t, queue.StatusHasFailed, h.sess.QueueStatus())
}

func TestOnlineOnlyCommands(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.sess.Reprint(ctx, "ord-1"), ErrOffline)
	_, err := h.sess.GenerateScanToPay(ctx, "ord-1", "chk-1")
	assert.ErrorIs(t, err, ErrOffline)
	assert.Empty(t, syncerr.CodeOf(err), "offline is not a transport failure")
	assert.False(t, syncerr.IsTransport(err))
}

func TestReprintStartsPrinting(t *testing.T) {
	h := newHarness(t, true, nil)
	h.start(t)

	require.NoError(t, h.sess.Reprint(context.Background(), "ord-1"))
	assert.Equal(t, model.PrintPrinting, h.sess.PrintStatus("ord-1"))
}

func TestTeardownCancelsTimers(t *testing.T) {
	h := newHarness(t, false, nil)
	h.start(t)
	require.Positive(t, h.clock.Pending(), "reconnect backoff is scheduled")

	h.sess.Teardown()
	h.sess.Teardown()

	assert.Zero(t, h.clock.Pending())
	assert.Equal(t, transport.StatusDisconnected, h.sess.Transport().Status())
	assert.ErrorIs(t, h.sess.Engine().Do(context.Background(), func() {}), engine.ErrStopped)
}
