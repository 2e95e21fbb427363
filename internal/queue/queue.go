// Package queue implements the durable offline write queue.
//
// Writes issued while offline are appended in FIFO order and persisted per
// tenant. A drain pass submits them one at a time, awaiting each result
// before the next, and stops at the first retryable failure. Entries that
// reach the retry cap are parked: kept, skipped by automatic passes, and
// reported through StatusHasFailed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/syncerr"
)

// DefaultMaxRetries is the retry cap after which an entry is parked.
const DefaultMaxRetries = 5

// Status summarizes the queue for callers.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusHasFailed Status = "has_failed"
)

// Persister stores the serialized queue for one tenant.
type Persister interface {
	// Load returns the last saved blob, or nil if none exists.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the blob. entries is the number of writes it holds.
	Save(ctx context.Context, payload []byte, entries int) error
}

// Submitter sends one queued write to the remote service. It returns the
// authoritative order when the response carries one. A 409 must surface as
// a syncerr WriteConflict.
type Submitter interface {
	Submit(ctx context.Context, w model.QueuedWrite) (*model.Order, error)
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, w model.QueuedWrite) (*model.Order, error)

func (f SubmitFunc) Submit(ctx context.Context, w model.QueuedWrite) (*model.Order, error) {
	return f(ctx, w)
}

// Write is a mutation to enqueue.
type Write struct {
	Kind    model.WriteKind
	OrderID string
	Payload map[string]any
}

// SyncedFunc is called after an entry leaves the queue through success or
// conflict. order is nil when the response carried none.
type SyncedFunc func(w model.QueuedWrite, order *model.Order)

// Queue is the per-tenant offline write queue.
type Queue struct {
	mu       sync.Mutex
	entries  []model.QueuedWrite
	draining bool
	last     Status

	persist    Persister
	submitter  Submitter
	maxRetries int
	newID      func() string
	now        func() time.Time
	onSynced   SyncedFunc
	onStatus   func(Status)
	onParked   func(model.QueuedWrite)
	logger     *slog.Logger
	tenantID   string

	trigger chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithIDs sets the local id generator.
func WithIDs(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(q *Queue) { q.now = fn }
}

func WithOnSynced(fn SyncedFunc) Option {
	return func(q *Queue) { q.onSynced = fn }
}

// WithOnStatus registers a callback for status changes.
func WithOnStatus(fn func(Status)) Option {
	return func(q *Queue) { q.onStatus = fn }
}

// WithOnParked registers a callback for entries that just hit the retry
// cap.
func WithOnParked(fn func(model.QueuedWrite)) Option {
	return func(q *Queue) { q.onParked = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithTenant labels log lines and corruption reports.
func WithTenant(id string) Option {
	return func(q *Queue) { q.tenantID = id }
}

// New returns an empty queue. Call Load to restore persisted entries.
func New(p Persister, s Submitter, opts ...Option) *Queue {
	q := &Queue{
		persist:    p,
		submitter:  s,
		maxRetries: DefaultMaxRetries,
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
		now:        time.Now,
		logger:     slog.Default(),
		last:       StatusIdle,
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load restores the persisted queue. An unparsable blob is discarded and
// logged as QUEUE_CORRUPTION; it never fails initialization. Returns the
// number of restored entries.
func (q *Queue) Load(ctx context.Context) (int, error) {
	blob, err := q.persist.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue: %w", err)
	}

	var entries []model.QueuedWrite
	if len(blob) > 0 {
		if err := decode(blob, &entries); err != nil {
			q.logger.Warn("discarding persisted queue",
				"tenant", q.tenantID,
				"error", syncerr.QueueCorruption(q.tenantID, err),
			)
			entries = nil
			if err := q.persist.Save(ctx, nil, 0); err != nil {
				q.logger.Warn("clear corrupt queue failed", "tenant", q.tenantID, "error", err)
			}
		}
	}

	q.mu.Lock()
	q.entries = entries
	n := len(entries)
	q.mu.Unlock()
	q.notifyStatus()
	return n, nil
}

// decode rejects blobs that parse but do not describe queued writes.
func decode(blob []byte, out *[]model.QueuedWrite) error {
	if err := json.Unmarshal(blob, out); err != nil {
		return err
	}
	for i, w := range *out {
		if w.LocalID == "" || w.Kind == "" {
			return fmt.Errorf("entry %d: missing local_id or kind", i)
		}
	}
	return nil
}

// Enqueue appends a write and persists the queue. The entry stays queued
// in memory even if persisting fails.
func (q *Queue) Enqueue(ctx context.Context, w Write) (model.QueuedWrite, error) {
	entry := model.QueuedWrite{
		LocalID:  q.newID(),
		Kind:     w.Kind,
		OrderID:  w.OrderID,
		Payload:  w.Payload,
		QueuedAt: q.now().UTC(),
	}
	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	err := q.saveLocked(ctx)
	q.mu.Unlock()

	q.logger.Debug("write queued", "tenant", q.tenantID, "local_id", entry.LocalID, "kind", entry.Kind, "order_id", entry.OrderID)
	q.notifyStatus()
	return entry, err
}

// TriggerDrain asks the Run worker for a pass. Never blocks.
func (q *Queue) TriggerDrain() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// Run drains on every trigger until ctx is cancelled. A pass in flight when
// ctx ends finishes its current attempt and then stops.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.trigger:
			q.DrainOnce(ctx)
		}
	}
}

// Result reports what one drain pass did.
type Result struct {
	Succeeded int
	Conflicts int
	Failed    int
	Skipped   int
	Halted    bool
}

// DrainOnce runs one pass. It returns immediately if another pass is in
// progress.
func (q *Queue) DrainOnce(ctx context.Context) Result {
	var res Result

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return res
	}
	q.draining = true
	q.mu.Unlock()
	q.notifyStatus()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
		q.notifyStatus()
	}()

	attempted := make(map[string]bool)
	for {
		if ctx.Err() != nil {
			res.Halted = true
			return res
		}

		q.mu.Lock()
		entry, skipped, ok := q.nextLocked(attempted)
		q.mu.Unlock()
		res.Skipped = skipped
		if !ok {
			return res
		}
		attempted[entry.LocalID] = true

		order, err := q.submitter.Submit(context.WithoutCancel(ctx), entry)
		switch {
		case err == nil:
			res.Succeeded++
			q.complete(ctx, entry, order)
		case syncerr.IsConflict(err):
			res.Conflicts++
			q.logger.Info("write already applied", "tenant", q.tenantID, "local_id", entry.LocalID, "kind", entry.Kind)
			q.complete(ctx, entry, order)
		default:
			res.Failed++
			res.Halted = true
			q.fail(ctx, entry, err)
			return res
		}
	}
}

// nextLocked returns the first entry below the retry cap that this pass has
// not attempted, and how many capped entries sit before it.
func (q *Queue) nextLocked(attempted map[string]bool) (model.QueuedWrite, int, bool) {
	skipped := 0
	for _, e := range q.entries {
		if e.RetryCount >= q.maxRetries {
			skipped++
			continue
		}
		if attempted[e.LocalID] {
			continue
		}
		return e, skipped, true
	}
	return model.QueuedWrite{}, skipped, false
}

func (q *Queue) complete(ctx context.Context, entry model.QueuedWrite, order *model.Order) {
	q.mu.Lock()
	q.removeLocked(entry.LocalID)
	if entry.Kind == model.WriteCreateOrder && order != nil && order.ID != "" {
		q.retargetLocked(entry.LocalID, order.ID)
	}
	err := q.saveLocked(context.WithoutCancel(ctx))
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("persist queue failed", "tenant", q.tenantID, "error", err)
	}
	q.logger.Debug("write synced", "tenant", q.tenantID, "local_id", entry.LocalID, "kind", entry.Kind)
	if q.onSynced != nil {
		q.onSynced(entry, order)
	}
}

func (q *Queue) fail(ctx context.Context, entry model.QueuedWrite, cause error) {
	q.mu.Lock()
	retries := 0
	for i := range q.entries {
		if q.entries[i].LocalID == entry.LocalID {
			q.entries[i].RetryCount++
			q.entries[i].LastError = cause.Error()
			retries = q.entries[i].RetryCount
			entry = q.entries[i]
			break
		}
	}
	err := q.saveLocked(context.WithoutCancel(ctx))
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("persist queue failed", "tenant", q.tenantID, "error", err)
	}
	if retries >= q.maxRetries {
		q.logger.Warn("write parked after retries",
			"tenant", q.tenantID,
			"local_id", entry.LocalID,
			"kind", entry.Kind,
			"retries", retries,
			"error", cause,
		)
		if q.onParked != nil {
			q.onParked(entry)
		}
		return
	}
	q.logger.Info("drain halted", "tenant", q.tenantID, "local_id", entry.LocalID, "retries", retries, "error", cause)
}

// retargetLocked points later writes addressed to a placeholder at the
// server-assigned id.
func (q *Queue) retargetLocked(localID, serverID string) {
	for i := range q.entries {
		e := &q.entries[i]
		if e.OrderID == localID {
			e.OrderID = serverID
		}
		if ids, ok := retargetIDs(e.Payload[keyOrderIDs], localID, serverID); ok {
			payload := make(map[string]any, len(e.Payload))
			for k, v := range e.Payload {
				payload[k] = v
			}
			payload[keyOrderIDs] = ids
			e.Payload = payload
		}
	}
}

// keyOrderIDs holds the targets of a bulk write.
const keyOrderIDs = "orderIds"

// retargetIDs returns a copy of an id list with localID replaced, and
// whether anything changed. Lists decoded from disk are []any.
func retargetIDs(v any, localID, serverID string) ([]any, bool) {
	var ids []any
	switch list := v.(type) {
	case []any:
		ids = append(ids, list...)
	case []string:
		for _, id := range list {
			ids = append(ids, id)
		}
	default:
		return nil, false
	}
	changed := false
	for i, id := range ids {
		if s, ok := id.(string); ok && s == localID {
			ids[i] = serverID
			changed = true
		}
	}
	return ids, changed
}

func (q *Queue) removeLocked(localID string) bool {
	for i, e := range q.entries {
		if e.LocalID == localID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) saveLocked(ctx context.Context) error {
	blob, err := json.Marshal(q.entries)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.persist.Save(ctx, blob, len(q.entries)); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

// Discard drops an entry, typically a parked one the user gave up on.
func (q *Queue) Discard(ctx context.Context, localID string) (bool, error) {
	q.mu.Lock()
	if !q.removeLocked(localID) {
		q.mu.Unlock()
		return false, nil
	}
	err := q.saveLocked(ctx)
	q.mu.Unlock()
	q.notifyStatus()
	return true, err
}

// Retry resets a parked entry so the next pass attempts it again.
func (q *Queue) Retry(ctx context.Context, localID string) (bool, error) {
	q.mu.Lock()
	found := false
	for i := range q.entries {
		if q.entries[i].LocalID == localID {
			q.entries[i].RetryCount = 0
			found = true
			break
		}
	}
	if !found {
		q.mu.Unlock()
		return false, nil
	}
	err := q.saveLocked(ctx)
	q.mu.Unlock()
	q.notifyStatus()
	q.TriggerDrain()
	return true, err
}

// Clear drops every entry.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	q.entries = nil
	err := q.saveLocked(ctx)
	q.mu.Unlock()
	q.notifyStatus()
	return err
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queue in FIFO order.
func (q *Queue) Entries() []model.QueuedWrite {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.QueuedWrite(nil), q.entries...)
}

// Parked returns entries at the retry cap.
func (q *Queue) Parked() []model.QueuedWrite {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.QueuedWrite
	for _, e := range q.entries {
		if e.RetryCount >= q.maxRetries {
			out = append(out, e)
		}
	}
	return out
}

// Status returns syncing while a pass runs, has_failed when any entry is
// parked, idle otherwise.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	if q.draining {
		return StatusSyncing
	}
	for _, e := range q.entries {
		if e.RetryCount >= q.maxRetries {
			return StatusHasFailed
		}
	}
	return StatusIdle
}

func (q *Queue) notifyStatus() {
	q.mu.Lock()
	s := q.statusLocked()
	changed := s != q.last
	q.last = s
	q.mu.Unlock()
	if changed && q.onStatus != nil {
		q.onStatus(s)
	}
}
