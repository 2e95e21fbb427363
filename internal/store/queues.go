package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a tenant has no persisted queue.
var ErrNotFound = errors.New("not found")

// QueueRecord is one tenant's persisted queue row.
type QueueRecord struct {
	TenantID  string
	Payload   []byte
	Entries   int
	Seq       int64
	UpdatedAt time.Time
}

// SaveQueue replaces the tenant's queue blob. entries is the number of
// writes in payload and is kept for listing without decoding.
func (s *Store) SaveQueue(ctx context.Context, tenantID string, payload []byte, entries int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_queues (tenant_id, payload, entries, seq, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			payload = excluded.payload,
			entries = excluded.entries,
			seq = offline_queues.seq + 1,
			updated_at = excluded.updated_at
	`,
		tenantID,
		string(payload),
		entries,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save queue %s: %w", tenantID, err)
	}
	return nil
}

// LoadQueue returns the tenant's queue row, or ErrNotFound.
func (s *Store) LoadQueue(ctx context.Context, tenantID string) (QueueRecord, error) {
	var (
		rec     QueueRecord
		payload string
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, payload, entries, seq, updated_at
		FROM offline_queues
		WHERE tenant_id = ?
	`, tenantID).Scan(&rec.TenantID, &payload, &rec.Entries, &rec.Seq, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueRecord{}, fmt.Errorf("load queue %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return QueueRecord{}, fmt.Errorf("load queue %s: %w", tenantID, err)
	}
	rec.Payload = []byte(payload)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}

// DeleteQueue removes the tenant's row. Deleting a missing row is not an
// error.
func (s *Store) DeleteQueue(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_queues WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("delete queue %s: %w", tenantID, err)
	}
	return nil
}

// Queues lists every persisted queue without payloads, ordered by tenant.
func (s *Store) Queues(ctx context.Context) ([]QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, entries, seq, updated_at
		FROM offline_queues
		ORDER BY tenant_id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var out []QueueRecord
	for rows.Next() {
		var (
			rec     QueueRecord
			updated string
		)
		if err := rows.Scan(&rec.TenantID, &rec.Entries, &rec.Seq, &updated); err != nil {
			return nil, fmt.Errorf("list queues: %w", err)
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return out, nil
}

// TenantQueue binds the store to one tenant and satisfies queue.Persister.
type TenantQueue struct {
	store    *Store
	tenantID string
}

// QueuePersister returns the persister for tenantID.
func (s *Store) QueuePersister(tenantID string) *TenantQueue {
	return &TenantQueue{store: s, tenantID: tenantID}
}

// Load returns the blob, or nil when nothing was persisted.
func (q *TenantQueue) Load(ctx context.Context) ([]byte, error) {
	rec, err := q.store.LoadQueue(ctx, q.tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Payload, nil
}

// Save persists the blob. An empty queue deletes the row.
func (q *TenantQueue) Save(ctx context.Context, payload []byte, entries int) error {
	if entries == 0 {
		return q.store.DeleteQueue(ctx, q.tenantID)
	}
	return q.store.SaveQueue(ctx, q.tenantID, payload, entries)
}
