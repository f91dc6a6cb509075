// Package store defines the local persistence interfaces backing the
// offline-first data path. All reads the UI ever sees come through these
// interfaces; the sync engine uses the same seam to drain the queue.
package store

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/glucolog/glucolog/internal/model"
)

// ReadingFilter narrows List results. Zero value matches everything except
// tombstoned rows.
type ReadingFilter struct {
	// From/To bound the taken-at timestamp (inclusive); zero means unbounded.
	From time.Time
	To   time.Time
	// Synced filters on sync state when non-nil.
	Synced *bool
	// IncludeDeleted also returns tombstoned rows awaiting delete confirmation.
	IncludeDeleted bool
}

// ReadingRepo provides access to locally stored glucose readings.
type ReadingRepo interface {
	// Get returns a reading by local id, errs.ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*model.GlucoseReading, error)
	// Put upserts a reading by primary key.
	Put(ctx context.Context, r *model.GlucoseReading) error
	// BulkPut upserts a batch atomically (all-or-nothing).
	BulkPut(ctx context.Context, rs []model.GlucoseReading) error
	// List returns readings matching the filter, newest taken-at first.
	List(ctx context.Context, f ReadingFilter) ([]model.GlucoseReading, error)
	// Purge removes a row permanently (confirmed remote delete only).
	Purge(ctx context.Context, id uuid.UUID) error
}

// AppointmentRepo provides access to locally mirrored appointments.
type AppointmentRepo interface {
	// Get returns an appointment by local id, errs.ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// Put upserts an appointment by primary key.
	Put(ctx context.Context, a *model.Appointment) error
	// BulkPut upserts a batch atomically.
	BulkPut(ctx context.Context, as []model.Appointment) error
	// List returns all appointments, newest first.
	List(ctx context.Context) ([]model.Appointment, error)
}

// QueueRepo manages pending sync mutations.
type QueueRepo interface {
	// Put inserts a new queue entry.
	Put(ctx context.Context, e *model.SyncEntry) error
	// Due returns non-terminal entries with next_attempt_at <= now, ordered
	// by created_at ascending to preserve causal per-entity ordering. An
	// entity whose oldest retryable entry is still backing off contributes
	// nothing: its newer entries wait behind the head.
	Due(ctx context.Context, now time.Time) ([]model.SyncEntry, error)
	// All returns every entry ordered by created_at ascending.
	All(ctx context.Context) ([]model.SyncEntry, error)
	// Delete removes an entry after its effect is durably recorded.
	Delete(ctx context.Context, entryID uuid.UUID) error
	// DeleteFor removes every entry for one entity, used when a later local
	// mutation supersedes the queued snapshots.
	DeleteFor(ctx context.Context, entityLocalID uuid.UUID) error
	// RecordFailure increments attempt bookkeeping and schedules the retry.
	RecordFailure(ctx context.Context, entryID uuid.UUID, lastErr string, at, next time.Time, terminal bool) error
	// Counts returns pending (retryable) and terminal entry counts.
	Counts(ctx context.Context) (pending, terminal int, err error)
}

// Tx is the view of the store inside a transaction. Writes performed through
// it become visible atomically on commit; partial multi-table writes are
// never observable.
type Tx interface {
	Readings() ReadingRepo
	Appointments() AppointmentRepo
	Queue() QueueRepo
}

// Event notifies watchers that a table changed after a committed write.
type Event struct {
	Table string // "readings", "appointments" or "sync_queue"
}

// Store is the durable, schema-versioned local database.
type Store interface {
	Tx

	// InTx runs fn inside a single transaction spanning all tables. The
	// write+enqueue pair of every domain operation must go through here:
	// an entity write must never commit without its queue entry and vice
	// versa.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Watch registers a change listener. The returned cancel func must be
	// called to release it. Events are dropped, not blocked on, when the
	// subscriber lags.
	Watch(buffer int) (<-chan Event, func())

	// Close releases the underlying database.
	Close() error
}
