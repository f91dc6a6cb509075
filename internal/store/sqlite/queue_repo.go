package sqlite

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/store"
)

const tableQueue = "sync_queue"

type queueRepo struct {
	q       querier
	touched func(table string)
}

var _ store.QueueRepo = (*queueRepo)(nil)

const queueCols = `entry_id, entity_type, entity_local_id, op, payload, attempt_count, terminal, created_at, last_attempt_at, next_attempt_at, last_error`

// Put inserts a new queue entry.
func (r *queueRepo) Put(ctx context.Context, e *model.SyncEntry) error {
	const q = `INSERT INTO sync_queue (` + queueCols + `) VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	_, err := r.q.ExecContext(ctx, q,
		e.EntryID.String(), string(e.EntityType), e.EntityLocalID.String(),
		string(e.Op), e.Payload, e.AttemptCount, boolInt(e.Terminal),
		encodeTime(e.CreatedAt), encodeTime(e.LastAttemptAt),
		encodeTime(e.NextAttemptAt), e.LastError,
	)
	if err != nil {
		return mapErr(err)
	}
	r.touched(tableQueue)
	return nil
}

// Due returns retryable entries whose backoff window has elapsed, oldest
// first. An entry queued behind an older retryable sibling of the same
// entity that is still backing off is held back with it: a mutation may
// only reach the backend after every older mutation of its entity has.
func (r *queueRepo) Due(ctx context.Context, now time.Time) ([]model.SyncEntry, error) {
	const q = `SELECT ` + queueCols + ` FROM sync_queue
WHERE terminal=0 AND next_attempt_at<=?
  AND NOT EXISTS (
    SELECT 1 FROM sync_queue older
    WHERE older.entity_local_id=sync_queue.entity_local_id
      AND older.terminal=0
      AND older.created_at<sync_queue.created_at
      AND older.next_attempt_at>?
  )
ORDER BY created_at ASC`
	return r.list(ctx, q, encodeTime(now), encodeTime(now))
}

// All returns every entry ordered by created_at ascending.
func (r *queueRepo) All(ctx context.Context) ([]model.SyncEntry, error) {
	const q = `SELECT ` + queueCols + ` FROM sync_queue ORDER BY created_at ASC`
	return r.list(ctx, q)
}

func (r *queueRepo) list(ctx context.Context, q string, args ...any) ([]model.SyncEntry, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []model.SyncEntry
	for rows.Next() {
		var (
			e                   model.SyncEntry
			entryID, localID    string
			entityType, op      string
			terminalFlag        int
			created, last, next string
		)
		if err := rows.Scan(&entryID, &entityType, &localID, &op, &e.Payload,
			&e.AttemptCount, &terminalFlag, &created, &last, &next, &e.LastError); err != nil {
			return nil, mapErr(err)
		}
		if e.EntryID, err = uuid.FromString(entryID); err != nil {
			return nil, mapErr(err)
		}
		if e.EntityLocalID, err = uuid.FromString(localID); err != nil {
			return nil, mapErr(err)
		}
		e.EntityType = model.EntityType(entityType)
		e.Op = model.Operation(op)
		e.Terminal = terminalFlag != 0
		if e.CreatedAt, err = decodeTime(created); err != nil {
			return nil, mapErr(err)
		}
		if e.LastAttemptAt, err = decodeTime(last); err != nil {
			return nil, mapErr(err)
		}
		if e.NextAttemptAt, err = decodeTime(next); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// Delete removes a confirmed entry.
func (r *queueRepo) Delete(ctx context.Context, entryID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE entry_id=?`, entryID.String())
	if err != nil {
		return mapErr(err)
	}
	r.touched(tableQueue)
	return nil
}

// DeleteFor removes every entry for one entity. Services call this when a
// later local mutation supersedes the queued snapshots.
func (r *queueRepo) DeleteFor(ctx context.Context, entityLocalID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE entity_local_id=?`, entityLocalID.String())
	if err != nil {
		return mapErr(err)
	}
	r.touched(tableQueue)
	return nil
}

// RecordFailure bumps attempt bookkeeping and schedules the next retry; a
// terminal failure stops further automatic retries but keeps the row for
// surfacing through sync health.
func (r *queueRepo) RecordFailure(ctx context.Context, entryID uuid.UUID, lastErr string, at, next time.Time, terminal bool) error {
	const q = `UPDATE sync_queue
SET attempt_count=attempt_count+1, last_error=?, last_attempt_at=?, next_attempt_at=?, terminal=?
WHERE entry_id=?`
	_, err := r.q.ExecContext(ctx, q, lastErr, encodeTime(at), encodeTime(next), boolInt(terminal), entryID.String())
	if err != nil {
		return mapErr(err)
	}
	r.touched(tableQueue)
	return nil
}

// Counts returns pending (retryable) and terminal entry counts.
func (r *queueRepo) Counts(ctx context.Context) (int, int, error) {
	var pending, terminal int
	row := r.q.QueryRowContext(ctx, `SELECT
  COUNT(*) FILTER (WHERE terminal=0),
  COUNT(*) FILTER (WHERE terminal=1)
FROM sync_queue`)
	if err := row.Scan(&pending, &terminal); err != nil {
		return 0, 0, mapErr(err)
	}
	return pending, terminal, nil
}
