package sqlite

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/store"
)

const tableReadings = "readings"

type readingRepo struct {
	q       querier
	touched func(table string)
}

var _ store.ReadingRepo = (*readingRepo)(nil)

const readingCols = `id, backend_id, value, unit, taken_at, meal_context, notes, synced, deleted, updated_at`

// Get returns a reading by local id.
func (r *readingRepo) Get(ctx context.Context, id uuid.UUID) (*model.GlucoseReading, error) {
	const q = `SELECT ` + readingCols + ` FROM readings WHERE id=?`
	row := r.q.QueryRowContext(ctx, q, id.String())
	rd, err := scanReading(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return rd, nil
}

// Put upserts a reading by primary key.
func (r *readingRepo) Put(ctx context.Context, rd *model.GlucoseReading) error {
	if err := r.put(ctx, rd); err != nil {
		return err
	}
	r.touched(tableReadings)
	return nil
}

// BulkPut upserts a batch. In auto-commit mode each row is its own
// statement, so callers needing all-or-nothing semantics run it inside
// InTx; the tx view gives the same repo atomicity for free.
func (r *readingRepo) BulkPut(ctx context.Context, rds []model.GlucoseReading) error {
	for i := range rds {
		if err := r.put(ctx, &rds[i]); err != nil {
			return err
		}
	}
	if len(rds) > 0 {
		r.touched(tableReadings)
	}
	return nil
}

func (r *readingRepo) put(ctx context.Context, rd *model.GlucoseReading) error {
	const q = `
INSERT INTO readings (` + readingCols + `)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  backend_id=excluded.backend_id,
  value=excluded.value,
  unit=excluded.unit,
  taken_at=excluded.taken_at,
  meal_context=excluded.meal_context,
  notes=excluded.notes,
  synced=excluded.synced,
  deleted=excluded.deleted,
  updated_at=excluded.updated_at`
	_, err := r.q.ExecContext(ctx, q,
		rd.ID.String(), rd.BackendID, rd.Value, string(rd.Unit),
		encodeTime(rd.Timestamp), string(rd.MealContext), rd.Notes,
		boolInt(rd.Synced), boolInt(rd.Deleted), encodeTime(rd.UpdatedAt),
	)
	return mapErr(err)
}

// List returns readings matching the filter ordered by taken-at descending.
func (r *readingRepo) List(ctx context.Context, f store.ReadingFilter) ([]model.GlucoseReading, error) {
	q := `SELECT ` + readingCols + ` FROM readings WHERE 1=1`
	args := []any{}
	if !f.IncludeDeleted {
		q += ` AND deleted=0`
	}
	if !f.From.IsZero() {
		q += ` AND taken_at>=?`
		args = append(args, encodeTime(f.From))
	}
	if !f.To.IsZero() {
		q += ` AND taken_at<=?`
		args = append(args, encodeTime(f.To))
	}
	if f.Synced != nil {
		q += ` AND synced=?`
		args = append(args, boolInt(*f.Synced))
	}
	q += ` ORDER BY taken_at DESC`

	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []model.GlucoseReading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *rd)
	}
	return out, mapErr(rows.Err())
}

// Purge removes a row permanently. Only the sync engine calls this, after a
// confirmed remote delete.
func (r *readingRepo) Purge(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM readings WHERE id=?`, id.String())
	if err != nil {
		return mapErr(err)
	}
	r.touched(tableReadings)
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface{ Scan(dest ...any) error }

func scanReading(sc rowScanner) (*model.GlucoseReading, error) {
	var (
		rd             model.GlucoseReading
		id, unit, meal string
		taken, updated string
		synced, del    int
	)
	if err := sc.Scan(&id, &rd.BackendID, &rd.Value, &unit, &taken, &meal, &rd.Notes, &synced, &del, &updated); err != nil {
		return nil, err
	}
	uid, err := uuid.FromString(id)
	if err != nil {
		return nil, err
	}
	rd.ID = uid
	rd.Unit = model.Unit(unit)
	rd.MealContext = model.MealContext(meal)
	rd.Synced = synced != 0
	rd.Deleted = del != 0
	if rd.Timestamp, err = decodeTime(taken); err != nil {
		return nil, err
	}
	if rd.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &rd, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
