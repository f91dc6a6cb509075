package sqlite

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/store"
)

const tableAppointments = "appointments"

type appointmentRepo struct {
	q       querier
	touched func(table string)
}

var _ store.AppointmentRepo = (*appointmentRepo)(nil)

const appointmentCols = `id, backend_id, user_id, queue_state, synced, updated_at`

// Get returns an appointment by local id.
func (r *appointmentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	const q = `SELECT ` + appointmentCols + ` FROM appointments WHERE id=?`
	row := r.q.QueryRowContext(ctx, q, id.String())
	a, err := scanAppointment(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// Put upserts an appointment by primary key.
func (r *appointmentRepo) Put(ctx context.Context, a *model.Appointment) error {
	if err := r.put(ctx, a); err != nil {
		return err
	}
	r.touched(tableAppointments)
	return nil
}

// BulkPut upserts a batch; run inside InTx for all-or-nothing application.
func (r *appointmentRepo) BulkPut(ctx context.Context, as []model.Appointment) error {
	for i := range as {
		if err := r.put(ctx, &as[i]); err != nil {
			return err
		}
	}
	if len(as) > 0 {
		r.touched(tableAppointments)
	}
	return nil
}

func (r *appointmentRepo) put(ctx context.Context, a *model.Appointment) error {
	const q = `
INSERT INTO appointments (` + appointmentCols + `)
VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  backend_id=excluded.backend_id,
  user_id=excluded.user_id,
  queue_state=excluded.queue_state,
  synced=excluded.synced,
  updated_at=excluded.updated_at`
	_, err := r.q.ExecContext(ctx, q,
		a.ID.String(), a.BackendID, a.UserID, string(a.QueueState),
		boolInt(a.Synced), encodeTime(a.UpdatedAt),
	)
	return mapErr(err)
}

// List returns all appointments, most recently updated first.
func (r *appointmentRepo) List(ctx context.Context) ([]model.Appointment, error) {
	const q = `SELECT ` + appointmentCols + ` FROM appointments ORDER BY updated_at DESC`
	rows, err := r.q.QueryContext(ctx, q)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *a)
	}
	return out, mapErr(rows.Err())
}

func scanAppointment(sc rowScanner) (*model.Appointment, error) {
	var (
		a          model.Appointment
		id, state  string
		updated    string
		syncedFlag int
	)
	if err := sc.Scan(&id, &a.BackendID, &a.UserID, &state, &syncedFlag, &updated); err != nil {
		return nil, err
	}
	uid, err := uuid.FromString(id)
	if err != nil {
		return nil, err
	}
	a.ID = uid
	a.QueueState = model.QueueState(state)
	a.Synced = syncedFlag != 0
	if a.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}
