// Package service is the offline-first façade the UI talks to. Writes go to
// the local store together with their sync queue entry in one transaction
// and return immediately; nothing here ever blocks on the network.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/store"
)

// ReadingService defines offline-first operations over glucose readings.
type ReadingService interface {
	// Add stores a new reading and enqueues its sync atomically, returning
	// the stored row with a local id and synced=false.
	Add(ctx context.Context, in AddReading) (*model.GlucoseReading, error)
	// Update applies a local edit and re-enqueues sync for the row.
	Update(ctx context.Context, id uuid.UUID, in UpdateReading) (*model.GlucoseReading, error)
	// Delete tombstones a reading until the backend confirms the removal.
	Delete(ctx context.Context, id uuid.UUID) error
	// Get returns one reading by local id.
	Get(ctx context.Context, id uuid.UUID) (*model.GlucoseReading, error)
	// List reads matching rows from the local store only.
	List(ctx context.Context, f store.ReadingFilter) ([]model.GlucoseReading, error)
	// Watch emits an event after every committed change to readings.
	Watch(ctx context.Context) <-chan store.Event
}

// AddReading is the input for a new measurement. A zero Timestamp means now.
type AddReading struct {
	Value       float64
	Unit        model.Unit
	Timestamp   time.Time
	MealContext model.MealContext
	Notes       string
}

// UpdateReading carries the editable fields; nil pointers leave the stored
// value untouched.
type UpdateReading struct {
	Value       *float64
	Unit        *model.Unit
	Timestamp   *time.Time
	MealContext *model.MealContext
	Notes       *string
}

type Readings struct {
	store store.Store
	log   *zap.Logger
}

var _ ReadingService = (*Readings)(nil)

// NewReadings constructs the reading service.
func NewReadings(st store.Store, log *zap.Logger) *Readings {
	return &Readings{store: st, log: log}
}

// Add validates the measurement and writes row + queue entry in one
// transaction. Returns immediately with synced=false.
func (s *Readings) Add(ctx context.Context, in AddReading) (*model.GlucoseReading, error) {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	if err := validateReading(in.Value, in.Unit, in.MealContext, in.Notes); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rd := &model.GlucoseReading{
		ID:          id,
		Value:       in.Value,
		Unit:        in.Unit,
		Timestamp:   in.Timestamp,
		MealContext: in.MealContext,
		Notes:       in.Notes,
		UpdatedAt:   now,
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Readings().Put(ctx, rd); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.EntityReading, rd.ID, model.OpCreate, rd, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("reading added", zap.String("id", rd.ID.String()), zap.Float64("value", rd.Value))
	return rd, nil
}

// Update edits a stored reading. For a row the backend has never seen the
// queued create snapshot is replaced instead of stacking an update behind
// it; for a synced row an update entry is appended and the row drops back
// to synced=false until the backend confirms this exact version.
func (s *Readings) Update(ctx context.Context, id uuid.UUID, in UpdateReading) (*model.GlucoseReading, error) {
	var out *model.GlucoseReading
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		rd, err := tx.Readings().Get(ctx, id)
		if err != nil {
			return err
		}
		if rd.Deleted {
			return errs.ErrNotFound
		}
		applyUpdate(rd, in)
		if err := validateReading(rd.Value, rd.Unit, rd.MealContext, rd.Notes); err != nil {
			return err
		}
		now := time.Now()
		rd.Synced = false
		rd.UpdatedAt = now
		if err := tx.Readings().Put(ctx, rd); err != nil {
			return err
		}

		op := model.OpUpdate
		if rd.BackendID == "" {
			// Never confirmed remotely: supersede the pending create.
			if err := tx.Queue().DeleteFor(ctx, rd.ID); err != nil {
				return err
			}
			op = model.OpCreate
		}
		if err := enqueue(ctx, tx, model.EntityReading, rd.ID, op, rd, now); err != nil {
			return err
		}
		out = rd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a reading. A row the backend never saw is purged outright
// together with its queued create; a synced row is tombstoned and a delete
// entry queued, so the UI stops showing it immediately while the remote
// removal is still pending.
func (s *Readings) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		rd, err := tx.Readings().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Queue().DeleteFor(ctx, rd.ID); err != nil {
			return err
		}
		if rd.BackendID == "" {
			return tx.Readings().Purge(ctx, rd.ID)
		}
		now := time.Now()
		rd.Deleted = true
		rd.Synced = false
		rd.UpdatedAt = now
		if err := tx.Readings().Put(ctx, rd); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.EntityReading, rd.ID, model.OpDelete, rd, now)
	})
}

// Get returns one reading by local id.
func (s *Readings) Get(ctx context.Context, id uuid.UUID) (*model.GlucoseReading, error) {
	return s.store.Readings().Get(ctx, id)
}

// List reads from the local store only; it never issues a network call.
func (s *Readings) List(ctx context.Context, f store.ReadingFilter) ([]model.GlucoseReading, error) {
	return s.store.Readings().List(ctx, f)
}

// Watch streams change events for the readings table until ctx is done.
func (s *Readings) Watch(ctx context.Context) <-chan store.Event {
	return watchTable(ctx, s.store, "readings")
}

func validateReading(value float64, unit model.Unit, meal model.MealContext, notes string) error {
	if value <= 0 {
		return fmt.Errorf("%w: value must be positive", errs.ErrValidation)
	}
	switch unit {
	case model.UnitMgDL, model.UnitMmolL:
	default:
		return fmt.Errorf("%w: unknown unit %q", errs.ErrValidation, unit)
	}
	switch meal {
	case model.MealNone, model.MealBefore, model.MealAfter, model.MealBedtime, model.MealFasting, model.MealOther:
	default:
		return fmt.Errorf("%w: unknown meal context %q", errs.ErrValidation, meal)
	}
	if len(notes) > model.MaxNotesLen {
		return fmt.Errorf("%w: notes exceed %d characters", errs.ErrValidation, model.MaxNotesLen)
	}
	return nil
}

func applyUpdate(rd *model.GlucoseReading, in UpdateReading) {
	if in.Value != nil {
		rd.Value = *in.Value
	}
	if in.Unit != nil {
		rd.Unit = *in.Unit
	}
	if in.Timestamp != nil {
		rd.Timestamp = *in.Timestamp
	}
	if in.MealContext != nil {
		rd.MealContext = *in.MealContext
	}
	if in.Notes != nil {
		rd.Notes = *in.Notes
	}
}

// enqueue snapshots the entity as JSON and inserts the queue entry through
// the same transaction as the entity write.
func enqueue(ctx context.Context, tx store.Tx, et model.EntityType, localID uuid.UUID, op model.Operation, entity any, now time.Time) error {
	entryID, err := uuid.NewV4()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	return tx.Queue().Put(ctx, &model.SyncEntry{
		EntryID:       entryID,
		EntityType:    et,
		EntityLocalID: localID,
		Op:            op,
		Payload:       payload,
		CreatedAt:     now,
		NextAttemptAt: now,
	})
}

// watchTable filters store events down to one table and closes the stream
// when ctx is done.
func watchTable(ctx context.Context, st store.Store, table string) <-chan store.Event {
	events, cancel := st.Watch(16)
	out := make(chan store.Event, 1)
	go func() {
		defer cancel()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Table != table {
					continue
				}
				select {
				case out <- ev:
				default: // slow subscriber, drop
				}
			}
		}
	}()
	return out
}
