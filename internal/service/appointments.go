package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/store"
)

// AppointmentService exposes the clinical appointment queue. The backend
// owns the state machine; locally stored rows are projections and only ever
// take values read back from the backend.
type AppointmentService interface {
	// Request enqueues a queue entry request for the user. Allowed from no
	// appointment at all or from a DENIED one (re-request).
	Request(ctx context.Context, userID string) (*model.Appointment, error)
	// Get returns one appointment by local id.
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// List reads all locally mirrored appointments.
	List(ctx context.Context) ([]model.Appointment, error)
	// Watch emits an event after every committed change to appointments.
	Watch(ctx context.Context) <-chan store.Event
}

type Appointments struct {
	store store.Store
	log   *zap.Logger
}

var _ AppointmentService = (*Appointments)(nil)

// NewAppointments constructs the appointment service.
func NewAppointments(st store.Store, log *zap.Logger) *Appointments {
	return &Appointments{store: st, log: log}
}

// Request writes the request locally and enqueues it for sync in one
// transaction. The local queue state is NOT advanced here: PENDING (or
// whatever the backend decides) lands only when the sync engine applies the
// confirmed response.
func (s *Appointments) Request(ctx context.Context, userID string) (*model.Appointment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}

	var out *model.Appointment
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.Appointments().List(ctx)
		if err != nil {
			return err
		}
		now := time.Now()

		for i := range existing {
			a := existing[i]
			switch a.QueueState {
			case model.QueueDenied:
				// Re-request on the same row.
				if !a.Synced {
					return fmt.Errorf("%w: request already queued", errs.ErrConflict)
				}
				a.Synced = false
				a.UpdatedAt = now
				if err := tx.Appointments().Put(ctx, &a); err != nil {
					return err
				}
				if err := enqueue(ctx, tx, model.EntityAppointment, a.ID, model.OpCreate, &a, now); err != nil {
					return err
				}
				out = &a
				return nil
			case model.QueuePending, model.QueueAccepted:
				return fmt.Errorf("%w: request already in queue state %s", errs.ErrConflict, a.QueueState)
			case model.QueueCreated:
				return fmt.Errorf("%w: appointment already created", errs.ErrConflict)
			case model.QueueBlocked:
				return fmt.Errorf("%w: appointment queue is closed", errs.ErrConflict)
			case model.QueueNone:
				if !a.Synced {
					return fmt.Errorf("%w: request already queued", errs.ErrConflict)
				}
			}
		}

		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		a := &model.Appointment{
			ID:         id,
			UserID:     userID,
			QueueState: model.QueueNone,
			UpdatedAt:  now,
		}
		if err := tx.Appointments().Put(ctx, a); err != nil {
			return err
		}
		if err := enqueue(ctx, tx, model.EntityAppointment, a.ID, model.OpCreate, a, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("appointment requested", zap.String("id", out.ID.String()), zap.String("user", userID))
	return out, nil
}

// Get returns one appointment by local id.
func (s *Appointments) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.store.Appointments().Get(ctx, id)
}

// List reads from the local store only.
func (s *Appointments) List(ctx context.Context) ([]model.Appointment, error) {
	return s.store.Appointments().List(ctx)
}

// Watch streams change events for the appointments table until ctx is done.
func (s *Appointments) Watch(ctx context.Context) <-chan store.Event {
	return watchTable(ctx, s.store, "appointments")
}
