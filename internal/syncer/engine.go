// Package syncer converts the local offline-first mutation log into
// confirmed remote state and reconciles confirmed remote state back into
// the local store. Failures never escape a drain as errors to the caller;
// they are recorded on the queue entry and surfaced through Health.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glucolog/glucolog/internal/convert"
	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/store"
)

// Backend is the slice of the API adapter the engine depends on.
type Backend interface {
	// AccessToken returns the current access token, errs.ErrNoToken if the
	// user is not logged in.
	AccessToken(ctx context.Context) (string, error)
	// RefreshSession rotates the stored token; errs.ErrRotationExhausted is
	// fatal for the session.
	RefreshSession(ctx context.Context) (model.AuthResult, error)
	// Logout clears the token vault.
	Logout(ctx context.Context) error
	// GetProfile fetches the authoritative profile document.
	GetProfile(ctx context.Context, accessToken string) (model.UserProfile, error)
	// CreateReading/UpdateReading/DeleteReading apply reading mutations.
	CreateReading(ctx context.Context, accessToken string, r *model.GlucoseReading) (convert.ReadingWire, error)
	UpdateReading(ctx context.Context, accessToken string, r *model.GlucoseReading) (convert.ReadingWire, error)
	DeleteReading(ctx context.Context, accessToken, backendID string) error
	// RequestAppointment submits a queue transition request; GetAppointment
	// reads the authoritative state.
	RequestAppointment(ctx context.Context, accessToken string, a *model.Appointment) (convert.AppointmentWire, error)
	GetAppointment(ctx context.Context, accessToken, backendID string) (convert.AppointmentWire, error)
}

// maxParallelEntities bounds concurrent dispatch across distinct entities.
// Entries for one entity always run sequentially in created_at order.
const maxParallelEntities = 4

// Health is the aggregate sync status the UI observes. Drain failures are
// contained here, never thrown.
type Health struct {
	Pending   int       // retryable entries still queued
	Terminal  int       // entries parked with a non-retryable error
	Halted    bool      // true after rotation exhaustion until re-login
	LastDrain time.Time // completion time of the last drain cycle
	LastError string    // most recent dispatch error, if any
}

// Engine drains the sync queue against the backend.
type Engine struct {
	store   store.Store
	backend Backend
	backoff BackoffPolicy
	metrics *Metrics
	log     *zap.Logger

	mu        sync.Mutex
	inflight  map[uuid.UUID]struct{} // entity local ids with an active attempt
	halted    bool
	lastDrain time.Time
	lastError string
}

// New constructs an Engine. metrics may be nil.
func New(st store.Store, backend Backend, backoff BackoffPolicy, metrics *Metrics, log *zap.Logger) *Engine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		store:    st,
		backend:  backend,
		backoff:  backoff,
		metrics:  metrics,
		log:      log,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Drain processes every due queue entry once: oldest first, single-flight
// per entity, atomic confirm+dequeue. Same-entity mutations are strictly
// ordered: a failed entry parks the entity's newer entries, and the Due
// query holds a whole entity back while its oldest retryable entry is
// still backing off. An empty queue is a no-op. Drain only returns an
// error for storage failures or context cancellation; dispatch failures
// stay on their entries.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		e.log.Warn("drain skipped: sync halted until re-login")
		return nil
	}
	e.mu.Unlock()

	start := time.Now()
	entries, err := e.store.Queue().Due(ctx, start)
	if err != nil {
		return err
	}

	// Group per entity, preserving created_at order inside each group.
	order := make([]uuid.UUID, 0, len(entries))
	groups := make(map[uuid.UUID][]model.SyncEntry)
	for _, en := range entries {
		if _, ok := groups[en.EntityLocalID]; !ok {
			order = append(order, en.EntityLocalID)
		}
		groups[en.EntityLocalID] = append(groups[en.EntityLocalID], en)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelEntities)
	for _, entityID := range order {
		if !e.acquire(entityID) {
			continue // another attempt for this entity is in flight
		}
		batch := groups[entityID]
		g.Go(func() error {
			defer e.release(entityID)
			for i := range batch {
				ok, err := e.processEntry(gctx, &batch[i])
				if err != nil {
					return err
				}
				// A failed entry parks the rest of its entity's batch:
				// same-entity mutations reach the backend in created_at
				// order or not at all this drain.
				if !ok || e.isHalted() {
					return nil
				}
			}
			return nil
		})
	}
	err = g.Wait()

	e.mu.Lock()
	e.lastDrain = time.Now()
	e.mu.Unlock()

	e.metrics.DrainDuration.Observe(time.Since(start).Seconds())
	e.updateDepthGauges(ctx)
	return err
}

// Reconcile refreshes appointment queue states from the backend and applies
// confirmed rows in one transaction. The backend is authoritative for the
// appointment state machine; this is the only path that advances it.
func (e *Engine) Reconcile(ctx context.Context) error {
	token, err := e.backend.AccessToken(ctx)
	if err != nil {
		return err
	}
	apps, err := e.store.Appointments().List(ctx)
	if err != nil {
		return err
	}

	var changed []model.Appointment
	for i := range apps {
		a := apps[i]
		if a.BackendID == "" || a.QueueState.Terminal() {
			continue
		}
		wire, err := e.backend.GetAppointment(ctx, token, a.BackendID)
		if err != nil {
			e.log.Warn("reconcile fetch failed", zap.String("backend_id", a.BackendID), zap.Error(err))
			continue
		}
		next := model.QueueState(wire.QueueState)
		if next == a.QueueState {
			continue
		}
		if !a.QueueState.CanTransition(next) {
			// Server is authoritative even for transitions the local model
			// thinks impossible; log the surprise and adopt it anyway.
			e.log.Warn("unexpected queue transition",
				zap.String("from", string(a.QueueState)), zap.String("to", string(next)))
		}
		a.QueueState = next
		a.Synced = true
		a.UpdatedAt = time.Now()
		changed = append(changed, a)
	}
	if len(changed) == 0 {
		return nil
	}
	return e.store.InTx(ctx, func(tx store.Tx) error {
		return tx.Appointments().BulkPut(ctx, changed)
	})
}

// Health returns the aggregate sync status.
func (e *Engine) Health(ctx context.Context) (Health, error) {
	pending, terminal, err := e.store.Queue().Counts(ctx)
	if err != nil {
		return Health{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		Pending:   pending,
		Terminal:  terminal,
		Halted:    e.halted,
		LastDrain: e.lastDrain,
		LastError: e.lastError,
	}, nil
}

// Resume lifts the halt after a successful re-login.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.halted = false
	e.mu.Unlock()
}

// processEntry dispatches one entry. The bool result reports whether the
// entry was confirmed and the entity's next entry may go; false parks the
// remainder of the batch so a newer snapshot never overtakes a failed
// older one.
func (e *Engine) processEntry(ctx context.Context, entry *model.SyncEntry) (bool, error) {
	token, err := e.backend.AccessToken(ctx)
	if err != nil {
		// Not logged in: nothing to dispatch, leave the queue untouched.
		e.noteError(err)
		return false, nil
	}

	err = e.dispatch(ctx, token, entry)
	if errors.Is(err, errs.ErrInvalidCredentials) {
		// 401: refresh once, then retry this entry exactly once.
		auth, rerr := e.backend.RefreshSession(ctx)
		if errors.Is(rerr, errs.ErrRotationExhausted) {
			e.haltAndLogout(ctx)
			return false, nil
		}
		if rerr != nil {
			e.recordFailure(ctx, entry, rerr, false)
			return false, nil
		}
		err = e.dispatch(ctx, auth.AccessToken, entry)
	}

	switch {
	case err == nil:
		e.metrics.AttemptsTotal.WithLabelValues(string(entry.EntityType), "ok").Inc()
		return true, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return false, err
	case errors.Is(err, errs.ErrStorage):
		// Local store failure: not a dispatch problem, abort the drain.
		return false, err
	case errors.Is(err, errs.ErrConflict):
		e.metrics.AttemptsTotal.WithLabelValues(string(entry.EntityType), "conflict").Inc()
		return e.resolveConflict(ctx, entry, err), nil
	case errors.Is(err, errs.ErrValidation):
		e.metrics.AttemptsTotal.WithLabelValues(string(entry.EntityType), "terminal").Inc()
		e.recordFailure(ctx, entry, err, true)
		return false, nil
	default:
		// Network unreachable, 5xx, or anything else transient.
		e.metrics.AttemptsTotal.WithLabelValues(string(entry.EntityType), "retry").Inc()
		e.recordFailure(ctx, entry, err, false)
		return false, nil
	}
}

// dispatch sends one entry to the backend and, on success, applies the
// confirmed result and removes the entry inside one store transaction.
func (e *Engine) dispatch(ctx context.Context, token string, entry *model.SyncEntry) error {
	switch entry.EntityType {
	case model.EntityReading:
		return e.dispatchReading(ctx, token, entry)
	case model.EntityAppointment:
		return e.dispatchAppointment(ctx, token, entry)
	case model.EntityProfile:
		// Profile is server-authoritative; the entry just revalidates the
		// cached copy.
		if _, err := e.backend.GetProfile(ctx, token); err != nil {
			return err
		}
		return e.store.InTx(ctx, func(tx store.Tx) error {
			return tx.Queue().Delete(ctx, entry.EntryID)
		})
	default:
		return fmt.Errorf("%w: unknown entity type %q", errs.ErrValidation, entry.EntityType)
	}
}

func (e *Engine) dispatchReading(ctx context.Context, token string, entry *model.SyncEntry) error {
	var snap model.GlucoseReading
	if err := json.Unmarshal(entry.Payload, &snap); err != nil {
		return fmt.Errorf("%w: bad payload: %v", errs.ErrValidation, err)
	}

	switch entry.Op {
	case model.OpCreate, model.OpUpdate:
		var (
			wire convert.ReadingWire
			err  error
		)
		if entry.Op == model.OpCreate {
			wire, err = e.backend.CreateReading(ctx, token, &snap)
		} else {
			wire, err = e.backend.UpdateReading(ctx, token, &snap)
		}
		if err != nil {
			return err
		}
		return e.store.InTx(ctx, func(tx store.Tx) error {
			cur, err := tx.Readings().Get(ctx, entry.EntityLocalID)
			if errors.Is(err, errs.ErrNotFound) {
				// Row vanished locally (deleted after enqueue); the delete
				// entry will follow. Just clear this one.
				return tx.Queue().Delete(ctx, entry.EntryID)
			}
			if err != nil {
				return err
			}
			cur.BackendID = wire.ID
			// Mark synced only if no later local edit superseded this
			// snapshot; a newer queue entry will confirm that version.
			if !cur.UpdatedAt.After(entry.CreatedAt) {
				if err := convert.FromWireReading(wire, cur); err != nil {
					return fmt.Errorf("%w: %v", errs.ErrValidation, err)
				}
				cur.Synced = true
			}
			if err := tx.Readings().Put(ctx, cur); err != nil {
				return err
			}
			return tx.Queue().Delete(ctx, entry.EntryID)
		})

	case model.OpDelete:
		if snap.BackendID != "" {
			if err := e.backend.DeleteReading(ctx, token, snap.BackendID); err != nil &&
				!errors.Is(err, errs.ErrNotFound) {
				return err
			}
		}
		// Never created remotely, or confirmed gone: purge the tombstone.
		return e.store.InTx(ctx, func(tx store.Tx) error {
			if err := tx.Readings().Purge(ctx, entry.EntityLocalID); err != nil &&
				!errors.Is(err, errs.ErrNotFound) {
				return err
			}
			return tx.Queue().Delete(ctx, entry.EntryID)
		})

	default:
		return fmt.Errorf("%w: unknown op %q", errs.ErrValidation, entry.Op)
	}
}

func (e *Engine) dispatchAppointment(ctx context.Context, token string, entry *model.SyncEntry) error {
	var snap model.Appointment
	if err := json.Unmarshal(entry.Payload, &snap); err != nil {
		return fmt.Errorf("%w: bad payload: %v", errs.ErrValidation, err)
	}

	wire, err := e.backend.RequestAppointment(ctx, token, &snap)
	if err != nil {
		return err
	}
	return e.store.InTx(ctx, func(tx store.Tx) error {
		cur, err := tx.Appointments().Get(ctx, entry.EntityLocalID)
		if err != nil {
			return err
		}
		cur.BackendID = wire.ID
		// Only the state the backend actually assigned is applied, never
		// the transition the client hoped for.
		cur.QueueState = model.QueueState(wire.QueueState)
		cur.Synced = true
		cur.UpdatedAt = time.Now()
		if err := tx.Appointments().Put(ctx, cur); err != nil {
			return err
		}
		return tx.Queue().Delete(ctx, entry.EntryID)
	})
}

// resolveConflict applies the per-entity conflict policy: server wins for
// appointments (the backend owns the state machine), local value wins until
// synced for readings (the entry stays queued and retries). The bool result
// reports whether the entry was resolved away.
func (e *Engine) resolveConflict(ctx context.Context, entry *model.SyncEntry, cause error) bool {
	switch entry.EntityType {
	case model.EntityAppointment:
		token, err := e.backend.AccessToken(ctx)
		if err != nil {
			e.recordFailure(ctx, entry, cause, false)
			return false
		}
		var snap model.Appointment
		if err := json.Unmarshal(entry.Payload, &snap); err != nil || snap.BackendID == "" {
			e.recordFailure(ctx, entry, cause, true)
			return false
		}
		wire, err := e.backend.GetAppointment(ctx, token, snap.BackendID)
		if err != nil {
			e.recordFailure(ctx, entry, cause, false)
			return false
		}
		err = e.store.InTx(ctx, func(tx store.Tx) error {
			cur, err := tx.Appointments().Get(ctx, entry.EntityLocalID)
			if err != nil {
				return err
			}
			cur.QueueState = model.QueueState(wire.QueueState)
			cur.Synced = true
			cur.UpdatedAt = time.Now()
			if err := tx.Appointments().Put(ctx, cur); err != nil {
				return err
			}
			return tx.Queue().Delete(ctx, entry.EntryID)
		})
		if err != nil {
			e.noteError(err)
			return false
		}
		return true
	default:
		e.recordFailure(ctx, entry, cause, false)
		return false
	}
}

func (e *Engine) recordFailure(ctx context.Context, entry *model.SyncEntry, cause error, terminal bool) {
	now := time.Now()
	next := now.Add(e.backoff.Delay(entry.AttemptCount))
	if terminal {
		next = now
	}
	if err := e.store.Queue().RecordFailure(ctx, entry.EntryID, cause.Error(), now, next, terminal); err != nil {
		e.log.Error("record failure", zap.Error(err))
	}
	e.noteError(cause)
	e.log.Info("sync attempt failed",
		zap.String("entity", string(entry.EntityType)),
		zap.String("op", string(entry.Op)),
		zap.Int("attempt", entry.AttemptCount+1),
		zap.Bool("terminal", terminal),
		zap.Error(cause),
	)
}

// haltAndLogout handles rotation exhaustion: force logout, halt all sync
// until re-login.
func (e *Engine) haltAndLogout(ctx context.Context) {
	e.mu.Lock()
	e.halted = true
	e.lastError = errs.ErrRotationExhausted.Error()
	e.mu.Unlock()
	if err := e.backend.Logout(ctx); err != nil {
		e.log.Error("forced logout", zap.Error(err))
	}
	e.log.Warn("sync halted: token rotation exhausted, re-login required")
}

func (e *Engine) acquire(entityID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[entityID]; busy {
		return false
	}
	e.inflight[entityID] = struct{}{}
	return true
}

func (e *Engine) release(entityID uuid.UUID) {
	e.mu.Lock()
	delete(e.inflight, entityID)
	e.mu.Unlock()
}

func (e *Engine) isHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

func (e *Engine) noteError(err error) {
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

func (e *Engine) updateDepthGauges(ctx context.Context) {
	pending, terminal, err := e.store.Queue().Counts(ctx)
	if err != nil {
		return
	}
	e.metrics.QueueDepth.Set(float64(pending))
	e.metrics.TerminalDepth.Set(float64(terminal))
}
