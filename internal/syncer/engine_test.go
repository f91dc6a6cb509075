package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/glucolog/glucolog/internal/convert"
	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/migrate"
	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/store"
	"github.com/glucolog/glucolog/internal/store/sqlite"
)

// fakeBackend implements Backend with programmable responses and call
// accounting.
type fakeBackend struct {
	mu sync.Mutex

	token    string
	tokenErr error

	refreshOut model.AuthResult
	refreshErr error

	createErrs []error // consumed in order, then success
	createWire func(r *model.GlucoseReading) convert.ReadingWire

	updateErrs []error // consumed in order, then success
	updateWire func(r *model.GlucoseReading) convert.ReadingWire
	updateVals []float64
	deleteErr  error

	apptWire convert.AppointmentWire
	apptErr  error
	getAppt  convert.AppointmentWire

	tokensSeen   []string
	createCalls  int
	updateCalls  int
	deleteCalls  int
	refreshCalls int
	logoutCalls  int
	apptCalls    int
	getApptCalls int
}

var _ Backend = (*fakeBackend)(nil)

func echoWire(r *model.GlucoseReading) convert.ReadingWire {
	w := convert.ToWireReading(r)
	w.ID = "srv-" + r.ID.String()[:8]
	return w
}

func (f *fakeBackend) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.tokenErr
}

func (f *fakeBackend) RefreshSession(context.Context) (model.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return model.AuthResult{}, f.refreshErr
	}
	f.token = f.refreshOut.AccessToken
	return f.refreshOut, nil
}

func (f *fakeBackend) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return nil
}

func (f *fakeBackend) GetProfile(context.Context, string) (model.UserProfile, error) {
	return model.UserProfile{DNI: "12345678A"}, nil
}

func (f *fakeBackend) CreateReading(_ context.Context, token string, r *model.GlucoseReading) (convert.ReadingWire, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.tokensSeen = append(f.tokensSeen, token)
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return convert.ReadingWire{}, err
		}
	}
	if f.createWire != nil {
		return f.createWire(r), nil
	}
	return echoWire(r), nil
}

func (f *fakeBackend) UpdateReading(_ context.Context, token string, r *model.GlucoseReading) (convert.ReadingWire, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.tokensSeen = append(f.tokensSeen, token)
	f.updateVals = append(f.updateVals, r.Value)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return convert.ReadingWire{}, err
		}
	}
	if f.updateWire != nil {
		return f.updateWire(r), nil
	}
	return convert.ToWireReading(r), nil
}

func (f *fakeBackend) DeleteReading(_ context.Context, token, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	f.tokensSeen = append(f.tokensSeen, token)
	return f.deleteErr
}

func (f *fakeBackend) RequestAppointment(_ context.Context, _ string, a *model.Appointment) (convert.AppointmentWire, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apptCalls++
	if f.apptErr != nil {
		return convert.AppointmentWire{}, f.apptErr
	}
	if f.apptWire.ID != "" {
		return f.apptWire, nil
	}
	return convert.AppointmentWire{ID: "q-1", UserID: a.UserID, QueueState: string(model.QueuePending)}, nil
}

func (f *fakeBackend) GetAppointment(context.Context, string, string) (convert.AppointmentWire, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getApptCalls++
	return f.getAppt, nil
}

func openTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrate.Up(ctx, db.Handle()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T, db *sqlite.DB, backend *fakeBackend) *Engine {
	t.Helper()
	return New(db, backend, BackoffPolicy{Base: time.Millisecond, Mult: 2, Cap: time.Second}, nil, zap.NewNop())
}

// seedReading writes a reading and its queue entry atomically, the way the
// domain services do.
func seedReading(t *testing.T, db *sqlite.DB, op model.Operation, mutate func(*model.GlucoseReading)) *model.GlucoseReading {
	t.Helper()
	ctx := context.Background()
	rd := &model.GlucoseReading{
		ID:        uuid.Must(uuid.NewV4()),
		Value:     120,
		Unit:      model.UnitMgDL,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(rd)
	}
	payload, err := json.Marshal(rd)
	if err != nil {
		t.Fatal(err)
	}
	err = db.InTx(ctx, func(tx store.Tx) error {
		if op != model.OpDelete || rd.BackendID != "" {
			if err := tx.Readings().Put(ctx, rd); err != nil {
				return err
			}
		}
		return tx.Queue().Put(ctx, &model.SyncEntry{
			EntryID:       uuid.Must(uuid.NewV4()),
			EntityType:    model.EntityReading,
			EntityLocalID: rd.ID,
			Op:            op,
			Payload:       payload,
			CreatedAt:     time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rd
}

func queueLen(t *testing.T, db *sqlite.DB) int {
	t.Helper()
	pending, terminal, err := db.Queue().Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return pending + terminal
}

func TestDrain_EmptyQueueNoOp(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	backend := &fakeBackend{token: "tok"}
	e := newTestEngine(t, db, backend)

	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if backend.createCalls+backend.updateCalls+backend.deleteCalls != 0 {
		t.Fatal("empty queue must not dispatch")
	}
}

func TestDrain_CreateConfirmedAtomically(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{token: "tok"}
	e := newTestEngine(t, db, backend)

	rd := seedReading(t, db, model.OpCreate, nil)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got, err := db.Readings().Get(ctx, rd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Synced || got.BackendID == "" {
		t.Fatalf("want synced row with backend id, got synced=%v backendID=%q", got.Synced, got.BackendID)
	}
	if n := queueLen(t, db); n != 0 {
		t.Fatalf("queue must be empty after confirmation, %d left", n)
	}
}

func TestDrain_ServerErrorRetriedWithBackoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{
		token:      "tok",
		createErrs: []error{fmt.Errorf("%w: status 500", errs.ErrServer)},
	}
	e := newTestEngine(t, db, backend)

	rd := seedReading(t, db, model.OpCreate, nil)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	entries, err := db.Queue().All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].AttemptCount != 1 {
		t.Fatalf("want one entry with attempt_count=1, got %+v", entries)
	}
	if entries[0].Terminal {
		t.Fatal("5xx must stay retryable")
	}
	if !entries[0].NextAttemptAt.After(entries[0].LastAttemptAt) {
		t.Fatal("retry must be scheduled in the future")
	}
	got, _ := db.Readings().Get(ctx, rd.ID)
	if got.Synced {
		t.Fatal("row must stay unsynced after a failed attempt")
	}

	// Past the backoff window the entry drains successfully.
	time.Sleep(5 * time.Millisecond)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if n := queueLen(t, db); n != 0 {
		t.Fatalf("queue not drained after retry, %d left", n)
	}
	if backend.createCalls != 2 {
		t.Fatalf("want 2 create attempts, got %d", backend.createCalls)
	}
}

func TestDrain_ValidationErrorIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{
		token:      "tok",
		createErrs: []error{fmt.Errorf("%w: value out of range", errs.ErrValidation)},
	}
	e := newTestEngine(t, db, backend)

	seedReading(t, db, model.OpCreate, nil)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	pending, terminal, err := db.Queue().Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 || terminal != 1 {
		t.Fatalf("want terminal entry, got pending=%d terminal=%d", pending, terminal)
	}

	// Terminal entries are never picked up again.
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if backend.createCalls != 1 {
		t.Fatalf("terminal entry retried: %d calls", backend.createCalls)
	}

	h, err := e.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.Terminal != 1 || h.LastError == "" {
		t.Fatalf("health must surface the failure: %+v", h)
	}
}

func TestDrain_401RefreshThenRetryOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{
		token:      "stale",
		createErrs: []error{errs.ErrInvalidCredentials},
		refreshOut: model.AuthResult{AccessToken: "fresh"},
	}
	e := newTestEngine(t, db, backend)

	seedReading(t, db, model.OpCreate, nil)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if backend.refreshCalls != 1 {
		t.Fatalf("want exactly one refresh, got %d", backend.refreshCalls)
	}
	if backend.createCalls != 2 {
		t.Fatalf("want dispatch retried once after refresh, got %d calls", backend.createCalls)
	}
	if got := backend.tokensSeen[1]; got != "fresh" {
		t.Fatalf("retry must use the rotated token, used %q", got)
	}
	if n := queueLen(t, db); n != 0 {
		t.Fatalf("entry not confirmed after refresh+retry, %d left", n)
	}
}

func TestDrain_RotationExhaustedHaltsSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{
		token:      "stale",
		createErrs: []error{errs.ErrInvalidCredentials, errs.ErrInvalidCredentials},
		refreshErr: errs.ErrRotationExhausted,
	}
	e := newTestEngine(t, db, backend)

	seedReading(t, db, model.OpCreate, nil)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if backend.logoutCalls != 1 {
		t.Fatal("exhaustion must force logout")
	}
	h, err := e.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Halted {
		t.Fatal("engine must report halted")
	}
	if n := queueLen(t, db); n != 1 {
		t.Fatalf("entry must stay queued for after re-login, %d in queue", n)
	}

	// Halted engine does not touch the backend.
	calls := backend.createCalls
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain while halted: %v", err)
	}
	if backend.createCalls != calls {
		t.Fatal("halted engine must not dispatch")
	}

	// Re-login lifts the halt.
	e.Resume()
	backend.mu.Lock()
	backend.refreshErr = nil
	backend.refreshOut = model.AuthResult{AccessToken: "fresh"}
	backend.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain after resume: %v", err)
	}
	if n := queueLen(t, db); n != 0 {
		t.Fatalf("queue not drained after resume, %d left", n)
	}
}

func TestDrain_NoTokenLeavesQueueUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{tokenErr: errs.ErrNoToken}
	e := newTestEngine(t, db, backend)

	seedReading(t, db, model.OpCreate, nil)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if backend.createCalls != 0 {
		t.Fatal("logged-out engine must not dispatch")
	}
	entries, _ := db.Queue().All(ctx)
	if len(entries) != 1 || entries[0].AttemptCount != 0 {
		t.Fatalf("entry must stay untouched, got %+v", entries)
	}
}

func TestDrain_StaleSnapshotDoesNotMarkSynced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{token: "tok"}
	e := newTestEngine(t, db, backend)

	rd := seedReading(t, db, model.OpCreate, nil)

	// A later local edit supersedes the queued snapshot.
	rd.Value = 140
	rd.UpdatedAt = time.Now().Add(time.Minute)
	if err := db.Readings().Put(ctx, rd); err != nil {
		t.Fatal(err)
	}

	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got, err := db.Readings().Get(ctx, rd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BackendID == "" {
		t.Fatal("backend id must still be recorded")
	}
	if got.Synced {
		t.Fatal("synced must only confirm the exact dispatched version")
	}
	if got.Value != 140 {
		t.Fatalf("local edit lost: value=%v", got.Value)
	}
}

func TestDrain_DeleteConfirmedPurgesTombstone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{token: "tok"}
	e := newTestEngine(t, db, backend)

	rd := seedReading(t, db, model.OpDelete, func(r *model.GlucoseReading) {
		r.BackendID = "srv-9"
		r.Deleted = true
	})

	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if backend.deleteCalls != 1 {
		t.Fatalf("want one remote delete, got %d", backend.deleteCalls)
	}
	if _, err := db.Readings().Get(ctx, rd.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("tombstone must be purged, got %v", err)
	}
	if n := queueLen(t, db); n != 0 {
		t.Fatalf("queue not cleared, %d left", n)
	}
}

func TestDrain_DeleteToleratesRemoteAbsence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{token: "tok", deleteErr: errs.ErrNotFound}
	e := newTestEngine(t, db, backend)

	rd := seedReading(t, db, model.OpDelete, func(r *model.GlucoseReading) {
		r.BackendID = "srv-9"
		r.Deleted = true
	})

	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if _, err := db.Readings().Get(ctx, rd.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatal("already-gone remote rows still purge locally")
	}
}

func TestDrain_AppointmentAdoptsBackendState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{token: "tok"}
	e := newTestEngine(t, db, backend)

	appt := &model.Appointment{
		ID:         uuid.Must(uuid.NewV4()),
		UserID:     "12345678A",
		QueueState: model.QueueNone,
		UpdatedAt:  time.Now(),
	}
	payload, _ := json.Marshal(appt)
	err := db.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Appointments().Put(ctx, appt); err != nil {
			return err
		}
		return tx.Queue().Put(ctx, &model.SyncEntry{
			EntryID:       uuid.Must(uuid.NewV4()),
			EntityType:    model.EntityAppointment,
			EntityLocalID: appt.ID,
			Op:            model.OpCreate,
			Payload:       payload,
			CreatedAt:     time.Now(),
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got, err := db.Appointments().Get(ctx, appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.QueueState != model.QueuePending {
		t.Fatalf("local state must be what the backend assigned, got %s", got.QueueState)
	}
	if !got.Synced || got.BackendID != "q-1" {
		t.Fatalf("confirmation not applied: %+v", got)
	}
}

func TestDrain_ReadingConflictStaysQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{
		token:      "tok",
		createErrs: []error{fmt.Errorf("%w: modified remotely", errs.ErrConflict)},
	}
	e := newTestEngine(t, db, backend)

	rd := seedReading(t, db, model.OpCreate, nil)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Local value wins until synced: the row is untouched, the entry retries.
	got, err := db.Readings().Get(ctx, rd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Synced || got.Value != rd.Value {
		t.Fatalf("local value must persist through a conflict: %+v", got)
	}
	entries, _ := db.Queue().All(ctx)
	if len(entries) != 1 || entries[0].Terminal || entries[0].AttemptCount != 1 {
		t.Fatalf("conflict entry must stay retryable, got %+v", entries)
	}
}

func TestDrain_OlderFailureHoldsBackNewerEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{
		token:      "tok",
		updateErrs: []error{fmt.Errorf("%w: status 503", errs.ErrServer)},
		updateWire: func(r *model.GlucoseReading) convert.ReadingWire {
			w := convert.ToWireReading(r)
			w.ID = "srv-7"
			return w
		},
	}
	e := newTestEngine(t, db, backend)

	// One synced row with two queued edits: first to 100, then to 200.
	base := time.Now().Add(-time.Minute)
	rd := &model.GlucoseReading{
		ID:        uuid.Must(uuid.NewV4()),
		BackendID: "srv-7",
		Value:     200,
		Unit:      model.UnitMgDL,
		Timestamp: base,
		UpdatedAt: base,
	}
	if err := db.Readings().Put(ctx, rd); err != nil {
		t.Fatal(err)
	}
	for i, v := range []float64{100, 200} {
		snap := *rd
		snap.Value = v
		payload, err := json.Marshal(&snap)
		if err != nil {
			t.Fatal(err)
		}
		err = db.Queue().Put(ctx, &model.SyncEntry{
			EntryID:       uuid.Must(uuid.NewV4()),
			EntityType:    model.EntityReading,
			EntityLocalID: rd.ID,
			Op:            model.OpUpdate,
			Payload:       payload,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// The older edit fails with a 5xx; the newer one must wait behind it
	// instead of reaching the backend out of order.
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if backend.updateCalls != 1 {
		t.Fatalf("newer edit dispatched past a failed older one: %d calls", backend.updateCalls)
	}
	if n := queueLen(t, db); n != 2 {
		t.Fatalf("both edits must stay queued, %d left", n)
	}

	// Past the backoff window both drain, oldest first, so the backend
	// never ends up holding the stale value.
	time.Sleep(5 * time.Millisecond)
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if n := queueLen(t, db); n != 0 {
		t.Fatalf("queue not drained, %d left", n)
	}
	backend.mu.Lock()
	vals := append([]float64(nil), backend.updateVals...)
	backend.mu.Unlock()
	want := []float64{100, 100, 200}
	if len(vals) != len(want) {
		t.Fatalf("want update sequence %v, got %v", want, vals)
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("want update sequence %v, got %v", want, vals)
		}
	}
	got, err := db.Readings().Get(ctx, rd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Synced || got.Value != 200 {
		t.Fatalf("row must confirm the newest snapshot: %+v", got)
	}
}

func TestReconcile_ServerWinsForAppointments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestStore(t)
	backend := &fakeBackend{
		token:   "tok",
		getAppt: convert.AppointmentWire{ID: "q-1", QueueState: string(model.QueueAccepted)},
	}
	e := newTestEngine(t, db, backend)

	open := &model.Appointment{
		ID: uuid.Must(uuid.NewV4()), BackendID: "q-1", UserID: "u",
		QueueState: model.QueuePending, Synced: true, UpdatedAt: time.Now(),
	}
	done := &model.Appointment{
		ID: uuid.Must(uuid.NewV4()), BackendID: "q-2", UserID: "u",
		QueueState: model.QueueCreated, Synced: true, UpdatedAt: time.Now(),
	}
	if err := db.Appointments().Put(ctx, open); err != nil {
		t.Fatal(err)
	}
	if err := db.Appointments().Put(ctx, done); err != nil {
		t.Fatal(err)
	}

	if err := e.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if backend.getApptCalls != 1 {
		t.Fatalf("terminal states must not be fetched, %d fetches", backend.getApptCalls)
	}
	got, err := db.Appointments().Get(ctx, open.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.QueueState != model.QueueAccepted {
		t.Fatalf("server state must win, got %s", got.QueueState)
	}
}

func TestBackoffPolicy_Delay(t *testing.T) {
	t.Parallel()
	p := BackoffPolicy{Base: time.Second, Mult: 2, Cap: 10 * time.Second}
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{30, 10 * time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempts); got != c.want {
			t.Fatalf("delay(%d) want %v, got %v", c.attempts, c.want, got)
		}
	}

	// Zero value falls back to sane defaults.
	var zero BackoffPolicy
	if zero.Delay(0) <= 0 {
		t.Fatal("zero policy must still back off")
	}
}
