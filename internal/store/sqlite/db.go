// Package sqlite implements the store interfaces over an embedded SQLite
// database (modernc.org/sqlite, cgo-free). It is the on-device system of
// record for readings, appointments and the sync queue.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/store"
)

// timeLayout is the canonical on-disk timestamp encoding. Stored as UTC so
// rows round-trip identically regardless of the device timezone.
const timeLayout = time.RFC3339Nano

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite handle and fans out change notifications.
type DB struct {
	sql *sql.DB

	mu      sync.Mutex
	subs    map[int]chan store.Event
	nextSub int
}

var _ store.Store = (*DB)(nil)

// Open opens (or creates) the database file and applies pragmas suitable for
// a single-process client: WAL journaling and a busy timeout. Writes are
// serialized through a single connection; SQLite permits one writer anyway.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
	}

	return &DB{sql: db, subs: make(map[int]chan store.Event)}, nil
}

// Handle exposes the raw database for migrations.
func (d *DB) Handle() *sql.DB { return d.sql }

// Close closes the underlying database.
func (d *DB) Close() error { return d.sql.Close() }

// Readings returns the readings repository in auto-commit mode.
func (d *DB) Readings() store.ReadingRepo {
	return &readingRepo{q: d.sql, touched: d.fireOne}
}

// Appointments returns the appointments repository in auto-commit mode.
func (d *DB) Appointments() store.AppointmentRepo {
	return &appointmentRepo{q: d.sql, touched: d.fireOne}
}

// Queue returns the sync queue repository in auto-commit mode.
func (d *DB) Queue() store.QueueRepo {
	return &queueRepo{q: d.sql, touched: d.fireOne}
}

// InTx runs fn inside one SQL transaction across all tables. On commit,
// watchers are notified once per touched table; on error everything rolls
// back and nothing is observable.
func (d *DB) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	view := &txView{tx: sqlTx, pending: make(map[string]struct{})}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		if e := sqlTx.Commit(); e != nil {
			err = fmt.Errorf("%w: %v", errs.ErrStorage, e)
			return
		}
		for table := range view.pending {
			d.fireOne(table)
		}
	}()
	return fn(view)
}

// Watch registers a change listener with the given channel buffer.
func (d *DB) Watch(buffer int) (<-chan store.Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan store.Event, buffer)

	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		if sub, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(sub)
		}
		d.mu.Unlock()
	}
	return ch, cancel
}

// fireOne notifies subscribers that a table changed. Slow subscribers drop
// events rather than block writers.
func (d *DB) fireOne(table string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- store.Event{Table: table}:
		default:
		}
	}
}

// txView is the in-transaction store view. Touched tables are collected and
// announced only after commit.
type txView struct {
	tx      *sql.Tx
	pending map[string]struct{}
}

var _ store.Tx = (*txView)(nil)

func (v *txView) markTouched(table string) { v.pending[table] = struct{}{} }

func (v *txView) Readings() store.ReadingRepo {
	return &readingRepo{q: v.tx, touched: v.markTouched}
}

func (v *txView) Appointments() store.AppointmentRepo {
	return &appointmentRepo{q: v.tx, touched: v.markTouched}
}

func (v *txView) Queue() store.QueueRepo {
	return &queueRepo{q: v.tx, touched: v.markTouched}
}

// mapErr wraps driver failures as ErrStorage and row misses as ErrNotFound
// so callers can branch without knowing the engine.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrStorage, err)
}

// encodeTime renders a timestamp in the canonical layout; zero times become
// the empty string.
func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// decodeTime parses a stored timestamp; empty means zero time.
func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
