// Command glucolog is the offline-first agent: it keeps readings and
// appointment requests in a local store, drains the sync queue against the
// backend when connectivity allows, and manages the token session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/glucolog/glucolog/internal/api"
	"github.com/glucolog/glucolog/internal/errs"
	"github.com/glucolog/glucolog/internal/migrate"
	"github.com/glucolog/glucolog/internal/model"
	"github.com/glucolog/glucolog/internal/platform"
	"github.com/glucolog/glucolog/internal/service"
	"github.com/glucolog/glucolog/internal/store"
	"github.com/glucolog/glucolog/internal/store/sqlite"
	"github.com/glucolog/glucolog/internal/syncer"
	"github.com/glucolog/glucolog/internal/vault"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `glucolog agent
Usage:
  glucolog [-data DIR] <cmd> [args]

Commands:
  version
  register             -dni <id> -name <n> -surname <s> -email <e> -p <password>
  login                -u <username> -p <password>
  logout
  status
  add-reading          -value <n> -unit <mg/dL|mmol/L> [-at RFC3339] [-meal <tag>] [-notes <text>]
  list-readings        [-from RFC3339] [-to RFC3339] [-unsynced] [-deleted]
  edit-reading         -id <uuid> [-value <n>] [-unit <u>] [-at RFC3339] [-meal <tag>] [-notes <text>]
  rm-reading           -id <uuid>
  request-appointment
  list-appointments
  sync                 [-interval <dur>] [-metrics-addr HOST:PORT]
`)
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// app bundles the wired components every subcommand works with.
type app struct {
	cfg      platform.Config
	store    *sqlite.DB
	client   *api.Client
	engine   *syncer.Engine
	readings *service.Readings
	appts    *service.Appointments
	vault    vault.Vault
	metrics  *prometheus.Registry
	log      *zap.Logger
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.log.Sync()
}

// wire assembles the full stack: resolver, store+migrations, vault, API
// adapter, sync engine and domain services.
func wire(ctx context.Context, dataDir string) (*app, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	resolver := platform.NewFromEnv()
	cfg, err := resolver.Config()
	if err != nil {
		return nil, err
	}
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}

	db, err := sqlite.Open(ctx, filepath.Join(dataDir, "glucolog.db"))
	if err != nil {
		return nil, err
	}
	if err := migrate.Up(ctx, db.Handle()); err != nil {
		_ = db.Close()
		return nil, err
	}

	var v vault.Vault
	if resolver.SecureStorage() {
		v, err = vault.OpenFile(dataDir)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		// Documented degradation: no durable secure storage on this
		// platform, tokens live for the process only.
		logger.Warn("no secure storage on this platform, tokens will not persist")
		v = vault.NewMemory()
	}

	signKey, err := loadSignKey(dataDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	client, err := api.New(resolver, v, signKey, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	engine := syncer.New(db, client, syncer.BackoffPolicy{
		Base: cfg.BackoffBase,
		Mult: cfg.BackoffMult,
		Cap:  cfg.BackoffCap,
	}, syncer.NewMetrics(reg), logger)

	return &app{
		cfg:      cfg,
		store:    db,
		client:   client,
		engine:   engine,
		readings: service.NewReadings(db, logger),
		appts:    service.NewAppointments(db, logger),
		vault:    v,
		metrics:  reg,
		log:      logger,
	}, nil
}

func defaultDataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "glucolog")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "glucolog")
}

// loadSignKey loads (or generates) the device-local key used to sign
// locally minted access tokens during simulated refresh.
func loadSignKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, "sign.key")
	key, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		key, err = vault.RandBytes(vault.KeyLen)
		if err != nil {
			return nil, err
		}
		return key, os.WriteFile(path, key, 0o600)
	}
	return key, err
}

func main() {
	dataDir := flag.String("data", "", "data directory (default: $GLUCOLOG_DATA_DIR or XDG data home)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("glucolog %s (%s)\n", version, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, *dataDir)
	if err != nil {
		fail(err)
	}
	defer a.close()

	switch cmd {
	case "register":
		cmdRegister(ctx, a, args)
	case "login":
		cmdLogin(ctx, a, args)
	case "logout":
		cmdLogout(ctx, a)
	case "status":
		cmdStatus(ctx, a)
	case "add-reading":
		cmdAddReading(ctx, a, args)
	case "list-readings":
		cmdListReadings(ctx, a, args)
	case "edit-reading":
		cmdEditReading(ctx, a, args)
	case "rm-reading":
		cmdRmReading(ctx, a, args)
	case "request-appointment":
		cmdRequestAppointment(ctx, a)
	case "list-appointments":
		cmdListAppointments(ctx, a)
	case "sync":
		cmdSync(ctx, a, args)
	default:
		usage()
	}
}

func cmdRegister(ctx context.Context, a *app, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	dni := fs.String("dni", "", "document id")
	name := fs.String("name", "", "first name")
	surname := fs.String("surname", "", "surname")
	email := fs.String("email", "", "email")
	pass := fs.String("p", "", "password")
	_ = fs.Parse(args)
	if *dni == "" || *pass == "" {
		fmt.Fprintln(os.Stderr, "need -dni and -p")
		os.Exit(1)
	}
	err := a.client.Register(ctx, api.RegisterRequest{
		DNI: *dni, Name: *name, Surname: *surname, Email: *email, Password: *pass,
	})
	if err != nil {
		fail(err)
	}
	fmt.Println("registered; the account may need approval before login")
}

func cmdLogin(ctx context.Context, a *app, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password")
	_ = fs.Parse(args)
	if *user == "" || *pass == "" {
		fmt.Fprintln(os.Stderr, "need -u and -p")
		os.Exit(1)
	}
	res, err := a.client.Login(ctx, *user, *pass)
	if err != nil {
		fail(err)
	}
	// A fresh session lifts any rotation-exhaustion halt.
	a.engine.Resume()
	fmt.Printf("logged in as %s %s (session expires in %s)\n",
		res.User.Name, res.User.Surname, res.ExpiresIn.Round(time.Second))
}

func cmdLogout(ctx context.Context, a *app) {
	if err := a.client.Logout(ctx); err != nil {
		fail(err)
	}
	fmt.Println("logged out")
}

func cmdStatus(ctx context.Context, a *app) {
	h, err := a.engine.Health(ctx)
	if err != nil {
		fail(err)
	}
	out := map[string]any{
		"platform":      string(a.cfg.Platform),
		"api_url":       a.cfg.APIURL,
		"sync_pending":  h.Pending,
		"sync_terminal": h.Terminal,
		"sync_halted":   h.Halted,
	}
	if !h.LastDrain.IsZero() {
		out["last_drain"] = h.LastDrain.Format(time.RFC3339)
	}
	if h.LastError != "" {
		out["last_error"] = h.LastError
	}
	rec, err := vault.LoadRecord(ctx, a.vault)
	switch {
	case errors.Is(err, errs.ErrNoToken):
		out["session"] = "logged out"
	case err != nil:
		fail(err)
	default:
		out["session"] = rec.UserID
		out["token_expires"] = rec.ExpiresAt.Format(time.RFC3339)
		out["rotations"] = rec.RotationCount
	}
	printJSON(out)
}

func cmdAddReading(ctx context.Context, a *app, args []string) {
	fs := flag.NewFlagSet("add-reading", flag.ExitOnError)
	value := fs.Float64("value", 0, "glucose value")
	unit := fs.String("unit", string(model.UnitMgDL), "mg/dL or mmol/L")
	at := fs.String("at", "", "taken at (RFC3339, default now)")
	meal := fs.String("meal", "", "meal context")
	notes := fs.String("notes", "", "free-text notes")
	_ = fs.Parse(args)

	in := service.AddReading{
		Value:       *value,
		Unit:        model.Unit(*unit),
		MealContext: model.MealContext(*meal),
		Notes:       *notes,
	}
	if *at != "" {
		ts, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fail(err)
		}
		in.Timestamp = ts
	}
	rd, err := a.readings.Add(ctx, in)
	if err != nil {
		fail(err)
	}
	fmt.Printf("%s  %.1f %s  (queued for sync)\n", rd.ID, rd.Value, rd.Unit)
}

func cmdListReadings(ctx context.Context, a *app, args []string) {
	fs := flag.NewFlagSet("list-readings", flag.ExitOnError)
	from := fs.String("from", "", "lower bound (RFC3339)")
	to := fs.String("to", "", "upper bound (RFC3339)")
	unsynced := fs.Bool("unsynced", false, "only rows awaiting sync")
	deleted := fs.Bool("deleted", false, "include tombstoned rows")
	_ = fs.Parse(args)

	f := store.ReadingFilter{IncludeDeleted: *deleted}
	if *from != "" {
		ts, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			fail(err)
		}
		f.From = ts
	}
	if *to != "" {
		ts, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			fail(err)
		}
		f.To = ts
	}
	if *unsynced {
		no := false
		f.Synced = &no
	}
	rds, err := a.readings.List(ctx, f)
	if err != nil {
		fail(err)
	}
	printJSON(readingViews(rds))
}

// parseEditReading maps the edit-reading flags onto a partial update: only
// flags the user actually set end up non-nil.
func parseEditReading(args []string) (u.UUID, service.UpdateReading, error) {
	fs := flag.NewFlagSet("edit-reading", flag.ContinueOnError)
	id := fs.String("id", "", "reading id")
	value := fs.Float64("value", 0, "glucose value")
	unit := fs.String("unit", "", "mg/dL or mmol/L")
	at := fs.String("at", "", "taken at (RFC3339)")
	meal := fs.String("meal", "", "meal context")
	notes := fs.String("notes", "", "free-text notes")
	if err := fs.Parse(args); err != nil {
		return u.Nil, service.UpdateReading{}, err
	}
	rid, err := u.FromString(*id)
	if err != nil {
		return u.Nil, service.UpdateReading{}, fmt.Errorf("bad -id: %w", err)
	}

	var in service.UpdateReading
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "value":
			in.Value = value
		case "unit":
			un := model.Unit(*unit)
			in.Unit = &un
		case "at":
			ts, perr := time.Parse(time.RFC3339, *at)
			if perr != nil {
				err = fmt.Errorf("bad -at: %w", perr)
				return
			}
			in.Timestamp = &ts
		case "meal":
			mc := model.MealContext(*meal)
			in.MealContext = &mc
		case "notes":
			in.Notes = notes
		}
	})
	if err != nil {
		return u.Nil, service.UpdateReading{}, err
	}
	return rid, in, nil
}

func cmdEditReading(ctx context.Context, a *app, args []string) {
	rid, in, err := parseEditReading(args)
	if err != nil {
		fail(err)
	}
	rd, err := a.readings.Update(ctx, rid, in)
	if err != nil {
		fail(err)
	}
	fmt.Printf("%s  %.1f %s  (queued for sync)\n", rd.ID, rd.Value, rd.Unit)
}

func cmdRmReading(ctx context.Context, a *app, args []string) {
	fs := flag.NewFlagSet("rm-reading", flag.ExitOnError)
	id := fs.String("id", "", "reading id")
	_ = fs.Parse(args)
	rid, err := u.FromString(*id)
	if err != nil {
		fail(fmt.Errorf("bad -id: %w", err))
	}
	if err := a.readings.Delete(ctx, rid); err != nil {
		fail(err)
	}
	fmt.Println("removed")
}

func cmdRequestAppointment(ctx context.Context, a *app) {
	rec, err := vault.LoadRecord(ctx, a.vault)
	if err != nil {
		fail(errors.New("login required"))
	}
	appt, err := a.appts.Request(ctx, rec.UserID)
	if err != nil {
		fail(err)
	}
	fmt.Printf("%s  state=%s  (queued for sync)\n", appt.ID, appt.QueueState)
}

func cmdListAppointments(ctx context.Context, a *app) {
	as, err := a.appts.List(ctx)
	if err != nil {
		fail(err)
	}
	printJSON(appointmentViews(as))
}

// cmdSync drains the queue once, or continuously with -interval. The
// continuous mode reconciles appointment state after each drain and can
// expose prometheus metrics.
func cmdSync(ctx context.Context, a *app, args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	interval := fs.Duration("interval", 0, "drain periodically instead of once")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address")
	_ = fs.Parse(args)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if err := syncOnce(ctx, a); err != nil {
		fail(err)
	}
	if *interval <= 0 {
		reportHealth(ctx, a)
		return
	}

	tick := time.NewTicker(*interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := syncOnce(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("sync cycle", zap.Error(err))
			}
		}
	}
}

func syncOnce(ctx context.Context, a *app) error {
	if a.client.ShouldRefresh(ctx) {
		if _, err := a.client.RefreshSession(ctx); err != nil {
			if errors.Is(err, errs.ErrRotationExhausted) {
				return fmt.Errorf("session expired after maximum refreshes, login again: %w", err)
			}
			a.log.Warn("proactive refresh failed", zap.Error(err))
		}
	}
	if err := a.engine.Drain(ctx); err != nil {
		return err
	}
	if err := a.engine.Reconcile(ctx); err != nil && !errors.Is(err, errs.ErrNoToken) {
		a.log.Warn("reconcile", zap.Error(err))
	}
	return nil
}

func reportHealth(ctx context.Context, a *app) {
	h, err := a.engine.Health(ctx)
	if err != nil {
		fail(err)
	}
	fmt.Printf("sync done: %d pending, %d terminal\n", h.Pending, h.Terminal)
	if h.LastError != "" {
		fmt.Printf("last error: %s\n", h.LastError)
	}
}

// ---- output helpers ----

type readingView struct {
	ID        string  `json:"id"`
	BackendID string  `json:"backend_id,omitempty"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	MmolL     float64 `json:"mmol_l"`
	Timestamp string  `json:"timestamp"`
	Meal      string  `json:"meal_context,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	Synced    bool    `json:"synced"`
	Deleted   bool    `json:"deleted,omitempty"`
}

func readingViews(rds []model.GlucoseReading) []readingView {
	out := make([]readingView, 0, len(rds))
	for i := range rds {
		r := &rds[i]
		out = append(out, readingView{
			ID:        r.ID.String(),
			BackendID: r.BackendID,
			Value:     r.Value,
			Unit:      string(r.Unit),
			MmolL:     r.MmolL(),
			Timestamp: r.Timestamp.Format(time.RFC3339),
			Meal:      string(r.MealContext),
			Notes:     r.Notes,
			Synced:    r.Synced,
			Deleted:   r.Deleted,
		})
	}
	return out
}

type appointmentView struct {
	ID        string `json:"id"`
	BackendID string `json:"backend_id,omitempty"`
	State     string `json:"queue_state"`
	Synced    bool   `json:"synced"`
	UpdatedAt string `json:"updated_at"`
}

func appointmentViews(as []model.Appointment) []appointmentView {
	out := make([]appointmentView, 0, len(as))
	for i := range as {
		a := &as[i]
		out = append(out, appointmentView{
			ID:        a.ID.String(),
			BackendID: a.BackendID,
			State:     string(a.QueueState),
			Synced:    a.Synced,
			UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
