// Package platform resolves the execution environment: which platform the
// core runs on, which backend base URL reaches the logical backend from
// that platform, and whether durable secure storage is available. Every
// HTTP-issuing component consults the resolver instead of hardcoding a URL.
package platform

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Platform identifies the runtime environment.
type Platform string

const (
	Android Platform = "android"
	IOS     Platform = "ios"
	Web     Platform = "web"
)

// Defaults for the configuration surface.
const (
	DefaultAPIURL           = "http://localhost:8000"
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultMaxRotations     = 10
	DefaultBackoffBase      = 2 * time.Second
	DefaultBackoffMult      = 2.0
	DefaultBackoffCap       = 5 * time.Minute

	// emulatorLoopback is how the Android emulator reaches the host's
	// localhost.
	emulatorLoopback = "10.0.2.2"
)

// Config is the recognized configuration surface, resolved from the
// environment once per process.
type Config struct {
	Platform         Platform
	APIURL           string
	Emulator         bool
	RefreshThreshold time.Duration
	MaxRotations     int
	BackoffBase      time.Duration
	BackoffMult      float64
	BackoffCap       time.Duration
	DataDir          string
}

// Resolver is the single source of truth for platform capability questions.
// Resolution happens once and is cached.
type Resolver struct {
	once sync.Once
	cfg  Config

	load func() (Config, error)
	err  error
}

// NewFromEnv builds a resolver that reads GLUCOLOG_* environment variables.
// In development a .env file is honored; already-set variables win, so OS
// env takes precedence over the file.
func NewFromEnv() *Resolver {
	return &Resolver{load: loadEnv}
}

// NewFixed builds a resolver with a fixed configuration, for tests and
// embedding callers that resolve config themselves.
func NewFixed(cfg Config) *Resolver {
	return &Resolver{load: func() (Config, error) { return normalize(cfg) }}
}

func (r *Resolver) resolve() {
	r.once.Do(func() {
		r.cfg, r.err = r.load()
	})
}

// Config returns the resolved configuration.
func (r *Resolver) Config() (Config, error) {
	r.resolve()
	return r.cfg, r.err
}

// IsNative reports whether the process runs on a native mobile platform.
func (r *Resolver) IsNative() bool {
	r.resolve()
	return r.cfg.Platform == Android || r.cfg.Platform == IOS
}

// SecureStorage reports whether durable secure token storage is available.
// Web contexts get none; the vault then degrades to in-memory by policy.
func (r *Resolver) SecureStorage() bool {
	r.resolve()
	return r.cfg.Platform != Web
}

// APIBaseURL returns the backend base URL appropriate for this platform,
// rewriting localhost to the emulator loopback when running under the
// Android emulator.
func (r *Resolver) APIBaseURL() string {
	r.resolve()
	return r.cfg.APIURL
}

func loadEnv() (Config, error) {
	// Dev convenience only; godotenv never overrides set variables.
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	cfg := Config{
		Platform:         Platform(strings.ToLower(envOr("GLUCOLOG_PLATFORM", string(Web)))),
		APIURL:           envOr("GLUCOLOG_API_URL", DefaultAPIURL),
		RefreshThreshold: envDuration("GLUCOLOG_REFRESH_THRESHOLD", DefaultRefreshThreshold),
		MaxRotations:     envInt("GLUCOLOG_MAX_ROTATIONS", DefaultMaxRotations),
		BackoffBase:      envDuration("GLUCOLOG_SYNC_BACKOFF_BASE", DefaultBackoffBase),
		BackoffMult:      envFloat("GLUCOLOG_SYNC_BACKOFF_MULT", DefaultBackoffMult),
		BackoffCap:       envDuration("GLUCOLOG_SYNC_BACKOFF_CAP", DefaultBackoffCap),
		DataDir:          envOr("GLUCOLOG_DATA_DIR", ""),
	}
	if v, ok := os.LookupEnv("GLUCOLOG_EMULATOR"); ok {
		cfg.Emulator, _ = strconv.ParseBool(v)
	}
	return normalize(cfg)
}

func normalize(cfg Config) (Config, error) {
	switch cfg.Platform {
	case Android, IOS, Web:
	case "":
		cfg.Platform = Web
	default:
		return cfg, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	u, err := url.Parse(cfg.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, fmt.Errorf("bad api url %q", cfg.APIURL)
	}
	if cfg.Platform == Android && cfg.Emulator && isLoopback(u.Hostname()) {
		port := u.Port()
		u.Host = emulatorLoopback
		if port != "" {
			u.Host = emulatorLoopback + ":" + port
		}
		cfg.APIURL = u.String()
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.MaxRotations <= 0 {
		cfg.MaxRotations = DefaultMaxRotations
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMult < 1 {
		cfg.BackoffMult = DefaultBackoffMult
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	return cfg, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
