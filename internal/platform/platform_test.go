package platform

import (
	"testing"
)

func TestResolver_Defaults(t *testing.T) {
	t.Parallel()
	r := NewFixed(Config{})
	cfg, err := r.Config()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Platform != Web {
		t.Fatalf("empty platform should default to web, got %q", cfg.Platform)
	}
	if cfg.APIURL != DefaultAPIURL {
		t.Fatalf("api url want %q, got %q", DefaultAPIURL, cfg.APIURL)
	}
	if cfg.RefreshThreshold != DefaultRefreshThreshold || cfg.MaxRotations != DefaultMaxRotations {
		t.Fatalf("token defaults not applied: %+v", cfg)
	}
	if cfg.BackoffBase != DefaultBackoffBase || cfg.BackoffMult != DefaultBackoffMult || cfg.BackoffCap != DefaultBackoffCap {
		t.Fatalf("backoff defaults not applied: %+v", cfg)
	}
}

func TestResolver_SecureStorage(t *testing.T) {
	t.Parallel()
	cases := []struct {
		platform Platform
		want     bool
	}{
		{Android, true},
		{IOS, true},
		{Web, false},
	}
	for _, c := range cases {
		r := NewFixed(Config{Platform: c.platform})
		if got := r.SecureStorage(); got != c.want {
			t.Fatalf("%s: SecureStorage want %v, got %v", c.platform, c.want, got)
		}
	}
	if NewFixed(Config{Platform: Web}).IsNative() {
		t.Fatal("web must not report native")
	}
	if !NewFixed(Config{Platform: IOS}).IsNative() {
		t.Fatal("ios must report native")
	}
}

func TestResolver_EmulatorLoopbackRewrite(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "android emulator rewrites localhost keeping port",
			cfg:  Config{Platform: Android, Emulator: true, APIURL: "http://localhost:8000"},
			want: "http://10.0.2.2:8000",
		},
		{
			name: "android emulator rewrites 127.0.0.1",
			cfg:  Config{Platform: Android, Emulator: true, APIURL: "http://127.0.0.1:8000"},
			want: "http://10.0.2.2:8000",
		},
		{
			name: "android device keeps url",
			cfg:  Config{Platform: Android, APIURL: "http://localhost:8000"},
			want: "http://localhost:8000",
		},
		{
			name: "emulator keeps non-loopback host",
			cfg:  Config{Platform: Android, Emulator: true, APIURL: "https://api.example.com"},
			want: "https://api.example.com",
		},
		{
			name: "web keeps localhost",
			cfg:  Config{Platform: Web, Emulator: true, APIURL: "http://localhost:8000"},
			want: "http://localhost:8000",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			if got := NewFixed(c.cfg).APIBaseURL(); got != c.want {
				t.Fatalf("want %q, got %q", c.want, got)
			}
		})
	}
}

func TestResolver_RejectsBadConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewFixed(Config{Platform: "solaris"}).Config(); err == nil {
		t.Fatal("want error on unknown platform")
	}
	if _, err := NewFixed(Config{APIURL: "not a url"}).Config(); err == nil {
		t.Fatal("want error on bad api url")
	}
}

func TestResolver_ResolvesOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	r := &Resolver{load: func() (Config, error) {
		calls++
		return normalize(Config{Platform: Web})
	}}
	for i := 0; i < 3; i++ {
		if _, err := r.Config(); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("config must resolve once, resolved %d times", calls)
	}
}
