package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tracker.Threshold != 0.1 || cfg.Tracker.Window != 24*time.Hour {
		t.Fatalf("unexpected tracker defaults %+v", cfg.Tracker)
	}
	if cfg.Alerts.Timezone != "UTC" {
		t.Fatalf("alert timezone default %q", cfg.Alerts.Timezone)
	}
	m, ok := cfg.Market("MEXC_FUTURES")
	if !ok || m.Source != "ws" || m.WSURL != "wss://contract.mexc.com/edge" || m.RestURL != "https://contract.mexc.com" {
		t.Fatalf("market defaults not applied: %+v", m)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
markets:
  - id: GATEIO_SPOT
    venue: GateIO
    type: SPOT
    source: rest
  - id: MEXC_FUTURES
    venue: mexc
    type: futures
pairs:
  - a: GATEIO_SPOT
    b: MEXC_FUTURES
    threshold: 0.3
tracker:
  interval: 2s
  threshold: 0.05
`)
	t.Setenv("KV_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("DATABASE_URL", "postgres://db/spreads")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" || cfg.Postgres.URL != "postgres://db/spreads" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Redis, cfg.Postgres)
	}
	gate, _ := cfg.Market("GATEIO_SPOT")
	if gate.Venue != "gateio" || gate.Type != "spot" || gate.RestURL != "https://api.gateio.ws/api/v4" {
		t.Fatalf("market not normalized: %+v", gate)
	}
	if got := cfg.PairThreshold(cfg.Pairs[0]); got != 0.3 {
		t.Fatalf("pair threshold %v", got)
	}
	if got := cfg.PairThreshold(PairConfig{}); got != 0.05 {
		t.Fatalf("global threshold %v", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown pair market": `
markets:
  - {id: A, venue: gateio, type: spot}
pairs:
  - {a: A, b: B}
`,
		"duplicate market": `
markets:
  - {id: A, venue: gateio, type: spot}
  - {id: A, venue: mexc, type: futures}
`,
		"unknown venue": `
markets:
  - {id: A, venue: kraken, type: spot}
`,
		"mexc spot": `
markets:
  - {id: A, venue: mexc, type: spot}
`,
		"bad yaml": "markets: [",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResolveChannel(t *testing.T) {
	cfg := &Config{Channels: map[string]ChannelConfig{
		"tg":    {Type: "telegram", Enabled: true, EnvPrefix: "TG_TEST"},
		"hook":  {Type: "webhook", Enabled: true, EnvPrefix: "HOOK_TEST"},
		"off":   {Type: "webhook", Enabled: false, EnvPrefix: "HOOK_TEST"},
		"email": {Type: "smtp", Enabled: true, EnvPrefix: "HOOK_TEST"},
	}}

	if _, err := cfg.ResolveChannel("tg"); err == nil {
		t.Fatal("telegram without token should not resolve")
	}
	t.Setenv("TG_TEST_TOKEN", "abc")
	t.Setenv("TG_TEST_CHAT_ID", "42")
	if ch, err := cfg.ResolveChannel("tg"); err != nil || ch.Token != "abc" || ch.ChatID != "42" {
		t.Fatalf("unexpected telegram channel %+v: %v", ch, err)
	}

	t.Setenv("HOOK_TEST_URL", "https://hooks.example/x")
	t.Setenv("HOOK_TEST_METHOD", "get")
	t.Setenv("HOOK_TEST_HEADERS", `{"X-Token":"secret"}`)
	ch, err := cfg.ResolveChannel("hook")
	if err != nil {
		t.Fatal(err)
	}
	if ch.Method != "GET" || !strings.HasPrefix(ch.URL, "https://") || ch.Headers["X-Token"] != "secret" {
		t.Fatalf("unexpected webhook channel %+v", ch)
	}

	t.Setenv("HOOK_TEST_METHOD", "")
	t.Setenv("HOOK_TEST_HEADERS", "[not a map")
	if _, err := cfg.ResolveChannel("hook"); err == nil {
		t.Fatal("malformed headers should not resolve")
	}
	t.Setenv("HOOK_TEST_HEADERS", "")
	if ch, _ := cfg.ResolveChannel("hook"); ch == nil || ch.Method != "POST" {
		t.Fatalf("method should default to POST: %+v", ch)
	}

	for _, name := range []string{"off", "missing", "email"} {
		if _, err := cfg.ResolveChannel(name); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
