package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetsim.yaml")
	yml := "port: \"9090\"\nroad:\n  url: http://osrm:5000\n  batch: false\ncache:\n  ttl: 30m\n  max_entries: 50\nsim:\n  tick: 1s\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CACHE_MAX_ENTRIES", "75")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.Road.URL != "http://osrm:5000" || cfg.Road.Batch {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Cache.TTL != 30*time.Minute || cfg.Cache.MaxEntries != 75 {
		t.Fatalf("cache: %+v", cfg.Cache)
	}
	if cfg.Sim.Tick != time.Second || cfg.Sim.ReoptThreshold != 3 {
		t.Fatalf("sim: %+v", cfg.Sim)
	}
	if cfg.CacheBackend() != "redis" {
		t.Fatalf("backend %s", cfg.CacheBackend())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{"SIM_SPEED": "fast", "CACHE_TTL": "soon", "PORT": "7000"}))
	if err == nil {
		t.Fatalf("bad values accepted")
	}
	if cfg.Port != "7000" {
		t.Fatalf("valid override dropped: %s", cfg.Port)
	}
}

func TestCacheBackendPrefersPostgres(t *testing.T) {
	cfg := Default()
	if cfg.CacheBackend() != "memory" {
		t.Fatalf("default backend %s", cfg.CacheBackend())
	}
	cfg.RedisURL = "redis://x"
	cfg.DatabaseURL = "postgres://x"
	if cfg.CacheBackend() != "postgres" {
		t.Fatalf("backend %s", cfg.CacheBackend())
	}
}

func TestWebhookEnvAppendsSubscription(t *testing.T) {
	cfg := Default()
	cfg.Webhooks.Subscriptions = []WebhookSubscription{{URL: "http://file", Events: []string{"reopt."}}}
	err := cfg.applyEnv(envMap(map[string]string{
		"WEBHOOK_URL":          "http://hooks.local/in",
		"WEBHOOK_SECRET":       "s3cret",
		"WEBHOOK_MAX_ATTEMPTS": "4",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	subs := cfg.Webhooks.Subscriptions
	if len(subs) != 2 || subs[1].URL != "http://hooks.local/in" || subs[1].Secret != "s3cret" {
		t.Fatalf("subscriptions: %+v", subs)
	}
	if cfg.Webhooks.MaxAttempts != 4 {
		t.Fatalf("max attempts %d", cfg.Webhooks.MaxAttempts)
	}
	if cfg.Redacted()["webhooks"] != 2 {
		t.Fatalf("redacted webhooks: %v", cfg.Redacted()["webhooks"])
	}
}
