package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Upstream.Mode != ModeChildProcess {
		t.Fatalf("Upstream.Mode = %q", cfg.Upstream.Mode)
	}
	if cfg.Cache.MaxDynamicBytes != 100<<20 {
		t.Fatalf("Cache.MaxDynamicBytes = %d", cfg.Cache.MaxDynamicBytes)
	}
	if len(cfg.Cache.Preload) != 2 || cfg.Cache.Preload[0] != "workflows" || cfg.Cache.Preload[1] != "rules" {
		t.Fatalf("Cache.Preload = %v", cfg.Cache.Preload)
	}
	if cfg.Connection.MaxReconnectAttempts != 10 {
		t.Fatalf("Connection.MaxReconnectAttempts = %d", cfg.Connection.MaxReconnectAttempts)
	}
	if cfg.Connection.Backoff.Multiplier != 2 {
		t.Fatalf("Backoff.Multiplier = %v", cfg.Connection.Backoff.Multiplier)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Mode != ModeChildProcess {
		t.Fatalf("Upstream.Mode = %q", cfg.Upstream.Mode)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "upstream:\n  mode: http\n  url: https://example.invalid\ncache:\n  maxDynamicBytes: 1024\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Mode != ModeHTTP {
		t.Fatalf("Upstream.Mode = %q", cfg.Upstream.Mode)
	}
	if cfg.Upstream.URL != "https://example.invalid" {
		t.Fatalf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.Cache.MaxDynamicBytes != 1024 {
		t.Fatalf("Cache.MaxDynamicBytes = %d", cfg.Cache.MaxDynamicBytes)
	}
	// Fields untouched by the YAML keep their defaults.
	if cfg.Connection.MaxReconnectAttempts != 10 {
		t.Fatalf("Connection.MaxReconnectAttempts = %d", cfg.Connection.MaxReconnectAttempts)
	}
}

func TestLoad_EnvOverridesYAMLAndDefaults(t *testing.T) {
	t.Setenv("SIDECAR_UPSTREAM_MODE", "event-stream")
	t.Setenv("SIDECAR_CACHE_MAX_DYNAMIC_BYTES", "2048")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Mode != ModeEventStream {
		t.Fatalf("Upstream.Mode = %q", cfg.Upstream.Mode)
	}
	if cfg.Cache.MaxDynamicBytes != 2048 {
		t.Fatalf("Cache.MaxDynamicBytes = %d", cfg.Cache.MaxDynamicBytes)
	}
}

func TestConnection_AsDurationsConvertsMillis(t *testing.T) {
	c := Connection{HealthCheckIntervalMs: 30_000, ProbeTimeoutMs: 5_000, Backoff: Backoff{InitialMs: 1_000, MaxMs: 60_000}}
	health, probe, initial, max := c.AsDurations()
	if health.Seconds() != 30 || probe.Seconds() != 5 || initial.Seconds() != 1 || max.Seconds() != 60 {
		t.Fatalf("durations = %v %v %v %v", health, probe, initial, max)
	}
}
