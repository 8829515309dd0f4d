// Package config loads the sidecar's configuration surface (spec §6): a
// YAML file via gopkg.in/yaml.v3, with environment-variable overrides in
// the style of the teacher's resolveCLIConfig (defaults < env < flags,
// flags themselves applied by the caller in cmd/sidecar-proxy).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backoff mirrors connection.Config's timing knobs in config-file form.
type Backoff struct {
	InitialMs  int     `yaml:"initialMs"`
	Multiplier float64 `yaml:"multiplier"`
	MaxMs      int     `yaml:"maxMs"`
}

// Connection holds the ConnectionSupervisor's configuration surface.
type Connection struct {
	HealthCheckIntervalMs int     `yaml:"healthCheckIntervalMs"`
	ProbeTimeoutMs        int     `yaml:"probeTimeoutMs"`
	MaxReconnectAttempts  int     `yaml:"maxReconnectAttempts"`
	Backoff               Backoff `yaml:"backoff"`
}

// Cache holds the CacheEngine/Store's configuration surface.
type Cache struct {
	Dir             string   `yaml:"dir"`
	MaxDynamicBytes int64    `yaml:"maxDynamicBytes"`
	Preload         []string `yaml:"preload"`
}

// Upstream holds the transport configuration surface. Mode selects which
// of the three interchangeable transports (spec §6) is constructed.
type Upstream struct {
	Mode    string   `yaml:"mode"`
	URL     string   `yaml:"url"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	APIKey  string   `yaml:"apiKey"`
}

const (
	ModeChildProcess = "child-process"
	ModeEventStream  = "event-stream"
	ModeHTTP         = "http"
)

// Logging is ambient — not named by spec §6, carried anyway per the
// AMBIENT STACK rule that observability survives even unnamed Non-goals.
type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Frontend configures the optional HTTP+SSE front door (ambient; the
// stdio loop needs no config beyond the process's stdin/stdout).
type Frontend struct {
	HTTPPort int `yaml:"httpPort"`
}

// Config is the sidecar's full configuration surface, spec §6 plus the
// ambient logging/frontend additions SPEC_FULL layers on top.
type Config struct {
	Upstream   Upstream   `yaml:"upstream"`
	Cache      Cache      `yaml:"cache"`
	Connection Connection `yaml:"connection"`
	Logging    Logging    `yaml:"logging"`
	Frontend   Frontend   `yaml:"frontend"`
}

// Default returns spec §6's documented defaults.
func Default() Config {
	return Config{
		Upstream: Upstream{Mode: ModeChildProcess},
		Cache: Cache{
			Dir:             defaultCacheDir(),
			MaxDynamicBytes: 100 << 20,
			Preload:         []string{"workflows", "rules"},
		},
		Connection: Connection{
			HealthCheckIntervalMs: 30_000,
			ProbeTimeoutMs:        5_000,
			MaxReconnectAttempts:  10,
			Backoff: Backoff{
				InitialMs:  1_000,
				Multiplier: 2,
				MaxMs:      60_000,
			},
		},
		Logging:  Logging{Level: "info"},
		Frontend: Frontend{HTTPPort: 0},
	}
}

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.sidecar-proxy"
	}
	return ".sidecar-proxy"
}

// Load reads path (if non-empty and present) over Default(), then applies
// environment-variable overrides, mirroring the teacher's
// defaults-less-than-env precedence. A missing path is not an error: the
// process can run on defaults plus env vars alone.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mirrors cmd/dev-console/cli.go's resolveCLIConfig: only
// overwrite a field when its env var is set and parses cleanly.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIDECAR_UPSTREAM_MODE"); v != "" {
		cfg.Upstream.Mode = v
	}
	if v := os.Getenv("SIDECAR_UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("SIDECAR_UPSTREAM_COMMAND"); v != "" {
		cfg.Upstream.Command = v
	}
	if v := os.Getenv("SIDECAR_UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("SIDECAR_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("SIDECAR_CACHE_MAX_DYNAMIC_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.MaxDynamicBytes = n
		}
	}
	if v := os.Getenv("SIDECAR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIDECAR_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Frontend.HTTPPort = n
		}
	}
}

// ConnectionMillis converts the Connection block's millisecond fields into
// time.Durations for connection.Config.
func (c Connection) AsDurations() (healthCheckInterval, probeTimeout, initialBackoff, maxBackoff time.Duration) {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond,
		time.Duration(c.ProbeTimeoutMs) * time.Millisecond,
		time.Duration(c.Backoff.InitialMs) * time.Millisecond,
		time.Duration(c.Backoff.MaxMs) * time.Millisecond
}
