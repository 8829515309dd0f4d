// Command sidecar-proxy runs the offline-resilience sidecar: it wires
// Store, CacheEngine, WriteQueue, ConnectionSupervisor, InvalidationListener
// and Dispatcher into a single process, then drives a stdio JSON-RPC loop
// (and, optionally, an HTTP+SSE surface) in front of them. Flag parsing
// follows calvinalkan-agent-task's cmd/tk entrypoint shape; the daemon
// shape itself mirrors the teacher's cmd/dev-console/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dev-console/sidecar-proxy/internal/bridge"
	"github.com/dev-console/sidecar-proxy/internal/cache"
	"github.com/dev-console/sidecar-proxy/internal/config"
	"github.com/dev-console/sidecar-proxy/internal/connection"
	"github.com/dev-console/sidecar-proxy/internal/dispatch"
	"github.com/dev-console/sidecar-proxy/internal/frontend"
	"github.com/dev-console/sidecar-proxy/internal/invalidation"
	"github.com/dev-console/sidecar-proxy/internal/logging"
	"github.com/dev-console/sidecar-proxy/internal/metrics"
	"github.com/dev-console/sidecar-proxy/internal/model"
	"github.com/dev-console/sidecar-proxy/internal/queue"
	"github.com/dev-console/sidecar-proxy/internal/store"
	"github.com/dev-console/sidecar-proxy/internal/upstream"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	mode := pflag.String("mode", "daemon", "daemon runs the stdio+HTTP loop; probe-once checks the upstream once and exits")
	port := pflag.Int("port", 0, "HTTP+SSE listen port (0 disables the HTTP surface); overrides frontend.httpPort")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sidecar-proxy: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Frontend.HTTPPort = *port
	}

	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sidecar-proxy: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	switch *mode {
	case "daemon":
		if err := runDaemon(cfg, log); err != nil {
			log.Errorw("daemon exited with error", "error", err)
			os.Exit(1)
		}
	case "probe-once":
		os.Exit(runProbeOnce(cfg, log))
	default:
		fmt.Fprintf(os.Stderr, "sidecar-proxy: unknown --mode %q (want daemon or probe-once)\n", *mode)
		os.Exit(2)
	}
}

// stopper is one component's teardown step. stop() runs every registered
// stopper in LIFO order, mirroring spec §6's "stop() reverses in LIFO
// order and is idempotent".
type stopper struct {
	name string
	fn   func()
}

func runDaemon(cfg config.Config, log zapLogger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var stoppers []stopper
	stop := func() {
		for i := len(stoppers) - 1; i >= 0; i-- {
			log.Infow("stopping component", "component", stoppers[i].name)
			stoppers[i].fn()
		}
	}

	if err := os.MkdirAll(cfg.Cache.Dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	st, err := store.Open(cfg.Cache.Dir+"/cache.db", cfg.Cache.MaxDynamicBytes)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	stoppers = append(stoppers, stopper{"store", func() { _ = st.Close() }})

	cacheEngine := cache.New(st)

	client, err := buildUpstreamClient(ctx, cfg.Upstream)
	if err != nil {
		stop()
		return fmt.Errorf("build upstream client: %w", err)
	}
	if closer, ok := client.(interface{ Close() error }); ok {
		stoppers = append(stoppers, stopper{"upstream-client", func() { _ = closer.Close() }})
	}

	wq := queue.New(st, client, 0)

	m := metrics.New()

	healthCheckInterval, probeTimeout, initialBackoff, maxBackoff := cfg.Connection.AsDurations()
	connCfg := connection.Config{
		InitialBackoff: initialBackoff,
		Multiplier:     cfg.Connection.Backoff.Multiplier,
		MaxBackoff:     maxBackoff,
		MaxAttempts:    cfg.Connection.MaxReconnectAttempts,
		ProbeInterval:  healthCheckInterval,
		ProbeTimeout:   probeTimeout,
	}

	var fe *frontend.Server
	disp := (*dispatch.Dispatcher)(nil)

	appendHealth := func(state connection.State, latencyMs int64, errMsg string) {
		row := model.HealthRow{Timestamp: time.Now(), State: string(state), LatencyMs: latencyMs, ErrorMessage: errMsg}
		if err := st.AppendHealth(row); err != nil {
			log.Warnw("append health row failed", "error", err)
		}
	}

	sup := connection.New(connCfg, client.Probe, connection.Events{
		OnStateChange: func(from, to connection.State) {
			m.ObserveStateChange(string(from), string(to))
			if fe != nil {
				fe.StateChangeHook()(from, to)
			}
		},
		OnConnected: func(latencyMs int64) {
			appendHealth(connection.StateConnected, latencyMs, "")
			if disp != nil {
				disp.OnConnected(latencyMs)
			}
		},
		OnDisconnected: func(err error) {
			log.Warnw("upstream disconnected", "error", err, "networkError", bridge.IsConnectionError(err))
			appendHealth(connection.StateReconnecting, 0, err.Error())
		},
		OnReconnecting: func(attempt int, delayMs int64) {
			log.Infow("reconnecting", "attempt", attempt, "delayMs", delayMs)
		},
		OnMaxAttemptsReached: func() {
			log.Warnw("max reconnect attempts reached, moving to offline")
			appendHealth(connection.StateOffline, 0, "max reconnect attempts reached")
		},
	})
	stoppers = append(stoppers, stopper{"connection-supervisor", sup.Stop})

	disp = dispatch.New(cacheEngine, wq, client, sup, buildPreload(cfg, client, cacheEngine, log), log)

	if cfg.Upstream.Mode == config.ModeEventStream {
		listener := invalidation.New(cfg.Upstream.URL+"/sse/cache-invalidation", cfg.Upstream.APIKey, nil, cacheEngine, log, 0)
		listener.Start(ctx)
		stoppers = append(stoppers, stopper{"invalidation-listener", listener.Stop})
	}

	sup.Start(ctx)

	var httpServer *http.Server
	if cfg.Frontend.HTTPPort != 0 {
		fe = frontend.New(disp, sup, st, log)
		httpServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Frontend.HTTPPort), Handler: withMetrics(fe.Router(), m)}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("http server error", "error", err)
			}
		}()
		stoppers = append(stoppers, stopper{"http-server", func() { _ = httpServer.Shutdown(context.Background()) }})
	} else {
		fe = frontend.New(disp, sup, st, log)
	}

	log.Infow("sidecar-proxy started", "upstreamMode", cfg.Upstream.Mode, "httpPort", cfg.Frontend.HTTPPort)

	stdioDone := make(chan error, 1)
	go func() { stdioDone <- fe.ServeStdio(ctx, os.Stdin, os.Stdout) }()

	select {
	case <-ctx.Done():
	case err := <-stdioDone:
		if err != nil {
			log.Warnw("stdio loop exited", "error", err)
		}
	}

	stop()
	return nil
}

func runProbeOnce(cfg config.Config, log zapLogger) int {
	_, probeTimeout, _, _ := cfg.Connection.AsDurations()
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	client, err := buildUpstreamClient(ctx, cfg.Upstream)
	if err != nil {
		log.Errorw("probe-once: build upstream client", "error", err)
		return 1
	}
	if closer, ok := client.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}
	if err := client.Probe(ctx); err != nil {
		log.Warnw("probe-once: upstream unreachable", "error", err)
		return 1
	}
	log.Infow("probe-once: upstream reachable")
	return 0
}

func buildUpstreamClient(ctx context.Context, u config.Upstream) (upstream.Client, error) {
	switch u.Mode {
	case config.ModeChildProcess:
		return upstream.StartChildProcess(ctx, u.Command, u.Args...)
	case config.ModeEventStream:
		header := map[string][]string{}
		if u.APIKey != "" {
			header["Authorization"] = []string{"Bearer " + u.APIKey}
		}
		return upstream.DialEventStream(ctx, u.URL, header)
	case config.ModeHTTP:
		return upstream.NewHTTPTransport(u.URL, u.APIKey, nil), nil
	default:
		return nil, fmt.Errorf("unknown upstream.mode %q", u.Mode)
	}
}

// buildPreload returns the PreloadFunc that warms the critical tier for
// every cfg.Cache.Preload kind. Kinds are fetched by invoking the
// well-known "list_<kind>" tool (spec §6 documents document-type kinds,
// not an enumeration RPC, so this convention resolves that gap; see
// DESIGN.md).
func buildPreload(cfg config.Config, client upstream.Client, c *cache.Engine, log dispatch.Logger) dispatch.PreloadFunc {
	kinds := cfg.Cache.Preload
	return func(ctx context.Context) {
		for _, kind := range kinds {
			raw, err := client.Invoke(ctx, "list_"+kind, []byte(`{}`))
			if err != nil {
				log.Warnw("preload: list failed", "kind", kind, "error", err)
				continue
			}
			var items []struct {
				Name    string `json:"name"`
				Project string `json:"project"`
			}
			if err := json.Unmarshal(raw, &items); err != nil {
				log.Warnw("preload: decode list failed", "kind", kind, "error", err)
				continue
			}
			for _, item := range items {
				content, metadata, err := client.Fetch(ctx, "document", kind, item.Name, item.Project)
				if err != nil {
					log.Warnw("preload: fetch failed", "kind", kind, "name", item.Name, "error", err)
					continue
				}
				if err := c.SetDocument(kind, item.Name, item.Project, content, metadata); err != nil {
					log.Warnw("preload: cache write failed", "kind", kind, "name", item.Name, "error", err)
				}
			}
		}
	}
}

func withMetrics(next http.Handler, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", next)
	return mux
}

// zapLogger is the narrow logger shape every component narrows to; aliased
// here so main.go doesn't import zap directly for the type name alone.
type zapLogger = interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Sync() error
}
