// Hel polls HTTP APIs for audit/event logs on a schedule and emits
// newline-delimited JSON to an output sink, tracking per-source
// checkpoints so restarts resume instead of re-fetching history.
//
// Required environment variables:
//
//	HEL_CONFIG_FILE       - path to the YAML run config (global + sources)
//
// Optional environment variables:
//
//	HEL_STATE_PATH        - overrides global.state.path for a sqlite backend
//	HEL_HTTP_ADDR         - health/status server listen address (e.g. ":8766")
//	HEL_MASTER_KEY        - 64-char hex AES-256 key; when set, oauth2 and
//	                        google_service_account access tokens are cached
//	                        at rest (encrypted) so a restart does not force
//	                        an immediate re-auth. Unset disables the cache.
//	LOG_LEVEL             - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT            - "text" or "json" (default: "text")
//
// SIGTERM/SIGINT stop the scheduler gracefully. SIGHUP re-reads
// HEL_CONFIG_FILE and hot-reloads the source set. SIGUSR1 dumps a stats
// snapshot to the log when global.dumpOnSigusr1 is set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/timescale/hel/common/environment"
	"github.com/timescale/hel/common/version"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/health"
	"github.com/timescale/hel/internal/hel/obslog"
	"github.com/timescale/hel/internal/hel/scheduler"
	"github.com/timescale/hel/internal/hel/sink"
	"github.com/timescale/hel/internal/hel/statestore"
)

func main() {
	configPath, err := environment.RequiredString("HEL_CONFIG_FILE")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	httpAddr := environment.StringOr("HEL_HTTP_ADDR", "")

	logLevel := environment.StringOr("LOG_LEVEL", "info")
	logFormat := environment.StringOr("LOG_FORMAT", "text")
	obslog.Setup(logLevel, logFormat)

	slog.Info("hel starting", "version", version.Version, "commit", version.GitCommit, "config", configPath)

	loader := config.NewLoader()
	cfg, raw, err := config.LoadFile(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := loader.Apply(cfg, raw); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	store, err := buildStore(cfg.Global)
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	out, err := sink.New(cfg.Global.Output, func(err error) {
		slog.Error("output sink failed fatally", "error", err)
		os.Exit(1)
	})
	if err != nil {
		slog.Error("failed to build output sink", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(scheduler.Deps{
		Loader: loader,
		Store:  store,
		Sink:   out,
		Logger: slog.Default(),
	})

	var healthServer *health.Server
	if httpAddr != "" {
		healthServer = health.New(httpAddr, sched, out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if healthServer != nil {
		if err := healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "error", err)
			healthServer = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	go handleSignals(ctx, sigCh, cancel, loader, sched, configPath)

	slog.Info("hel running", "sources", len(cfg.Sources), "http_addr", httpAddr)
	if err := sched.Run(ctx); err != nil {
		slog.Error("scheduler exited with error", "error", err)
		os.Exit(1)
	}

	if healthServer != nil {
		healthServer.Stop()
	}
	slog.Info("hel stopped")
}

// handleSignals dispatches SIGTERM/SIGINT to shut the scheduler down,
// SIGHUP to reload HEL_CONFIG_FILE, and SIGUSR1 to dump stats. It runs
// until ctx is cancelled by the main goroutine's own shutdown path.
func handleSignals(ctx context.Context, sigCh chan os.Signal, cancel context.CancelFunc, loader *config.Loader, sched *scheduler.Scheduler, configPath string) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				slog.Info("received SIGHUP, reloading config", "path", configPath)
				cfg, raw, err := config.LoadFile(configPath)
				if err != nil {
					slog.Error("reload: failed to read config", "error", err)
					continue
				}
				if err := sched.Reload(ctx, cfg, raw); err != nil {
					slog.Error("reload: rejected, keeping previous config", "error", err)
				}
			case syscall.SIGUSR1:
				cfg := loader.Config()
				if cfg != nil && cfg.Global.DumpOnSigusr1 {
					sched.DumpStats()
				}
			default:
				slog.Info("received shutdown signal", "signal", sig)
				cancel()
				return
			}
		}
	}
}

// buildStore opens the configured state backend. "remote" has no built-in
// driver here; a deployment wanting one supplies its own statestore.Store
// and binary.
func buildStore(global config.GlobalConfig) (statestore.Store, error) {
	switch global.State.Backend {
	case "", "memory":
		return statestore.NewMemoryStore(), nil
	case "sqlite":
		path := environment.StringOr("HEL_STATE_PATH", global.State.Path)
		if path == "" {
			return nil, fmt.Errorf("global.state.path is required for the sqlite backend")
		}
		return statestore.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported global.state.backend %q", global.State.Backend)
	}
}
