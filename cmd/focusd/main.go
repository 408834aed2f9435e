package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-focus/internal/focus/cli"
	"github.com/haukened/rr-focus/internal/focus/common/clock"
	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/config"
	"github.com/haukened/rr-focus/internal/focus/gateways/bridge"
	"github.com/haukened/rr-focus/internal/focus/gateways/httpapi"
	"github.com/haukened/rr-focus/internal/focus/infra/metrics"
	"github.com/haukened/rr-focus/internal/focus/repos/kvstore/bolt"
	"github.com/haukened/rr-focus/internal/focus/repos/preset"
	"github.com/haukened/rr-focus/internal/focus/repos/rulestore"
	"github.com/haukened/rr-focus/internal/focus/repos/ruletable"
	"github.com/haukened/rr-focus/internal/focus/repos/ruletable/bloom"
	rulebolt "github.com/haukened/rr-focus/internal/focus/repos/ruletable/bolt"
	"github.com/haukened/rr-focus/internal/focus/repos/ruletable/lru"
	"github.com/haukened/rr-focus/internal/focus/repos/statestore"
	"github.com/haukened/rr-focus/internal/focus/services/compiler"
	"github.com/haukened/rr-focus/internal/focus/services/notifier"
	"github.com/haukened/rr-focus/internal/focus/services/reconciler"
	"github.com/haukened/rr-focus/internal/focus/services/session"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "focusd"

	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Application holds all the components of the focus daemon
type Application struct {
	config     *config.AppConfig
	server     *http.Server
	reconciler *reconciler.Reconciler
	ingress    *session.Ingress
	hub        *bridge.Hub
	table      *ruletable.Table
	state      *bolt.Store
}

func main() {
	root := cli.NewRootCommand(serve)
	root.Version = version
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// serve runs the daemon until SIGINT or SIGTERM.
func serve(ctx context.Context) error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Configure global logging
	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}

	log.Info(map[string]any{
		"version":    version,
		"env":        cfg.Env,
		"log_level":  cfg.Log.Level,
		"addr":       cfg.HTTP.Addr,
		"state_db":   cfg.Store.DB,
		"engine_db":  cfg.Engine.DB,
		"cache_size": cfg.Engine.Cache.Size,
		"interval":   cfg.Reconcile.Interval.String(),
		"preset_dir": cfg.Preset.Dir,
	}, "Starting "+appName)

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Error(map[string]any{"error": err}, "Failed to build application")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Error(map[string]any{"error": err}, "Server failed")
		return err
	}

	log.Info(nil, appName+" stopped gracefully")
	return nil
}

// repositories holds all repository implementations
type repositories struct {
	state   *bolt.Store
	gateway *statestore.Gateway
	table   *ruletable.Table
	presets *preset.Catalog
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := &clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build repository layer
	repos, err := buildRepositories(cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}
	closeRepos := func() {
		_ = repos.table.Close()
		_ = repos.state.Close()
	}

	adapter, err := rulestore.New(rulestore.Options{
		Engine:  repos.table,
		Timeout: cfg.Reconcile.ApplyTimeout,
		Logger:  logger,
	})
	if err != nil {
		closeRepos()
		return nil, fmt.Errorf("failed to create rule store: %w", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Build gateway and service layers. The hub is created first and attached
	// to the ingress once the ingress exists.
	hub := bridge.NewHub(bridge.Options{
		Origins:      cfg.Notify.Origins,
		WriteTimeout: cfg.Notify.Timeout,
		Clock:        clk,
		Logger:       logger,
		Metrics:      m,
	})

	notify := notifier.New(notifier.Options{
		Enumerator: hub,
		Timeout:    cfg.Notify.Timeout,
		Logger:     logger,
		Metrics:    m,
	})

	rec, err := reconciler.New(reconciler.Options{
		Applier:     adapter,
		Store:       repos.gateway,
		Broadcaster: notify,
		Action:      compiler.PlaceholderAction(cfg.Placeholder.URL),
		Interval:    cfg.Reconcile.Interval,
		Clock:       clk,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		closeRepos()
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	ingress, err := session.New(session.Options{
		Store:      repos.gateway,
		Reconciler: rec,
		Installed:  adapter,
		Presets:    repos.presets,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		closeRepos()
		return nil, fmt.Errorf("failed to create session ingress: %w", err)
	}
	hub.Attach(ingress)

	router := httpapi.NewRouter(httpapi.Options{
		Ingress: ingress,
		Decider: repos.table,
		Presets: repos.presets,
		Bridge:  hub,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:  logger,
	})

	return &Application{
		config: cfg,
		server: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		reconciler: rec,
		ingress:    ingress,
		hub:        hub,
		table:      repos.table,
		state:      repos.state,
	}, nil
}

// buildRepositories opens the persistent stores and loads presets
func buildRepositories(cfg *config.AppConfig, clk clock.Clock, logger log.Logger) (*repositories, error) {
	if cfg.Engine.DB != "" && filepath.Clean(cfg.Engine.DB) == filepath.Clean(cfg.Store.DB) {
		return nil, fmt.Errorf("state db and engine db must be different files: %s", cfg.Store.DB)
	}

	// Desired state and sync record
	if err := ensureDir(cfg.Store.DB); err != nil {
		return nil, err
	}
	state, err := bolt.Open(cfg.Store.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	gateway := statestore.New(state, logger)

	// Blocking engine rule table
	var store ruletable.Store
	if cfg.Engine.DB == "" {
		store = ruletable.NewMemoryStore()
		log.Warn(nil, "Engine db not configured, installed rules will not survive a restart")
	} else {
		if err := ensureDir(cfg.Engine.DB); err != nil {
			_ = state.Close()
			return nil, err
		}
		store, err = rulebolt.New(cfg.Engine.DB)
		if err != nil {
			_ = state.Close()
			return nil, fmt.Errorf("failed to open engine db: %w", err)
		}
	}

	cache, err := lru.New(cfg.Engine.Cache.Size)
	if err != nil {
		_ = store.Close()
		_ = state.Close()
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}

	table, err := ruletable.New(ruletable.Options{
		Store:   store,
		Cache:   cache,
		Factory: bloom.NewFactory(),
		FPRate:  cfg.Engine.FPRate,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		_ = store.Close()
		_ = state.Close()
		return nil, fmt.Errorf("failed to create rule table: %w", err)
	}

	log.Info(map[string]any{
		"rules":      table.Stats().Rules,
		"cache_size": cfg.Engine.Cache.Size,
		"fp_rate":    cfg.Engine.FPRate,
	}, "Rule table initialized")

	// Presets are optional; a missing directory means none
	presets := preset.NewCatalog()
	if cfg.Preset.Dir != "" {
		loaded, err := preset.LoadPresetDirectory(cfg.Preset.Dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Info(map[string]any{"preset_dir": cfg.Preset.Dir}, "Preset directory not found, no presets loaded")
		case err != nil:
			_ = table.Close()
			_ = state.Close()
			return nil, fmt.Errorf("failed to load presets: %w", err)
		default:
			presets = loaded
		}
	}

	log.Info(map[string]any{
		"preset_dir": cfg.Preset.Dir,
		"presets":    presets.Len(),
	}, "Preset catalog initialized")

	return &repositories{
		state:   state,
		gateway: gateway,
		table:   table,
		presets: presets,
	}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// Run serves the control plane and runs drift correction until ctx is
// cancelled, then shuts both down and closes the stores.
func (app *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.config.HTTP.Addr)
	if err != nil {
		app.close()
		return fmt.Errorf("failed to listen on %s: %w", app.config.HTTP.Addr, err)
	}

	log.Info(map[string]any{
		"address": ln.Addr().String(),
	}, "Control plane started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.reconciler.Run(gctx)
	})

	g.Go(func() error {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// Wait for shutdown signal
		<-gctx.Done()

		log.Info(nil, "Shutdown initiated")

		// Create shutdown context with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		// Bridges are hijacked connections that Shutdown does not track
		app.hub.Close()
		if err := app.server.Shutdown(shutdownCtx); err != nil {
			log.Warn(map[string]any{"error": err, "timeout": defaultShutdownTimeout}, "Error during http shutdown")
			return err
		}
		return nil
	})

	err = g.Wait()
	app.close()
	if err != nil {
		return err
	}
	log.Info(nil, "Graceful shutdown completed")
	return nil
}

func (app *Application) close() {
	if err := app.table.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing engine db")
	}
	if err := app.state.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing state db")
	}
}
