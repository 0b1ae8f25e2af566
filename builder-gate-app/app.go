package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/compose-network/builder-gate/builder-gate-app/config"
	"github.com/compose-network/builder-gate/metrics"
	apisrv "github.com/compose-network/builder-gate/server/api"
	apimw "github.com/compose-network/builder-gate/server/api/middleware"
	"github.com/compose-network/builder-gate/x/hostchain"
	"github.com/compose-network/builder-gate/x/perms"
	permshttp "github.com/compose-network/builder-gate/x/perms/http"
	"github.com/compose-network/builder-gate/x/slot"
)

const shutdownTimeout = 30 * time.Second

// App wires the builder permissioning components together.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	authz        *perms.Authorizer
	permsMetrics *perms.Metrics
	ticker       *slot.Ticker
	watcher      *hostchain.Watcher

	// API server (HTTP)
	apiServer *apisrv.Server

	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),
	}

	if err := app.initialize(ctx, log); err != nil {
		app.release()
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context, log zerolog.Logger) error {
	if err := a.initializePerms(log); err != nil {
		return err
	}

	if err := a.initializeHostChain(ctx, log); err != nil {
		return err
	}

	a.ticker = slot.NewTicker(slot.TickerConfig{
		Calculator: a.authz.Builders().Calc(),
		Handler:    a.onSlot,
		Logger:     log,
	})

	return a.initializeAPIServer(log)
}

// release closes connections opened by a partial initialize.
func (a *App) release() {
	if a.watcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.watcher.Stop(ctx); err != nil {
		a.log.Error().Err(err).Msg("Host chain watcher release error")
	}
}

// initializePerms builds the roster and authorizer from configuration
func (a *App) initializePerms(log zerolog.Logger) error {
	win, err := a.cfg.WindowConfig()
	if err != nil {
		return err
	}

	builders, err := perms.NewBuilders(a.cfg.Perms.Builders, win)
	if err != nil {
		return fmt.Errorf("failed to create builder roster: %w", err)
	}

	opts := []perms.Option{perms.WithLogger(log)}
	if a.cfg.Metrics.Enabled {
		a.permsMetrics = perms.NewMetrics(metrics.NewComponentRegistry(metrics.Namespace, "perms"), builders)
		opts = append(opts, perms.WithObserver(a.permsMetrics))
	}
	a.authz = perms.NewAuthorizer(builders, opts...)

	a.log.Info().
		Str("calculator", win.Calc().String()).
		Int("builders", builders.Len()).
		Uint64("block_query_start", win.BlockQueryStart()).
		Uint64("block_query_cutoff", win.BlockQueryCutoff()).
		Msg("Builder permissioning initialized")
	return nil
}

// initializeHostChain connects the host chain head watcher if enabled
func (a *App) initializeHostChain(ctx context.Context, log zerolog.Logger) error {
	if !a.cfg.HostChain.Enabled {
		return nil
	}

	var m *hostchain.Metrics
	if a.cfg.Metrics.Enabled {
		m = hostchain.NewMetrics(metrics.NewComponentRegistry(metrics.Namespace, "hostchain"))
	}

	w, err := hostchain.Dial(ctx, a.cfg.HostChain, a.authz.Builders().Calc(), m, log)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer(log zerolog.Logger) error {
	s := apisrv.NewServer(a.cfg.API, log)
	s.Use(apimw.Recover(log))
	s.Use(apimw.RequestID())
	s.Use(apimw.Logger(log, "/health", "/ready", a.cfg.Metrics.Path))

	gate := permshttp.NewGate(a.authz, a.cfg.Perms.IdentityHeader, log)
	if a.cfg.API.EnableCORS {
		s.EnableCORS(gate.Header())
	}

	var upstream http.Handler
	if a.cfg.Upstream.URL != "" {
		p, err := permshttp.NewUpstreamProxy(a.cfg.Upstream.URL, a.cfg.Upstream.Timeout, log)
		if err != nil {
			return fmt.Errorf("failed to create upstream proxy: %w", err)
		}
		upstream = p
	}

	// Health/readiness
	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)

	// Metrics
	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	// Slot, roster and guarded builder routes
	permshttp.NewHandler(a.authz, gate, upstream, log).RegisterMux(s.Router)

	a.apiServer = s
	return nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.ticker.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start slot ticker: %w", err)
	}

	if a.watcher != nil {
		if err := a.watcher.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start host chain watcher: %w", err)
		}
		a.log.Info().Msg("Host chain watcher started")
	}

	// Start API server
	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			a.log.Error().Err(err).Msg("API server error")
			errCh <- err
		}
	}()

	return a.runWithGracefulShutdown(runCtx, errCh)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context, errCh <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info().Msg("Builder gate started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case runErr = <-errCh:
		a.log.Error().Err(runErr).Msg("API server failed, initiating shutdown")
	}

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.shutdown(); err != nil {
		return err
	}
	return runErr
}

// shutdown stops background components. The API server shuts itself down
// when the run context is canceled.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.ticker.Stop(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Slot ticker shutdown error")
	}

	if a.watcher != nil {
		if err := a.watcher.Stop(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("Host chain watcher shutdown error")
		}
	}

	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}

// onSlot logs each builder rotation.
func (a *App) onSlot(_ context.Context, tick slot.Tick) error {
	b := a.authz.Builders()
	builder := b.BuilderForSlot(tick.Slot)

	if a.permsMetrics != nil {
		a.permsMetrics.ObserveSlot(tick.Slot)
	}

	a.log.Info().
		Uint64("slot", tick.Slot).
		Time("slot_start", tick.StartedAt).
		Str("permissioned_builder", builder.Sub).
		Str("next_builder", b.BuilderForSlot(tick.Slot+1).Sub).
		Msg("Builder slot started")
	return nil
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports ready once the chain has started and, when the host
// chain watcher runs, once it has seen a head.
func (a *App) handleReady(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ready"}
	code := http.StatusOK

	snap := a.authz.Snapshot(a.authz.Now())
	if snap.SlotKnown {
		resp["slot"] = snap.Slot
	} else {
		resp["status"] = "before_chain_start"
		code = http.StatusServiceUnavailable
	}

	if a.watcher != nil {
		head, ok := a.watcher.Latest()
		if ok {
			resp["host_chain_head"] = head.Number
		} else if code == http.StatusOK {
			resp["status"] = "no_host_chain_head"
			code = http.StatusServiceUnavailable
		}
	}

	apisrv.WriteJSON(w, code, resp)
}
