// Package runtime assembles the daemon: telemetry, the message bus, the
// event store, and the dictation pipeline, then supervises their lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur/internal/bus"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/control"
	"github.com/murmurlabs/murmur/internal/decode"
	"github.com/murmurlabs/murmur/internal/eventstore"
	"github.com/murmurlabs/murmur/internal/hotkey"
	"github.com/murmurlabs/murmur/internal/insert"
	"github.com/murmurlabs/murmur/internal/model"
	"github.com/murmurlabs/murmur/internal/natsserver"
	"github.com/murmurlabs/murmur/internal/session"
	"github.com/murmurlabs/murmur/internal/settings"
)

// Version is stamped by the build and reported through telemetry.
var Version = "dev"

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up in dependency order and blocks until ctx
// is cancelled, then unwinds in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	natsServer, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer natsServer.Shutdown()

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	registry := model.NewRegistry(r.cfg.Models, r.logger)
	tunables := settings.NewStore(r.cfg)

	orch, err := decode.NewOrchestrator(r.cfg.Decode, registry.Path(registry.ActiveModelID()), r.logger)
	if err != nil {
		return fmt.Errorf("failed to build decode orchestrator: %w", err)
	}
	defer orch.Close()

	engine := insert.NewEngine(insert.BuildChain(r.cfg.Insertion), r.cfg.Insertion.LedgerCapacity, r.logger)

	controller := session.NewController(r.cfg, session.Deps{
		Sink:     session.NewBusSink(busClient),
		Store:    store,
		Registry: registry,
		Settings: tunables,
		Orch:     orch,
		Engine:   engine,
		Log:      r.logger,
	})
	defer controller.Close()

	trigger := hotkey.NewTrigger()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		controller.Run(ctx, trigger)
	}()

	controlServer := control.NewServer(r.cfg.Control, controller, tunables, registry, trigger, r.logger)
	if err := controlServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}
	defer controlServer.Close()
	if err := controlServer.AttachBus(busClient); err != nil {
		return fmt.Errorf("failed to attach control server to bus: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("control_socket", r.cfg.Control.Socket),
		slog.String("decode_mode", r.cfg.Decode.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	controller.Close()
	controlServer.Close()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
