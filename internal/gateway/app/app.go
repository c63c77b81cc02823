package app

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"gitdiagram/internal/config"
	"gitdiagram/internal/gateway/handler"
	"gitdiagram/internal/gateway/handler/rpc"
	"gitdiagram/internal/gateway/server"
	"gitdiagram/internal/gateway/service/session"
	"gitdiagram/internal/logging"
	"gitdiagram/internal/orchestrator"
	"gitdiagram/internal/wiring"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	server   *server.Server
	sessions *session.Service
	deps     *wiring.Deps
	logger   *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger = logging.OrDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Dependencies
	deps, err := wiring.Build(ctx, cfg, logger, reg)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to wire dependencies")
	}
	sessions := session.New(func() *orchestrator.Orchestrator {
		return deps.NewOrchestrator()
	}, session.Config{
		TTL:         cfg.Session.TTL,
		MaxSessions: cfg.Session.MaxSessions,
	}, logger)

	// Routing & Server
	mux := server.NewMux(server.Routes{
		Diagram:        rpc.NewDiagramHandler(sessions),
		Watch:          handler.NewWatchHandler(sessions, logger),
		Export:         handler.NewExportHandler(sessions, deps.Exporter, logger),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &App{
		server:   server.New(cfg.Port, mux, logger),
		sessions: sessions,
		deps:     deps,
		logger:   logger,
	}, nil
}

// Run listens on the configured port and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr())
	if err != nil {
		return zerr.With(zerr.Wrap(err, "listen"), "addr", a.server.Addr())
	}
	return a.Serve(ctx, ln)
}

// Serve runs the server on ln. When ctx ends it drains requests, closes
// every session and releases the store.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	err := g.Wait()

	a.sessions.Shutdown()
	if cerr := a.deps.Close(); cerr != nil {
		logging.Error(ctx, a.logger, "closing diagram store failed", cerr)
	}
	return err
}
