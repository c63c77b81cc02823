// Package wiring assembles the remote client, cache and exporter from a
// Config. The gateway and the CLI share it.
package wiring

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	diagramcache "gitdiagram/internal/cache/diagram"
	"gitdiagram/internal/cachegw"
	"gitdiagram/internal/config"
	"gitdiagram/internal/export"
	"gitdiagram/internal/logging"
	"gitdiagram/internal/metrics"
	"gitdiagram/internal/orchestrator"
	"gitdiagram/internal/remote"
)

type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Remote   *remote.Client
	Store    *diagramcache.CachedStore
	Cache    *cachegw.Gateway
	Exporter *export.Exporter

	closeStore func() error
}

// Build wires every dependency. reg may be nil to skip metric registration.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Deps, error) {
	logger = logging.OrDefault(logger)
	m := metrics.New(reg)

	store, closeStore, err := OpenStore(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	return &Deps{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Remote: remote.New(cfg.Remote.BaseURL,
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithLogger(logger),
			remote.WithMetrics(m),
		),
		Store: store,
		Cache: cachegw.New(store,
			cachegw.WithLogger(logger),
			cachegw.WithMetrics(m),
		),
		Exporter:   export.NewExporter(export.NewMermaidInkRenderer(cfg.RenderURL, &http.Client{Timeout: cfg.Remote.Timeout})),
		closeStore: closeStore,
	}, nil
}

// NewOrchestrator returns an orchestrator bound to the shared client and
// cache, carrying the configured credentials. opts are applied last.
func (d *Deps) NewOrchestrator(opts ...orchestrator.Option) *orchestrator.Orchestrator {
	base := []orchestrator.Option{
		orchestrator.WithLogger(d.Logger),
		orchestrator.WithMetrics(d.Metrics),
		orchestrator.WithGitHubCredential(d.Config.Remote.GitHubPAT),
		orchestrator.WithAPIKey(d.Config.Remote.APIKey),
	}
	return orchestrator.New(d.Remote, d.Cache, append(base, opts...)...)
}

func (d *Deps) Close() error {
	if d.closeStore == nil {
		return nil
	}
	return d.closeStore()
}
