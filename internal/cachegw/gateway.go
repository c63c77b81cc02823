// Package cachegw stores one diagram+explanation pair per repository
// identity on top of a byte-oriented diagram store.
package cachegw

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.trai.ch/zerr"

	diagramrepo "gitdiagram/internal/gateway/repository/diagram"
	"gitdiagram/internal/logging"
	"gitdiagram/internal/metrics"
	"gitdiagram/internal/types"
	"gitdiagram/internal/util/jsonutil"
)

var ErrIncompleteArtifact = zerr.New("artifact is missing diagram or explanation")

// Cache is what the orchestrator needs from the persistence layer.
type Cache interface {
	Get(ctx context.Context, id types.Identity) (types.DiagramArtifact, bool)
	Put(ctx context.Context, id types.Identity, artifact types.DiagramArtifact) error
}

type record struct {
	Diagram     string    `json:"diagram"`
	Explanation string    `json:"explanation"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Gateway struct {
	store   diagramrepo.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Gateway)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logging.OrDefault(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func New(store diagramrepo.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get returns the cached artifact. Store failures and half-written records
// are reported as absent so callers fall back to a fresh generation.
func (g *Gateway) Get(ctx context.Context, id types.Identity) (types.DiagramArtifact, bool) {
	if g == nil || g.store == nil || id.IsZero() {
		return types.DiagramArtifact{}, false
	}
	raw, err := g.store.Get(ctx, id.Key())
	if errors.Is(err, diagramrepo.ErrNotFound) {
		g.metrics.CacheLookup("miss")
		return types.DiagramArtifact{}, false
	}
	if err != nil {
		g.metrics.CacheLookup("error")
		logging.Error(ctx, g.logger, "cache read failed", zerr.With(zerr.Wrap(err, "cache read failed"), "repo", id.Key()))
		return types.DiagramArtifact{}, false
	}
	var rec record
	if err := jsonutil.UnmarshalFlex(raw, &rec); err != nil {
		g.metrics.CacheLookup("error")
		g.logger.WarnContext(ctx, "discarding unreadable cache record", "repo", id.Key(), "error", err)
		return types.DiagramArtifact{}, false
	}
	artifact := types.DiagramArtifact{Diagram: rec.Diagram, Explanation: rec.Explanation}
	if !artifact.Complete() {
		g.metrics.CacheLookup("miss")
		return types.DiagramArtifact{}, false
	}
	g.metrics.CacheLookup("hit")
	return artifact, true
}

// Put overwrites the entry for id. Errors are logged and returned; callers
// are free to ignore them.
func (g *Gateway) Put(ctx context.Context, id types.Identity, artifact types.DiagramArtifact) error {
	if g == nil || g.store == nil {
		return diagramrepo.ErrNilStore
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if !artifact.Complete() {
		return zerr.With(zerr.Wrap(ErrIncompleteArtifact, "refusing partial write"), "repo", id.Key())
	}
	raw, err := jsonutil.MarshalNoEscape(record{
		Diagram:     artifact.Diagram,
		Explanation: artifact.Explanation,
		UpdatedAt:   g.now().UTC(),
	})
	if err != nil {
		return zerr.Wrap(err, "encode cache record")
	}
	if err := g.store.Put(ctx, id.Key(), raw); err != nil {
		g.metrics.CacheWrite(false)
		wrapped := zerr.With(zerr.Wrap(err, "cache write failed"), "repo", id.Key())
		logging.Error(ctx, g.logger, "cache write failed", wrapped)
		return wrapped
	}
	g.metrics.CacheWrite(true)
	return nil
}
