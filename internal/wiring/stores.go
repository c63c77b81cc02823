package wiring

import (
	"context"
	"log/slog"
	"path/filepath"

	"go.trai.ch/zerr"

	diagramcache "gitdiagram/internal/cache/diagram"
	"gitdiagram/internal/config"
	diagramrepo "gitdiagram/internal/gateway/repository/diagram"
	"gitdiagram/internal/logging"
)

// openedStore is an origin store plus whatever must be released with it.
type openedStore struct {
	store diagramrepo.Store
	label string
	close func() error
}

// OpenStore builds the configured origin backend and wraps it in the LRU
// read-through layer.
func OpenStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*diagramcache.CachedStore, func() error, error) {
	logger = logging.OrDefault(logger)
	origin, err := openOrigin(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.InfoContext(ctx, "diagram store ready", "backend", origin.label)

	cacheCfg := diagramcache.DefaultCacheConfig()
	if cfg.LRUSize > 0 {
		cacheCfg.MaxEntries = cfg.LRUSize
	}
	if cfg.LRUTTL > 0 {
		cacheCfg.TTL = cfg.LRUTTL
	}
	closer := origin.close
	if closer == nil {
		closer = func() error { return nil }
	}
	return diagramcache.NewCachedStore(origin.store, cacheCfg), closer, nil
}

func openOrigin(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (openedStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return openedStore{store: diagramrepo.NewMemoryStore(), label: "in-memory"}, nil
	case config.BackendDisk:
		return openedStore{store: diagramrepo.NewDiskStore(cfg.Dir), label: "disk dir=" + cfg.Dir}, nil
	case config.BackendBadger:
		path := filepath.Join(cfg.Dir, "badger")
		bs, err := diagramrepo.OpenBadgerStore(diagramrepo.BadgerConfig{Path: path, Logger: logger})
		if err != nil {
			return openedStore{}, err
		}
		return openedStore{store: bs, label: "badger path=" + path, close: bs.Close}, nil
	case config.BackendPostgres:
		db, err := diagramrepo.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return openedStore{}, err
		}
		return openedStore{store: diagramrepo.NewPostgresStore(db), label: "postgres", close: db.Close}, nil
	case config.BackendS3:
		s3, err := diagramrepo.NewS3Store(diagramrepo.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    "diagrams",
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return openedStore{}, zerr.Wrap(err, "failed to initialize diagram s3 store")
		}
		return openedStore{store: s3, label: "s3 bucket=" + cfg.S3.Bucket + " endpoint=" + cfg.S3.Endpoint}, nil
	default:
		return openedStore{}, zerr.With(zerr.Wrap(config.ErrInvalidConfig, "unknown cache backend"), "backend", cfg.Backend)
	}
}
