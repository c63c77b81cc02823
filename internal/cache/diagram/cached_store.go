package diagram

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	diagramrepo "gitdiagram/internal/gateway/repository/diagram"
)

type Store = diagramrepo.Store

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        10 * time.Minute,
		MaxEntries: 512,
	}
}

type MetricsSnapshot struct {
	Hits           uint64
	Misses         uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore is a read-through, write-through LRU in front of a slower
// Store. Concurrent misses for one key share a single origin read.
type CachedStore struct {
	origin  Store
	cache   *expirable.LRU[string, []byte]
	flight  singleflight.Group
	metrics Metrics

	// fillMu orders cache fills from origin reads against writes. writes
	// counts Puts per key so a read that raced a write is not cached.
	fillMu sync.Mutex
	writes map[string]uint64
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &CachedStore{
		origin: origin,
		cache:  expirable.NewLRU[string, []byte](cfg.MaxEntries, nil, cfg.TTL),
		writes: make(map[string]uint64),
	}
}

func (s *CachedStore) Put(ctx context.Context, key string, content []byte) error {
	key = cacheKey(key)
	s.metrics.originWrites.Add(1)
	err := s.origin.Put(ctx, key, content)

	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	s.writes[key]++
	if err != nil {
		s.metrics.originWriteErr.Add(1)
		// The origin may hold either version now; drop ours.
		s.cache.Remove(key)
		return err
	}
	s.cache.Add(key, append([]byte(nil), content...))
	return nil
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	key = cacheKey(key)
	if raw, ok := s.cache.Get(key); ok {
		s.metrics.hits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.metrics.misses.Add(1)

	// The shared read outlives any one caller; each caller still stops
	// waiting when its own ctx ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		s.fillMu.Lock()
		seen := s.writes[key]
		s.fillMu.Unlock()

		s.metrics.originReads.Add(1)
		raw, err := s.origin.Get(flightCtx, key)
		if err != nil {
			s.metrics.originReadErr.Add(1)
			return nil, err
		}
		copied := append([]byte(nil), raw...)

		s.fillMu.Lock()
		if s.writes[key] == seen {
			s.cache.Add(key, copied)
		}
		s.fillMu.Unlock()
		return copied, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]byte(nil), res.Val.([]byte)...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CachedStore) Len() int {
	return s.cache.Len()
}

func (s *CachedStore) Purge() {
	s.cache.Purge()
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}

func cacheKey(key string) string {
	return strings.Trim(strings.TrimSpace(key), "/")
}
