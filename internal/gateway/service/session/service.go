// Package session keeps one orchestrator per client session. Sessions
// expire after a fixed lifetime and the oldest is evicted once the
// registry is full; either way the orchestrator is closed.
package session

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.trai.ch/zerr"

	"gitdiagram/internal/logging"
	"gitdiagram/internal/orchestrator"
)

var (
	ErrSessionRequired = zerr.New("session_id is required")
	ErrSessionNotFound = zerr.New("session not found")
)

type Factory func() *orchestrator.Orchestrator

type Config struct {
	TTL         time.Duration
	MaxSessions int
}

type Service struct {
	sessions *expirable.LRU[string, *orchestrator.Orchestrator]
	factory  Factory
	logger   *slog.Logger
}

func New(factory Factory, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1024
	}
	s := &Service{
		factory: factory,
		logger:  logging.OrDefault(logger),
	}
	s.sessions = expirable.NewLRU[string, *orchestrator.Orchestrator](cfg.MaxSessions, s.onEvict, cfg.TTL)
	return s
}

func (s *Service) onEvict(id string, o *orchestrator.Orchestrator) {
	o.Close()
	s.logger.Debug("session closed", "session_id", id)
}

// Open creates a session with a fresh orchestrator.
func (s *Service) Open() (string, *orchestrator.Orchestrator) {
	id := uuid.NewString()
	o := s.factory()
	s.sessions.Add(id, o)
	s.logger.Debug("session opened", "session_id", id)
	return id, o
}

func (s *Service) Get(id string) (*orchestrator.Orchestrator, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSessionRequired
	}
	o, ok := s.sessions.Get(id)
	if !ok {
		return nil, zerr.With(zerr.Wrap(ErrSessionNotFound, "lookup"), "session_id", id)
	}
	return o, nil
}

// Close ends a session. It reports whether the session existed.
func (s *Service) Close(id string) bool {
	return s.sessions.Remove(strings.TrimSpace(id))
}

func (s *Service) Len() int {
	return s.sessions.Len()
}

// Shutdown closes every session.
func (s *Service) Shutdown() {
	s.sessions.Purge()
}
