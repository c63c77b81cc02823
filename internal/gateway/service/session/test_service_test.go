package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdiagram/internal/orchestrator"
	"gitdiagram/internal/types"
)

type nopCache struct{}

func (nopCache) Get(context.Context, types.Identity) (types.DiagramArtifact, bool) {
	return types.DiagramArtifact{}, false
}

func (nopCache) Put(context.Context, types.Identity, types.DiagramArtifact) error { return nil }

func newService(cfg Config) *Service {
	return New(func() *orchestrator.Orchestrator {
		return orchestrator.New(nil, nopCache{})
	}, cfg, nil)
}

func TestOpenAndGet(t *testing.T) {
	s := newService(Config{})
	id, o := s.Open()
	require.NotEmpty(t, id)

	got, err := s.Get(" " + id + " ")
	require.NoError(t, err)
	assert.Same(t, o, got)
	assert.Equal(t, 1, s.Len())
}

func TestGetErrors(t *testing.T) {
	s := newService(Config{})
	_, err := s.Get("")
	assert.ErrorIs(t, err, ErrSessionRequired)
	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCloseClosesOrchestrator(t *testing.T) {
	s := newService(Config{})
	id, o := s.Open()
	sub := o.Subscribe(context.Background())
	<-sub

	assert.True(t, s.Close(id))
	assert.False(t, s.Close(id))
	_, ok := <-sub
	assert.False(t, ok, "subscription must end when the session closes")

	_, err := s.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEvictsOldestWhenFull(t *testing.T) {
	s := newService(Config{MaxSessions: 2})
	first, _ := s.Open()
	s.Open()
	s.Open()

	assert.Equal(t, 2, s.Len())
	_, err := s.Get(first)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionsExpire(t *testing.T) {
	s := newService(Config{TTL: 20 * time.Millisecond})
	id, _ := s.Open()
	assert.Eventually(t, func() bool {
		_, err := s.Get(id)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestShutdownClosesAll(t *testing.T) {
	s := newService(Config{})
	s.Open()
	s.Open()
	s.Shutdown()
	assert.Equal(t, 0, s.Len())
}

func TestViewOmitsAbsentValues(t *testing.T) {
	id, err := types.NewIdentity("Acme", "Widgets")
	require.NoError(t, err)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v := NewView(orchestrator.Snapshot{
		Identity:        id,
		Status:          orchestrator.StatusReady,
		Artifact:        types.DiagramArtifact{Diagram: "graph TD; A-->B", Explanation: "simple flow"},
		LastGeneratedAt: at,
		Version:         4,
	})

	assert.Equal(t, "acme/widgets", v.Repo)
	assert.Equal(t, "Ready", v.Status)
	assert.Equal(t, "2026-01-02T03:04:05Z", v.LastGeneratedAt)

	f := v.Fields()
	assert.Equal(t, "graph TD; A-->B", f["diagram"])
	assert.Equal(t, uint64(4), f["version"])
	assert.NotContains(t, f, "error")
	assert.NotContains(t, f, "cost")
	assert.NotContains(t, f, "fromCache")

	idle := NewView(orchestrator.Snapshot{}).Fields()
	assert.Equal(t, "Idle", idle["status"])
	assert.NotContains(t, idle, "repo")
}
