package orchestrator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdiagram/internal/cachegw"
	diagramrepo "gitdiagram/internal/gateway/repository/diagram"
	"gitdiagram/internal/metrics"
	"gitdiagram/internal/remote"
	"gitdiagram/internal/types"
)

// newStack wires the real client, gateway and a memory store against srv.
func newStack(t *testing.T, srv *httptest.Server) (*Orchestrator, *cachegw.Gateway, types.Identity) {
	t.Helper()
	gw := cachegw.New(diagramrepo.NewMemoryStore())
	o := New(remote.New(srv.URL), gw)
	t.Cleanup(o.Close)
	id, err := types.NewIdentity("acme", "widgets")
	require.NoError(t, err)
	require.NoError(t, o.SetIdentity(id))
	return o, gw, id
}

func TestEndToEndGenerateExample(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/generate", r.URL.Path)
		_, _ = io.WriteString(w, `{"diagram":"graph TD; A-->B","explanation":"simple flow"}`)
	}))
	t.Cleanup(srv.Close)
	o, gw, id := newStack(t, srv)

	snap, err := wait(t, o.Generate(context.Background(), ""))
	require.NoError(t, err)
	want := types.DiagramArtifact{Diagram: "graph TD; A-->B", Explanation: "simple flow"}
	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, want, snap.Artifact)

	got, ok := gw.Get(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, want, got)

	again, err := wait(t, o.Generate(context.Background(), ""))
	require.NoError(t, err)
	assert.Equal(t, want, again.Artifact)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEndToEndRateLimitExample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	o, gw, id := newStack(t, srv)

	snap, err := wait(t, o.Generate(context.Background(), ""))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "Rate limit")

	_, ok := gw.Get(context.Background(), id)
	assert.False(t, ok)
}

func TestEndToEndModifyAndScenarios(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate":
			_, _ = io.WriteString(w, `{"diagram":"graph TD; A-->B","explanation":"simple flow"}`)
		case "/modify":
			_, _ = io.WriteString(w, `{"diagram":"graph TD; A-->C"}`)
		case "/generate/gherkin":
			_, _ = io.WriteString(w, "{\"gherkin_scenarios\":\"```gherkin\\nFeature: Widgets\\n```\"}")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	o, gw, id := newStack(t, srv)

	_, err := wait(t, o.Modify(context.Background(), "rename"))
	require.ErrorIs(t, err, ErrNoExistingArtifact)

	_, err = wait(t, o.Generate(context.Background(), ""))
	require.NoError(t, err)
	snap, err := wait(t, o.Modify(context.Background(), "rename"))
	require.NoError(t, err)
	assert.Equal(t, types.DiagramArtifact{Diagram: "graph TD; A-->C", Explanation: "simple flow"}, snap.Artifact)

	got, ok := gw.Get(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, "simple flow", got.Explanation)

	snap, err = wait(t, o.Scenarios(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "Feature: Widgets", snap.Scenarios)
}

func TestTransitionsAreCounted(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	o := New(f.remote, f.cache, WithMetrics(m))
	t.Cleanup(o.Close)
	require.NoError(t, o.SetIdentity(f.id))

	_, err := wait(t, o.Regenerate(context.Background(), ""))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "gitdiagram_orchestrator_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "Idle, Generating and Ready series")
}
