package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdiagram/internal/cachegw"
	"gitdiagram/internal/export"
	diagramrepo "gitdiagram/internal/gateway/repository/diagram"
	"gitdiagram/internal/gateway/service/session"
	"gitdiagram/internal/orchestrator"
	"gitdiagram/internal/remote"
	"gitdiagram/internal/types"
)

type fakeRenderer struct {
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, diagram string, format export.Format) ([]byte, error) {
	r.calls++
	return []byte("<" + string(format) + ">" + diagram), nil
}

func newSessions(t *testing.T) *session.Service {
	t.Helper()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"diagram":"graph TD; A-->B","explanation":"simple flow"}`)
	}))
	t.Cleanup(api.Close)
	client := remote.New(api.URL)
	cache := cachegw.New(diagramrepo.NewMemoryStore())
	s := session.New(func() *orchestrator.Orchestrator {
		return orchestrator.New(client, cache)
	}, session.Config{}, nil)
	t.Cleanup(s.Shutdown)
	return s
}

func readySession(t *testing.T, s *session.Service) (string, *orchestrator.Orchestrator) {
	t.Helper()
	sid, o := s.Open()
	id, err := types.NewIdentity("acme", "widgets")
	require.NoError(t, err)
	require.NoError(t, o.SetIdentity(id))
	_, err = o.Generate(context.Background(), "").Wait(context.Background())
	require.NoError(t, err)
	return sid, o
}

func TestExportServesImage(t *testing.T) {
	s := newSessions(t)
	sid, _ := readySession(t, s)
	r := &fakeRenderer{}
	h := NewExportHandler(s, export.NewExporter(r), nil)

	rec := httptest.NewRecorder()
	h.HandleExport(rec, httptest.NewRequest(http.MethodGet, "/sessions/export?session_id="+sid+"&format=png", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=acme-widgets-diagram.png`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "<png>graph TD; A-->B", rec.Body.String())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/sessions/export?session_id="+sid+"&format=png", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.HandleExport(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestExportErrors(t *testing.T) {
	s := newSessions(t)
	h := NewExportHandler(s, export.NewExporter(&fakeRenderer{}), nil)
	idle, _ := s.Open()
	ready, _ := readySession(t, s)

	cases := []struct {
		name   string
		method string
		query  string
		status int
	}{
		{"missing session", http.MethodGet, "", http.StatusBadRequest},
		{"unknown session", http.MethodGet, "session_id=nope", http.StatusNotFound},
		{"bad format", http.MethodGet, "session_id=" + ready + "&format=gif", http.StatusBadRequest},
		{"not ready", http.MethodGet, "session_id=" + idle, http.StatusConflict},
		{"wrong method", http.MethodPost, "session_id=" + ready, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleExport(rec, httptest.NewRequest(tc.method, "/sessions/export?"+tc.query, nil))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func dialWatch(t *testing.T, srv *httptest.Server, sid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/watch?session_id=" + sid
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readOutbound(t *testing.T, conn *websocket.Conn) watchOutbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out watchOutbound
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestWatchStreamsSnapshots(t *testing.T) {
	s := newSessions(t)
	srv := httptest.NewServer(http.HandlerFunc(NewWatchHandler(s, nil).HandleWatch))
	t.Cleanup(srv.Close)

	sid, o := s.Open()
	conn := dialWatch(t, srv, sid)

	first := readOutbound(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, sid, first.SessionID)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, "Idle", first.Snapshot.Status)

	id, err := types.NewIdentity("acme", "widgets")
	require.NoError(t, err)
	require.NoError(t, o.SetIdentity(id))
	_, err = o.Generate(context.Background(), "").Wait(context.Background())
	require.NoError(t, err)

	for {
		out := readOutbound(t, conn)
		require.Equal(t, "snapshot", out.Type)
		if out.Snapshot.Status == "Ready" {
			assert.Equal(t, "graph TD; A-->B", out.Snapshot.Diagram)
			break
		}
	}

	require.NoError(t, conn.WriteJSON(watchInbound{Type: "ping"}))
	assert.Equal(t, "pong", readOutbound(t, conn).Type)

	require.NoError(t, conn.WriteJSON(watchInbound{Type: "shout"}))
	out := readOutbound(t, conn)
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, "invalid_argument", out.Code)
}

func TestWatchEndsWhenSessionCloses(t *testing.T) {
	s := newSessions(t)
	srv := httptest.NewServer(http.HandlerFunc(NewWatchHandler(s, nil).HandleWatch))
	t.Cleanup(srv.Close)

	sid, _ := s.Open()
	conn := dialWatch(t, srv, sid)
	readOutbound(t, conn)

	require.True(t, s.Close(sid))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatchRejectsUnknownSession(t *testing.T) {
	s := newSessions(t)
	h := NewWatchHandler(s, nil)

	rec := httptest.NewRecorder()
	h.HandleWatch(rec, httptest.NewRequest(http.MethodGet, "/sessions/watch", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleWatch(rec, httptest.NewRequest(http.MethodGet, "/sessions/watch?session_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
