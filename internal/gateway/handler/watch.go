package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gitdiagram/internal/gateway/service/session"
	"gitdiagram/internal/logging"
)

const (
	watchWriteWait = 10 * time.Second
	watchPongWait  = 60 * time.Second
	watchPingEvery = (watchPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type watchInbound struct {
	Type string `json:"type"`
}

type watchOutbound struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	Snapshot  *session.View `json:"snapshot,omitempty"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// WatchHandler streams orchestrator snapshots over a websocket.
type WatchHandler struct {
	sessions *session.Service
	logger   *slog.Logger
}

func NewWatchHandler(sessions *session.Service, logger *slog.Logger) *WatchHandler {
	return &WatchHandler{sessions: sessions, logger: logging.OrDefault(logger)}
}

func (h *WatchHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	o, err := h.sessions.Get(sessionID)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, session.ErrSessionRequired) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(watchPongWait)); err != nil {
		h.logger.WarnContext(ctx, "watch set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})

	writeCh := make(chan watchOutbound, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(watchPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(watchWriteWait))
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// The subscription ends when the session closes; so does the stream.
	go func() {
		for snap := range o.Subscribe(ctx) {
			view := session.NewView(snap)
			pushWatch(writeCh, watchOutbound{Type: "snapshot", SessionID: sessionID, Snapshot: &view})
		}
		cancel()
	}()

	go func() {
		for {
			var in watchInbound
			if err := conn.ReadJSON(&in); err != nil {
				cancel()
				return
			}
			switch strings.ToLower(strings.TrimSpace(in.Type)) {
			case "ping":
				pushWatch(writeCh, watchOutbound{Type: "pong"})
			default:
				pushWatch(writeCh, watchOutbound{
					Type:    "error",
					Code:    "invalid_argument",
					Message: "unsupported type: " + in.Type,
				})
			}
		}
	}()

	<-writerDone
}

// pushWatch never blocks: when the writer lags, the oldest queued message is
// dropped. Snapshots are cumulative so the newest one is enough.
func pushWatch(writeCh chan watchOutbound, out watchOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
