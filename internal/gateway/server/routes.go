package server

import (
	"net/http"

	"gitdiagram/internal/gateway/handler"
	"gitdiagram/internal/gateway/handler/rpc"
	"gitdiagram/internal/gateway/middleware"
)

type Routes struct {
	Diagram *rpc.DiagramHandler
	Watch   *handler.WatchHandler
	Export  *handler.ExportHandler
	// Metrics is mounted at /metrics when set.
	Metrics        http.Handler
	AllowedOrigins []string
}

func NewMux(r Routes) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	mux.Handle(r.Diagram.Routes())

	// Streaming and downloads
	mux.HandleFunc("GET /sessions/watch", r.Watch.HandleWatch)
	mux.HandleFunc("/sessions/export", r.Export.HandleExport)

	if r.Metrics != nil {
		mux.Handle("GET /metrics", r.Metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return middleware.CORS(r.AllowedOrigins, mux)
}
