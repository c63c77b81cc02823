package handler

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"gitdiagram/internal/export"
	"gitdiagram/internal/gateway/service/session"
	"gitdiagram/internal/logging"
)

// ExportHandler serves the current session artifact as an image download.
type ExportHandler struct {
	sessions *session.Service
	exporter *export.Exporter
	logger   *slog.Logger
}

func NewExportHandler(sessions *session.Service, exporter *export.Exporter, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{sessions: sessions, exporter: exporter, logger: logging.OrDefault(logger)}
}

func (h *ExportHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	o, err := h.sessions.Get(r.URL.Query().Get("session_id"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, session.ErrSessionRequired) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	img, err := h.exporter.Export(r.Context(), o.Snapshot(), format)
	switch {
	case errors.Is(err, export.ErrNotReady):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		logging.Error(r.Context(), h.logger, "export failed", err)
		http.Error(w, "failed to render diagram", http.StatusBadGateway)
		return
	}

	w.Header().Set("ETag", img.ETag)
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == img.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": img.Filename}))
	_, _ = w.Write(img.Data)
}
