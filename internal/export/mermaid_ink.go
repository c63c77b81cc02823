package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.trai.ch/zerr"
)

const DefaultRenderURL = "https://mermaid.ink"

const maxImageBytes = 32 << 20

// MermaidInkRenderer renders through a mermaid.ink compatible service.
type MermaidInkRenderer struct {
	baseURL string
	httpCli *http.Client
}

func NewMermaidInkRenderer(baseURL string, httpCli *http.Client) *MermaidInkRenderer {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultRenderURL
	}
	if httpCli == nil {
		httpCli = &http.Client{Timeout: 30 * time.Second}
	}
	return &MermaidInkRenderer{baseURL: baseURL, httpCli: httpCli}
}

func (r *MermaidInkRenderer) Render(ctx context.Context, diagram string, format Format) ([]byte, error) {
	encoded := base64.URLEncoding.EncodeToString([]byte(diagram))
	var url string
	switch format {
	case FormatPNG:
		url = fmt.Sprintf("%s/img/%s?type=png", r.baseURL, encoded)
	default:
		url = fmt.Sprintf("%s/svg/%s", r.baseURL, encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, zerr.Wrap(err, "create render request")
	}
	resp, err := r.httpCli.Do(req)
	if err != nil {
		return nil, zerr.Wrap(err, "render request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, zerr.With(zerr.New("renderer rejected diagram"), "status", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, zerr.Wrap(err, "read rendered image")
	}
	if len(data) == 0 {
		return nil, zerr.New("renderer returned an empty image")
	}
	return data, nil
}
