// Package export turns the displayed diagram into a downloadable image.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"gitdiagram/internal/orchestrator"
)

var (
	ErrNotReady          = zerr.New("no diagram is ready to export")
	ErrUnsupportedFormat = zerr.New("unsupported export format")
)

type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatSVG, nil
	case FormatSVG, FormatPNG:
		return f, nil
	default:
		return "", zerr.With(zerr.Wrap(ErrUnsupportedFormat, "unknown format"), "format", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/svg+xml"
}

// Renderer produces the visual form of diagram markup.
type Renderer interface {
	Render(ctx context.Context, diagram string, format Format) ([]byte, error)
}

type Image struct {
	Filename    string
	ContentType string
	Data        []byte
	ETag        string
}

type Exporter struct {
	renderer Renderer
}

func NewExporter(r Renderer) *Exporter {
	return &Exporter{renderer: r}
}

// Export renders the artifact held by snap. It never changes orchestrator
// state and refuses anything but a Ready snapshot.
func (e *Exporter) Export(ctx context.Context, snap orchestrator.Snapshot, format Format) (Image, error) {
	if snap.Status != orchestrator.StatusReady || !snap.HasArtifact() {
		return Image{}, zerr.With(zerr.Wrap(ErrNotReady, "export requires a ready diagram"), "status", snap.Status.String())
	}
	if format == "" {
		format = FormatSVG
	}
	if format != FormatSVG && format != FormatPNG {
		return Image{}, zerr.With(zerr.Wrap(ErrUnsupportedFormat, "unknown format"), "format", string(format))
	}
	data, err := e.renderer.Render(ctx, snap.Artifact.Diagram, format)
	if err != nil {
		return Image{}, zerr.With(zerr.Wrap(err, "render diagram"), "repo", snap.Identity.Key())
	}
	return Image{
		Filename:    fmt.Sprintf("%s-%s-diagram.%s", snap.Identity.Owner, snap.Identity.Repo, format),
		ContentType: format.ContentType(),
		Data:        data,
		ETag:        fmt.Sprintf(`"%016x"`, xxhash.Sum64(data)),
	}, nil
}
