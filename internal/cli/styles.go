package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"gitdiagram/internal/orchestrator"
)

var (
	colorGreen  = lipgloss.Color("#22A06B")
	colorRed    = lipgloss.Color("#D93025")
	colorYellow = lipgloss.Color("#F59E0B")
	colorSlate  = lipgloss.Color("#667085")
	colorIris   = lipgloss.Color("#8B5CF6")
)

const (
	iconCheck   = "✓"
	iconCross   = "✗"
	iconWarning = "!"
	iconDot     = "●"
)

// styles renders for the writer it was created with, so colors are dropped
// when output is not a terminal.
type styles struct {
	ok      lipgloss.Style
	bad     lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

func newStyles(w io.Writer) *styles {
	r := lipgloss.NewRenderer(w)
	return &styles{
		ok:      r.NewStyle().Foreground(colorGreen),
		bad:     r.NewStyle().Foreground(colorRed).Bold(true),
		warn:    r.NewStyle().Foreground(colorYellow),
		muted:   r.NewStyle().Foreground(colorSlate),
		heading: r.NewStyle().Foreground(colorIris).Bold(true),
	}
}

func (s *styles) status(snap orchestrator.Snapshot) string {
	label := snap.Status.String()
	switch snap.Status {
	case orchestrator.StatusReady:
		line := s.ok.Render(iconCheck+" "+label) + " " + s.muted.Render(snap.Identity.Key())
		if snap.FromCache {
			line += s.muted.Render(" (cached)")
		}
		return line
	case orchestrator.StatusFailed:
		return s.bad.Render(iconCross + " " + label)
	case orchestrator.StatusNeedsAPIKey:
		return s.warn.Render(iconWarning + " " + label)
	default:
		return s.muted.Render(iconDot + " " + label)
	}
}

func (s *styles) failure(msg string) string { return s.bad.Render(iconCross + " " + msg) }
func (s *styles) warning(msg string) string { return s.warn.Render(iconWarning + " " + msg) }
func (s *styles) hint(msg string) string    { return s.muted.Render(msg) }
func (s *styles) title(msg string) string   { return s.heading.Render(msg) }
