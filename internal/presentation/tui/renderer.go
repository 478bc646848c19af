package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// Renderer turns snapshots into terminal output.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer creates a renderer that detects light/dark backgrounds.
// width <= 0 keeps glamour's default word wrap.
func NewRenderer(width int) (*Renderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{md: r}, nil
}

// Snapshot renders the session summary.
func (r *Renderer) Snapshot(snap domain.Snapshot) (string, error) {
	return r.md.Render(SnapshotMarkdown(snap))
}

// Markdown renders arbitrary markdown, e.g. a prompt.
func (r *Renderer) Markdown(text string) (string, error) {
	return r.md.Render(text)
}

// SnapshotMarkdown describes a snapshot as markdown.
func SnapshotMarkdown(snap domain.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Blueprint `%s`\n\n", snap.SessionID)
	fmt.Fprintf(&b, "**Stage:** %s  \n**Completion:** %.0f%%\n", snap.Stage, snap.Completion*100)
	if snap.LocalOnly {
		b.WriteString("\n> Saved on this device only. Remote sync is unavailable.\n")
	}

	if len(snap.Fields) > 0 {
		fields := append([]domain.CapturedField(nil), snap.Fields...)
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

		b.WriteString("\n| Field | Value | |\n|---|---|---|\n")
		for _, f := range fields {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", f.Key, cell(f.Value), marker(f))
		}
	}

	if p := snap.Pending; p != nil {
		fmt.Fprintf(&b, "\n**Awaiting confirmation** (%s):\n\n> %s\n", p.Target, strings.ReplaceAll(p.Value, "\n", "\n> "))
		if p.Hint != "" {
			fmt.Fprintf(&b, "\n_%s_\n", p.Hint)
		}
	}
	if snap.Complete {
		b.WriteString("\nThe blueprint is complete.\n")
	}
	return b.String()
}

func marker(f domain.CapturedField) string {
	switch {
	case f.Forced:
		return "forced"
	case f.Provenance == domain.ProvenanceSuggested:
		return "suggested"
	case f.Confirmed:
		return "confirmed"
	default:
		return "draft"
	}
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", "<br>")
}
