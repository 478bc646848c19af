package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/stage"
)

// Overlay marks session progress on the graph.
type Overlay struct {
	Completed []domain.StageID
	Current   domain.StageID
}

// OverlayFor derives the overlay of a session: every stage before the current one is completed.
func OverlayFor(snap domain.Snapshot) *Overlay {
	o := &Overlay{Current: snap.Stage}
	for _, id := range domain.AllStages() {
		if id >= snap.Stage {
			break
		}
		o.Completed = append(o.Completed, id)
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of the stage graph.
// Shapes follow the stage kind:
// - Single: [Rectangle]
// - Decomposed: [[Subroutine]]
// - Terminal: ((Circle))
// Edges are labelled with the field the source stage commits.
func GenerateMermaid(g *stage.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	defs := g.Definitions()
	for i, d := range defs {
		opener, closer := "[", "]"
		switch d.Kind {
		case stage.KindDecomposed:
			opener, closer = "[[", "]]"
		case stage.KindTerminal:
			opener, closer = "((", "))"
		}
		label := d.Label
		if label == "" {
			label = d.ID.String()
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", d.ID, opener, strings.ReplaceAll(label, "\"", "'"), closer))

		if i+1 < len(defs) {
			next := defs[i+1].ID
			if out := d.Output(); out != "" {
				sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n", d.ID, out, next))
			} else {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", d.ID, next))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef completed fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		for _, id := range overlay.Completed {
			sb.WriteString(fmt.Sprintf("    class %s completed;\n", id))
		}
		sb.WriteString(fmt.Sprintf("    class %s current;\n", overlay.Current))
	}

	return sb.String()
}
