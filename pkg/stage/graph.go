// Package stage defines the blueprint stage graph and its gate validator.
//
// Stages form a total order. Each stage lists the field keys that must be
// populated before it may be entered; those keys are produced by earlier stages.
// The gate validator answers CanEnter, rejects backward or premature jumps and
// sweeps a session back to the earliest unmet stage when prerequisites go missing.
package stage

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/microstep"
)

// Kind selects the handler used by the conversation machine for a stage.
type Kind int

const (
	// KindSingle captures one field through the quality gate.
	KindSingle Kind = iota
	// KindDecomposed walks a micro-step template and confirms a composite.
	KindDecomposed
	// KindTerminal has no input; reaching it completes the session.
	KindTerminal

	kindCount
)

// KindCount is the number of stage kinds, for handler tables.
const KindCount = int(kindCount)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindDecomposed:
		return "decomposed"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Definition describes one stage.
type Definition struct {
	ID    domain.StageID
	Kind  Kind
	Label string

	// Field is the output key of single stages (e.g. "topic1.value").
	Field string

	// Prerequisites are the ordered field keys that must be populated to enter.
	Prerequisites []string

	// Heuristics names the quality rule set applied to inputs of this stage.
	Heuristics string

	// AutoAccept commits high-quality input without asking for confirmation.
	AutoAccept bool

	// Template is set for decomposed stages.
	Template *microstep.Template
}

// Output returns the key this stage commits, or "" for terminal stages.
func (d Definition) Output() string {
	switch d.Kind {
	case KindSingle:
		return d.Field
	case KindDecomposed:
		if d.Template != nil {
			return d.Template.CompositeKey()
		}
	}
	return ""
}

// Graph is an immutable, validated stage graph.
type Graph struct {
	defs      []Definition
	producers map[string]domain.StageID
	minLength int
}

// Option configures a Graph.
type Option func(*Graph)

// WithMinLength sets the minimum-length bar (in characters) for prerequisite values.
func WithMinLength(n int) Option {
	return func(g *Graph) {
		g.minLength = n
	}
}

// DefaultMinLength is the minimum-length bar applied when none is configured.
const DefaultMinLength = 3

// NewGraph validates defs and builds a graph. Every domain stage must be defined
// exactly once, and every prerequisite must be the output of an earlier stage.
func NewGraph(defs []Definition, opts ...Option) (*Graph, error) {
	g := &Graph{
		defs:      make([]Definition, domain.StageCount),
		producers: make(map[string]domain.StageID),
		minLength: DefaultMinLength,
	}
	for _, opt := range opts {
		opt(g)
	}

	var errs []error
	seen := make(map[domain.StageID]bool, len(defs))
	for _, d := range defs {
		if !d.ID.Valid() {
			errs = append(errs, fmt.Errorf("%w: %d", domain.ErrUnknownStage, int(d.ID)))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("stage '%s' defined twice", d.ID))
			continue
		}
		seen[d.ID] = true
		g.defs[d.ID] = d
	}
	for _, id := range domain.AllStages() {
		if !seen[id] {
			errs = append(errs, fmt.Errorf("stage '%s' is not defined", id))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, d := range g.defs {
		switch d.Kind {
		case KindSingle:
			if d.Field == "" {
				errs = append(errs, fmt.Errorf("stage '%s': single stage needs a field", d.ID))
			}
		case KindDecomposed:
			if d.Template == nil {
				errs = append(errs, fmt.Errorf("stage '%s': decomposed stage needs a template", d.ID))
			} else if err := d.Template.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("stage '%s': %w", d.ID, err))
			}
		}
		for _, key := range d.Prerequisites {
			producer, ok := g.producers[key]
			if !ok || producer >= d.ID {
				errs = append(errs, fmt.Errorf("stage '%s': prerequisite %s is not produced by an earlier stage", d.ID, key))
			}
		}
		if out := d.Output(); out != "" {
			g.producers[out] = d.ID
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}

// Definition returns the definition of id.
func (g *Graph) Definition(id domain.StageID) (Definition, bool) {
	if !id.Valid() {
		return Definition{}, false
	}
	return g.defs[id], true
}

// Definitions returns all stages in order.
func (g *Graph) Definitions() []Definition {
	out := make([]Definition, len(g.defs))
	copy(out, g.defs)
	return out
}

// Next returns the stage after id, or false when id is the last stage.
func (g *Graph) Next(id domain.StageID) (domain.StageID, bool) {
	next := id + 1
	return next, next.Valid()
}

// Producer returns the stage whose output is key.
func (g *Graph) Producer(key string) (domain.StageID, bool) {
	id, ok := g.producers[key]
	return id, ok
}

// Outputs returns every committed output key in stage order.
func (g *Graph) Outputs() []string {
	var out []string
	for _, d := range g.defs {
		if key := d.Output(); key != "" {
			out = append(out, key)
		}
	}
	return out
}

// Populated reports whether the session holds a usable value for key: confirmed,
// non-empty and above the minimum-length bar. Forced values skip the length bar.
func (g *Graph) Populated(s *domain.Session, key string) bool {
	f, ok := s.Field(key)
	if !ok || !f.Confirmed {
		return false
	}
	v := strings.TrimSpace(f.Value)
	if v == "" {
		return false
	}
	return f.Forced || utf8.RuneCountInString(v) >= g.minLength
}

// Completion is the ratio of populated outputs to all outputs.
func (g *Graph) Completion(s *domain.Session) float64 {
	outputs := g.Outputs()
	if len(outputs) == 0 {
		return 1
	}
	done := 0
	for _, key := range outputs {
		if g.Populated(s, key) {
			done++
		}
	}
	return float64(done) / float64(len(outputs))
}
