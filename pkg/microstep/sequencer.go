package microstep

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
)

const (
	DefaultSentinel  = "done"
	DefaultBackToken = "back"
)

// OutcomeKind describes what a sub-step input did to the pointer.
type OutcomeKind int

const (
	// Stayed means the input was not captured; the pointer did not move.
	Stayed OutcomeKind = iota
	// Advanced means the value was captured and the pointer moved forward.
	Advanced
	// Retreated means the pointer moved back and the value there was cleared.
	Retreated
	// Completed means the queue is exhausted (or truncated) and Draft holds the composite.
	Completed
)

func (k OutcomeKind) String() string {
	switch k {
	case Advanced:
		return "advanced"
	case Retreated:
		return "retreated"
	case Completed:
		return "completed"
	default:
		return "stayed"
	}
}

// Outcome is the result of one sub-step input.
type Outcome struct {
	Kind    OutcomeKind
	Address *domain.Address
	Draft   string
	Reason  string
}

// Sequencer walks the address queue of one decomposed stage.
// It mutates the session it is given; callers pass a clone when they need purity.
type Sequencer struct {
	stage    domain.StageID
	tmpl     Template
	sentinel string
	back     string
}

// Option configures the Sequencer.
type Option func(*Sequencer)

// WithSentinel sets the token that truncates list templates early.
func WithSentinel(token string) Option {
	return func(q *Sequencer) {
		q.sentinel = token
	}
}

// WithBackToken sets the token that moves the pointer back one address.
func WithBackToken(token string) Option {
	return func(q *Sequencer) {
		q.back = token
	}
}

// New creates a sequencer for stage. The template is assumed valid (see Template.Validate).
func New(stage domain.StageID, tmpl Template, opts ...Option) *Sequencer {
	q := &Sequencer{
		stage:    stage,
		tmpl:     tmpl,
		sentinel: DefaultSentinel,
		back:     DefaultBackToken,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Template returns the template the sequencer walks.
func (q *Sequencer) Template() Template { return q.tmpl }

// Owns reports whether addr is a valid address of this sequencer's queue.
func (q *Sequencer) Owns(addr *domain.Address) bool {
	return addr != nil && addr.Stage == q.stage && addr.Index >= 0 && addr.Index < q.tmpl.Len()
}

// Start positions the session at the first address. Previously captured
// sub-fields are kept so they can be reviewed and overwritten.
func (q *Sequencer) Start(s *domain.Session) domain.Address {
	addr := domain.Address{Stage: q.stage, Index: 0}
	s.SubStep = &addr
	return addr
}

// Next returns the address after addr, or false at the end of the queue.
func (q *Sequencer) Next(addr domain.Address) (domain.Address, bool) {
	if addr.Index+1 >= q.tmpl.Len() {
		return addr, false
	}
	return domain.Address{Stage: q.stage, Index: addr.Index + 1}, true
}

// Prev moves the session pointer to the address before addr and clears the value
// captured there so it can be re-entered. It returns false at the first address.
func (q *Sequencer) Prev(s *domain.Session, addr domain.Address) (domain.Address, bool) {
	if addr.Index <= 0 {
		return addr, false
	}
	prev := domain.Address{Stage: q.stage, Index: addr.Index - 1}
	s.Remove(q.tmpl.Key(prev.Index))
	s.SubStep = &prev
	return prev, true
}

// OnFieldCaptured writes value under the address key and advances the pointer.
// When the queue is exhausted the composite draft is synthesized and the pointer cleared.
func (q *Sequencer) OnFieldCaptured(s *domain.Session, addr domain.Address, value string, now time.Time) Outcome {
	s.Capture(q.tmpl.Key(addr.Index), value, now)

	next, ok := q.Next(addr)
	if !ok {
		s.SubStep = nil
		return Outcome{Kind: Completed, Draft: q.Synthesize(s)}
	}
	s.SubStep = &next
	return Outcome{Kind: Advanced, Address: &next}
}

// Handle applies one author input at the session's current sub-step address.
func (q *Sequencer) Handle(s *domain.Session, in domain.Input) Outcome {
	if !q.Owns(s.SubStep) {
		return Outcome{Kind: Stayed, Reason: "no active sub-step"}
	}
	addr := *s.SubStep
	text := strings.TrimSpace(in.Text)

	switch {
	case text == "":
		return Outcome{Kind: Stayed, Address: &addr, Reason: "empty input"}

	case q.back != "" && strings.EqualFold(text, q.back):
		prev, ok := q.Prev(s, addr)
		if !ok {
			return Outcome{Kind: Stayed, Address: &addr, Reason: "already at the first step"}
		}
		return Outcome{Kind: Retreated, Address: &prev}

	case q.tmpl.Layout == LayoutList && q.sentinel != "" && strings.EqualFold(text, q.sentinel):
		if q.capturedBefore(s, addr.Index) == 0 {
			return Outcome{Kind: Stayed, Address: &addr, Reason: fmt.Sprintf("capture at least one entry before '%s'", q.sentinel)}
		}
		q.truncate(s, addr.Index)
		s.SubStep = nil
		return Outcome{Kind: Completed, Draft: q.Synthesize(s)}
	}

	return q.OnFieldCaptured(s, addr, text, in.At)
}

// Captured counts the sub-fields with a non-empty value.
func (q *Sequencer) Captured(s *domain.Session) int {
	return q.capturedBefore(s, q.tmpl.Len())
}

func (q *Sequencer) capturedBefore(s *domain.Session, index int) int {
	n := 0
	for i := 0; i < index && i < q.tmpl.Len(); i++ {
		if s.Value(q.tmpl.Key(i)) != "" {
			n++
		}
	}
	return n
}

// truncate drops values at and after index (left over from an earlier pass).
func (q *Sequencer) truncate(s *domain.Session, index int) {
	for i := index; i < q.tmpl.Len(); i++ {
		s.Remove(q.tmpl.Key(i))
	}
}

// Synthesize joins the captured sub-fields into a deterministic composite draft.
// Rows without any value are skipped.
func (q *Sequencer) Synthesize(s *domain.Session) string {
	var lines []string
	label := q.tmpl.RowLabel
	if label == "" {
		label = "Item"
	}

	for row := 0; row < q.tmpl.Rows; row++ {
		if q.tmpl.Layout == LayoutList {
			if v := s.Value(q.tmpl.Key(row)); v != "" {
				lines = append(lines, fmt.Sprintf("%d. %s", len(lines)+1, v))
			}
			continue
		}

		var parts []string
		for col, c := range q.tmpl.Columns {
			v := s.Value(q.tmpl.Key(row*len(q.tmpl.Columns) + col))
			if v == "" {
				continue
			}
			name := c.Label
			if name == "" {
				name = c.Name
			}
			parts = append(parts, name+": "+v)
		}
		if len(parts) > 0 {
			lines = append(lines, fmt.Sprintf("%s %d: %s", label, row+1, strings.Join(parts, "; ")))
		}
	}
	return strings.Join(lines, "\n")
}

// Prompt describes the question for addr, including any value captured on an earlier pass.
func (q *Sequencer) Prompt(s *domain.Session, addr domain.Address) domain.Prompt {
	key := q.tmpl.Key(addr.Index)
	a := addr
	return domain.Prompt{
		Kind:    domain.PromptAskSubStep,
		Stage:   q.stage,
		Field:   key,
		Label:   q.tmpl.Label(addr.Index),
		Value:   s.Value(key),
		Address: &a,
	}
}
