package runtime

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/microstep"
	"github.com/aretw0/blueprint/pkg/quality"
	"github.com/aretw0/blueprint/pkg/stage"
)

// handler processes an input for a stage with no active sub-step and no pending confirmation.
type handler func(m *Machine, s *domain.Session, d stage.Definition, in domain.Input, res *Result)

// Machine is the conversation state machine.
//
// Every operation is a pure function of (session, input, configuration): the input
// session is never mutated and time enters only through domain.Input.At.
type Machine struct {
	graph      *stage.Graph
	gate       *quality.Gate
	sequencers [domain.StageCount]*microstep.Sequencer
	handlers   [stage.KindCount]handler
	logger     *slog.Logger

	seqOpts []microstep.Option
}

// Option configures the Machine.
type Option func(*Machine)

// WithLogger sets the logger used for diagnostics (orphan clean-ups, rollbacks).
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithSequencerOptions configures the micro-step sequencers (sentinel and back tokens).
func WithSequencerOptions(opts ...microstep.Option) Option {
	return func(m *Machine) {
		m.seqOpts = append(m.seqOpts, opts...)
	}
}

// NewMachine creates a machine over a stage graph and a quality gate.
func NewMachine(graph *stage.Graph, gate *quality.Gate, opts ...Option) *Machine {
	m := &Machine{
		graph:  graph,
		gate:   gate,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.handlers = [stage.KindCount]handler{
		stage.KindSingle:     (*Machine).handleSingle,
		stage.KindDecomposed: (*Machine).handleDecomposed,
		stage.KindTerminal:   (*Machine).handleTerminal,
	}
	for _, d := range graph.Definitions() {
		if d.Kind == stage.KindDecomposed {
			m.sequencers[d.ID] = microstep.New(d.ID, *d.Template, m.seqOpts...)
		}
	}
	return m
}

// Graph returns the stage graph.
func (m *Machine) Graph() *stage.Graph { return m.graph }

// Gate returns the quality gate.
func (m *Machine) Gate() *quality.Gate { return m.gate }

func (m *Machine) definition(s *domain.Session) stage.Definition {
	d, _ := m.graph.Definition(s.Stage)
	return d
}

func (m *Machine) sequencer(id domain.StageID) *microstep.Sequencer {
	if !id.Valid() {
		return nil
	}
	return m.sequencers[id]
}

// Start returns the prompt for the session as it stands, after normalization.
func (m *Machine) Start(s *domain.Session, at time.Time) Result {
	next := s.Clone()
	res := Result{Session: next}
	m.normalize(next, at, &res)
	m.finish(s, next, at, &res)
	return res
}

// Transition applies one author input.
//
//  1. an active sub-step address delegates to the micro-step sequencer;
//  2. else a pending confirmation is resolved by the progress/refine detector;
//  3. else the stage handler runs the quality gate.
//
// Any commit is followed by the stage gate sweep.
func (m *Machine) Transition(s *domain.Session, in domain.Input) Result {
	next := s.Clone()
	res := Result{Session: next}
	m.normalize(next, in.At, &res)

	d := m.definition(next)
	switch {
	case next.SubStep != nil:
		m.handleSubStep(next, d, in, &res)
	case next.Pending != nil:
		m.handlePending(next, d, in, &res)
	default:
		m.handlers[d.Kind](m, next, d, in, &res)
	}

	m.finish(s, next, in.At, &res)
	return res
}

// Resolve answers the pending confirmation explicitly: accept commits it,
// otherwise it is discarded for refinement.
func (m *Machine) Resolve(s *domain.Session, accept bool, at time.Time) (Result, error) {
	next := s.Clone()
	res := Result{Session: next}
	m.normalize(next, at, &res)
	if next.Pending == nil {
		m.finish(s, next, at, &res)
		return res, domain.ErrNoPendingConfirmation
	}

	d := m.definition(next)
	if accept {
		m.commitPending(next, d, false, at, &res)
	} else {
		m.refinePending(next, d, at, &res)
	}
	m.finish(s, next, at, &res)
	return res, nil
}

// Propose sets a proposed value (e.g. a generated suggestion) as the pending
// confirmation for the active single-field stage.
func (m *Machine) Propose(s *domain.Session, value string, prov domain.Provenance, at time.Time) (Result, error) {
	next := s.Clone()
	res := Result{Session: next}
	m.normalize(next, at, &res)

	d := m.definition(next)
	value = strings.TrimSpace(value)
	if d.Kind != stage.KindSingle || next.SubStep != nil || value == "" {
		m.finish(s, next, at, &res)
		return res, fmt.Errorf("stage '%s' does not accept a proposed value now", next.Stage)
	}

	a := m.gate.Assess(d.Heuristics, value)
	next.Pending = &domain.PendingConfirmation{
		Target:     d.Field,
		Stage:      d.ID,
		Value:      value,
		Attempts:   1,
		Quality:    a.Quality,
		Hint:       a.Hint,
		Provenance: prov,
		CreatedAt:  at,
	}
	m.finish(s, next, at, &res)
	return res, nil
}

// Jump moves the session forward to target after validating its prerequisites.
// Jumping to the current stage is a no-op; jumping backwards returns domain.ErrBackwardJump.
// On rejection the session is unchanged and the result carries a jump_rejected notice.
func (m *Machine) Jump(s *domain.Session, target domain.StageID, at time.Time) (Result, error) {
	next := s.Clone()
	res := Result{Session: next}
	m.normalize(next, at, &res)

	if target == next.Stage {
		m.finish(s, next, at, &res)
		return res, nil
	}
	if err := m.graph.ValidateJump(next, target); err != nil {
		res.notify(domain.NoticeJumpRejected, "", err.Error(), at)
		m.finish(s, next, at, &res)
		return res, err
	}

	m.enterStage(next, target, at, &res)
	m.finish(s, next, at, &res)
	return res, nil
}

// Reset returns the session to the empty initial state with a new epoch.
func (m *Machine) Reset(s *domain.Session, at time.Time) Result {
	next := s.Reset(at)
	res := Result{Session: next}
	m.enterStage(next, domain.FirstStage, at, &res)
	res.add(domain.CommandPersist, nil)
	m.appendPrompt(next, &res)
	return res
}

// normalize clears orphaned state and enforces the stage invariants before any input is applied.
func (m *Machine) normalize(s *domain.Session, at time.Time, res *Result) {
	if !s.Stage.Valid() {
		m.rollback(s, domain.FirstStage, fmt.Sprintf("stage %d does not exist", int(s.Stage)), at, res)
	}

	if orphan := m.gate.CheckOrphan(s, at); orphan != nil {
		m.clearOrphan(s, orphan, at, res)
		s.Pending = nil
	}

	d := m.definition(s)
	seq := m.sequencer(s.Stage)
	if s.SubStep != nil && (seq == nil || !seq.Owns(s.SubStep)) {
		m.clearOrphan(s, &domain.OrphanStateError{
			Target: fmt.Sprintf("%s[%d]", s.SubStep.Stage, s.SubStep.Index),
			Reason: fmt.Sprintf("sub-step is not part of stage '%s'", s.Stage),
		}, at, res)
		s.SubStep = nil
	}
	if s.SubStep != nil && s.Pending != nil {
		// At most one of the two may be active; the sub-step wins.
		m.clearOrphan(s, &domain.OrphanStateError{Target: s.Pending.Target, Reason: "sub-step in progress"}, at, res)
		s.Pending = nil
	}
	if d.Kind == stage.KindDecomposed && s.SubStep == nil && s.Pending == nil && !m.graph.Populated(s, d.Output()) {
		seq.Start(s)
	}

	if rb, ok := m.graph.Sweep(s); ok {
		m.rollback(s, rb.To, rb.Reason, at, res)
	}
}

func (m *Machine) clearOrphan(s *domain.Session, orphan *domain.OrphanStateError, at time.Time, res *Result) {
	m.logger.Debug("Cleared orphaned state", "session_id", s.ID, "stage", s.Stage.String(), "field", orphan.Target, "reason", orphan.Reason)
	res.notify(domain.NoticeOrphanCleared, orphan.Target, orphan.Error(), at)
}

// finish stamps the session, appends the persist command when anything changed and the next prompt.
func (m *Machine) finish(prev, next *domain.Session, at time.Time, res *Result) {
	// Rejection counters are not part of the client diff but must survive restarts.
	if domain.Diff(prev, next) != nil || !maps.Equal(prev.Attempts, next.Attempts) {
		next.UpdatedAt = at
		res.add(domain.CommandPersist, nil)
	}
	m.appendPrompt(next, res)
}

func (m *Machine) appendPrompt(s *domain.Session, res *Result) {
	p := m.Prompt(s)
	if res.refine != nil && p.Field == res.refine.Field {
		switch p.Kind {
		case domain.PromptAskField:
			p.Kind = domain.PromptRefine
			p.Hint = res.refine.Hint
			p.Attempt = res.refine.Attempt
		case domain.PromptAskSubStep:
			p.Hint = res.refine.Hint
		}
	}
	res.add(domain.CommandPrompt, p)

	if p.Kind == domain.PromptComplete {
		return
	}
	kind := domain.GenerationPrompt
	switch p.Kind {
	case domain.PromptRefine:
		kind = domain.GenerationSuggest
	case domain.PromptConfirmComposite:
		kind = domain.GenerationComposite
	}
	res.add(domain.CommandGenerate, domain.GenerationRequest{
		Kind:   kind,
		Stage:  s.Stage,
		Field:  p.Field,
		Input:  p.Value,
		Fields: confirmedValues(s),
	})
}

func confirmedValues(s *domain.Session) map[string]string {
	out := make(map[string]string)
	for _, f := range s.Fields {
		if f.Confirmed {
			out[f.Key] = f.Value
		}
	}
	return out
}
