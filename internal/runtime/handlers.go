package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/microstep"
	"github.com/aretw0/blueprint/pkg/stage"
)

// handleSingle runs the quality gate on the active field.
func (m *Machine) handleSingle(s *domain.Session, d stage.Definition, in domain.Input, res *Result) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return
	}
	key := d.Field

	if m.gate.ShouldForce(s, key) {
		m.commit(s, d, key, text, domain.ProvenanceUser, true, in.At, res)
		return
	}

	a, decision := m.gate.Evaluate(d.Heuristics, text, d.AutoAccept)
	switch decision {
	case domain.DecisionAcceptImmediate:
		m.commit(s, d, key, text, domain.ProvenanceUser, false, in.At, res)

	case domain.DecisionAwaitConfirm:
		s.Pending = &domain.PendingConfirmation{
			Target:     key,
			Stage:      d.ID,
			Value:      text,
			Attempts:   1,
			Quality:    a.Quality,
			Hint:       a.Hint,
			Provenance: domain.ProvenanceUser,
			CreatedAt:  in.At,
		}

	default:
		n := s.RecordRejection(key)
		rejected := &domain.QualityRejected{Field: key, Attempt: n, Hint: a.Hint}
		res.refine = rejected
		res.notify(domain.NoticeQualityRejected, key, rejected.Error(), in.At)
	}
}

// handleDecomposed reopens the sequencer of a section whose composite was already committed.
func (m *Machine) handleDecomposed(s *domain.Session, d stage.Definition, in domain.Input, res *Result) {
	m.sequencer(d.ID).Start(s)
	m.handleSubStep(s, d, in, res)
}

// handleTerminal ignores input: the session is complete.
func (m *Machine) handleTerminal(_ *domain.Session, _ stage.Definition, _ domain.Input, _ *Result) {}

// handleSubStep delegates to the micro-step sequencer. A completed queue becomes a
// single composite pending confirmation for the section.
func (m *Machine) handleSubStep(s *domain.Session, d stage.Definition, in domain.Input, res *Result) {
	seq := m.sequencer(d.ID)
	current := *s.SubStep
	out := seq.Handle(s, in)

	switch out.Kind {
	case microstep.Completed:
		a := m.gate.Assess(d.Heuristics, out.Draft)
		s.Pending = &domain.PendingConfirmation{
			Target:     seq.Template().CompositeKey(),
			Stage:      d.ID,
			Value:      out.Draft,
			Attempts:   1,
			Composite:  true,
			Quality:    a.Quality,
			Hint:       a.Hint,
			Provenance: domain.ProvenanceUser,
			CreatedAt:  in.At,
		}
	case microstep.Stayed:
		if out.Reason != "" {
			res.refine = &domain.QualityRejected{Field: seq.Template().Key(current.Index), Hint: out.Reason}
		}
	}
}

// handlePending classifies the answer to a pending confirmation.
func (m *Machine) handlePending(s *domain.Session, d stage.Definition, in domain.Input, res *Result) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return
	}
	p := s.Pending
	forced := m.gate.ShouldForce(s, p.Target)

	switch m.gate.Classify(text) {
	case domain.ReplyAffirm:
		m.commitPending(s, d, false, in.At, res)

	case domain.ReplyRefine:
		if forced {
			m.commitPending(s, d, true, in.At, res)
			return
		}
		m.refinePending(s, d, in.At, res)

	default:
		if forced {
			s.Pending = nil
			m.commit(s, d, p.Target, text, domain.ProvenanceUser, true, in.At, res)
			return
		}
		a := m.gate.Assess(d.Heuristics, text)
		p.Value = text
		p.Attempts++
		p.Quality = a.Quality
		p.Hint = a.Hint
		p.Provenance = domain.ProvenanceUser
		p.CreatedAt = in.At
	}
}

func (m *Machine) commitPending(s *domain.Session, d stage.Definition, forced bool, at time.Time, res *Result) {
	p := s.Pending
	s.Pending = nil
	m.commit(s, d, p.Target, p.Value, p.Provenance, forced, at, res)
}

// refinePending discards the pending value. A composite reopens its sequencer at the
// first address, keeping the captured sub-fields so they can be overwritten.
func (m *Machine) refinePending(s *domain.Session, d stage.Definition, at time.Time, res *Result) {
	p := s.Pending
	s.Pending = nil
	n := s.RecordRejection(p.Target)

	if p.Composite {
		if seq := m.sequencer(d.ID); seq != nil {
			seq.Start(s)
		}
		return
	}
	res.refine = &domain.QualityRejected{Field: p.Target, Attempt: n, Hint: p.Hint}
}

// commit confirms a value, advances past the stage when its output was committed
// and runs the consistency sweep.
func (m *Machine) commit(s *domain.Session, d stage.Definition, key, value string, prov domain.Provenance, forced bool, at time.Time, res *Result) {
	s.Commit(key, value, prov, forced, at)
	if seq := m.sequencer(d.ID); seq != nil && key == seq.Template().CompositeKey() {
		s.Confirm(at, seq.Template().Keys()...)
	}
	if forced {
		res.notify(domain.NoticeForcedAccept, key,
			fmt.Sprintf("accepted '%s' after %d attempts", key, m.gate.ForcedAcceptAfter()), at)
	}

	if key == d.Output() {
		if next, ok := m.graph.Next(d.ID); ok {
			m.enterStage(s, next, at, res)
		}
	}
	if rb, ok := m.graph.Sweep(s); ok {
		m.rollback(s, rb.To, rb.Reason, at, res)
	}
}

// enterStage moves the pointer to id. Attempt counters reset; a pending confirmation
// of another stage is orphaned; decomposed stages start their sequencer.
func (m *Machine) enterStage(s *domain.Session, id domain.StageID, at time.Time, res *Result) {
	if s.Pending != nil && s.Pending.Stage != id {
		m.clearOrphan(s, &domain.OrphanStateError{
			Target: s.Pending.Target,
			Reason: fmt.Sprintf("stage changed to '%s'", id),
		}, at, res)
	}
	s.Stage = id
	s.Pending = nil
	s.SubStep = nil
	s.Attempts = make(map[string]int)

	d := m.definition(s)
	if seq := m.sequencer(id); seq != nil && !m.graph.Populated(s, d.Output()) {
		seq.Start(s)
	}
}

func (m *Machine) rollback(s *domain.Session, to domain.StageID, reason string, at time.Time, res *Result) {
	m.logger.Info("Stage rollback", "session_id", s.ID, "stage", s.Stage.String(), "to", to.String(), "reason", reason)
	s.Pending = nil
	m.enterStage(s, to, at, res)
	res.notify(domain.NoticeStageRollback, "", reason, at)
}
