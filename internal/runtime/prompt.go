package runtime

import (
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/stage"
)

// Prompt describes the question the session is waiting on.
func (m *Machine) Prompt(s *domain.Session) domain.Prompt {
	d := m.definition(s)

	switch {
	case d.Kind == stage.KindTerminal:
		return domain.Prompt{Kind: domain.PromptComplete, Stage: s.Stage, Label: d.Label}

	case s.Pending != nil:
		p := s.Pending
		kind := domain.PromptConfirm
		if p.Composite {
			kind = domain.PromptConfirmComposite
		}
		return domain.Prompt{
			Kind:    kind,
			Stage:   s.Stage,
			Field:   p.Target,
			Label:   d.Label,
			Value:   p.Value,
			Hint:    p.Hint,
			Attempt: p.Attempts,
		}

	case d.Kind == stage.KindDecomposed:
		seq := m.sequencer(d.ID)
		addr := domain.Address{Stage: d.ID}
		if seq.Owns(s.SubStep) {
			addr = *s.SubStep
		}
		return seq.Prompt(s, addr)

	default:
		return domain.Prompt{
			Kind:    domain.PromptAskField,
			Stage:   s.Stage,
			Field:   d.Field,
			Label:   d.Label,
			Attempt: s.Rejections(d.Field),
		}
	}
}

// Snapshot builds the read model for rendering.
func (m *Machine) Snapshot(s *domain.Session) domain.Snapshot {
	d := m.definition(s)
	p := m.Prompt(s)
	fields := make([]domain.CapturedField, len(s.Fields))
	copy(fields, s.Fields)

	snap := domain.Snapshot{
		SessionID:  s.ID,
		Stage:      s.Stage,
		Completion: m.graph.Completion(s),
		Fields:     fields,
		Prompt:     &p,
		Complete:   d.Kind == stage.KindTerminal,
	}
	if s.Pending != nil {
		pending := *s.Pending
		snap.Pending = &pending
	}
	if s.SubStep != nil {
		addr := *s.SubStep
		snap.SubStep = &addr
	}
	return snap
}
