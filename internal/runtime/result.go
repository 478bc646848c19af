package runtime

import (
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
)

// Result is the output of one transition: the next session and the side-effects
// the host must perform, in order.
type Result struct {
	Session  *domain.Session
	Commands []domain.Command

	// refine carries the rejection of this turn into the prompt.
	refine *domain.QualityRejected
}

func (r *Result) add(t domain.CommandType, payload any) {
	r.Commands = append(r.Commands, domain.Command{Type: t, Payload: payload})
}

func (r *Result) notify(kind domain.NoticeKind, field, message string, at time.Time) {
	r.add(domain.CommandNotify, domain.Notice{
		Kind:      kind,
		SessionID: r.Session.ID,
		Field:     field,
		Message:   message,
		At:        at,
	})
}

// Prompt returns the last prompt command, if any.
func (r Result) Prompt() *domain.Prompt {
	for i := len(r.Commands) - 1; i >= 0; i-- {
		if p, ok := r.Commands[i].Payload.(domain.Prompt); ok && r.Commands[i].Type == domain.CommandPrompt {
			return &p
		}
	}
	return nil
}

// Notices returns every notice in command order.
func (r Result) Notices() []domain.Notice {
	var out []domain.Notice
	for _, c := range r.Commands {
		if n, ok := c.Payload.(domain.Notice); ok && c.Type == domain.CommandNotify {
			out = append(out, n)
		}
	}
	return out
}

// Generation returns the generation request, if any.
func (r Result) Generation() *domain.GenerationRequest {
	for _, c := range r.Commands {
		if req, ok := c.Payload.(domain.GenerationRequest); ok && c.Type == domain.CommandGenerate {
			return &req
		}
	}
	return nil
}

// NeedsPersist reports whether the host must persist the session.
func (r Result) NeedsPersist() bool {
	for _, c := range r.Commands {
		if c.Type == domain.CommandPersist {
			return true
		}
	}
	return false
}
