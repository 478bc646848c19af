package stage

import (
	"fmt"
	"strings"

	"github.com/aretw0/blueprint/pkg/domain"
)

// Check is the result of CanEnter.
type Check struct {
	OK      bool
	Missing []string
}

// CanEnter checks that every prerequisite of id is populated in s.
// Missing keys are reported in prerequisite order.
func (g *Graph) CanEnter(id domain.StageID, s *domain.Session) Check {
	d, ok := g.Definition(id)
	if !ok {
		return Check{OK: false}
	}
	var missing []string
	for _, key := range d.Prerequisites {
		if !g.Populated(s, key) {
			missing = append(missing, key)
		}
	}
	return Check{OK: len(missing) == 0, Missing: missing}
}

// ValidateJump checks a manual jump from the session's stage to target.
// Backward jumps return domain.ErrBackwardJump; unmet prerequisites return a *domain.GateError.
// A jump to the current stage is allowed (no-op).
func (g *Graph) ValidateJump(s *domain.Session, target domain.StageID) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrUnknownStage, int(target))
	}
	if target < s.Stage {
		return fmt.Errorf("%w (from '%s' to '%s')", domain.ErrBackwardJump, s.Stage, target)
	}
	if check := g.CanEnter(target, s); !check.OK {
		return &domain.GateError{Stage: target, Missing: check.Missing}
	}
	return nil
}

// Rollback describes a forced transition performed by Sweep.
type Rollback struct {
	From    domain.StageID
	To      domain.StageID
	Missing []string
	Reason  string
}

// Sweep checks the session's current stage. When its prerequisites are unmet it
// returns the rollback target: the stage producing the earliest missing prerequisite.
// Sweep does not mutate s.
func (g *Graph) Sweep(s *domain.Session) (Rollback, bool) {
	if !s.Stage.Valid() {
		return Rollback{From: s.Stage, To: domain.FirstStage, Reason: fmt.Sprintf("stage %d does not exist", int(s.Stage))}, true
	}
	check := g.CanEnter(s.Stage, s)
	if check.OK {
		return Rollback{}, false
	}

	target := s.Stage
	for _, key := range check.Missing {
		if producer, ok := g.Producer(key); ok && producer < target {
			target = producer
		}
	}
	if target == s.Stage {
		// Unreachable with a validated graph; fall back to the first stage.
		target = domain.FirstStage
	}

	return Rollback{
		From:    s.Stage,
		To:      target,
		Missing: check.Missing,
		Reason: fmt.Sprintf("returned to '%s' because '%s' requires %s",
			target, s.Stage, strings.Join(check.Missing, ", ")),
	}, true
}
