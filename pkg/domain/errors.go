package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session ID cannot be found in a store.
var ErrSessionNotFound = errors.New("session not found")

// ErrUnknownStage is returned when a stage name or index is not part of the workflow.
var ErrUnknownStage = errors.New("unknown stage")

// ErrBackwardJump is returned when a manual jump targets an earlier stage.
// Only an explicit reset may move a session backwards.
var ErrBackwardJump = errors.New("cannot jump to an earlier stage; reset the session instead")

// ErrNoPendingConfirmation is returned when resolving while nothing awaits confirmation.
var ErrNoPendingConfirmation = errors.New("no pending confirmation")

// ErrInvalidRecord is returned when stored data cannot be recovered into a session.
var ErrInvalidRecord = errors.New("invalid session record")

// ErrPermissionDenied marks permanent storage failures (authorization/permission).
var ErrPermissionDenied = errors.New("permission denied")

// ErrUnavailable marks transient storage failures (connectivity).
var ErrUnavailable = errors.New("storage unavailable")

// ErrSuperseded is returned when a result belongs to a request that has been replaced.
var ErrSuperseded = errors.New("superseded by a newer request")

// GateError reports a stage whose prerequisites are not met.
type GateError struct {
	Stage   StageID
	Missing []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("cannot enter stage '%s': missing %s", e.Stage, strings.Join(e.Missing, ", "))
}

// QualityRejected describes an input that failed the quality heuristics.
// It is recoverable and never returned to callers as an error value.
type QualityRejected struct {
	Field   string
	Attempt int
	Hint    string
}

func (e *QualityRejected) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("input for '%s' needs refinement (attempt %d)", e.Field, e.Attempt)
	}
	return fmt.Sprintf("input for '%s' needs refinement (attempt %d): %s", e.Field, e.Attempt, e.Hint)
}

// OrphanStateError describes stale pending or sub-step state that was cleared automatically.
type OrphanStateError struct {
	Target string
	Reason string
}

func (e *OrphanStateError) Error() string {
	return fmt.Sprintf("cleared orphaned state for '%s': %s", e.Target, e.Reason)
}

// GenerationError wraps a failure of the language-generation collaborator.
type GenerationError struct {
	Kind string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation '%s' unavailable: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
