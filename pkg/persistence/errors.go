package persistence

import (
	"errors"
	"fmt"

	"github.com/aretw0/blueprint/pkg/domain"
)

// Class is the failure class of a storage error.
type Class string

const (
	// ClassPermanent covers authorization and permission failures. Never retried.
	ClassPermanent Class = "permanent"
	// ClassTransient covers connectivity failures. Retried with backoff.
	ClassTransient Class = "transient"
)

// Classify returns the failure class of err. Only errors wrapping
// domain.ErrPermissionDenied are permanent; connectivity errors and anything
// unrecognized are transient, so they end up in the sync queue instead of being dropped.
func Classify(err error) Class {
	if errors.Is(err, domain.ErrPermissionDenied) {
		return ClassPermanent
	}
	return ClassTransient
}

// PersistError reports a remote write that did not succeed.
type PersistError struct {
	Class     Class
	SessionID string
	Attempts  int
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist session '%s' failed (%s, %d attempts): %v", e.SessionID, e.Class, e.Attempts, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent PersistError.
func IsPermanent(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe) && pe.Class == ClassPermanent
}
