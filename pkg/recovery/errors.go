package recovery

import (
	"fmt"
	"strings"

	"github.com/aretw0/blueprint/pkg/domain"
)

// ValidationError reports a stored record that could not be recovered.
// It matches domain.ErrInvalidRecord with errors.Is.
type ValidationError struct {
	SessionID   string
	Diagnostics []string
	Err         error
}

func (e *ValidationError) Error() string {
	id := e.SessionID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("invalid session record '%s': %s", id, strings.Join(e.Diagnostics, "; "))
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrInvalidRecord}
	}
	return []error{domain.ErrInvalidRecord, e.Err}
}
