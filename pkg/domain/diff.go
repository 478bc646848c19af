package domain

// SessionDiff represents the changes between two sessions.
// It is designed to be serialized to JSON for partial updates on the client.
type SessionDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	Stage *StageID `json:"stage,omitempty"`

	// Fields contains only changed, added or deleted entries keyed by field key.
	// For deletions, the key is present with a nil value.
	Fields map[string]*CapturedField `json:"fields,omitempty"`

	// PendingChanged is true when the pending confirmation was set, replaced or cleared.
	// Pending carries the new value (nil when cleared).
	PendingChanged bool                 `json:"pending_changed,omitempty"`
	Pending        *PendingConfirmation `json:"pending,omitempty"`

	SubStepChanged bool     `json:"sub_step_changed,omitempty"`
	SubStep        *Address `json:"sub_step,omitempty"`

	// Reset is set when the epoch moved, meaning clients must drop local state.
	Reset bool `json:"reset,omitempty"`
}

// Diff calculates the difference between oldSession and newSession.
// If oldSession is nil, it returns a diff representing the entire newSession (initial load).
// It returns nil when nothing changed.
func Diff(oldSession, newSession *Session) *SessionDiff {
	if newSession == nil {
		return nil
	}

	diff := &SessionDiff{SessionID: newSession.ID}

	if oldSession == nil || oldSession.Stage != newSession.Stage {
		stage := newSession.Stage
		diff.Stage = &stage
	}
	if oldSession != nil && oldSession.Epoch != newSession.Epoch {
		diff.Reset = true
	}

	diff.Fields = diffFields(oldSession, newSession)

	var oldPending *PendingConfirmation
	var oldSub *Address
	if oldSession != nil {
		oldPending = oldSession.Pending
		oldSub = oldSession.SubStep
	}
	if !samePending(oldPending, newSession.Pending) {
		diff.PendingChanged = true
		diff.Pending = newSession.Pending
	}
	if !sameAddress(oldSub, newSession.SubStep) {
		diff.SubStepChanged = true
		diff.SubStep = newSession.SubStep
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffFields(old, new *Session) map[string]*CapturedField {
	delta := make(map[string]*CapturedField)

	for i := range new.Fields {
		f := new.Fields[i]
		if old == nil {
			delta[f.Key] = &f
			continue
		}
		prev, exists := old.Field(f.Key)
		if !exists || prev.Value != f.Value || prev.Confirmed != f.Confirmed {
			delta[f.Key] = &f
		}
	}

	// Check for Deletions
	if old != nil {
		for _, f := range old.Fields {
			if _, exists := new.Field(f.Key); !exists {
				delta[f.Key] = nil
			}
		}
	}

	// Return nil if delta is empty so omitempty can remove the key
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func samePending(a, b *PendingConfirmation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Target == b.Target && a.Value == b.Value && a.Attempts == b.Attempts && a.Composite == b.Composite
}

func sameAddress(a, b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *SessionDiff) IsEmpty() bool {
	return d.Stage == nil &&
		len(d.Fields) == 0 &&
		!d.PendingChanged &&
		!d.SubStepChanged &&
		!d.Reset
}
